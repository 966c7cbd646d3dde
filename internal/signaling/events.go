package signaling

import "encoding/json"

// Inbound socket events. The names are the wire contract with existing clients.
const (
	EventJoin             = "stream:join"
	EventLeave            = "stream:leave"
	EventOffer            = "offer"
	EventAnswer           = "answer"
	EventICECandidate     = "ice-candidate"
	EventBroadcasterReady = "broadcaster-ready"
	EventRequestStream    = "request-stream"
	EventStartStream      = "start-stream"
	EventStopStream       = "stop-stream"
	EventQualityChange    = "stream-quality-change"
)

// inbound is the set of event names a client may send; anything else is labelled "unknown".
var inbound = map[string]bool{
	EventJoin:             true,
	EventLeave:            true,
	EventOffer:            true,
	EventAnswer:           true,
	EventICECandidate:     true,
	EventBroadcasterReady: true,
	EventRequestStream:    true,
	EventStartStream:      true,
	EventStopStream:       true,
	EventQualityChange:    true,
	EventDisconnect:       true,
}

// eventLabel bounds metric label values to the known event names.
func eventLabel(event string) string {
	if inbound[event] {
		return event
	}
	return "unknown"
}

// Outbound socket events.
const (
	EventBroadcasterJoined    = "broadcaster-joined"
	EventBroadcasterAvailable = "broadcaster-available"
	EventBroadcasterLeft      = "broadcaster-left"
	EventViewerJoined         = "viewer-joined"
	EventViewerCountUpdate    = "viewer-count-update"
	EventStreamStarted        = "stream-started"
	EventStreamEnded          = "stream-ended"
	EventStreamNotAvailable   = "stream-not-available"
	EventStreamNotFound       = "stream-not-found"
	EventStreamRequest        = "stream-request"
	EventQualityChanged       = "quality-changed"
	EventError                = "error"
)

// Error codes carried by the outbound error event.
const (
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeNotFound          = "NOT_FOUND"
	CodeProtocolViolation = "PROTOCOL_VIOLATION"
	CodeBadRequest        = "BAD_REQUEST"
)

// JoinPayload is the body of stream:join.
type JoinPayload struct {
	StreamID string `json:"streamId"`
	IsOwner  bool   `json:"isOwner"`
}

// LeavePayload is the body of stream:leave.
type LeavePayload struct {
	StreamID string `json:"streamId"`
}

// SignalPayload is the inbound body of offer, answer and ice-candidate.
// Exactly one of Offer, Answer or Candidate is expected, matching the event name.
type SignalPayload struct {
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	TargetID  string          `json:"targetId"`
}

// RelayedSignal is what the target of a signaling message receives.
type RelayedSignal struct {
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	SenderID  string          `json:"senderId"`
}

// QualityPayload is the body of stream-quality-change and quality-changed.
type QualityPayload struct {
	Quality string `json:"quality"`
	Bitrate *int   `json:"bitrate,omitempty"`
}

// ViewerJoinedPayload is sent to the broadcaster when a viewer arrives.
type ViewerJoinedPayload struct {
	ViewerID     string `json:"viewerId"`
	TotalViewers int    `json:"totalViewers"`
}

// ViewerCountPayload is fanned out to the room whenever the audience changes.
type ViewerCountPayload struct {
	Count int `json:"count"`
}

// StreamRequestPayload asks the broadcaster to start negotiating with a viewer.
type StreamRequestPayload struct {
	ViewerID string `json:"viewerId"`
}

// ErrorPayload is the body of the outbound error event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
