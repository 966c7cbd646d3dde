package signaling

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// relay forwards an offer, answer or ICE candidate to the handle named in targetId.
// The payload is passed through untouched and tagged with the sender's handle.
func (c *Coordinator) relay(handle, event string, data json.RawMessage) error {
	var p SignalPayload
	if err := decode(data, &p); err != nil {
		return c.reject(handle, event, fmt.Errorf("%w: %s: %v", ErrBadRequest, event, err))
	}
	if p.TargetID == "" {
		return c.reject(handle, event, fmt.Errorf("%w: %s needs targetId", ErrBadRequest, event))
	}

	out := RelayedSignal{SenderID: handle}
	switch event {
	case EventOffer:
		out.Offer = p.Offer
	case EventAnswer:
		out.Answer = p.Answer
	case EventICECandidate:
		out.Candidate = p.Candidate
	}

	c.mu.Lock()
	sess, ok := c.registry.Lookup(handle)
	if !ok || sess.StreamID == "" {
		c.mu.Unlock()
		return c.reject(handle, event, fmt.Errorf("%w: %s from a connection with no stream", ErrProtocolViolation, event))
	}
	if s := c.table.Get(sess.StreamID); s == nil || (s.BroadcasterHandle != handle && !s.HasViewer(handle)) {
		c.mu.Unlock()
		return c.reject(handle, event, fmt.Errorf("%w: %s from a connection outside the live session", ErrProtocolViolation, event))
	}
	c.notifier.SendTo(p.TargetID, event, out)
	c.mu.Unlock()

	c.logger.Debug("signal relayed",
		zap.String("event", event),
		zap.String("stream_id", sess.StreamID),
		zap.String("handle", handle),
		zap.String("target", p.TargetID))
	return nil
}
