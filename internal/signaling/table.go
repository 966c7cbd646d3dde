package signaling

import (
	"sort"
	"time"
)

// Status is the lifecycle state of a stream session.
type Status string

const (
	StatusStarting Status = "STARTING"
	StatusLive     Status = "LIVE"
	StatusEnded    Status = "ENDED"
)

// StreamSession is the in-memory truth for one stream: who broadcasts, who watches.
type StreamSession struct {
	StreamID          string
	BroadcasterUserID string
	BroadcasterHandle string
	Viewers           map[string]struct{}
	Status            Status
	StartedAt         time.Time
	PeakViewers       int
}

func newStreamSession(streamID string, now time.Time) *StreamSession {
	return &StreamSession{
		StreamID:  streamID,
		Viewers:   make(map[string]struct{}),
		Status:    StatusStarting,
		StartedAt: now,
	}
}

// AddViewer adds handle to the audience and returns the new count and
// whether the peak was raised.
func (s *StreamSession) AddViewer(handle string) (count int, peakRaised bool) {
	s.Viewers[handle] = struct{}{}
	count = len(s.Viewers)
	if count > s.PeakViewers {
		s.PeakViewers = count
		peakRaised = true
	}
	return count, peakRaised
}

// RemoveViewer drops handle from the audience. PeakViewers is left alone.
func (s *StreamSession) RemoveViewer(handle string) bool {
	if _, ok := s.Viewers[handle]; !ok {
		return false
	}
	delete(s.Viewers, handle)
	return true
}

// HasViewer reports whether handle is watching this stream.
func (s *StreamSession) HasViewer(handle string) bool {
	_, ok := s.Viewers[handle]
	return ok
}

// ViewerHandles returns the audience in a stable order.
func (s *StreamSession) ViewerHandles() []string {
	out := make([]string, 0, len(s.Viewers))
	for h := range s.Viewers {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Snapshot is a read-only copy of a StreamSession.
type Snapshot struct {
	StreamID          string    `json:"stream_id"`
	BroadcasterUserID string    `json:"broadcaster_user_id,omitempty"`
	BroadcasterHandle string    `json:"broadcaster_handle,omitempty"`
	Viewers           []string  `json:"viewers"`
	ViewerCount       int       `json:"viewer_count"`
	Status            Status    `json:"status"`
	StartedAt         time.Time `json:"started_at"`
	PeakViewers       int       `json:"peak_viewers"`
}

func (s *StreamSession) snapshot() Snapshot {
	viewers := s.ViewerHandles()
	return Snapshot{
		StreamID:          s.StreamID,
		BroadcasterUserID: s.BroadcasterUserID,
		BroadcasterHandle: s.BroadcasterHandle,
		Viewers:           viewers,
		ViewerCount:       len(viewers),
		Status:            s.Status,
		StartedAt:         s.StartedAt,
		PeakViewers:       s.PeakViewers,
	}
}

// Table maps stream IDs to their live sessions. Ended sessions are removed.
// It is not safe for concurrent use; the Coordinator guards it.
type Table struct {
	streams map[string]*StreamSession
}

// NewTable creates an empty stream state table.
func NewTable() *Table {
	return &Table{streams: make(map[string]*StreamSession)}
}

// Get returns the session for streamID, or nil.
func (t *Table) Get(streamID string) *StreamSession {
	return t.streams[streamID]
}

// GetOrCreate returns the session for streamID, creating a STARTING placeholder if absent.
func (t *Table) GetOrCreate(streamID string, now time.Time) (s *StreamSession, created bool) {
	if s = t.streams[streamID]; s != nil {
		return s, false
	}
	s = newStreamSession(streamID, now)
	t.streams[streamID] = s
	return s, true
}

// Delete removes the session for streamID.
func (t *Table) Delete(streamID string) {
	delete(t.streams, streamID)
}

// Len returns the number of sessions in the table.
func (t *Table) Len() int {
	return len(t.streams)
}

// Snapshots returns copies of every session ordered by stream ID.
func (t *Table) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(t.streams))
	for _, s := range t.streams {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamID < out[j].StreamID })
	return out
}
