// Package signaling coordinates live stream sessions: who is broadcasting, who is watching,
// and the relay of WebRTC negotiation payloads between them.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/livesignal/internal/metrics"
)

// DefaultVerifyTimeout bounds the ownership check of a broadcaster join.
const DefaultVerifyTimeout = 5 * time.Second

// Notifier delivers outbound events to connections. Implementations must not block.
type Notifier interface {
	SendTo(handle, event string, payload interface{})
	BroadcastRoom(streamID, event string, payload interface{})
	JoinRoom(streamID, handle string)
	LeaveRoom(streamID, handle string)
}

// Bridge mirrors lifecycle and audience changes into the durable store.
// VerifyOwnership is the only call the Coordinator waits on; the rest must return immediately.
type Bridge interface {
	VerifyOwnership(ctx context.Context, streamID, userID string) (bool, error)
	UpdateStatus(streamID string, status Status, at time.Time)
	RecordViewerJoin(streamID, userID, handle string, at time.Time)
	RecordViewerLeave(streamID, handle string, at time.Time)
	UpdatePeakViewers(streamID string, count int)
}

// Conn identifies the connection an inbound event came from.
type Conn struct {
	Handle string
	UserID string
}

// Options configures a Coordinator.
type Options struct {
	VerifyTimeout time.Duration
	Logger        *zap.Logger
	Now           func() time.Time
}

// Coordinator owns the Session Registry and the Stream State Table.
// Events are serialized per stream ID; different streams proceed in parallel.
// Both tables share one mutex that is never held across the ownership check.
type Coordinator struct {
	mu       sync.Mutex
	registry *Registry
	table    *Table

	lanes         *lanes
	notifier      Notifier
	bridge        Bridge
	verifyTimeout time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

// NewCoordinator creates a coordinator that notifies through n and persists through b.
func NewCoordinator(n Notifier, b Bridge, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = DefaultVerifyTimeout
	}
	return &Coordinator{
		registry:      NewRegistry(),
		table:         NewTable(),
		lanes:         newLanes(),
		notifier:      n,
		bridge:        b,
		verifyTimeout: opts.VerifyTimeout,
		logger:        opts.Logger,
		now:           opts.Now,
	}
}

// Dispatch handles one inbound event and returns once it has been applied.
// Per-connection ordering is preserved by callers dispatching serially.
// The returned error is informational; the client has already been notified.
func (c *Coordinator) Dispatch(ctx context.Context, conn Conn, event string, data json.RawMessage) error {
	metrics.EventsTotal.WithLabelValues(eventLabel(event)).Inc()

	var key string
	var run func(context.Context) error

	switch event {
	case EventJoin:
		var p JoinPayload
		if err := decode(data, &p); err != nil || p.StreamID == "" {
			return c.reject(conn.Handle, event, fmt.Errorf("%w: stream:join needs streamId", ErrBadRequest))
		}
		key = p.StreamID
		run = func(ctx context.Context) error { return c.join(ctx, conn, p) }
	case EventLeave:
		var p LeavePayload
		_ = decode(data, &p)
		key = p.StreamID
		if key == "" {
			key = c.streamOf(conn.Handle)
		}
		run = func(context.Context) error { c.leave(conn.Handle, p.StreamID); return nil }
	case EventDisconnect:
		key = c.streamOf(conn.Handle)
		run = func(context.Context) error { c.leave(conn.Handle, ""); return nil }
	default:
		key = c.streamOf(conn.Handle)
		if key == "" {
			return c.unassociated(conn.Handle, event)
		}
		run = func(context.Context) error { return c.route(conn, event, data) }
	}

	if key == "" {
		return nil
	}
	done := make(chan error, 1)
	c.lanes.submit(key, func() {
		done <- c.safely(conn.Handle, event, func() error { return run(ctx) })
	})
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EventDisconnect is the internal event used for transport-level disconnects.
const EventDisconnect = "disconnect"

// Disconnect runs cleanup for handle. It is called on every connection exit path.
func (c *Coordinator) Disconnect(handle string) {
	_ = c.Dispatch(context.Background(), Conn{Handle: handle}, EventDisconnect, nil)
}

// Snapshot returns a copy of the session for streamID.
func (c *Coordinator) Snapshot(streamID string) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.table.Get(streamID)
	if s == nil {
		return Snapshot{}, false
	}
	return s.snapshot(), true
}

// Snapshots returns copies of every stream in the table.
func (c *Coordinator) Snapshots() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.table.Snapshots()
}

// Session returns the registry entry for handle.
func (c *Coordinator) Session(handle string) (ConnectionSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Lookup(handle)
}

func (c *Coordinator) streamOf(handle string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.registry.Lookup(handle)
	if !ok {
		return ""
	}
	return s.StreamID
}

func (c *Coordinator) route(conn Conn, event string, data json.RawMessage) error {
	switch event {
	case EventBroadcasterReady:
		return c.goLive(conn.Handle, false)
	case EventStartStream:
		return c.goLive(conn.Handle, true)
	case EventStopStream:
		return c.stop(conn.Handle)
	case EventRequestStream:
		return c.requestStream(conn.Handle)
	case EventQualityChange:
		return c.changeQuality(conn.Handle, data)
	case EventOffer, EventAnswer, EventICECandidate:
		return c.relay(conn.Handle, event, data)
	default:
		return c.violation(conn.Handle, event, "unknown event")
	}
}

// unassociated handles events from a connection that has not joined any stream.
func (c *Coordinator) unassociated(handle, event string) error {
	switch event {
	case EventRequestStream:
		c.notifier.SendTo(handle, EventStreamNotFound, nil)
		return ErrNotFound
	case EventOffer, EventAnswer, EventICECandidate:
		return c.reject(handle, event, fmt.Errorf("%w: %s from a connection with no stream", ErrProtocolViolation, event))
	default:
		return c.violation(handle, event, "no stream association")
	}
}

func (c *Coordinator) join(ctx context.Context, conn Conn, p JoinPayload) error {
	if p.IsOwner {
		return c.joinBroadcaster(ctx, conn, p.StreamID)
	}
	c.joinViewer(conn, p.StreamID)
	return nil
}

func (c *Coordinator) joinBroadcaster(ctx context.Context, conn Conn, streamID string) error {
	if conn.UserID == "" || conn.UserID == AnonymousUserID {
		metrics.AuthorizationFailuresTotal.Inc()
		return c.reject(conn.Handle, EventJoin, fmt.Errorf("%w: anonymous connections cannot broadcast", ErrUnauthorized))
	}

	vctx, cancel := context.WithTimeout(ctx, c.verifyTimeout)
	ok, err := c.bridge.VerifyOwnership(vctx, streamID, conn.UserID)
	cancel()
	if err != nil || !ok {
		metrics.AuthorizationFailuresTotal.Inc()
		if err != nil {
			c.logger.Warn("ownership verification failed",
				zap.String("stream_id", streamID), zap.String("user_id", conn.UserID), zap.Error(err))
		}
		return c.reject(conn.Handle, EventJoin, fmt.Errorf("%w: not the owner of stream %s", ErrUnauthorized, streamID))
	}

	c.mu.Lock()
	left := c.detach(conn.Handle, streamID, RoleBroadcaster)
	s, created := c.table.GetOrCreate(streamID, c.now())
	if created {
		metrics.ActiveStreams.Inc()
	}
	previous := s.BroadcasterHandle
	s.BroadcasterHandle = conn.Handle
	s.BroadcasterUserID = conn.UserID
	c.registry.Register(conn.Handle, conn.UserID, RoleBroadcaster, streamID)
	c.notifier.JoinRoom(streamID, conn.Handle)
	for _, v := range s.ViewerHandles() {
		c.notifier.SendTo(v, EventBroadcasterJoined, nil)
	}
	c.mu.Unlock()

	c.persistDetach(left)
	c.logger.Info("broadcaster joined",
		zap.String("stream_id", streamID),
		zap.String("handle", conn.Handle),
		zap.String("user_id", conn.UserID),
		zap.Bool("reconnect", !created && previous != ""))
	return nil
}

func (c *Coordinator) joinViewer(conn Conn, streamID string) {
	userID := conn.UserID
	if userID == "" {
		userID = AnonymousUserID
	}
	now := c.now()

	c.mu.Lock()
	left := c.detach(conn.Handle, streamID, RoleViewer)
	s, created := c.table.GetOrCreate(streamID, now)
	if created {
		metrics.ActiveStreams.Inc()
	}
	already := s.HasViewer(conn.Handle)
	count, peakRaised := s.AddViewer(conn.Handle)
	if !already {
		metrics.ActiveViewers.Inc()
	}
	c.registry.Register(conn.Handle, userID, RoleViewer, streamID)
	c.notifier.JoinRoom(streamID, conn.Handle)
	if s.Status == StatusLive {
		c.notifier.SendTo(conn.Handle, EventBroadcasterAvailable, nil)
	}
	if s.BroadcasterHandle != "" {
		c.notifier.SendTo(s.BroadcasterHandle, EventViewerJoined, ViewerJoinedPayload{
			ViewerID:     conn.Handle,
			TotalViewers: count,
		})
	}
	c.notifier.BroadcastRoom(streamID, EventViewerCountUpdate, ViewerCountPayload{Count: count})
	peak := s.PeakViewers
	c.mu.Unlock()

	c.persistDetach(left)
	if !already {
		c.bridge.RecordViewerJoin(streamID, userID, conn.Handle, now)
	}
	if peakRaised {
		c.bridge.UpdatePeakViewers(streamID, peak)
	}
	c.logger.Debug("viewer joined",
		zap.String("stream_id", streamID), zap.String("handle", conn.Handle), zap.Int("viewers", count))
}

func (c *Coordinator) goLive(handle string, announce bool) error {
	c.mu.Lock()
	sess, _ := c.registry.Lookup(handle)
	s := c.table.Get(sess.StreamID)
	if s == nil || s.BroadcasterHandle != handle {
		c.mu.Unlock()
		return c.violation(handle, eventForLive(announce), "sender is not the current broadcaster")
	}
	transitioned := s.Status != StatusLive
	s.Status = StatusLive
	if transitioned {
		metrics.LiveStreams.Inc()
	}
	if announce {
		c.notifier.BroadcastRoom(s.StreamID, EventStreamStarted, nil)
	}
	for _, v := range s.ViewerHandles() {
		c.notifier.SendTo(v, EventBroadcasterAvailable, nil)
	}
	streamID, startedAt := s.StreamID, s.StartedAt
	c.mu.Unlock()

	if transitioned {
		c.bridge.UpdateStatus(streamID, StatusLive, startedAt)
		c.logger.Info("stream live", zap.String("stream_id", streamID), zap.String("handle", handle))
	}
	return nil
}

func eventForLive(announce bool) string {
	if announce {
		return EventStartStream
	}
	return EventBroadcasterReady
}

func (c *Coordinator) stop(handle string) error {
	c.mu.Lock()
	sess, _ := c.registry.Lookup(handle)
	s := c.table.Get(sess.StreamID)
	if s == nil || s.BroadcasterHandle != handle {
		c.mu.Unlock()
		return c.violation(handle, EventStopStream, "sender is not the current broadcaster")
	}
	c.end(s, EventStreamEnded)
	c.mu.Unlock()

	c.bridge.UpdateStatus(s.StreamID, StatusEnded, c.now())
	c.logger.Info("stream stopped", zap.String("stream_id", s.StreamID), zap.String("handle", handle))
	return nil
}

// end transitions s to ENDED, notifies its audience once, and removes it from the table.
// Viewer registrations are kept until those connections leave, but they no longer
// belong to any session and stop receiving room broadcasts. Caller holds c.mu.
func (c *Coordinator) end(s *StreamSession, notice string) {
	if s.Status == StatusLive {
		metrics.LiveStreams.Dec()
	}
	s.Status = StatusEnded
	viewers := s.ViewerHandles()
	for _, v := range viewers {
		c.notifier.SendTo(v, notice, nil)
		c.notifier.LeaveRoom(s.StreamID, v)
	}
	metrics.ActiveViewers.Sub(float64(len(viewers)))
	metrics.ActiveStreams.Dec()
	c.table.Delete(s.StreamID)
}

func (c *Coordinator) requestStream(handle string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, _ := c.registry.Lookup(handle)
	if sess.Role != RoleViewer {
		return c.violation(handle, EventRequestStream, "only viewers may request a stream")
	}
	s := c.table.Get(sess.StreamID)
	if s == nil || !s.HasViewer(handle) || s.Status != StatusLive || s.BroadcasterHandle == "" {
		c.notifier.SendTo(handle, EventStreamNotAvailable, nil)
		return ErrNotFound
	}
	c.notifier.SendTo(s.BroadcasterHandle, EventStreamRequest, StreamRequestPayload{ViewerID: handle})
	return nil
}

func (c *Coordinator) changeQuality(handle string, data json.RawMessage) error {
	var p QualityPayload
	if err := decode(data, &p); err != nil || p.Quality == "" {
		return c.reject(handle, EventQualityChange, fmt.Errorf("%w: quality is required", ErrBadRequest))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, _ := c.registry.Lookup(handle)
	s := c.table.Get(sess.StreamID)
	if s == nil || s.BroadcasterHandle != handle {
		return c.violation(handle, EventQualityChange, "sender is not the current broadcaster")
	}
	c.notifier.BroadcastRoom(s.StreamID, EventQualityChanged, p)
	return nil
}

// leave removes handle from its stream. An empty streamID matches any stream (disconnect).
// Leaving a stream the handle is not part of is a no-op.
func (c *Coordinator) leave(handle, streamID string) {
	c.mu.Lock()
	sess, ok := c.registry.Lookup(handle)
	if !ok || (streamID != "" && sess.StreamID != streamID) {
		c.mu.Unlock()
		return
	}
	left := c.detach(handle, "", "")
	c.mu.Unlock()

	c.persistDetach(left)
}

// detached describes what a detach did, for persistence after the lock is released.
type detached struct {
	session     ConnectionSession
	viewerLeft  bool
	streamEnded bool
}

// detach removes handle's current association unless it already matches
// (streamID, role). A viewer left over from an ended session never matches.
// A departing broadcaster ends its stream. Caller holds c.mu.
func (c *Coordinator) detach(handle, streamID string, role Role) *detached {
	sess, ok := c.registry.Lookup(handle)
	if !ok {
		return nil
	}
	s := c.table.Get(sess.StreamID)
	if sess.StreamID == streamID && sess.Role == role && (role != RoleViewer || (s != nil && s.HasViewer(handle))) {
		return nil
	}
	c.registry.Unregister(handle)
	c.notifier.LeaveRoom(sess.StreamID, handle)
	d := &detached{session: sess}

	switch sess.Role {
	case RoleViewer:
		d.viewerLeft = true
		if s != nil && s.RemoveViewer(handle) {
			metrics.ActiveViewers.Dec()
			c.notifier.BroadcastRoom(s.StreamID, EventViewerCountUpdate, ViewerCountPayload{Count: len(s.Viewers)})
		}
	case RoleBroadcaster:
		if s != nil && s.BroadcasterHandle == handle {
			c.end(s, EventBroadcasterLeft)
			d.streamEnded = true
		}
	}
	return d
}

func (c *Coordinator) persistDetach(d *detached) {
	if d == nil {
		return
	}
	now := c.now()
	if d.viewerLeft {
		c.bridge.RecordViewerLeave(d.session.StreamID, d.session.Handle, now)
	}
	if d.streamEnded {
		c.bridge.UpdateStatus(d.session.StreamID, StatusEnded, now)
		c.logger.Info("broadcaster left, stream ended",
			zap.String("stream_id", d.session.StreamID), zap.String("handle", d.session.Handle))
	}
}

func (c *Coordinator) reject(handle, event string, err error) error {
	c.logger.Debug("event rejected", zap.String("handle", handle), zap.String("event", event), zap.Error(err))
	c.notifier.SendTo(handle, EventError, ErrorPayload{Code: errorCode(err), Message: err.Error()})
	return err
}

// violation logs a protocol anomaly without notifying the sender.
func (c *Coordinator) violation(handle, event, reason string) error {
	metrics.ProtocolViolationsTotal.WithLabelValues(eventLabel(event)).Inc()
	c.logger.Warn("protocol violation",
		zap.String("handle", handle), zap.String("event", event), zap.String("reason", reason))
	return fmt.Errorf("%w: %s: %s", ErrProtocolViolation, event, reason)
}

// safely runs fn and turns a panic into a logged error so one message cannot stop a lane.
func (c *Coordinator) safely(handle, event string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panic",
				zap.String("handle", handle), zap.String("event", event), zap.Any("panic", r))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn()
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(data, v)
}
