package streams

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesignal/internal/models"
	"github.com/aura-webinar/livesignal/internal/signaling"
	"github.com/aura-webinar/livesignal/pkg/response"
)

// LiveState reads the in-memory stream state table.
type LiveState interface {
	Snapshot(streamID string) (signaling.Snapshot, bool)
	Snapshots() []signaling.Snapshot
}

// RecordReader reads durable stream records.
type RecordReader interface {
	GetByID(ctx context.Context, streamID string) (*models.LiveStream, error)
}

// EventSubscriber follows lifecycle events published for a stream.
type EventSubscriber interface {
	SubscribeStream(streamID string, handler func(event string, payload []byte)) (cancel func(), err error)
}

// StreamView combines the live in-memory session with the durable record.
type StreamView struct {
	Live   *signaling.Snapshot `json:"live"`
	Record *models.LiveStream  `json:"record"`
}

// Handler serves the admin stream endpoints.
type Handler struct {
	live    LiveState
	records RecordReader
	events  EventSubscriber
	logger  *zap.Logger
}

// NewHandler creates a stream admin handler. events may be nil.
func NewHandler(live LiveState, records RecordReader, events EventSubscriber, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{live: live, records: records, events: events, logger: logger}
}

// List handles GET /admin/streams (every stream with an in-memory session).
func (h *Handler) List(c *gin.Context) {
	response.OK(c, gin.H{"streams": h.live.Snapshots()})
}

// Get handles GET /admin/streams/:id.
func (h *Handler) Get(c *gin.Context) {
	streamID := c.Param("id")
	var view StreamView
	if snap, ok := h.live.Snapshot(streamID); ok {
		view.Live = &snap
	}
	record, err := h.records.GetByID(c.Request.Context(), streamID)
	if err != nil {
		h.logger.Error("get stream record", zap.String("stream_id", streamID), zap.Error(err))
		response.Fail(c, http.StatusInternalServerError, "failed to load stream")
		return
	}
	view.Record = record
	if view.Live == nil && view.Record == nil {
		response.Fail(c, http.StatusNotFound, "stream not found")
		return
	}
	response.OK(c, view)
}

type streamEvent struct {
	name string
	data []byte
}

// Events handles GET /admin/streams/:id/events as server-sent events.
func (h *Handler) Events(c *gin.Context) {
	if h.events == nil {
		response.Fail(c, http.StatusServiceUnavailable, "event stream disabled")
		return
	}
	streamID := c.Param("id")
	ch := make(chan streamEvent, 16)
	cancel, err := h.events.SubscribeStream(streamID, func(event string, payload []byte) {
		select {
		case ch <- streamEvent{name: event, data: payload}:
		default:
		}
	})
	if err != nil {
		h.logger.Warn("subscribe stream events", zap.String("stream_id", streamID), zap.Error(err))
		response.Fail(c, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	defer cancel()

	ctx := c.Request.Context()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev := <-ch:
			c.SSEvent(ev.name, json.RawMessage(ev.data))
			return true
		}
	})
}
