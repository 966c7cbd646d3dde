package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/aura-webinar/livesignal/internal/metrics"
	"github.com/aura-webinar/livesignal/internal/signaling"
)

// Hub maintains handle -> connection and stream_id -> room membership.
// Sends never block: a client whose buffer is full misses the message.
type Hub struct {
	clients map[string]*Client
	rooms   map[string]map[string]*Client // streamID -> handle -> client
	mu      sync.RWMutex
	logger  *zap.Logger
}

var _ signaling.Notifier = (*Hub)(nil)

// NewHub creates a new socket hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
		logger:  logger,
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.Handle] = c
	h.mu.Unlock()
	metrics.ActiveConnections.Inc()
	metrics.ConnectionsTotal.Inc()
	h.logger.Debug("client connected", zap.String("handle", c.Handle), zap.String("user_id", c.UserID))
}

// Unregister removes a connection from the hub and every room, then closes its send buffer.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.Handle]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.Handle)
	for streamID, members := range h.rooms {
		delete(members, c.Handle)
		if len(members) == 0 {
			delete(h.rooms, streamID)
		}
	}
	close(c.send)
	h.mu.Unlock()
	metrics.ActiveConnections.Dec()
	h.logger.Debug("client disconnected", zap.String("handle", c.Handle))
}

// JoinRoom adds handle to the room of streamID. Unknown handles are ignored.
func (h *Hub) JoinRoom(streamID, handle string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[handle]
	if !ok {
		return
	}
	if h.rooms[streamID] == nil {
		h.rooms[streamID] = make(map[string]*Client)
	}
	h.rooms[streamID][handle] = c
}

// LeaveRoom removes handle from the room of streamID.
func (h *Hub) LeaveRoom(streamID, handle string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[streamID]; ok {
		delete(members, handle)
		if len(members) == 0 {
			delete(h.rooms, streamID)
		}
	}
}

// SendTo sends a message to a single connection.
func (h *Hub) SendTo(handle, event string, payload interface{}) {
	msg, err := newMessage(event, payload)
	if err != nil {
		h.logger.Error("marshal outbound message", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[handle]
	if !ok {
		return
	}
	h.deliver(c, msg)
}

// BroadcastRoom sends a message to every connection in the room of streamID.
func (h *Hub) BroadcastRoom(streamID, event string, payload interface{}) {
	msg, err := newMessage(event, payload)
	if err != nil {
		h.logger.Error("marshal outbound message", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[streamID] {
		h.deliver(c, msg)
	}
}

// RoomSize returns the number of connections in the room of streamID.
func (h *Hub) RoomSize(streamID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[streamID])
}

// ConnectionCount returns the number of open connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// deliver must be called with h.mu held so the channel cannot be closed concurrently.
func (h *Hub) deliver(c *Client, msg WSMessage) {
	select {
	case c.send <- msg:
	default:
		h.logger.Warn("send buffer full, dropping message", zap.String("handle", c.Handle), zap.String("event", msg.Event))
	}
}

func newMessage(event string, payload interface{}) (WSMessage, error) {
	msg := WSMessage{Event: event}
	if payload == nil {
		return msg, nil
	}
	switch v := payload.(type) {
	case json.RawMessage:
		msg.Data = v
	case []byte:
		msg.Data = v
	default:
		data, err := json.Marshal(payload)
		if err != nil {
			return msg, err
		}
		msg.Data = data
	}
	return msg, nil
}
