package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aura-webinar/livesignal/internal/signaling"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin is enforced by the CORS allow-list in front of the router
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Dispatcher receives inbound events. It is implemented by signaling.Coordinator.
type Dispatcher interface {
	Dispatch(ctx context.Context, conn signaling.Conn, event string, data json.RawMessage) error
	Disconnect(handle string)
}

// Authenticator resolves a bearer token to a user ID.
type Authenticator func(token string) (userID string, err error)

// Options configures socket connections.
type Options struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	SendBuffer     int
	ReadLimit      int64
	AllowAnonymous bool
}

func (o *Options) defaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PongWait <= o.PingInterval {
		o.PongWait = 2 * o.PingInterval
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 65536
	}
}

// Client represents a single WebSocket connection.
type Client struct {
	Handle string
	UserID string
	hub    *Hub
	conn   *websocket.Conn
	send   chan WSMessage
	opts   Options
	logger *zap.Logger
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
// The token is read from the "token" query parameter or the Authorization header.
func ServeWs(hub *Hub, dispatcher Dispatcher, authenticate Authenticator, opts Options, logger *zap.Logger) gin.HandlerFunc {
	opts.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		userID := signaling.AnonymousUserID
		token := c.Query("token")
		if token == "" {
			token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if token != "" {
			id, err := authenticate(token)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			userID = id
		} else if !opts.AllowAnonymous {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			Handle: uuid.New().String(),
			UserID: userID,
			hub:    hub,
			conn:   conn,
			send:   make(chan WSMessage, opts.SendBuffer),
			opts:   opts,
			logger: logger,
		}
		hub.Register(client)
		go client.writePump()
		client.readPump(dispatcher)
	}
}

// readPump dispatches inbound frames one at a time. Cleanup runs on every exit path.
func (c *Client) readPump(dispatcher Dispatcher) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		dispatcher.Disconnect(c.Handle)
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.opts.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", zap.String("handle", c.Handle), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		if msg.Event == "" || msg.Event == signaling.EventDisconnect {
			continue
		}
		_ = dispatcher.Dispatch(ctx, signaling.Conn{Handle: c.Handle, UserID: c.UserID}, msg.Event, msg.Data)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
