package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/livesignal/internal/signaling"
)

type ownerBridge map[string]string

func (b ownerBridge) VerifyOwnership(_ context.Context, streamID, userID string) (bool, error) {
	return b[streamID] == userID, nil
}
func (ownerBridge) UpdateStatus(string, signaling.Status, time.Time) {}
func (ownerBridge) RecordViewerJoin(string, string, string, time.Time) {}
func (ownerBridge) RecordViewerLeave(string, string, time.Time) {}
func (ownerBridge) UpdatePeakViewers(string, int) {}

// tokenIsUserID treats any token other than "bad" as the user ID.
func tokenIsUserID(token string) (string, error) {
	if token == "bad" {
		return "", errors.New("invalid token")
	}
	return token, nil
}

type testServer struct {
	*httptest.Server
	hub   *Hub
	coord *signaling.Coordinator
}

func newTestServer(t *testing.T, allowAnonymous bool) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := NewHub(nil)
	coord := signaling.NewCoordinator(hub, ownerBridge{"s1": "owner-1"}, signaling.Options{VerifyTimeout: time.Second})
	router := gin.New()
	router.GET("/ws", ServeWs(hub, coord, tokenIsUserID, Options{
		PingInterval:   time.Second,
		AllowAnonymous: allowAnonymous,
	}, nil))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, hub: hub, coord: coord}
}

func (s *testServer) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
	if token != "" {
		url += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func emit(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(WSMessage{Event: event, Data: raw}))
}

func expect(t *testing.T, conn *websocket.Conn, event string) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg), "waiting for %s", event)
		if msg.Event == event {
			return msg
		}
	}
}

func TestSignalingOverWebSocket(t *testing.T) {
	srv := newTestServer(t, true)

	broadcaster := srv.dial(t, "owner-1")
	emit(t, broadcaster, signaling.EventJoin, signaling.JoinPayload{StreamID: "s1", IsOwner: true})
	require.Eventually(t, func() bool {
		snap, ok := srv.coord.Snapshot("s1")
		return ok && snap.BroadcasterHandle != ""
	}, 2*time.Second, 10*time.Millisecond)
	emit(t, broadcaster, signaling.EventStartStream, nil)

	viewer := srv.dial(t, "")
	emit(t, viewer, signaling.EventJoin, signaling.JoinPayload{StreamID: "s1"})
	expect(t, viewer, signaling.EventBroadcasterAvailable)

	var joined signaling.ViewerJoinedPayload
	require.NoError(t, json.Unmarshal(expect(t, broadcaster, signaling.EventViewerJoined).Data, &joined))
	assert.Equal(t, 1, joined.TotalViewers)

	emit(t, broadcaster, signaling.EventOffer, signaling.SignalPayload{
		Offer:    json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
		TargetID: joined.ViewerID,
	})
	var offer signaling.RelayedSignal
	require.NoError(t, json.Unmarshal(expect(t, viewer, signaling.EventOffer).Data, &offer))
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(offer.Offer))
	snap, _ := srv.coord.Snapshot("s1")
	assert.Equal(t, snap.BroadcasterHandle, offer.SenderID)

	require.NoError(t, broadcaster.Close())
	expect(t, viewer, signaling.EventBroadcasterLeft)
	require.Eventually(t, func() bool {
		_, ok := srv.coord.Snapshot("s1")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNonOwnerReceivesUnauthorizedError(t *testing.T) {
	srv := newTestServer(t, true)

	conn := srv.dial(t, "intruder")
	emit(t, conn, signaling.EventJoin, signaling.JoinPayload{StreamID: "s1", IsOwner: true})

	var payload signaling.ErrorPayload
	require.NoError(t, json.Unmarshal(expect(t, conn, signaling.EventError).Data, &payload))
	assert.Equal(t, signaling.CodeUnauthorized, payload.Code)
}

func TestViewerDisconnectIsCleanedUp(t *testing.T) {
	srv := newTestServer(t, true)

	viewer := srv.dial(t, "")
	emit(t, viewer, signaling.EventJoin, signaling.JoinPayload{StreamID: "s1"})
	require.Eventually(t, func() bool {
		snap, ok := srv.coord.Snapshot("s1")
		return ok && snap.ViewerCount == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, viewer.Close())
	require.Eventually(t, func() bool {
		snap, _ := srv.coord.Snapshot("s1")
		return snap.ViewerCount == 0 && srv.hub.ConnectionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUpgradeAuthentication(t *testing.T) {
	srv := newTestServer(t, false)
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(base+"?token=bad", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(base, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	header := http.Header{"Authorization": []string{"Bearer owner-1"}}
	conn, _, err := websocket.DefaultDialer.Dial(base, header)
	require.NoError(t, err)
	_ = conn.Close()
}
