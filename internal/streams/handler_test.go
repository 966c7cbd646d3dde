package streams

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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/livesignal/internal/models"
	"github.com/aura-webinar/livesignal/internal/signaling"
)

type fakeLive map[string]signaling.Snapshot

func (f fakeLive) Snapshot(id string) (signaling.Snapshot, bool) {
	s, ok := f[id]
	return s, ok
}

func (f fakeLive) Snapshots() []signaling.Snapshot {
	out := make([]signaling.Snapshot, 0, len(f))
	for _, s := range f {
		out = append(out, s)
	}
	return out
}

type fakeRecords struct {
	records map[string]*models.LiveStream
	err     error
}

func (f fakeRecords) GetByID(_ context.Context, id string) (*models.LiveStream, error) {
	return f.records[id], f.err
}

type fakeSubscriber struct {
	handler func(event string, payload []byte)
	ready   chan struct{}
}

func (f *fakeSubscriber) SubscribeStream(_ string, handler func(event string, payload []byte)) (func(), error) {
	f.handler = handler
	close(f.ready)
	return func() {}, nil
}

func newRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin/streams", h.List)
	r.GET("/admin/streams/:id", h.Get)
	r.GET("/admin/streams/:id/events", h.Events)
	return r
}

func TestListStreams(t *testing.T) {
	live := fakeLive{"s1": {StreamID: "s1", Status: signaling.StatusLive, ViewerCount: 3}}
	r := newRouter(NewHandler(live, fakeRecords{}, nil, nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/streams", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data struct {
			Streams []signaling.Snapshot `json:"streams"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data.Streams, 1)
	assert.Equal(t, 3, body.Data.Streams[0].ViewerCount)
}

func TestGetStream(t *testing.T) {
	live := fakeLive{"s1": {StreamID: "s1", Status: signaling.StatusLive}}
	records := fakeRecords{records: map[string]*models.LiveStream{
		"s1": {ID: "s1", OwnerUserID: "owner-1", Status: "LIVE"},
		"s2": {ID: "s2", OwnerUserID: "owner-2", Status: "ENDED", PeakViewers: 12},
	}}
	r := newRouter(NewHandler(live, records, nil, nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/streams/s1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"owner_user_id":"owner-1"`)
	assert.Contains(t, w.Body.String(), `"status":"LIVE"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/streams/s2", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"live":null`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/streams/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetStreamStoreError(t *testing.T) {
	r := newRouter(NewHandler(fakeLive{}, fakeRecords{err: errors.New("db down")}, nil, nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/streams/s1", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestEventsDisabled(t *testing.T) {
	r := newRouter(NewHandler(fakeLive{}, fakeRecords{}, nil, nil))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/streams/s1/events", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestEventsStreamsLifecycle(t *testing.T) {
	sub := &fakeSubscriber{ready: make(chan struct{})}
	srv := httptest.NewServer(newRouter(NewHandler(fakeLive{}, fakeRecords{}, sub, nil)))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/admin/streams/s1/events", nil)
	require.NoError(t, err)

	go func() {
		<-sub.ready
		sub.handler(signaling.EventStreamStarted, []byte(`{"stream_id":"s1","status":"LIVE"}`))
	}()

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	buf := make([]byte, 512)
	var got strings.Builder
	for !strings.Contains(got.String(), "\n\n") {
		n, err := resp.Body.Read(buf)
		got.Write(buf[:n])
		require.NoError(t, err)
	}
	assert.Contains(t, got.String(), "event:"+signaling.EventStreamStarted)
	assert.Contains(t, got.String(), `"status":"LIVE"`)
}
