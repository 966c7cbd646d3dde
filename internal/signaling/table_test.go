package signaling

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("h1", "u1", RoleViewer, "s1")
	r.Register("h1", "u1", RoleBroadcaster, "s2")

	sess, ok := r.Lookup("h1")
	require.True(t, ok)
	assert.Equal(t, ConnectionSession{Handle: "h1", UserID: "u1", Role: RoleBroadcaster, StreamID: "s2"}, sess)
	assert.Equal(t, 1, r.Len())

	removed, ok := r.Unregister("h1")
	require.True(t, ok)
	assert.Equal(t, "s2", removed.StreamID)

	_, ok = r.Unregister("h1")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestTableGetOrCreate(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tbl := NewTable()

	s, created := tbl.GetOrCreate("s1", now)
	require.True(t, created)
	assert.Equal(t, StatusStarting, s.Status)
	assert.Equal(t, now, s.StartedAt)

	again, created := tbl.GetOrCreate("s1", now.Add(time.Hour))
	assert.False(t, created)
	assert.Same(t, s, again)
	assert.Equal(t, now, again.StartedAt)

	tbl.Delete("s1")
	assert.Nil(t, tbl.Get("s1"))
	assert.Equal(t, 0, tbl.Len())
}

func TestStreamSessionAudience(t *testing.T) {
	s := newStreamSession("s1", time.Now())

	count, raised := s.AddViewer("b")
	assert.Equal(t, 1, count)
	assert.True(t, raised)
	count, raised = s.AddViewer("a")
	assert.Equal(t, 2, count)
	assert.True(t, raised)
	count, raised = s.AddViewer("a")
	assert.Equal(t, 2, count)
	assert.False(t, raised)

	assert.Equal(t, []string{"a", "b"}, s.ViewerHandles())
	assert.True(t, s.RemoveViewer("a"))
	assert.False(t, s.RemoveViewer("a"))
	assert.False(t, s.HasViewer("a"))
	assert.Equal(t, 2, s.PeakViewers)
}

func TestSnapshotsAreSortedCopies(t *testing.T) {
	tbl := NewTable()
	for _, id := range []string{"s3", "s1", "s2"} {
		s, _ := tbl.GetOrCreate(id, time.Now())
		s.AddViewer("v-" + id)
	}

	snaps := tbl.Snapshots()
	require.Len(t, snaps, 3)
	assert.Equal(t, "s1", snaps[0].StreamID)
	assert.Equal(t, "s3", snaps[2].StreamID)

	snaps[0].Viewers[0] = "mutated"
	assert.True(t, tbl.Get("s1").HasViewer("v-s1"))
}

func TestErrorCodes(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{ErrUnauthorized, CodeUnauthorized},
		{ErrNotFound, CodeNotFound},
		{ErrBadRequest, CodeBadRequest},
		{ErrProtocolViolation, CodeProtocolViolation},
		{fmt.Errorf("%w: wrapped", ErrUnauthorized), CodeUnauthorized},
		{errors.New("anything else"), CodeProtocolViolation},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, errorCode(tc.err), tc.err.Error())
	}
}

func TestLanesSerializePerKey(t *testing.T) {
	l := newLanes()
	const n = 200

	var mu sync.Mutex
	got := map[string][]int{}
	var wg sync.WaitGroup
	wg.Add(2 * n)
	for i := 0; i < n; i++ {
		for _, key := range []string{"a", "b"} {
			key, i := key, i
			l.submit(key, func() {
				defer wg.Done()
				mu.Lock()
				got[key] = append(got[key], i)
				mu.Unlock()
			})
		}
	}
	wg.Wait()

	for _, key := range []string{"a", "b"} {
		require.Len(t, got[key], n)
		for i, v := range got[key] {
			assert.Equal(t, i, v)
		}
	}
	assert.Eventually(t, func() bool { return l.active() == 0 }, time.Second, time.Millisecond)
}

func TestLanesRunKeysConcurrently(t *testing.T) {
	l := newLanes()
	release := make(chan struct{})
	l.submit("slow", func() { <-release })

	done := make(chan struct{})
	l.submit("fast", func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocked lane stalled another key")
	}
	close(release)
}
