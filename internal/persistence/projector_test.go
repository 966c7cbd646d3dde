package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/livesignal/internal/signaling"
	"github.com/aura-webinar/livesignal/pkg/queue"
)

type memStore struct {
	mu       sync.Mutex
	owners   map[string]string
	failures int // next N writes fail
	block    chan struct{}

	statuses []string
	opened   []string
	closed   []string
	peaks    []int
}

func newMemStore() *memStore {
	return &memStore{owners: map[string]string{"s1": "owner-1"}}
}

func (m *memStore) write(fn func()) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return errors.New("connection reset")
	}
	fn()
	return nil
}

func (m *memStore) FindStreamOwnership(_ context.Context, streamID string) (Ownership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	owner, ok := m.owners[streamID]
	return Ownership{OwnerUserID: owner, Exists: ok}, nil
}

func (m *memStore) SetStreamStatus(_ context.Context, streamID, status string, _ time.Time) error {
	return m.write(func() { m.statuses = append(m.statuses, streamID+":"+status) })
}

func (m *memStore) RecordViewerSession(_ context.Context, _, _, connectionID string, _ time.Time) error {
	return m.write(func() { m.opened = append(m.opened, connectionID) })
}

func (m *memStore) CloseViewerSession(_ context.Context, _, connectionID string, _ time.Time) error {
	return m.write(func() { m.closed = append(m.closed, connectionID) })
}

func (m *memStore) BumpPeakViewers(_ context.Context, _ string, count int) error {
	return m.write(func() { m.peaks = append(m.peaks, count) })
}

func (m *memStore) snapshot() (statuses, opened, closed []string, peaks []int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.statuses...),
		append([]string(nil), m.opened...),
		append([]string(nil), m.closed...),
		append([]int(nil), m.peaks...)
}

type memDeferrer struct {
	mu   sync.Mutex
	jobs []queue.Job
}

func (d *memDeferrer) Enqueue(_ context.Context, job queue.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
	return nil
}

func (d *memDeferrer) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

type memPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *memPublisher) PublishStreamEvent(streamID, event string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, streamID+":"+event)
	return nil
}

func (p *memPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func testConfig() Config {
	return Config{Workers: 2, Buffer: 64, MaxAttempts: 3, Backoff: time.Millisecond, Timeout: time.Second}
}

func TestVerifyOwnership(t *testing.T) {
	p := NewProjector(newMemStore(), nil, nil, testConfig(), nil)

	ok, err := p.VerifyOwnership(context.Background(), "s1", "owner-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.VerifyOwnership(context.Background(), "s1", "someone")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = p.VerifyOwnership(context.Background(), "missing", "owner-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProjectorAppliesStreamJobsInOrder(t *testing.T) {
	store := newMemStore()
	pub := &memPublisher{}
	p := NewProjector(store, nil, pub, testConfig(), nil)
	p.Start()

	now := time.Now()
	p.UpdateStatus("s1", signaling.StatusLive, now)
	for i, h := range []string{"v1", "v2", "v3"} {
		p.RecordViewerJoin("s1", "u", h, now)
		p.UpdatePeakViewers("s1", i+1)
	}
	p.RecordViewerLeave("s1", "v2", now)
	p.UpdateStatus("s1", signaling.StatusEnded, now)
	p.Close()

	statuses, opened, closed, peaks := store.snapshot()
	assert.Equal(t, []string{"s1:LIVE", "s1:ENDED"}, statuses)
	assert.Equal(t, []string{"v1", "v2", "v3"}, opened)
	assert.Equal(t, []string{"v2"}, closed)
	assert.Equal(t, []int{1, 2, 3}, peaks)
	assert.Equal(t, []string{"s1:" + signaling.EventStreamStarted, "s1:" + signaling.EventStreamEnded}, pub.published())
}

func TestProjectorRetriesTransientFailures(t *testing.T) {
	store := newMemStore()
	store.failures = 2
	def := &memDeferrer{}
	p := NewProjector(store, def, nil, testConfig(), nil)
	p.Start()

	p.RecordViewerJoin("s1", "u", "v1", time.Now())
	p.Close()

	_, opened, _, _ := store.snapshot()
	assert.Equal(t, []string{"v1"}, opened)
	assert.Equal(t, 0, def.len())
}

func TestProjectorDefersAfterRetriesExhausted(t *testing.T) {
	store := newMemStore()
	store.failures = 100
	def := &memDeferrer{}
	pub := &memPublisher{}
	p := NewProjector(store, def, pub, testConfig(), nil)
	p.Start()

	p.UpdateStatus("s1", signaling.StatusLive, time.Now())
	p.Close()

	require.Equal(t, 1, def.len())
	assert.Equal(t, queue.JobTypeStreamStatus, def.jobs[0].Type)
	assert.Empty(t, pub.published())
}

func TestProjectorDefersWhenBufferIsFull(t *testing.T) {
	store := newMemStore()
	store.block = make(chan struct{})
	def := &memDeferrer{}
	cfg := testConfig()
	cfg.Workers = 1
	cfg.Buffer = 1
	p := NewProjector(store, def, nil, cfg, nil)
	p.Start()

	for i := 0; i < 10; i++ {
		p.UpdatePeakViewers("s1", i+1)
	}
	assert.Eventually(t, func() bool { return def.len() > 0 }, time.Second, time.Millisecond)

	close(store.block)
	p.Close()
}

func TestProjectorKeepsStreamOrderOnceDeferred(t *testing.T) {
	store := newMemStore()
	store.block = make(chan struct{})
	def := &memDeferrer{}
	cfg := testConfig()
	cfg.Workers = 8
	cfg.Buffer = 16
	p := NewProjector(store, def, nil, cfg, nil)
	p.Start()

	now := time.Now()
	submitted := []queue.JobType{queue.JobTypeViewerJoin}
	p.RecordViewerJoin("s1", "u", "v1", now)
	for i := 0; i < 5; i++ {
		p.UpdatePeakViewers("s1", i+1)
		submitted = append(submitted, queue.JobTypePeakViewers)
	}
	p.RecordViewerLeave("s1", "v1", now.Add(time.Minute))
	submitted = append(submitted, queue.JobTypeViewerLeave)

	close(store.block)
	p.Close()

	require.NotZero(t, def.len())
	var types []queue.JobType
	for _, job := range def.jobs {
		types = append(types, job.Type)
	}
	assert.Equal(t, submitted[len(submitted)-len(types):], types)

	_, opened, closed, peaks := store.snapshot()
	assert.Empty(t, closed)
	assert.Equal(t, len(submitted)-len(types), len(opened)+len(peaks))
}

func TestProjectorDefersLaterJobsAfterRetriesExhausted(t *testing.T) {
	store := newMemStore()
	store.failures = 3
	def := &memDeferrer{}
	p := NewProjector(store, def, nil, testConfig(), nil)
	p.Start()

	now := time.Now()
	p.RecordViewerJoin("s1", "u", "v1", now)
	p.RecordViewerLeave("s1", "v1", now.Add(time.Minute))
	assert.Eventually(t, func() bool { return def.len() == 2 }, time.Second, time.Millisecond)

	// Other streams keep applying in-process.
	p.RecordViewerJoin("s2", "u", "v2", now)
	p.Close()

	require.Equal(t, 2, def.len())
	assert.Equal(t, queue.JobTypeViewerJoin, def.jobs[0].Type)
	assert.Equal(t, queue.JobTypeViewerLeave, def.jobs[1].Type)

	_, opened, closed, _ := store.snapshot()
	assert.Equal(t, []string{"v2"}, opened)
	assert.Empty(t, closed)
}

func TestProjectorDefersAfterClose(t *testing.T) {
	def := &memDeferrer{}
	p := NewProjector(newMemStore(), def, nil, testConfig(), nil)
	p.Start()
	p.Close()
	p.Close()

	p.RecordViewerLeave("s1", "v1", time.Now())
	assert.Eventually(t, func() bool { return def.len() == 1 }, time.Second, time.Millisecond)
}

func TestShardOfIsStable(t *testing.T) {
	for _, id := range []string{"s1", "s2", "a-much-longer-stream-id"} {
		first := shardOf(id, 4)
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, 4)
		assert.Equal(t, first, shardOf(id, 4))
	}
}
