package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/livesignal/internal/metrics"
	"github.com/aura-webinar/livesignal/internal/signaling"
	"github.com/aura-webinar/livesignal/pkg/queue"
)

// Deferrer parks jobs the projector gave up on, for the replay worker.
type Deferrer interface {
	Enqueue(ctx context.Context, job queue.Job) error
}

// EventPublisher announces lifecycle changes to other services.
type EventPublisher interface {
	PublishStreamEvent(streamID, event string, payload []byte) error
}

// Config tunes the projector.
type Config struct {
	Workers     int
	Buffer      int
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration // per store call
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Buffer <= 0 {
		c.Buffer = 1024
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 200 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
}

// Projector implements signaling.Bridge. Writes are queued per stream shard so a
// stream's jobs apply in order, and retried with backoff off the coordinator's path.
//
// Once any job of a stream is deferred, every later job of that stream is deferred
// too, behind it, so the replay worker sees the stream's jobs in submission order.
type Projector struct {
	store     Store
	deferrer  Deferrer
	publisher EventPublisher
	cfg       Config
	logger    *zap.Logger

	mu          sync.RWMutex
	stopped     bool
	spillClosed bool
	shards      []chan pending
	wg          sync.WaitGroup

	// smu guards the per-stream deferral state below.
	smu      sync.Mutex
	inflight map[string]int         // jobs queued on a shard, per stream
	held     map[string][]queue.Job // deferred jobs waiting for older in-flight ones
	deferred map[string]bool        // streams whose jobs now go to the deferrer
	spill    chan queue.Job
	spillWg  sync.WaitGroup
}

type pending struct {
	streamID string
	job      queue.Job
}

var _ signaling.Bridge = (*Projector)(nil)

// NewProjector creates a projector. deferrer and publisher may be nil.
func NewProjector(store Store, deferrer Deferrer, publisher EventPublisher, cfg Config, logger *zap.Logger) *Projector {
	cfg.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	shards := make([]chan pending, cfg.Workers)
	for i := range shards {
		shards[i] = make(chan pending, cfg.Buffer/cfg.Workers+1)
	}
	return &Projector{
		store:     store,
		deferrer:  deferrer,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		shards:    shards,
		inflight:  make(map[string]int),
		held:      make(map[string][]queue.Job),
		deferred:  make(map[string]bool),
		spill:     make(chan queue.Job, cfg.Buffer),
	}
}

// Start launches one worker per shard and the deferral writer.
func (p *Projector) Start() {
	for _, ch := range p.shards {
		p.wg.Add(1)
		go func(ch chan pending) {
			defer p.wg.Done()
			for pd := range ch {
				p.process(pd)
			}
		}(ch)
	}
	p.spillWg.Add(1)
	go func() {
		defer p.spillWg.Done()
		for job := range p.spill {
			p.deferJob(job)
		}
	}()
	p.logger.Info("persistence projector started", zap.Int("workers", len(p.shards)))
}

// Close stops accepting jobs and waits for queued and deferred ones to be handled.
func (p *Projector) Close() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for _, ch := range p.shards {
		close(ch)
	}
	p.mu.Unlock()
	p.wg.Wait()

	p.mu.Lock()
	p.spillClosed = true
	close(p.spill)
	p.mu.Unlock()
	p.spillWg.Wait()
	p.logger.Info("persistence projector stopped")
}

// VerifyOwnership reports whether userID owns streamID. A missing stream is not owned.
func (p *Projector) VerifyOwnership(ctx context.Context, streamID, userID string) (bool, error) {
	own, err := p.store.FindStreamOwnership(ctx, streamID)
	if err != nil {
		return false, fmt.Errorf("verify ownership: %w", err)
	}
	return own.Exists && own.OwnerUserID == userID, nil
}

func (p *Projector) UpdateStatus(streamID string, status signaling.Status, at time.Time) {
	p.submit(streamID, queue.JobTypeStreamStatus, queue.StreamStatusPayload{
		StreamID: streamID,
		Status:   string(status),
		At:       at,
	})
}

func (p *Projector) RecordViewerJoin(streamID, userID, handle string, at time.Time) {
	p.submit(streamID, queue.JobTypeViewerJoin, queue.ViewerJoinPayload{
		StreamID:     streamID,
		UserID:       userID,
		ConnectionID: handle,
		JoinedAt:     at,
	})
}

func (p *Projector) RecordViewerLeave(streamID, handle string, at time.Time) {
	p.submit(streamID, queue.JobTypeViewerLeave, queue.ViewerLeavePayload{
		StreamID:     streamID,
		ConnectionID: handle,
		LeftAt:       at,
	})
}

func (p *Projector) UpdatePeakViewers(streamID string, count int) {
	p.submit(streamID, queue.JobTypePeakViewers, queue.PeakViewersPayload{
		StreamID: streamID,
		Count:    count,
	})
}

func (p *Projector) submit(streamID string, t queue.JobType, payload interface{}) {
	job, err := queue.NewJob(t, payload)
	if err != nil {
		p.logger.Error("build projection job", zap.String("type", string(t)), zap.Error(err))
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.spillClosed {
		go p.deferJob(job)
		return
	}

	p.smu.Lock()
	defer p.smu.Unlock()
	if p.stopped {
		p.deferLocked(streamID, job, "projector stopped")
		return
	}
	if p.deferred[streamID] {
		p.deferLocked(streamID, job, "stream deferred")
		return
	}
	select {
	case p.shards[shardOf(streamID, len(p.shards))] <- pending{streamID: streamID, job: job}:
		p.inflight[streamID]++
	default:
		p.deferLocked(streamID, job, "buffer full")
	}
}

// deferLocked marks streamID deferred and queues job behind the stream's older jobs.
// Caller holds smu.
func (p *Projector) deferLocked(streamID string, job queue.Job, reason string) {
	if !p.deferred[streamID] {
		p.logger.Warn("deferring stream projections", zap.String("stream_id", streamID), zap.String("reason", reason))
	}
	p.deferred[streamID] = true
	if p.inflight[streamID] > 0 {
		p.held[streamID] = append(p.held[streamID], job)
		return
	}
	p.spillLocked(job)
}

func (p *Projector) spillLocked(job queue.Job) {
	select {
	case p.spill <- job:
	default:
		metrics.PersistenceJobsTotal.WithLabelValues(string(job.Type), "dropped").Inc()
		p.logger.Error("projection dropped", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.String("reason", "deferral buffer full"))
	}
}

func (p *Projector) process(pd pending) {
	if p.isDeferred(pd.streamID) {
		p.finish(pd, true)
		return
	}
	job := pd.job
	backoff := p.cfg.Backoff
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
		err := Apply(ctx, p.store, &job)
		cancel()
		if err == nil {
			metrics.PersistenceJobsTotal.WithLabelValues(string(job.Type), "ok").Inc()
			p.announce(job)
			p.finish(pd, false)
			return
		}
		metrics.PersistenceJobsTotal.WithLabelValues(string(job.Type), "retry").Inc()
		p.logger.Warn("projection failed",
			zap.String("job_id", job.ID), zap.String("type", string(job.Type)),
			zap.Int("attempt", attempt), zap.Error(err))
		if attempt < p.cfg.MaxAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	p.finish(pd, true)
}

func (p *Projector) isDeferred(streamID string) bool {
	p.smu.Lock()
	defer p.smu.Unlock()
	return p.deferred[streamID]
}

// finish retires a shard job, deferring it when asked. When the stream has no
// more jobs on its shard, its held jobs follow in order.
func (p *Projector) finish(pd pending, giveUp bool) {
	p.smu.Lock()
	defer p.smu.Unlock()
	if giveUp {
		p.deferred[pd.streamID] = true
		p.spillLocked(pd.job)
	}
	p.inflight[pd.streamID]--
	if p.inflight[pd.streamID] > 0 {
		return
	}
	delete(p.inflight, pd.streamID)
	for _, job := range p.held[pd.streamID] {
		p.spillLocked(job)
	}
	delete(p.held, pd.streamID)
}

// announce publishes lifecycle transitions; failures only cost dashboards freshness.
func (p *Projector) announce(job queue.Job) {
	if p.publisher == nil || job.Type != queue.JobTypeStreamStatus {
		return
	}
	var payload queue.StreamStatusPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return
	}
	var event string
	switch signaling.Status(payload.Status) {
	case signaling.StatusLive:
		event = signaling.EventStreamStarted
	case signaling.StatusEnded:
		event = signaling.EventStreamEnded
	default:
		return
	}
	if err := p.publisher.PublishStreamEvent(payload.StreamID, event, job.Payload); err != nil {
		p.logger.Warn("publish stream event", zap.String("stream_id", payload.StreamID), zap.Error(err))
	}
}

func (p *Projector) deferJob(job queue.Job) {
	if p.deferrer == nil {
		metrics.PersistenceJobsTotal.WithLabelValues(string(job.Type), "dropped").Inc()
		p.logger.Error("projection dropped", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.String("reason", "no deferral queue"))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
	defer cancel()
	if err := p.deferrer.Enqueue(ctx, job); err != nil {
		metrics.PersistenceJobsTotal.WithLabelValues(string(job.Type), "dropped").Inc()
		p.logger.Error("projection dropped", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Error(err))
		return
	}
	metrics.PersistenceJobsTotal.WithLabelValues(string(job.Type), "deferred").Inc()
	p.logger.Debug("projection deferred", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
}

func shardOf(streamID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(streamID))
	return int(h.Sum32() % uint32(n))
}
