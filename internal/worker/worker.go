package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/livesignal/internal/metrics"
	"github.com/aura-webinar/livesignal/internal/persistence"
	"github.com/aura-webinar/livesignal/pkg/queue"
)

// JobSource is the Redis-backed list of projections deferred by the server.
type JobSource interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// ProjectionReplayer applies deferred projection jobs to the durable store.
type ProjectionReplayer struct {
	store   persistence.Store
	queue   JobSource
	poll    time.Duration
	backoff time.Duration
	logger  *zap.Logger
}

// NewProjectionReplayer creates a replayer. poll bounds each blocking dequeue.
func NewProjectionReplayer(store persistence.Store, q JobSource, poll time.Duration, logger *zap.Logger) *ProjectionReplayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &ProjectionReplayer{store: store, queue: q, poll: poll, backoff: queue.RetryBackoff, logger: logger}
}

// Process applies one job.
func (p *ProjectionReplayer) Process(ctx context.Context, job *queue.Job) error {
	return persistence.Apply(ctx, p.store, job)
}

// Run starts the worker loop: dequeue, apply, retry on error.
func (p *ProjectionReplayer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("projection replayer stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx, p.poll)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("replaying job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Int("attempt", job.Attempt))
		if err := p.Process(ctx, job); err != nil {
			metrics.PersistenceJobsTotal.WithLabelValues(string(job.Type), "replay_failed").Inc()
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
			continue
		}
		metrics.PersistenceJobsTotal.WithLabelValues(string(job.Type), "replayed").Inc()
	}
}

func (p *ProjectionReplayer) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
