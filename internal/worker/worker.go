// Package worker runs background jobs from the Redis queue and the periodic
// maintenance sweeps.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/oriyet/backend/internal/metrics"
	"github.com/oriyet/backend/pkg/queue"
)

// ErrUnknownJobType is returned for jobs no processor is registered for.
var ErrUnknownJobType = errors.New("unknown job type")

// Source hands out jobs and takes back failed ones.
type Source interface {
	Dequeue(ctx context.Context, timeout time.Duration, queues ...string) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job, cause error) error
}

// Processor executes one job.
type Processor interface {
	Process(ctx context.Context, job *queue.Job) error
}

// Runner dispatches dequeued jobs to their processors.
type Runner struct {
	source      Source
	processors  map[queue.JobType]Processor
	queues      []string
	pollTimeout time.Duration
	backoff     time.Duration
	logger      *zap.Logger
}

// NewRunner creates a runner listening on queues.
func NewRunner(source Source, logger *zap.Logger, queues ...string) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		source:      source,
		processors:  make(map[queue.JobType]Processor),
		queues:      queues,
		pollTimeout: 5 * time.Second,
		backoff:     queue.RetryBackoff,
		logger:      logger,
	}
}

// SetPollTimeout sets how long one dequeue blocks. Zero keeps the default.
func (r *Runner) SetPollTimeout(d time.Duration) {
	if d > 0 {
		r.pollTimeout = d
	}
}

// Handle registers p for jobs of type t.
func (r *Runner) Handle(t queue.JobType, p Processor) {
	r.processors[t] = p
}

// Process executes one job with its registered processor.
func (r *Runner) Process(ctx context.Context, job *queue.Job) error {
	p, ok := r.processors[job.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJobType, job.Type)
	}
	return p.Process(ctx, job)
}

// Run starts the worker loop: dequeue, process, retry on error. It returns when ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("worker started", zap.Strings("queues", r.queues))
	for {
		if ctx.Err() != nil {
			r.logger.Info("worker stopping")
			return nil
		}

		job, err := r.source.Dequeue(ctx, r.pollTimeout, r.queues...)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			r.logger.Warn("dequeue error", zap.Error(err))
			r.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		r.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Int("attempt", job.Attempt))
		if err := r.Process(ctx, job); err != nil {
			metrics.JobsProcessed.WithLabelValues(job.Queue, "error").Inc()
			r.logger.Error("job failed", zap.String("job_id", job.ID), zap.String("type", string(job.Type)), zap.Error(err))
			if reErr := r.source.Retry(ctx, job, err); reErr != nil {
				r.logger.Error("retry enqueue failed", zap.String("job_id", job.ID), zap.Error(reErr))
			}
			r.sleep(ctx)
			continue
		}
		metrics.JobsProcessed.WithLabelValues(job.Queue, "ok").Inc()
	}
}

func (r *Runner) sleep(ctx context.Context) {
	t := time.NewTimer(r.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
