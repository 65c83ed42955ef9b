package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is a periodic sweep. Run reports how many rows it touched.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (int, error)
}

// Scheduler runs tasks on fixed intervals, once immediately and then on every tick.
type Scheduler struct {
	tasks  []Task
	logger *zap.Logger
}

// NewScheduler creates a scheduler.
func NewScheduler(logger *zap.Logger, tasks ...Task) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{tasks: tasks, logger: logger}
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, t := range s.tasks {
		if t.Interval <= 0 {
			s.logger.Warn("task disabled", zap.String("task", t.Name))
			continue
		}
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			s.loop(ctx, t)
		}(t)
	}
	wg.Wait()
	return nil
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		if ctx.Err() != nil {
			return
		}
		s.runOnce(ctx, t)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, t Task) {
	start := time.Now()
	n, err := t.Run(ctx)
	if err != nil {
		s.logger.Error("scheduled task failed", zap.String("task", t.Name), zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("scheduled task done", zap.String("task", t.Name), zap.Int("affected", n), zap.Duration("took", time.Since(start)))
	}
}
