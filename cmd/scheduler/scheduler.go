package main

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SweepEnqueuer queues scratch folder sweeps
type SweepEnqueuer interface {
	// EnqueueSweep queues a sweep of scratch folders older than olderThan and returns the task id
	EnqueueSweep(ctx context.Context, olderThan time.Duration) (string, error)
}

// Scheduler queues maintenance tasks on a cron schedule
type Scheduler struct {
	schedule  cron.Schedule
	enqueuer  SweepEnqueuer
	olderThan time.Duration
	logger    *zap.Logger
	ticker    *time.Ticker
	stopChan  chan struct{}
	next      time.Time
	now       func() time.Time
}

// NewScheduler creates a new scheduler instance.
// spec is a standard five field cron expression; interval is how often the schedule is checked.
func NewScheduler(spec string, enqueuer SweepEnqueuer, olderThan, interval time.Duration, logger *zap.Logger) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}

	s := &Scheduler{
		schedule:  schedule,
		enqueuer:  enqueuer,
		olderThan: olderThan,
		logger:    logger,
		ticker:    time.NewTicker(interval),
		stopChan:  make(chan struct{}),
		now:       time.Now,
	}
	s.next = schedule.Next(s.now())
	return s, nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.logger.Info("Scheduler started", zap.Time("next_sweep", s.next))
	go s.run()
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.ticker.Stop()
	close(s.stopChan)
	s.logger.Info("Scheduler stopped")
}

// run executes the scheduler loop
func (s *Scheduler) run() {
	ctx := context.Background()

	for {
		select {
		case <-s.ticker.C:
			s.tick(ctx)
		case <-s.stopChan:
			return
		}
	}
}

// tick queues a sweep when the next scheduled run has passed.
// A failed enqueue keeps the run due so the next tick retries it.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	if now.Before(s.next) {
		return
	}

	taskID, err := s.enqueuer.EnqueueSweep(ctx, s.olderThan)
	if err != nil {
		s.logger.Error("Failed to enqueue scratch sweep", zap.Error(err))
		return
	}

	s.next = s.schedule.Next(now)
	s.logger.Info("Enqueued scratch sweep", zap.String("task_id", taskID), zap.Time("next_sweep", s.next))
}
