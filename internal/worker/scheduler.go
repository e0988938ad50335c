package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler triggers the coordinator and maintenance entry points on cron schedules
type Scheduler struct {
	logger *slog.Logger
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. Panics inside jobs are recovered and logged.
func NewScheduler(logger *slog.Logger) *Scheduler {
	logger = logger.With(slog.String("component", "scheduler"))
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger: logger,
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger)),
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers job under a standard cron expression or an "@every" descriptor
func (s *Scheduler) Add(name, schedule string, job func(ctx context.Context)) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.logger.Debug("Scheduled job triggered", slog.String("job", name))
		job(s.ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", schedule, name, err)
	}

	s.logger.Info("Scheduled job registered",
		slog.String("job", name),
		slog.String("schedule", schedule),
	)
	return nil
}

// Start begins firing jobs in the background
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler", slog.Int("jobs", len(s.cron.Entries())))
	s.cron.Start()
}

// Stop prevents new triggers, cancels the jobs' context and waits for running
// jobs to return or for ctx to expire
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()

	select {
	case <-done.Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}
