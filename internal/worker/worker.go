package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Config holds the processor service's components and schedules
type Config struct {
	Logger              *slog.Logger
	Coordinator         *Coordinator
	Maintenance         *Maintenance
	Scheduler           *Scheduler
	Consumer            *Consumer
	ProcessSchedule     string
	MaintenanceSchedule string
}

// Worker is the long-running processor: scheduled batch runs, scheduled
// maintenance and, when configured, the AMQP event consumer
type Worker struct {
	logger              *slog.Logger
	coordinator         *Coordinator
	maintenance         *Maintenance
	scheduler           *Scheduler
	consumer            *Consumer
	processSchedule     string
	maintenanceSchedule string

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewWorker creates a new processor service
func NewWorker(cfg *Config) *Worker {
	return &Worker{
		logger:              cfg.Logger,
		coordinator:         cfg.Coordinator,
		maintenance:         cfg.Maintenance,
		scheduler:           cfg.Scheduler,
		consumer:            cfg.Consumer,
		processSchedule:     cfg.ProcessSchedule,
		maintenanceSchedule: cfg.MaintenanceSchedule,
	}
}

// Start registers the scheduled jobs and blocks until ctx is canceled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("process_schedule", w.processSchedule),
		slog.String("maintenance_schedule", w.maintenanceSchedule),
		slog.Bool("consumer_enabled", w.consumer != nil),
	)

	if err := w.scheduler.Add("process-batch", w.processSchedule, w.runBatch); err != nil {
		return err
	}
	if err := w.scheduler.Add("maintenance", w.maintenanceSchedule, w.runMaintenance); err != nil {
		return err
	}

	if w.consumer != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.consumer.Run(ctx); err != nil {
				w.logger.Error("Event consumer exited", slog.String("error", err.Error()))
			}
		}()
	}

	w.scheduler.Start()

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")
	return nil
}

// Stop waits for scheduled jobs and the consumer to return, bounded by ctx
func (w *Worker) Stop(ctx context.Context) error {
	var err error
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")

		var errs []error
		if stopErr := w.scheduler.Stop(ctx); stopErr != nil {
			errs = append(errs, stopErr)
		}

		done := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("consumer stop: %w", ctx.Err()))
		}

		err = errors.Join(errs...)
		w.logger.Info("Worker stopped")
	})
	return err
}

func (w *Worker) runBatch(ctx context.Context) {
	if _, err := w.coordinator.ProcessBatch(ctx); err != nil {
		w.logger.Error("Scheduled batch run failed", slog.String("error", err.Error()))
	}
}

func (w *Worker) runMaintenance(ctx context.Context) {
	if _, err := w.maintenance.RunAll(ctx); err != nil {
		if isContextCancellation(err) {
			return
		}
		w.logger.Error("Scheduled maintenance failed", slog.String("error", err.Error()))
	}
}
