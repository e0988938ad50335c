package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/contact-validation/internal/worker/domain"
)

// sinkTimeout bounds the metrics push after a run
const sinkTimeout = 3 * time.Second

// CoordinatorConfig holds the batch coordinator's collaborators and limits
type CoordinatorConfig struct {
	Logger    *slog.Logger
	Store     QueueStore
	Executor  *Executor
	Process   ItemFunc
	BatchSize int
	Metrics   *RollingMetrics
	Sink      MetricsSink
	Now       func() time.Time
}

// Coordinator is the periodic entry point that drains one batch per call
type Coordinator struct {
	logger    *slog.Logger
	store     QueueStore
	executor  *Executor
	process   ItemFunc
	batchSize int
	metrics   *RollingMetrics
	sink      MetricsSink
	now       func() time.Time

	running atomic.Bool
}

// NewCoordinator creates a new batch coordinator
func NewCoordinator(cfg *CoordinatorConfig) *Coordinator {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewRollingMetrics()
	}
	return &Coordinator{
		logger:    cfg.Logger.With(slog.String("component", "coordinator")),
		store:     cfg.Store,
		executor:  cfg.Executor,
		process:   cfg.Process,
		batchSize: cfg.BatchSize,
		metrics:   metrics,
		sink:      cfg.Sink,
		now:       now,
	}
}

// Running reports whether a run is active in this process
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// Metrics returns the rolling metrics of this coordinator
func (c *Coordinator) Metrics() domain.MetricsSnapshot {
	return c.metrics.Snapshot()
}

// ProcessBatch runs one batch. Overlapping calls in the same process get an
// already_processing status. The returned error is set only for run-level
// failures; item failures are reported through the stats.
func (c *Coordinator) ProcessBatch(ctx context.Context) (stats *domain.RunStats, err error) {
	startedAt := c.now()
	if !c.running.CompareAndSwap(false, true) {
		c.logger.Warn("Batch run already in progress, skipping")
		return &domain.RunStats{Status: domain.RunAlreadyProcessing, StartedAt: startedAt}, nil
	}
	defer c.running.Store(false)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch run panicked: %v", r)
			c.logger.Error("Batch run panicked", slog.String("error", err.Error()))
			stats = &domain.RunStats{Status: domain.RunError, StartedAt: startedAt, Error: err.Error()}
		}
	}()

	stats = &domain.RunStats{StartedAt: startedAt}

	items, err := c.store.FetchEligible(ctx, c.batchSize)
	if err != nil {
		err = fmt.Errorf("%w: fetch eligible: %w", domain.ErrStoreUnavailable, err)
		stats.Status = domain.RunError
		stats.Error = err.Error()
		stats.Runtime = c.now().Sub(startedAt)
		c.logger.Error("Failed to fetch eligible items", slog.String("error", err.Error()))
		c.record(ctx, stats, nil)
		return stats, err
	}

	if len(items) == 0 {
		stats.Status = domain.RunEmpty
		stats.Runtime = c.now().Sub(startedAt)
		c.logger.Debug("No eligible items")
		return stats, nil
	}

	stats.Fetched = len(items)
	c.logger.Info("Starting batch run", slog.Int("items", len(items)))

	result := c.executor.Run(ctx, items, c.process)

	durations := make([]time.Duration, 0, len(result.Outcomes))
	for _, o := range result.Outcomes {
		durations = append(durations, o.Duration)
		if o.Err != nil {
			stats.Failed++
			stats.Errors = append(stats.Errors, domain.ItemError{ItemID: o.ItemID, Error: o.Err.Error()})
			continue
		}
		stats.Processed++
	}
	stats.Skipped = len(result.NotStarted)
	stats.MaxInFlight = result.MaxInFlight
	stats.Runtime = c.now().Sub(startedAt)
	stats.Status = domain.RunCompleted

	if result.Aborted != nil {
		stats.Status = domain.RunError
		stats.Error = result.Aborted.Error()
		err = fmt.Errorf("batch run aborted: %w", result.Aborted)
	}

	c.logger.Info("Batch run finished",
		slog.String("status", string(stats.Status)),
		slog.Int("processed", stats.Processed),
		slog.Int("failed", stats.Failed),
		slog.Int("skipped", stats.Skipped),
		slog.Int("max_in_flight", stats.MaxInFlight),
		slog.Duration("runtime", stats.Runtime),
	)

	c.record(ctx, stats, durations)
	return stats, err
}

// record folds the run into the rolling metrics and pushes it to the sink.
// Sink failures are logged only.
func (c *Coordinator) record(ctx context.Context, stats *domain.RunStats, durations []time.Duration) {
	snapshot := c.metrics.Observe(stats, durations)
	if c.sink == nil {
		return
	}

	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	if err := c.sink.RecordRun(sinkCtx, stats, snapshot); err != nil {
		c.logger.Warn("Failed to push run metrics", slog.String("error", err.Error()))
	}
}
