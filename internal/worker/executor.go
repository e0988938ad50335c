package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/contact-validation/internal/worker/domain"
	"golang.org/x/sync/semaphore"
)

// ItemFunc processes a single item under the context the executor hands it
type ItemFunc func(ctx context.Context, item *domain.QueueItem) error

// ExecutorConfig holds the bounded executor settings
type ExecutorConfig struct {
	Logger *slog.Logger
	// Concurrency caps the number of items in flight at once
	Concurrency int
	// MaxRuntime is the wall-clock budget of one run
	MaxRuntime time.Duration
	// SafetyMargin stops new starts this long before MaxRuntime elapses
	SafetyMargin time.Duration
	// ItemTimeoutCeiling bounds a single item regardless of the remaining budget
	ItemTimeoutCeiling time.Duration
	Now                func() time.Time
}

// Outcome is the settled result of one item
type Outcome struct {
	ItemID   string
	Err      error
	Duration time.Duration
	TimedOut bool
}

// ExecutionResult collects every outcome of a run plus the items never started
type ExecutionResult struct {
	Outcomes    []Outcome
	NotStarted  []string
	MaxInFlight int
	// Aborted is set when a queue store failure stopped the run early
	Aborted error
}

// Executor runs a fixed list of items with bounded parallelism and a global deadline
type Executor struct {
	logger       *slog.Logger
	concurrency  int
	maxRuntime   time.Duration
	safetyMargin time.Duration
	itemCeiling  time.Duration
	now          func() time.Time
}

// NewExecutor creates a new bounded executor
func NewExecutor(cfg *ExecutorConfig) *Executor {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Executor{
		logger:       cfg.Logger.With(slog.String("component", "executor")),
		concurrency:  concurrency,
		maxRuntime:   cfg.MaxRuntime,
		safetyMargin: cfg.SafetyMargin,
		itemCeiling:  cfg.ItemTimeoutCeiling,
		now:          now,
	}
}

// Run fans items out to fn. Items are started in order; once the start
// deadline passes, or the context is canceled, the rest are left untouched.
func (e *Executor) Run(ctx context.Context, items []*domain.QueueItem, fn ItemFunc) *ExecutionResult {
	start := e.now()
	budgetEnd := start.Add(e.maxRuntime)
	startDeadline := budgetEnd.Add(-e.safetyMargin)

	e.logger.Info("Starting batch execution",
		slog.Int("items", len(items)),
		slog.Int("concurrency", e.concurrency),
		slog.Duration("max_runtime", e.maxRuntime),
	)

	// Acquiring a slot must not outlast the start deadline
	startCtx, cancelStart := context.WithDeadline(ctx, startDeadline)
	defer cancelStart()

	sem := semaphore.NewWeighted(int64(e.concurrency))

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		result   = &ExecutionResult{}
		inFlight atomic.Int64
		aborted  atomic.Pointer[error]
	)

	for i, item := range items {
		if reason := e.stopReason(ctx, startDeadline, &aborted); reason != "" {
			e.logger.Warn("Not starting remaining items",
				slog.String("reason", reason),
				slog.Int("remaining", len(items)-i),
			)
			result.NotStarted = appendIDs(result.NotStarted, items[i:])
			break
		}

		if err := sem.Acquire(startCtx, 1); err != nil {
			e.logger.Warn("No execution slot before start deadline",
				slog.Int("remaining", len(items)-i),
			)
			result.NotStarted = appendIDs(result.NotStarted, items[i:])
			break
		}

		// Re-check: the run may have been aborted while waiting for a slot
		if reason := e.stopReason(ctx, startDeadline, &aborted); reason != "" {
			sem.Release(1)
			result.NotStarted = appendIDs(result.NotStarted, items[i:])
			break
		}

		current := int(inFlight.Add(1))
		mu.Lock()
		if current > result.MaxInFlight {
			result.MaxInFlight = current
		}
		mu.Unlock()

		timeout := e.itemTimeout(budgetEnd)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			defer inFlight.Add(-1)

			outcome := e.runItem(ctx, item, timeout, fn)
			if outcome.Err != nil && errors.Is(outcome.Err, domain.ErrStoreUnavailable) {
				err := outcome.Err
				aborted.CompareAndSwap(nil, &err)
			}

			mu.Lock()
			result.Outcomes = append(result.Outcomes, outcome)
			mu.Unlock()
		}()
	}

	wg.Wait()

	if errp := aborted.Load(); errp != nil {
		result.Aborted = *errp
	}

	e.logger.Info("Batch execution finished",
		slog.Int("settled", len(result.Outcomes)),
		slog.Int("not_started", len(result.NotStarted)),
		slog.Int("max_in_flight", result.MaxInFlight),
		slog.Duration("elapsed", e.now().Sub(start)),
	)
	return result
}

// stopReason explains why no further item may be started, or returns ""
func (e *Executor) stopReason(ctx context.Context, startDeadline time.Time, aborted *atomic.Pointer[error]) string {
	switch {
	case ctx.Err() != nil:
		return "canceled"
	case aborted.Load() != nil:
		return "queue store unavailable"
	case !e.now().Before(startDeadline):
		return "runtime budget exhausted"
	}
	return ""
}

// itemTimeout is the remaining budget, capped at the per-item ceiling
func (e *Executor) itemTimeout(budgetEnd time.Time) time.Duration {
	remaining := budgetEnd.Sub(e.now())
	if e.itemCeiling > 0 && remaining > e.itemCeiling {
		return e.itemCeiling
	}
	if remaining <= 0 {
		return time.Millisecond
	}
	return remaining
}

// runItem races fn against the item timeout. On timeout the executor stops
// waiting; fn keeps running with a canceled context and its result is dropped.
func (e *Executor) runItem(ctx context.Context, item *domain.QueueItem, timeout time.Duration, fn ItemFunc) Outcome {
	itemCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := e.now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("item %s panicked: %v", item.ID, r)
			}
		}()
		done <- fn(itemCtx, item)
	}()

	select {
	case err := <-done:
		return Outcome{ItemID: item.ID, Err: err, Duration: e.now().Sub(started)}

	case <-itemCtx.Done():
		err := fmt.Errorf("%w after %s", domain.ErrItemTimeout, timeout)
		if ctx.Err() != nil {
			err = fmt.Errorf("item abandoned: %w", ctx.Err())
		}
		e.logger.Warn("Item abandoned",
			slog.String("item_id", item.ID),
			slog.Duration("timeout", timeout),
			slog.String("error", err.Error()),
		)
		return Outcome{ItemID: item.ID, Err: err, Duration: e.now().Sub(started), TimedOut: true}
	}
}

func appendIDs(ids []string, items []*domain.QueueItem) []string {
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}
