package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/contact-validation/internal/worker/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeItems(n int) []*domain.QueueItem {
	items := make([]*domain.QueueItem, n)
	for i := range items {
		items[i] = &domain.QueueItem{ID: fmt.Sprintf("item-%d", i), Status: domain.StatusPending, MaxAttempts: 3}
	}
	return items
}

func newTestExecutor(concurrency int, maxRuntime time.Duration) *Executor {
	return NewExecutor(&ExecutorConfig{
		Logger:             discardLogger(),
		Concurrency:        concurrency,
		MaxRuntime:         maxRuntime,
		SafetyMargin:       0,
		ItemTimeoutCeiling: maxRuntime,
	})
}

func TestExecutor_BoundsConcurrency(t *testing.T) {
	e := newTestExecutor(2, 10*time.Second)

	var current, peak atomic.Int64
	result := e.Run(context.Background(), makeItems(5), func(ctx context.Context, item *domain.QueueItem) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		return nil
	})

	assert.Len(t, result.Outcomes, 5)
	assert.Empty(t, result.NotStarted)
	assert.LessOrEqual(t, peak.Load(), int64(2))
	assert.LessOrEqual(t, result.MaxInFlight, 2)
	assert.Equal(t, 2, result.MaxInFlight)
	assert.Nil(t, result.Aborted)
}

func TestExecutor_CollectsEveryOutcome(t *testing.T) {
	e := newTestExecutor(3, 10*time.Second)
	boom := errors.New("boom")

	result := e.Run(context.Background(), makeItems(4), func(ctx context.Context, item *domain.QueueItem) error {
		if item.ID == "item-1" {
			return boom
		}
		if item.ID == "item-2" {
			panic("validator exploded")
		}
		return nil
	})

	require.Len(t, result.Outcomes, 4)
	byID := make(map[string]Outcome)
	for _, o := range result.Outcomes {
		byID[o.ItemID] = o
	}
	assert.NoError(t, byID["item-0"].Err)
	assert.ErrorIs(t, byID["item-1"].Err, boom)
	assert.ErrorContains(t, byID["item-2"].Err, "panicked")
	assert.NoError(t, byID["item-3"].Err)
}

func TestExecutor_NoStartsAfterDeadline(t *testing.T) {
	e := NewExecutor(&ExecutorConfig{
		Logger:             discardLogger(),
		Concurrency:        1,
		MaxRuntime:         150 * time.Millisecond,
		SafetyMargin:       50 * time.Millisecond,
		ItemTimeoutCeiling: time.Second,
	})

	var mu sync.Mutex
	var started []string
	result := e.Run(context.Background(), makeItems(10), func(ctx context.Context, item *domain.QueueItem) error {
		mu.Lock()
		started = append(started, item.ID)
		mu.Unlock()
		time.Sleep(40 * time.Millisecond)
		return nil
	})

	assert.NotEmpty(t, result.NotStarted)
	assert.Less(t, len(started), 10)
	assert.Equal(t, 10, len(result.Outcomes)+len(result.NotStarted))
	for _, id := range result.NotStarted {
		assert.NotContains(t, started, id)
	}
}

func TestExecutor_ItemTimeout(t *testing.T) {
	e := NewExecutor(&ExecutorConfig{
		Logger:             discardLogger(),
		Concurrency:        2,
		MaxRuntime:         5 * time.Second,
		ItemTimeoutCeiling: 30 * time.Millisecond,
	})

	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	result := e.Run(context.Background(), makeItems(2), func(ctx context.Context, item *domain.QueueItem) error {
		if item.ID == "item-0" {
			<-release
		}
		return nil
	})

	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, result.Outcomes, 2)
	for _, o := range result.Outcomes {
		if o.ItemID == "item-0" {
			assert.True(t, o.TimedOut)
			assert.ErrorIs(t, o.Err, domain.ErrItemTimeout)
			continue
		}
		assert.False(t, o.TimedOut)
		assert.NoError(t, o.Err)
	}
}

func TestExecutor_StoreFailureAbortsRun(t *testing.T) {
	e := newTestExecutor(1, 10*time.Second)

	var calls atomic.Int64
	result := e.Run(context.Background(), makeItems(5), func(ctx context.Context, item *domain.QueueItem) error {
		calls.Add(1)
		if item.ID == "item-1" {
			return fmt.Errorf("%w: connection refused", domain.ErrStoreUnavailable)
		}
		return nil
	})

	assert.ErrorIs(t, result.Aborted, domain.ErrStoreUnavailable)
	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, []string{"item-2", "item-3", "item-4"}, result.NotStarted)
}

func TestExecutor_CanceledContext(t *testing.T) {
	e := newTestExecutor(2, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int64
	result := e.Run(ctx, makeItems(3), func(ctx context.Context, item *domain.QueueItem) error {
		calls.Add(1)
		return nil
	})

	assert.Zero(t, calls.Load())
	assert.Empty(t, result.Outcomes)
	assert.Len(t, result.NotStarted, 3)
}
