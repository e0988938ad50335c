package worker

import (
	"context"
	"testing"
	"time"

	"github.com/cuongbtq/contact-validation/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_StartStop(t *testing.T) {
	logger := discardLogger()
	store := newMemStore(time.Now)

	source := &chanSource{ch: make(chan amqp.Delivery, 1)}
	ack := &recordingAcknowledger{}
	source.ch <- delivery(ack, 7, validEvent)

	consumer := newTestConsumer(store)
	consumer.source = source

	w := NewWorker(&Config{
		Logger:      logger,
		Coordinator: newTestCoordinator(store, func(context.Context, *domain.QueueItem) error { return nil }, nil),
		Maintenance: NewMaintenance(&MaintenanceConfig{
			Logger:             logger,
			Store:              store,
			StalledThreshold:   30 * time.Minute,
			CompletedRetention: 24 * time.Hour,
		}),
		Scheduler:           NewScheduler(logger),
		Consumer:            consumer,
		ProcessSchedule:     "@every 1h",
		MaintenanceSchedule: "@every 1h",
	})

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan error, 1)
	go func() { started <- w.Start(ctx) }()

	assert.Eventually(t, func() bool { return len(ack.results()) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-started)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	require.NoError(t, w.Stop(stopCtx))
	require.NoError(t, w.Stop(stopCtx))

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Counts[domain.StatusPending])
}

func TestWorker_RejectsBadSchedule(t *testing.T) {
	logger := discardLogger()
	w := NewWorker(&Config{
		Logger:          logger,
		Scheduler:       NewScheduler(logger),
		ProcessSchedule: "not a schedule",
	})

	assert.ErrorContains(t, w.Start(context.Background()), "invalid schedule")
}
