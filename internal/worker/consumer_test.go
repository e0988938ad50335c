package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/contact-validation/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type settlement struct {
	tag     uint64
	ack     bool
	requeue bool
}

// recordingAcknowledger captures how each delivery was settled
type recordingAcknowledger struct {
	mu      sync.Mutex
	settled []settlement
}

func (a *recordingAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled = append(a.settled, settlement{tag: tag, ack: true})
	return nil
}

func (a *recordingAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled = append(a.settled, settlement{tag: tag, requeue: requeue})
	return nil
}

func (a *recordingAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *recordingAcknowledger) results() []settlement {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]settlement(nil), a.settled...)
}

type chanSource struct {
	ch  chan amqp.Delivery
	err error
}

func (s *chanSource) Consume(string) (<-chan amqp.Delivery, error) {
	return s.ch, s.err
}

type failingEnqueuer struct {
	err error
}

func (e failingEnqueuer) Enqueue(context.Context, *domain.NewItem) (*domain.EnqueueResult, error) {
	return nil, e.err
}

func newTestConsumer(store Enqueuer) *Consumer {
	return NewConsumer(&ConsumerConfig{
		Logger:      discardLogger(),
		Store:       store,
		ConsumerTag: "test",
		MaxAttempts: 4,
	})
}

func delivery(ack amqp.Acknowledger, tag uint64, body string) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, Body: []byte(body)}
}

const validEvent = `{"event_id":"evt-1","subject_id":"sub-1","client_id":"client-1","validations":{"email":true}}`

func TestConsumer_HandleDelivery(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		store Enqueuer
		want  settlement
	}{
		{
			name:  "valid event is acknowledged",
			body:  validEvent,
			store: newMemStore(time.Now),
			want:  settlement{tag: 1, ack: true},
		},
		{
			name:  "malformed json is dropped",
			body:  `{"event_id":`,
			store: newMemStore(time.Now),
			want:  settlement{tag: 1},
		},
		{
			name:  "missing validations is dropped",
			body:  `{"event_id":"evt-1","subject_id":"sub-1","client_id":"client-1"}`,
			store: newMemStore(time.Now),
			want:  settlement{tag: 1},
		},
		{
			name:  "store failure is requeued",
			body:  validEvent,
			store: failingEnqueuer{err: errors.New("connection refused")},
			want:  settlement{tag: 1, requeue: true},
		},
		{
			name:  "invalid descriptor from store is dropped",
			body:  validEvent,
			store: failingEnqueuer{err: domain.ErrInvalidDescriptor},
			want:  settlement{tag: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := &recordingAcknowledger{}
			newTestConsumer(tt.store).handleDelivery(context.Background(), delivery(ack, 1, tt.body))
			assert.Equal(t, []settlement{tt.want}, ack.results())
		})
	}
}

func TestConsumer_DuplicateEventsAcknowledged(t *testing.T) {
	store := newMemStore(time.Now)
	ack := &recordingAcknowledger{}
	c := newTestConsumer(store)

	c.handleDelivery(context.Background(), delivery(ack, 1, validEvent))
	c.handleDelivery(context.Background(), delivery(ack, 2, validEvent))

	assert.Equal(t, []settlement{{tag: 1, ack: true}, {tag: 2, ack: true}}, ack.results())
	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Counts[domain.StatusPending])

	items, err := store.FetchEligible(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 4, items[0].MaxAttempts)
}

func TestConsumer_Run(t *testing.T) {
	source := &chanSource{ch: make(chan amqp.Delivery, 2)}
	store := newMemStore(time.Now)
	ack := &recordingAcknowledger{}

	c := newTestConsumer(store)
	c.source = source

	source.ch <- delivery(ack, 1, validEvent)
	close(source.ch)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, []settlement{{tag: 1, ack: true}}, ack.results())
}

func TestConsumer_RunStopsOnCancel(t *testing.T) {
	c := newTestConsumer(newMemStore(time.Now))
	c.source = &chanSource{ch: make(chan amqp.Delivery)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, c.Run(ctx))

	c.source = &chanSource{err: errors.New("channel closed")}
	assert.ErrorContains(t, c.Run(context.Background()), "failed to start consuming")
}
