package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/contact-validation/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliverySource hands out AMQP deliveries for a consumer tag
type DeliverySource interface {
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Enqueuer writes new items into the queue
type Enqueuer interface {
	Enqueue(ctx context.Context, item *domain.NewItem) (*domain.EnqueueResult, error)
}

// ConsumerConfig holds AMQP ingress settings
type ConsumerConfig struct {
	Logger      *slog.Logger
	Source      DeliverySource
	Store       Enqueuer
	ConsumerTag string
	MaxAttempts int
}

// Consumer turns change events arriving on RabbitMQ into pending queue items
type Consumer struct {
	logger      *slog.Logger
	source      DeliverySource
	store       Enqueuer
	consumerTag string
	maxAttempts int
}

// NewConsumer creates a new AMQP ingress consumer
func NewConsumer(cfg *ConsumerConfig) *Consumer {
	return &Consumer{
		logger:      cfg.Logger.With(slog.String("component", "consumer")),
		source:      cfg.Source,
		store:       cfg.Store,
		consumerTag: cfg.ConsumerTag,
		maxAttempts: cfg.MaxAttempts,
	}
}

// Run consumes until ctx is canceled or the delivery channel closes
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.source.Consume(c.consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Event consumer started", slog.String("consumer_tag", c.consumerTag))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Event consumer stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed")
				return nil
			}
			c.handleDelivery(ctx, delivery)
		}
	}
}

// handleDelivery enqueues one event and settles the delivery. Malformed events
// are dropped; store failures are requeued; duplicates are acknowledged.
func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	var event domain.IngressEvent
	if err := json.Unmarshal(delivery.Body, &event); err != nil {
		c.logger.Error("Failed to parse event JSON",
			slog.String("error", err.Error()),
			slog.Int("body_size", len(delivery.Body)),
		)
		c.nack(delivery, false)
		return
	}

	if err := event.Validate(); err != nil {
		c.logger.Error("Rejected invalid event",
			slog.String("event_id", event.EventID),
			slog.String("error", err.Error()),
		)
		c.nack(delivery, false)
		return
	}

	result, err := c.store.Enqueue(ctx, event.ToNewItem(c.maxAttempts))
	if err != nil {
		c.logger.Error("Failed to enqueue event",
			slog.String("event_id", event.EventID),
			slog.String("error", err.Error()),
		)
		c.nack(delivery, !errors.Is(err, domain.ErrInvalidDescriptor))
		return
	}

	if err := delivery.Ack(false); err != nil {
		c.logger.Error("Failed to ACK message",
			slog.String("event_id", event.EventID),
			slog.String("error", err.Error()),
		)
		return
	}

	c.logger.Info("Event enqueued",
		slog.String("event_id", event.EventID),
		slog.String("item_id", result.ID),
		slog.Bool("duplicate", result.Duplicate),
	)
}

func (c *Consumer) nack(delivery amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		c.logger.Error("Failed to NACK message",
			slog.String("error", err.Error()),
			slog.Bool("requeue", requeue),
		)
	}
}
