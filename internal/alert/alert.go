// Package alert delivers threshold-triggered operator alerts raised by the
// maintenance jobs.
package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Kind names the condition that raised an alert
type Kind string

// Alert kinds
const (
	KindBacklog Kind = "backlog"
	KindStall   Kind = "stall"
)

// Alert is one observability signal. It never drives control flow.
type Alert struct {
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	RaisedAt  time.Time `json:"raised_at"`
}

// Sink receives alerts
type Sink interface {
	Send(ctx context.Context, a Alert) error
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(ctx context.Context, a Alert) error

// Send implements Sink
func (f SinkFunc) Send(ctx context.Context, a Alert) error {
	return f(ctx, a)
}

// LogSink writes alerts to the structured log
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs every alert at warn level
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Send implements Sink
func (s *LogSink) Send(_ context.Context, a Alert) error {
	s.logger.Warn("Alert raised",
		slog.String("kind", string(a.Kind)),
		slog.String("message", a.Message),
		slog.Float64("value", a.Value),
		slog.Float64("threshold", a.Threshold),
	)
	return nil
}

// Publisher is the subset of the RabbitMQ client used to deliver alerts
type Publisher interface {
	PublishWithKey(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// RabbitSink publishes alerts as JSON messages routed by kind
type RabbitSink struct {
	publisher Publisher
	prefix    string
}

// NewRabbitSink creates a sink publishing to "<prefix>.<kind>"
func NewRabbitSink(publisher Publisher, prefix string) *RabbitSink {
	if prefix == "" {
		prefix = "alerts"
	}
	return &RabbitSink{publisher: publisher, prefix: prefix}
}

// Send implements Sink
func (s *RabbitSink) Send(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}
	if err := s.publisher.PublishWithKey(ctx, s.prefix+"."+string(a.Kind), body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	return nil
}

// Fanout delivers every alert to all sinks and joins their errors
type Fanout []Sink

// Send implements Sink
func (f Fanout) Send(ctx context.Context, a Alert) error {
	var errs []error
	for _, s := range f {
		if err := s.Send(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
