package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cuongbtq/contact-validation/internal/alert"
	"github.com/cuongbtq/contact-validation/internal/worker/domain"
)

// QueueStore is the durable queue the processor drains
type QueueStore interface {
	Enqueue(ctx context.Context, item *domain.NewItem) (*domain.EnqueueResult, error)
	GetByID(ctx context.Context, id string) (*domain.QueueItem, error)
	FetchEligible(ctx context.Context, limit int) ([]*domain.QueueItem, error)
	UpdateStatus(ctx context.Context, id string, status domain.Status, fields domain.StatusUpdate) error
	UpdateData(ctx context.Context, id string, fields domain.DataUpdate) error
	FindStalled(ctx context.Context, threshold time.Duration) ([]*domain.QueueItem, error)
	FindExhausted(ctx context.Context) ([]*domain.QueueItem, error)
	FindExpiredCompleted(ctx context.Context, retention time.Duration) ([]*domain.QueueItem, error)
	Delete(ctx context.Context, id string) error
	Retry(ctx context.Context, id string) error
	Stats(ctx context.Context) (*domain.QueueStats, error)
}

// SubmitResult is the CRM's answer to a property update
type SubmitResult struct {
	Response json.RawMessage
	Warning  string
}

// CRM fetches contact context and receives validated properties
type CRM interface {
	FetchContext(ctx context.Context, subjectID string) (*domain.Contact, error)
	Submit(ctx context.Context, subjectID string, fields map[string]string) (*SubmitResult, error)
}

// Validator checks one kind of contact field and returns normalized output fields
type Validator interface {
	Validate(ctx context.Context, contact *domain.Contact) (map[string]string, error)
}

// ValidatorFunc adapts a function to the Validator interface
type ValidatorFunc func(ctx context.Context, contact *domain.Contact) (map[string]string, error)

// Validate implements Validator
func (f ValidatorFunc) Validate(ctx context.Context, contact *domain.Contact) (map[string]string, error) {
	return f(ctx, contact)
}

// UsageCounter records billable validations per client
type UsageCounter interface {
	Increment(ctx context.Context, clientID string, t domain.ValidationType) error
}

// MetricsSink receives run statistics after every batch run
type MetricsSink interface {
	RecordRun(ctx context.Context, stats *domain.RunStats, snapshot domain.MetricsSnapshot) error
}

// AlertSink receives threshold-triggered operator alerts
type AlertSink = alert.Sink
