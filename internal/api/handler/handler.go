package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/contact-validation/internal/api/model"
	"github.com/cuongbtq/contact-validation/internal/api/storage"
	"github.com/cuongbtq/contact-validation/internal/worker/domain"
)

// QueueService is the queue store surface the API writes and reads through
type QueueService interface {
	Enqueue(ctx context.Context, item *domain.NewItem) (*domain.EnqueueResult, error)
	GetByID(ctx context.Context, id string) (*domain.QueueItem, error)
	Retry(ctx context.Context, id string) error
	Stats(ctx context.Context) (*domain.QueueStats, error)
}

// ItemLister serves paginated item listings
type ItemLister interface {
	ListItems(ctx context.Context, filter storage.ItemFilter) ([]model.QueueItem, error)
}

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Queue       QueueService
	Items       ItemLister
	DB          HealthChecker
	MaxAttempts int
	ServiceName string
}

// QueueHandler handles ingress and operator queue requests
type QueueHandler struct {
	logger      *slog.Logger
	queue       QueueService
	items       ItemLister
	db          HealthChecker
	maxAttempts int
	serviceName string
}

// NewQueueHandler creates a new QueueHandler instance
func NewQueueHandler(deps *Dependencies) *QueueHandler {
	return &QueueHandler{
		logger:      deps.Logger,
		queue:       deps.Queue,
		items:       deps.Items,
		db:          deps.DB,
		maxAttempts: deps.MaxAttempts,
		serviceName: deps.ServiceName,
	}
}
