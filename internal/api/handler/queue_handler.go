package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/contact-validation/internal/api/dto"
	"github.com/cuongbtq/contact-validation/internal/api/model"
	"github.com/cuongbtq/contact-validation/internal/api/storage"
	"github.com/cuongbtq/contact-validation/internal/worker/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CreateEvent handles POST /api/v1/events
// Enqueues a CRM change event; repeated event ids are reported as duplicates
func (h *QueueHandler) CreateEvent(c *gin.Context) {
	var req dto.CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	event := req.ToEvent()
	if err := event.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	result, err := h.queue.Enqueue(c.Request.Context(), event.ToNewItem(h.maxAttempts))
	if err != nil {
		h.logger.Error("Failed to enqueue event",
			slog.String("event_id", event.EventID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to enqueue event",
		})
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}

	h.logger.Info("Event accepted",
		slog.String("event_id", event.EventID),
		slog.String("item_id", result.ID),
		slog.Bool("duplicate", result.Duplicate),
	)

	c.JSON(status, dto.EnqueueResponse{
		ID:        result.ID,
		EventID:   event.EventID,
		Duplicate: result.Duplicate,
	})
}

// GetItem handles GET /api/v1/queue/items/:id
func (h *QueueHandler) GetItem(c *gin.Context) {
	id, ok := h.itemID(c)
	if !ok {
		return
	}

	item, err := h.queue.GetByID(c.Request.Context(), id)
	if err != nil {
		h.writeItemError(c, id, "Failed to get item", err)
		return
	}

	c.JSON(http.StatusOK, toDetailDTO(item))
}

// ListItems handles GET /api/v1/queue/items
// Lists items newest first with optional status/client filters and cursor pagination
func (h *QueueHandler) ListItems(c *gin.Context) {
	var req dto.ListItemsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.Status != "" && !domain.Status(req.Status).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "status must be one of pending, processing, completed, failed",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeItemCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	items, err := h.items.ListItems(c.Request.Context(), storage.ItemFilter{
		ClientID: req.ClientID,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list items", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list items",
		})
		return
	}

	hasMore := len(items) > req.PageSize
	if hasMore {
		items = items[:req.PageSize]
	}

	resp := dto.ListItemsResponse{Items: make([]dto.ItemDTO, len(items))}
	for i := range items {
		resp.Items[i] = toItemDTO(&items[i])
	}

	if hasMore {
		last := items[len(items)-1]
		resp.NextCursor = EncodeItemCursor(&storage.ItemCursor{
			CreatedAt: last.CreatedAt,
			ItemID:    last.ID,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// RetryItem handles POST /api/v1/queue/items/:id/retry
// Resets a failed or pending item so the next batch picks it up
func (h *QueueHandler) RetryItem(c *gin.Context) {
	id, ok := h.itemID(c)
	if !ok {
		return
	}

	if err := h.queue.Retry(c.Request.Context(), id); err != nil {
		h.writeItemError(c, id, "Failed to retry item", err)
		return
	}

	h.logger.Info("Item queued for manual retry", slog.String("item_id", id))
	c.JSON(http.StatusAccepted, gin.H{
		"id":     id,
		"status": string(domain.StatusPending),
	})
}

// GetStats handles GET /api/v1/queue/stats
func (h *QueueHandler) GetStats(c *gin.Context) {
	stats, err := h.queue.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to read queue stats", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read queue stats",
		})
		return
	}

	now := time.Now()
	c.JSON(http.StatusOK, dto.StatsResponse{
		Counts:                  stats.Counts,
		OldestNonTerminalAgeSec: stats.OldestNonTerminalAge(now).Seconds(),
		LongestProcessingAgeSec: stats.LongestProcessingAge(now).Seconds(),
	})
}

// Health handles GET /health
func (h *QueueHandler) Health(c *gin.Context) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := h.db.HealthCheck(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": h.serviceName,
				"error":   err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": h.serviceName,
	})
}

func (h *QueueHandler) itemID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		h.logger.Error("Invalid item id format", slog.String("item_id", id), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "id must be a valid UUID",
		})
		return "", false
	}
	return id, true
}

func (h *QueueHandler) writeItemError(c *gin.Context, id, message string, err error) {
	switch {
	case errors.Is(err, domain.ErrItemNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not found"})
	case errors.Is(err, domain.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error(message, slog.String("item_id", id), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": message})
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toItemDTO(item *model.QueueItem) dto.ItemDTO {
	return dto.ItemDTO{
		ID:                    item.ID,
		EventID:               item.EventID,
		ClientID:              item.ClientID,
		SubjectID:             item.SubjectID,
		Status:                item.Status,
		Attempts:              item.Attempts,
		MaxAttempts:           item.MaxAttempts,
		NextRetryAt:           formatTime(item.NextRetryAt),
		Warning:               deref(item.Warning),
		ErrorMessage:          deref(item.ErrorMessage),
		CreatedAt:             item.CreatedAt.UTC().Format(time.RFC3339),
		ProcessingCompletedAt: formatTime(item.ProcessingCompletedAt),
		UpdatedAt:             item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toDetailDTO(item *domain.QueueItem) dto.ItemDetailDTO {
	return dto.ItemDetailDTO{
		ItemDTO: dto.ItemDTO{
			ID:                    item.ID,
			EventID:               item.EventID,
			ClientID:              item.ClientID,
			SubjectID:             item.SubjectID,
			Status:                string(item.Status),
			Attempts:              item.Attempts,
			MaxAttempts:           item.MaxAttempts,
			NextRetryAt:           formatTime(item.NextRetryAt),
			Warning:               item.Warning,
			ErrorMessage:          item.ErrorMessage,
			CreatedAt:             item.CreatedAt.UTC().Format(time.RFC3339),
			ProcessingCompletedAt: formatTime(item.ProcessingCompletedAt),
			UpdatedAt:             item.UpdatedAt.UTC().Format(time.RFC3339),
		},
		Flags:             item.Flags,
		Contact:           item.Contact,
		ValidationResults: item.ValidationResults,
		CRMResponse:       item.CRMResponse,
		ErrorDetail:       item.ErrorDetail,
		ProcessingStarted: formatTime(item.ProcessingStartedAt),
	}
}
