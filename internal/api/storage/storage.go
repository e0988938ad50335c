package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cuongbtq/contact-validation/internal/api/model"
	"github.com/jmoiron/sqlx"
)

// Storage serves the read-side listing queries of the operator API
type Storage struct {
	db *sqlx.DB
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{
		db: db,
	}
}

type ItemFilter struct {
	ClientID string
	Status   string
	PageSize int
	Cursor   *ItemCursor
}

type ItemCursor struct {
	CreatedAt time.Time
	ItemID    string
}

// ListItems returns up to PageSize+1 items, newest first, so callers can tell
// whether another page exists
func (s *Storage) ListItems(ctx context.Context, filter ItemFilter) ([]model.QueueItem, error) {
	query := `
        SELECT
            id, event_id, client_id, subject_id, status,
            attempts, max_attempts, next_retry_at, warning, error_message,
            created_at, processing_completed_at, updated_at
        FROM queue_items
        WHERE 1=1
    `
	args := []interface{}{}
	argIdx := 1

	if filter.ClientID != "" {
		query += fmt.Sprintf(" AND client_id = $%d", argIdx)
		args = append(args, filter.ClientID)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.ItemID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"

	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var items []model.QueueItem
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}

	return items, nil
}
