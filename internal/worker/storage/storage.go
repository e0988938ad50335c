package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/contact-validation/internal/worker/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const itemColumns = `
	id, event_id, client_id, subject_id, status, attempts, max_attempts, next_retry_at,
	validate_email, validate_name, validate_phone, validate_address,
	contact_data, raw_event, validation_results, crm_response, warning,
	error_message, error_details, created_at, processing_started_at,
	processing_completed_at, updated_at`

// Storage is the queue store backed by the queue_items table.
// Every mutation is a single-row statement; nothing spans the eligibility
// read and the later flip to processing.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock replaces the time source used for timestamps and cutoffs
func (s *Storage) WithClock(now func() time.Time) *Storage {
	s.now = now
	return s
}

// itemRow mirrors a queue_items row
type itemRow struct {
	ID          string       `db:"id"`
	EventID     string       `db:"event_id"`
	ClientID    string       `db:"client_id"`
	SubjectID   string       `db:"subject_id"`
	Status      string       `db:"status"`
	Attempts    int          `db:"attempts"`
	MaxAttempts int          `db:"max_attempts"`
	NextRetryAt sql.NullTime `db:"next_retry_at"`

	domain.ValidationFlags

	ContactData           []byte         `db:"contact_data"`
	RawEvent              []byte         `db:"raw_event"`
	ValidationResults     []byte         `db:"validation_results"`
	CRMResponse           []byte         `db:"crm_response"`
	Warning               sql.NullString `db:"warning"`
	ErrorMessage          sql.NullString `db:"error_message"`
	ErrorDetails          []byte         `db:"error_details"`
	CreatedAt             time.Time      `db:"created_at"`
	ProcessingStartedAt   sql.NullTime   `db:"processing_started_at"`
	ProcessingCompletedAt sql.NullTime   `db:"processing_completed_at"`
	UpdatedAt             time.Time      `db:"updated_at"`
}

func (r *itemRow) toDomain() (*domain.QueueItem, error) {
	item := &domain.QueueItem{
		ID:                    r.ID,
		EventID:               r.EventID,
		ClientID:              r.ClientID,
		SubjectID:             r.SubjectID,
		Status:                domain.Status(r.Status),
		Attempts:              r.Attempts,
		MaxAttempts:           r.MaxAttempts,
		NextRetryAt:           timePtr(r.NextRetryAt),
		Flags:                 r.ValidationFlags,
		RawEvent:              json.RawMessage(r.RawEvent),
		CRMResponse:           json.RawMessage(r.CRMResponse),
		Warning:               r.Warning.String,
		ErrorMessage:          r.ErrorMessage.String,
		CreatedAt:             r.CreatedAt,
		ProcessingStartedAt:   timePtr(r.ProcessingStartedAt),
		ProcessingCompletedAt: timePtr(r.ProcessingCompletedAt),
		UpdatedAt:             r.UpdatedAt,
	}

	if len(r.ContactData) > 0 {
		item.Contact = &domain.Contact{}
		if err := json.Unmarshal(r.ContactData, item.Contact); err != nil {
			return nil, fmt.Errorf("failed to decode contact_data of item %s: %w", r.ID, err)
		}
	}
	if len(r.ValidationResults) > 0 {
		if err := json.Unmarshal(r.ValidationResults, &item.ValidationResults); err != nil {
			return nil, fmt.Errorf("failed to decode validation_results of item %s: %w", r.ID, err)
		}
	}
	if len(r.ErrorDetails) > 0 {
		item.ErrorDetail = &domain.ErrorDetail{}
		if err := json.Unmarshal(r.ErrorDetails, item.ErrorDetail); err != nil {
			return nil, fmt.Errorf("failed to decode error_details of item %s: %w", r.ID, err)
		}
	}

	return item, nil
}

// Enqueue inserts a pending item. A second call with the same event id
// returns the existing row's id with Duplicate set.
func (s *Storage) Enqueue(ctx context.Context, item *domain.NewItem) (*domain.EnqueueResult, error) {
	query := `
		INSERT INTO queue_items (
			id, event_id, client_id, subject_id, status, attempts, max_attempts,
			validate_email, validate_name, validate_phone, validate_address,
			raw_event, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, 0, $6,
			$7, $8, $9, $10,
			$11, $12, $12
		)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING id
	`

	now := s.now().UTC()
	var storedID string
	err := s.db.QueryRowxContext(ctx, query,
		uuid.NewString(),
		item.EventID,
		item.ClientID,
		item.SubjectID,
		string(domain.StatusPending),
		item.MaxAttempts,
		item.Flags.Email,
		item.Flags.Name,
		item.Flags.Phone,
		item.Flags.Address,
		jsonParam(item.RawEvent),
		now,
	).Scan(&storedID)

	switch {
	case err == nil:
		s.logger.Info("Queue item enqueued",
			slog.String("item_id", storedID),
			slog.String("event_id", item.EventID),
		)
		return &domain.EnqueueResult{ID: storedID}, nil

	case errors.Is(err, sql.ErrNoRows), isUniqueViolation(err):
		existingID, lookupErr := s.idForEvent(ctx, item.EventID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		s.logger.Info("Duplicate event ignored",
			slog.String("item_id", existingID),
			slog.String("event_id", item.EventID),
		)
		return &domain.EnqueueResult{ID: existingID, Duplicate: true}, nil

	default:
		return nil, fmt.Errorf("failed to enqueue item: %w", err)
	}
}

func (s *Storage) idForEvent(ctx context.Context, eventID string) (string, error) {
	var id string
	err := s.db.GetContext(ctx, &id, `SELECT id FROM queue_items WHERE event_id = $1`, eventID)
	if err != nil {
		return "", fmt.Errorf("failed to look up duplicate event: %w", err)
	}
	return id, nil
}

// GetByID retrieves a queue item by its ID
func (s *Storage) GetByID(ctx context.Context, id string) (*domain.QueueItem, error) {
	var row itemRow
	err := s.db.GetContext(ctx, &row, `SELECT `+itemColumns+` FROM queue_items WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return row.toDomain()
}

// FetchEligible returns up to limit pickable items, oldest first
func (s *Storage) FetchEligible(ctx context.Context, limit int) ([]*domain.QueueItem, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM queue_items
		WHERE status = $1
		  AND attempts < max_attempts
		  AND (next_retry_at IS NULL OR next_retry_at <= $2)
		ORDER BY created_at ASC, id ASC
		LIMIT $3
	`
	return s.selectItems(ctx, "fetch eligible items", query, string(domain.StatusPending), s.now().UTC(), limit)
}

// FindStalled returns processing items whose processing started more than threshold ago
func (s *Storage) FindStalled(ctx context.Context, threshold time.Duration) ([]*domain.QueueItem, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM queue_items
		WHERE status = $1
		  AND processing_started_at < $2
		ORDER BY processing_started_at ASC
	`
	cutoff := s.now().UTC().Add(-threshold)
	return s.selectItems(ctx, "find stalled items", query, string(domain.StatusProcessing), cutoff)
}

// FindExhausted returns pending items that can never become eligible again
func (s *Storage) FindExhausted(ctx context.Context) ([]*domain.QueueItem, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM queue_items
		WHERE status = $1
		  AND attempts >= max_attempts
		ORDER BY created_at ASC
	`
	return s.selectItems(ctx, "find exhausted items", query, string(domain.StatusPending))
}

// FindExpiredCompleted returns completed items finished more than retention ago
func (s *Storage) FindExpiredCompleted(ctx context.Context, retention time.Duration) ([]*domain.QueueItem, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM queue_items
		WHERE status = $1
		  AND processing_completed_at < $2
		ORDER BY processing_completed_at ASC
	`
	cutoff := s.now().UTC().Add(-retention)
	return s.selectItems(ctx, "find expired items", query, string(domain.StatusCompleted), cutoff)
}

func (s *Storage) selectItems(ctx context.Context, op, query string, args ...interface{}) ([]*domain.QueueItem, error) {
	var rows []itemRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}

	items := make([]*domain.QueueItem, 0, len(rows))
	for i := range rows {
		item, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// UpdateStatus sets the item's status together with the columns present in fields
func (s *Storage) UpdateStatus(ctx context.Context, id string, status domain.Status, fields domain.StatusUpdate) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status: %q", status)
	}

	set := newSetBuilder()
	set.add("status", string(status))
	set.add("updated_at", s.now().UTC())

	if fields.Attempts != nil {
		set.add("attempts", *fields.Attempts)
	}
	if fields.ClearNextRetry {
		set.null("next_retry_at")
	} else if fields.NextRetryAt != nil {
		set.add("next_retry_at", fields.NextRetryAt.UTC())
	}
	if fields.ClearProcessingStart {
		set.null("processing_started_at")
	} else if fields.ProcessingStartedAt != nil {
		set.add("processing_started_at", fields.ProcessingStartedAt.UTC())
	}
	if fields.ProcessingCompletedAt != nil {
		set.add("processing_completed_at", fields.ProcessingCompletedAt.UTC())
	}
	if fields.ValidationResults != nil {
		data, err := json.Marshal(fields.ValidationResults)
		if err != nil {
			return fmt.Errorf("failed to marshal validation results: %w", err)
		}
		set.add("validation_results", string(data))
	}
	if len(fields.CRMResponse) > 0 {
		set.add("crm_response", string(fields.CRMResponse))
	}
	if fields.Warning != nil {
		set.add("warning", *fields.Warning)
	}
	if fields.ClearError {
		set.null("error_message")
		set.null("error_details")
	} else {
		if fields.ErrorMessage != nil {
			set.add("error_message", *fields.ErrorMessage)
		}
		if fields.ErrorDetail != nil {
			data, err := json.Marshal(fields.ErrorDetail)
			if err != nil {
				return fmt.Errorf("failed to marshal error details: %w", err)
			}
			set.add("error_details", string(data))
		}
	}

	if err := s.execOne(ctx, "update item status", set.update(id)); err != nil {
		return err
	}

	s.logger.Debug("Queue item status updated",
		slog.String("item_id", id),
		slog.String("status", string(status)),
	)
	return nil
}

// UpdateData writes work-descriptor data without touching the status
func (s *Storage) UpdateData(ctx context.Context, id string, fields domain.DataUpdate) error {
	set := newSetBuilder()
	set.add("updated_at", s.now().UTC())

	if fields.Contact != nil {
		data, err := json.Marshal(fields.Contact)
		if err != nil {
			return fmt.Errorf("failed to marshal contact data: %w", err)
		}
		set.add("contact_data", string(data))
	}

	return s.execOne(ctx, "update item data", set.update(id))
}

// Retry puts a failed or pending item back at the start of its lifecycle
func (s *Storage) Retry(ctx context.Context, id string) error {
	query := `
		UPDATE queue_items
		SET status = $1,
		    attempts = 0,
		    next_retry_at = NULL,
		    processing_started_at = NULL,
		    processing_completed_at = NULL,
		    error_message = NULL,
		    error_details = NULL,
		    updated_at = $2
		WHERE id = $3
		  AND status IN ($4, $1)
	`

	res, err := s.db.ExecContext(ctx, query, string(domain.StatusPending), s.now().UTC(), id, string(domain.StatusFailed))
	if err != nil {
		return fmt.Errorf("failed to retry item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: only failed or pending items can be retried", domain.ErrInvalidTransition)
	}

	s.logger.Info("Queue item reset for retry", slog.String("item_id", id))
	return nil
}

// Delete removes a single item
func (s *Storage) Delete(ctx context.Context, id string) error {
	return s.execOne(ctx, "delete item", statement{
		query: `DELETE FROM queue_items WHERE id = $1`,
		args:  []interface{}{id},
	})
}

// Stats returns counts per status and the age markers used for alerting
func (s *Storage) Stats(ctx context.Context) (*domain.QueueStats, error) {
	var counts []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	err := s.db.SelectContext(ctx, &counts, `SELECT status, COUNT(*) AS count FROM queue_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}

	stats := &domain.QueueStats{Counts: make(map[domain.Status]int, 4)}
	for _, st := range []domain.Status{domain.StatusPending, domain.StatusProcessing, domain.StatusCompleted, domain.StatusFailed} {
		stats.Counts[st] = 0
	}
	for _, c := range counts {
		stats.Counts[domain.Status(c.Status)] = c.Count
	}

	var ages struct {
		OldestNonTerminal sql.NullTime `db:"oldest_non_terminal"`
		OldestProcessing  sql.NullTime `db:"oldest_processing"`
	}
	err = s.db.GetContext(ctx, &ages, `
		SELECT
			MIN(created_at) FILTER (WHERE status IN ($1, $2)) AS oldest_non_terminal,
			MIN(processing_started_at) FILTER (WHERE status = $2) AS oldest_processing
		FROM queue_items
	`, string(domain.StatusPending), string(domain.StatusProcessing))
	if err != nil {
		return nil, fmt.Errorf("failed to read queue ages: %w", err)
	}
	stats.OldestNonTerminalAt = timePtr(ages.OldestNonTerminal)
	stats.OldestProcessingStart = timePtr(ages.OldestProcessing)

	return stats, nil
}

type statement struct {
	query string
	args  []interface{}
}

func (s *Storage) execOne(ctx context.Context, op string, stmt statement) error {
	res, err := s.db.ExecContext(ctx, stmt.query, stmt.args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrItemNotFound
	}
	return nil
}

// setBuilder accumulates "col = $n" assignments for a single-row UPDATE
type setBuilder struct {
	clauses []string
	args    []interface{}
}

func newSetBuilder() *setBuilder {
	return &setBuilder{}
}

func (b *setBuilder) add(column string, value interface{}) {
	b.args = append(b.args, value)
	b.clauses = append(b.clauses, fmt.Sprintf("%s = $%d", column, len(b.args)))
}

func (b *setBuilder) null(column string) {
	b.clauses = append(b.clauses, column+" = NULL")
}

func (b *setBuilder) update(id string) statement {
	args := append(b.args, id)
	return statement{
		query: fmt.Sprintf("UPDATE queue_items SET %s WHERE id = $%d", strings.Join(b.clauses, ", "), len(args)),
		args:  args,
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgerrcode.UniqueViolation
}

func jsonParam(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
