package model

import "time"

// QueueItem is the listing projection of a queue row
type QueueItem struct {
	ID                    string     `db:"id"`
	EventID               string     `db:"event_id"`
	ClientID              string     `db:"client_id"`
	SubjectID             string     `db:"subject_id"`
	Status                string     `db:"status"`
	Attempts              int        `db:"attempts"`
	MaxAttempts           int        `db:"max_attempts"`
	NextRetryAt           *time.Time `db:"next_retry_at"`
	Warning               *string    `db:"warning"`
	ErrorMessage          *string    `db:"error_message"`
	CreatedAt             time.Time  `db:"created_at"`
	ProcessingCompletedAt *time.Time `db:"processing_completed_at"`
	UpdatedAt             time.Time  `db:"updated_at"`
}
