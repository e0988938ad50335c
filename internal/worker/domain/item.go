package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ValidationFlags records which validations the ingress event asked for
type ValidationFlags struct {
	Email   bool `json:"email" db:"validate_email"`
	Name    bool `json:"name" db:"validate_name"`
	Phone   bool `json:"phone" db:"validate_phone"`
	Address bool `json:"address" db:"validate_address"`
}

// Requested reports whether the flag for t is set
func (f ValidationFlags) Requested(t ValidationType) bool {
	switch t {
	case ValidationEmail:
		return f.Email
	case ValidationName:
		return f.Name
	case ValidationPhone:
		return f.Phone
	case ValidationAddress:
		return f.Address
	}
	return false
}

// Any reports whether at least one validation was requested
func (f ValidationFlags) Any() bool {
	return f.Email || f.Name || f.Phone || f.Address
}

// Contact is the snapshot of CRM contact fields cached on a queue item
type Contact struct {
	Email      string `json:"email,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Has reports whether the contact carries the field(s) a validation of type t needs
func (c *Contact) Has(t ValidationType) bool {
	if c == nil {
		return false
	}
	switch t {
	case ValidationEmail:
		return present(c.Email)
	case ValidationName:
		return present(c.FirstName) || present(c.LastName)
	case ValidationPhone:
		return present(c.Phone)
	case ValidationAddress:
		return present(c.Street) || present(c.City) || present(c.PostalCode)
	}
	return false
}

func present(s string) bool {
	return strings.TrimSpace(s) != ""
}

// ValidationRecord is the persisted per-field outcome of one validation
type ValidationRecord struct {
	Fields map[string]string `json:"fields,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// ErrorDetail is the structured failure annotation stored with an item
type ErrorDetail struct {
	Class      string    `json:"class"`
	Step       string    `json:"step,omitempty"`
	Retryable  bool      `json:"retryable"`
	Attempt    int       `json:"attempt"`
	OccurredAt time.Time `json:"occurred_at"`
}

// QueueItem is one persisted unit of validation work
type QueueItem struct {
	ID          string
	EventID     string
	ClientID    string
	SubjectID   string
	Status      Status
	Attempts    int
	MaxAttempts int
	NextRetryAt *time.Time
	Flags       ValidationFlags

	// Contact is nil until the pipeline fetched it once
	Contact  *Contact
	RawEvent json.RawMessage

	ValidationResults map[ValidationType]ValidationRecord
	CRMResponse       json.RawMessage
	Warning           string
	ErrorMessage      string
	ErrorDetail       *ErrorDetail

	CreatedAt             time.Time
	ProcessingStartedAt   *time.Time
	ProcessingCompletedAt *time.Time
	UpdatedAt             time.Time
}

// Eligible reports whether the item may be picked up by a batch run at now
func (i *QueueItem) Eligible(now time.Time) bool {
	if i.Status != StatusPending || i.Attempts >= i.MaxAttempts {
		return false
	}
	return i.NextRetryAt == nil || !i.NextRetryAt.After(now)
}

// NewItem is what ingress hands to the queue store
type NewItem struct {
	EventID     string
	ClientID    string
	SubjectID   string
	Flags       ValidationFlags
	RawEvent    json.RawMessage
	MaxAttempts int
}

// EnqueueResult reports the stored row id and whether the event was seen before
type EnqueueResult struct {
	ID        string `json:"id"`
	Duplicate bool   `json:"duplicate"`
}

// IngressEvent is the wire shape of a CRM change event
type IngressEvent struct {
	EventID     string          `json:"event_id"`
	SubjectID   string          `json:"subject_id"`
	ClientID    string          `json:"client_id"`
	Validations ValidationFlags `json:"validations"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Validate checks the event carries a usable work descriptor
func (e *IngressEvent) Validate() error {
	switch {
	case !present(e.EventID):
		return fmt.Errorf("%w: event_id is required", ErrInvalidDescriptor)
	case !present(e.SubjectID):
		return fmt.Errorf("%w: subject_id is required", ErrInvalidDescriptor)
	case !present(e.ClientID):
		return fmt.Errorf("%w: client_id is required", ErrInvalidDescriptor)
	case !e.Validations.Any():
		return fmt.Errorf("%w: at least one validation must be requested", ErrInvalidDescriptor)
	}
	return nil
}

// ToNewItem converts the event into an enqueue request
func (e *IngressEvent) ToNewItem(maxAttempts int) *NewItem {
	raw := e.Payload
	if len(raw) == 0 {
		raw, _ = json.Marshal(e)
	}
	return &NewItem{
		EventID:     strings.TrimSpace(e.EventID),
		ClientID:    strings.TrimSpace(e.ClientID),
		SubjectID:   strings.TrimSpace(e.SubjectID),
		Flags:       e.Validations,
		RawEvent:    raw,
		MaxAttempts: maxAttempts,
	}
}

// StatusUpdate carries the optional columns written alongside a status change.
// Nil pointers leave a column untouched; the Clear* flags null it.
type StatusUpdate struct {
	Attempts              *int
	NextRetryAt           *time.Time
	ClearNextRetry        bool
	ProcessingStartedAt   *time.Time
	ClearProcessingStart  bool
	ProcessingCompletedAt *time.Time
	ValidationResults     map[ValidationType]ValidationRecord
	CRMResponse           json.RawMessage
	Warning               *string
	ErrorMessage          *string
	ErrorDetail           *ErrorDetail
	ClearError            bool
}

// DataUpdate carries work-descriptor data written without a status change
type DataUpdate struct {
	Contact *Contact
}

// QueueStats is a point-in-time view of the queue
type QueueStats struct {
	Counts                map[Status]int `json:"counts"`
	OldestNonTerminalAt   *time.Time     `json:"oldest_non_terminal_at,omitempty"`
	OldestProcessingStart *time.Time     `json:"oldest_processing_started_at,omitempty"`
}

// OldestNonTerminalAge returns how long the oldest pending or processing item has existed
func (s *QueueStats) OldestNonTerminalAge(now time.Time) time.Duration {
	if s.OldestNonTerminalAt == nil {
		return 0
	}
	return now.Sub(*s.OldestNonTerminalAt)
}

// LongestProcessingAge returns the age of the oldest in-flight item
func (s *QueueStats) LongestProcessingAge(now time.Time) time.Duration {
	if s.OldestProcessingStart == nil {
		return 0
	}
	return now.Sub(*s.OldestProcessingStart)
}
