package dto

import (
	"encoding/json"

	"github.com/cuongbtq/contact-validation/internal/worker/domain"
)

type CreateEventRequest struct {
	EventID     string                 `json:"event_id" binding:"required"`
	SubjectID   string                 `json:"subject_id" binding:"required"`
	ClientID    string                 `json:"client_id" binding:"required"`
	Validations domain.ValidationFlags `json:"validations"`
	Payload     json.RawMessage        `json:"payload,omitempty"`
}

// ToEvent converts the request into the ingress event shared with the AMQP consumer
func (r *CreateEventRequest) ToEvent() *domain.IngressEvent {
	return &domain.IngressEvent{
		EventID:     r.EventID,
		SubjectID:   r.SubjectID,
		ClientID:    r.ClientID,
		Validations: r.Validations,
		Payload:     r.Payload,
	}
}

type EnqueueResponse struct {
	ID        string `json:"id"`
	EventID   string `json:"event_id"`
	Duplicate bool   `json:"duplicate"`
}

type ListItemsRequest struct {
	ClientID string `form:"client_id"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListItemsResponse struct {
	Items      []ItemDTO `json:"items"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

type ItemDTO struct {
	ID                    string  `json:"id"`
	EventID               string  `json:"event_id"`
	ClientID              string  `json:"client_id"`
	SubjectID             string  `json:"subject_id"`
	Status                string  `json:"status"`
	Attempts              int     `json:"attempts"`
	MaxAttempts           int     `json:"max_attempts"`
	NextRetryAt           *string `json:"next_retry_at,omitempty"`
	Warning               string  `json:"warning,omitempty"`
	ErrorMessage          string  `json:"error_message,omitempty"`
	CreatedAt             string  `json:"created_at"`
	ProcessingCompletedAt *string `json:"processing_completed_at,omitempty"`
	UpdatedAt             string  `json:"updated_at"`
}

// ItemDetailDTO is the full view of a single item
type ItemDetailDTO struct {
	ItemDTO
	Flags             domain.ValidationFlags                            `json:"validations"`
	Contact           *domain.Contact                                   `json:"contact,omitempty"`
	ValidationResults map[domain.ValidationType]domain.ValidationRecord `json:"validation_results,omitempty"`
	CRMResponse       json.RawMessage                                   `json:"crm_response,omitempty"`
	ErrorDetail       *domain.ErrorDetail                               `json:"error_detail,omitempty"`
	ProcessingStarted *string                                           `json:"processing_started_at,omitempty"`
}

type StatsResponse struct {
	Counts                  map[domain.Status]int `json:"counts"`
	OldestNonTerminalAgeSec float64               `json:"oldest_non_terminal_age_seconds"`
	LongestProcessingAgeSec float64               `json:"longest_processing_age_seconds"`
}
