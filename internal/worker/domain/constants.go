package domain

// Status is the lifecycle state of a queue item
type Status string

// Queue item status constants
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further processing happens for s
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ValidationType names one independently triggered contact field check
type ValidationType string

// Validation type constants
const (
	ValidationEmail   ValidationType = "email"
	ValidationName    ValidationType = "name"
	ValidationPhone   ValidationType = "phone"
	ValidationAddress ValidationType = "address"
)

// AllValidationTypes lists every validation type in dispatch order
var AllValidationTypes = []ValidationType{
	ValidationEmail,
	ValidationName,
	ValidationPhone,
	ValidationAddress,
}
