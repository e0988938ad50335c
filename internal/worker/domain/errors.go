package domain

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrItemNotFound is returned when a queue item cannot be found in the database
	ErrItemNotFound = errors.New("queue item not found")

	// ErrSubjectNotFound is returned when the CRM has no record for the item's subject
	ErrSubjectNotFound = errors.New("subject record not found")

	// ErrInvalidDescriptor is returned when an item's work descriptor is malformed
	ErrInvalidDescriptor = errors.New("invalid work descriptor")

	// ErrFieldMismatch is returned by the CRM when submitted properties do not match its schema
	ErrFieldMismatch = errors.New("crm field mismatch")

	// ErrItemTimeout is returned when an item exceeds its per-item time budget
	ErrItemTimeout = errors.New("item processing timed out")

	// ErrStoreUnavailable marks queue store failures that must abort a whole run
	ErrStoreUnavailable = errors.New("queue store unavailable")

	// ErrNoValidations is returned when every selected validation failed
	ErrNoValidations = errors.New("no validation produced a result")

	// ErrAlreadyProcessing is returned when a batch run is already active in this process
	ErrAlreadyProcessing = errors.New("batch run already in progress")

	// ErrInvalidTransition is returned when an item's status does not allow the requested change
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrPanicked is returned when item processing or a validator panicked
	ErrPanicked = errors.New("processing panicked")
)

// RetryableError wraps transient errors that should be retried with backoff
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// PermanentError wraps errors that must fail an item without further attempts
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent error: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError creates a new permanent error
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// Classification is the retry decision for a pipeline failure
type Classification struct {
	Retryable bool
	Class     string
}

// Classify decides whether err is worth another attempt. The outermost
// RetryableError or PermanentError in the chain decides; errors nested below
// it (for example inside errors.Join) only refine the class.
// Unknown errors are treated as transient.
func Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}

	switch outermostDecision(err).(type) {
	case *PermanentError:
		return Classification{Retryable: false, Class: "permanent"}
	case *RetryableError:
		return transientClass(err)
	}

	var permanent *PermanentError
	switch {
	case errors.As(err, &permanent):
		return Classification{Retryable: false, Class: "permanent"}
	case errors.Is(err, ErrSubjectNotFound):
		return Classification{Retryable: false, Class: "subject_not_found"}
	case errors.Is(err, ErrInvalidDescriptor):
		return Classification{Retryable: false, Class: "invalid_descriptor"}
	}

	return transientClass(err)
}

// outermostDecision returns the first RetryableError or PermanentError found
// by following single-error wrapping, or nil
func outermostDecision(err error) error {
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch e.(type) {
		case *RetryableError, *PermanentError:
			return e
		}
	}
	return nil
}

func transientClass(err error) Classification {
	switch {
	case errors.Is(err, ErrItemTimeout), errors.Is(err, context.DeadlineExceeded):
		return Classification{Retryable: true, Class: "timeout"}
	case errors.Is(err, context.Canceled):
		return Classification{Retryable: true, Class: "canceled"}
	case errors.Is(err, ErrPanicked):
		return Classification{Retryable: true, Class: "panic"}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Classification{Retryable: true, Class: "network"}
	}

	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return Classification{Retryable: true, Class: "transient"}
	}

	return Classification{Retryable: true, Class: "unknown"}
}
