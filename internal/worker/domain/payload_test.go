package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildOutput(t *testing.T) {
	outcomes := []ValidationOutcome{
		{Type: ValidationEmail, Fields: map[string]string{"email_status": "valid", "email_suggestion": ""}},
		{Type: ValidationPhone, Err: errors.New("provider down"), Fields: map[string]string{"phone_status": "stale"}},
		{Type: ValidationName, Fields: map[string]string{" name_normalized ": " Jane Doe ", "": "orphan"}},
	}

	assert.Equal(t, map[string]string{
		"email_status":    "valid",
		"name_normalized": "Jane Doe",
	}, BuildOutput(outcomes))

	assert.Empty(t, BuildOutput(nil))
}

func TestRecords(t *testing.T) {
	records := Records([]ValidationOutcome{
		{Type: ValidationEmail, Fields: map[string]string{"email_status": "valid"}},
		{Type: ValidationPhone, Err: errors.New("provider down")},
	})

	assert.Equal(t, "valid", records[ValidationEmail].Fields["email_status"])
	assert.Empty(t, records[ValidationEmail].Error)
	assert.Equal(t, "provider down", records[ValidationPhone].Error)
	assert.Nil(t, records[ValidationPhone].Fields)
}
