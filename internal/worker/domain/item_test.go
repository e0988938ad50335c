package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueItem_Eligible(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Minute)

	tests := []struct {
		name string
		item QueueItem
		want bool
	}{
		{name: "fresh pending", item: QueueItem{Status: StatusPending, MaxAttempts: 3}, want: true},
		{name: "retry due", item: QueueItem{Status: StatusPending, Attempts: 1, MaxAttempts: 3, NextRetryAt: &past}, want: true},
		{name: "retry due exactly now", item: QueueItem{Status: StatusPending, Attempts: 1, MaxAttempts: 3, NextRetryAt: &now}, want: true},
		{name: "retry in future", item: QueueItem{Status: StatusPending, Attempts: 1, MaxAttempts: 3, NextRetryAt: &future}},
		{name: "attempts exhausted", item: QueueItem{Status: StatusPending, Attempts: 3, MaxAttempts: 3}},
		{name: "processing", item: QueueItem{Status: StatusProcessing, MaxAttempts: 3}},
		{name: "completed", item: QueueItem{Status: StatusCompleted, MaxAttempts: 3}},
		{name: "failed", item: QueueItem{Status: StatusFailed, MaxAttempts: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.item.Eligible(now))
		})
	}
}

func TestContact_Has(t *testing.T) {
	c := &Contact{Email: "a@example.com", LastName: "Nguyen", City: "Hanoi", Phone: "   "}

	assert.True(t, c.Has(ValidationEmail))
	assert.True(t, c.Has(ValidationName))
	assert.True(t, c.Has(ValidationAddress))
	assert.False(t, c.Has(ValidationPhone))
	assert.False(t, c.Has(ValidationType("fax")))

	var missing *Contact
	assert.False(t, missing.Has(ValidationEmail))
}

func TestIngressEvent_Validate(t *testing.T) {
	valid := IngressEvent{
		EventID:     "evt-1",
		SubjectID:   "sub-1",
		ClientID:    "client-1",
		Validations: ValidationFlags{Phone: true},
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(e *IngressEvent)
	}{
		{name: "blank event id", mutate: func(e *IngressEvent) { e.EventID = "  " }},
		{name: "missing subject", mutate: func(e *IngressEvent) { e.SubjectID = "" }},
		{name: "missing client", mutate: func(e *IngressEvent) { e.ClientID = "" }},
		{name: "no validations", mutate: func(e *IngressEvent) { e.Validations = ValidationFlags{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.mutate(&e)
			err := e.Validate()
			assert.True(t, errors.Is(err, ErrInvalidDescriptor))
		})
	}
}

func TestIngressEvent_ToNewItem(t *testing.T) {
	e := IngressEvent{
		EventID:     " evt-1 ",
		SubjectID:   "sub-1",
		ClientID:    "client-1",
		Validations: ValidationFlags{Email: true, Address: true},
	}

	item := e.ToNewItem(5)
	assert.Equal(t, "evt-1", item.EventID)
	assert.Equal(t, 5, item.MaxAttempts)
	assert.True(t, item.Flags.Requested(ValidationEmail))
	assert.True(t, item.Flags.Requested(ValidationAddress))
	assert.False(t, item.Flags.Requested(ValidationName))

	var raw IngressEvent
	require.NoError(t, json.Unmarshal(item.RawEvent, &raw))
	assert.Equal(t, "sub-1", raw.SubjectID)

	e.Payload = json.RawMessage(`{"source":"crm"}`)
	assert.JSONEq(t, `{"source":"crm"}`, string(e.ToNewItem(3).RawEvent))
}

func TestQueueStats_Ages(t *testing.T) {
	now := time.Now()
	oldest := now.Add(-time.Hour)
	stats := &QueueStats{OldestNonTerminalAt: &oldest}

	assert.Equal(t, time.Hour, stats.OldestNonTerminalAge(now))
	assert.Zero(t, stats.LongestProcessingAge(now))
}

func TestStatus(t *testing.T) {
	assert.True(t, StatusPending.Valid())
	assert.False(t, Status("archived").Valid())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusProcessing.Terminal())
}
