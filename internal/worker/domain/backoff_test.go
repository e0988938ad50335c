package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Base: time.Minute, Max: time.Hour}

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{attempts: -1, want: time.Minute},
		{attempts: 0, want: time.Minute},
		{attempts: 1, want: 2 * time.Minute},
		{attempts: 2, want: 4 * time.Minute},
		{attempts: 5, want: 32 * time.Minute},
		{attempts: 6, want: time.Hour},
		{attempts: 60, want: time.Hour},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.attempts), "attempts=%d", tt.attempts)
	}
}

func TestBackoff_MonotonicAndCapped(t *testing.T) {
	b := Backoff{Base: 7 * time.Second, Max: 90 * time.Minute}

	prev := time.Duration(0)
	for n := 0; n < 100; n++ {
		d := b.Delay(n)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, b.Max)
		prev = d
	}
}

func TestBackoff_NextRetryAt(t *testing.T) {
	b := Backoff{Base: time.Minute, Max: time.Hour}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(4*time.Minute), b.NextRetryAt(now, 2))
	assert.Equal(t, now, Backoff{}.NextRetryAt(now, 3))
}
