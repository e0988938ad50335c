package domain

import "time"

// Backoff computes the delay before the next attempt of a failed item
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns min(Base * 2^attempts, Max)
func (b Backoff) Delay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if b.Base <= 0 {
		return 0
	}

	delay := b.Base
	for i := 0; i < attempts; i++ {
		if delay >= b.Max/2 {
			return b.Max
		}
		delay *= 2
	}
	if delay > b.Max {
		return b.Max
	}
	return delay
}

// NextRetryAt returns the time at which an item failed at now becomes eligible again
func (b Backoff) NextRetryAt(now time.Time, attempts int) time.Time {
	return now.Add(b.Delay(attempts))
}
