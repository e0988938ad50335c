package worker

import (
	"sync"
	"time"

	"github.com/cuongbtq/contact-validation/internal/worker/domain"
)

// emaAlpha weights the newest item duration in the rolling average
const emaAlpha = 0.1

// RollingMetrics accumulates counters and an exponential moving average of
// per-item processing time across all runs of this process
type RollingMetrics struct {
	mu       sync.Mutex
	snapshot domain.MetricsSnapshot
	seeded   bool
}

// NewRollingMetrics creates an empty metrics accumulator
func NewRollingMetrics() *RollingMetrics {
	return &RollingMetrics{}
}

// Observe folds one run and its settled item durations into the totals
func (m *RollingMetrics) Observe(stats *domain.RunStats, durations []time.Duration) domain.MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range durations {
		if !m.seeded {
			m.snapshot.AverageItemTime = d
			m.seeded = true
			continue
		}
		avg := float64(m.snapshot.AverageItemTime)
		m.snapshot.AverageItemTime = time.Duration(emaAlpha*float64(d) + (1-emaAlpha)*avg)
	}

	m.snapshot.TotalRuns++
	m.snapshot.TotalProcessed += int64(stats.Processed)
	m.snapshot.TotalFailed += int64(stats.Failed)
	m.snapshot.LastRunAt = stats.StartedAt
	m.snapshot.LastRunStatus = stats.Status
	m.snapshot.LastRunProcessed = stats.Processed
	m.snapshot.LastRunFailed = stats.Failed
	m.snapshot.LastRunDuration = stats.Runtime

	return m.snapshot
}

// Snapshot returns a copy of the current totals
func (m *RollingMetrics) Snapshot() domain.MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}
