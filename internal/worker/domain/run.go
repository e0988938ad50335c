package domain

import "time"

// RunStatus is the overall result of one batch coordinator invocation
type RunStatus string

// Run status constants
const (
	RunCompleted         RunStatus = "completed"
	RunEmpty             RunStatus = "empty"
	RunAlreadyProcessing RunStatus = "already_processing"
	RunError             RunStatus = "error"
)

// ItemError summarises one failed item in a run
type ItemError struct {
	ItemID string `json:"item_id"`
	Error  string `json:"error"`
}

// RunStats aggregates the outcomes of one batch run
type RunStats struct {
	Status      RunStatus     `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	Runtime     time.Duration `json:"runtime"`
	Fetched     int           `json:"fetched"`
	Processed   int           `json:"processed"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	MaxInFlight int           `json:"max_in_flight"`
	Errors      []ItemError   `json:"errors,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// MetricsSnapshot is the rolling view across all runs of one process
type MetricsSnapshot struct {
	TotalRuns        int64         `json:"total_runs"`
	TotalProcessed   int64         `json:"total_processed"`
	TotalFailed      int64         `json:"total_failed"`
	AverageItemTime  time.Duration `json:"average_item_time"`
	LastRunAt        time.Time     `json:"last_run_at"`
	LastRunStatus    RunStatus     `json:"last_run_status"`
	LastRunProcessed int           `json:"last_run_processed"`
	LastRunFailed    int           `json:"last_run_failed"`
	LastRunDuration  time.Duration `json:"last_run_duration"`
}
