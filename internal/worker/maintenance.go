package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/contact-validation/internal/alert"
	"github.com/cuongbtq/contact-validation/internal/worker/domain"
)

// classStalled marks items failed by the stall sweep
const classStalled = "stalled"

// MaintenanceConfig holds thresholds for the maintenance jobs
type MaintenanceConfig struct {
	Logger *slog.Logger
	Store  QueueStore
	Alerts AlertSink
	// StalledThreshold is how long an item may stay in processing
	StalledThreshold time.Duration
	// CompletedRetention is how long completed items are kept
	CompletedRetention time.Duration
	// BacklogThreshold raises a backlog alert when pending items exceed it
	BacklogThreshold int
	// StallAlertThreshold raises a stall alert when an item processes longer than it
	StallAlertThreshold time.Duration
	Now                 func() time.Time
}

// Maintenance reclaims stalled items, purges expired ones and raises alerts
type Maintenance struct {
	logger              *slog.Logger
	store               QueueStore
	alerts              AlertSink
	stalledThreshold    time.Duration
	completedRetention  time.Duration
	backlogThreshold    int
	stallAlertThreshold time.Duration
	now                 func() time.Time
}

// NewMaintenance creates the maintenance jobs
func NewMaintenance(cfg *MaintenanceConfig) *Maintenance {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Maintenance{
		logger:              cfg.Logger.With(slog.String("component", "maintenance")),
		store:               cfg.Store,
		alerts:              cfg.Alerts,
		stalledThreshold:    cfg.StalledThreshold,
		completedRetention:  cfg.CompletedRetention,
		backlogThreshold:    cfg.BacklogThreshold,
		stallAlertThreshold: cfg.StallAlertThreshold,
		now:                 now,
	}
}

// StallResult reports what the stall sweep did
type StallResult struct {
	Reset  int `json:"reset"`
	Failed int `json:"failed"`
	Errors int `json:"errors"`
}

// ResetStalled returns items stuck in processing to pending with one more
// attempt counted. Items that already used every attempt are failed instead.
func (m *Maintenance) ResetStalled(ctx context.Context) (*StallResult, error) {
	items, err := m.store.FindStalled(ctx, m.stalledThreshold)
	if err != nil {
		return nil, fmt.Errorf("%w: find stalled: %w", domain.ErrStoreUnavailable, err)
	}

	result := &StallResult{}
	now := m.now()
	for _, item := range items {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		status, update := m.stallTransition(item, now)
		if err := m.store.UpdateStatus(ctx, item.ID, status, update); err != nil {
			result.Errors++
			m.logger.Error("Failed to reset stalled item",
				slog.String("item_id", item.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		if status == domain.StatusPending {
			result.Reset++
		} else {
			result.Failed++
		}
		m.logger.Warn("Stalled item reclaimed",
			slog.String("item_id", item.ID),
			slog.String("status", string(status)),
			slog.Int("attempts", *update.Attempts),
		)
	}

	if len(items) > 0 {
		m.logger.Info("Stall sweep finished",
			slog.Int("found", len(items)),
			slog.Int("reset", result.Reset),
			slog.Int("failed", result.Failed),
			slog.Int("errors", result.Errors),
		)
	}
	return result, nil
}

func (m *Maintenance) stallTransition(item *domain.QueueItem, now time.Time) (domain.Status, domain.StatusUpdate) {
	message := "stalled in processing"
	if item.ProcessingStartedAt != nil {
		message = fmt.Sprintf("stalled in processing since %s", item.ProcessingStartedAt.UTC().Format(time.RFC3339))
	}

	if item.Attempts < item.MaxAttempts {
		attempts := item.Attempts + 1
		return domain.StatusPending, domain.StatusUpdate{
			Attempts:             &attempts,
			NextRetryAt:          &now,
			ClearProcessingStart: true,
			ErrorMessage:         &message,
			ErrorDetail: &domain.ErrorDetail{
				Class:      classStalled,
				Retryable:  true,
				Attempt:    attempts,
				OccurredAt: now,
			},
		}
	}

	attempts := item.MaxAttempts
	return domain.StatusFailed, domain.StatusUpdate{
		Attempts:             &attempts,
		ClearNextRetry:       true,
		ClearProcessingStart: true,
		ErrorMessage:         &message,
		ErrorDetail: &domain.ErrorDetail{
			Class:      classStalled,
			Retryable:  false,
			Attempt:    attempts,
			OccurredAt: now,
		},
	}
}

// FailExhausted fails pending items whose attempts already reached the limit.
// Such items are never eligible again and would otherwise sit in pending.
func (m *Maintenance) FailExhausted(ctx context.Context) (int, error) {
	items, err := m.store.FindExhausted(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: find exhausted: %w", domain.ErrStoreUnavailable, err)
	}

	failed := 0
	now := m.now()
	for _, item := range items {
		attempts := item.MaxAttempts
		message := "attempts exhausted"
		err := m.store.UpdateStatus(ctx, item.ID, domain.StatusFailed, domain.StatusUpdate{
			Attempts:       &attempts,
			ClearNextRetry: true,
			ErrorMessage:   &message,
			ErrorDetail: &domain.ErrorDetail{
				Class:      "exhausted",
				Attempt:    attempts,
				OccurredAt: now,
			},
		})
		if err != nil {
			m.logger.Error("Failed to fail exhausted item",
				slog.String("item_id", item.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		failed++
	}

	if failed > 0 {
		m.logger.Info("Exhausted items failed", slog.Int("count", failed))
	}
	return failed, nil
}

// CleanupResult reports what retention cleanup did
type CleanupResult struct {
	Deleted int `json:"deleted"`
	Errors  int `json:"errors"`
}

// CleanupCompleted deletes completed items older than the retention window one
// by one. A failed delete is logged and skipped.
func (m *Maintenance) CleanupCompleted(ctx context.Context) (*CleanupResult, error) {
	items, err := m.store.FindExpiredCompleted(ctx, m.completedRetention)
	if err != nil {
		return nil, fmt.Errorf("%w: find expired: %w", domain.ErrStoreUnavailable, err)
	}

	result := &CleanupResult{}
	for _, item := range items {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if err := m.store.Delete(ctx, item.ID); err != nil {
			result.Errors++
			m.logger.Warn("Failed to delete expired item",
				slog.String("item_id", item.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.Deleted++
	}

	if len(items) > 0 {
		m.logger.Info("Retention cleanup finished",
			slog.Int("deleted", result.Deleted),
			slog.Int("errors", result.Errors),
			slog.Duration("retention", m.completedRetention),
		)
	}
	return result, nil
}

// HealthReport is the queue state observed by CheckHealth
type HealthReport struct {
	Stats  *domain.QueueStats `json:"stats"`
	Alerts []alert.Alert      `json:"alerts,omitempty"`
}

// CheckHealth reads queue statistics and raises backlog and stall alerts.
// Delivery failures are logged and never returned.
func (m *Maintenance) CheckHealth(ctx context.Context) (*HealthReport, error) {
	stats, err := m.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: stats: %w", domain.ErrStoreUnavailable, err)
	}

	now := m.now()
	report := &HealthReport{Stats: stats}

	pending := stats.Counts[domain.StatusPending]
	if m.backlogThreshold > 0 && pending > m.backlogThreshold {
		report.Alerts = append(report.Alerts, alert.Alert{
			Kind:      alert.KindBacklog,
			Message:   fmt.Sprintf("%d pending items exceed backlog threshold %d", pending, m.backlogThreshold),
			Value:     float64(pending),
			Threshold: float64(m.backlogThreshold),
			RaisedAt:  now,
		})
	}

	if longest := stats.LongestProcessingAge(now); m.stallAlertThreshold > 0 && longest > m.stallAlertThreshold {
		report.Alerts = append(report.Alerts, alert.Alert{
			Kind:      alert.KindStall,
			Message:   fmt.Sprintf("an item has been processing for %s", longest.Round(time.Second)),
			Value:     longest.Minutes(),
			Threshold: m.stallAlertThreshold.Minutes(),
			RaisedAt:  now,
		})
	}

	m.logger.Debug("Queue health checked",
		slog.Int("pending", pending),
		slog.Int("processing", stats.Counts[domain.StatusProcessing]),
		slog.Duration("oldest_non_terminal_age", stats.OldestNonTerminalAge(now)),
		slog.Int("alerts", len(report.Alerts)),
	)

	if m.alerts != nil {
		for _, a := range report.Alerts {
			if err := m.alerts.Send(ctx, a); err != nil {
				m.logger.Warn("Failed to deliver alert",
					slog.String("kind", string(a.Kind)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return report, nil
}

// MaintenanceReport collects the results of one RunAll pass
type MaintenanceReport struct {
	Stalled   *StallResult   `json:"stalled,omitempty"`
	Exhausted int            `json:"exhausted"`
	Cleanup   *CleanupResult `json:"cleanup,omitempty"`
	Health    *HealthReport  `json:"health,omitempty"`
}

// RunAll runs every maintenance job in turn. A failing job does not stop the
// others; their errors are joined.
func (m *Maintenance) RunAll(ctx context.Context) (*MaintenanceReport, error) {
	report := &MaintenanceReport{}
	var errs []error

	steps := []struct {
		label string
		fn    func(context.Context) error
	}{
		{"reset stalled items", func(ctx context.Context) (err error) {
			report.Stalled, err = m.ResetStalled(ctx)
			return err
		}},
		{"fail exhausted items", func(ctx context.Context) (err error) {
			report.Exhausted, err = m.FailExhausted(ctx)
			return err
		}},
		{"cleanup completed items", func(ctx context.Context) (err error) {
			report.Cleanup, err = m.CleanupCompleted(ctx)
			return err
		}},
		{"check queue health", func(ctx context.Context) (err error) {
			report.Health, err = m.CheckHealth(ctx)
			return err
		}},
	}

	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", step.label, err))
			if isContextCancellation(err) {
				break
			}
		}
	}

	if len(errs) > 0 {
		return report, fmt.Errorf("maintenance failed: %w", errors.Join(errs...))
	}
	return report, nil
}

func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
