package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cuongbtq/contact-validation/internal/alert"
	"github.com/cuongbtq/contact-validation/internal/worker/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type maintenanceFixture struct {
	clock  *fakeClock
	store  *memStore
	alerts *alertRecorder
	m      *Maintenance
}

func newMaintenanceFixture() *maintenanceFixture {
	clock := newFakeClock(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	store := newMemStore(clock.Now)
	alerts := &alertRecorder{}
	return &maintenanceFixture{
		clock:  clock,
		store:  store,
		alerts: alerts,
		m: NewMaintenance(&MaintenanceConfig{
			Logger:              discardLogger(),
			Store:               store,
			Alerts:              alerts,
			StalledThreshold:    30 * time.Minute,
			CompletedRetention:  30 * 24 * time.Hour,
			BacklogThreshold:    2,
			StallAlertThreshold: 60 * time.Minute,
			Now:                 clock.Now,
		}),
	}
}

func (f *maintenanceFixture) ago(d time.Duration) *time.Time {
	t := f.clock.Now().Add(-d)
	return &t
}

func TestMaintenance_ResetStalled(t *testing.T) {
	f := newMaintenanceFixture()
	stalled := f.store.add(&domain.QueueItem{
		ID:                  "stalled",
		Status:              domain.StatusProcessing,
		ProcessingStartedAt: f.ago(45 * time.Minute),
	})
	lastChance := f.store.add(&domain.QueueItem{
		ID:                  "last-chance",
		Status:              domain.StatusProcessing,
		Attempts:            3,
		MaxAttempts:         3,
		ProcessingStartedAt: f.ago(2 * time.Hour),
	})
	fresh := f.store.add(&domain.QueueItem{
		ID:                  "fresh",
		Status:              domain.StatusProcessing,
		ProcessingStartedAt: f.ago(10 * time.Minute),
	})

	result, err := f.m.ResetStalled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &StallResult{Reset: 1, Failed: 1}, result)

	got := f.store.get(stalled.ID)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Nil(t, got.ProcessingStartedAt)
	assert.Equal(t, "stalled", got.ErrorDetail.Class)
	assert.True(t, got.Eligible(f.clock.Now()))

	got = f.store.get(lastChance.ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Nil(t, got.NextRetryAt)

	assert.Equal(t, domain.StatusProcessing, f.store.get(fresh.ID).Status)
}

func TestMaintenance_ResetStalled_UpdateErrorsCounted(t *testing.T) {
	f := newMaintenanceFixture()
	f.store.add(&domain.QueueItem{Status: domain.StatusProcessing, ProcessingStartedAt: f.ago(time.Hour)})
	f.store.failUpdate[domain.StatusPending] = errors.New("deadlock detected")

	result, err := f.m.ResetStalled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Errors)
	assert.Zero(t, result.Reset)
}

func TestMaintenance_FailExhausted(t *testing.T) {
	f := newMaintenanceFixture()
	exhausted := f.store.add(&domain.QueueItem{Attempts: 3, MaxAttempts: 3})
	open := f.store.add(&domain.QueueItem{Attempts: 1, MaxAttempts: 3})

	n, err := f.m.FailExhausted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.StatusFailed, f.store.get(exhausted.ID).Status)
	assert.Equal(t, "exhausted", f.store.get(exhausted.ID).ErrorDetail.Class)
	assert.Equal(t, domain.StatusPending, f.store.get(open.ID).Status)
}

func TestMaintenance_CleanupCompleted(t *testing.T) {
	f := newMaintenanceFixture()
	old := f.store.add(&domain.QueueItem{ID: "a-old", Status: domain.StatusCompleted, ProcessingCompletedAt: f.ago(40 * 24 * time.Hour)})
	stuck := f.store.add(&domain.QueueItem{ID: "b-old", Status: domain.StatusCompleted, ProcessingCompletedAt: f.ago(35 * 24 * time.Hour)})
	recent := f.store.add(&domain.QueueItem{ID: "recent", Status: domain.StatusCompleted, ProcessingCompletedAt: f.ago(10 * 24 * time.Hour)})
	failed := f.store.add(&domain.QueueItem{ID: "failed-old", Status: domain.StatusFailed, ProcessingCompletedAt: f.ago(90 * 24 * time.Hour)})
	f.store.failDelete[stuck.ID] = errors.New("row locked")

	result, err := f.m.CleanupCompleted(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &CleanupResult{Deleted: 1, Errors: 1}, result)

	_, err = f.store.GetByID(context.Background(), old.ID)
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
	for _, id := range []string{stuck.ID, recent.ID, failed.ID} {
		_, err := f.store.GetByID(context.Background(), id)
		assert.NoError(t, err, id)
	}
}

func TestMaintenance_CheckHealth(t *testing.T) {
	f := newMaintenanceFixture()
	for i := 0; i < 3; i++ {
		f.store.add(&domain.QueueItem{})
	}
	f.store.add(&domain.QueueItem{Status: domain.StatusProcessing, ProcessingStartedAt: f.ago(90 * time.Minute)})
	f.alerts.err = errors.New("broker down")

	report, err := f.m.CheckHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Stats.Counts[domain.StatusPending])

	require.Len(t, report.Alerts, 2)
	assert.Equal(t, alert.KindBacklog, report.Alerts[0].Kind)
	assert.Equal(t, float64(3), report.Alerts[0].Value)
	assert.Equal(t, alert.KindStall, report.Alerts[1].Kind)
	assert.Equal(t, float64(90), report.Alerts[1].Value)
	assert.Len(t, f.alerts.alerts, 2)
}

func TestMaintenance_CheckHealth_Quiet(t *testing.T) {
	f := newMaintenanceFixture()
	f.store.add(&domain.QueueItem{})
	f.store.add(&domain.QueueItem{Status: domain.StatusProcessing, ProcessingStartedAt: f.ago(5 * time.Minute)})

	report, err := f.m.CheckHealth(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Alerts)
	assert.Empty(t, f.alerts.alerts)
}

func TestMaintenance_RunAll(t *testing.T) {
	f := newMaintenanceFixture()
	f.store.add(&domain.QueueItem{Status: domain.StatusProcessing, ProcessingStartedAt: f.ago(time.Hour)})
	f.store.add(&domain.QueueItem{Status: domain.StatusCompleted, ProcessingCompletedAt: f.ago(60 * 24 * time.Hour)})
	f.store.statsErr = errors.New("stats timeout")

	report, err := f.m.RunAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "check queue health")

	assert.Equal(t, 1, report.Stalled.Reset)
	assert.Equal(t, 1, report.Cleanup.Deleted)
	assert.Nil(t, report.Health)
}
