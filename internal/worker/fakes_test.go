package worker

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/contact-validation/internal/alert"
	"github.com/cuongbtq/contact-validation/internal/worker/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is a settable clock shared by the components under test
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memStore is an in-memory QueueStore mirroring the SQL store's semantics
type memStore struct {
	mu    sync.Mutex
	items map[string]*domain.QueueItem
	now   func() time.Time

	// failUpdate makes UpdateStatus fail for the listed statuses
	failUpdate map[domain.Status]error
	failDelete map[string]error
	fetchErr   error
	statsErr   error
	updates    []statusWrite
}

type statusWrite struct {
	ID     string
	Status domain.Status
	Update domain.StatusUpdate
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{
		items:      make(map[string]*domain.QueueItem),
		now:        now,
		failUpdate: make(map[domain.Status]error),
		failDelete: make(map[string]error),
	}
}

func (s *memStore) add(item *domain.QueueItem) *domain.QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = domain.StatusPending
	}
	if item.MaxAttempts == 0 {
		item.MaxAttempts = 3
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}
	s.items[item.ID] = item
	return item
}

func (s *memStore) get(id string) domain.QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.items[id]
}

func (s *memStore) writes() []statusWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]statusWrite(nil), s.updates...)
}

func (s *memStore) Enqueue(_ context.Context, n *domain.NewItem) (*domain.EnqueueResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.EventID == n.EventID {
			return &domain.EnqueueResult{ID: item.ID, Duplicate: true}, nil
		}
	}
	id := uuid.NewString()
	s.items[id] = &domain.QueueItem{
		ID:          id,
		EventID:     n.EventID,
		ClientID:    n.ClientID,
		SubjectID:   n.SubjectID,
		Status:      domain.StatusPending,
		MaxAttempts: n.MaxAttempts,
		Flags:       n.Flags,
		RawEvent:    n.RawEvent,
		CreatedAt:   s.now(),
	}
	return &domain.EnqueueResult{ID: id}, nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	cp := *item
	return &cp, nil
}

func (s *memStore) FetchEligible(_ context.Context, limit int) ([]*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}

	now := s.now()
	var out []*domain.QueueItem
	for _, item := range s.items {
		if item.Eligible(now) {
			cp := *item
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) UpdateStatus(_ context.Context, id string, status domain.Status, u domain.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failUpdate[status]; err != nil {
		return err
	}
	item, ok := s.items[id]
	if !ok {
		return domain.ErrItemNotFound
	}

	s.updates = append(s.updates, statusWrite{ID: id, Status: status, Update: u})

	item.Status = status
	if u.Attempts != nil {
		item.Attempts = *u.Attempts
	}
	if u.NextRetryAt != nil {
		t := *u.NextRetryAt
		item.NextRetryAt = &t
	}
	if u.ClearNextRetry {
		item.NextRetryAt = nil
	}
	if u.ProcessingStartedAt != nil {
		t := *u.ProcessingStartedAt
		item.ProcessingStartedAt = &t
	}
	if u.ClearProcessingStart {
		item.ProcessingStartedAt = nil
	}
	if u.ProcessingCompletedAt != nil {
		t := *u.ProcessingCompletedAt
		item.ProcessingCompletedAt = &t
	}
	if u.ValidationResults != nil {
		item.ValidationResults = u.ValidationResults
	}
	if u.CRMResponse != nil {
		item.CRMResponse = u.CRMResponse
	}
	if u.Warning != nil {
		item.Warning = *u.Warning
	}
	if u.ClearError {
		item.ErrorMessage = ""
		item.ErrorDetail = nil
	}
	if u.ErrorMessage != nil {
		item.ErrorMessage = *u.ErrorMessage
	}
	if u.ErrorDetail != nil {
		item.ErrorDetail = u.ErrorDetail
	}
	item.UpdatedAt = s.now()
	return nil
}

func (s *memStore) UpdateData(_ context.Context, id string, u domain.DataUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return domain.ErrItemNotFound
	}
	if u.Contact != nil {
		c := *u.Contact
		item.Contact = &c
	}
	return nil
}

func (s *memStore) FindStalled(_ context.Context, threshold time.Duration) ([]*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-threshold)
	var out []*domain.QueueItem
	for _, item := range s.items {
		if item.Status == domain.StatusProcessing && item.ProcessingStartedAt != nil && item.ProcessingStartedAt.Before(cutoff) {
			cp := *item
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) FindExhausted(_ context.Context) ([]*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.QueueItem
	for _, item := range s.items {
		if item.Status == domain.StatusPending && item.Attempts >= item.MaxAttempts {
			cp := *item
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) FindExpiredCompleted(_ context.Context, retention time.Duration) ([]*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-retention)
	var out []*domain.QueueItem
	for _, item := range s.items {
		if item.Status == domain.StatusCompleted && item.ProcessingCompletedAt != nil && item.ProcessingCompletedAt.Before(cutoff) {
			cp := *item
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failDelete[id]; err != nil {
		return err
	}
	if _, ok := s.items[id]; !ok {
		return domain.ErrItemNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *memStore) Retry(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return domain.ErrItemNotFound
	}
	if item.Status == domain.StatusCompleted || item.Status == domain.StatusProcessing {
		return domain.ErrInvalidTransition
	}
	item.Status = domain.StatusPending
	item.Attempts = 0
	item.NextRetryAt = nil
	return nil
}

func (s *memStore) Stats(_ context.Context) (*domain.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statsErr != nil {
		return nil, s.statsErr
	}
	stats := &domain.QueueStats{Counts: make(map[domain.Status]int)}
	for _, item := range s.items {
		stats.Counts[item.Status]++
		if !item.Status.Terminal() {
			if stats.OldestNonTerminalAt == nil || item.CreatedAt.Before(*stats.OldestNonTerminalAt) {
				t := item.CreatedAt
				stats.OldestNonTerminalAt = &t
			}
		}
		if item.Status == domain.StatusProcessing && item.ProcessingStartedAt != nil {
			if stats.OldestProcessingStart == nil || item.ProcessingStartedAt.Before(*stats.OldestProcessingStart) {
				t := *item.ProcessingStartedAt
				stats.OldestProcessingStart = &t
			}
		}
	}
	return stats, nil
}

type mockCRM struct {
	mock.Mock
}

func (m *mockCRM) FetchContext(ctx context.Context, subjectID string) (*domain.Contact, error) {
	args := m.Called(ctx, subjectID)
	if c := args.Get(0); c != nil {
		return c.(*domain.Contact), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockCRM) Submit(ctx context.Context, subjectID string, fields map[string]string) (*SubmitResult, error) {
	args := m.Called(ctx, subjectID, fields)
	if r := args.Get(0); r != nil {
		return r.(*SubmitResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockUsage struct {
	mock.Mock
}

func (m *mockUsage) Increment(ctx context.Context, clientID string, t domain.ValidationType) error {
	return m.Called(ctx, clientID, t).Error(0)
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) RecordRun(ctx context.Context, stats *domain.RunStats, snapshot domain.MetricsSnapshot) error {
	return m.Called(ctx, stats, snapshot).Error(0)
}

// alertRecorder captures alerts sent during a test
type alertRecorder struct {
	mu     sync.Mutex
	alerts []alert.Alert
	err    error
}

func (r *alertRecorder) Send(_ context.Context, a alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

func staticValidator(fields map[string]string) Validator {
	return ValidatorFunc(func(context.Context, *domain.Contact) (map[string]string, error) {
		return fields, nil
	})
}

func failingValidator(err error) Validator {
	return ValidatorFunc(func(context.Context, *domain.Contact) (map[string]string, error) {
		return nil, err
	})
}
