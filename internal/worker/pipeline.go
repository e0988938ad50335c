package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cuongbtq/contact-validation/internal/worker/domain"
	"golang.org/x/sync/errgroup"
)

// Pipeline steps recorded in error details
const (
	stepMarkProcessing = "mark_processing"
	stepFetchContext   = "fetch_context"
	stepValidate       = "validate"
	stepSubmit         = "submit"
	stepComplete       = "complete"
)

// finalWriteTimeout bounds the state write issued after the item context expired
const finalWriteTimeout = 5 * time.Second

// PipelineConfig holds the pipeline's collaborators
type PipelineConfig struct {
	Logger     *slog.Logger
	Store      QueueStore
	CRM        CRM
	Validators map[domain.ValidationType]Validator
	Usage      UsageCounter
	Backoff    domain.Backoff
	Now        func() time.Time
}

// Pipeline drives a single queue item to a completed, retry-pending or failed state
type Pipeline struct {
	logger     *slog.Logger
	store      QueueStore
	crm        CRM
	validators map[domain.ValidationType]Validator
	usage      UsageCounter
	backoff    domain.Backoff
	now        func() time.Time
}

// NewPipeline creates a new item pipeline
func NewPipeline(cfg *PipelineConfig) *Pipeline {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		logger:     cfg.Logger.With(slog.String("component", "pipeline")),
		store:      cfg.Store,
		crm:        cfg.CRM,
		validators: cfg.Validators,
		usage:      cfg.Usage,
		backoff:    cfg.Backoff,
		now:        now,
	}
}

// stepError tags a failure with the pipeline step it happened in
type stepError struct {
	step string
	err  error
}

func (e *stepError) Error() string { return e.step + ": " + e.err.Error() }
func (e *stepError) Unwrap() error { return e.err }

// itemOutcome is what a successful run hands to the completion step
type itemOutcome struct {
	outcomes []domain.ValidationOutcome
	response *SubmitResult
	warning  string
}

// Process runs one item through the pipeline and persists the resulting state.
// Item-level failures are converted into a state transition and returned for
// bookkeeping only; a returned error wrapping domain.ErrStoreUnavailable means
// the state could not be written. A panic after the item was marked processing
// is recorded as a retryable failure.
func (p *Pipeline) Process(ctx context.Context, item *domain.QueueItem) (err error) {
	logger := p.logger.With(
		slog.String("item_id", item.ID),
		slog.String("event_id", item.EventID),
		slog.Int("attempt", item.Attempts+1),
	)
	logger.Info("Processing queue item")

	// Step 1: mark processing (plain update, no claim)
	startedAt := p.now()
	if err := p.store.UpdateStatus(ctx, item.ID, domain.StatusProcessing, domain.StatusUpdate{
		ProcessingStartedAt: &startedAt,
	}); err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, stepMarkProcessing, err)
	}
	item.Status = domain.StatusProcessing
	item.ProcessingStartedAt = &startedAt

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Queue item processing panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = p.fail(ctx, logger, item, fmt.Errorf("%w: %v", domain.ErrPanicked, r))
		}
	}()

	result, err := p.run(ctx, logger, item)
	if err != nil {
		return p.fail(ctx, logger, item, err)
	}
	return p.complete(ctx, logger, item, result)
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, item *domain.QueueItem) (*itemOutcome, error) {
	// Step 2: contact context, fetched once and cached on the item
	if item.Contact == nil {
		contact, err := p.crm.FetchContext(ctx, item.SubjectID)
		if err != nil {
			return nil, &stepError{step: stepFetchContext, err: err}
		}
		if contact == nil {
			return nil, &stepError{step: stepFetchContext, err: domain.ErrSubjectNotFound}
		}
		item.Contact = contact

		if err := p.store.UpdateData(ctx, item.ID, domain.DataUpdate{Contact: contact}); err != nil {
			logger.Warn("Failed to cache contact context",
				slog.String("error", err.Error()),
			)
		}
	}

	// Step 3: which validations apply
	required := p.requiredValidations(logger, item)
	if len(required) == 0 {
		logger.Info("No validations required for item")
		return &itemOutcome{warning: "no validations required"}, nil
	}

	// Step 4: run them side by side
	outcomes := p.validate(ctx, item.Contact, required)
	if err := allFailed(outcomes); err != nil {
		return nil, &stepError{step: stepValidate, err: err}
	}
	for _, o := range outcomes {
		if !o.OK() {
			logger.Warn("Validation failed for field",
				slog.String("validation", string(o.Type)),
				slog.String("error", o.Err.Error()),
			)
		}
	}

	// Step 5: sparse payload
	output := domain.BuildOutput(outcomes)
	if len(output) == 0 {
		return &itemOutcome{outcomes: outcomes, warning: "validators produced no output fields"}, nil
	}

	// Step 6: submit
	response, err := p.crm.Submit(ctx, item.SubjectID, output)
	if err != nil {
		if errors.Is(err, domain.ErrFieldMismatch) {
			logger.Warn("CRM rejected some properties, completing anyway",
				slog.String("error", err.Error()),
			)
			return &itemOutcome{outcomes: outcomes, warning: err.Error()}, nil
		}
		return nil, &stepError{step: stepSubmit, err: err}
	}

	result := &itemOutcome{outcomes: outcomes, response: response}
	if response != nil {
		result.warning = response.Warning
	}
	return result, nil
}

// requiredValidations selects the validations requested at enqueue time whose
// input field is present on the contact
func (p *Pipeline) requiredValidations(logger *slog.Logger, item *domain.QueueItem) []domain.ValidationType {
	var required []domain.ValidationType
	for _, t := range domain.AllValidationTypes {
		if !item.Flags.Requested(t) || !item.Contact.Has(t) {
			continue
		}
		if _, ok := p.validators[t]; !ok {
			logger.Warn("No validator registered, skipping",
				slog.String("validation", string(t)),
			)
			continue
		}
		required = append(required, t)
	}
	return required
}

// validate runs the validators concurrently; one failing or panicking never
// cancels its siblings
func (p *Pipeline) validate(ctx context.Context, contact *domain.Contact, types []domain.ValidationType) []domain.ValidationOutcome {
	outcomes := make([]domain.ValidationOutcome, len(types))

	var g errgroup.Group
	for i, t := range types {
		validator := p.validators[t]
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("Validator panicked",
						slog.String("validation", string(t)),
						slog.Any("panic", r),
					)
					outcomes[i] = domain.ValidationOutcome{Type: t, Err: fmt.Errorf("%w: %s validator: %v", domain.ErrPanicked, t, r)}
				}
			}()
			fields, err := validator.Validate(ctx, contact)
			outcomes[i] = domain.ValidationOutcome{Type: t, Fields: fields, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// allFailed returns an error when no validation succeeded. The error is
// retryable unless every failure was permanent.
func allFailed(outcomes []domain.ValidationOutcome) error {
	var errs []error
	retryable := false
	for _, o := range outcomes {
		if o.OK() {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", o.Type, o.Err))
		if domain.Classify(o.Err).Retryable {
			retryable = true
		}
	}

	err := fmt.Errorf("%w: %w", domain.ErrNoValidations, errors.Join(errs...))
	if retryable {
		return domain.NewRetryableError(err)
	}
	return domain.NewPermanentError(err)
}

func (p *Pipeline) complete(ctx context.Context, logger *slog.Logger, item *domain.QueueItem, result *itemOutcome) error {
	// Step 7: usage counters, one per performed validation
	for _, o := range result.outcomes {
		if !o.OK() || p.usage == nil {
			continue
		}
		if err := p.usage.Increment(ctx, item.ClientID, o.Type); err != nil {
			logger.Warn("Failed to increment usage counter",
				slog.String("client_id", item.ClientID),
				slog.String("validation", string(o.Type)),
				slog.String("error", err.Error()),
			)
		}
	}

	completedAt := p.now()
	update := domain.StatusUpdate{
		ProcessingCompletedAt: &completedAt,
		ValidationResults:     domain.Records(result.outcomes),
		ClearNextRetry:        true,
		ClearError:            true,
	}
	if result.response != nil {
		update.CRMResponse = result.response.Response
	}
	if result.warning != "" {
		update.Warning = &result.warning
	}

	writeCtx, cancel := detached(ctx)
	defer cancel()

	if err := p.store.UpdateStatus(writeCtx, item.ID, domain.StatusCompleted, update); err != nil {
		logger.Error("Failed to mark item completed",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, stepComplete, err)
	}

	logger.Info("Queue item completed",
		slog.Int("validations", len(result.outcomes)),
		slog.Duration("duration", completedAt.Sub(*item.ProcessingStartedAt)),
	)
	return nil
}

// fail applies the retry/terminal transition for a pipeline failure
func (p *Pipeline) fail(ctx context.Context, logger *slog.Logger, item *domain.QueueItem, cause error) error {
	classification := domain.Classify(cause)
	now := p.now()

	attempts := item.Attempts + 1
	if attempts > item.MaxAttempts {
		attempts = item.MaxAttempts
	}

	step := ""
	var se *stepError
	if errors.As(cause, &se) {
		step = se.step
	}

	message := cause.Error()
	update := domain.StatusUpdate{
		Attempts:             &attempts,
		ClearProcessingStart: true,
		ErrorMessage:         &message,
		ErrorDetail: &domain.ErrorDetail{
			Class:      classification.Class,
			Step:       step,
			Retryable:  classification.Retryable,
			Attempt:    attempts,
			OccurredAt: now,
		},
	}

	status := domain.StatusFailed
	if classification.Retryable && attempts < item.MaxAttempts {
		status = domain.StatusPending
		next := p.backoff.NextRetryAt(now, attempts)
		update.NextRetryAt = &next
		logger.Warn("Queue item failed, will be retried",
			slog.String("error", message),
			slog.String("class", classification.Class),
			slog.Int("attempts", attempts),
			slog.Int("max_attempts", item.MaxAttempts),
			slog.Time("next_retry_at", next),
		)
	} else {
		update.ClearNextRetry = true
		logger.Error("Queue item failed permanently",
			slog.String("error", message),
			slog.String("class", classification.Class),
			slog.Bool("retryable", classification.Retryable),
			slog.Int("attempts", attempts),
		)
	}

	writeCtx, cancel := detached(ctx)
	defer cancel()

	if err := p.store.UpdateStatus(writeCtx, item.ID, status, update); err != nil {
		logger.Error("Failed to record item failure",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: record failure: %w", domain.ErrStoreUnavailable, err)
	}

	item.Status = status
	item.Attempts = attempts
	return fmt.Errorf("item %s: %w", item.ID, cause)
}

// detached returns a context that outlives ctx's cancellation so the final
// state write still happens after a per-item timeout
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
}
