package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opscart/k8s-rightsizer/pkg/audit"
	"github.com/opscart/k8s-rightsizer/pkg/calculator"
	"github.com/opscart/k8s-rightsizer/pkg/models"
	"github.com/opscart/k8s-rightsizer/pkg/sampler"
	"github.com/opscart/k8s-rightsizer/pkg/validator"
)

// Applier mutates a workload's live resource spec. basis is the spec the
// recommendation was computed against; implementations must fail with
// models.ErrConcurrentModification instead of overwriting drifted state.
type Applier interface {
	ReadSpec(ctx context.Context, ref models.WorkloadRef) (models.ResourceSpec, error)
	Apply(ctx context.Context, ref models.WorkloadRef, basis, proposed models.ResourceSpec) error
}

// QuotaSource resolves the effective resource ceiling for a workload.
type QuotaSource interface {
	Quota(ctx context.Context, ref models.WorkloadRef) (validator.Quota, error)
}

// Justifier optionally rewrites a recommendation's justification before it
// is published. Errors leave the deterministic text in place.
type Justifier interface {
	Justify(ctx context.Context, rec *models.Recommendation) (string, error)
}

// Config wires an Engine.
type Config struct {
	Store      Store
	Sampler    sampler.Source
	Calculator *calculator.Calculator
	Validator  *validator.Validator
	Quota      QuotaSource
	Applier    Applier
	Recorder   audit.Recorder

	// Justifier is optional.
	Justifier Justifier

	Lookback        time.Duration
	ConfirmationTTL time.Duration

	// Clock is overridable for tests; defaults to time.Now.
	Clock func() time.Time
}

// Engine owns the lifecycle of optimization workflows. One workflow runs
// per user-initiated request; steps within a workflow are strictly
// sequential, and workflows are independent except for the per-workload
// application lock.
type Engine struct {
	store     Store
	sampler   sampler.Source
	calc      *calculator.Calculator
	validator *validator.Validator
	quota     QuotaSource
	applier   Applier
	recorder  audit.Recorder
	justifier Justifier

	locks      *refLocks
	lookback   time.Duration
	confirmTTL time.Duration
	clock      func() time.Time
}

// NewEngine validates the wiring and returns an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	switch {
	case cfg.Store == nil:
		return nil, fmt.Errorf("engine requires a store")
	case cfg.Sampler == nil:
		return nil, fmt.Errorf("engine requires a sampler")
	case cfg.Calculator == nil:
		return nil, fmt.Errorf("engine requires a calculator")
	case cfg.Validator == nil:
		return nil, fmt.Errorf("engine requires a validator")
	case cfg.Quota == nil:
		return nil, fmt.Errorf("engine requires a quota source")
	case cfg.Applier == nil:
		return nil, fmt.Errorf("engine requires an applier")
	case cfg.Recorder == nil:
		return nil, fmt.Errorf("engine requires an audit recorder")
	}
	if cfg.Lookback <= 0 {
		return nil, fmt.Errorf("%w: lookback %s", models.ErrInvalidWindow, cfg.Lookback)
	}
	if cfg.ConfirmationTTL <= 0 {
		return nil, fmt.Errorf("confirmation TTL must be positive, got %s", cfg.ConfirmationTTL)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		store:      cfg.Store,
		sampler:    cfg.Sampler,
		calc:       cfg.Calculator,
		validator:  cfg.Validator,
		quota:      cfg.Quota,
		applier:    cfg.Applier,
		recorder:   cfg.Recorder,
		justifier:  cfg.Justifier,
		locks:      newRefLocks(),
		lookback:   cfg.Lookback,
		confirmTTL: cfg.ConfirmationTTL,
		clock:      clock,
	}, nil
}

// StartOptimization runs sample -> calculate -> validate for the workload
// and parks the workflow awaiting confirmation. Any failure before the
// confirmation terminates the workflow as Failed without touching the
// cluster spec. A no-change outcome terminates as Abandoned with the
// calculator's reason; there is nothing to propose.
func (e *Engine) StartOptimization(ctx context.Context, ref models.WorkloadRef, actor string) (*models.Workflow, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if holder, held := e.locks.holder(ref.Key()); held {
		return nil, fmt.Errorf("%w: workflow %s is applying a change to %s",
			models.ErrConflictingOperation, holder, ref)
	}

	now := e.clock()
	wf := &models.Workflow{
		ID:        uuid.New().String(),
		State:     models.StateProposed,
		Ref:       ref,
		Actor:     actor,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.Create(ctx, wf); err != nil {
		return nil, fmt.Errorf("creating workflow: %w", err)
	}

	current, err := e.applier.ReadSpec(ctx, ref)
	if err != nil {
		return wf, e.terminate(ctx, wf, models.ResourceSpec{}, err)
	}

	sample, err := e.sampler.Sample(ctx, ref, e.lookback)
	if err != nil {
		return wf, e.terminate(ctx, wf, current, err)
	}

	outcome, err := e.calc.Calculate(ref, current, sample)
	if err != nil {
		return wf, e.terminate(ctx, wf, current, err)
	}
	if outcome.NoChange {
		e.finish(ctx, wf, models.StateAbandoned, outcome.Reason, current, nil)
		return wf, nil
	}

	rec := outcome.Recommendation
	if e.justifier != nil {
		if text, jerr := e.justifier.Justify(ctx, rec); jerr != nil {
			slog.Warn("justification enrichment failed", "workflow", wf.ID, "error", jerr)
		} else if text != "" {
			rec.Justification = text
		}
	}

	quota, err := e.quota.Quota(ctx, ref)
	if err != nil {
		return wf, e.terminate(ctx, wf, current, fmt.Errorf("%w: %v", models.ErrDataUnavailable, err))
	}
	if verdict := e.validator.Check(rec, quota); !verdict.OK() {
		return wf, e.terminate(ctx, wf, current, verdict.Err())
	}

	wf.Recommendation = rec
	wf.State = models.StateAwaitingConfirmation
	wf.ExpiresAt = e.clock().Add(e.confirmTTL)
	wf.UpdatedAt = e.clock()
	if err := e.store.Update(ctx, wf); err != nil {
		return wf, e.terminate(ctx, wf, current, fmt.Errorf("persisting workflow: %w", err))
	}

	slog.Info("recommendation awaiting confirmation",
		"workflow", wf.ID, "workload", ref.String(),
		"current", rec.Current.String(), "proposed", rec.Proposed.String())
	return wf, nil
}

// Confirm applies the recommended change. The workflow state is checked
// again under the per-workload lock, so racing confirms (or the expiry
// sweeper) settle a workflow exactly once. Validation is also re-run since
// quota and cluster state may have drifted while the confirmation sat with
// a human.
func (e *Engine) Confirm(ctx context.Context, id, actor string) (*models.Workflow, error) {
	wf, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf.State != models.StateAwaitingConfirmation {
		return wf, fmt.Errorf("workflow %s is %s, not awaiting confirmation", id, wf.State)
	}

	key := wf.Ref.Key()
	if !e.locks.acquire(key, wf.ID) {
		holder, _ := e.locks.holder(key)
		return wf, fmt.Errorf("%w: workflow %s is applying a change to %s",
			models.ErrConflictingOperation, holder, wf.Ref)
	}
	defer e.locks.release(key, wf.ID)

	// The check above ran on a snapshot taken before the lock; anything may
	// have settled the workflow in between. Only the state observed under
	// the lock authorizes a transition.
	wf, err = e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf.State != models.StateAwaitingConfirmation {
		return wf, fmt.Errorf("workflow %s is %s, not awaiting confirmation", id, wf.State)
	}
	if e.clock().After(wf.ExpiresAt) {
		e.finish(ctx, wf, models.StateAbandoned, "confirmation window expired", wf.Recommendation.Current, nil)
		return wf, nil
	}

	wf.Actor = actor
	rec := wf.Recommendation

	quota, err := e.quota.Quota(ctx, wf.Ref)
	if err != nil {
		return wf, e.terminate(ctx, wf, rec.Current, fmt.Errorf("%w: %v", models.ErrDataUnavailable, err))
	}
	if verdict := e.validator.Check(rec, quota); !verdict.OK() {
		return wf, e.terminate(ctx, wf, rec.Current, verdict.Err())
	}

	if err := e.transition(ctx, wf, models.StateValidated); err != nil {
		return wf, err
	}
	if err := e.transition(ctx, wf, models.StateApplying); err != nil {
		return wf, err
	}

	if err := e.applier.Apply(ctx, wf.Ref, rec.Current, rec.Proposed); err != nil {
		return wf, e.terminate(ctx, wf, rec.Current, err)
	}

	proposed := rec.Proposed
	e.finish(ctx, wf, models.StateApplied, rec.Justification, rec.Current, &proposed)
	return wf, nil
}

// Reject declines the proposal. It always succeeds before Applying begins;
// once the mutation has been dispatched there is nothing left to cancel.
func (e *Engine) Reject(ctx context.Context, id, actor string) (*models.Workflow, error) {
	wf, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf.State.Terminal() {
		return wf, fmt.Errorf("workflow %s already ended as %s", id, wf.State)
	}

	key := wf.Ref.Key()
	if !e.locks.acquire(key, wf.ID) {
		holder, _ := e.locks.holder(key)
		return wf, fmt.Errorf("%w: workflow %s is applying a change to %s",
			models.ErrConflictingOperation, holder, wf.Ref)
	}
	defer e.locks.release(key, wf.ID)

	wf, err = e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf.State.Terminal() {
		return wf, fmt.Errorf("workflow %s already ended as %s", id, wf.State)
	}
	if wf.State == models.StateApplying {
		return wf, fmt.Errorf("workflow %s has already dispatched its cluster change", id)
	}

	wf.Actor = actor
	before := models.ResourceSpec{}
	if wf.Recommendation != nil {
		before = wf.Recommendation.Current
	}
	e.finish(ctx, wf, models.StateRejected, "declined by user", before, nil)
	return wf, nil
}

// Status returns the workflow by id.
func (e *Engine) Status(ctx context.Context, id string) (*models.Workflow, error) {
	return e.store.Get(ctx, id)
}

// ExpireStale sweeps workflows whose confirmation window has lapsed into
// Abandoned. It is driven by an external ticker, not a per-workflow timer,
// so the wait itself holds no resources.
func (e *Engine) ExpireStale(ctx context.Context) (int, error) {
	expired, err := e.store.ListAwaitingExpired(ctx, e.clock())
	if err != nil {
		return 0, fmt.Errorf("listing expired workflows: %w", err)
	}
	swept := 0
	for _, wf := range expired {
		if e.expireOne(ctx, wf) {
			swept++
		}
	}
	return swept, nil
}

// expireOne abandons one lapsed workflow. The listing is a snapshot, so the
// state is re-read under the per-workload lock before anything is written;
// a workflow settled by a racing confirm is left alone. A held lock means a
// confirm is mid-apply, and that confirm checked the deadline itself.
func (e *Engine) expireOne(ctx context.Context, stale *models.Workflow) bool {
	key := stale.Ref.Key()
	if !e.locks.acquire(key, stale.ID) {
		return false
	}
	defer e.locks.release(key, stale.ID)

	wf, err := e.store.Get(ctx, stale.ID)
	if err != nil {
		slog.Error("failed to re-read workflow during sweep", "workflow", stale.ID, "error", err)
		return false
	}
	if wf.State != models.StateAwaitingConfirmation || !e.clock().After(wf.ExpiresAt) {
		return false
	}

	before := models.ResourceSpec{}
	if wf.Recommendation != nil {
		before = wf.Recommendation.Current
	}
	e.finish(ctx, wf, models.StateAbandoned, "confirmation window expired", before, nil)
	slog.Info("workflow expired", "workflow", wf.ID, "workload", wf.Ref.String())
	return true
}

// transition advances a non-terminal state and persists it.
func (e *Engine) transition(ctx context.Context, wf *models.Workflow, state models.WorkflowState) error {
	wf.State = state
	wf.UpdatedAt = e.clock()
	if err := e.store.Update(ctx, wf); err != nil {
		return fmt.Errorf("persisting %s transition: %w", state, err)
	}
	return nil
}

// terminate moves the workflow to Failed carrying the causing error kind,
// records the audit entry and returns the original error.
func (e *Engine) terminate(ctx context.Context, wf *models.Workflow, before models.ResourceSpec, cause error) error {
	wf.State = models.StateFailed
	wf.FailureKind = models.KindOf(cause)
	wf.Detail = cause.Error()
	wf.UpdatedAt = e.clock()
	if err := e.store.Update(ctx, wf); err != nil {
		slog.Error("failed to persist workflow failure", "workflow", wf.ID, "error", err)
	}
	e.record(ctx, wf, before, nil)
	slog.Warn("workflow failed",
		"workflow", wf.ID, "workload", wf.Ref.String(),
		"kind", wf.FailureKind, "error", cause)
	return cause
}

// finish moves the workflow to a non-failure terminal state and records the
// audit entry.
func (e *Engine) finish(ctx context.Context, wf *models.Workflow, state models.WorkflowState, detail string, before models.ResourceSpec, after *models.ResourceSpec) {
	wf.State = state
	wf.Detail = detail
	wf.UpdatedAt = e.clock()
	if err := e.store.Update(ctx, wf); err != nil {
		slog.Error("failed to persist terminal state", "workflow", wf.ID, "state", state, "error", err)
	}
	e.record(ctx, wf, before, after)
}

// record writes the single audit entry for a terminal workflow. An applied
// cluster change is never rolled back because bookkeeping failed; the
// failure is logged and the workflow outcome stands.
func (e *Engine) record(ctx context.Context, wf *models.Workflow, before models.ResourceSpec, after *models.ResourceSpec) {
	rec := &models.AuditRecord{
		ID:         uuid.New().String(),
		WorkflowID: wf.ID,
		Outcome:    wf.State,
		Ref:        wf.Ref,
		Before:     before,
		After:      after,
		Actor:      wf.Actor,
		Detail:     wf.Detail,
		Timestamp:  e.clock(),
	}
	if wf.FailureKind != models.KindNone {
		rec.Detail = fmt.Sprintf("%s: %s", wf.FailureKind, wf.Detail)
	}
	if err := e.recorder.Record(ctx, rec); err != nil {
		slog.Error("audit recording failed; outcome stands",
			"workflow", wf.ID, "outcome", wf.State, "error", err)
	}
}
