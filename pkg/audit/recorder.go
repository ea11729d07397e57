package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opscart/k8s-rightsizer/pkg/models"
)

// Recorder durably persists audit records.
type Recorder interface {
	Record(ctx context.Context, rec *models.AuditRecord) error
}

// Ticketer creates an external ticket for an applied change and returns its
// reference. Failures are non-fatal to the workflow.
type Ticketer interface {
	CreateTicket(ctx context.Context, rec *models.AuditRecord) (string, error)
}

// Notifier delivers a terminal outcome summary. Best effort only.
type Notifier interface {
	Notify(ctx context.Context, rec *models.AuditRecord) error
}

// Pipeline sequences the bookkeeping for one terminal workflow outcome:
// ticket first (so the reference lands in the stored record), then the
// durable store with bounded retry, then notification. Only a store failure
// after all retries propagates; ticketing and notification degrade
// observability, never correctness.
type Pipeline struct {
	store    Recorder
	ticketer Ticketer
	notifier Notifier
	attempts int
	delay    time.Duration
}

// NewPipeline builds a pipeline. Ticketer and notifier may be nil.
func NewPipeline(store Recorder, ticketer Ticketer, notifier Notifier) *Pipeline {
	return &Pipeline{
		store:    store,
		ticketer: ticketer,
		notifier: notifier,
		attempts: 3,
		delay:    500 * time.Millisecond,
	}
}

// Record implements Recorder.
func (p *Pipeline) Record(ctx context.Context, rec *models.AuditRecord) error {
	if p.ticketer != nil && rec.Outcome == models.StateApplied {
		ticketRef, err := p.ticketer.CreateTicket(ctx, rec)
		if err != nil {
			slog.Warn("ticket creation failed", "workflow", rec.WorkflowID, "error", err)
		} else {
			rec.TicketRef = ticketRef
		}
	}

	var storeErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		storeErr = p.store.Record(ctx, rec)
		if storeErr == nil {
			break
		}
		slog.Warn("audit store write failed",
			"workflow", rec.WorkflowID, "attempt", attempt, "error", storeErr)
		if attempt < p.attempts {
			select {
			case <-time.After(p.delay * time.Duration(attempt)):
			case <-ctx.Done():
				return fmt.Errorf("audit write interrupted: %w", ctx.Err())
			}
		}
	}

	if p.notifier != nil {
		if err := p.notifier.Notify(ctx, rec); err != nil {
			slog.Warn("notification failed", "workflow", rec.WorkflowID, "error", err)
		}
	}

	if storeErr != nil {
		return fmt.Errorf("audit write failed after %d attempts: %w", p.attempts, storeErr)
	}
	return nil
}

// LogRecorder writes audit records to the process log. It is the store of
// last resort when no database is configured.
type LogRecorder struct{}

// Record implements Recorder.
func (LogRecorder) Record(_ context.Context, rec *models.AuditRecord) error {
	slog.Info("audit record",
		"workflow", rec.WorkflowID,
		"outcome", rec.Outcome,
		"workload", rec.Ref.String(),
		"before", rec.Before.String(),
		"after", afterString(rec),
		"actor", rec.Actor,
		"ticket", rec.TicketRef,
	)
	return nil
}

func afterString(rec *models.AuditRecord) string {
	if rec.After == nil {
		return "unchanged"
	}
	return rec.After.String()
}
