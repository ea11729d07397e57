package workflow

import (
	"context"
	"time"

	"github.com/opscart/k8s-rightsizer/pkg/models"
)

// Store persists workflows. The AwaitingConfirmation wait is purely stored
// state keyed by workflow id; no goroutine or lock is held while a human
// decides.
type Store interface {
	Create(ctx context.Context, wf *models.Workflow) error
	Get(ctx context.Context, id string) (*models.Workflow, error)
	Update(ctx context.Context, wf *models.Workflow) error

	// ListAwaitingExpired returns workflows still awaiting confirmation
	// whose expiry has passed.
	ListAwaitingExpired(ctx context.Context, now time.Time) ([]*models.Workflow, error)
}
