package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opscart/k8s-rightsizer/pkg/models"
)

func storedWorkflow(id string, state models.WorkflowState, expiresAt time.Time) *models.Workflow {
	return &models.Workflow{
		ID:        id,
		State:     state,
		Ref:       workloadRef(),
		ExpiresAt: expiresAt,
	}
}

func TestMemoryStoreCRUD(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	wf := storedWorkflow("wf-1", models.StateProposed, time.Time{})
	require.NoError(t, store.Create(ctx, wf))

	err := store.Create(ctx, wf)
	require.Error(t, err, "duplicate create must fail")

	got, err := store.Get(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateProposed, got.State)

	got.State = models.StateApplied
	// mutating the returned copy must not leak into the store
	again, err := store.Get(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateProposed, again.State)

	wf.State = models.StateRejected
	require.NoError(t, store.Update(ctx, wf))
	updated, err := store.Get(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, models.StateRejected, updated.State)
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "nope")
	require.ErrorIs(t, err, models.ErrWorkflowNotFound)

	err = store.Update(context.Background(), storedWorkflow("nope", models.StateProposed, time.Time{}))
	require.ErrorIs(t, err, models.ErrWorkflowNotFound)
}

func TestMemoryStoreListAwaitingExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Create(ctx, storedWorkflow("lapsed", models.StateAwaitingConfirmation, now.Add(-time.Minute))))
	require.NoError(t, store.Create(ctx, storedWorkflow("fresh", models.StateAwaitingConfirmation, now.Add(time.Hour))))
	require.NoError(t, store.Create(ctx, storedWorkflow("settled", models.StateApplied, now.Add(-time.Hour))))

	expired, err := store.ListAwaitingExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "lapsed", expired[0].ID)
}
