package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opscart/k8s-rightsizer/pkg/models"
)

// MemoryStore is an in-process Store for single-instance deployments and
// tests. Workflows are copied on the way in and out so callers never share
// mutable state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]models.Workflow
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{workflows: make(map[string]models.Workflow)}
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, wf *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workflows[wf.ID]; exists {
		return fmt.Errorf("workflow %s already exists", wf.ID)
	}
	s.workflows[wf.ID] = *wf
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrWorkflowNotFound, id)
	}
	copy := wf
	return &copy, nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, wf *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[wf.ID]; !ok {
		return fmt.Errorf("%w: %s", models.ErrWorkflowNotFound, wf.ID)
	}
	s.workflows[wf.ID] = *wf
	return nil
}

// ListAwaitingExpired implements Store.
func (s *MemoryStore) ListAwaitingExpired(_ context.Context, now time.Time) ([]*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var expired []*models.Workflow
	for _, wf := range s.workflows {
		if wf.State == models.StateAwaitingConfirmation && now.After(wf.ExpiresAt) {
			copy := wf
			expired = append(expired, &copy)
		}
	}
	return expired, nil
}
