package workflow

import "sync"

// refLocks enforces the single-applier-per-workload rule: at most one
// workflow may hold the lock for a WorkloadRef key while it is in Validated
// or Applying. The AwaitingConfirmation wait never holds a lock.
type refLocks struct {
	mu   sync.Mutex
	held map[string]string // ref key -> workflow id
}

func newRefLocks() *refLocks {
	return &refLocks{held: make(map[string]string)}
}

// acquire takes the lock for the ref key on behalf of the workflow. The lock
// is never re-entered: a second acquire fails even for the same workflow id,
// so racing confirms of one workflow serialize like confirms of two.
func (l *refLocks) acquire(key, workflowID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return false
	}
	l.held[key] = workflowID
	return true
}

// release drops the lock if this workflow holds it.
func (l *refLocks) release(key, workflowID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == workflowID {
		delete(l.held, key)
	}
}

// holder reports the workflow currently applying to the ref key, if any.
func (l *refLocks) holder(key string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.held[key]
	return id, ok
}
