package models

import "time"

// WorkflowState is the lifecycle state of one optimization attempt.
// Only the workflow engine transitions it.
type WorkflowState string

const (
	StateProposed             WorkflowState = "Proposed"
	StateAwaitingConfirmation WorkflowState = "AwaitingConfirmation"
	StateValidated            WorkflowState = "Validated"
	StateApplying             WorkflowState = "Applying"
	StateApplied              WorkflowState = "Applied"
	StateRejected             WorkflowState = "Rejected"
	StateFailed               WorkflowState = "Failed"
	StateAbandoned            WorkflowState = "Abandoned"
)

// Terminal reports whether the state ends the workflow.
func (s WorkflowState) Terminal() bool {
	switch s {
	case StateApplied, StateRejected, StateFailed, StateAbandoned:
		return true
	}
	return false
}

// Workflow is one end-to-end optimization attempt for one workload.
type Workflow struct {
	ID             string
	State          WorkflowState
	Ref            WorkloadRef
	Recommendation *Recommendation
	Actor          string

	// FailureKind and Detail are set on terminal transitions: the causing
	// error kind for Failed, or a short human explanation otherwise.
	FailureKind ErrorKind
	Detail      string

	CreatedAt time.Time
	UpdatedAt time.Time

	// ExpiresAt bounds the AwaitingConfirmation wait; past it the workflow
	// is swept to Abandoned.
	ExpiresAt time.Time
}
