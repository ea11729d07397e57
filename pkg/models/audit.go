package models

import "time"

// AuditRecord is the durable record of a workflow's terminal outcome.
// It is written exactly once per workflow and never mutated.
type AuditRecord struct {
	ID         string
	WorkflowID string
	Outcome    WorkflowState
	Ref        WorkloadRef
	Before     ResourceSpec

	// After is nil unless the change was applied.
	After *ResourceSpec

	Actor     string
	Detail    string
	TicketRef string
	Timestamp time.Time
}
