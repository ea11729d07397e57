package models

import "time"

// Recommendation is a proposed resource change. It is immutable once
// published to a workflow; a revised proposal is a new Recommendation with
// a new ID.
type Recommendation struct {
	ID            string
	Ref           WorkloadRef
	Current       ResourceSpec
	Proposed      ResourceSpec
	Sample        UsageSample
	Justification string
	CreatedAt     time.Time
}
