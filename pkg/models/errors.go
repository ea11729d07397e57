package models

import "errors"

// Sentinel errors for the engine's failure taxonomy. Callers classify with
// errors.Is and wrap with fmt.Errorf("...: %w", Err...) to add detail.
var (
	// ErrDataUnavailable means the monitoring source was unreachable or had
	// no matching series for the workload.
	ErrDataUnavailable = errors.New("usage data unavailable")

	// ErrInvalidWindow means the requested lookback duration was not positive.
	ErrInvalidWindow = errors.New("invalid lookback window")

	// ErrInsufficientData means the sample count was below the configured
	// confidence threshold.
	ErrInsufficientData = errors.New("insufficient usage data")

	// ErrExceedsQuota means the proposed request exceeds the cluster ceiling.
	ErrExceedsQuota = errors.New("proposed resources exceed quota")

	// ErrDeltaTooLarge means the proposed change jumps more than the allowed
	// multiple from the current value.
	ErrDeltaTooLarge = errors.New("proposed change too large")

	// ErrBelowFloor means the proposed request is under the absolute floor.
	ErrBelowFloor = errors.New("proposed resources below floor")

	// ErrInvalidSpec means a resource spec or workload reference is malformed.
	ErrInvalidSpec = errors.New("invalid resource spec")

	// ErrConcurrentModification means the live resource no longer matches
	// the state the recommendation was computed against.
	ErrConcurrentModification = errors.New("workload modified concurrently")

	// ErrConflictingOperation means another workflow is already applying a
	// change to the same workload.
	ErrConflictingOperation = errors.New("conflicting operation in progress")

	// ErrWorkflowNotFound means the workflow id is unknown.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrTransient marks retryable network-level failures.
	ErrTransient = errors.New("transient error")
)

// ErrorKind is the stable name recorded as a workflow failure cause.
type ErrorKind string

const (
	KindNone                   ErrorKind = ""
	KindDataUnavailable        ErrorKind = "DataUnavailable"
	KindInvalidWindow          ErrorKind = "InvalidWindow"
	KindInsufficientData       ErrorKind = "InsufficientData"
	KindExceedsQuota           ErrorKind = "ExceedsQuota"
	KindDeltaTooLarge          ErrorKind = "DeltaTooLarge"
	KindBelowFloor             ErrorKind = "BelowFloor"
	KindInvalidSpec            ErrorKind = "InvalidSpec"
	KindConcurrentModification ErrorKind = "ConcurrentModification"
	KindConflictingOperation   ErrorKind = "ConflictingOperation"
	KindTransient              ErrorKind = "Transient"
	KindInternal               ErrorKind = "Internal"
)

// KindOf maps an error to its taxonomy kind. Unrecognized errors are
// classified as Internal rather than dropped so Failed workflows always
// carry a cause.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrDataUnavailable):
		return KindDataUnavailable
	case errors.Is(err, ErrInvalidWindow):
		return KindInvalidWindow
	case errors.Is(err, ErrInsufficientData):
		return KindInsufficientData
	case errors.Is(err, ErrExceedsQuota):
		return KindExceedsQuota
	case errors.Is(err, ErrDeltaTooLarge):
		return KindDeltaTooLarge
	case errors.Is(err, ErrBelowFloor):
		return KindBelowFloor
	case errors.Is(err, ErrInvalidSpec):
		return KindInvalidSpec
	case errors.Is(err, ErrConcurrentModification):
		return KindConcurrentModification
	case errors.Is(err, ErrConflictingOperation):
		return KindConflictingOperation
	case errors.Is(err, ErrTransient):
		return KindTransient
	default:
		return KindInternal
	}
}
