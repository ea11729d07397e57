package validator

import (
	"fmt"

	"github.com/opscart/k8s-rightsizer/pkg/models"
)

// Code is the verdict of one validation pass.
type Code string

const (
	Valid         Code = "Valid"
	ExceedsQuota  Code = "ExceedsQuota"
	DeltaTooLarge Code = "DeltaTooLarge"
	BelowFloor    Code = "BelowFloor"
	InvalidSpec   Code = "InvalidSpec"
)

// Verdict carries the validation code and a human-readable detail.
type Verdict struct {
	Code   Code
	Detail string
}

// OK reports whether the recommendation may proceed.
func (v Verdict) OK() bool { return v.Code == Valid }

// Err maps a non-valid verdict onto the error taxonomy.
func (v Verdict) Err() error {
	var base error
	switch v.Code {
	case Valid:
		return nil
	case ExceedsQuota:
		base = models.ErrExceedsQuota
	case DeltaTooLarge:
		base = models.ErrDeltaTooLarge
	case BelowFloor:
		base = models.ErrBelowFloor
	default:
		base = models.ErrInvalidSpec
	}
	return fmt.Errorf("%w: %s", base, v.Detail)
}

// Quota is the effective ceiling for one workload's namespace. Zero values
// mean "no limit in this dimension".
type Quota struct {
	CPUCeilingMillis   int64
	MemoryCeilingBytes int64
}

// Validator checks a proposed change against static sanity rules. It is run
// once when the recommendation is built and again immediately before the
// cluster mutation, since quota and cluster state may drift while a human
// sits on the confirmation.
type Validator struct {
	maxDeltaMultiple float64
	cpuFloorMillis   int64
	memoryFloorBytes int64
}

// New creates a Validator. maxDeltaMultiple bounds how far the proposed
// request may jump from the current one in either direction (default 4x).
func New(maxDeltaMultiple float64, cpuFloorMillis, memoryFloorBytes int64) *Validator {
	if maxDeltaMultiple <= 1 {
		maxDeltaMultiple = 4.0
	}
	return &Validator{
		maxDeltaMultiple: maxDeltaMultiple,
		cpuFloorMillis:   cpuFloorMillis,
		memoryFloorBytes: memoryFloorBytes,
	}
}

// Check validates the recommendation against the quota and returns a verdict.
func (v *Validator) Check(rec *models.Recommendation, quota Quota) Verdict {
	if rec == nil {
		return Verdict{Code: InvalidSpec, Detail: "no recommendation"}
	}
	if err := rec.Proposed.Validate(); err != nil {
		return Verdict{Code: InvalidSpec, Detail: err.Error()}
	}

	req := rec.Proposed.Request

	if req.CPUMillis < v.cpuFloorMillis {
		return Verdict{Code: BelowFloor, Detail: fmt.Sprintf(
			"proposed CPU request %s is below the %s floor",
			models.FormatCPU(req.CPUMillis), models.FormatCPU(v.cpuFloorMillis))}
	}
	if req.MemoryBytes < v.memoryFloorBytes {
		return Verdict{Code: BelowFloor, Detail: fmt.Sprintf(
			"proposed memory request %s is below the %s floor",
			models.FormatMemory(req.MemoryBytes), models.FormatMemory(v.memoryFloorBytes))}
	}

	if quota.CPUCeilingMillis > 0 && req.CPUMillis > quota.CPUCeilingMillis {
		return Verdict{Code: ExceedsQuota, Detail: fmt.Sprintf(
			"proposed CPU request %s exceeds the %s ceiling",
			models.FormatCPU(req.CPUMillis), models.FormatCPU(quota.CPUCeilingMillis))}
	}
	if quota.MemoryCeilingBytes > 0 && req.MemoryBytes > quota.MemoryCeilingBytes {
		return Verdict{Code: ExceedsQuota, Detail: fmt.Sprintf(
			"proposed memory request %s exceeds the %s ceiling",
			models.FormatMemory(req.MemoryBytes), models.FormatMemory(quota.MemoryCeilingBytes))}
	}
	if rec.Proposed.Limit != nil {
		if quota.CPUCeilingMillis > 0 && rec.Proposed.Limit.CPUMillis > quota.CPUCeilingMillis {
			return Verdict{Code: ExceedsQuota, Detail: fmt.Sprintf(
				"proposed CPU limit %s exceeds the %s ceiling",
				models.FormatCPU(rec.Proposed.Limit.CPUMillis), models.FormatCPU(quota.CPUCeilingMillis))}
		}
		if quota.MemoryCeilingBytes > 0 && rec.Proposed.Limit.MemoryBytes > quota.MemoryCeilingBytes {
			return Verdict{Code: ExceedsQuota, Detail: fmt.Sprintf(
				"proposed memory limit %s exceeds the %s ceiling",
				models.FormatMemory(rec.Proposed.Limit.MemoryBytes), models.FormatMemory(quota.MemoryCeilingBytes))}
		}
	}

	// Large jumps need extra human scrutiny, not silent application.
	if d := deltaMultiple(rec.Current.Request.CPUMillis, req.CPUMillis); d > v.maxDeltaMultiple {
		return Verdict{Code: DeltaTooLarge, Detail: fmt.Sprintf(
			"CPU request changes %.1fx from %s, more than the allowed %.1fx",
			d, models.FormatCPU(rec.Current.Request.CPUMillis), v.maxDeltaMultiple)}
	}
	if d := deltaMultiple(rec.Current.Request.MemoryBytes, req.MemoryBytes); d > v.maxDeltaMultiple {
		return Verdict{Code: DeltaTooLarge, Detail: fmt.Sprintf(
			"memory request changes %.1fx from %s, more than the allowed %.1fx",
			d, models.FormatMemory(rec.Current.Request.MemoryBytes), v.maxDeltaMultiple)}
	}

	return Verdict{Code: Valid}
}

// deltaMultiple is the jump factor between current and proposed, measured in
// whichever direction the change goes.
func deltaMultiple(current, proposed int64) float64 {
	if current <= 0 || proposed <= 0 {
		return 0
	}
	if proposed > current {
		return float64(proposed) / float64(current)
	}
	return float64(current) / float64(proposed)
}
