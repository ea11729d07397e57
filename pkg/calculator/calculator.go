package calculator

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/opscart/k8s-rightsizer/pkg/models"
)

// Outcome is the result of one calculation. Either Recommendation is set, or
// NoChange is true with a reason. NoChange is a valid terminal result, not an
// error.
type Outcome struct {
	Recommendation *models.Recommendation
	NoChange       bool
	Reason         string
}

// Calculator turns usage statistics into a bounded resource proposal. It is
// a pure function of its inputs and the policy; identical inputs yield
// identical proposals (only id and timestamp differ).
type Calculator struct {
	policy Policy
}

// New creates a Calculator with the given policy.
func New(policy Policy) (*Calculator, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid calculator policy: %w", err)
	}
	return &Calculator{policy: policy}, nil
}

// Calculate proposes a new resource spec for the workload. It fails with
// models.ErrInsufficientData when the sample count is below the confidence
// threshold, and returns a NoChange outcome when both relative deltas are
// under the minimum change threshold.
func (c *Calculator) Calculate(ref models.WorkloadRef, current models.ResourceSpec, sample models.UsageSample) (Outcome, error) {
	if err := sample.Validate(); err != nil {
		return Outcome{}, err
	}
	if err := current.Validate(); err != nil {
		return Outcome{}, err
	}
	if sample.SampleCount < c.policy.MinSamples {
		return Outcome{}, fmt.Errorf("%w: %d samples over window, need %d",
			models.ErrInsufficientData, sample.SampleCount, c.policy.MinSamples)
	}

	p := c.policy

	cpuTarget := sample.CPUPercentile(p.CPUTargetPercentile)
	memTarget := sample.MemoryPercentile(p.MemoryTargetPercentile)

	cpuRequest := roundUp(scale(cpuTarget, p.HeadroomFactor), p.CPUGranularityMillis)
	memRequest := roundUp(scale(memTarget, p.HeadroomFactor), p.MemoryGranularityBytes)

	// An idle workload still gets the floor, never zero.
	cpuRequest = max(cpuRequest, p.CPUFloorMillis)
	memRequest = max(memRequest, p.MemoryFloorBytes)

	cpuLimit := clamp(scale(cpuRequest, p.LimitToRequestRatio), cpuRequest, p.CPUCeilingMillis)
	memLimit := clamp(scale(memRequest, p.LimitToRequestRatio), memRequest, p.MemoryCeilingBytes)

	cpuDelta := relativeDelta(current.Request.CPUMillis, cpuRequest)
	memDelta := relativeDelta(current.Request.MemoryBytes, memRequest)
	if cpuDelta < p.MinChangeThreshold && memDelta < p.MinChangeThreshold {
		return Outcome{
			NoChange: true,
			Reason: fmt.Sprintf("current allocation is within %.0f%% of the computed target (CPU %.1f%%, memory %.1f%%)",
				p.MinChangeThreshold*100, cpuDelta*100, memDelta*100),
		}, nil
	}

	proposed := models.ResourceSpec{
		Request: models.Resources{CPUMillis: cpuRequest, MemoryBytes: memRequest},
		Limit:   &models.Resources{CPUMillis: cpuLimit, MemoryBytes: memLimit},
	}
	if err := proposed.Validate(); err != nil {
		return Outcome{}, err
	}

	rec := &models.Recommendation{
		ID:            uuid.New().String(),
		Ref:           ref,
		Current:       current,
		Proposed:      proposed,
		Sample:        sample,
		Justification: c.justification(current, proposed, sample),
		CreatedAt:     time.Now(),
	}
	return Outcome{Recommendation: rec}, nil
}

// justification builds the deterministic explanation. The workflow engine
// may replace it with an enriched text before publishing.
func (c *Calculator) justification(current, proposed models.ResourceSpec, sample models.UsageSample) string {
	p := c.policy
	days := sample.WindowEnd.Sub(sample.WindowStart).Hours() / 24
	return fmt.Sprintf(
		"Observed %s CPU of %s and %s memory of %s over %.0f days (%d samples). "+
			"With a %.0f%% headroom margin, the right-sized request is %s (currently %s).",
		p.CPUTargetPercentile, models.FormatCPU(sample.CPUPercentile(p.CPUTargetPercentile)),
		p.MemoryTargetPercentile, models.FormatMemory(sample.MemoryPercentile(p.MemoryTargetPercentile)),
		days, sample.SampleCount,
		(p.HeadroomFactor-1)*100,
		proposed.Request, current.Request,
	)
}

// scale multiplies and rounds up to the next whole unit.
func scale(v int64, factor float64) int64 {
	return int64(math.Ceil(float64(v) * factor))
}

// roundUp rounds v up to the next multiple of the granularity.
func roundUp(v, granularity int64) int64 {
	if v <= 0 {
		return 0
	}
	return ((v + granularity - 1) / granularity) * granularity
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if hi > 0 && v > hi {
		return hi
	}
	return v
}

// relativeDelta is |proposed-current| / current.
func relativeDelta(current, proposed int64) float64 {
	if current == 0 {
		return math.Inf(1)
	}
	return math.Abs(float64(proposed-current)) / float64(current)
}
