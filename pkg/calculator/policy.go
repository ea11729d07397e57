package calculator

import (
	"fmt"

	"github.com/opscart/k8s-rightsizer/pkg/models"
)

// Policy controls how usage statistics are turned into a proposal. All
// thresholds are deliberately configuration, not constants; deployments tune
// them per cluster.
type Policy struct {
	// CPUTargetPercentile drives the CPU request (default p95).
	CPUTargetPercentile models.Percentile
	// MemoryTargetPercentile drives the memory request (default p99).
	MemoryTargetPercentile models.Percentile

	// HeadroomFactor is the multiplicative safety margin applied to the
	// target percentile before it becomes the request.
	HeadroomFactor float64

	// LimitToRequestRatio produces the limit from the request.
	LimitToRequestRatio float64

	// MinChangeThreshold is the relative delta below which no
	// recommendation is produced.
	MinChangeThreshold float64

	// Rounding granularity of the platform.
	CPUGranularityMillis   int64
	MemoryGranularityBytes int64

	// Absolute floors; an idle workload is never recommended below these.
	CPUFloorMillis   int64
	MemoryFloorBytes int64

	// Cluster-wide limit ceilings.
	CPUCeilingMillis   int64
	MemoryCeilingBytes int64

	// MinSamples is the sample-count confidence threshold.
	MinSamples int
}

// DefaultPolicy returns the stock policy.
func DefaultPolicy() Policy {
	return Policy{
		CPUTargetPercentile:    models.P95,
		MemoryTargetPercentile: models.P99,
		HeadroomFactor:         1.2,
		LimitToRequestRatio:    2.0,
		MinChangeThreshold:     0.10,
		CPUGranularityMillis:   10,
		MemoryGranularityBytes: models.MiB,
		CPUFloorMillis:         10,
		MemoryFloorBytes:       16 * models.MiB,
		CPUCeilingMillis:       16000,
		MemoryCeilingBytes:     64 * models.GiB,
		MinSamples:             100,
	}
}

// Validate checks policy sanity.
func (p Policy) Validate() error {
	if p.HeadroomFactor < 1.0 {
		return fmt.Errorf("headroom factor must be >= 1.0, got %.2f", p.HeadroomFactor)
	}
	if p.LimitToRequestRatio < 1.0 {
		return fmt.Errorf("limit-to-request ratio must be >= 1.0, got %.2f", p.LimitToRequestRatio)
	}
	if p.MinChangeThreshold < 0 || p.MinChangeThreshold >= 1 {
		return fmt.Errorf("min change threshold must be in [0, 1), got %.2f", p.MinChangeThreshold)
	}
	if p.CPUGranularityMillis <= 0 || p.MemoryGranularityBytes <= 0 {
		return fmt.Errorf("granularity must be positive")
	}
	if p.CPUFloorMillis <= 0 || p.MemoryFloorBytes <= 0 {
		return fmt.Errorf("floors must be positive")
	}
	if p.MinSamples <= 0 {
		return fmt.Errorf("min samples must be positive, got %d", p.MinSamples)
	}
	return nil
}
