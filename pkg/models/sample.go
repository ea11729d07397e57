package models

import (
	"fmt"
	"time"
)

// Percentile selects which summary statistic drives a recommendation.
type Percentile string

const (
	P50 Percentile = "p50"
	P95 Percentile = "p95"
	P99 Percentile = "p99"
)

// ParsePercentile validates a configured percentile name.
func ParsePercentile(s string) (Percentile, error) {
	switch Percentile(s) {
	case P50, P95, P99:
		return Percentile(s), nil
	default:
		return "", fmt.Errorf("unsupported percentile %q (want p50, p95 or p99)", s)
	}
}

// UsageSample summarizes a workload's utilization over a lookback window.
// A SampleCount of zero signals no usable data and must short-circuit
// recommendation downstream.
type UsageSample struct {
	P50CPUMillis int64
	P95CPUMillis int64
	P99CPUMillis int64

	P50MemoryBytes int64
	P95MemoryBytes int64
	P99MemoryBytes int64

	WindowStart time.Time
	WindowEnd   time.Time
	SampleCount int
}

// CPUPercentile returns the selected CPU statistic in millicores.
func (s UsageSample) CPUPercentile(p Percentile) int64 {
	switch p {
	case P50:
		return s.P50CPUMillis
	case P99:
		return s.P99CPUMillis
	default:
		return s.P95CPUMillis
	}
}

// MemoryPercentile returns the selected memory statistic in bytes.
func (s UsageSample) MemoryPercentile(p Percentile) int64 {
	switch p {
	case P50:
		return s.P50MemoryBytes
	case P99:
		return s.P99MemoryBytes
	default:
		return s.P95MemoryBytes
	}
}

// Validate enforces percentile ordering and window sanity.
func (s UsageSample) Validate() error {
	if !s.WindowEnd.After(s.WindowStart) {
		return fmt.Errorf("%w: window end %s not after start %s", ErrInvalidWindow, s.WindowEnd, s.WindowStart)
	}
	if s.SampleCount < 0 {
		return fmt.Errorf("%w: negative sample count %d", ErrInvalidSpec, s.SampleCount)
	}
	if s.P50CPUMillis > s.P95CPUMillis || s.P95CPUMillis > s.P99CPUMillis {
		return fmt.Errorf("%w: CPU percentiles out of order (p50=%d p95=%d p99=%d)",
			ErrInvalidSpec, s.P50CPUMillis, s.P95CPUMillis, s.P99CPUMillis)
	}
	if s.P50MemoryBytes > s.P95MemoryBytes || s.P95MemoryBytes > s.P99MemoryBytes {
		return fmt.Errorf("%w: memory percentiles out of order (p50=%d p95=%d p99=%d)",
			ErrInvalidSpec, s.P50MemoryBytes, s.P95MemoryBytes, s.P99MemoryBytes)
	}
	return nil
}
