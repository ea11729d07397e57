package models

import "fmt"

// Resources is one CPU/memory pair. CPU is in millicores, memory in bytes,
// matching what the monitoring and cluster boundaries convert to.
type Resources struct {
	CPUMillis   int64
	MemoryBytes int64
}

func (r Resources) String() string {
	return fmt.Sprintf("%s CPU / %s memory", FormatCPU(r.CPUMillis), FormatMemory(r.MemoryBytes))
}

// ResourceSpec is a request and an optional limit. A nil limit is the valid
// "unbounded" state, distinct from a zero limit which is never valid.
type ResourceSpec struct {
	Request Resources
	Limit   *Resources
}

// Validate enforces request > 0 and request <= limit per dimension.
func (s ResourceSpec) Validate() error {
	if s.Request.CPUMillis <= 0 || s.Request.MemoryBytes <= 0 {
		return fmt.Errorf("%w: request must be positive, got %s", ErrInvalidSpec, s.Request)
	}
	if s.Limit != nil {
		if s.Limit.CPUMillis <= 0 || s.Limit.MemoryBytes <= 0 {
			return fmt.Errorf("%w: limit must be positive, got %s", ErrInvalidSpec, *s.Limit)
		}
		if s.Request.CPUMillis > s.Limit.CPUMillis {
			return fmt.Errorf("%w: CPU request %s exceeds limit %s",
				ErrInvalidSpec, FormatCPU(s.Request.CPUMillis), FormatCPU(s.Limit.CPUMillis))
		}
		if s.Request.MemoryBytes > s.Limit.MemoryBytes {
			return fmt.Errorf("%w: memory request %s exceeds limit %s",
				ErrInvalidSpec, FormatMemory(s.Request.MemoryBytes), FormatMemory(s.Limit.MemoryBytes))
		}
	}
	return nil
}

// Equal reports whether two specs describe identical values.
func (s ResourceSpec) Equal(other ResourceSpec) bool {
	if s.Request != other.Request {
		return false
	}
	if (s.Limit == nil) != (other.Limit == nil) {
		return false
	}
	if s.Limit != nil && *s.Limit != *other.Limit {
		return false
	}
	return true
}

func (s ResourceSpec) String() string {
	if s.Limit == nil {
		return fmt.Sprintf("request %s, no limit", s.Request)
	}
	return fmt.Sprintf("request %s, limit %s", s.Request, *s.Limit)
}
