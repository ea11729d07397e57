package sampler

import (
	"context"
	"time"

	"github.com/opscart/k8s-rightsizer/pkg/models"
)

// Source returns historical usage statistics for a workload. Implementations
// perform a single read with no retries; retry policy belongs to the caller.
type Source interface {
	Sample(ctx context.Context, ref models.WorkloadRef, window time.Duration) (models.UsageSample, error)
}
