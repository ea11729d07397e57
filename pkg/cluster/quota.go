package cluster

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/opscart/k8s-rightsizer/pkg/models"
	"github.com/opscart/k8s-rightsizer/pkg/validator"
)

// QuotaSource resolves the effective per-workload ceiling by combining the
// namespace's ResourceQuota hard limits with the configured cluster-wide
// ceilings. The tighter bound wins in each dimension.
type QuotaSource struct {
	client   *Client
	defaults validator.Quota
}

// NewQuotaSource creates a quota source with the given fallback ceilings.
func NewQuotaSource(client *Client, defaults validator.Quota) *QuotaSource {
	return &QuotaSource{client: client, defaults: defaults}
}

// Quota returns the effective ceiling for the workload's namespace. Quota
// state is read live on every call because confirmation may be delayed
// arbitrarily and the namespace quota can change underneath the proposal.
func (q *QuotaSource) Quota(ctx context.Context, ref models.WorkloadRef) (validator.Quota, error) {
	quotas, err := q.client.kube.CoreV1().ResourceQuotas(ref.Namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return validator.Quota{}, fmt.Errorf("listing resource quotas in %s: %w", ref.Namespace, err)
	}

	effective := q.defaults
	for _, rq := range quotas.Items {
		if cpu := hardValue(rq, corev1.ResourceRequestsCPU, corev1.ResourceCPU); cpu > 0 {
			if effective.CPUCeilingMillis == 0 || cpu < effective.CPUCeilingMillis {
				effective.CPUCeilingMillis = cpu
			}
		}
		if mem := hardValueBytes(rq, corev1.ResourceRequestsMemory, corev1.ResourceMemory); mem > 0 {
			if effective.MemoryCeilingBytes == 0 || mem < effective.MemoryCeilingBytes {
				effective.MemoryCeilingBytes = mem
			}
		}
	}
	return effective, nil
}

func hardValue(rq corev1.ResourceQuota, names ...corev1.ResourceName) int64 {
	for _, name := range names {
		if qty, ok := rq.Spec.Hard[name]; ok {
			return qty.MilliValue()
		}
	}
	return 0
}

func hardValueBytes(rq corev1.ResourceQuota, names ...corev1.ResourceName) int64 {
	for _, name := range names {
		if qty, ok := rq.Spec.Hard[name]; ok {
			return qty.Value()
		}
	}
	return 0
}
