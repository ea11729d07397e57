package sampler

import (
	"context"
	"fmt"
	"strings"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/rest"
	metricsv "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/opscart/k8s-rightsizer/pkg/models"
)

// MetricsServerSource reads instant usage from the metrics-server API. It is
// used only to enrich status output with live numbers; recommendations are
// always derived from the historical Prometheus sample.
type MetricsServerSource struct {
	client metricsv.Interface
}

// NewMetricsServerSource creates a live-usage source from a rest config.
func NewMetricsServerSource(cfg *rest.Config) (*MetricsServerSource, error) {
	client, err := metricsv.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics client: %w", err)
	}
	return &MetricsServerSource{client: client}, nil
}

// NewMetricsServerSourceWithClient wraps an existing clientset.
func NewMetricsServerSourceWithClient(client metricsv.Interface) *MetricsServerSource {
	return &MetricsServerSource{client: client}
}

// LiveUsage returns the current per-pod average usage of the referenced
// container across all pods belonging to the workload.
func (m *MetricsServerSource) LiveUsage(ctx context.Context, ref models.WorkloadRef) (models.Resources, error) {
	podMetrics, err := m.client.MetricsV1beta1().PodMetricses(ref.Namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return models.Resources{}, fmt.Errorf("%w: listing pod metrics: %v", models.ErrDataUnavailable, err)
	}

	var cpuMillis, memBytes int64
	var pods int64
	for _, pod := range podMetrics.Items {
		if !strings.HasPrefix(pod.Name, ref.Name+"-") {
			continue
		}
		for _, c := range pod.Containers {
			if c.Name != ref.Container {
				continue
			}
			cpuMillis += c.Usage.Cpu().MilliValue()
			memBytes += c.Usage.Memory().Value()
			pods++
		}
	}

	if pods == 0 {
		return models.Resources{}, fmt.Errorf("%w: no live metrics for %s", models.ErrDataUnavailable, ref)
	}

	return models.Resources{
		CPUMillis:   cpuMillis / pods,
		MemoryBytes: memBytes / pods,
	}, nil
}
