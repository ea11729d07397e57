package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"golang.org/x/sync/errgroup"

	"github.com/opscart/k8s-rightsizer/pkg/models"
)

// PrometheusSource samples workload utilization from a Prometheus server.
// CPU is read as a per-container usage rate, memory as the working set;
// percentiles are computed locally from the raw range-query series.
type PrometheusSource struct {
	client v1.API
	step   time.Duration
	now    func() time.Time
}

// NewPrometheusSource creates a source querying the given Prometheus URL.
func NewPrometheusSource(url string, step time.Duration) (*PrometheusSource, error) {
	client, err := api.NewClient(api.Config{Address: url})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return NewWithAPI(v1.NewAPI(client), step), nil
}

// NewWithAPI creates a source on an existing API handle.
func NewWithAPI(client v1.API, step time.Duration) *PrometheusSource {
	if step <= 0 {
		step = 5 * time.Minute
	}
	return &PrometheusSource{client: client, step: step, now: time.Now}
}

// Sample queries CPU and memory utilization over the lookback window and
// summarizes them. It fails with models.ErrInvalidWindow for a non-positive
// window and models.ErrDataUnavailable when Prometheus is unreachable or has
// no matching series. Sparse series are returned as-is with their low sample
// count; the caller decides whether confidence is sufficient.
func (p *PrometheusSource) Sample(ctx context.Context, ref models.WorkloadRef, window time.Duration) (models.UsageSample, error) {
	if window <= 0 {
		return models.UsageSample{}, fmt.Errorf("%w: %s", models.ErrInvalidWindow, window)
	}

	end := p.now()
	r := v1.Range{Start: end.Add(-window), End: end, Step: p.step}

	podPattern := ref.Name + "-.*"
	cpuQuery := fmt.Sprintf(
		`sum(rate(container_cpu_usage_seconds_total{namespace=%q,pod=~%q,container=%q}[%s]))`,
		ref.Namespace, podPattern, ref.Container, model.Duration(2*p.step).String())
	memQuery := fmt.Sprintf(
		`max(container_memory_working_set_bytes{namespace=%q,pod=~%q,container=%q})`,
		ref.Namespace, podPattern, ref.Container)

	var cpuValues, memValues []float64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cpuValues, err = p.queryRange(gctx, cpuQuery, r)
		return err
	})
	g.Go(func() error {
		var err error
		memValues, err = p.queryRange(gctx, memQuery, r)
		return err
	})
	if err := g.Wait(); err != nil {
		return models.UsageSample{}, err
	}

	if len(cpuValues) == 0 || len(memValues) == 0 {
		return models.UsageSample{}, fmt.Errorf("%w: no series for %s over %s",
			models.ErrDataUnavailable, ref, window)
	}

	cpu := summarize(cpuValues)
	mem := summarize(memValues)

	sample := models.UsageSample{
		P50CPUMillis:   toMillis(cpu.p50),
		P95CPUMillis:   toMillis(cpu.p95),
		P99CPUMillis:   toMillis(cpu.p99),
		P50MemoryBytes: int64(math.Round(mem.p50)),
		P95MemoryBytes: int64(math.Round(mem.p95)),
		P99MemoryBytes: int64(math.Round(mem.p99)),
		WindowStart:    r.Start,
		WindowEnd:      r.End,
		SampleCount:    min(cpu.count, mem.count),
	}
	if err := sample.Validate(); err != nil {
		return models.UsageSample{}, err
	}
	return sample, nil
}

// queryRange runs one range query and flattens the matrix into raw values.
func (p *PrometheusSource) queryRange(ctx context.Context, query string, r v1.Range) ([]float64, error) {
	result, warnings, err := p.client.QueryRange(ctx, query, r)
	if err != nil {
		return nil, fmt.Errorf("%w: range query failed: %v", models.ErrDataUnavailable, err)
	}
	if len(warnings) > 0 {
		slog.Warn("Prometheus query returned warnings", "query", query, "warnings", warnings)
	}

	matrix, ok := result.(model.Matrix)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected result type %T", models.ErrDataUnavailable, result)
	}

	var values []float64
	for _, stream := range matrix {
		for _, pair := range stream.Values {
			v := float64(pair.Value)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			values = append(values, v)
		}
	}
	return values, nil
}

// IsAvailable checks if Prometheus is reachable.
func (p *PrometheusSource) IsAvailable(ctx context.Context) bool {
	_, _, err := p.client.Query(ctx, "up", p.now())
	return err == nil
}

func toMillis(cores float64) int64 {
	return int64(math.Round(cores * 1000))
}
