package calculator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opscart/k8s-rightsizer/pkg/models"
)

func testRef() models.WorkloadRef {
	return models.WorkloadRef{
		Cluster:   "prod-cluster",
		Location:  "us-central1",
		Namespace: "payments",
		Kind:      models.KindDeployment,
		Name:      "checkout",
		Container: "checkout",
	}
}

func testSample(p95CPU, p99Mem int64, count int) models.UsageSample {
	end := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	return models.UsageSample{
		P50CPUMillis:   p95CPU / 2,
		P95CPUMillis:   p95CPU,
		P99CPUMillis:   p95CPU + p95CPU/10,
		P50MemoryBytes: p99Mem / 2,
		P95MemoryBytes: p99Mem - p99Mem/10,
		P99MemoryBytes: p99Mem,
		WindowStart:    end.Add(-30 * 24 * time.Hour),
		WindowEnd:      end,
		SampleCount:    count,
	}
}

func TestCalculateOverProvisionedWorkload(t *testing.T) {
	calc, err := New(DefaultPolicy())
	require.NoError(t, err)

	current := models.ResourceSpec{
		Request: models.Resources{CPUMillis: 500, MemoryBytes: 1024 * models.MiB},
		Limit:   &models.Resources{CPUMillis: 1000, MemoryBytes: 2048 * models.MiB},
	}
	sample := testSample(100, 300*models.MiB, 8640)

	outcome, err := calc.Calculate(testRef(), current, sample)
	require.NoError(t, err)
	require.False(t, outcome.NoChange)
	require.NotNil(t, outcome.Recommendation)

	rec := outcome.Recommendation
	// p95 CPU 100m * 1.2 headroom = 120m; p99 memory 300Mi * 1.2 = 360Mi.
	assert.Equal(t, int64(120), rec.Proposed.Request.CPUMillis)
	assert.Equal(t, 360*models.MiB, rec.Proposed.Request.MemoryBytes)
	require.NotNil(t, rec.Proposed.Limit)
	assert.Equal(t, int64(240), rec.Proposed.Limit.CPUMillis)
	assert.Equal(t, 720*models.MiB, rec.Proposed.Limit.MemoryBytes)

	assert.Equal(t, current, rec.Current)
	assert.NotEmpty(t, rec.ID)
	assert.Contains(t, rec.Justification, "p95 CPU of 100m")
	assert.Contains(t, rec.Justification, "p99 memory of 300Mi")
}

func TestCalculateRoundsUpToGranularity(t *testing.T) {
	calc, err := New(DefaultPolicy())
	require.NoError(t, err)

	current := models.ResourceSpec{
		Request: models.Resources{CPUMillis: 500, MemoryBytes: 1024 * models.MiB},
	}
	// 93m * 1.2 = 111.6m, ceil to 112m, round up to the 10m grain = 120m.
	sample := testSample(93, 300*models.MiB, 8640)

	outcome, err := calc.Calculate(testRef(), current, sample)
	require.NoError(t, err)
	require.NotNil(t, outcome.Recommendation)
	assert.Equal(t, int64(120), outcome.Recommendation.Proposed.Request.CPUMillis)
}

func TestCalculateIdleWorkloadGetsFloor(t *testing.T) {
	calc, err := New(DefaultPolicy())
	require.NoError(t, err)

	current := models.ResourceSpec{
		Request: models.Resources{CPUMillis: 500, MemoryBytes: 512 * models.MiB},
	}
	sample := testSample(0, 0, 8640)

	outcome, err := calc.Calculate(testRef(), current, sample)
	require.NoError(t, err)
	require.NotNil(t, outcome.Recommendation)

	rec := outcome.Recommendation
	assert.Equal(t, int64(10), rec.Proposed.Request.CPUMillis)
	assert.Equal(t, 16*models.MiB, rec.Proposed.Request.MemoryBytes)
	require.NoError(t, rec.Proposed.Validate())
}

func TestCalculateNoChangeWithinThreshold(t *testing.T) {
	calc, err := New(DefaultPolicy())
	require.NoError(t, err)

	// 400m * 1.2 = 480m vs current 500m (4% delta); 480Mi * 1.2 = 576Mi vs
	// 600Mi (4% delta). Both under the 10% minimum change threshold.
	current := models.ResourceSpec{
		Request: models.Resources{CPUMillis: 500, MemoryBytes: 600 * models.MiB},
	}
	sample := testSample(400, 480*models.MiB, 8640)

	outcome, err := calc.Calculate(testRef(), current, sample)
	require.NoError(t, err)
	assert.True(t, outcome.NoChange)
	assert.Nil(t, outcome.Recommendation)
	assert.Contains(t, outcome.Reason, "within")
}

func TestCalculateOneDimensionOverThreshold(t *testing.T) {
	calc, err := New(DefaultPolicy())
	require.NoError(t, err)

	// CPU lands within 4% of current but memory shrinks by ~40%; a single
	// dimension over the threshold is enough to recommend.
	current := models.ResourceSpec{
		Request: models.Resources{CPUMillis: 500, MemoryBytes: 1024 * models.MiB},
	}
	sample := testSample(400, 500*models.MiB, 8640)

	outcome, err := calc.Calculate(testRef(), current, sample)
	require.NoError(t, err)
	assert.False(t, outcome.NoChange)
	require.NotNil(t, outcome.Recommendation)
	assert.Equal(t, 600*models.MiB, outcome.Recommendation.Proposed.Request.MemoryBytes)
}

func TestCalculateInsufficientData(t *testing.T) {
	calc, err := New(DefaultPolicy())
	require.NoError(t, err)

	current := models.ResourceSpec{
		Request: models.Resources{CPUMillis: 500, MemoryBytes: 512 * models.MiB},
	}
	sample := testSample(100, 300*models.MiB, 40)

	_, err = calc.Calculate(testRef(), current, sample)
	require.ErrorIs(t, err, models.ErrInsufficientData)
}

func TestCalculateRejectsInvalidInputs(t *testing.T) {
	calc, err := New(DefaultPolicy())
	require.NoError(t, err)

	current := models.ResourceSpec{
		Request: models.Resources{CPUMillis: 500, MemoryBytes: 512 * models.MiB},
	}

	inverted := testSample(100, 300*models.MiB, 8640)
	inverted.WindowStart, inverted.WindowEnd = inverted.WindowEnd, inverted.WindowStart
	_, err = calc.Calculate(testRef(), current, inverted)
	require.ErrorIs(t, err, models.ErrInvalidWindow)

	_, err = calc.Calculate(testRef(), models.ResourceSpec{}, testSample(100, 300*models.MiB, 8640))
	require.ErrorIs(t, err, models.ErrInvalidSpec)
}

func TestCalculateLimitCappedAtCeiling(t *testing.T) {
	policy := DefaultPolicy()
	policy.CPUCeilingMillis = 2000
	calc, err := New(policy)
	require.NoError(t, err)

	current := models.ResourceSpec{
		Request: models.Resources{CPUMillis: 500, MemoryBytes: 512 * models.MiB},
	}
	// 1500m * 1.2 = 1800m request; the 2x limit would be 3600m, capped at 2000m.
	sample := testSample(1500, 300*models.MiB, 8640)

	outcome, err := calc.Calculate(testRef(), current, sample)
	require.NoError(t, err)
	require.NotNil(t, outcome.Recommendation)
	assert.Equal(t, int64(1800), outcome.Recommendation.Proposed.Request.CPUMillis)
	assert.Equal(t, int64(2000), outcome.Recommendation.Proposed.Limit.CPUMillis)
}

func TestCalculateDeterministicModuloIdentity(t *testing.T) {
	calc, err := New(DefaultPolicy())
	require.NoError(t, err)

	current := models.ResourceSpec{
		Request: models.Resources{CPUMillis: 500, MemoryBytes: 1024 * models.MiB},
	}
	sample := testSample(100, 300*models.MiB, 8640)

	first, err := calc.Calculate(testRef(), current, sample)
	require.NoError(t, err)
	second, err := calc.Calculate(testRef(), current, sample)
	require.NoError(t, err)

	assert.NotEqual(t, first.Recommendation.ID, second.Recommendation.ID)
	assert.Equal(t, first.Recommendation.Proposed, second.Recommendation.Proposed)
	assert.Equal(t, first.Recommendation.Justification, second.Recommendation.Justification)
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"headroom below one", func(p *Policy) { p.HeadroomFactor = 0.9 }},
		{"ratio below one", func(p *Policy) { p.LimitToRequestRatio = 0.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := DefaultPolicy()
			tt.mutate(&policy)
			_, err := New(policy)
			assert.Error(t, err)
		})
	}
}
