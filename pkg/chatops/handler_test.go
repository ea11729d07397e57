package chatops

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opscart/k8s-rightsizer/pkg/calculator"
	"github.com/opscart/k8s-rightsizer/pkg/models"
	"github.com/opscart/k8s-rightsizer/pkg/validator"
	"github.com/opscart/k8s-rightsizer/pkg/workflow"
)

type stubSampler struct {
	sample models.UsageSample
	err    error
}

func (s *stubSampler) Sample(context.Context, models.WorkloadRef, time.Duration) (models.UsageSample, error) {
	return s.sample, s.err
}

type stubApplier struct {
	spec models.ResourceSpec
}

func (s *stubApplier) ReadSpec(context.Context, models.WorkloadRef) (models.ResourceSpec, error) {
	return s.spec, nil
}

func (s *stubApplier) Apply(context.Context, models.WorkloadRef, models.ResourceSpec, models.ResourceSpec) error {
	return nil
}

type stubQuota struct{}

func (stubQuota) Quota(context.Context, models.WorkloadRef) (validator.Quota, error) {
	return validator.Quota{}, nil
}

type stubRecorder struct{}

func (stubRecorder) Record(context.Context, *models.AuditRecord) error { return nil }

func testSample() models.UsageSample {
	end := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	return models.UsageSample{
		P50CPUMillis: 60, P95CPUMillis: 100, P99CPUMillis: 110,
		P50MemoryBytes: 150 * models.MiB, P95MemoryBytes: 280 * models.MiB, P99MemoryBytes: 300 * models.MiB,
		WindowStart: end.Add(-30 * 24 * time.Hour),
		WindowEnd:   end,
		SampleCount: 8640,
	}
}

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	return newMuxWithSampler(t, &stubSampler{sample: testSample()})
}

func newMuxWithSampler(t *testing.T, src *stubSampler) *http.ServeMux {
	t.Helper()

	calc, err := calculator.New(calculator.DefaultPolicy())
	require.NoError(t, err)

	current := models.ResourceSpec{
		Request: models.Resources{CPUMillis: 400, MemoryBytes: 1024 * models.MiB},
	}

	engine, err := workflow.NewEngine(workflow.Config{
		Store:           workflow.NewMemoryStore(),
		Sampler:         src,
		Calculator:      calc,
		Validator:       validator.New(4.0, 10, 16*models.MiB),
		Quota:           stubQuota{},
		Applier:         &stubApplier{spec: current},
		Recorder:        stubRecorder{},
		Lookback:        30 * 24 * time.Hour,
		ConfirmationTTL: 4 * time.Hour,
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	NewHandler(engine, nil, "prod-cluster", "us-central1").Register(mux)
	return mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload), rr.Body.String())
	return rr, payload
}

func TestOptimizeEndToEnd(t *testing.T) {
	mux := newTestMux(t)

	rr, payload := doJSON(t, mux, http.MethodPost, "/api/optimize",
		`{"namespace":"payments","workload":"checkout","kind":"deployment","user":"alice"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	assert.Equal(t, string(models.StateAwaitingConfirmation), payload["state"])
	id, _ := payload["workflow_id"].(string)
	require.NotEmpty(t, id)
	message, _ := payload["message"].(string)
	assert.Contains(t, message, "Proposed")
	assert.Contains(t, message, "Confirm or reject")

	rr, payload = doJSON(t, mux, http.MethodPost, "/api/confirm",
		`{"workflow_id":"`+id+`","user":"bob"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, string(models.StateApplied), payload["state"])

	rr, payload = doJSON(t, mux, http.MethodGet, "/api/status?id="+id, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, string(models.StateApplied), payload["state"])
}

func TestRejectEndpoint(t *testing.T) {
	mux := newTestMux(t)

	_, payload := doJSON(t, mux, http.MethodPost, "/api/optimize",
		`{"namespace":"payments","workload":"checkout","user":"alice"}`)
	id := payload["workflow_id"].(string)

	rr, payload := doJSON(t, mux, http.MethodPost, "/api/reject",
		`{"workflow_id":"`+id+`","user":"bob"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, string(models.StateRejected), payload["state"])
	assert.Contains(t, payload["message"], "declined")
}

func TestOptimizeDefaultsContainerToWorkload(t *testing.T) {
	mux := newTestMux(t)

	rr, payload := doJSON(t, mux, http.MethodPost, "/api/optimize",
		`{"namespace":"payments","workload":"checkout","user":"alice"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, payload["message"], "(checkout)")
}

func TestOptimizeRejectsBadPayloads(t *testing.T) {
	mux := newTestMux(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"not json", `{"namespace":`, http.StatusBadRequest},
		{"unknown kind", `{"namespace":"payments","workload":"checkout","kind":"daemonset"}`, http.StatusBadRequest},
		{"missing namespace", `{"workload":"checkout"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, payload := doJSON(t, mux, http.MethodPost, "/api/optimize", tt.body)
			assert.Equal(t, tt.want, rr.Code)
			assert.NotEmpty(t, payload["error"])
		})
	}
}

func TestOptimizeFailedWorkflowCarriesErrorStatus(t *testing.T) {
	// Too few samples: the workflow is created, then terminates as Failed.
	// The response still renders the workflow, under the error's status.
	sample := testSample()
	sample.SampleCount = 12
	mux := newMuxWithSampler(t, &stubSampler{sample: sample})

	rr, payload := doJSON(t, mux, http.MethodPost, "/api/optimize",
		`{"namespace":"payments","workload":"checkout","user":"alice"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
	assert.Equal(t, string(models.StateFailed), payload["state"])
	assert.NotEmpty(t, payload["workflow_id"])
	assert.Contains(t, payload["message"], "failed")
}

func TestOptimizeSamplerOutageIsBadGateway(t *testing.T) {
	mux := newMuxWithSampler(t, &stubSampler{
		err: fmt.Errorf("%w: prometheus unreachable", models.ErrDataUnavailable),
	})

	rr, payload := doJSON(t, mux, http.MethodPost, "/api/optimize",
		`{"namespace":"payments","workload":"checkout","user":"alice"}`)
	assert.Equal(t, http.StatusBadGateway, rr.Code, rr.Body.String())
	assert.Equal(t, string(models.StateFailed), payload["state"])
}

func TestConfirmUnknownWorkflow(t *testing.T) {
	mux := newTestMux(t)
	rr, _ := doJSON(t, mux, http.MethodPost, "/api/confirm", `{"workflow_id":"missing","user":"bob"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestConfirmRequiresWorkflowID(t *testing.T) {
	mux := newTestMux(t)
	rr, _ := doJSON(t, mux, http.MethodPost, "/api/confirm", `{"user":"bob"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStatusRequiresID(t *testing.T) {
	mux := newTestMux(t)
	rr, _ := doJSON(t, mux, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealth(t *testing.T) {
	mux := newTestMux(t)
	rr, payload := doJSON(t, mux, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "healthy", payload["status"])
}
