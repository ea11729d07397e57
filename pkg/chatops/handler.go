package chatops

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/opscart/k8s-rightsizer/pkg/models"
	"github.com/opscart/k8s-rightsizer/pkg/sampler"
	"github.com/opscart/k8s-rightsizer/pkg/workflow"
)

// maxBodyBytes bounds inbound webhook payloads.
const maxBodyBytes = 1 << 20

// Handler adapts the chat front-end's webhook payloads onto the engine's
// four operations. Payloads are loosely-typed JSON; they are converted into
// typed entities here and nowhere deeper. Request signature verification is
// the front-end's concern, not this adapter's.
type Handler struct {
	engine  *workflow.Engine
	live    *sampler.MetricsServerSource
	cluster string
	region  string
}

// NewHandler creates the webhook handler. live may be nil when no
// metrics-server is reachable.
func NewHandler(engine *workflow.Engine, live *sampler.MetricsServerSource, cluster, region string) *Handler {
	return &Handler{engine: engine, live: live, cluster: cluster, region: region}
}

// Register installs all routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/optimize", logRequest(h.handleOptimize))
	mux.HandleFunc("POST /api/confirm", logRequest(h.handleConfirm))
	mux.HandleFunc("POST /api/reject", logRequest(h.handleReject))
	mux.HandleFunc("GET /api/status", logRequest(h.handleStatus))
	mux.HandleFunc("GET /api/health", h.handleHealth)
}

func (h *Handler) handleOptimize(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	kind, err := models.ParseWorkloadKind(gjson.GetBytes(body, "kind").String())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ref := models.WorkloadRef{
		Cluster:   h.cluster,
		Location:  h.region,
		Namespace: gjson.GetBytes(body, "namespace").String(),
		Kind:      kind,
		Name:      gjson.GetBytes(body, "workload").String(),
		Container: gjson.GetBytes(body, "container").String(),
	}
	if ref.Container == "" {
		// Single-container workloads may omit it; default to the workload name.
		ref.Container = ref.Name
	}
	actor := gjson.GetBytes(body, "user").String()

	wf, err := h.engine.StartOptimization(r.Context(), ref, actor)
	if err != nil {
		// A workflow that made it to a terminal state still renders, but
		// under the error's status so the front-end flags the outcome.
		if wf == nil {
			writeError(w, statusFor(err), err)
			return
		}
		h.writeWorkflow(r.Context(), w, statusFor(err), wf)
		return
	}
	h.writeWorkflow(r.Context(), w, http.StatusOK, wf)
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.engine.Confirm)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.engine.Reject)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, op func(context.Context, string, string) (*models.Workflow, error)) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id := gjson.GetBytes(body, "workflow_id").String()
	actor := gjson.GetBytes(body, "user").String()
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("workflow_id is required"))
		return
	}

	wf, err := op(r.Context(), id, actor)
	if err != nil {
		if wf == nil {
			writeError(w, statusFor(err), err)
			return
		}
		h.writeWorkflow(r.Context(), w, statusFor(err), wf)
		return
	}
	h.writeWorkflow(r.Context(), w, http.StatusOK, wf)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("id is required"))
		return
	}
	wf, err := h.engine.Status(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	h.writeWorkflow(r.Context(), w, http.StatusOK, wf)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.New("unreadable request body")
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("request body is not valid JSON")
	}
	return body, nil
}

// statusFor maps taxonomy errors onto HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrWorkflowNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrConflictingOperation):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidSpec), errors.Is(err, models.ErrInvalidWindow):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrDataUnavailable), errors.Is(err, models.ErrTransient):
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
