package chatops

import (
	"context"
	"fmt"
	"net/http"

	"github.com/opscart/k8s-rightsizer/pkg/models"
)

// workflowResponse is the structured reply the chat front-end renders.
type workflowResponse struct {
	WorkflowID string `json:"workflow_id"`
	State      string `json:"state"`
	Message    string `json:"message"`
	LiveUsage  string `json:"live_usage,omitempty"`
}

func (h *Handler) writeWorkflow(ctx context.Context, w http.ResponseWriter, status int, wf *models.Workflow) {
	resp := workflowResponse{
		WorkflowID: wf.ID,
		State:      string(wf.State),
		Message:    message(wf),
	}
	if h.live != nil && wf.State == models.StateAwaitingConfirmation {
		if usage, err := h.live.LiveUsage(ctx, wf.Ref); err == nil {
			resp.LiveUsage = usage.String()
		}
	}
	writeJSON(w, status, resp)
}

// message maps each workflow state to exactly one explanatory category.
// Failed always names the causing error kind, never a generic message.
func message(wf *models.Workflow) string {
	switch wf.State {
	case models.StateAwaitingConfirmation:
		rec := wf.Recommendation
		return fmt.Sprintf(
			"Proposal for %s:\nCurrent: %s\nProposed: %s\n\n%s\n\nConfirm or reject before %s.",
			wf.Ref, rec.Current, rec.Proposed, rec.Justification,
			wf.ExpiresAt.Format("2006-01-02 15:04 MST"))
	case models.StateApplied:
		return fmt.Sprintf("Change applied to %s.", wf.Ref)
	case models.StateRejected:
		return fmt.Sprintf("Proposal for %s was declined.", wf.Ref)
	case models.StateAbandoned:
		return fmt.Sprintf("Nothing applied to %s: %s", wf.Ref, wf.Detail)
	case models.StateFailed:
		return fmt.Sprintf("Optimization of %s failed (%s): %s", wf.Ref, wf.FailureKind, wf.Detail)
	default:
		return fmt.Sprintf("Optimization of %s is %s.", wf.Ref, wf.State)
	}
}
