package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"server/internal/workflow"
)

type generateRequest struct {
	SessionID  string   `json:"sessionId"`
	UID        string   `json:"uid"`
	FaceKeys   []string `json:"faceKeys"`
	OfficeKeys []string `json:"officeKeys"`
}

type generateResponse struct {
	InstanceID string `json:"instanceId"`
	Status     string `json:"status"`
}

// Generate enqueues a generation session. Submission is idempotent by
// sessionId: resubmitting an id re-attaches to the existing instance instead
// of starting a second run, and the response carries that instance's current
// status rather than pretending a new run was queued.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "sessionId is required")
		return
	}
	if strings.TrimSpace(req.UID) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "uid is required")
		return
	}
	if len(req.FaceKeys) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "faceKeys must not be empty")
		return
	}
	if len(req.OfficeKeys) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "officeKeys must not be empty")
		return
	}

	inst, err := a.Workflows.Create(r.Context(), &workflow.Instance{
		ID:         req.SessionID,
		UID:        req.UID,
		FaceKeys:   req.FaceKeys,
		OfficeKeys: req.OfficeKeys,
	})
	if err != nil {
		a.Logger.Error().Err(err).Str("session_id", req.SessionID).Msg("gateway: enqueue failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to enqueue session")
		return
	}
	a.json(w, http.StatusAccepted, generateResponse{InstanceID: inst.ID, Status: string(inst.Status)})
}
