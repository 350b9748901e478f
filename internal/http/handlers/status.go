package handlers

import (
	"errors"
	"net/http"
	"strings"

	"server/internal/workflow"
)

type statusOutput struct {
	ResultURLs []string `json:"resultUrls"`
}

type statusResponse struct {
	Status string        `json:"status"`
	Output *statusOutput `json:"output"`
	Error  *string       `json:"error"`
}

// Status reports the lifecycle state of an instance. Output is only present
// once the run is complete; error only when it failed.
func (a *App) Status(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("instanceId"))
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "instanceId is required")
		return
	}
	inst, err := a.Workflows.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "unknown instance")
			return
		}
		a.Logger.Error().Err(err).Str("instance_id", id).Msg("gateway: status lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load instance")
		return
	}

	resp := statusResponse{Status: string(inst.Status)}
	if inst.Status == workflow.StatusComplete {
		urls := inst.Output
		if urls == nil {
			urls = []string{}
		}
		resp.Output = &statusOutput{ResultURLs: urls}
	}
	if inst.Error != "" {
		msg := inst.Error
		resp.Error = &msg
	}
	a.json(w, http.StatusOK, resp)
}

// Terminate cancels a queued or running instance. The worker notices the new
// status at its next step boundary, so already committed results survive.
func (a *App) Terminate(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("instanceId"))
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "instanceId is required")
		return
	}
	if err := a.Workflows.Terminate(r.Context(), id); err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "unknown instance")
			return
		}
		a.Logger.Error().Err(err).Str("instance_id", id).Msg("gateway: terminate failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to terminate instance")
		return
	}
	a.json(w, http.StatusOK, map[string]bool{"success": true})
}
