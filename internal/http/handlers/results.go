package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"server/internal/workflow"
	"server/pkg/zip"
)

// ResultsArchive streams every generated photo of a completed instance as a
// single zip download. Until the run is complete there is nothing to package.
func (a *App) ResultsArchive(w http.ResponseWriter, r *http.Request) {
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
		a.Logger.Error().Err(err).Str("instance_id", id).Msg("gateway: archive lookup failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load instance")
		return
	}
	if inst.Status != workflow.StatusComplete {
		a.error(w, http.StatusNotFound, "not_found", "instance has no results yet")
		return
	}

	var assets []zip.Asset
	for n := 1; n <= workflow.VariationCount; n++ {
		key, ok := inst.StepResults[workflow.VariationStep(n)]
		if !ok {
			continue
		}
		obj, err := a.Blobs.Get(r.Context(), key)
		if err != nil {
			a.Logger.Warn().Err(err).Str("key", key).Msg("gateway: result blob missing from archive")
			continue
		}
		assets = append(assets, zip.Asset{Filename: path.Base(key), MIME: obj.ContentType, Data: obj.Data})
	}
	if len(assets) == 0 {
		a.error(w, http.StatusNotFound, "not_found", "instance has no result images")
		return
	}

	archive := zip.ArchiveAssets(assets)
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=session-%s.zip", id))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(archive)
}
