// Package handlers implements the workflow gateway: session submission,
// status polling, reference uploads and result delivery.
package handlers

import (
	"encoding/json"
	"net/http"

	"server/internal/infra"
	"server/internal/storage"
	"server/internal/workflow"
)

// App carries the dependencies shared by all gateway handlers.
type App struct {
	Config    *infra.Config
	Logger    infra.Logger
	Workflows workflow.Store
	Blobs     storage.BlobStore
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]string{"error": code, "message": message})
}
