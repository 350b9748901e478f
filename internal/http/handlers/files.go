package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"server/internal/storage"
)

const maxUploadBytes = 15 << 20

type uploadResponse struct {
	Key     string `json:"key"`
	Success bool   `json:"success"`
}

// Upload stores one reference image from a multipart form. Keys are
// timestamp-prefixed so repeated uploads of the same filename never collide.
func (a *App) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "multipart field 'file' is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "failed to read upload")
		return
	}
	if len(data) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "uploaded file is empty")
		return
	}

	name := filepath.Base(strings.TrimSpace(header.Filename))
	if name == "" || name == "." || name == "/" {
		name = "upload"
	}
	key := fmt.Sprintf("uploads/%d-%s", time.Now().UnixMilli(), name)

	contentType := header.Header.Get("Content-Type")
	storedKey, err := a.Blobs.Put(r.Context(), key, data, contentType)
	if err != nil {
		a.Logger.Error().Err(err).Str("key", key).Msg("gateway: upload failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to store upload")
		return
	}
	a.json(w, http.StatusOK, uploadResponse{Key: storedKey, Success: true})
}

// File serves a stored blob by key. Uploads and results are immutable, so
// responses are cacheable for a day.
func (a *App) File(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "key is required")
		return
	}
	obj, err := a.Blobs.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "no object at key")
			return
		}
		a.Logger.Error().Err(err).Str("key", key).Msg("gateway: blob read failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to read object")
		return
	}
	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Data)
}
