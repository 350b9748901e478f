package handlers

import (
	stdzip "archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"server/internal/infra"
	"server/internal/storage"
	"server/internal/workflow"
)

func newTestApp() (*App, *workflow.MemoryStore, *storage.MemoryStore) {
	store := workflow.NewMemoryStore()
	blobs := storage.NewMemoryStore("http://localhost:8080")
	app := &App{
		Config:    &infra.Config{PublicBaseURL: "http://localhost:8080", RateLimitPerMin: 30},
		Logger:    zerolog.Nop(),
		Workflows: store,
		Blobs:     blobs,
	}
	return app, store, blobs
}

func TestGenerateHandler(t *testing.T) {
	testCases := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"success", `{"sessionId":"abc","uid":"u1","faceKeys":["uploads/1-f.png"],"officeKeys":["uploads/2-o.png"]}`, http.StatusAccepted},
		{"invalid json", `{`, http.StatusBadRequest},
		{"missing session", `{"uid":"u1","faceKeys":["f"],"officeKeys":["o"]}`, http.StatusBadRequest},
		{"missing uid", `{"sessionId":"abc","faceKeys":["f"],"officeKeys":["o"]}`, http.StatusBadRequest},
		{"empty face keys", `{"sessionId":"abc","uid":"u1","faceKeys":[],"officeKeys":["o"]}`, http.StatusBadRequest},
		{"empty office keys", `{"sessionId":"abc","uid":"u1","faceKeys":["f"],"officeKeys":[]}`, http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			app, _, _ := newTestApp()
			req := httptest.NewRequest("POST", "/generate", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()
			app.Generate(rr, req)
			if rr.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d; body=%s", rr.Code, tc.wantStatus, rr.Body.String())
			}
			if tc.wantStatus != http.StatusAccepted {
				return
			}
			var resp generateResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.InstanceID != "abc" {
				t.Fatalf("instanceId = %q, want abc", resp.InstanceID)
			}
			if resp.Status != string(workflow.StatusQueued) {
				t.Fatalf("status = %q, want queued", resp.Status)
			}
		})
	}
}

func TestGenerateHandlerIsIdempotent(t *testing.T) {
	app, store, _ := newTestApp()
	body := `{"sessionId":"abc","uid":"u1","faceKeys":["f"],"officeKeys":["o"]}`

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/generate", strings.NewReader(body))
		rr := httptest.NewRecorder()
		app.Generate(rr, req)
		if rr.Code != http.StatusAccepted {
			t.Fatalf("submission %d: status = %d, want 202", i+1, rr.Code)
		}
	}

	if _, err := store.ClaimQueued(context.Background()); err != nil {
		t.Fatalf("expected one queued instance: %v", err)
	}
	if _, err := store.ClaimQueued(context.Background()); err != workflow.ErrNoneQueued {
		t.Fatalf("duplicate submission enqueued a second run: %v", err)
	}

	// Re-attaching to a live run reports its real status, not "queued".
	req := httptest.NewRequest("POST", "/generate", strings.NewReader(body))
	rr := httptest.NewRecorder()
	app.Generate(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("resubmission status = %d, want 202", rr.Code)
	}
	var resp generateResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != string(workflow.StatusRunning) {
		t.Fatalf("resubmission status = %q, want running", resp.Status)
	}
}

func TestStatusHandler(t *testing.T) {
	app, store, _ := newTestApp()
	ctx := context.Background()

	t.Run("missing instanceId", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.Status(rr, httptest.NewRequest("GET", "/status", nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rr.Code)
		}
	})

	t.Run("unknown instance", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.Status(rr, httptest.NewRequest("GET", "/status?instanceId=nope", nil))
		if rr.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rr.Code)
		}
	})

	if _, err := store.Create(ctx, &workflow.Instance{ID: "abc", UID: "u1", FaceKeys: []string{"f"}, OfficeKeys: []string{"o"}}); err != nil {
		t.Fatalf("create: %v", err)
	}

	t.Run("queued has null output and error", func(t *testing.T) {
		rr := httptest.NewRecorder()
		app.Status(rr, httptest.NewRequest("GET", "/status?instanceId=abc", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200; body=%s", rr.Code, rr.Body.String())
		}
		var resp map[string]any
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp["status"] != "queued" {
			t.Fatalf("status = %v, want queued", resp["status"])
		}
		if resp["output"] != nil {
			t.Fatalf("output = %v, want null", resp["output"])
		}
		if resp["error"] != nil {
			t.Fatalf("error = %v, want null", resp["error"])
		}
	})

	t.Run("complete carries result urls", func(t *testing.T) {
		if _, err := store.ClaimQueued(ctx); err != nil {
			t.Fatalf("claim: %v", err)
		}
		urls := []string{"http://localhost:8080/file?key=results%2Fabc%2Fphoto-1.jpg"}
		if err := store.Complete(ctx, "abc", urls); err != nil {
			t.Fatalf("complete: %v", err)
		}

		rr := httptest.NewRecorder()
		app.Status(rr, httptest.NewRequest("GET", "/status?instanceId=abc", nil))
		var resp statusResponse
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if resp.Status != "complete" {
			t.Fatalf("status = %q, want complete", resp.Status)
		}
		if resp.Output == nil || len(resp.Output.ResultURLs) != 1 || resp.Output.ResultURLs[0] != urls[0] {
			t.Fatalf("output = %+v, want %v", resp.Output, urls)
		}
		if resp.Error != nil {
			t.Fatalf("error = %v, want nil", *resp.Error)
		}
	})
}

func TestUploadAndFileRoundTrip(t *testing.T) {
	app, _, _ := newTestApp()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", "selfie.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("png-bytes")); err != nil {
		t.Fatalf("write part: %v", err)
	}
	_ = mw.Close()

	req := httptest.NewRequest("POST", "/upload", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	app.Upload(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("upload status = %d; body=%s", rr.Code, rr.Body.String())
	}

	var resp uploadResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success")
	}
	if !strings.HasPrefix(resp.Key, "uploads/") || !strings.HasSuffix(resp.Key, "-selfie.png") {
		t.Fatalf("key = %q, want uploads/{timestamp}-selfie.png", resp.Key)
	}

	rr = httptest.NewRecorder()
	app.File(rr, httptest.NewRequest("GET", "/file?key="+resp.Key, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("file status = %d", rr.Code)
	}
	if got := rr.Body.String(); got != "png-bytes" {
		t.Fatalf("body = %q", got)
	}
	if cc := rr.Header().Get("Cache-Control"); cc != "public, max-age=86400" {
		t.Fatalf("cache-control = %q", cc)
	}
}

func TestFileHandlerMissingKey(t *testing.T) {
	app, _, _ := newTestApp()

	rr := httptest.NewRecorder()
	app.File(rr, httptest.NewRequest("GET", "/file", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}

	rr = httptest.NewRecorder()
	app.File(rr, httptest.NewRequest("GET", "/file?key=results/none/photo-1.jpg", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestResultsArchiveHandler(t *testing.T) {
	app, store, blobs := newTestApp()
	ctx := context.Background()

	if _, err := store.Create(ctx, &workflow.Instance{ID: "abc", UID: "u1", FaceKeys: []string{"f"}, OfficeKeys: []string{"o"}}); err != nil {
		t.Fatalf("create: %v", err)
	}

	rr := httptest.NewRecorder()
	app.ResultsArchive(rr, httptest.NewRequest("GET", "/results.zip?instanceId=abc", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("incomplete instance: status = %d, want 404", rr.Code)
	}

	if _, err := store.ClaimQueued(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}
	for _, n := range []int{1, 3} {
		key := workflow.ResultKey("abc", n)
		if _, err := blobs.Put(ctx, key, []byte("jpeg"), "image/jpeg"); err != nil {
			t.Fatalf("seed blob: %v", err)
		}
		if err := store.CommitStep(ctx, "abc", workflow.VariationStep(n), key); err != nil {
			t.Fatalf("commit step: %v", err)
		}
	}
	if err := store.Complete(ctx, "abc", []string{"u1", "u3"}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	rr = httptest.NewRecorder()
	app.ResultsArchive(rr, httptest.NewRequest("GET", "/results.zip?instanceId=abc", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body=%s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("content-type = %q", ct)
	}

	zr, err := stdzip.NewReader(bytes.NewReader(rr.Body.Bytes()), int64(rr.Body.Len()))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("archive has %d entries, want 2", len(zr.File))
	}
	if zr.File[0].Name != "photo-1.jpg" || zr.File[1].Name != "photo-3.jpg" {
		t.Fatalf("entries = %q, %q", zr.File[0].Name, zr.File[1].Name)
	}
}

func TestTerminateHandler(t *testing.T) {
	app, store, _ := newTestApp()
	ctx := context.Background()

	rr := httptest.NewRecorder()
	app.Terminate(rr, httptest.NewRequest("POST", "/terminate?instanceId=nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}

	if _, err := store.Create(ctx, &workflow.Instance{ID: "abc", UID: "u1", FaceKeys: []string{"f"}, OfficeKeys: []string{"o"}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	rr = httptest.NewRecorder()
	app.Terminate(rr, httptest.NewRequest("POST", "/terminate?instanceId=abc", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	inst, err := store.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if inst.Status != workflow.StatusTerminated {
		t.Fatalf("status = %s, want terminated", inst.Status)
	}
}

func TestHealthHandler(t *testing.T) {
	app, _, _ := newTestApp()
	rr := httptest.NewRecorder()
	app.Health(rr, httptest.NewRequest("GET", "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("body = %v", resp)
	}
}
