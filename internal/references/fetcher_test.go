package references

import (
	"context"
	"errors"
	"strings"
	"testing"

	"server/internal/storage"
)

func seededStore(t *testing.T, keys map[string]string) *storage.MemoryStore {
	t.Helper()
	store := storage.NewMemoryStore("http://localhost:8080")
	for key, body := range keys {
		if _, err := store.Put(context.Background(), key, []byte(body), "image/png"); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}
	return store
}

func TestFetchPreservesOrder(t *testing.T) {
	store := seededStore(t, map[string]string{
		"uploads/1-a.png": "aaa",
		"uploads/2-b.png": "bbb",
		"uploads/3-c.png": "ccc",
	})
	fetcher := NewFetcher(store)

	images, err := fetcher.Fetch(context.Background(), []string{"uploads/3-c.png", "uploads/1-a.png"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(images) != 2 {
		t.Fatalf("len = %d, want 2", len(images))
	}
	if string(images[0].Data) != "ccc" || string(images[1].Data) != "aaa" {
		t.Fatalf("order not preserved: %q, %q", images[0].Data, images[1].Data)
	}
	if images[0].MimeType != "image/png" {
		t.Fatalf("mime = %q", images[0].MimeType)
	}
}

func TestFetchMissingKeyFailsWholeCall(t *testing.T) {
	store := seededStore(t, map[string]string{"uploads/1-a.png": "aaa"})
	fetcher := NewFetcher(store)

	images, err := fetcher.Fetch(context.Background(), []string{"uploads/1-a.png", "uploads/gone.png"})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if !strings.Contains(err.Error(), "uploads/gone.png") {
		t.Fatalf("error does not name missing key: %v", err)
	}
	if images != nil {
		t.Fatalf("expected no partial results, got %d", len(images))
	}
}

func TestCap(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e"}
	if got := Cap(keys, 4); len(got) != 4 || got[3] != "d" {
		t.Fatalf("Cap(5, 4) = %v", got)
	}
	if got := Cap(keys[:2], 4); len(got) != 2 {
		t.Fatalf("Cap(2, 4) = %v", got)
	}
}
