// Package references resolves uploaded reference keys into decoded image
// payloads. References are re-fetched on every step that needs them so the
// durable workflow state stays small.
package references

import (
	"context"
	"fmt"

	"server/internal/storage"
)

// Image is a decoded reference payload.
type Image struct {
	Data     []byte
	MimeType string
}

// Fetcher reads reference images from the blob store.
type Fetcher struct {
	store storage.BlobStore
}

func NewFetcher(store storage.BlobStore) *Fetcher {
	return &Fetcher{store: store}
}

// Fetch resolves keys in order. A single missing blob fails the whole call;
// no partial results are returned. The error wraps storage.ErrNotFound and
// names the missing key.
func (f *Fetcher) Fetch(ctx context.Context, keys []string) ([]Image, error) {
	images := make([]Image, 0, len(keys))
	for _, key := range keys {
		obj, err := f.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("fetch reference %q: %w", key, err)
		}
		mimeType := obj.ContentType
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		images = append(images, Image{Data: obj.Data, MimeType: mimeType})
	}
	return images, nil
}

// Cap limits keys to the first n entries, preserving order.
func Cap(keys []string, n int) []string {
	if len(keys) <= n {
		return keys
	}
	return keys[:n]
}
