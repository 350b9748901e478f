package storage

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// FileStore persists blobs onto the local filesystem. It is intended for
// development and test environments where an object storage service is not
// available. Content types are recorded in a sidecar file next to each blob
// so Get can serve the exact type the writer declared.
type FileStore struct {
	basePath string
	baseURL  string
}

const contentTypeSuffix = ".mime"

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath, baseURL string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath, baseURL: baseURL}, nil
}

// Put persists the provided bytes at the given relative key and returns the
// canonicalized storage key. Keys are cleaned to prevent directory traversal.
func (s *FileStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	if contentType != "" {
		if err := os.WriteFile(fullPath+contentTypeSuffix, []byte(contentType), 0o644); err != nil {
			return "", fmt.Errorf("storage: write content type: %w", err)
		}
	}
	return cleanKey, nil
}

// Get reads the blob at key, returning ErrNotFound when it does not exist.
func (s *FileStore) Get(ctx context.Context, key string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	data, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, cleanKey)
		}
		return nil, fmt.Errorf("storage: read file: %w", err)
	}
	return &Object{Data: data, ContentType: s.contentType(fullPath)}, nil
}

// PublicURL returns the gateway URL serving the object at key.
func (s *FileStore) PublicURL(key string) string {
	return publicURL(s.baseURL, key)
}

func (s *FileStore) contentType(fullPath string) string {
	if raw, err := os.ReadFile(fullPath + contentTypeSuffix); err == nil {
		if ct := strings.TrimSpace(string(raw)); ct != "" {
			return ct
		}
	}
	if ct := mime.TypeByExtension(filepath.Ext(fullPath)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

var _ BlobStore = (*FileStore)(nil)
