// Package storage provides blob persistence behind a small adapter interface.
// The workflow runner writes generated photos through it and the HTTP gateway
// serves uploads and results from it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNotFound is returned when no object exists at the requested key.
var ErrNotFound = errors.New("storage: object not found")

// Object is a stored blob together with its content type.
type Object struct {
	Data        []byte
	ContentType string
}

// BlobStore is the adapter contract shared by all storage drivers.
type BlobStore interface {
	// Put persists data at key and returns the canonicalized key.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Get returns the object at key, or ErrNotFound.
	Get(ctx context.Context, key string) (*Object, error)
	// PublicURL returns a gateway-servable URL for the object at key.
	PublicURL(key string) string
}

// Options selects and configures a storage driver.
type Options struct {
	Driver           string // file, azure or memory
	BasePath         string
	ConnectionString string
	Container        string
	PublicBaseURL    string
}

// New constructs the blob store selected by opts.Driver.
func New(opts Options) (BlobStore, error) {
	switch opts.Driver {
	case "file", "":
		return NewFileStore(opts.BasePath, opts.PublicBaseURL)
	case "azure":
		return NewAzureStore(opts.ConnectionString, opts.Container, opts.PublicBaseURL)
	case "memory":
		return NewMemoryStore(opts.PublicBaseURL), nil
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", opts.Driver)
	}
}

func publicURL(baseURL, key string) string {
	return fmt.Sprintf("%s/file?key=%s", strings.TrimRight(baseURL, "/"), url.QueryEscape(key))
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	if key == "" || strings.Contains(key, "..") {
		return "", errors.New("storage: invalid key")
	}
	return key, nil
}
