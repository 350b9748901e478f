package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps blobs in process memory. It backs tests and throwaway
// environments where nothing should touch disk.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
	baseURL string
}

func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{objects: make(map[string]Object), baseURL: baseURL}
}

func (s *MemoryStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.objects[cleanKey] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	s.mu.Unlock()
	return cleanKey, nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	obj, ok := s.objects[cleanKey]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, cleanKey)
	}
	return &Object{Data: append([]byte(nil), obj.Data...), ContentType: obj.ContentType}, nil
}

func (s *MemoryStore) PublicURL(key string) string {
	return publicURL(s.baseURL, key)
}

// Len reports how many objects are stored. Test helper.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

var _ BlobStore = (*MemoryStore)(nil)
