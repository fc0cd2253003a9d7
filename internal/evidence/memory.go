package evidence

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/catherinevee/compliancemgr/internal/errors"
)

// MemoryStore is an in-memory ObjectStore for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// PutErr, when set, fails every Put to exercise degraded paths.
	PutErr error
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	if m.PutErr != nil {
		return m.PutErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make([]byte, len(body))
	copy(copied, body)
	m.objects[key] = copied
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	body, ok := m.objects[key]
	if !ok {
		return nil, apperrors.NewNotFoundError("object not found").WithDetail("key", key)
	}
	copied := make([]byte, len(body))
	copy(copied, body)
	return copied, nil
}

func (m *MemoryStore) PresignGet(ctx context.Context, key string, validity time.Duration) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.objects[key]; !ok {
		return "", apperrors.NewNotFoundError("object not found").WithDetail("key", key)
	}
	return fmt.Sprintf("memory://%s?expires=%ds", key, int(validity.Seconds())), nil
}

// Len returns the number of stored objects
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Keys returns all stored keys
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}
