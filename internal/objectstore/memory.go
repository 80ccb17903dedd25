package objectstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	appErrors "dataguard/internal/errors"
)

// MemoryStore keeps objects in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) Put(ctx context.Context, data []byte, nameHint string) (string, error) {
	if err := appErrors.FromContext(ctx, true, "put canceled"); err != nil {
		return "", err
	}
	location, err := CleanLocation(nameHint)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[location]; ok {
		return "", exists(location)
	}
	m.objects[location] = append([]byte(nil), data...)
	return location, nil
}

func (m *MemoryStore) Get(ctx context.Context, location string) ([]byte, error) {
	if err := appErrors.FromContext(ctx, false, "get canceled"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[location]
	if !ok {
		return nil, notFound(location, nil)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) Delete(ctx context.Context, location string) error {
	if err := appErrors.FromContext(ctx, true, "delete canceled"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, location)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := appErrors.FromContext(ctx, false, "list canceled"); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) PresignedURL(ctx context.Context, location string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.objects[location]; !ok {
		return "", notFound(location, nil)
	}
	return "memory://" + location, nil
}

func (m *MemoryStore) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) Info() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]interface{}{
		"provider": string(ProviderMemory),
		"objects":  len(m.objects),
	}
}

// Tamper overwrites the byte at offset of a stored object. It exists so
// integrity checks can be exercised against a corrupted payload.
func (m *MemoryStore) Tamper(location string, offset int, fn func(byte) byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[location]
	if !ok || offset < 0 || offset >= len(data) {
		return false
	}
	data[offset] = fn(data[offset])
	return true
}
