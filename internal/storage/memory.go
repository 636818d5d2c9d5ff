package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryBackend keeps objects in process. Read URLs are opaque memory:// links
// carrying an expiry, enough for local runs and tests.
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	now     func() time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{objects: make(map[string]memoryObject), now: time.Now}
}

func (m *MemoryBackend) Kind() string { return "memory" }

func (m *MemoryBackend) Upload(_ context.Context, key string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: bytes.Clone(data), contentType: contentType}
	return key, nil
}

// ReadURL does not check existence, matching presigned S3 URLs.
func (m *MemoryBackend) ReadURL(_ context.Context, handle string, ttl time.Duration) (string, error) {
	expires := m.now().Add(ttl).Unix()
	return fmt.Sprintf("memory://objects/%s?expires=%d", url.PathEscape(handle), expires), nil
}

func (m *MemoryBackend) Remove(_ context.Context, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[handle]; !ok {
		return ErrObjectNotFound
	}
	delete(m.objects, handle)
	return nil
}

// Get returns a stored object, for tests and diagnostics.
func (m *MemoryBackend) Get(handle string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[handle]
	if !ok {
		return nil, "", false
	}
	return bytes.Clone(obj.data), obj.contentType, true
}

func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
