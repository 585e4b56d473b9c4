package upload

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryBackend keeps strips in process memory for kiosks without cloud
// storage. The kiosk serves them itself, so URLFor must point back at it.
// Strips older than TTL are dropped on the next Put.
type MemoryBackend struct {
	URLFor func(id string) string
	TTL    time.Duration
	NewID  func() string
	Now    func() time.Time

	mu    sync.RWMutex
	blobs map[string]memoryBlob
}

type memoryBlob struct {
	data        []byte
	contentType string
	storedAt    time.Time
}

// ErrNotFound is returned by Get for unknown or expired strips.
var ErrNotFound = errors.New("strip not found")

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Put(_ context.Context, obj Object) (Stored, error) {
	if m.URLFor == nil {
		return Stored{}, errors.New("memory backend has no URL mapping")
	}
	newID := uuid.NewString
	if m.NewID != nil {
		newID = m.NewID
	}
	id := newID()
	now := m.now()

	m.mu.Lock()
	if m.blobs == nil {
		m.blobs = make(map[string]memoryBlob)
	}
	for k, b := range m.blobs {
		if m.expired(b, now) {
			delete(m.blobs, k)
		}
	}
	m.blobs[id] = memoryBlob{
		data:        append([]byte(nil), obj.Data...),
		contentType: obj.ContentType,
		storedAt:    now,
	}
	m.mu.Unlock()

	return Stored{ID: id, URL: m.URLFor(id)}, nil
}

// Get returns a stored strip and its content type.
func (m *MemoryBackend) Get(id string) ([]byte, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[id]
	if !ok || m.expired(b, m.now()) {
		return nil, "", ErrNotFound
	}
	return b.data, b.contentType, nil
}

// Len reports how many strips are held.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}

func (m *MemoryBackend) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *MemoryBackend) expired(b memoryBlob, now time.Time) bool {
	return m.TTL > 0 && now.Sub(b.storedAt) >= m.TTL
}
