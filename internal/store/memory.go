package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for kiosks running without AWS. It
// applies the same TTL as DynamoStore.
type MemoryStore struct {
	mu       sync.RWMutex
	strips   map[string]Strip
	sessions map[string]Session
	now      func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		strips:   make(map[string]Strip),
		sessions: make(map[string]Session),
		now:      time.Now,
	}
}

func (m *MemoryStore) PutStrip(_ context.Context, strip *Strip) error {
	if strip == nil || strip.ID == "" {
		return errors.New("strip ID is required")
	}
	now := m.now()
	if strip.CreatedAt == 0 {
		strip.CreatedAt = now.Unix()
	}
	strip.ExpiresAt = now.Add(RecordTTL).Unix()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.strips[strip.ID] = *strip
	return nil
}

func (m *MemoryStore) GetStrip(_ context.Context, id string) (*Strip, error) {
	m.mu.RLock()
	strip, ok := m.strips[id]
	m.mu.RUnlock()
	if !ok || strip.Expired(m.now()) {
		return nil, nil
	}
	return &strip, nil
}

func (m *MemoryStore) DeleteStrip(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.strips, id)
	return nil
}

func (m *MemoryStore) PutSession(_ context.Context, session *Session) error {
	if session == nil || session.ID == "" {
		return errors.New("session ID is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = *session
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

// Prune drops expired strips and returns how many were removed.
func (m *MemoryStore) Prune() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, strip := range m.strips {
		if strip.Expired(now) {
			delete(m.strips, id)
			n++
		}
	}
	return n
}
