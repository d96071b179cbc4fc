// Package session holds per-session state: the scoped key/value storage, the
// identity context built on it and the signed tokens that name a session.
package session

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Storage is session-scoped key/value storage. Set writes every given field
// of a session atomically. Get of an unknown or expired session returns an
// empty map.
type Storage interface {
	Set(ctx context.Context, sessionID string, fields map[string]string) error
	Get(ctx context.Context, sessionID string) (map[string]string, error)
	Clear(ctx context.Context, sessionID string) error
}

// MemoryStorage keeps sessions in an in-process expiring LRU
type MemoryStorage struct {
	cache *expirable.LRU[string, map[string]string]
}

// NewMemoryStorage creates a storage holding at most size sessions, each
// expiring ttl after its last write
func NewMemoryStorage(size int, ttl time.Duration) *MemoryStorage {
	return &MemoryStorage{
		cache: expirable.NewLRU[string, map[string]string](size, nil, ttl),
	}
}

// Set merges fields into the session
func (m *MemoryStorage) Set(_ context.Context, sessionID string, fields map[string]string) error {
	merged := make(map[string]string, len(fields))
	if existing, ok := m.cache.Get(sessionID); ok {
		for k, v := range existing {
			merged[k] = v
		}
	}
	for k, v := range fields {
		merged[k] = v
	}
	m.cache.Add(sessionID, merged)
	return nil
}

// Get returns a copy of the session's fields
func (m *MemoryStorage) Get(_ context.Context, sessionID string) (map[string]string, error) {
	out := make(map[string]string)
	if existing, ok := m.cache.Get(sessionID); ok {
		for k, v := range existing {
			out[k] = v
		}
	}
	return out, nil
}

// Clear drops the session
func (m *MemoryStorage) Clear(_ context.Context, sessionID string) error {
	m.cache.Remove(sessionID)
	return nil
}

// Len reports the number of live sessions
func (m *MemoryStorage) Len() int {
	return m.cache.Len()
}
