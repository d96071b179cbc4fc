package session

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Registry holds one value per session, built on first use and dropped after
// ttl without access or when the LRU overflows
type Registry[T any] struct {
	mu      sync.Mutex
	cache   *expirable.LRU[string, T]
	factory func(sessionID string) T
}

// NewRegistry creates a registry with room for size sessions
func NewRegistry[T any](size int, ttl time.Duration, factory func(sessionID string) T) *Registry[T] {
	return &Registry[T]{
		cache:   expirable.NewLRU[string, T](size, nil, ttl),
		factory: factory,
	}
}

// Get returns the session's value, creating it if needed. Every access
// refreshes the expiry.
func (r *Registry[T]) Get(sessionID string) T {
	r.mu.Lock()
	defer r.mu.Unlock()

	value, ok := r.cache.Get(sessionID)
	if !ok {
		value = r.factory(sessionID)
	}
	r.cache.Add(sessionID, value)
	return value
}

// Drop forgets the session's value
func (r *Registry[T]) Drop(sessionID string) {
	r.cache.Remove(sessionID)
}

// Len reports the number of live entries
func (r *Registry[T]) Len() int {
	return r.cache.Len()
}
