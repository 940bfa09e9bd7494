package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Store is a size-bounded, thread-safe cache whose entries expire after a
// fixed TTL. Expired entries are evicted in the background by the LRU.
type Store[V any] struct {
	lru *expirable.LRU[string, V]
}

func New[V any](size int, ttl time.Duration) *Store[V] {
	if size <= 0 {
		size = 4096
	}
	return &Store[V]{lru: expirable.NewLRU[string, V](size, nil, ttl)}
}

// Set adds or replaces a value.
func (s *Store[V]) Set(key string, value V) {
	s.lru.Add(key, value)
}

// Get returns false for missing or expired keys.
func (s *Store[V]) Get(key string) (V, bool) {
	return s.lru.Get(key)
}

func (s *Store[V]) Len() int { return s.lru.Len() }

// Purge drops every entry.
func (s *Store[V]) Purge() { s.lru.Purge() }
