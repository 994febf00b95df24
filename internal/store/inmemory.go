package store

import (
	"context"
	"sync"
)

// InMemoryStore is a process-local store for tests and ephemeral relays.
type InMemoryStore struct {
	mu    sync.RWMutex
	items map[string]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{items: make(map[string]string)}
}

func (s *InMemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok, nil
}

func (s *InMemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
