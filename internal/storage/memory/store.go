package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/tjfontaine/testernest-go/internal/core/ports"
)

// Store is an in-memory implementation of ports.SessionStore. State does not
// survive the process.
type Store struct {
	mu     sync.RWMutex
	values map[string]string
}

var _ ports.SessionStore = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		values: make(map[string]string),
	}
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	return v, ok, nil
}

func (s *Store) Apply(ctx context.Context, m ports.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	maps.Copy(s.values, m.Set)
	for _, key := range m.Delete {
		delete(s.values, key)
	}
	return nil
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

func (s *Store) Close() error {
	return nil
}
