// Package ports declares the interfaces between the SDK core and its
// storage and network adapters.
package ports

import (
	"context"
)

// Mutation is a set of key changes applied atomically by a SessionStore.
// Deletes are applied after sets.
type Mutation struct {
	Set    map[string]string
	Delete []string
}

// Empty reports whether the mutation changes nothing.
func (m Mutation) Empty() bool {
	return len(m.Set) == 0 && len(m.Delete) == 0
}

// SessionStore defines the interface for persisted session key/value state.
// Implementations: in-memory (tests, ephemeral hosts), SQLite (durable).
type SessionStore interface {
	// Get returns the value stored under key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Apply commits a mutation atomically.
	Apply(ctx context.Context, m Mutation) error

	// Close releases the storage connection.
	Close() error
}
