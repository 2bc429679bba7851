// Package idmap records which new identifier replaced which old one during a course duplication
package idmap

import (
	"errors"
	"fmt"
	"sync"

	"github.com/adaptauthoring/backend/internal/models"
)

// ErrAlreadyMapped is returned when an old identifier is registered twice
var ErrAlreadyMapped = errors.New("identifier already mapped")

// Map is a write-once mapping from old identifiers to new ones, scoped to one duplication run
type Map struct {
	mu      sync.RWMutex
	forward map[string]string
	targets map[string]struct{}
	created map[models.Kind][]string
}

// New creates an empty map
func New() *Map {
	return &Map{
		forward: make(map[string]string),
		targets: make(map[string]struct{}),
		created: make(map[models.Kind][]string),
	}
}

// Set registers oldID -> newID for an entity of the given kind
func (m *Map) Set(kind models.Kind, oldID, newID string) error {
	if oldID == "" || newID == "" {
		return fmt.Errorf("cannot map %q to %q: identifiers must not be empty", oldID, newID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.forward[oldID]; ok {
		return fmt.Errorf("%w: %s -> %s", ErrAlreadyMapped, oldID, existing)
	}
	m.forward[oldID] = newID
	m.targets[newID] = struct{}{}
	m.created[kind] = append(m.created[kind], newID)
	return nil
}

// Lookup returns the new identifier for oldID
func (m *Map) Lookup(oldID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	newID, ok := m.forward[oldID]
	return newID, ok
}

// Resolve returns the new identifier for id, or id itself when it was never mapped
func (m *Map) Resolve(id string) string {
	if newID, ok := m.Lookup(id); ok {
		return newID
	}
	return id
}

// IsTarget reports whether id is one of the identifiers created during the run
func (m *Map) IsTarget(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.targets[id]
	return ok
}

// Len returns the number of mapped identifiers
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.forward)
}

// Created returns the new identifiers registered for a kind, in registration order
func (m *Map) Created(kind models.Kind) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]string(nil), m.created[kind]...)
}
