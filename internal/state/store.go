// Package state holds the in-memory application state exposed through the
// query_state / mutate_state / snapshot tools: a flat entity map plus two
// snapshot mechanisms (named full-map snapshots for test isolation, and an
// append-only branch tree for exploratory flows).
package state

import (
	"maps"
	"sync"

	"simharness/internal/mcperr"
)

// UpdateFunc computes the new value for an entity from its current value (nil
// if absent), the requested action and the caller-supplied patch.
type UpdateFunc func(current any, action string, patch any) (any, error)

// Store is an entity→value map with named snapshots. A single writer lock
// serializes mutation; readers proceed concurrently.
type Store struct {
	mu        sync.RWMutex
	data      map[string]any
	snapshots map[string]map[string]any
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		data:      make(map[string]any),
		snapshots: make(map[string]map[string]any),
	}
}

// Get returns the value for entity, or false if absent.
func (s *Store) Get(entity string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[entity]
	return v, ok
}

// Set stores value under entity, replacing any previous value.
func (s *Store) Set(entity string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[entity] = value
}

// Update applies fn to the entity's current value under the write lock and
// stores the result. The new value is returned.
func (s *Store) Update(entity, action string, patch any, fn UpdateFunc) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(s.data[entity], action, patch)
	if err != nil {
		return nil, err
	}
	s.data[entity] = next
	return next, nil
}

// Delete removes entity and reports whether it existed.
func (s *Store) Delete(entity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[entity]
	delete(s.data, entity)
	return ok
}

// Query returns entities matching the filter: a flat attribute equality match
// applied to object-typed values. Non-object values never match a non-empty
// filter. A nil filter returns everything.
func (s *Store) Query(filter map[string]any) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(s.data))
	if len(filter) == 0 {
		maps.Copy(out, s.data)
		return out
	}
	for key, value := range s.data {
		obj, ok := value.(map[string]any)
		if !ok {
			continue
		}
		if matchesFilter(obj, filter) {
			out[key] = value
		}
	}
	return out
}

func matchesFilter(obj, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := obj[k]
		if !ok || !equalJSON(got, want) {
			return false
		}
	}
	return true
}

// equalJSON compares two decoded JSON values structurally.
func equalJSON(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			if !equalJSON(v, bv[k]) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equalJSON(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// CreateSnapshot records the current entity map under name, replacing any
// snapshot with the same name.
func (s *Store) CreateSnapshot(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := make(map[string]any, len(s.data))
	maps.Copy(snap, s.data)
	s.snapshots[name] = snap
}

// RestoreSnapshot replaces the entity map with the named snapshot.
func (s *Store) RestoreSnapshot(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[name]
	if !ok {
		return mcperr.Newf(mcperr.ResourceNotFound, "snapshot %q not found", name)
	}
	restored := make(map[string]any, len(snap))
	maps.Copy(restored, snap)
	s.data = restored
	return nil
}

// DeleteSnapshot removes the named snapshot and reports whether it existed.
func (s *Store) DeleteSnapshot(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.snapshots[name]
	delete(s.snapshots, name)
	return ok
}

// ListSnapshots returns the names of all recorded snapshots.
func (s *Store) ListSnapshots() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.snapshots))
	for name := range s.snapshots {
		names = append(names, name)
	}
	return names
}
