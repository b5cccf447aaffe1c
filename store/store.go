// Package store provides the versioned in-memory cache of flag and segment
// data that evaluation reads from, plus a wrapper that broadcasts change
// notifications.
//
// The store is keyed by (kind, key) and is strictly monotonic per key: an
// upsert or delete only takes effect when it carries a higher version than
// the stored item. Deletes are recorded as tombstones, which are invisible
// to reads but still participate in version comparisons.
package store

import (
	"sync"

	"github.com/matt-riley/lightswitch/model"
)

// DataStore is the contract between the update processors (writers) and the
// evaluation engine (reader). The in-memory implementation below is the
// default; persistent backends can substitute their own.
//
// Readers must treat returned items as immutable.
type DataStore interface {
	// Init atomically replaces all contents with the given data and marks
	// the store initialized.
	Init(data map[model.DataKind]map[string]model.Item) error
	// Get returns the item for the key, or nil if it is absent or deleted.
	Get(kind model.DataKind, key string) (model.Item, error)
	// All returns every non-deleted item of the kind.
	All(kind model.DataKind) (map[string]model.Item, error)
	// Upsert stores a deep copy of item if its version is strictly higher
	// than the stored version (or nothing is stored). It reports whether
	// the store changed.
	Upsert(kind model.DataKind, item model.Item) (bool, error)
	// Delete stores a tombstone at the given version under the same strict
	// version rule as Upsert. It reports whether the store changed.
	Delete(kind model.DataKind, key string, version int) (bool, error)
	// Initialized reports whether Init has been called at least once.
	Initialized() bool
	// Close releases any held resources.
	Close() error
}

// InMemory is the default DataStore: mutex-guarded maps with deep-copy
// writes.
type InMemory struct {
	mu          sync.RWMutex
	items       map[model.DataKind]map[string]model.Item
	initialized bool
}

var _ DataStore = (*InMemory)(nil)

// NewInMemory returns an empty, uninitialized in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{items: make(map[model.DataKind]map[string]model.Item)}
}

// Init implements DataStore. Previous contents are discarded. Items are deep
// copied so later caller mutations cannot leak into the store.
func (s *InMemory) Init(data map[model.DataKind]map[string]model.Item) error {
	next := make(map[model.DataKind]map[string]model.Item, len(data))
	for kind, items := range data {
		kindItems := make(map[string]model.Item, len(items))
		for key, item := range items {
			cloned, err := model.CloneItem(kind, item)
			if err != nil {
				return err
			}
			kindItems[key] = cloned
		}
		next[kind] = kindItems
	}

	s.mu.Lock()
	s.items = next
	s.initialized = true
	s.mu.Unlock()

	return nil
}

// Get implements DataStore. Tombstones are indistinguishable from absence.
func (s *InMemory) Get(kind model.DataKind, key string) (model.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[kind][key]
	if !ok || item.IsDeleted() {
		return nil, nil
	}
	return item, nil
}

// All implements DataStore, omitting tombstones.
func (s *InMemory) All(kind model.DataKind) (map[string]model.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]model.Item, len(s.items[kind]))
	for key, item := range s.items[kind] {
		if !item.IsDeleted() {
			result[key] = item
		}
	}
	return result, nil
}

// Upsert implements DataStore with an atomic read-compare-write.
func (s *InMemory) Upsert(kind model.DataKind, item model.Item) (bool, error) {
	cloned, err := model.CloneItem(kind, item)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.items[kind][item.GetKey()]
	if ok && old.GetVersion() >= item.GetVersion() {
		return false, nil
	}
	if s.items[kind] == nil {
		s.items[kind] = make(map[string]model.Item)
	}
	s.items[kind][item.GetKey()] = cloned
	return true, nil
}

// Delete implements DataStore. A losing version comparison is a silent
// no-op, including a delete trying to overwrite a newer tombstone.
func (s *InMemory) Delete(kind model.DataKind, key string, version int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.items[kind][key]
	if ok && old.GetVersion() >= version {
		return false, nil
	}
	if s.items[kind] == nil {
		s.items[kind] = make(map[string]model.Item)
	}
	s.items[kind][key] = kind.MakeDeletedItem(key, version)
	return true, nil
}

// Initialized implements DataStore.
func (s *InMemory) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// Close implements DataStore; the in-memory store holds no resources.
func (s *InMemory) Close() error { return nil }
