// Package world is the in-memory store of true block data: loaded
// sections, block reads and writes, and change subscriptions.
package world

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/udisondev/xrayguard/internal/voxel"
)

var (
	// ErrNotLoaded is returned when writing into an unloaded section.
	ErrNotLoaded = errors.New("section not loaded")
	// ErrBadSectionSize is returned for section payloads that are not SectionVolume long.
	ErrBadSectionSize = errors.New("bad section size")
)

// ChangeFunc observes a true block type change.
type ChangeFunc func(pos voxel.Pos, newType voxel.BlockType)

type subscriber struct {
	id uint64
	fn ChangeFunc
}

// Store holds loaded sections. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sections map[voxel.RegionKey]*Section

	subMu  sync.Mutex
	subs   []subscriber
	nextID uint64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{sections: make(map[voxel.RegionKey]*Section, 256)}
}

// LoadSection installs a section with the given block ids, replacing any
// previously loaded data at key.
func (s *Store) LoadSection(key voxel.RegionKey, types []voxel.BlockType) (*Section, error) {
	if len(types) != voxel.SectionVolume {
		return nil, fmt.Errorf("loading section %v: %w: %d", key, ErrBadSectionSize, len(types))
	}
	sec := NewSection(key)
	sec.Fill(types)

	s.mu.Lock()
	s.sections[key] = sec
	s.mu.Unlock()
	return sec, nil
}

// UnloadSection drops a section; reads inside it report unloaded.
func (s *Store) UnloadSection(key voxel.RegionKey) {
	s.mu.Lock()
	delete(s.sections, key)
	s.mu.Unlock()
}

// Section returns the loaded section at key or nil.
func (s *Store) Section(key voxel.RegionKey) *Section {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sections[key]
}

// Loaded reports whether key is loaded.
func (s *Store) Loaded(key voxel.RegionKey) bool {
	return s.Section(key) != nil
}

// Keys returns the loaded section keys in (Y, Z, X) order.
func (s *Store) Keys() []voxel.RegionKey {
	s.mu.RLock()
	keys := make([]voxel.RegionKey, 0, len(s.sections))
	for k := range s.sections {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	slices.SortFunc(keys, func(a, b voxel.RegionKey) int {
		return cmp.Or(cmp.Compare(a.Y, b.Y), cmp.Compare(a.Z, b.Z), cmp.Compare(a.X, b.X))
	})
	return keys
}

// ReadBlockType returns the true type at pos, false if its section is not loaded.
func (s *Store) ReadBlockType(pos voxel.Pos) (voxel.BlockType, bool) {
	sec := s.Section(pos.Region())
	if sec == nil {
		return 0, false
	}
	return sec.At(pos.Local()), true
}

// SetBlock writes t at pos and notifies subscribers synchronously, in
// subscription order, when the type actually changed.
func (s *Store) SetBlock(pos voxel.Pos, t voxel.BlockType) error {
	sec := s.Section(pos.Region())
	if sec == nil {
		return fmt.Errorf("setting block at %v: %w", pos, ErrNotLoaded)
	}
	if old := sec.set(pos.Local(), t); old == t {
		return nil
	}

	s.subMu.Lock()
	subs := slices.Clone(s.subs)
	s.subMu.Unlock()

	for _, sub := range subs {
		sub.fn(pos, t)
	}
	return nil
}

// Subscribe registers fn for block changes. The returned cancel func is idempotent.
func (s *Store) Subscribe(fn ChangeFunc) (cancel func()) {
	s.subMu.Lock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		s.subs = slices.DeleteFunc(s.subs, func(sub subscriber) bool { return sub.id == id })
	}
}

// Digest returns the blake2b-256 digest of a loaded section.
func (s *Store) Digest(key voxel.RegionKey) ([32]byte, bool) {
	sec := s.Section(key)
	if sec == nil {
		return [32]byte{}, false
	}
	return sec.Digest(), true
}
