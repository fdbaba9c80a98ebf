// Package obfcache records, per chunk-section and per player, what each
// client has been sent for every hidden voxel: the substitute or the
// proven-visible true type.
package obfcache

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/udisondev/xrayguard/internal/voxel"
)

// PlayerID identifies one client connection. A reconnecting player gets a
// new id, so nothing recorded for the old connection can leak into the new one.
type PlayerID uint64

// Presenter decides what unproven clients receive for a true type.
// *policy.Policy implements it.
type Presenter interface {
	Hides(t voxel.BlockType, pos voxel.Pos) bool
	SubstituteFor(t voxel.BlockType) voxel.BlockType
}

// Entry is what one player holds for one hidden voxel.
type Entry struct {
	TrueType          voxel.BlockType
	PresentedType     voxel.BlockType
	LastEvaluatedTick uint64
}

// Revealed reports whether the player has been sent the true type.
func (e Entry) Revealed() bool {
	return e.PresentedType == e.TrueType
}

// Outcome is the result of applying an evaluation to the cache.
type Outcome uint8

const (
	// OutcomeRevealed: the entry switched from substitute to true type.
	OutcomeRevealed Outcome = iota
	// OutcomeUpdated: the entry was refreshed without a reveal.
	OutcomeUpdated
	// OutcomeKept: a hide result for an already revealed entry was ignored.
	OutcomeKept
	// OutcomeStale: the result was computed against an older world state.
	OutcomeStale
	// OutcomeUntracked: the player no longer tracks the region.
	OutcomeUntracked
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRevealed:
		return "revealed"
	case OutcomeUpdated:
		return "updated"
	case OutcomeKept:
		return "kept"
	case OutcomeStale:
		return "stale"
	case OutcomeUntracked:
		return "untracked"
	default:
		return "unknown"
	}
}

// cell holds the true type of one hidden voxel and every tracking
// player's view of it.
type cell struct {
	trueType   voxel.BlockType
	changedGen uint64
	views      map[PlayerID]Entry
}

// section is the cache record of one RegionKey. All fields are guarded by mu.
type section struct {
	mu sync.Mutex
	// gen is the cache-wide generation of the last change in this section.
	gen     uint64
	cells   map[voxel.Pos]*cell
	players map[PlayerID]struct{}
}

const shardCount = 64

type shard struct {
	mu       sync.RWMutex
	sections map[voxel.RegionKey]*section
}

// Cache is safe for concurrent use. A shard lock is held only to find or
// insert a section; all per-voxel work happens under the section's lock,
// and no lock is held across regions.
type Cache struct {
	presenter Presenter
	shards    [shardCount]shard

	// gen only grows, so a section recreated after eviction never reuses
	// a generation an in-flight evaluation was stamped with.
	gen atomic.Uint64
}

// New creates an empty cache.
func New(p Presenter) *Cache {
	c := &Cache{presenter: p}
	for i := range c.shards {
		c.shards[i].sections = make(map[voxel.RegionKey]*section)
	}
	return c
}

func (c *Cache) shardFor(key voxel.RegionKey) *shard {
	h := uint64(key.X)*73856093 ^ uint64(key.Y)*19349663 ^ uint64(key.Z)*83492791
	return &c.shards[h%shardCount]
}

func (c *Cache) lookup(key voxel.RegionKey) *section {
	sh := c.shardFor(key)
	sh.mu.RLock()
	s := sh.sections[key]
	sh.mu.RUnlock()
	return s
}

// Track registers player as holding region. The section record is
// created on first use.
func (c *Cache) Track(region voxel.RegionKey, player PlayerID) {
	sh := c.shardFor(region)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s, ok := sh.sections[region]
	if !ok {
		s = &section{
			gen:     c.gen.Load(),
			cells:   make(map[voxel.Pos]*cell),
			players: make(map[PlayerID]struct{}, 1),
		}
		sh.sections[region] = s
	}
	s.mu.Lock()
	s.players[player] = struct{}{}
	s.mu.Unlock()
}

// Untrack forgets everything player holds in region. The section is
// evicted once no player tracks it.
func (c *Cache) Untrack(region voxel.RegionKey, player PlayerID) {
	sh := c.shardFor(region)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s, ok := sh.sections[region]
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.players, player)
	for _, cl := range s.cells {
		delete(cl.views, player)
	}
	if len(s.players) == 0 {
		delete(sh.sections, region)
	}
}

// DropRegion evicts region for every player.
func (c *Cache) DropRegion(region voxel.RegionKey) {
	sh := c.shardFor(region)
	sh.mu.Lock()
	s, ok := sh.sections[region]
	delete(sh.sections, region)
	sh.mu.Unlock()

	if ok {
		// Detached sections must reject late evaluations.
		s.mu.Lock()
		clear(s.players)
		s.mu.Unlock()
	}
}

// Tracks reports whether player tracks region.
func (c *Cache) Tracks(region voxel.RegionKey, player PlayerID) bool {
	s := c.lookup(region)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.players[player]
	return ok
}

// Generation returns the generation of the last true type change in
// region. Generations are cache-wide and never decrease. Untracked regions
// report 0.
func (c *Cache) Generation(region voxel.RegionKey) uint64 {
	s := c.lookup(region)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Get returns player's entry for pos.
func (c *Cache) Get(player PlayerID, pos voxel.Pos) (Entry, bool) {
	s := c.lookup(pos.Region())
	if s == nil {
		return Entry{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cl, ok := s.cells[pos]
	if !ok {
		return Entry{}, false
	}
	e, ok := cl.views[player]
	return e, ok
}

// Seed records that player is being sent region with the true types in
// truth (indexed by voxel.Pos.Local). Hidden voxels the player has not
// been proven to see are recorded with their substitute. The presented
// types are written to out. It returns the number of substituted voxels.
// If player does not track region nothing is recorded and every hidden
// voxel is substituted.
func (c *Cache) Seed(player PlayerID, region voxel.RegionKey, truth, out []voxel.BlockType) int {
	s := c.lookup(region)
	tracked := false
	if s != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, tracked = s.players[player]
	}

	hidden := 0
	for i, t := range truth {
		pos := region.At(i)
		if !c.presenter.Hides(t, pos) {
			out[i] = t
			continue
		}
		sub := c.presenter.SubstituteFor(t)
		if !tracked {
			out[i] = sub
			hidden++
			continue
		}

		cl, ok := s.cells[pos]
		if !ok {
			cl = &cell{trueType: t, views: make(map[PlayerID]Entry, 1)}
			s.cells[pos] = cl
		}
		e, seen := cl.views[player]
		if cl.trueType != t {
			// Snapshot raced a block change; the change is forwarded separately.
			out[i] = sub
			hidden++
			continue
		}
		if seen && e.Revealed() {
			out[i] = t
			continue
		}
		cl.views[player] = Entry{TrueType: t, PresentedType: sub, LastEvaluatedTick: e.LastEvaluatedTick}
		out[i] = sub
		hidden++
	}
	return hidden
}

// RecordEvaluation applies one oracle result. gen and tick are the
// section generation and scheduler tick the result was computed against.
// A revealed entry is never hidden again while its true type is unchanged.
func (c *Cache) RecordEvaluation(player PlayerID, pos voxel.Pos, trueType, presented voxel.BlockType, tick, gen uint64) Outcome {
	s := c.lookup(pos.Region())
	if s == nil {
		return OutcomeUntracked
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.players[player]; !ok {
		return OutcomeUntracked
	}
	cl, ok := s.cells[pos]
	if !ok || cl.changedGen > gen || cl.trueType != trueType {
		return OutcomeStale
	}

	prev, had := cl.views[player]
	if had && prev.LastEvaluatedTick > tick {
		return OutcomeStale
	}
	wasRevealed := had && prev.Revealed()
	if wasRevealed && presented != trueType {
		return OutcomeKept
	}

	cl.views[player] = Entry{TrueType: trueType, PresentedType: presented, LastEvaluatedTick: tick}
	if presented == trueType && !wasRevealed {
		return OutcomeRevealed
	}
	return OutcomeUpdated
}

// Invalidate records a true type change at pos. A hidden new type starts
// over for every tracking player: each holds the substitute until a new
// evaluation proves sight. A type the presenter does not hide removes the
// record.
func (c *Cache) Invalidate(pos voxel.Pos, newType voxel.BlockType) {
	s := c.lookup(pos.Region())
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen = c.gen.Add(1)
	if !c.presenter.Hides(newType, pos) {
		delete(s.cells, pos)
		return
	}

	cl := &cell{
		trueType:   newType,
		changedGen: s.gen,
		views:      make(map[PlayerID]Entry, len(s.players)),
	}
	sub := c.presenter.SubstituteFor(newType)
	for p := range s.players {
		cl.views[p] = Entry{TrueType: newType, PresentedType: sub}
	}
	s.cells[pos] = cl
}

// Forget drops the record at pos if it holds a type other than current
// and current is not hidden. It returns true if a record was dropped.
func (c *Cache) Forget(pos voxel.Pos, current voxel.BlockType) bool {
	if c.presenter.Hides(current, pos) {
		return false
	}
	s := c.lookup(pos.Region())
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cl, ok := s.cells[pos]
	if !ok || cl.trueType == current {
		return false
	}
	delete(s.cells, pos)
	return true
}

// Hidden returns the coordinates in region still presented to player as
// substitutes, ordered by local index.
func (c *Cache) Hidden(region voxel.RegionKey, player PlayerID) []voxel.Pos {
	s := c.lookup(region)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []voxel.Pos
	for pos, cl := range s.cells {
		if e, ok := cl.views[player]; ok && !e.Revealed() {
			out = append(out, pos)
		}
	}
	slices.SortFunc(out, func(a, b voxel.Pos) int {
		return cmp.Compare(a.Local(), b.Local())
	})
	return out
}

// Sections returns the number of cached sections.
func (c *Cache) Sections() int {
	n := 0
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.RLock()
		n += len(sh.sections)
		sh.mu.RUnlock()
	}
	return n
}
