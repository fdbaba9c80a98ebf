package world

import "github.com/udisondev/xrayguard/internal/voxel"

// View is a read-only occlusion view over a Store for one ray cast or a
// short batch of casts. It is not safe for concurrent use; take one per goroutine.
type View struct {
	store *Store

	lastKey voxel.RegionKey
	last    *Section
	hasLast bool
}

// View returns a new view over s.
func (s *Store) View() *View {
	return &View{store: s}
}

// ClassAt returns the occlusion class at p, false if p is not loaded.
func (v *View) ClassAt(p voxel.Pos) (voxel.Class, bool) {
	key := p.Region()
	if !v.hasLast || key != v.lastKey {
		v.last = v.store.Section(key)
		v.lastKey = key
		v.hasLast = true
	}
	if v.last == nil {
		return 0, false
	}
	return v.last.At(p.Local()).Class(), true
}
