package scheduler

import "github.com/udisondev/xrayguard/internal/voxel"

const (
	queuedNormal uint8 = iota + 1
	queuedDirty

	// deferredFlag marks a queued coordinate already counted as deferred.
	deferredFlag uint8 = 1 << 7
)

// workQueue is one player's pending coordinates. Dirty coordinates are
// served first; every coordinate is queued at most once.
type workQueue struct {
	dirty  []voxel.Pos
	normal []voxel.Pos
	state  map[voxel.Pos]uint8
}

func newWorkQueue() *workQueue {
	return &workQueue{state: make(map[voxel.Pos]uint8)}
}

func (q *workQueue) push(p voxel.Pos) {
	if _, ok := q.state[p]; ok {
		return
	}
	q.state[p] = queuedNormal
	q.normal = append(q.normal, p)
}

func (q *workQueue) pushDirty(p voxel.Pos) {
	st := q.state[p]
	if st&^deferredFlag == queuedDirty {
		return
	}
	q.state[p] = queuedDirty | st&deferredFlag
	q.dirty = append(q.dirty, p)
}

// pushFront puts p back at the head of the dirty lane.
func (q *workQueue) pushFront(p voxel.Pos) {
	q.state[p] = queuedDirty
	q.dirty = append([]voxel.Pos{p}, q.dirty...)
}

func (q *workQueue) pop() (voxel.Pos, bool) {
	for len(q.dirty) > 0 {
		p := q.dirty[0]
		q.dirty = q.dirty[1:]
		if q.state[p]&^deferredFlag == queuedDirty {
			delete(q.state, p)
			return p, true
		}
	}
	q.dirty = nil

	for len(q.normal) > 0 {
		p := q.normal[0]
		q.normal = q.normal[1:]
		if q.state[p]&^deferredFlag == queuedNormal {
			delete(q.state, p)
			return p, true
		}
	}
	q.normal = nil
	return voxel.Pos{}, false
}

func (q *workQueue) len() int {
	return len(q.state)
}

// markDeferred flags every queued coordinate and returns how many were
// not flagged before.
func (q *workQueue) markDeferred() int {
	n := 0
	for p, st := range q.state {
		if st&deferredFlag == 0 {
			q.state[p] = st | deferredFlag
			n++
		}
	}
	return n
}
