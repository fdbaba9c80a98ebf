package visibility

import (
	"math"

	"github.com/udisondev/xrayguard/internal/voxel"
)

// tieEpsilon is the tolerance under which two boundary crossings count as simultaneous.
const tieEpsilon = 1e-9

// traversal walks the voxels pierced by the segment from..to in order
// (Amanatides–Woo grid marching). Boundary crossing times are recomputed
// from the integer step count, so error stays within tieEpsilon.
type traversal struct {
	cur, end voxel.Pos

	step   [3]int
	tFirst [3]float64 // t of the first boundary crossing per axis
	tDelta [3]float64 // t between successive crossings per axis
	taken  [3]int     // boundaries crossed per axis

	remaining int // upper bound on steps left (Manhattan distance)

	sides []voxel.Pos // voxels grazed on the last step (edge/corner ties)
}

func newTraversal(from, to voxel.Vec3) *traversal {
	start := from.Voxel()
	end := to.Voxel()
	tr := &traversal{
		cur:       start,
		end:       end,
		sides:     make([]voxel.Pos, 0, 6),
		remaining: absInt(end.X-start.X) + absInt(end.Y-start.Y) + absInt(end.Z-start.Z),
	}

	origin := [3]float64{from.X, from.Y, from.Z}
	delta := [3]float64{to.X - from.X, to.Y - from.Y, to.Z - from.Z}
	for a := range 3 {
		d := delta[a]
		switch {
		case d > 0:
			tr.step[a] = 1
			tr.tFirst[a] = (math.Floor(origin[a]) + 1 - origin[a]) / d
			tr.tDelta[a] = 1 / d
		case d < 0:
			tr.step[a] = -1
			tr.tFirst[a] = (origin[a] - math.Floor(origin[a])) / -d
			tr.tDelta[a] = 1 / -d
		default:
			tr.tFirst[a] = math.Inf(1)
			tr.tDelta[a] = math.Inf(1)
		}
	}
	return tr
}

func (tr *traversal) tNext(a int) float64 {
	if tr.step[a] == 0 {
		return math.Inf(1)
	}
	return tr.tFirst[a] + float64(tr.taken[a])*tr.tDelta[a]
}

// Next advances to the next voxel. It returns false once the end voxel
// has been reached or the step bound is exhausted.
func (tr *traversal) Next() bool {
	tr.sides = tr.sides[:0]
	if tr.cur == tr.end || tr.remaining <= 0 {
		return false
	}

	t := [3]float64{tr.tNext(0), tr.tNext(1), tr.tNext(2)}
	m := math.Min(t[0], math.Min(t[1], t[2]))
	if math.IsInf(m, 1) {
		return false
	}

	var tied [3]bool
	n := 0
	for a := range 3 {
		if tr.step[a] != 0 && t[a]-m <= tieEpsilon {
			tied[a] = true
			n++
		}
	}

	// The segment passes exactly through an edge (2 axes) or a corner (3 axes):
	// record every voxel it grazes between cur and the diagonal neighbor.
	if n > 1 {
		for a := range 3 {
			if tied[a] {
				tr.sides = append(tr.sides, tr.offset(a))
			}
		}
		if n == 3 {
			tr.sides = append(tr.sides,
				tr.offset2(0, 1), tr.offset2(0, 2), tr.offset2(1, 2))
		}
	}

	for a := range 3 {
		if tied[a] {
			tr.taken[a]++
			tr.move(a)
		}
	}
	tr.remaining -= n
	return true
}

// Pos returns the current voxel.
func (tr *traversal) Pos() voxel.Pos { return tr.cur }

// Sides returns the voxels grazed on the last step; empty for face crossings.
func (tr *traversal) Sides() []voxel.Pos { return tr.sides }

func (tr *traversal) move(a int) {
	switch a {
	case 0:
		tr.cur.X += tr.step[0]
	case 1:
		tr.cur.Y += tr.step[1]
	case 2:
		tr.cur.Z += tr.step[2]
	}
}

// offset returns cur stepped along axis a only.
func (tr *traversal) offset(a int) voxel.Pos {
	p := tr.cur
	switch a {
	case 0:
		p.X += tr.step[0]
	case 1:
		p.Y += tr.step[1]
	case 2:
		p.Z += tr.step[2]
	}
	return p
}

func (tr *traversal) offset2(a, b int) voxel.Pos {
	p := tr.offset(a)
	switch b {
	case 0:
		p.X += tr.step[0]
	case 1:
		p.Y += tr.step[1]
	case 2:
		p.Z += tr.step[2]
	}
	return p
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
