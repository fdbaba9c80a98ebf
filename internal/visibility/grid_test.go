package visibility

import "github.com/udisondev/xrayguard/internal/voxel"

// boxGrid is loaded inside [lo, hi] and opaque where solid is set.
type boxGrid struct {
	lo, hi voxel.Pos
	solid  map[voxel.Pos]bool
}

func newBoxGrid(lo, hi voxel.Pos) *boxGrid {
	return &boxGrid{lo: lo, hi: hi, solid: make(map[voxel.Pos]bool)}
}

func (g *boxGrid) ClassAt(p voxel.Pos) (voxel.Class, bool) {
	if p.X < g.lo.X || p.Y < g.lo.Y || p.Z < g.lo.Z || p.X > g.hi.X || p.Y > g.hi.Y || p.Z > g.hi.Z {
		return 0, false
	}
	if g.solid[p] {
		return voxel.ClassOpaque, true
	}
	return voxel.ClassTransparent, true
}

func (g *boxGrid) fill(lo, hi voxel.Pos) {
	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for z := lo.Z; z <= hi.Z; z++ {
				g.solid[voxel.Pos{X: x, Y: y, Z: z}] = true
			}
		}
	}
}

func (g *boxGrid) clear(p voxel.Pos) {
	delete(g.solid, p)
}

func eyeAt(x, y, z float64) Observer {
	return Observer{Eye: voxel.Vec3{X: x, Y: y, Z: z}, Radius: 64}
}
