package visibility

import (
	"github.com/udisondev/xrayguard/internal/voxel"
)

// Grid is a read-only view over loaded world geometry. ClassAt returns
// false for coordinates whose chunk is not loaded. Implementations are
// borrowed for a single IsVisible call and never retained.
type Grid interface {
	ClassAt(p voxel.Pos) (voxel.Class, bool)
}

// CornerRule decides what a ray passing exactly through an edge or corner
// of the lattice may see through.
type CornerRule uint8

const (
	// CornerFavorOpaque blocks the ray if any grazed voxel occludes.
	CornerFavorOpaque CornerRule = iota
	// CornerFavorClear blocks the ray only if every grazed voxel occludes.
	CornerFavorClear
)

// faceInset keeps face target points strictly inside the target voxel.
const faceInset = 1e-4

// DefaultThirdPersonDistance matches the vanilla third-person camera distance.
const DefaultThirdPersonDistance = 4.0

// Options configures an Oracle.
type Options struct {
	Corner CornerRule

	// FaceRays enables extra rays to the centers of faces exposed toward the eye.
	FaceRays bool

	// ThirdPerson adds camera points behind and in front of the eye.
	ThirdPerson         bool
	ThirdPersonDistance float64
}

// DefaultOptions returns the conservative defaults.
func DefaultOptions() Options {
	return Options{
		Corner:              CornerFavorOpaque,
		FaceRays:            true,
		ThirdPersonDistance: DefaultThirdPersonDistance,
	}
}

// Oracle decides line of sight between an observer and a voxel.
// It holds no mutable state and is safe for concurrent use.
type Oracle struct {
	opts Options
}

// NewOracle creates an Oracle.
func NewOracle(opts Options) *Oracle {
	if opts.ThirdPersonDistance <= 0 {
		opts.ThirdPersonDistance = DefaultThirdPersonDistance
	}
	return &Oracle{opts: opts}
}

// IsVisible reports whether target is in unobstructed line of sight of obs.
// Unloaded geometry occludes, and a target in an unloaded chunk is never
// visible. The target voxel itself never occludes.
func (o *Oracle) IsVisible(obs Observer, target voxel.Pos, grid Grid) (bool, error) {
	if err := obs.Validate(); err != nil {
		return false, err
	}
	if _, loaded := grid.ClassAt(target); !loaded {
		return false, nil
	}
	if obs.Eye.Voxel() == target {
		return true, nil
	}
	if !obs.InRange(target) {
		return false, nil
	}

	for _, eye := range o.eyes(obs, grid) {
		if eye.Voxel() == target {
			return true, nil
		}
		if o.sees(eye, target, grid) {
			return true, nil
		}
	}
	return false, nil
}

// sees casts to the target center and, if enabled, to its exposed faces.
func (o *Oracle) sees(eye voxel.Vec3, target voxel.Pos, grid Grid) bool {
	center := target.Center()
	if o.clear(eye, center, target, grid) {
		return true
	}
	if !o.opts.FaceRays {
		return false
	}

	for _, n := range faceNormals {
		neighbor := target.Add(n[0], n[1], n[2])
		normal := voxel.Vec3{X: float64(n[0]), Y: float64(n[1]), Z: float64(n[2])}
		face := center.Add(normal.Scale(0.5))
		toEye := eye.Sub(face)
		if toEye.X*normal.X+toEye.Y*normal.Y+toEye.Z*normal.Z <= 0 {
			continue // face points away from the eye
		}
		if occludes(grid, neighbor) {
			continue // covered face cannot be seen
		}
		if o.clear(eye, center.Add(normal.Scale(0.5-faceInset)), target, grid) {
			return true
		}
	}
	return false
}

// clear walks from..to and reports whether no occluding voxel lies strictly
// between the eye voxel and target.
func (o *Oracle) clear(from, to voxel.Vec3, target voxel.Pos, grid Grid) bool {
	tr := newTraversal(from, to)
	for tr.Next() {
		if sides := tr.Sides(); len(sides) > 0 && o.cornerBlocks(sides, target, grid) {
			return false
		}
		p := tr.Pos()
		if p == target {
			return true
		}
		if occludes(grid, p) {
			return false
		}
	}
	return tr.Pos() == target
}

func (o *Oracle) cornerBlocks(sides []voxel.Pos, target voxel.Pos, grid Grid) bool {
	blocked := 0
	considered := 0
	for _, s := range sides {
		if s == target {
			continue
		}
		considered++
		if occludes(grid, s) {
			if o.opts.Corner == CornerFavorOpaque {
				return true
			}
			blocked++
		}
	}
	return considered > 0 && blocked == considered
}

// eyes returns the real eye plus any usable third-person camera points.
func (o *Oracle) eyes(obs Observer, grid Grid) []voxel.Vec3 {
	if !o.opts.ThirdPerson {
		return []voxel.Vec3{obs.Eye}
	}
	out := make([]voxel.Vec3, 1, 3)
	out[0] = obs.Eye
	dir := obs.Direction().Scale(o.opts.ThirdPersonDistance)
	for _, cam := range [2]voxel.Vec3{obs.Eye.Sub(dir), obs.Eye.Add(dir)} {
		cv := cam.Voxel()
		if cv == obs.Eye.Voxel() {
			continue
		}
		if occludes(grid, cv) {
			continue
		}
		if o.clear(obs.Eye, cam, cv, grid) {
			out = append(out, cam)
		}
	}
	return out
}

var faceNormals = [6][3]int{
	{1, 0, 0}, {-1, 0, 0},
	{0, 1, 0}, {0, -1, 0},
	{0, 0, 1}, {0, 0, -1},
}

func occludes(grid Grid, p voxel.Pos) bool {
	c, ok := grid.ClassAt(p)
	if !ok {
		return true
	}
	return c == voxel.ClassOpaque
}
