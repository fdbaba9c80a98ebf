package voxel

import "math"

// Section geometry. A region (chunk-section) is a 16×16×16 cube of voxels.
const (
	SectionShift  = 4
	SectionSize   = 1 << SectionShift // 16
	SectionMask   = SectionSize - 1
	SectionVolume = SectionSize * SectionSize * SectionSize // 4096
)

// Pos is an integer voxel coordinate in world space.
type Pos struct {
	X, Y, Z int
}

// Add returns p shifted by (dx, dy, dz).
func (p Pos) Add(dx, dy, dz int) Pos {
	return Pos{p.X + dx, p.Y + dy, p.Z + dz}
}

// Region returns the key of the section containing p.
func (p Pos) Region() RegionKey {
	return RegionKey{
		X: p.X >> SectionShift,
		Y: p.Y >> SectionShift,
		Z: p.Z >> SectionShift,
	}
}

// Local returns the index of p inside its section (y<<8 | z<<4 | x).
func (p Pos) Local() int {
	return (p.Y&SectionMask)<<8 | (p.Z&SectionMask)<<4 | (p.X & SectionMask)
}

// Center returns the center point of the voxel.
func (p Pos) Center() Vec3 {
	return Vec3{float64(p.X) + 0.5, float64(p.Y) + 0.5, float64(p.Z) + 0.5}
}

// Neighbors returns the six face-adjacent positions.
func (p Pos) Neighbors() [6]Pos {
	return [6]Pos{
		p.Add(1, 0, 0), p.Add(-1, 0, 0),
		p.Add(0, 1, 0), p.Add(0, -1, 0),
		p.Add(0, 0, 1), p.Add(0, 0, -1),
	}
}

// RegionKey identifies a chunk-section by section coordinates.
type RegionKey struct {
	X, Y, Z int
}

// Origin returns the minimum-corner voxel of the section.
func (k RegionKey) Origin() Pos {
	return Pos{k.X << SectionShift, k.Y << SectionShift, k.Z << SectionShift}
}

// At returns the world position of local index i inside the section.
func (k RegionKey) At(i int) Pos {
	o := k.Origin()
	return Pos{
		X: o.X + i&SectionMask,
		Y: o.Y + (i>>8)&SectionMask,
		Z: o.Z + (i>>4)&SectionMask,
	}
}

// Vec3 is a fractional world-space point.
type Vec3 struct {
	X, Y, Z float64
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// Scale returns v * s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

// Len returns the Euclidean length of v.
func (v Vec3) Len() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Finite reports whether every component is a finite number.
func (v Vec3) Finite() bool {
	return finite(v.X) && finite(v.Y) && finite(v.Z)
}

// Voxel returns the voxel containing v.
func (v Vec3) Voxel() Pos {
	return Pos{int(math.Floor(v.X)), int(math.Floor(v.Y)), int(math.Floor(v.Z))}
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// FloorDiv divides rounding toward negative infinity.
func FloorDiv(a, b int) int {
	if b == 0 {
		return 0
	}
	q := a / b
	r := a % b
	if r != 0 && ((r > 0) != (b > 0)) {
		q--
	}
	return q
}

// Mod returns a non-negative remainder for positive b.
func Mod(a, b int) int {
	if b == 0 {
		return 0
	}
	r := a % b
	if r < 0 {
		r += b
	}
	return r
}
