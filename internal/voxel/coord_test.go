package voxel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPosRegionNegative(t *testing.T) {
	assert.Equal(t, RegionKey{0, 4, 0}, Pos{0, 64, 15}.Region())
	assert.Equal(t, RegionKey{-1, -1, -1}, Pos{-1, -1, -16}.Region())
	assert.Equal(t, RegionKey{-2, 0, 1}, Pos{-17, 0, 16}.Region())
}

func TestPosLocalRoundTrip(t *testing.T) {
	for _, p := range []Pos{{0, 0, 0}, {10, 64, 10}, {-1, -1, -1}, {-17, 300, 33}, {15, 15, 15}} {
		i := p.Local()
		assert.GreaterOrEqual(t, i, 0)
		assert.Less(t, i, SectionVolume)
		assert.Equal(t, p, p.Region().At(i), "round trip for %v", p)
	}
}

func TestVec3Voxel(t *testing.T) {
	assert.Equal(t, Pos{10, 70, 10}, Vec3{10.5, 70.62, 10.5}.Voxel())
	assert.Equal(t, Pos{-1, 0, -2}, Vec3{-0.1, 0, -1.5}.Voxel())
}

func TestVec3Finite(t *testing.T) {
	assert.True(t, Vec3{1, 2, 3}.Finite())
	assert.False(t, Vec3{math.NaN(), 0, 0}.Finite())
	assert.False(t, Vec3{0, math.Inf(1), 0}.Finite())
}

func TestFloorDivMod(t *testing.T) {
	assert.Equal(t, -1, FloorDiv(-1, 16))
	assert.Equal(t, 0, FloorDiv(15, 16))
	assert.Equal(t, 15, Mod(-1, 16))
	assert.Equal(t, 0, FloorDiv(5, 0))
}
