package world

import (
	"fmt"

	"github.com/udisondev/xrayguard/internal/voxel"
)

// Terrain layout.
const (
	BedrockY      = -64
	DeepslateTopY = 0
)

// Generator produces deterministic terrain from a seed: bedrock floor,
// deepslate and stone with scattered ores, a dirt layer and grass on top.
type Generator struct {
	Seed    int64
	Surface int // base grass height
}

type oreRule struct {
	t        voxel.BlockType
	maxY     int
	permille uint64
}

// Ore frequencies per stone voxel, checked in order.
var oreRules = []oreRule{
	{voxel.DiamondOre, 16, 2},
	{voxel.RedstoneOre, 16, 4},
	{voxel.LapisOre, 32, 2},
	{voxel.GoldOre, 32, 3},
	{voxel.EmeraldOre, 48, 1},
	{voxel.IronOre, 72, 6},
	{voxel.CopperOre, 96, 5},
	{voxel.CoalOre, 128, 9},
}

// SurfaceAt returns the grass height of column (x, z).
func (g Generator) SurfaceAt(x, z int) int {
	return g.Surface + int(hash2(g.Seed, voxel.FloorDiv(x, 4), voxel.FloorDiv(z, 4))%4)
}

// BlockAt returns the generated type at p.
func (g Generator) BlockAt(p voxel.Pos) voxel.BlockType {
	surface := g.SurfaceAt(p.X, p.Z)
	switch {
	case p.Y < BedrockY:
		return voxel.Air
	case p.Y == BedrockY:
		return voxel.Bedrock
	case p.Y > surface:
		return voxel.Air
	case p.Y == surface:
		return voxel.Grass
	case p.Y > surface-4:
		return voxel.Dirt
	}

	h := hash3(g.Seed, p.X, p.Y, p.Z)
	roll := h % 1000
	var acc uint64
	for _, r := range oreRules {
		if p.Y > r.maxY {
			continue
		}
		acc += r.permille
		if roll < acc {
			return r.t
		}
	}
	if p.Y < DeepslateTopY {
		return voxel.Deepslate
	}
	return voxel.Stone
}

// Section fills one section's block ids.
func (g Generator) Section(key voxel.RegionKey) []voxel.BlockType {
	out := make([]voxel.BlockType, voxel.SectionVolume)
	for i := range out {
		out[i] = g.BlockAt(key.At(i))
	}
	return out
}

// Populate generates and loads every section between lo and hi inclusive,
// skipping sections that are already loaded.
func (g Generator) Populate(s *Store, lo, hi voxel.RegionKey) (int, error) {
	n := 0
	for y := lo.Y; y <= hi.Y; y++ {
		for z := lo.Z; z <= hi.Z; z++ {
			for x := lo.X; x <= hi.X; x++ {
				key := voxel.RegionKey{X: x, Y: y, Z: z}
				if s.Loaded(key) {
					continue
				}
				if _, err := s.LoadSection(key, g.Section(key)); err != nil {
					return n, fmt.Errorf("populating %v: %w", key, err)
				}
				n++
			}
		}
	}
	return n, nil
}

func hash2(seed int64, x, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uz := uint64(uint32(int32(z)))
	return mix64(uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uz * 0xbf58476d1ce4e5b9))
}

func hash3(seed int64, x, y, z int) uint64 {
	ux := uint64(uint32(int32(x)))
	uy := uint64(uint32(int32(y)))
	uz := uint64(uint32(int32(z)))
	return mix64(uint64(seed) ^ (ux * 0x9e3779b97f4a7c15) ^ (uy * 0xc2b2ae3d27d4eb4f) ^ (uz * 0xbf58476d1ce4e5b9))
}

// mix64 is the splitmix64 finalizer.
func mix64(z uint64) uint64 {
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
