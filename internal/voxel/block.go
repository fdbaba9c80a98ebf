package voxel

import (
	"errors"
	"fmt"
	"strings"
)

// BlockType is a palette id as sent on the wire.
type BlockType uint16

// Block palette.
const (
	Air BlockType = iota
	Stone
	Dirt
	Grass
	Gravel
	Sand
	Glass
	Water
	Leaves
	Log
	Deepslate
	Netherrack
	CoalOre
	IronOre
	CopperOre
	GoldOre
	RedstoneOre
	LapisOre
	DiamondOre
	EmeraldOre
	AncientDebris
	Bedrock

	paletteSize
)

// Class is the occlusion classification of a voxel.
type Class uint8

const (
	ClassTransparent Class = iota
	ClassOpaque
)

func (c Class) String() string {
	if c == ClassOpaque {
		return "opaque"
	}
	return "transparent"
}

// ErrUnknownBlock is returned by ParseBlock for names outside the palette.
var ErrUnknownBlock = errors.New("unknown block")

var blockNames = [paletteSize]string{
	Air:           "air",
	Stone:         "stone",
	Dirt:          "dirt",
	Grass:         "grass",
	Gravel:        "gravel",
	Sand:          "sand",
	Glass:         "glass",
	Water:         "water",
	Leaves:        "leaves",
	Log:           "log",
	Deepslate:     "deepslate",
	Netherrack:    "netherrack",
	CoalOre:       "coal_ore",
	IronOre:       "iron_ore",
	CopperOre:     "copper_ore",
	GoldOre:       "gold_ore",
	RedstoneOre:   "redstone_ore",
	LapisOre:      "lapis_ore",
	DiamondOre:    "diamond_ore",
	EmeraldOre:    "emerald_ore",
	AncientDebris: "ancient_debris",
	Bedrock:       "bedrock",
}

// transparent lists the types light and sight pass through.
var transparent = [paletteSize]bool{
	Air:    true,
	Glass:  true,
	Water:  true,
	Leaves: true,
}

var blockIndex = func() map[string]BlockType {
	m := make(map[string]BlockType, paletteSize)
	for i, name := range blockNames {
		m[name] = BlockType(i)
	}
	return m
}()

// ParseBlock resolves a palette name (case-insensitive, optional "minecraft:" prefix).
func ParseBlock(name string) (BlockType, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.TrimPrefix(n, "minecraft:")
	if t, ok := blockIndex[n]; ok {
		return t, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownBlock, name)
}

// Known reports whether t is part of the palette.
func (t BlockType) Known() bool {
	return t < paletteSize
}

// Class returns the occlusion class of t. Ids outside the palette occlude.
func (t BlockType) Class() Class {
	if t < paletteSize && transparent[t] {
		return ClassTransparent
	}
	return ClassOpaque
}

func (t BlockType) String() string {
	if t < paletteSize {
		return blockNames[t]
	}
	return fmt.Sprintf("block#%d", uint16(t))
}

// Palette returns the palette names in id order.
func Palette() []string {
	out := make([]string, paletteSize)
	copy(out, blockNames[:])
	return out
}
