package world

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/blake2b"

	"github.com/udisondev/xrayguard/internal/voxel"
)

// Section is one loaded 16×16×16 block of true world data.
type Section struct {
	key voxel.RegionKey

	mu     sync.RWMutex
	blocks [voxel.SectionVolume]voxel.BlockType

	// version is incremented on every block change (used to skip unchanged saves).
	version atomic.Uint64
}

// NewSection creates an all-air section.
func NewSection(key voxel.RegionKey) *Section {
	return &Section{key: key}
}

// Key returns the section coordinates.
func (s *Section) Key() voxel.RegionKey {
	return s.key
}

// Version returns the current change counter.
func (s *Section) Version() uint64 {
	return s.version.Load()
}

// At returns the block at local index i.
func (s *Section) At(i int) voxel.BlockType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blocks[i]
}

func (s *Section) set(i int, t voxel.BlockType) voxel.BlockType {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.blocks[i]
	if old != t {
		s.blocks[i] = t
		s.version.Add(1)
	}
	return old
}

// Fill replaces the whole section. types is indexed by voxel.Pos.Local.
func (s *Section) Fill(types []voxel.BlockType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.blocks[:], types)
	s.version.Add(1)
}

// Blocks copies the section into dst (len voxel.SectionVolume) and
// returns the version the copy corresponds to.
func (s *Section) Blocks(dst []voxel.BlockType) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copy(dst, s.blocks[:])
	return s.version.Load()
}

// Digest returns the blake2b-256 hash of the section's block ids.
func (s *Section) Digest() [32]byte {
	var dst [voxel.SectionVolume]voxel.BlockType
	s.Blocks(dst[:])
	return DigestBlocks(dst[:])
}

// EncodeBlocks serializes block ids as little-endian uint16.
func EncodeBlocks(types []voxel.BlockType) []byte {
	buf := make([]byte, len(types)*2)
	for i, t := range types {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(t))
	}
	return buf
}

// DecodeBlocks parses the output of EncodeBlocks for one full section.
func DecodeBlocks(data []byte) ([]voxel.BlockType, error) {
	if len(data) != voxel.SectionVolume*2 {
		return nil, fmt.Errorf("decoding %d bytes: %w", len(data), ErrBadSectionSize)
	}
	types := make([]voxel.BlockType, voxel.SectionVolume)
	for i := range types {
		types[i] = voxel.BlockType(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return types, nil
}

// DigestBlocks returns the blake2b-256 hash of EncodeBlocks(types).
func DigestBlocks(types []voxel.BlockType) [32]byte {
	return blake2b.Sum256(EncodeBlocks(types))
}
