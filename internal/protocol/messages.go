// Package protocol encodes the outbound world messages and decodes
// inbound client messages.
//
// Binary messages start with a one-byte opcode followed by little-endian
// fields. Section payloads are zstd-compressed arrays of 4096 uint16
// block ids indexed by y<<8 | z<<4 | x.
package protocol

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/udisondev/xrayguard/internal/voxel"
)

// Server → client opcodes.
const (
	OpSectionSnapshot byte = 0x20
	OpBlockChange     byte = 0x21
)

var (
	ErrUnknownOpcode   = errors.New("unknown opcode")
	ErrMalformed       = errors.New("malformed message")
	ErrInvalidMessage  = errors.New("invalid message")
	errPayloadTooLarge = fmt.Errorf("%w: section payload too large", ErrMalformed)
)

// maxSectionPayload bounds a compressed section; raw size is 8192 bytes.
const maxSectionPayload = 16 << 10

// EncodeAll and DecodeAll are safe for concurrent use, and EncodeAll
// output depends only on its input for a fixed encoder configuration.
var (
	sectionEncoder *zstd.Encoder
	sectionDecoder *zstd.Decoder
)

func init() {
	var err error
	sectionEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		panic(fmt.Sprintf("protocol: creating zstd encoder: %v", err))
	}
	sectionDecoder, err = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(0),
		zstd.WithDecoderMaxMemory(64<<10),
	)
	if err != nil {
		panic(fmt.Sprintf("protocol: creating zstd decoder: %v", err))
	}
}

// SectionSnapshot is a full section as the client receives it.
type SectionSnapshot struct {
	Key    voxel.RegionKey
	Blocks []voxel.BlockType // len voxel.SectionVolume
}

// BlockChange is a single voxel update.
type BlockChange struct {
	Pos  voxel.Pos
	Type voxel.BlockType
}

// EncodeSectionSnapshot serializes a section. Equal input always yields
// byte-identical output.
func EncodeSectionSnapshot(key voxel.RegionKey, blocks []voxel.BlockType) ([]byte, error) {
	if len(blocks) != voxel.SectionVolume {
		return nil, fmt.Errorf("%w: section has %d blocks", ErrMalformed, len(blocks))
	}

	raw := make([]byte, voxel.SectionVolume*2)
	for i, b := range blocks {
		raw[i*2] = byte(b)
		raw[i*2+1] = byte(b >> 8)
	}
	compressed := sectionEncoder.EncodeAll(raw, make([]byte, 0, 1024))

	w := GetWriter()
	defer w.Put()
	_ = w.WriteByte(OpSectionSnapshot)
	w.WriteInt(int32(key.X))
	w.WriteInt(int32(key.Y))
	w.WriteInt(int32(key.Z))
	w.WriteInt(int32(len(compressed)))
	w.WriteBytes(compressed)
	return w.Detach(), nil
}

// EncodeBlockChange serializes one voxel update.
func EncodeBlockChange(pos voxel.Pos, t voxel.BlockType) []byte {
	w := NewWriter(15)
	_ = w.WriteByte(OpBlockChange)
	w.WriteInt(int32(pos.X))
	w.WriteInt(int32(pos.Y))
	w.WriteInt(int32(pos.Z))
	w.WriteShort(uint16(t))
	return w.Bytes()
}

// Decode parses a server message into *SectionSnapshot or *BlockChange.
func Decode(data []byte) (any, error) {
	r := NewReader(data)
	op, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	switch op {
	case OpSectionSnapshot:
		return decodeSectionSnapshot(r)
	case OpBlockChange:
		return decodeBlockChange(r)
	default:
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, op)
	}
}

func decodeSectionSnapshot(r *Reader) (*SectionSnapshot, error) {
	var xyz [3]int32
	for i := range xyz {
		v, err := r.ReadInt()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		xyz[i] = v
	}
	n, err := r.ReadInt()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if n < 0 || n > maxSectionPayload {
		return nil, errPayloadTooLarge
	}
	compressed, err := r.ReadBytes(int(n))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	raw, err := sectionDecoder.DecodeAll(compressed, make([]byte, 0, voxel.SectionVolume*2))
	if err != nil {
		return nil, fmt.Errorf("%w: decompressing section: %w", ErrMalformed, err)
	}
	if len(raw) != voxel.SectionVolume*2 {
		return nil, fmt.Errorf("%w: section decompressed to %d bytes", ErrMalformed, len(raw))
	}

	blocks := make([]voxel.BlockType, voxel.SectionVolume)
	for i := range blocks {
		blocks[i] = voxel.BlockType(raw[i*2]) | voxel.BlockType(raw[i*2+1])<<8
	}
	return &SectionSnapshot{
		Key:    voxel.RegionKey{X: int(xyz[0]), Y: int(xyz[1]), Z: int(xyz[2])},
		Blocks: blocks,
	}, nil
}

func decodeBlockChange(r *Reader) (*BlockChange, error) {
	var xyz [3]int32
	for i := range xyz {
		v, err := r.ReadInt()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		xyz[i] = v
	}
	t, err := r.ReadShort()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return &BlockChange{
		Pos:  voxel.Pos{X: int(xyz[0]), Y: int(xyz[1]), Z: int(xyz[2])},
		Type: voxel.BlockType(t),
	}, nil
}
