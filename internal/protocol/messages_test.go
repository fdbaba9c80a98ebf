package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/xrayguard/internal/voxel"
)

func section() []voxel.BlockType {
	blocks := make([]voxel.BlockType, voxel.SectionVolume)
	for i := range blocks {
		blocks[i] = voxel.Stone
		if i%97 == 0 {
			blocks[i] = voxel.DiamondOre
		}
	}
	return blocks
}

func TestSectionSnapshotRoundTrip(t *testing.T) {
	key := voxel.RegionKey{X: -3, Y: 4, Z: 12}
	data, err := EncodeSectionSnapshot(key, section())
	require.NoError(t, err)
	assert.Equal(t, OpSectionSnapshot, data[0])

	msg, err := Decode(data)
	require.NoError(t, err)
	snap, ok := msg.(*SectionSnapshot)
	require.True(t, ok)
	assert.Equal(t, key, snap.Key)
	assert.Equal(t, section(), snap.Blocks)
}

func TestSectionSnapshotDeterministic(t *testing.T) {
	key := voxel.RegionKey{Y: 4}
	a, err := EncodeSectionSnapshot(key, section())
	require.NoError(t, err)
	b, err := EncodeSectionSnapshot(key, section())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEncodeSectionSnapshotBadSize(t *testing.T) {
	_, err := EncodeSectionSnapshot(voxel.RegionKey{}, make([]voxel.BlockType, 5))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestBlockChange(t *testing.T) {
	data := EncodeBlockChange(voxel.Pos{X: -1, Y: 64, Z: 10}, voxel.GoldOre)
	assert.Len(t, data, 15)

	msg, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, &BlockChange{Pos: voxel.Pos{X: -1, Y: 64, Z: 10}, Type: voxel.GoldOre}, msg)
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode(nil)
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = Decode([]byte{0x7F})
	assert.ErrorIs(t, err, ErrUnknownOpcode)

	_, err = Decode(EncodeBlockChange(voxel.Pos{}, voxel.Air)[:10])
	assert.ErrorIs(t, err, ErrMalformed)

	bad := NewWriter(32)
	_ = bad.WriteByte(OpSectionSnapshot)
	bad.WriteInt(0)
	bad.WriteInt(0)
	bad.WriteInt(0)
	bad.WriteInt(4)
	bad.WriteBytes([]byte{1, 2, 3, 4})
	_, err = Decode(bad.Bytes())
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestReaderWriter(t *testing.T) {
	w := GetWriter()
	defer w.Put()
	_ = w.WriteByte(7)
	w.WriteShort(0xBEEF)
	w.WriteInt(-42)
	w.WriteBytes([]byte("ok"))
	assert.Equal(t, 9, w.Len())

	r := NewReader(w.Bytes())
	b, err := r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(7), b)
	s, err := r.ReadShort()
	require.NoError(t, err)
	assert.Equal(t, uint16(0xBEEF), s)
	i, err := r.ReadInt()
	require.NoError(t, err)
	assert.Equal(t, int32(-42), i)
	raw, err := r.ReadBytes(2)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(raw))
	assert.Zero(t, r.Remaining())

	_, err = r.ReadByte()
	assert.Error(t, err)
}

func TestSectionCodecInitialized(t *testing.T) {
	require.NotNil(t, sectionEncoder)
	require.NotNil(t, sectionDecoder)
}
