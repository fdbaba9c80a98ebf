package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/xrayguard/internal/voxel"
)

func TestFromRules(t *testing.T) {
	p, err := FromRules(Rules{
		Sensitive:   []string{"diamond_ore", "minecraft:gold_ore", "ANCIENT_DEBRIS"},
		Substitute:  "stone",
		Substitutes: map[string]string{"ancient_debris": "netherrack"},
	})
	require.NoError(t, err)

	assert.Equal(t, Sensitive, p.Classify(voxel.DiamondOre))
	assert.Equal(t, Sensitive, p.Classify(voxel.GoldOre))
	assert.Equal(t, Ordinary, p.Classify(voxel.Stone))
	assert.Equal(t, Ordinary, p.Classify(voxel.Air))

	assert.Equal(t, voxel.Stone, p.SubstituteFor(voxel.DiamondOre))
	assert.Equal(t, voxel.Netherrack, p.SubstituteFor(voxel.AncientDebris))
	assert.Equal(t, voxel.Dirt, p.SubstituteFor(voxel.Dirt))

	assert.Equal(t, []voxel.BlockType{voxel.GoldOre, voxel.DiamondOre, voxel.AncientDebris}, p.SensitiveTypes())
}

func TestUnknownTypesAreOrdinary(t *testing.T) {
	p, err := New([]voxel.BlockType{voxel.DiamondOre}, voxel.Stone)
	require.NoError(t, err)

	unknown := voxel.BlockType(9000)
	assert.Equal(t, Ordinary, p.Classify(unknown))
	assert.Equal(t, unknown, p.SubstituteFor(unknown))
	assert.False(t, p.Hides(unknown, voxel.Pos{}))
}

func TestFromRulesErrors(t *testing.T) {
	tests := []struct {
		name  string
		rules Rules
		want  error
	}{
		{"unknown sensitive", Rules{Sensitive: []string{"unobtainium"}}, voxel.ErrUnknownBlock},
		{"unknown substitute", Rules{Substitute: "nope"}, voxel.ErrUnknownBlock},
		{"sensitive substitute", Rules{Sensitive: []string{"iron_ore"}, Substitute: "iron_ore"}, ErrSensitiveSubstitute},
		{"sensitive override", Rules{
			Sensitive:   []string{"iron_ore", "gold_ore"},
			Substitutes: map[string]string{"iron_ore": "gold_ore"},
		}, ErrSensitiveSubstitute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromRules(tt.rules)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHidesMaxY(t *testing.T) {
	maxY := 64
	p, err := FromRules(Rules{Sensitive: []string{"coal_ore"}, MaxHiddenY: &maxY})
	require.NoError(t, err)

	assert.True(t, p.Hides(voxel.CoalOre, voxel.Pos{Y: 64}))
	assert.True(t, p.Hides(voxel.CoalOre, voxel.Pos{Y: -40}))
	assert.False(t, p.Hides(voxel.CoalOre, voxel.Pos{Y: 65}))
	assert.False(t, p.Hides(voxel.Stone, voxel.Pos{Y: 0}))

	assert.Equal(t, voxel.Stone, p.Presented(voxel.CoalOre, voxel.Pos{Y: 10}))
	assert.Equal(t, voxel.CoalOre, p.Presented(voxel.CoalOre, voxel.Pos{Y: 100}))
}

func TestDefaultSubstituteIsStone(t *testing.T) {
	p, err := FromRules(Rules{Sensitive: []string{"emerald_ore"}})
	require.NoError(t, err)
	assert.Equal(t, voxel.Stone, p.SubstituteFor(voxel.EmeraldOre))
}
