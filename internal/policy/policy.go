// Package policy decides which block types are hidden from clients and
// what they are replaced with.
package policy

import (
	"errors"
	"fmt"

	"github.com/udisondev/xrayguard/internal/voxel"
)

// Class is the obfuscation classification of a block type.
type Class uint8

const (
	Ordinary Class = iota
	Sensitive
)

func (c Class) String() string {
	if c == Sensitive {
		return "sensitive"
	}
	return "ordinary"
}

// ErrSensitiveSubstitute is returned when a substitute is itself sensitive.
var ErrSensitiveSubstitute = errors.New("substitute type is sensitive")

// Rules is the configured form of a Policy. Block names are resolved
// with voxel.ParseBlock.
type Rules struct {
	Sensitive   []string
	Substitute  string
	Substitutes map[string]string // per sensitive type overrides
	MaxHiddenY  *int              // sensitive types above this Y are ordinary
}

// Policy is an immutable classification table. Safe for concurrent use.
type Policy struct {
	sensitive   map[voxel.BlockType]bool
	substitutes map[voxel.BlockType]voxel.BlockType
	fallback    voxel.BlockType

	limitY bool
	maxY   int
}

// New builds a policy from resolved block types.
func New(sensitive []voxel.BlockType, substitute voxel.BlockType) (*Policy, error) {
	p := &Policy{
		sensitive:   make(map[voxel.BlockType]bool, len(sensitive)),
		substitutes: make(map[voxel.BlockType]voxel.BlockType),
		fallback:    substitute,
	}
	for _, t := range sensitive {
		p.sensitive[t] = true
	}
	if p.sensitive[substitute] {
		return nil, fmt.Errorf("%w: %s", ErrSensitiveSubstitute, substitute)
	}
	return p, nil
}

// FromRules resolves block names and builds a policy.
func FromRules(r Rules) (*Policy, error) {
	types := make([]voxel.BlockType, 0, len(r.Sensitive))
	for _, name := range r.Sensitive {
		t, err := voxel.ParseBlock(name)
		if err != nil {
			return nil, fmt.Errorf("sensitive types: %w", err)
		}
		types = append(types, t)
	}

	sub := voxel.Stone
	if r.Substitute != "" {
		t, err := voxel.ParseBlock(r.Substitute)
		if err != nil {
			return nil, fmt.Errorf("substitute type: %w", err)
		}
		sub = t
	}

	p, err := New(types, sub)
	if err != nil {
		return nil, err
	}

	for from, to := range r.Substitutes {
		ft, err := voxel.ParseBlock(from)
		if err != nil {
			return nil, fmt.Errorf("substitutes: %w", err)
		}
		tt, err := voxel.ParseBlock(to)
		if err != nil {
			return nil, fmt.Errorf("substitutes[%s]: %w", from, err)
		}
		if p.sensitive[tt] {
			return nil, fmt.Errorf("substitutes[%s]: %w: %s", from, ErrSensitiveSubstitute, tt)
		}
		p.substitutes[ft] = tt
	}

	if r.MaxHiddenY != nil {
		p.limitY = true
		p.maxY = *r.MaxHiddenY
	}
	return p, nil
}

// Classify returns the class of t. Types not listed as sensitive,
// including ids outside the palette, are ordinary.
func (p *Policy) Classify(t voxel.BlockType) Class {
	if p.sensitive[t] {
		return Sensitive
	}
	return Ordinary
}

// Hides reports whether t at pos must be obfuscated.
func (p *Policy) Hides(t voxel.BlockType, pos voxel.Pos) bool {
	if !p.sensitive[t] {
		return false
	}
	return !p.limitY || pos.Y <= p.maxY
}

// SubstituteFor returns the type sent in place of t. Ordinary types are
// returned unchanged.
func (p *Policy) SubstituteFor(t voxel.BlockType) voxel.BlockType {
	if !p.sensitive[t] {
		return t
	}
	if s, ok := p.substitutes[t]; ok {
		return s
	}
	return p.fallback
}

// Presented returns what a client that has not seen pos should receive.
func (p *Policy) Presented(t voxel.BlockType, pos voxel.Pos) voxel.BlockType {
	if p.Hides(t, pos) {
		return p.SubstituteFor(t)
	}
	return t
}

// SensitiveTypes returns the sensitive set in palette order.
func (p *Policy) SensitiveTypes() []voxel.BlockType {
	out := make([]voxel.BlockType, 0, len(p.sensitive))
	for _, name := range voxel.Palette() {
		t, _ := voxel.ParseBlock(name)
		if p.sensitive[t] {
			out = append(out, t)
		}
	}
	return out
}
