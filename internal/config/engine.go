package config

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/udisondev/xrayguard/internal/policy"
	"github.com/udisondev/xrayguard/internal/visibility"
)

// ErrInvalidEngine is wrapped by every Engine validation error.
var ErrInvalidEngine = errors.New("invalid engine config")

// Corner rule names accepted in corner_rule.
const (
	CornerFavorOpaque = "favor_opaque"
	CornerFavorClear  = "favor_clear"
)

// Engine configures the visibility and obfuscation engine.
type Engine struct {
	// VisibilityRadius is the maximum eye-to-block distance of a reveal.
	VisibilityRadius float64 `yaml:"visibility_radius"`

	SensitiveTypes []string          `yaml:"sensitive_types"`
	SubstituteType string            `yaml:"substitute_type"`
	Substitutes    map[string]string `yaml:"substitutes"`  // per-type overrides
	MaxHiddenY     *int              `yaml:"max_hidden_y"` // unset hides at every height

	TickInterval   time.Duration `yaml:"tick_interval"`
	TickBudget     int           `yaml:"tick_budget"`      // evaluations per tick, all players
	TickTimeBudget time.Duration `yaml:"tick_time_budget"` // wall-clock cap on job submission
	WorkerCount    int           `yaml:"worker_count"`     // 0 means runtime.NumCPU()
	QueueSize      int           `yaml:"queue_size"`

	// ViewDistance is the tracked section radius around each player.
	ViewDistance int `yaml:"view_distance"`

	// Movement beyond these thresholds triggers a sweep of hidden blocks.
	MoveThreshold   float64 `yaml:"move_threshold"`   // blocks
	RotateThreshold float64 `yaml:"rotate_threshold"` // degrees

	CornerRule  string `yaml:"corner_rule"`
	FaceRays    bool   `yaml:"face_rays"`
	ThirdPerson bool   `yaml:"third_person"`
}

// DefaultEngine returns Engine config with sensible defaults.
func DefaultEngine() Engine {
	return Engine{
		VisibilityRadius: 64,
		SensitiveTypes: []string{
			"coal_ore", "iron_ore", "copper_ore", "gold_ore", "redstone_ore",
			"lapis_ore", "diamond_ore", "emerald_ore", "ancient_debris",
		},
		SubstituteType:  "stone",
		Substitutes:     map[string]string{"ancient_debris": "netherrack"},
		TickInterval:    50 * time.Millisecond,
		TickBudget:      4000,
		TickTimeBudget:  20 * time.Millisecond,
		QueueSize:       8192,
		ViewDistance:    4,
		MoveThreshold:   1,
		RotateThreshold: 15,
		CornerRule:      CornerFavorOpaque,
		FaceRays:        true,
	}
}

// Validate checks value ranges and that every block name resolves.
func (e Engine) Validate() error {
	switch {
	case math.IsNaN(e.VisibilityRadius) || math.IsInf(e.VisibilityRadius, 0) || e.VisibilityRadius <= 0:
		return fmt.Errorf("%w: visibility_radius must be positive, got %v", ErrInvalidEngine, e.VisibilityRadius)
	case e.TickInterval <= 0:
		return fmt.Errorf("%w: tick_interval must be positive", ErrInvalidEngine)
	case e.TickBudget <= 0:
		return fmt.Errorf("%w: tick_budget must be positive, got %d", ErrInvalidEngine, e.TickBudget)
	case e.TickTimeBudget <= 0:
		return fmt.Errorf("%w: tick_time_budget must be positive", ErrInvalidEngine)
	case e.WorkerCount < 0:
		return fmt.Errorf("%w: worker_count must not be negative", ErrInvalidEngine)
	case e.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidEngine)
	case e.ViewDistance < 0:
		return fmt.Errorf("%w: view_distance must not be negative", ErrInvalidEngine)
	case e.MoveThreshold < 0 || e.RotateThreshold < 0:
		return fmt.Errorf("%w: thresholds must not be negative", ErrInvalidEngine)
	}
	if _, err := e.Corner(); err != nil {
		return err
	}
	if _, err := policy.FromRules(e.PolicyRules()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEngine, err)
	}
	return nil
}

// Corner resolves corner_rule.
func (e Engine) Corner() (visibility.CornerRule, error) {
	switch e.CornerRule {
	case "", CornerFavorOpaque:
		return visibility.CornerFavorOpaque, nil
	case CornerFavorClear:
		return visibility.CornerFavorClear, nil
	default:
		return 0, fmt.Errorf("%w: unknown corner_rule %q", ErrInvalidEngine, e.CornerRule)
	}
}

// PolicyRules returns the obfuscation rules section.
func (e Engine) PolicyRules() policy.Rules {
	return policy.Rules{
		Sensitive:   e.SensitiveTypes,
		Substitute:  e.SubstituteType,
		Substitutes: e.Substitutes,
		MaxHiddenY:  e.MaxHiddenY,
	}
}

// OracleOptions returns the line-of-sight options. Call Validate first.
func (e Engine) OracleOptions() visibility.Options {
	corner, _ := e.Corner()
	return visibility.Options{
		Corner:              corner,
		FaceRays:            e.FaceRays,
		ThirdPerson:         e.ThirdPerson,
		ThirdPersonDistance: visibility.DefaultThirdPersonDistance,
	}
}

// Workers returns the effective worker count.
func (e Engine) Workers() int {
	if e.WorkerCount > 0 {
		return e.WorkerCount
	}
	return runtime.NumCPU()
}
