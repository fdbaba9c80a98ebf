package visibility

import (
	"errors"
	"math"

	"github.com/udisondev/xrayguard/internal/voxel"
)

// ErrInvalidObserverPose is returned for non-finite eye positions, angles or radius.
var ErrInvalidObserverPose = errors.New("invalid observer pose")

// Observer is one player's evaluation context for a single tick.
// Yaw and Pitch are in degrees: yaw 0 faces +Z, yaw 90 faces -X,
// positive pitch looks down.
type Observer struct {
	Eye    voxel.Vec3
	Yaw    float64
	Pitch  float64
	Radius float64
}

// Validate fails fast on poses that cannot be evaluated.
func (o Observer) Validate() error {
	if !o.Eye.Finite() || !finite(o.Yaw) || !finite(o.Pitch) || !finite(o.Radius) || o.Radius <= 0 {
		return ErrInvalidObserverPose
	}
	return nil
}

// Direction returns the unit view vector.
func (o Observer) Direction() voxel.Vec3 {
	yaw := o.Yaw * math.Pi / 180
	pitch := o.Pitch * math.Pi / 180
	return voxel.Vec3{
		X: -math.Sin(yaw) * math.Cos(pitch),
		Y: -math.Sin(pitch),
		Z: math.Cos(yaw) * math.Cos(pitch),
	}
}

// InRange reports whether the target's center lies within the visibility radius.
func (o Observer) InRange(target voxel.Pos) bool {
	return target.Center().Sub(o.Eye).Len() <= o.Radius
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
