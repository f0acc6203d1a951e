package motion

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotImplemented is returned for steering models and maneuvers that are
// declared but have no drive semantics.
var ErrNotImplemented = errors.New("motion: not implemented")

var ErrClosed = errors.New("motion: controller closed")

// ConfigError reports a controller that cannot be built from its config.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("motion: %s %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// SteeringModel is the mechanical layout the controller steers.
type SteeringModel int

const (
	// CrabWalk skids all four wheels to turn.
	CrabWalk SteeringModel = iota + 1
	// Mecanum turns in place on mecanum wheels.
	Mecanum
	// SinglePivotAxle is car-style steering on one axle.
	SinglePivotAxle
	// DualPivotAxle steers both axles.
	DualPivotAxle
)

var steeringNames = map[SteeringModel]string{
	CrabWalk:        "crab_walk",
	Mecanum:         "mecanum",
	SinglePivotAxle: "single_pivot_axle",
	DualPivotAxle:   "dual_pivot_axle",
}

func (m SteeringModel) String() string {
	if s, ok := steeringNames[m]; ok {
		return s
	}
	return fmt.Sprintf("steering_model(%d)", int(m))
}

func ParseSteeringModel(s string) (SteeringModel, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for m, name := range steeringNames {
		if name == key {
			return m, nil
		}
	}
	return 0, fmt.Errorf("motion: unknown steering model %q", s)
}

type Maneuver int

const (
	Straight Maneuver = iota + 1
	TurnLeft
	TurnRight
	// MaintainLane is reserved for lane keeping and has no drive semantics.
	MaintainLane
	// EmergencyBrake stops all wheels.
	EmergencyBrake
)

var maneuverNames = map[Maneuver]string{
	Straight:       "straight",
	TurnLeft:       "turn_left",
	TurnRight:      "turn_right",
	MaintainLane:   "maintain_lane",
	EmergencyBrake: "emergency_brake",
}

func (m Maneuver) String() string {
	if s, ok := maneuverNames[m]; ok {
		return s
	}
	return fmt.Sprintf("maneuver(%d)", int(m))
}

func ParseManeuver(s string) (Maneuver, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, "-", "_")
	for m, name := range maneuverNames {
		if name == key {
			return m, nil
		}
	}
	return 0, fmt.Errorf("motion: unknown maneuver %q", s)
}

// Wheel positions, in the order used by direction and duty arrays.
const (
	FrontLeft = iota
	FrontRight
	RearLeft
	RearRight
)

// crabWalk holds the DRV8835 PHASE levels per maneuver, indexed by
// reversing, for motors that are not reverse mounted. false drives forward.
var crabWalk = map[Maneuver][2][4]bool{
	Straight: {
		{false, false, false, false},
		{true, true, true, true},
	},
	TurnLeft: {
		{true, false, true, false},
		{false, true, false, true},
	},
	TurnRight: {
		{false, true, false, true},
		{true, false, true, false},
	},
}

// CrabWalkDirections returns the direction level of each wheel (FL, FR, RL,
// RR). reverseMounted inverts every level.
func CrabWalkDirections(m Maneuver, reversing, reverseMounted bool) ([4]bool, error) {
	rows, ok := crabWalk[m]
	if !ok {
		if m == MaintainLane {
			return [4]bool{}, fmt.Errorf("%w: maneuver %s", ErrNotImplemented, m)
		}
		return [4]bool{}, fmt.Errorf("motion: no direction table for %s", m)
	}
	row := rows[0]
	if reversing {
		row = rows[1]
	}
	if reverseMounted {
		for i := range row {
			row[i] = !row[i]
		}
	}
	return row, nil
}
