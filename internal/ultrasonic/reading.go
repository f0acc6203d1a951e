package ultrasonic

import (
	"errors"
	"fmt"
	"math"

	"rovercore/internal/mathx"
)

const (
	// DefaultTemperatureK is 25 °C.
	DefaultTemperatureK = 298.15
	// DefaultSpeedOfSound is dry air at DefaultTemperatureK and 1 atm, in m/s.
	DefaultSpeedOfSound = 346.2
)

var (
	// ErrNoObject is attached to NoObject readings in strict mode.
	ErrNoObject = errors.New("ultrasonic: no object detected")
	ErrClosed   = errors.New("ultrasonic: sensor closed")
)

type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("ultrasonic: %s %s", e.Field, e.Reason)
}

// ResultKind classifies a measurement.
type ResultKind int

const (
	Detected ResultKind = iota + 1
	// NoObject means no echo inside the deadline, or an echo outside the
	// configured distance bounds.
	NoObject
	// HardwareFault means the measurement could not be carried out.
	HardwareFault
)

func (k ResultKind) String() string {
	switch k {
	case Detected:
		return "detected"
	case NoObject:
		return "no_object"
	case HardwareFault:
		return "hardware_fault"
	default:
		return fmt.Sprintf("result_kind(%d)", int(k))
	}
}

// Reading is the outcome of one ping.
type Reading struct {
	Kind       ResultKind
	DistanceCM float64
	// TemperatureK and SpeedOfSound (m/s) are the values the distance was
	// computed with.
	TemperatureK float64
	SpeedOfSound float64
	Err          error
}

// Distance returns the distance and whether an object was detected.
func (r Reading) Distance() (float64, bool) {
	if r.Kind != Detected {
		return 0, false
	}
	return r.DistanceCM, true
}

// SpeedOfSoundDryAir returns v = 20.05·√T in m/s, rounded to 3 decimals.
func SpeedOfSoundDryAir(tempK float64) float64 {
	return mathx.RoundPlaces(20.05*math.Sqrt(tempK), 3)
}
