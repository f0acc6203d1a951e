// Package motion steers a four-wheel crab-walk chassis: one DRV8835 PHASE
// line per wheel for direction and one PCA9685 channel per wheel for speed.
//
// Crab walking drives every wheel at the same magnitude; turns come from the
// direction pattern alone. A Controller is not safe for concurrent use.
package motion

import (
	"errors"
	"fmt"
	"log/slog"

	"rovercore/internal/gpio"
	"rovercore/internal/logging"
	"rovercore/internal/pca9685"
)

// DutyDriver is the part of the PWM driver the controller uses.
type DutyDriver interface {
	BoundDuty(v int) (uint16, error)
	SetMotorDuty(ch pca9685.Channel, duty uint16) error
}

// Wheel binds a direction line to a PWM channel.
type Wheel struct {
	Pin     gpio.Pin
	Channel pca9685.Channel
}

type WheelSet struct {
	FrontLeft  Wheel
	FrontRight Wheel
	RearLeft   Wheel
	RearRight  Wheel
}

func (w WheelSet) ordered() [4]Wheel {
	return [4]Wheel{w.FrontLeft, w.FrontRight, w.RearLeft, w.RearRight}
}

var wheelNames = [4]string{"front_left", "front_right", "rear_left", "rear_right"}

type Config struct {
	Model          SteeringModel
	ReverseMounted bool
	Logger         *slog.Logger
}

// State is what the controller last applied.
type State struct {
	Maneuver   Maneuver
	Reversing  bool
	Directions [4]bool
	Duty       [4]uint16
}

func (s State) Moving() bool {
	for _, d := range s.Duty {
		if d != 0 {
			return true
		}
	}
	return false
}

type Controller struct {
	drv    DutyDriver
	wheels [4]Wheel
	cfg    Config
	log    *slog.Logger

	state  State
	closed bool
}

// New builds a controller over already-claimed output pins. The controller
// owns the pins from here on and releases them in Close.
func New(drv DutyDriver, wheels WheelSet, cfg Config) (*Controller, error) {
	if drv == nil {
		return nil, &ConfigError{Field: "driver", Reason: "is nil"}
	}
	if cfg.Model == 0 {
		cfg.Model = CrabWalk
	}
	switch cfg.Model {
	case CrabWalk:
	case Mecanum, SinglePivotAxle, DualPivotAxle:
		return nil, &ConfigError{Field: "steering_model", Reason: cfg.Model.String() + " is not implemented", Err: ErrNotImplemented}
	default:
		return nil, &ConfigError{Field: "steering_model", Reason: fmt.Sprintf("unknown value %d", int(cfg.Model))}
	}

	ws := wheels.ordered()
	pins := make(map[int]string, len(ws))
	channels := make(map[pca9685.Channel]string, len(ws))
	for i, w := range ws {
		if w.Pin == nil {
			return nil, &ConfigError{Field: wheelNames[i] + ".pin", Reason: "is nil"}
		}
		if other, dup := pins[w.Pin.Number()]; dup {
			return nil, &ConfigError{Field: wheelNames[i] + ".pin", Reason: fmt.Sprintf("gpio%d already used by %s", w.Pin.Number(), other)}
		}
		if other, dup := channels[w.Channel]; dup {
			return nil, &ConfigError{Field: wheelNames[i] + ".channel", Reason: fmt.Sprintf("channel %d already used by %s", w.Channel, other)}
		}
		pins[w.Pin.Number()] = wheelNames[i]
		channels[w.Channel] = wheelNames[i]
	}

	return &Controller{
		drv:    drv,
		wheels: ws,
		cfg:    cfg,
		log:    logging.OrDiscard(cfg.Logger).With("component", "motion"),
	}, nil
}

func (c *Controller) State() State { return c.state }

// Direction returns the wheel direction levels for a maneuver under this
// controller's mounting.
func (c *Controller) Direction(m Maneuver, reversing bool) ([4]bool, error) {
	return CrabWalkDirections(m, reversing, c.cfg.ReverseMounted)
}

// Move drives the chassis. A negative speed is shorthand for reversing at
// |speed|. Zero speed or EmergencyBrake stops every wheel.
func (c *Controller) Move(speed int, m Maneuver, reversing bool) error {
	if c.closed {
		return ErrClosed
	}
	if speed < 0 {
		reversing = true
		speed = -speed
	}
	duty, err := c.drv.BoundDuty(speed)
	if err != nil {
		return fmt.Errorf("motion: move: %w", err)
	}
	c.log.Debug("move", "maneuver", m.String(), "duty", duty, "reversing", reversing)

	if duty == 0 || m == EmergencyBrake {
		return c.Stop()
	}

	dirs, err := c.Direction(m, reversing)
	if err != nil {
		return err
	}
	for i, w := range c.wheels {
		if err := w.Pin.Write(dirs[i]); err != nil {
			return fmt.Errorf("motion: %s direction: %w", wheelNames[i], err)
		}
	}
	c.state.Maneuver = m
	c.state.Reversing = reversing
	c.state.Directions = dirs

	return c.Drive(duty, duty, duty, duty)
}

// Drive programs each wheel's PWM channel. Every channel is attempted even if
// an earlier one fails.
func (c *Controller) Drive(fl, fr, rl, rr uint16) error {
	if c.closed {
		return ErrClosed
	}
	return c.drive([4]uint16{fl, fr, rl, rr})
}

func (c *Controller) drive(duty [4]uint16) error {
	var errs []error
	for i, w := range c.wheels {
		if err := c.drv.SetMotorDuty(w.Channel, duty[i]); err != nil {
			errs = append(errs, fmt.Errorf("motion: %s duty: %w", wheelNames[i], err))
			continue
		}
		c.state.Duty[i] = duty[i]
	}
	return errors.Join(errs...)
}

func (c *Controller) Stop() error {
	return c.Drive(0, 0, 0, 0)
}

// Close stops every wheel and then releases the direction pins. Pins are
// released even if stopping fails.
func (c *Controller) Close() error {
	if c.closed {
		return nil
	}
	errs := []error{c.drive([4]uint16{})}
	c.closed = true
	for i, w := range c.wheels {
		if err := w.Pin.Close(); err != nil {
			errs = append(errs, fmt.Errorf("motion: release %s: %w", wheelNames[i], err))
		}
	}
	return errors.Join(errs...)
}
