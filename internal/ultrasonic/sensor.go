// Package ultrasonic drives an HC-SR04 style range finder over GPIO.
//
// Trigger and echo may share one pin. A shared pin is switched to input
// right after the trigger pulse and back to output when the measurement
// ends, whatever the outcome. Measure busy-polls the echo line and blocks for
// at most the trigger pulse plus the round trip at the configured maximum
// range.
//
// A Sensor is not safe for concurrent use.
package ultrasonic

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/time/rate"

	"rovercore/internal/clock"
	"rovercore/internal/gpio"
	"rovercore/internal/logging"
	"rovercore/internal/mathx"
)

const (
	DefaultTriggerPin      = 18
	DefaultMinDistanceCM   = 2.5
	DefaultMaxDistanceCM   = 300.0
	DefaultPulseWidth      = 10 * time.Microsecond
	DefaultSettleTime      = 500 * time.Millisecond
	DefaultMinPingInterval = 60 * time.Millisecond
)

// ThermalSource reports ambient temperature in Kelvin. The sensor does not
// own it.
type ThermalSource interface {
	TemperatureK() (float64, error)
}

type Config struct {
	TriggerPin int
	// EchoPin 0, or equal to TriggerPin, shares the trigger pin.
	EchoPin       int
	MinDistanceCM float64
	MaxDistanceCM float64
	// Zero durations take the defaults. A negative MinPingInterval disables
	// ping spacing.
	PulseWidth      time.Duration
	SettleTime      time.Duration
	MinPingInterval time.Duration
	// Strict attaches ErrNoObject to NoObject readings.
	Strict bool
}

// DefaultConfig returns a single-pin sensor on GPIO18 with the HC-SR04 range.
func DefaultConfig() Config {
	return Config{
		TriggerPin:      DefaultTriggerPin,
		MinDistanceCM:   DefaultMinDistanceCM,
		MaxDistanceCM:   DefaultMaxDistanceCM,
		PulseWidth:      DefaultPulseWidth,
		SettleTime:      DefaultSettleTime,
		MinPingInterval: DefaultMinPingInterval,
	}
}

func (c Config) shared() bool {
	return c.EchoPin == 0 || c.EchoPin == c.TriggerPin
}

func (c Config) validate() error {
	switch {
	case math.IsNaN(c.MinDistanceCM) || c.MinDistanceCM <= 0:
		return &ConfigError{Field: "min_distance_cm", Reason: fmt.Sprintf("must be > 0, got %v", c.MinDistanceCM)}
	case math.IsNaN(c.MaxDistanceCM) || c.MaxDistanceCM < c.MinDistanceCM:
		return &ConfigError{Field: "max_distance_cm", Reason: fmt.Sprintf("must be >= min_distance_cm (%v), got %v", c.MinDistanceCM, c.MaxDistanceCM)}
	case c.TriggerPin < 0:
		return &ConfigError{Field: "trigger_pin", Reason: fmt.Sprintf("must be >= 0, got %d", c.TriggerPin)}
	case c.EchoPin < 0:
		return &ConfigError{Field: "echo_pin", Reason: fmt.Sprintf("must be >= 0, got %d", c.EchoPin)}
	}
	return nil
}

type Option func(*Sensor)

func WithClock(c clock.Clock) Option {
	return func(s *Sensor) { s.clock = c }
}

func WithThermal(t ThermalSource) Option {
	return func(s *Sensor) { s.thermal = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Sensor) { s.log = l }
}

type Sensor struct {
	cfg     Config
	clock   clock.Clock
	thermal ThermalSource
	log     *slog.Logger
	limiter *rate.Limiter

	trigger gpio.Pin
	echo    gpio.Pin
	closed  bool
}

// New validates cfg, claims the pins and waits SettleTime for the module to
// settle. No pin is claimed if cfg is invalid.
func New(opener gpio.Opener, cfg Config, opts ...Option) (*Sensor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.PulseWidth <= 0 {
		cfg.PulseWidth = DefaultPulseWidth
	}
	if cfg.SettleTime <= 0 {
		cfg.SettleTime = DefaultSettleTime
	}
	if cfg.MinPingInterval == 0 {
		cfg.MinPingInterval = DefaultMinPingInterval
	}

	s := &Sensor{cfg: cfg}
	for _, o := range opts {
		o(s)
	}
	if s.clock == nil {
		s.clock = clock.System{}
	}
	s.log = logging.OrDiscard(s.log).With("component", "ultrasonic", "trigger", cfg.TriggerPin)
	if cfg.MinPingInterval > 0 {
		s.limiter = rate.NewLimiter(rate.Every(cfg.MinPingInterval), 1)
	}

	trig, err := opener.Open(cfg.TriggerPin, gpio.ModeOutput)
	if err != nil {
		return nil, fmt.Errorf("ultrasonic: claim trigger: %w", err)
	}
	s.trigger, s.echo = trig, trig
	if !cfg.shared() {
		echo, err := opener.Open(cfg.EchoPin, gpio.ModeInput)
		if err != nil {
			_ = trig.Close()
			return nil, fmt.Errorf("ultrasonic: claim echo: %w", err)
		}
		s.echo = echo
	}

	s.clock.Sleep(cfg.SettleTime)
	return s, nil
}

// Measure pings once and returns the distance rounded to sigFigs significant
// figures (sigFigs <= 0 leaves it unrounded). Hardware errors and panics from
// the GPIO backend come back as HardwareFault readings.
func (s *Sensor) Measure(sigFigs int) (r Reading) {
	if s.closed {
		return Reading{Kind: HardwareFault, Err: ErrClosed}
	}
	s.waitPingSlot()

	tempK, speed := s.speedOfSound()
	r.TemperatureK, r.SpeedOfSound = tempK, speed
	speedCM := speed * 100
	timeout := time.Duration(2 * s.cfg.MaxDistanceCM / speedCM * float64(time.Second))

	defer func() {
		if p := recover(); p != nil {
			r = s.fault(r, fmt.Errorf("ultrasonic: panic during measurement: %v", p))
		}
		if err := s.rearm(); err != nil && r.Kind != HardwareFault {
			r = s.fault(r, err)
		}
	}()

	start, end, err := s.ping(timeout)
	if errors.Is(err, errEchoTimeout) {
		s.log.Debug("no echo", "timeout", timeout)
		return s.noObject(r, err)
	}
	if err != nil {
		return s.fault(r, err)
	}

	d := speedCM * end.Sub(start).Seconds() / 2
	if d < s.cfg.MinDistanceCM || d > s.cfg.MaxDistanceCM {
		s.log.Debug("echo out of range", "distance_cm", d)
		return s.noObject(r, fmt.Errorf("distance %.2f cm outside [%v, %v]", d, s.cfg.MinDistanceCM, s.cfg.MaxDistanceCM))
	}
	r.Kind = Detected
	r.DistanceCM = mathx.RoundSig(d, sigFigs)
	return r
}

var errEchoTimeout = errors.New("echo timed out")

// ping fires the trigger and times the echo pulse. Both edge waits are bounded
// by the same deadline, checked against the current time.
func (s *Sensor) ping(timeout time.Duration) (start, end time.Time, err error) {
	deadline := s.clock.Now().Add(s.cfg.PulseWidth + timeout)

	if err := s.trigger.Write(true); err != nil {
		return start, end, fmt.Errorf("ultrasonic: trigger high: %w", err)
	}
	s.clock.Sleep(s.cfg.PulseWidth)
	if err := s.trigger.Write(false); err != nil {
		return start, end, fmt.Errorf("ultrasonic: trigger low: %w", err)
	}
	if s.cfg.shared() {
		if err := s.echo.ArmInput(); err != nil {
			return start, end, fmt.Errorf("ultrasonic: echo input: %w", err)
		}
	}

	// Rising edge: the last instant the line was seen low starts the pulse.
	for {
		high, err := s.echo.Read()
		if err != nil {
			return start, end, fmt.Errorf("ultrasonic: read echo: %w", err)
		}
		if high {
			if start.IsZero() {
				start = s.clock.Now()
			}
			break
		}
		start = s.clock.Now()
		if start.After(deadline) {
			return start, end, errEchoTimeout
		}
	}

	// Falling edge: the last instant the line was seen high ends it.
	end = start
	for {
		high, err := s.echo.Read()
		if err != nil {
			return start, end, fmt.Errorf("ultrasonic: read echo: %w", err)
		}
		if !high {
			return start, end, nil
		}
		end = s.clock.Now()
		if end.After(deadline) {
			return start, end, errEchoTimeout
		}
	}
}

func (s *Sensor) waitPingSlot() {
	if s.limiter == nil {
		return
	}
	now := s.clock.Now()
	if d := s.limiter.ReserveN(now, 1).DelayFrom(now); d > 0 {
		s.clock.Sleep(d)
	}
}

// speedOfSound falls back to the defaults when there is no thermal source or
// it fails.
func (s *Sensor) speedOfSound() (tempK, speed float64) {
	if s.thermal == nil {
		return DefaultTemperatureK, DefaultSpeedOfSound
	}
	t, err := s.thermal.TemperatureK()
	if err != nil || math.IsNaN(t) || t <= 0 {
		s.log.Warn("temperature unavailable, using default", "error", err, "temperature_k", t)
		return DefaultTemperatureK, DefaultSpeedOfSound
	}
	return t, SpeedOfSoundDryAir(t)
}

// rearm puts the trigger back to output/low and a separate echo to input.
func (s *Sensor) rearm() error {
	if err := s.trigger.ArmOutput(false); err != nil {
		return fmt.Errorf("ultrasonic: re-arm trigger: %w", err)
	}
	if s.cfg.shared() {
		return nil
	}
	if err := s.echo.ArmInput(); err != nil {
		return fmt.Errorf("ultrasonic: re-arm echo: %w", err)
	}
	return nil
}

func (s *Sensor) noObject(r Reading, cause error) Reading {
	r.Kind = NoObject
	r.DistanceCM = 0
	r.Err = nil
	if s.cfg.Strict {
		r.Err = fmt.Errorf("%w: %v", ErrNoObject, cause)
	}
	return r
}

func (s *Sensor) fault(r Reading, err error) Reading {
	s.log.Warn("measurement failed", "error", err)
	r.Kind = HardwareFault
	r.DistanceCM = 0
	r.Err = err
	return r
}

// Close releases the pins. A shared pin is released once.
func (s *Sensor) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.trigger.Close()
	if s.echo != s.trigger {
		err = errors.Join(err, s.echo.Close())
	}
	return err
}
