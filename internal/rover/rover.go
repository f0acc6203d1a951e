// Package rover owns the actuation and sensing components of one chassis and
// serializes access to them.
package rover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"rovercore/internal/logging"
	"rovercore/internal/motion"
	"rovercore/internal/pca9685"
	"rovercore/internal/telemetry"
	"rovercore/internal/ultrasonic"
)

// ServoFrequencyHz is the PWM frequency servo pulses are computed for.
const ServoFrequencyHz = 50.0

var ErrNoSensor = errors.New("rover: no range sensor configured")

// PWM is the part of the PWM driver the rover uses directly.
type PWM interface {
	SetServoPulse(ch pca9685.Channel, pulseUS uint32) error
	Frequency() float64
	AllOff() error
}

type Mover interface {
	Move(speed int, m motion.Maneuver, reversing bool) error
	Stop() error
	State() motion.State
	Close() error
}

type Ranger interface {
	Measure(sigFigs int) ultrasonic.Reading
	Close() error
}

// Parts are the components a Rover takes ownership of. Sensor, Telemetry and
// Closers are optional. Closers run last, in order (the I2C bus goes here).
type Parts struct {
	PWM       PWM
	Motion    Mover
	Sensor    Ranger
	Telemetry *telemetry.Sender
	Closers   []io.Closer
}

type Config struct {
	SignificantFigures int
	// RangingInterval is the ranging loop period; 0 disables the loop.
	RangingInterval   time.Duration
	TelemetryInterval time.Duration
	Logger            *slog.Logger
}

type Snapshot struct {
	Maneuver   string  `json:"maneuver,omitempty"`
	Reversing  bool    `json:"reversing"`
	Directions [4]bool `json:"directions"`
	Duty       [4]int  `json:"duty"`

	RangeKind    string    `json:"range_kind,omitempty"`
	DistanceCM   float64   `json:"distance_cm,omitempty"`
	TemperatureK float64   `json:"temperature_k,omitempty"`
	RangedAt     time.Time `json:"ranged_utc,omitempty"`

	LastUpdateAt time.Time `json:"last_update_utc,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

type Rover struct {
	parts Parts
	cfg   Config
	log   *slog.Logger

	motionMu sync.Mutex
	sensorMu sync.Mutex

	mu   sync.RWMutex
	snap Snapshot

	wg       sync.WaitGroup
	cancel   context.CancelFunc
	stopOnce sync.Once
	closeErr error
}

func New(parts Parts, cfg Config) (*Rover, error) {
	if parts.PWM == nil || parts.Motion == nil {
		return nil, fmt.Errorf("rover: pwm and motion are required")
	}
	if cfg.TelemetryInterval <= 0 {
		cfg.TelemetryInterval = time.Second
	}
	return &Rover{
		parts: parts,
		cfg:   cfg,
		log:   logging.OrDiscard(cfg.Logger).With("component", "rover"),
	}, nil
}

// Move drives the chassis; see motion.Controller.Move.
func (r *Rover) Move(speed int, m motion.Maneuver, reversing bool) error {
	r.motionMu.Lock()
	defer r.motionMu.Unlock()
	err := r.parts.Motion.Move(speed, m, reversing)
	r.recordMotion(err)
	return err
}

func (r *Rover) Stop() error {
	r.motionMu.Lock()
	defer r.motionMu.Unlock()
	err := r.parts.Motion.Stop()
	r.recordMotion(err)
	return err
}

func (r *Rover) recordMotion(err error) {
	st := r.parts.Motion.State()
	r.setState(func(sn *Snapshot) {
		if st.Maneuver != 0 {
			sn.Maneuver = st.Maneuver.String()
		}
		sn.Reversing = st.Reversing
		sn.Directions = st.Directions
		for i, d := range st.Duty {
			sn.Duty[i] = int(d)
		}
		if err != nil {
			sn.LastError = err.Error()
		}
	})
}

// Measure pings the range sensor once.
func (r *Rover) Measure() (ultrasonic.Reading, error) {
	if r.parts.Sensor == nil {
		return ultrasonic.Reading{}, ErrNoSensor
	}
	r.sensorMu.Lock()
	rd := r.parts.Sensor.Measure(r.cfg.SignificantFigures)
	r.sensorMu.Unlock()

	r.setState(func(sn *Snapshot) {
		sn.RangeKind = rd.Kind.String()
		sn.DistanceCM, _ = rd.Distance()
		sn.TemperatureK = rd.TemperatureK
		sn.RangedAt = time.Now().UTC()
		if rd.Err != nil {
			sn.LastError = rd.Err.Error()
		}
	})
	return rd, nil
}

// SetServoPulse sets a servo channel. The PWM controller must be running at
// ServoFrequencyHz.
func (r *Rover) SetServoPulse(ch pca9685.Channel, pulseUS uint32) error {
	if f := r.parts.PWM.Frequency(); f != ServoFrequencyHz {
		return fmt.Errorf("rover: servo pulses need %v Hz, pwm is at %v Hz", ServoFrequencyHz, f)
	}
	r.motionMu.Lock()
	defer r.motionMu.Unlock()
	return r.parts.PWM.SetServoPulse(ch, pulseUS)
}

func (r *Rover) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

func (r *Rover) setState(update func(*Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	update(&r.snap)
	r.snap.LastUpdateAt = time.Now().UTC()
}

// Start launches the ranging loop and the telemetry publisher, when
// configured. It does not block. Call it at most once.
func (r *Rover) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)
	if r.parts.Sensor != nil && r.cfg.RangingInterval > 0 {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.rangingLoop(ctx)
		}()
	}
	if r.parts.Telemetry != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			telemetry.Publish(ctx, r.parts.Telemetry, r.cfg.TelemetryInterval, func() any { return r.Snapshot() }, r.log)
		}()
	}
	return nil
}

func (r *Rover) rangingLoop(ctx context.Context) {
	t := time.NewTicker(r.cfg.RangingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rd, _ := r.Measure()
			switch rd.Kind {
			case ultrasonic.Detected:
				r.log.Debug("range", "distance_cm", rd.DistanceCM)
			case ultrasonic.NoObject:
				r.log.Debug("range: no object")
			case ultrasonic.HardwareFault:
				r.log.Warn("range: hardware fault", "error", rd.Err)
			}
		}
	}
}

// Close stops the background loops, then stops and releases the wheels, turns
// every PWM output off, releases the range sensor and runs the closers.
// Later calls return the first call's result.
func (r *Rover) Close() error {
	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()

		var errs []error
		r.motionMu.Lock()
		if err := r.parts.Motion.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := r.parts.PWM.AllOff(); err != nil {
			errs = append(errs, err)
		}
		r.motionMu.Unlock()

		if r.parts.Sensor != nil {
			r.sensorMu.Lock()
			if err := r.parts.Sensor.Close(); err != nil {
				errs = append(errs, err)
			}
			r.sensorMu.Unlock()
		}
		if r.parts.Telemetry != nil {
			if err := r.parts.Telemetry.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		for _, c := range r.parts.Closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}
