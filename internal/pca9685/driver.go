// Package pca9685 drives a PCA9685 16-channel, 12-bit I2C PWM controller.
//
// The controller has a single global output frequency shared by all channels.
// Channel updates are four independent register writes and are not atomic: a
// reader on the bus can observe a half-updated channel.
package pca9685

import (
	"fmt"
	"log/slog"
	"time"

	"rovercore/internal/logging"
	"rovercore/internal/mathx"
)

var sleep = time.Sleep

const (
	DefaultAddress     = 0x40
	DefaultChannels    = 16
	DefaultResolution  = 12
	DefaultOscillator  = 25_000_000.0
	DefaultFrequencyHz = 50.0

	// oscillatorSettle is the wait after leaving sleep before RESTART.
	oscillatorSettle = 5 * time.Millisecond

	servoPeriodUS = 20_000
)

// RegisterIO is the byte-register access the driver needs. *i2c.Dev
// satisfies it.
type RegisterIO interface {
	ReadRegU8(reg byte) (byte, error)
	WriteReg(reg, value byte) error
}

type Config struct {
	Address        uint16
	Channels       int
	ResolutionBits int
	OscillatorHz   float64
	FrequencyHz    float64
	// Strict reports out-of-range duty values as *RangeError in addition to
	// clamping them.
	Strict bool
	Logger *slog.Logger
}

type Driver struct {
	dev     RegisterIO
	cfg     Config
	maxBits uint16
	freq    float64
	log     *slog.Logger
}

// New validates cfg, fills defaults for zero fields and programs the
// configured frequency.
func New(dev RegisterIO, cfg Config) (*Driver, error) {
	if dev == nil {
		return nil, fmt.Errorf("pca9685: dev is nil")
	}
	if cfg.Address == 0 {
		cfg.Address = DefaultAddress
	}
	if cfg.Channels == 0 {
		cfg.Channels = DefaultChannels
	}
	if cfg.ResolutionBits == 0 {
		cfg.ResolutionBits = DefaultResolution
	}
	if cfg.OscillatorHz == 0 {
		cfg.OscillatorHz = DefaultOscillator
	}
	if cfg.FrequencyHz == 0 {
		cfg.FrequencyHz = DefaultFrequencyHz
	}
	if cfg.Channels < 1 || cfg.Channels > DefaultChannels {
		return nil, &ConfigError{Field: "channels", Reason: fmt.Sprintf("must be in [1,%d], got %d", DefaultChannels, cfg.Channels)}
	}
	if cfg.ResolutionBits < 1 || cfg.ResolutionBits > DefaultResolution {
		return nil, &ConfigError{Field: "resolution_bits", Reason: fmt.Sprintf("must be in [1,%d], got %d", DefaultResolution, cfg.ResolutionBits)}
	}
	if cfg.OscillatorHz < 0 || cfg.FrequencyHz < 0 {
		return nil, &ConfigError{Field: "frequency", Reason: "must be > 0"}
	}

	d := &Driver{
		dev:     dev,
		cfg:     cfg,
		maxBits: uint16(1<<cfg.ResolutionBits - 1),
		log:     logging.OrDiscard(cfg.Logger).With("device", "pca9685", "addr", fmt.Sprintf("0x%02X", cfg.Address)),
	}
	if err := d.ConfigureFrequency(cfg.FrequencyHz); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Driver) MaxBits() uint16 { return d.maxBits }

func (d *Driver) Channels() int { return d.cfg.Channels }

// Frequency is the global output frequency last programmed.
func (d *Driver) Frequency() float64 { return d.freq }

// ConfigureFrequency programs PRE_SCALE. The prescaler only accepts writes
// while the oscillator is off, so the sequence is: sleep, write prescale,
// restore MODE1, wait for the oscillator, then restart.
func (d *Driver) ConfigureFrequency(hz float64) error {
	pre, err := Prescale(d.cfg.OscillatorHz, hz)
	if err != nil {
		return err
	}
	d.log.Debug("prescale computed", "frequency_hz", hz, "prescale", pre)

	old, err := d.read(RegMode1)
	if err != nil {
		return fmt.Errorf("pca9685: set frequency: %w", err)
	}
	if err := d.write(RegMode1, (old&0x7F)|Mode1Sleep); err != nil {
		return fmt.Errorf("pca9685: set frequency: %w", err)
	}
	if err := d.write(RegPrescale, pre); err != nil {
		return fmt.Errorf("pca9685: set frequency: %w", err)
	}
	if err := d.write(RegMode1, old); err != nil {
		return fmt.Errorf("pca9685: set frequency: %w", err)
	}
	sleep(oscillatorSettle)
	if err := d.write(RegMode1, old|Mode1Restart); err != nil {
		return fmt.Errorf("pca9685: set frequency: %w", err)
	}
	d.freq = hz
	return nil
}

// BoundDuty takes the magnitude of v and caps it at MaxBits. In strict mode a
// negative or oversized input also returns a *RangeError alongside the
// clamped value.
func (d *Driver) BoundDuty(v int) (uint16, error) {
	mag := mathx.Abs(v)
	if mag < 0 {
		// math.MinInt has no positive counterpart.
		mag = int(d.maxBits) + 1
	}
	out := uint16(mathx.Clamp(mag, 0, int(d.maxBits)))
	if d.cfg.Strict && (v < 0 || mag > int(d.maxBits)) {
		return out, &RangeError{Value: v, Max: d.maxBits}
	}
	return out, nil
}

// SetChannelPWM sets the counter steps at which ch goes high (on) and low
// (off). Writes ON_L, ON_H, OFF_L, OFF_H in that order.
func (d *Driver) SetChannelPWM(ch Channel, off, on uint16) error {
	if int(ch) >= d.cfg.Channels {
		return fmt.Errorf("%w: %d (have %d)", ErrInvalidChannel, ch, d.cfg.Channels)
	}
	regs := ChannelRegisters(ch)
	onL, onH := Split16(on)
	offL, offH := Split16(off)

	writes := [4][2]byte{
		{regs.OnL, onL},
		{regs.OnH, onH},
		{regs.OffL, offL},
		{regs.OffH, offH},
	}
	for _, w := range writes {
		if err := d.write(w[0], w[1]); err != nil {
			return fmt.Errorf("pca9685: channel %d: %w", ch, err)
		}
	}
	return nil
}

// SetMotorDuty drives ch high from step 0 to step duty.
func (d *Driver) SetMotorDuty(ch Channel, duty uint16) error {
	return d.SetChannelPWM(ch, duty, 0)
}

// SetServoPulse converts a pulse width to counter steps assuming a 50 Hz
// (20 ms) period. The driver does not check that the configured frequency is
// actually 50 Hz. Steps are capped at 4095, so a pulse of 20000 µs or more
// holds the output high for the whole period instead of setting the
// full-off bit.
func (d *Driver) SetServoPulse(ch Channel, pulseUS uint32) error {
	steps := uint64(pulseUS) * CounterSteps / servoPeriodUS
	if steps > CounterSteps-1 {
		steps = CounterSteps - 1
	}
	return d.SetChannelPWM(ch, uint16(steps), 0)
}

// AllOff forces every channel fully off through the ALL_LED registers.
func (d *Driver) AllOff() error {
	if err := d.write(RegAllLEDOffL, 0); err != nil {
		return fmt.Errorf("pca9685: all off: %w", err)
	}
	if err := d.write(RegAllLEDOffH, fullOff); err != nil {
		return fmt.Errorf("pca9685: all off: %w", err)
	}
	return nil
}

// Close turns every output off. The underlying bus is owned by the caller.
func (d *Driver) Close() error {
	return d.AllOff()
}

func (d *Driver) read(reg byte) (byte, error) {
	v, err := d.dev.ReadRegU8(reg)
	if err != nil {
		return 0, err
	}
	d.log.Debug("register read", "reg", fmt.Sprintf("0x%02X", reg), "value", v)
	return v, nil
}

func (d *Driver) write(reg, value byte) error {
	d.log.Debug("register write", "reg", fmt.Sprintf("0x%02X", reg), "value", value)
	return d.dev.WriteReg(reg, value)
}
