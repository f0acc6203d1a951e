package ultrasonic

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rovercore/internal/gpio"
)

type fakeClock struct {
	now   time.Time
	step  time.Duration
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0), step: 10 * time.Microsecond}
}

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
}

// echoPulse answers reads with low lows, then high highs, then low forever.
func echoPulse(lows, highs int) func() bool {
	n := 0
	return func() bool {
		n++
		return n > lows && n <= lows+highs
	}
}

type fixedThermal struct {
	k   float64
	err error
}

func (f fixedThermal) TemperatureK() (float64, error) { return f.k, f.err }

const (
	trigPin = 23
	echoPin = 24
)

func twoPinConfig() Config {
	cfg := DefaultConfig()
	cfg.TriggerPin = trigPin
	cfg.EchoPin = echoPin
	return cfg
}

func newTestSensor(t *testing.T, cfg Config, opts ...Option) (*Sensor, *gpio.Sim, *fakeClock) {
	t.Helper()
	sim := gpio.NewSim()
	clk := newFakeClock()
	s, err := New(sim, cfg, append([]Option{WithClock(clk)}, opts...)...)
	require.NoError(t, err)
	return s, sim, clk
}

func TestSpeedOfSoundDryAir(t *testing.T) {
	assert.Equal(t, 331.371, SpeedOfSoundDryAir(273.15))
	assert.Equal(t, 346.204, SpeedOfSoundDryAir(298.15))
	assert.Equal(t, 354.806, SpeedOfSoundDryAir(313.15))
}

func TestNew_ConfigErrorsClaimNothing(t *testing.T) {
	cases := map[string]func(*Config){
		"zero min":     func(c *Config) { c.MinDistanceCM = 0 },
		"negative min": func(c *Config) { c.MinDistanceCM = -1 },
		"max below":    func(c *Config) { c.MaxDistanceCM = 1 },
		"bad echo":     func(c *Config) { c.EchoPin = -3 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			sim := gpio.NewSim()
			cfg := twoPinConfig()
			mutate(&cfg)

			_, err := New(sim, cfg, WithClock(newFakeClock()))

			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.False(t, sim.Claimed(trigPin))
			assert.False(t, sim.Claimed(echoPin))
			assert.Empty(t, sim.Events())
		})
	}
}

func TestNew_ClaimsAndSettles(t *testing.T) {
	s, sim, clk := newTestSensor(t, twoPinConfig())

	assert.Equal(t, gpio.ModeOutput, sim.Mode(trigPin))
	assert.False(t, sim.Level(trigPin))
	assert.Equal(t, gpio.ModeInput, sim.Mode(echoPin))
	assert.Equal(t, []time.Duration{DefaultSettleTime}, clk.slept)
	require.NoError(t, s.Close())
}

func TestNew_EchoClaimFailureReleasesTrigger(t *testing.T) {
	sim := gpio.NewSim()
	held, err := sim.Open(echoPin, gpio.ModeInput)
	require.NoError(t, err)
	defer held.Close()

	_, err = New(sim, twoPinConfig(), WithClock(newFakeClock()))

	assert.ErrorIs(t, err, gpio.ErrBusy)
	assert.False(t, sim.Claimed(trigPin))
}

func TestMeasure_Detected(t *testing.T) {
	s, sim, _ := newTestSensor(t, twoPinConfig())
	// 579 high reads give 578 timed polls of 10µs: 5.78 ms round trip.
	sim.SetInput(echoPin, echoPulse(20, 579))

	r := s.Measure(3)

	require.NoError(t, r.Err)
	assert.Equal(t, Detected, r.Kind)
	d, ok := r.Distance()
	assert.True(t, ok)
	assert.InDelta(t, 100.0, d, 1e-9)
	assert.Equal(t, DefaultSpeedOfSound, r.SpeedOfSound)
	assert.Equal(t, DefaultTemperatureK, r.TemperatureK)
}

func TestMeasure_TriggerPulse(t *testing.T) {
	s, sim, clk := newTestSensor(t, twoPinConfig())
	sim.SetInput(echoPin, echoPulse(5, 100))
	clk.slept = nil

	s.Measure(2)

	var writes []bool
	for _, ev := range sim.Events() {
		if ev.Pin == trigPin && ev.Op == "write" {
			writes = append(writes, ev.Level)
		}
	}
	require.GreaterOrEqual(t, len(writes), 2)
	assert.Equal(t, []bool{true, false}, writes[:2])
	assert.Contains(t, clk.slept, DefaultPulseWidth)
}

func TestMeasure_NeverRisesReturnsNoObjectAndRearms(t *testing.T) {
	s, sim, _ := newTestSensor(t, twoPinConfig())

	r := s.Measure(2)

	assert.Equal(t, NoObject, r.Kind)
	assert.NoError(t, r.Err)
	_, ok := r.Distance()
	assert.False(t, ok)
	assert.Equal(t, gpio.ModeOutput, sim.Mode(trigPin))
	assert.False(t, sim.Level(trigPin))
	assert.Equal(t, gpio.ModeInput, sim.Mode(echoPin))
}

func TestMeasure_NeverFallsIsBounded(t *testing.T) {
	s, sim, clk := newTestSensor(t, twoPinConfig())
	sim.SetInput(echoPin, func() bool { return true })
	begin := clk.now

	r := s.Measure(2)

	assert.Equal(t, NoObject, r.Kind)
	// deadline is pulse + 2·300 cm / 34620 cm/s ≈ 17.3 ms after the ping.
	assert.Less(t, clk.now.Sub(begin), 20*time.Millisecond)
}

func TestMeasure_StrictNoObject(t *testing.T) {
	cfg := twoPinConfig()
	cfg.Strict = true
	s, _, _ := newTestSensor(t, cfg)

	r := s.Measure(2)

	assert.Equal(t, NoObject, r.Kind)
	assert.ErrorIs(t, r.Err, ErrNoObject)
}

func TestMeasure_TooCloseIsNoObject(t *testing.T) {
	s, sim, _ := newTestSensor(t, twoPinConfig())
	// one timed poll: 10 µs round trip, about 0.17 cm
	sim.SetInput(echoPin, echoPulse(3, 2))

	r := s.Measure(2)

	assert.Equal(t, NoObject, r.Kind)
}

func TestMeasure_ReadErrorIsHardwareFault(t *testing.T) {
	s, sim, _ := newTestSensor(t, twoPinConfig())
	boom := errors.New("line gone")
	sim.SetReadError(echoPin, boom)

	r := s.Measure(2)

	assert.Equal(t, HardwareFault, r.Kind)
	assert.ErrorIs(t, r.Err, boom)
	assert.Equal(t, gpio.ModeOutput, sim.Mode(trigPin))
	assert.False(t, sim.Level(trigPin))
}

func TestMeasure_PanicIsRecoveredAndRearmed(t *testing.T) {
	s, sim, _ := newTestSensor(t, twoPinConfig())
	sim.SetInput(echoPin, func() bool { panic("driver bug") })

	var r Reading
	require.NotPanics(t, func() { r = s.Measure(2) })

	assert.Equal(t, HardwareFault, r.Kind)
	require.Error(t, r.Err)
	assert.Contains(t, r.Err.Error(), "driver bug")
	assert.Equal(t, gpio.ModeOutput, sim.Mode(trigPin))
	assert.Equal(t, gpio.ModeInput, sim.Mode(echoPin))
}

func TestMeasure_SharedPin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TriggerPin = trigPin
	s, sim, _ := newTestSensor(t, cfg)
	sim.SetInput(trigPin, echoPulse(10, 579))

	r := s.Measure(3)

	assert.Equal(t, Detected, r.Kind)
	assert.InDelta(t, 100.0, r.DistanceCM, 1e-9)
	assert.Equal(t, gpio.ModeOutput, sim.Mode(trigPin))
	assert.False(t, sim.Level(trigPin))

	var ops []string
	for _, ev := range sim.Events() {
		if ev.Op == "input" || ev.Op == "output" {
			ops = append(ops, ev.Op)
		}
	}
	assert.Equal(t, []string{"output", "input", "output"}, ops)

	require.NoError(t, s.Close())
	releases := 0
	for _, ev := range sim.Events() {
		if ev.Op == "release" {
			releases++
		}
	}
	assert.Equal(t, 1, releases)
}

func TestMeasure_ThermalCompensation(t *testing.T) {
	s, sim, _ := newTestSensor(t, twoPinConfig(), WithThermal(fixedThermal{k: 273.15}))
	sim.SetInput(echoPin, echoPulse(5, 100))

	r := s.Measure(3)

	assert.Equal(t, 273.15, r.TemperatureK)
	assert.Equal(t, 331.371, r.SpeedOfSound)
}

func TestMeasure_ThermalErrorFallsBack(t *testing.T) {
	s, sim, _ := newTestSensor(t, twoPinConfig(), WithThermal(fixedThermal{err: errors.New("i2c nak")}))
	sim.SetInput(echoPin, echoPulse(5, 100))

	r := s.Measure(3)

	assert.Equal(t, DefaultTemperatureK, r.TemperatureK)
	assert.Equal(t, DefaultSpeedOfSound, r.SpeedOfSound)
}

func TestMeasure_PingSpacing(t *testing.T) {
	s, _, clk := newTestSensor(t, twoPinConfig())
	s.Measure(2)
	clk.slept = nil

	s.Measure(2)

	require.NotEmpty(t, clk.slept)
	assert.Greater(t, clk.slept[0], 30*time.Millisecond)
	assert.LessOrEqual(t, clk.slept[0], DefaultMinPingInterval)
}

func TestMeasure_AfterClose(t *testing.T) {
	s, sim, _ := newTestSensor(t, twoPinConfig())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	r := s.Measure(2)

	assert.Equal(t, HardwareFault, r.Kind)
	assert.ErrorIs(t, r.Err, ErrClosed)
	assert.False(t, sim.Claimed(trigPin))
	assert.False(t, sim.Claimed(echoPin))
}

func TestReading_DistanceHidesNonDetections(t *testing.T) {
	_, ok := Reading{Kind: HardwareFault, DistanceCM: 12}.Distance()
	assert.False(t, ok)
}
