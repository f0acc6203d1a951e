package pca9685

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type regWrite struct {
	reg byte
	val byte
}

type fakeRegs struct {
	regs    map[byte]byte
	writes  []regWrite
	failReg int // -1 disables
	err     error
}

func newFakeRegs() *fakeRegs {
	return &fakeRegs{regs: map[byte]byte{RegMode1: Mode1AllCall}, failReg: -1}
}

func (f *fakeRegs) ReadRegU8(reg byte) (byte, error) {
	if f.err != nil && int(reg) == f.failReg {
		return 0, f.err
	}
	return f.regs[reg], nil
}

func (f *fakeRegs) WriteReg(reg, value byte) error {
	if f.err != nil && int(reg) == f.failReg {
		return f.err
	}
	f.writes = append(f.writes, regWrite{reg, value})
	f.regs[reg] = value
	return nil
}

func stubSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var slept []time.Duration
	old := sleep
	sleep = func(d time.Duration) { slept = append(slept, d) }
	t.Cleanup(func() { sleep = old })
	return &slept
}

func newTestDriver(t *testing.T, cfg Config) (*Driver, *fakeRegs) {
	t.Helper()
	stubSleep(t)
	f := newFakeRegs()
	d, err := New(f, cfg)
	require.NoError(t, err)
	f.writes = nil
	return d, f
}

func TestNew_ProgramsFrequencyInOrder(t *testing.T) {
	slept := stubSleep(t)
	f := newFakeRegs()

	d, err := New(f, Config{})
	require.NoError(t, err)

	want := []regWrite{
		{RegMode1, Mode1AllCall | Mode1Sleep},
		{RegPrescale, 121},
		{RegMode1, Mode1AllCall},
		{RegMode1, Mode1AllCall | Mode1Restart},
	}
	assert.Equal(t, want, f.writes)
	assert.Equal(t, []time.Duration{5 * time.Millisecond}, *slept)
	assert.Equal(t, 50.0, d.Frequency())
	assert.Equal(t, uint16(4095), d.MaxBits())
	assert.Equal(t, 16, d.Channels())
}

func TestConfigureFrequency_ClearsRestartBitWhileSleeping(t *testing.T) {
	d, f := newTestDriver(t, Config{})
	f.regs[RegMode1] = Mode1Restart | Mode1AutoInc

	require.NoError(t, d.ConfigureFrequency(60))
	require.Len(t, f.writes, 4)
	assert.Equal(t, regWrite{RegMode1, Mode1AutoInc | Mode1Sleep}, f.writes[0])
	assert.Equal(t, regWrite{RegPrescale, 101}, f.writes[1])
	assert.Equal(t, regWrite{RegMode1, Mode1Restart | Mode1AutoInc}, f.writes[2])
	assert.Equal(t, regWrite{RegMode1, Mode1Restart | Mode1AutoInc}, f.writes[3])
	assert.Equal(t, 60.0, d.Frequency())
}

func TestConfigureFrequency_TransportErrorAborts(t *testing.T) {
	d, f := newTestDriver(t, Config{})
	boom := errors.New("bus fault")
	f.failReg = RegPrescale
	f.err = boom

	err := d.ConfigureFrequency(100)
	require.ErrorIs(t, err, boom)
	// Only the sleep write happened before the failure.
	assert.Equal(t, []regWrite{{RegMode1, Mode1AllCall | Mode1Sleep}}, f.writes)
	assert.Equal(t, 50.0, d.Frequency())
}

func TestNew_RejectsBadConfig(t *testing.T) {
	stubSleep(t)
	var ce *ConfigError

	_, err := New(newFakeRegs(), Config{Channels: 17})
	assert.ErrorAs(t, err, &ce)

	_, err = New(newFakeRegs(), Config{ResolutionBits: 13})
	assert.ErrorAs(t, err, &ce)

	_, err = New(nil, Config{})
	assert.Error(t, err)
}

func TestBoundDuty(t *testing.T) {
	d, _ := newTestDriver(t, Config{})

	for _, v := range []int{0, 1, 100, 4094, 4095, 4096, 100000, -1, -4095, -5000} {
		got, err := d.BoundDuty(v)
		require.NoError(t, err)
		assert.LessOrEqual(t, got, d.MaxBits())
	}
	for _, v := range []int{0, 7, 2048, 4095, 9000} {
		pos, _ := d.BoundDuty(v)
		neg, _ := d.BoundDuty(-v)
		assert.Equal(t, pos, neg, "v=%d", v)
	}

	got, _ := d.BoundDuty(4095)
	assert.Equal(t, uint16(4095), got)
	got, _ = d.BoundDuty(4096)
	assert.Equal(t, uint16(4095), got)
}

func TestBoundDuty_Strict(t *testing.T) {
	d, _ := newTestDriver(t, Config{Strict: true})
	var re *RangeError

	got, err := d.BoundDuty(4096)
	require.ErrorAs(t, err, &re)
	assert.Equal(t, uint16(4095), got)
	assert.Equal(t, 4096, re.Value)

	got, err = d.BoundDuty(-10)
	require.ErrorAs(t, err, &re)
	assert.Equal(t, uint16(10), got)

	got, err = d.BoundDuty(4095)
	require.NoError(t, err)
	assert.Equal(t, uint16(4095), got)
}

func TestBoundDuty_LowResolution(t *testing.T) {
	d, _ := newTestDriver(t, Config{ResolutionBits: 8})
	got, _ := d.BoundDuty(1000)
	assert.Equal(t, uint16(255), got)
}

func TestSetChannelPWM_WriteOrder(t *testing.T) {
	d, f := newTestDriver(t, Config{})

	require.NoError(t, d.SetChannelPWM(2, 0x0123, 0x0045))
	want := []regWrite{
		{0x0E, 0x45},
		{0x0F, 0x00},
		{0x10, 0x23},
		{0x11, 0x01},
	}
	assert.Equal(t, want, f.writes)
}

func TestSetChannelPWM_InvalidChannel(t *testing.T) {
	d, f := newTestDriver(t, Config{Channels: 8})

	err := d.SetChannelPWM(8, 100, 0)
	assert.ErrorIs(t, err, ErrInvalidChannel)
	assert.Empty(t, f.writes)
}

func TestSetMotorDuty(t *testing.T) {
	d, f := newTestDriver(t, Config{})

	require.NoError(t, d.SetMotorDuty(1, 4095))
	want := []regWrite{
		{0x0A, 0x00},
		{0x0B, 0x00},
		{0x0C, 0xFF},
		{0x0D, 0x0F},
	}
	assert.Equal(t, want, f.writes)
}

func TestSetServoPulse(t *testing.T) {
	d, f := newTestDriver(t, Config{})

	// 1500us * 4096 / 20000 = 307
	require.NoError(t, d.SetServoPulse(0, 1500))
	off := Join16(f.regs[0x08], f.regs[0x09])
	assert.Equal(t, uint16(307), off)

	// A full-period pulse would be 4096 steps, which is the full-off bit.
	require.NoError(t, d.SetServoPulse(0, 20000))
	assert.Equal(t, byte(0xFF), f.regs[0x08])
	assert.Equal(t, byte(0x0F), f.regs[0x09])

	// Pulses longer than the period saturate below the full-off bit.
	require.NoError(t, d.SetServoPulse(0, 30000))
	off = Join16(f.regs[0x08], f.regs[0x09])
	assert.Equal(t, uint16(4095), off)
}

func TestAllOff(t *testing.T) {
	d, f := newTestDriver(t, Config{})

	require.NoError(t, d.Close())
	assert.Equal(t, []regWrite{{RegAllLEDOffL, 0}, {RegAllLEDOffH, 0x10}}, f.writes)
}
