package pca9685

import (
	"fmt"
	"math"
)

// Register map (PCA9685 datasheet 7.3).
const (
	RegMode1      = 0x00
	RegMode2      = 0x01
	RegSubAdr1    = 0x02
	RegSubAdr2    = 0x03
	RegSubAdr3    = 0x04
	RegLED0OnL    = 0x06
	RegAllLEDOnL  = 0xFA
	RegAllLEDOnH  = 0xFB
	RegAllLEDOffL = 0xFC
	RegAllLEDOffH = 0xFD
	RegPrescale   = 0xFE
)

// MODE1 bits.
const (
	Mode1AllCall = 0x01
	Mode1Sleep   = 0x10
	Mode1AutoInc = 0x20
	Mode1Restart = 0x80
)

const (
	// CounterSteps is the width of the internal PWM counter. The prescale and
	// servo arithmetic use it regardless of the configured output resolution.
	CounterSteps = 4096

	// fullOff is bit 4 of an LEDn_OFF_H register.
	fullOff = 0x10

	registersPerChannel = 4

	prescaleMin = 3
	prescaleMax = 255
)

// Channel is an output index on the controller.
type Channel uint8

// Registers holds the four registers that make up one channel's on/off steps.
type Registers struct {
	OnL, OnH, OffL, OffH byte
}

// ChannelRegisters returns the register block for ch. It does not check ch
// against a channel count; the driver does that.
func ChannelRegisters(ch Channel) Registers {
	base := byte(RegLED0OnL + registersPerChannel*int(ch))
	return Registers{OnL: base, OnH: base + 1, OffL: base + 2, OffH: base + 3}
}

// Split16 splits v into its low and high bytes.
func Split16(v uint16) (lo, hi byte) {
	return byte(v & 0xFF), byte(v >> 8)
}

// Join16 is the inverse of Split16.
func Join16(lo, hi byte) uint16 {
	return uint16(lo) | uint16(hi)<<8
}

// Prescale computes the PRE_SCALE register value for an output frequency:
// round(osc / 4096 / freq) - 1.
func Prescale(oscHz, freqHz float64) (byte, error) {
	if oscHz <= 0 {
		return 0, fmt.Errorf("pca9685: oscillator %v Hz must be > 0", oscHz)
	}
	if freqHz <= 0 || math.IsNaN(freqHz) || math.IsInf(freqHz, 0) {
		return 0, fmt.Errorf("pca9685: frequency %v Hz must be > 0", freqHz)
	}
	v := math.Floor(oscHz/CounterSteps/freqHz - 1 + 0.5)
	if v < prescaleMin || v > prescaleMax {
		return 0, fmt.Errorf("pca9685: frequency %v Hz out of range (prescale %v not in [%d,%d])", freqHz, v, prescaleMin, prescaleMax)
	}
	return byte(v), nil
}
