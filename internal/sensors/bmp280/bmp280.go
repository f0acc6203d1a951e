package bmp280

import (
	"encoding/binary"
	"fmt"
	"time"

	"rovercore/internal/i2c"
)

var sleep = time.Sleep

// Temperature-only BMP280 driver, used for speed-of-sound compensation.
// Pressure oversampling is left off (osrs_p=000), so the pressure registers
// read as the reset value.

const (
	addrDefault = 0x77

	regID        = 0xD0
	chipIDBMP280 = 0x58

	regReset = 0xE0
	resetCmd = 0xB6

	regCalib00 = 0x88
	calibLen   = 6 // dig_T1..dig_T3

	regCtrlMeas = 0xF4
	regConfig   = 0xF5
	regTempMsb  = 0xFA

	celsiusOffsetK = 273.15
)

type Device struct {
	dev regIO

	digT1 uint16
	digT2 int16
	digT3 int16
}

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

func DefaultAddress() uint16 { return addrDefault }

func New(dev *i2c.Dev) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("bmp280: dev is nil")
	}
	return newWithIO(dev)
}

func newWithIO(dev regIO) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("bmp280: dev is nil")
	}
	d := &Device{dev: dev}

	id, err := d.dev.ReadRegU8(regID)
	if err != nil {
		return nil, fmt.Errorf("bmp280: id read failed: %w", err)
	}
	if id != chipIDBMP280 {
		return nil, fmt.Errorf("bmp280: chip id=0x%02X want 0x%02X", id, chipIDBMP280)
	}

	// NVM coefficients are copied a few ms after reset; reading earlier
	// returns zeros.
	_ = d.dev.WriteReg(regReset, resetCmd)
	sleep(5 * time.Millisecond)

	var calibErr error
	for i := 0; i < 3; i++ {
		calibErr = d.readCalibration()
		if calibErr == nil && d.digT1 != 0 {
			break
		}
		if calibErr == nil {
			calibErr = fmt.Errorf("bmp280: calibration invalid (digT1=%d)", d.digT1)
		}
		sleep(5 * time.Millisecond)
	}
	if calibErr != nil {
		return nil, calibErr
	}

	// standby 0.5ms, IIR filter off
	_ = d.dev.WriteReg(regConfig, 0x00)

	// osrs_t = x2 (010), osrs_p = skipped (000), mode = normal (11)
	ctrl := byte(0x02<<5) | 0x03
	if err := d.dev.WriteReg(regCtrlMeas, ctrl); err != nil {
		return nil, fmt.Errorf("bmp280: ctrl_meas write failed: %w", err)
	}
	return d, nil
}

func (d *Device) readCalibration() error {
	buf := make([]byte, calibLen)
	if err := d.dev.ReadReg(regCalib00, buf); err != nil {
		return fmt.Errorf("bmp280: read calib failed: %w", err)
	}
	d.digT1 = binary.LittleEndian.Uint16(buf[0:2])
	d.digT2 = int16(binary.LittleEndian.Uint16(buf[2:4]))
	d.digT3 = int16(binary.LittleEndian.Uint16(buf[4:6]))
	return nil
}

// TemperatureC returns the compensated temperature in degrees Celsius.
func (d *Device) TemperatureC() (float64, error) {
	buf := make([]byte, 3)
	if err := d.dev.ReadReg(regTempMsb, buf); err != nil {
		return 0, fmt.Errorf("bmp280: read temperature failed: %w", err)
	}
	adcT := int32(buf[0])<<12 | int32(buf[1])<<4 | int32(buf[2])>>4
	return d.compensateTemp(adcT), nil
}

// TemperatureK returns the compensated temperature in Kelvin.
func (d *Device) TemperatureK() (float64, error) {
	c, err := d.TemperatureC()
	if err != nil {
		return 0, err
	}
	return c + celsiusOffsetK, nil
}

// compensateTemp is the datasheet's floating point formula.
func (d *Device) compensateTemp(adcT int32) float64 {
	var1 := (float64(adcT)/16384.0 - float64(d.digT1)/1024.0) * float64(d.digT2)
	var2 := float64(adcT)/131072.0 - float64(d.digT1)/8192.0
	var2 = var2 * var2 * float64(d.digT3)
	return (var1 + var2) / 5120.0
}
