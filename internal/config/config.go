package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"rovercore/internal/logging"
	"rovercore/internal/sensors/bmp280"
)

type Config struct {
	// Debug turns on strict range checking and debug logging.
	Debug bool `yaml:"debug"`

	I2C        I2CConfig        `yaml:"i2c"`
	PCA9685    PCA9685Config    `yaml:"pca9685"`
	GPIO       GPIOConfig       `yaml:"gpio"`
	Motion     MotionConfig     `yaml:"motion"`
	Ultrasonic UltrasonicConfig `yaml:"ultrasonic"`
	Logging    logging.Config   `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

type I2CConfig struct {
	Bus int `yaml:"bus"`
}

type PCA9685Config struct {
	Address        uint16  `yaml:"address"`
	Channels       int     `yaml:"channels"`
	ResolutionBits int     `yaml:"resolution_bits"`
	OscillatorHz   float64 `yaml:"oscillator_hz"`
	FrequencyHz    float64 `yaml:"frequency_hz"`
}

type GPIOConfig struct {
	// Backend is gpiocdev, periph or sim.
	Backend  string   `yaml:"backend"`
	Chips    []string `yaml:"chips"`
	Consumer string   `yaml:"consumer"`
}

type WheelConfig struct {
	Pin     int `yaml:"pin"`
	Channel int `yaml:"channel"`
}

type MotionConfig struct {
	SteeringModel  string        `yaml:"steering_model"`
	ReverseMounted bool          `yaml:"reverse_mounted"`
	FrontLeft      WheelConfig   `yaml:"front_left"`
	FrontRight     WheelConfig   `yaml:"front_right"`
	RearLeft       WheelConfig   `yaml:"rear_left"`
	RearRight      WheelConfig   `yaml:"rear_right"`
	DemoStep       time.Duration `yaml:"demo_step"`
}

// Wheels returns the wheel configs in FL, FR, RL, RR order with their keys.
func (m MotionConfig) Wheels() ([4]string, [4]WheelConfig) {
	return [4]string{"front_left", "front_right", "rear_left", "rear_right"},
		[4]WheelConfig{m.FrontLeft, m.FrontRight, m.RearLeft, m.RearRight}
}

type UltrasonicConfig struct {
	Enable             bool          `yaml:"enable"`
	TriggerPin         int           `yaml:"trigger_pin"`
	EchoPin            int           `yaml:"echo_pin"`
	MinDistanceCM      float64       `yaml:"min_distance_cm"`
	MaxDistanceCM      float64       `yaml:"max_distance_cm"`
	PulseWidth         time.Duration `yaml:"pulse_width"`
	SettleTime         time.Duration `yaml:"settle_time"`
	MinPingInterval    time.Duration `yaml:"min_ping_interval"`
	SignificantFigures int           `yaml:"significant_figures"`
	// RangingInterval is the period of the background ranging loop; 0 disables it.
	RangingInterval time.Duration `yaml:"ranging_interval"`
	Thermal         ThermalConfig `yaml:"thermal"`
}

type ThermalConfig struct {
	// Source is none, fixed, cpu or bmp280.
	Source        string        `yaml:"source"`
	FixedC        float64       `yaml:"fixed_c"`
	ZonePath      string        `yaml:"zone_path"`
	OffsetK       float64       `yaml:"offset_k"`
	BMP280Address uint16        `yaml:"bmp280_address"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
}

type TelemetryConfig struct {
	Enable   bool          `yaml:"enable"`
	Dest     string        `yaml:"dest"`
	Interval time.Duration `yaml:"interval"`
}

// Default is a Raspberry Pi with a PCA9685 at 0x40 on bus 1, DRV8835
// direction lines on GPIO 26/5/16/6 and an HC-SR04 on GPIO18.
func Default() Config {
	return Config{
		I2C: I2CConfig{Bus: 1},
		PCA9685: PCA9685Config{
			Address:        0x40,
			Channels:       16,
			ResolutionBits: 12,
			OscillatorHz:   25_000_000,
			FrequencyHz:    50,
		},
		GPIO: GPIOConfig{Backend: "gpiocdev", Consumer: "rovercore"},
		Motion: MotionConfig{
			SteeringModel: "crab_walk",
			FrontLeft:     WheelConfig{Pin: 26, Channel: 0},
			FrontRight:    WheelConfig{Pin: 5, Channel: 1},
			RearLeft:      WheelConfig{Pin: 16, Channel: 2},
			RearRight:     WheelConfig{Pin: 6, Channel: 3},
			DemoStep:      500 * time.Millisecond,
		},
		Ultrasonic: UltrasonicConfig{
			Enable:             true,
			TriggerPin:         18,
			MinDistanceCM:      2.5,
			MaxDistanceCM:      300,
			PulseWidth:         10 * time.Microsecond,
			SettleTime:         500 * time.Millisecond,
			MinPingInterval:    60 * time.Millisecond,
			SignificantFigures: 3,
			Thermal: ThermalConfig{
				Source:        "none",
				FixedC:        25,
				BMP280Address: bmp280.DefaultAddress(),
				CacheTTL:      5 * time.Second,
			},
		},
		Logging: logging.Config{Level: "info", Format: "text", Output: "stderr"},
		Telemetry: TelemetryConfig{
			Dest:     "127.0.0.1:4010",
			Interval: time.Second,
		},
	}
}

// Load reads path over Default, applies ROVER_* overrides and validates.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := ApplyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := Validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps ROVER_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("ROVER_DEBUG"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ROVER_DEBUG: %w", err)
		}
		cfg.Debug = b
	}
	if v := os.Getenv("ROVER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ROVER_I2C_BUS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ROVER_I2C_BUS: %w", err)
		}
		cfg.I2C.Bus = n
	}
	if v := os.Getenv("ROVER_GPIO_BACKEND"); v != "" {
		cfg.GPIO.Backend = v
	}
	return nil
}

// Validate fills derived defaults and rejects unusable values.
func Validate(cfg *Config) error {
	if cfg.Debug {
		cfg.Logging.Level = "debug"
	}
	if cfg.I2C.Bus < 0 {
		return fmt.Errorf("i2c.bus must be >= 0")
	}

	p := cfg.PCA9685
	if p.Address < 0x03 || p.Address > 0x77 {
		return fmt.Errorf("pca9685.address must be a 7-bit address, got 0x%02X", p.Address)
	}
	if p.Channels < 1 || p.Channels > 16 {
		return fmt.Errorf("pca9685.channels must be 1..16")
	}
	if p.ResolutionBits < 1 || p.ResolutionBits > 12 {
		return fmt.Errorf("pca9685.resolution_bits must be 1..12")
	}
	if p.OscillatorHz <= 0 {
		return fmt.Errorf("pca9685.oscillator_hz must be > 0")
	}
	if p.FrequencyHz <= 0 {
		return fmt.Errorf("pca9685.frequency_hz must be > 0")
	}

	cfg.GPIO.Backend = strings.ToLower(strings.TrimSpace(cfg.GPIO.Backend))
	switch cfg.GPIO.Backend {
	case "gpiocdev", "periph", "sim":
	default:
		return fmt.Errorf("gpio.backend must be one of gpiocdev, periph, sim")
	}

	pins := map[int]string{}
	claimPin := func(key string, pin int) error {
		if pin < 0 {
			return fmt.Errorf("%s must be >= 0", key)
		}
		if other, ok := pins[pin]; ok {
			return fmt.Errorf("%s duplicates %s (gpio%d)", key, other, pin)
		}
		pins[pin] = key
		return nil
	}

	channels := map[int]string{}
	names, wheels := cfg.Motion.Wheels()
	for i, w := range wheels {
		key := "motion." + names[i]
		if err := claimPin(key+".pin", w.Pin); err != nil {
			return err
		}
		if w.Channel < 0 || w.Channel >= p.Channels {
			return fmt.Errorf("%s.channel must be 0..%d", key, p.Channels-1)
		}
		if other, ok := channels[w.Channel]; ok {
			return fmt.Errorf("%s.channel duplicates %s", key, other)
		}
		channels[w.Channel] = key + ".channel"
	}
	if cfg.Motion.SteeringModel == "" {
		cfg.Motion.SteeringModel = "crab_walk"
	}
	if cfg.Motion.DemoStep <= 0 {
		cfg.Motion.DemoStep = 500 * time.Millisecond
	}

	u := &cfg.Ultrasonic
	if u.Enable {
		if u.MinDistanceCM <= 0 {
			return fmt.Errorf("ultrasonic.min_distance_cm must be > 0")
		}
		if u.MaxDistanceCM < u.MinDistanceCM {
			return fmt.Errorf("ultrasonic.max_distance_cm must be >= ultrasonic.min_distance_cm")
		}
		if err := claimPin("ultrasonic.trigger_pin", u.TriggerPin); err != nil {
			return err
		}
		if u.EchoPin != 0 && u.EchoPin != u.TriggerPin {
			if err := claimPin("ultrasonic.echo_pin", u.EchoPin); err != nil {
				return err
			}
		}
		if u.SignificantFigures < 0 {
			return fmt.Errorf("ultrasonic.significant_figures must be >= 0")
		}
		if u.RangingInterval < 0 {
			return fmt.Errorf("ultrasonic.ranging_interval must be >= 0")
		}
	}

	t := &u.Thermal
	t.Source = strings.ToLower(strings.TrimSpace(t.Source))
	switch t.Source {
	case "", "none":
		t.Source = "none"
	case "fixed", "cpu":
	case "bmp280":
		if t.BMP280Address == 0 {
			t.BMP280Address = bmp280.DefaultAddress()
		}
	default:
		return fmt.Errorf("ultrasonic.thermal.source must be one of none, fixed, cpu, bmp280")
	}
	if t.CacheTTL < 0 {
		return fmt.Errorf("ultrasonic.thermal.cache_ttl must be >= 0")
	}

	if cfg.Telemetry.Enable {
		if cfg.Telemetry.Dest == "" {
			return fmt.Errorf("telemetry.dest is required when telemetry.enable is true")
		}
		if cfg.Telemetry.Interval <= 0 {
			cfg.Telemetry.Interval = time.Second
		}
	}
	return nil
}
