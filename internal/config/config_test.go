package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"rovercore/internal/sensors/bmp280"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"ROVER_DEBUG", "ROVER_LOG_LEVEL", "ROVER_I2C_BUS", "ROVER_GPIO_BACKEND"} {
		t.Setenv(k, "")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "i2c:\n  bus: 3\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.I2C.Bus != 3 {
		t.Fatalf("bus=%d want 3", cfg.I2C.Bus)
	}
	if cfg.PCA9685.Address != 0x40 || cfg.PCA9685.FrequencyHz != 50 {
		t.Fatalf("pca9685=%+v want defaults", cfg.PCA9685)
	}
	if cfg.Ultrasonic.MinDistanceCM != 2.5 || cfg.Ultrasonic.MaxDistanceCM != 300 {
		t.Fatalf("ultrasonic bounds=%v/%v want 2.5/300", cfg.Ultrasonic.MinDistanceCM, cfg.Ultrasonic.MaxDistanceCM)
	}
	if cfg.Motion.RearRight.Pin != 6 {
		t.Fatalf("rear_right.pin=%d want 6", cfg.Motion.RearRight.Pin)
	}
	if cfg.Ultrasonic.Thermal.Source != "none" {
		t.Fatalf("thermal.source=%q want none", cfg.Ultrasonic.Thermal.Source)
	}
}

func TestLoad_Durations(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "ultrasonic:\n  pulse_width: 20us\n  ranging_interval: 250ms\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Ultrasonic.PulseWidth != 20*time.Microsecond {
		t.Fatalf("pulse_width=%s want 20µs", cfg.Ultrasonic.PulseWidth)
	}
	if cfg.Ultrasonic.RangingInterval != 250*time.Millisecond {
		t.Fatalf("ranging_interval=%s want 250ms", cfg.Ultrasonic.RangingInterval)
	}
}

func TestLoad_Validation(t *testing.T) {
	clearEnv(t)
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "ZeroMinDistance",
			yaml: "ultrasonic:\n  min_distance_cm: 0\n",
			want: "ultrasonic.min_distance_cm must be > 0",
		},
		{
			name: "MaxBelowMin",
			yaml: "ultrasonic:\n  min_distance_cm: 10\n  max_distance_cm: 5\n",
			want: "ultrasonic.max_distance_cm must be >= ultrasonic.min_distance_cm",
		},
		{
			name: "DuplicateDirectionPins",
			yaml: "motion:\n  rear_right:\n    pin: 5\n    channel: 3\n",
			want: "motion.rear_right.pin duplicates motion.front_right.pin (gpio5)",
		},
		{
			name: "TriggerCollidesWithMotor",
			yaml: "ultrasonic:\n  trigger_pin: 26\n",
			want: "ultrasonic.trigger_pin duplicates motion.front_left.pin (gpio26)",
		},
		{
			name: "DuplicateChannel",
			yaml: "motion:\n  rear_left:\n    pin: 16\n    channel: 0\n",
			want: "motion.rear_left.channel duplicates motion.front_left.channel",
		},
		{
			name: "ChannelOutOfRange",
			yaml: "pca9685:\n  channels: 4\nmotion:\n  rear_right:\n    pin: 6\n    channel: 4\n",
			want: "motion.rear_right.channel must be 0..3",
		},
		{
			name: "UnknownBackend",
			yaml: "gpio:\n  backend: sysfs\n",
			want: "gpio.backend must be one of gpiocdev, periph, sim",
		},
		{
			name: "UnknownThermal",
			yaml: "ultrasonic:\n  thermal:\n    source: ds18b20\n",
			want: "ultrasonic.thermal.source must be one of none, fixed, cpu, bmp280",
		},
		{
			name: "TelemetryNeedsDest",
			yaml: "telemetry:\n  enable: true\n  dest: ''\n",
			want: "telemetry.dest is required when telemetry.enable is true",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tc.yaml))
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestLoad_SharedEchoPinAllowed(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "ultrasonic:\n  trigger_pin: 23\n  echo_pin: 23\n")
	if _, err := Load(path); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
}

func TestLoad_DisabledUltrasonicSkipsRangeChecks(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "ultrasonic:\n  enable: false\n  min_distance_cm: 0\n")
	if _, err := Load(path); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ROVER_DEBUG", "true")
	t.Setenv("ROVER_I2C_BUS", "0")
	t.Setenv("ROVER_GPIO_BACKEND", "SIM")

	cfg, err := Load(writeTempConfig(t, "logging:\n  level: warn\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.Debug || cfg.Logging.Level != "debug" {
		t.Fatalf("debug=%v level=%q want debug forced", cfg.Debug, cfg.Logging.Level)
	}
	if cfg.I2C.Bus != 0 {
		t.Fatalf("bus=%d want 0", cfg.I2C.Bus)
	}
	if cfg.GPIO.Backend != "sim" {
		t.Fatalf("backend=%q want sim", cfg.GPIO.Backend)
	}
}

func TestLoad_EnvOverrideParseError(t *testing.T) {
	clearEnv(t)
	t.Setenv("ROVER_I2C_BUS", "one")
	if _, err := Load(writeTempConfig(t, "{}\n")); err == nil {
		t.Fatalf("expected error for ROVER_I2C_BUS=one")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDefault_Validates(t *testing.T) {
	cfg := Default()
	if err := Validate(&cfg); err != nil {
		t.Fatalf("Validate(Default()) error: %v", err)
	}
}

func TestValidate_BMP280AddressDefaults(t *testing.T) {
	if got := Default().Ultrasonic.Thermal.BMP280Address; got != bmp280.DefaultAddress() {
		t.Fatalf("default bmp280_address=0x%X want 0x%X", got, bmp280.DefaultAddress())
	}

	cfg := Default()
	cfg.Ultrasonic.Thermal.Source = "bmp280"
	cfg.Ultrasonic.Thermal.BMP280Address = 0
	if err := Validate(&cfg); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if got := cfg.Ultrasonic.Thermal.BMP280Address; got != bmp280.DefaultAddress() {
		t.Fatalf("bmp280_address=0x%X want 0x%X", got, bmp280.DefaultAddress())
	}
}
