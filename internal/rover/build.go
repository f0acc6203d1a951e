package rover

import (
	"errors"
	"fmt"
	"log/slog"

	"rovercore/internal/config"
	"rovercore/internal/gpio"
	"rovercore/internal/i2c"
	"rovercore/internal/logging"
	"rovercore/internal/motion"
	"rovercore/internal/pca9685"
	"rovercore/internal/sensors/bmp280"
	"rovercore/internal/telemetry"
	"rovercore/internal/thermal"
	"rovercore/internal/ultrasonic"
)

var newPeriphFn = func() (gpio.Opener, error) { return gpio.NewPeriph() }

// Build assembles a Rover from a validated config. On the sim GPIO backend the
// PWM controller is simulated too and no I2C bus is opened.
func Build(cfg config.Config, log *slog.Logger) (_ *Rover, err error) {
	log = logging.OrDiscard(log)

	var undo []func() error
	defer func() {
		if err == nil {
			return
		}
		for i := len(undo) - 1; i >= 0; i-- {
			_ = undo[i]()
		}
	}()

	sim := cfg.GPIO.Backend == "sim"
	opener, err := openGPIO(cfg.GPIO)
	if err != nil {
		return nil, err
	}

	var bus *i2c.Bus
	var regs pca9685.RegisterIO = &simRegisters{}
	if !sim {
		bus, err = i2c.Open(i2c.BusPath(cfg.I2C.Bus))
		if err != nil {
			return nil, fmt.Errorf("rover: open i2c: %w", err)
		}
		undo = append(undo, bus.Close)
		dev := bus.Dev(cfg.PCA9685.Address)
		log.Info("i2c bus open", "path", bus.Path(), "pca9685_addr", fmt.Sprintf("0x%02X", dev.Addr()))
		regs = dev
	}

	pwm, err := pca9685.New(regs, pca9685.Config{
		Address:        cfg.PCA9685.Address,
		Channels:       cfg.PCA9685.Channels,
		ResolutionBits: cfg.PCA9685.ResolutionBits,
		OscillatorHz:   cfg.PCA9685.OscillatorHz,
		FrequencyHz:    cfg.PCA9685.FrequencyHz,
		Strict:         cfg.Debug,
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}
	undo = append(undo, pwm.AllOff)

	ctrl, err := buildMotion(cfg.Motion, opener, pwm, log)
	if err != nil {
		return nil, err
	}
	undo = append(undo, ctrl.Close)

	parts := Parts{PWM: pwm, Motion: ctrl}
	if cfg.Ultrasonic.Enable {
		src, err := buildThermal(cfg.Ultrasonic.Thermal, bus)
		if err != nil {
			return nil, err
		}
		u := cfg.Ultrasonic
		sensor, err := ultrasonic.New(opener, ultrasonic.Config{
			TriggerPin:      u.TriggerPin,
			EchoPin:         u.EchoPin,
			MinDistanceCM:   u.MinDistanceCM,
			MaxDistanceCM:   u.MaxDistanceCM,
			PulseWidth:      u.PulseWidth,
			SettleTime:      u.SettleTime,
			MinPingInterval: u.MinPingInterval,
			Strict:          cfg.Debug,
		}, ultrasonic.WithThermal(src), ultrasonic.WithLogger(log))
		if err != nil {
			return nil, err
		}
		undo = append(undo, sensor.Close)
		parts.Sensor = sensor
	}

	if cfg.Telemetry.Enable {
		sender, err := telemetry.NewSender(cfg.Telemetry.Dest)
		if err != nil {
			return nil, err
		}
		undo = append(undo, sender.Close)
		parts.Telemetry = sender
	}

	if bus != nil {
		parts.Closers = append(parts.Closers, bus)
	}
	return New(parts, Config{
		SignificantFigures: cfg.Ultrasonic.SignificantFigures,
		RangingInterval:    cfg.Ultrasonic.RangingInterval,
		TelemetryInterval:  cfg.Telemetry.Interval,
		Logger:             log,
	})
}

func openGPIO(cfg config.GPIOConfig) (gpio.Opener, error) {
	switch cfg.Backend {
	case "sim":
		return gpio.NewSim(), nil
	case "periph":
		o, err := newPeriphFn()
		if err != nil {
			return nil, fmt.Errorf("rover: gpio: %w", err)
		}
		return o, nil
	case "gpiocdev", "":
		return gpio.NewCDev(cfg.Consumer, cfg.Chips...), nil
	default:
		return nil, fmt.Errorf("rover: unknown gpio backend %q", cfg.Backend)
	}
}

func buildMotion(cfg config.MotionConfig, opener gpio.Opener, pwm *pca9685.Driver, log *slog.Logger) (*motion.Controller, error) {
	model, err := motion.ParseSteeringModel(cfg.SteeringModel)
	if err != nil {
		return nil, err
	}

	names, wheelCfgs := cfg.Wheels()
	var pins []gpio.Pin
	release := func() error {
		var errs []error
		for _, p := range pins {
			errs = append(errs, p.Close())
		}
		return errors.Join(errs...)
	}

	var wheels [4]motion.Wheel
	for i, w := range wheelCfgs {
		p, err := opener.Open(w.Pin, gpio.ModeOutput)
		if err != nil {
			_ = release()
			return nil, fmt.Errorf("rover: claim %s direction pin: %w", names[i], err)
		}
		pins = append(pins, p)
		wheels[i] = motion.Wheel{Pin: p, Channel: pca9685.Channel(w.Channel)}
	}

	ctrl, err := motion.New(pwm, motion.WheelSet{
		FrontLeft:  wheels[0],
		FrontRight: wheels[1],
		RearLeft:   wheels[2],
		RearRight:  wheels[3],
	}, motion.Config{Model: model, ReverseMounted: cfg.ReverseMounted, Logger: log})
	if err != nil {
		_ = release()
		return nil, err
	}
	return ctrl, nil
}

func buildThermal(cfg config.ThermalConfig, bus *i2c.Bus) (ultrasonic.ThermalSource, error) {
	var src thermal.Source
	switch cfg.Source {
	case "", "none":
		return nil, nil
	case "fixed":
		return thermal.FromCelsius(cfg.FixedC), nil
	case "cpu":
		src = thermal.Zone{Path: cfg.ZonePath, Offset: cfg.OffsetK}
	case "bmp280":
		if bus == nil {
			return nil, fmt.Errorf("rover: bmp280 thermal source needs an i2c bus")
		}
		dev, err := bmp280.New(bus.Dev(cfg.BMP280Address))
		if err != nil {
			return nil, err
		}
		src = dev
	default:
		return nil, fmt.Errorf("rover: unknown thermal source %q", cfg.Source)
	}
	if cfg.CacheTTL > 0 {
		return thermal.NewCached(src, cfg.CacheTTL, nil), nil
	}
	return src, nil
}
