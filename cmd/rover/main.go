package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rovercore/internal/config"
	"rovercore/internal/logging"
	"rovercore/internal/motion"
	"rovercore/internal/pca9685"
	"rovercore/internal/rover"
)

const usage = `usage: rover [-config path] <command> [flags]

commands:
  run     start the ranging loop and telemetry until interrupted
  demo    drive the demo sequence and stop
  move    drive one maneuver for a duration and stop
  range   take distance readings
  servo   set one servo pulse width
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatalf("rover: %v", err)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("rover", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(fs.Output(), usage) }
	configPath := fs.String("config", "", "Path to YAML config (defaults when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return flag.ErrHelp
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "run":
		return runDaemon(ctx, cfg, logger, rest)
	case "demo":
		return runDemo(ctx, cfg, logger, rest)
	case "move":
		return runMove(ctx, cfg, logger, rest)
	case "range":
		return runRange(ctx, cfg, logger, rest, stdout)
	case "servo":
		return runServo(cfg, logger, rest)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func loadConfig(path string) (config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	if err := config.ApplyEnvOverrides(&cfg); err != nil {
		return config.Config{}, err
	}
	if err := config.Validate(&cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// withRover builds the rover, runs fn and always tears the rover down.
func withRover(cfg config.Config, logger *slog.Logger, fn func(*rover.Rover) error) (err error) {
	r, err := rover.Build(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, r.Close())
	}()
	return fn(r)
}

func runDaemon(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withRover(cfg, logger, func(r *rover.Rover) error {
		logger.Info("rover starting",
			"i2c_bus", cfg.I2C.Bus,
			"gpio_backend", cfg.GPIO.Backend,
			"ranging_interval", cfg.Ultrasonic.RangingInterval,
			"telemetry", cfg.Telemetry.Enable)
		if err := r.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		logger.Info("rover stopping")
		return nil
	})
}

func runDemo(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	step := fs.Duration("step", cfg.Motion.DemoStep, "Hold time per step")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return withRover(cfg, logger, func(r *rover.Rover) error {
		err := r.RunSequence(ctx, rover.DemoSequence, *step)
		if errors.Is(err, context.Canceled) {
			logger.Info("demo interrupted")
			return nil
		}
		return err
	})
}

func runMove(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("move", flag.ContinueOnError)
	speed := fs.Int("speed", 500, "Duty magnitude; negative reverses")
	maneuver := fs.String("maneuver", "straight", "straight, turn_left, turn_right, emergency_brake")
	reverse := fs.Bool("reverse", false, "Drive in reverse")
	duration := fs.Duration("duration", time.Second, "How long to drive before stopping")
	if err := fs.Parse(args); err != nil {
		return err
	}
	m, err := motion.ParseManeuver(*maneuver)
	if err != nil {
		return err
	}
	return withRover(cfg, logger, func(r *rover.Rover) error {
		err := r.RunSequence(ctx, []rover.Step{{Speed: *speed, Maneuver: m, Reversing: *reverse}}, *duration)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}

func runRange(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("range", flag.ContinueOnError)
	count := fs.Int("count", 1, "Number of readings (0 = until interrupted)")
	interval := fs.Duration("interval", 200*time.Millisecond, "Time between readings")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !cfg.Ultrasonic.Enable {
		return fmt.Errorf("ultrasonic.enable is false")
	}
	return withRover(cfg, logger, func(r *rover.Rover) error {
		for i := 0; *count == 0 || i < *count; i++ {
			if i > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(*interval):
				}
			}
			rd, err := r.Measure()
			if err != nil {
				return err
			}
			if d, ok := rd.Distance(); ok {
				fmt.Fprintf(stdout, "%g cm (%.2f K)\n", d, rd.TemperatureK)
				continue
			}
			if rd.Err != nil {
				fmt.Fprintf(stdout, "%s: %v\n", rd.Kind, rd.Err)
				continue
			}
			fmt.Fprintf(stdout, "%s\n", rd.Kind)
		}
		return nil
	})
}

func runServo(cfg config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("servo", flag.ContinueOnError)
	channel := fs.Int("channel", -1, "PWM channel")
	pulse := fs.Uint("pulse-us", 1500, "Pulse width in microseconds")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *channel < 0 || *channel >= cfg.PCA9685.Channels {
		return fmt.Errorf("-channel must be 0..%d", cfg.PCA9685.Channels-1)
	}
	return withRover(cfg, logger, func(r *rover.Rover) error {
		return r.SetServoPulse(pca9685.Channel(*channel), uint32(*pulse))
	})
}
