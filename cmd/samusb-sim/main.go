// Command samusb-sim replays scripted USB traffic against the device
// controller running on a simulated SAM D/L USB peripheral.
//
// Usage:
//
//	samusb-sim [global options] run [-c device.toml] script.yaml
//	samusb-sim [global options] regs [-c device.toml] [--live]
//	samusb-sim [global options] check device.toml [script.yaml...]
//
// Global options:
//
//	-v, --verbose      Enable verbose (debug) logging
//	--log-level level  Minimum log level: debug, info, warn, error
//	--json             Use JSON log format
//	--log-file path    Write logs to a rotated file instead of stderr
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ardnew/samusb/internal/render"
	"github.com/ardnew/samusb/internal/scenario"
	"github.com/ardnew/samusb/pkg"
)

// component identifies this executable for structured logging.
const component = pkg.ComponentScenario

// Log rotation limits for --log-file.
const (
	logMaxSizeMB  = 10
	logMaxBackups = 3
	logMaxAgeDays = 28
)

// defaultConfig is used when run or regs is given no device file: a bare
// device with endpoint 0 only.
var defaultConfig = scenario.Config{
	Name: "default",
	Endpoints: []scenario.Endpoint{
		{Number: 0, Type0: "control", Type1: "control", MaxPacketSize: 64},
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var logFile *lumberjack.Logger
	cmd := &cli.Command{
		Name:  "samusb-sim",
		Usage: "replay USB traffic against a simulated SAM D/L device controller",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "enable verbose (debug) logging"},
			&cli.StringFlag{Name: "log-level", Value: "warn", Usage: "minimum log level: debug, info, warn, error"},
			&cli.BoolFlag{Name: "json", Usage: "use JSON log format"},
			&cli.StringFlag{Name: "log-file", Usage: "write logs to a rotated file instead of stderr"},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			f, err := setupLogging(cmd)
			logFile = f
			return ctx, err
		},
		After: func(context.Context, *cli.Command) error {
			if logFile != nil {
				return logFile.Close()
			}
			return nil
		},
		Commands: []*cli.Command{
			runCommand(),
			regsCommand(),
			checkCommand(),
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		pkg.LogError(component, "samusb-sim failed", "error", err)
		fmt.Fprintln(os.Stderr, "samusb-sim:", err)
		os.Exit(1)
	}
}

// setupLogging applies the global logging flags. It returns the rotating
// file writer when --log-file is set so the caller can close it.
func setupLogging(cmd *cli.Command) (*lumberjack.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cmd.String("log-level"))); err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}
	pkg.SetLogLevel(level)

	path := cmd.String("log-file")
	if path == "" {
		if cmd.Bool("json") {
			pkg.SetLogFormat(pkg.LogFormatJSON)
		}
		return nil, nil
	}

	f := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    logMaxSizeMB,
		MaxBackups: logMaxBackups,
		MaxAge:     logMaxAgeDays,
		Compress:   true,
	}
	var w io.Writer = f
	if cmd.Bool("json") {
		pkg.SetLogger(pkg.NewJSONLogger(w, nil))
	} else {
		pkg.SetLogger(pkg.NewLogger(w, nil))
	}
	return f, nil
}

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "device description (TOML)",
}

func loadConfig(cmd *cli.Command) (scenario.Config, error) {
	path := cmd.String("config")
	if path == "" {
		return defaultConfig, nil
	}
	return scenario.LoadConfig(path)
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "replay a script and print the event log and bank table",
		ArgsUsage: "script.yaml",
		Flags: []cli.Flag{
			configFlag,
			&cli.BoolFlag{Name: "registers", Aliases: []string{"r"}, Usage: "also dump the final register values"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("run: expected one script, got %d arguments", cmd.Args().Len())
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			script, err := scenario.LoadScript(cmd.Args().First())
			if err != nil {
				return err
			}
			return run(ctx, render.New(os.Stdout), cfg, script, cmd.Bool("registers"))
		},
	}
}

// run replays script and prints what happened, including after a failed
// step. The step failure is returned.
func run(ctx context.Context, p *render.Printer, cfg scenario.Config, script scenario.Script, registers bool) error {
	r, err := scenario.New(cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	pkg.LogInfo(component, "running script", "script", script.Name, "device", cfg.Name, "steps", len(script.Steps))
	runErr := r.Run(ctx, script)

	name := script.Name
	if name == "" {
		name = cfg.Name
	}
	err = errors.Join(
		p.Events(r.Events()),
		p.Endpoints(r.Endpoints()),
	)
	if registers {
		err = errors.Join(err, p.Registers(r.Registers()))
	}
	err = errors.Join(err, p.Summary(name, r.Controller().Device(), runErr))
	if err != nil {
		return err
	}
	return runErr
}

func regsCommand() *cli.Command {
	return &cli.Command{
		Name:  "regs",
		Usage: "print the register map, or live values with --live",
		Flags: []cli.Flag{
			configFlag,
			&cli.BoolFlag{Name: "live", Usage: "bring the device up and dump register values"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			p := render.New(os.Stdout)
			if !cmd.Bool("live") {
				n := cfg.MaxEndpoints
				if n == 0 {
					n = 1
				}
				return p.Layout(n)
			}
			r, err := scenario.New(cfg)
			if err != nil {
				return err
			}
			defer r.Close()
			if err := r.Start(ctx); err != nil {
				return err
			}
			return p.Registers(r.Registers())
		},
	}
}

func checkCommand() *cli.Command {
	return &cli.Command{
		Name:      "check",
		Usage:     "validate a device description and any scripts",
		ArgsUsage: "device.toml [script.yaml...]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			args := cmd.Args().Slice()
			if len(args) == 0 {
				return errors.New("check: missing device description")
			}
			return check(ctx, os.Stdout, args[0], args[1:])
		},
	}
}

// check validates the files and configures the device once, so endpoint
// errors only the controller detects are reported too.
func check(ctx context.Context, w io.Writer, config string, scripts []string) error {
	cfg, err := scenario.LoadConfig(config)
	if err != nil {
		return fmt.Errorf("%s: %w", config, err)
	}
	r, err := scenario.New(cfg)
	if err != nil {
		return fmt.Errorf("%s: %w", config, err)
	}
	defer r.Close()
	if err := r.Start(ctx); err != nil {
		return fmt.Errorf("%s: %w", config, err)
	}
	fmt.Fprintf(w, "%s: ok (%d endpoints)\n", config, len(cfg.Endpoints))

	for _, path := range scripts {
		s, err := scenario.LoadScript(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Fprintf(w, "%s: ok (%d steps)\n", path, len(s.Steps))
	}
	return nil
}
