package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"

	"i4.energy/across/modemdiag/diag"
	"i4.energy/across/modemdiag/metrics"
	"i4.energy/across/modemdiag/modem"
	"i4.energy/across/modemdiag/modemmanager"
	"i4.energy/across/modemdiag/port"
	"i4.energy/across/modemdiag/profile"
	"i4.energy/across/modemdiag/scanner"
)

// Options are the global command line options. Only the ones the user
// actually passes override the configuration file and environment.
type Options struct {
	Config           string `short:"c" long:"config" description:"YAML configuration file" value-name:"FILE" default:"/etc/modemdiag.yaml"`
	Port             string `short:"p" long:"port" description:"Serial endpoint of the modem, auto-detected when empty" value-name:"DEVICE"`
	BaudRate         int    `short:"b" long:"baud-rate" description:"Line speed, auto-detected when zero"`
	SkipPorts        string `long:"skip-ports" description:"Comma separated endpoints that are never probed" value-name:"LIST"`
	Workers          int    `long:"workers" description:"Concurrent probes during auto-detection"`
	Exhaust          bool   `long:"exhaust" description:"Probe every endpoint instead of stopping at the first modem"`
	Verbose          bool   `short:"v" long:"verbose" description:"Log at debug level"`
	LogLevel         string `long:"log-level" description:"Log level" choice:"debug" choice:"info" choice:"warn" choice:"error"`
	MetricsFile      string `long:"metrics-file" description:"Write collected metrics in the Prometheus text format on exit" value-name:"FILE"`
	StopModemManager bool   `long:"stop-modemmanager" description:"Stop ModemManager.service while the modem is in use"`
	BindAddress      string `long:"bind-address" description:"Listen address of the serve command" value-name:"ADDR"`
}

// app carries what every command needs once the options are parsed.
type app struct {
	opts   Options
	parser *flags.Parser
	ctx    context.Context
	out    io.Writer

	config   *Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	guard   *modemmanager.Guard
	session *modem.Session
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{ctx: ctx, out: os.Stdout}
	a.parser = flags.NewParser(&a.opts, flags.HelpFlag|flags.PassDoubleDash)
	a.parser.Name = "modemdiag"
	a.parser.CommandHandler = a.handle
	if err := a.addCommands(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	_, err := a.parser.Parse()
	a.shutdown()
	if err == nil {
		return
	}

	var flagsErr *flags.Error
	if errors.As(err, &flagsErr) {
		if flagsErr.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if a.logger != nil {
		a.logger.Error("Command failed", "error", err)
	} else {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(1)
}

// handle loads the configuration and logger before any command runs.
func (a *app) handle(cmd flags.Commander, args []string) error {
	if cmd == nil {
		return nil
	}
	_, service := cmd.(*serveCommand)
	if err := a.setup(service); err != nil {
		return err
	}
	return cmd.Execute(args)
}

func (a *app) setup(service bool) error {
	isSet := func(long string) bool {
		o := a.parser.FindOptionByLongName(long)
		return o != nil && o.IsSet() && !o.IsSetDefault()
	}

	config, err := LoadConfig(
		WithDefaults(),
		WithFile(a.opts.Config, !isSet("config")),
		WithEnv(),
		WithOptions(&a.opts, isSet),
	)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	a.config = config

	level := parseLevel(config.LogLevel)
	if config.Verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if service {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts))
	} else {
		a.logger = slog.New(slog.NewTextHandler(os.Stderr, handlerOpts))
	}

	a.registry = prometheus.NewRegistry()
	a.metrics = metrics.New(a.registry)
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// scan runs auto-detection over the configured endpoint, or over every
// serial endpoint of the system when none is configured.
func (a *app) scan(ctx context.Context) (*scanner.Result, error) {
	endpoints := port.List(nil)
	if a.config.Port != "" {
		endpoints = func(yield func(port.Endpoint) bool) {
			yield(port.Endpoint{Name: a.config.Port})
		}
	}

	policy := scanner.StopAtFirst
	if a.config.Exhaust {
		policy = scanner.ExhaustAll
	}

	return scanner.Scan(ctx, endpoints, scanner.Options{
		PrimaryBaud:  a.config.BaudRate,
		QuickTimeout: a.config.QuickTimeout,
		SlowTimeout:  a.config.SlowTimeout,
		Policy:       policy,
		Exclude:      a.config.SkipPorts,
		Workers:      a.config.Workers,
		Logger:       a.logger.With("component", "scanner"),
		Metrics:      a.metrics,
	})
}

// resolveLink returns the configured link when both halves are known and
// scans for one otherwise.
func (a *app) resolveLink(ctx context.Context) (modem.Link, error) {
	if a.config.Port != "" && a.config.BaudRate > 0 {
		return modem.Link{Port: a.config.Port, BaudRate: a.config.BaudRate}, nil
	}

	result, err := a.scan(ctx)
	if err != nil {
		return modem.Link{}, err
	}
	sel, err := result.Select()
	if err != nil {
		return modem.Link{}, err
	}
	if !sel.Auto {
		alternatives := make([]string, 0, len(sel.Alternatives))
		for _, c := range sel.Alternatives[1:] {
			alternatives = append(alternatives, c.Link().String())
		}
		a.logger.Info("Several modem endpoints answer, using the recommended one",
			"link", sel.Candidate.Link().String(),
			"alternatives", alternatives)
	}
	return sel.Candidate.Link(), nil
}

func (a *app) pauseModemManager(ctx context.Context) {
	if a.guard == nil {
		guard, err := modemmanager.New(ctx, a.logger)
		if err != nil {
			a.logger.Warn("ModemManager cannot be controlled, replies may be disturbed", "error", err)
			return
		}
		a.guard = guard
	}
	if _, err := a.guard.Pause(ctx); err != nil {
		a.logger.Warn("Failed to stop ModemManager", "error", err)
	}
}

// connect opens a session to the modem, detects its vendor and returns a
// runner bound to both. The session is released by shutdown.
func (a *app) connect(ctx context.Context) (*diag.Runner, *profile.Detection, error) {
	if a.config.StopModemManager {
		a.pauseModemManager(ctx)
	}

	link, err := a.resolveLink(ctx)
	if err != nil {
		return nil, nil, err
	}

	modemConfig, err := modem.NewConfigBuilder().
		WithSerialPort(link.Port, link.BaudRate).
		WithATTimeout(a.config.ATTimeout).
		WithEchoOff(true).
		WithVerboseErrors(true).
		WithLogger(a.logger.With("component", "modem")).
		WithMetrics(a.metrics).
		Build()
	if err != nil {
		return nil, nil, fmt.Errorf("create modem config: %w", err)
	}

	session, err := modem.Open(ctx, modemConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", link, err)
	}
	a.session = session

	det := profile.Detect(ctx, session, a.config.ATTimeout)
	a.logger.Info("Connected to modem", "link", link.String(), "modem", det.Description())

	return &diag.Runner{
		Executor: session,
		Link:     link,
		Profile:  det.Profile,
		Logger:   a.logger.With("component", "diag"),
		Metrics:  a.metrics,
		Pause:    a.config.CommandPause,
	}, det, nil
}

// shutdown releases the modem, restarts ModemManager if it was stopped and
// writes the metrics file. The signal context may already be canceled, so
// cleanup gets its own deadline.
func (a *app) shutdown() {
	if a.session != nil {
		if err := a.session.Close(); err != nil && !errors.Is(err, modem.ErrAlreadyClosed) {
			a.logger.Error("Failed to close modem", "error", err)
		}
	}

	if a.guard != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := a.guard.Restore(ctx); err != nil {
			a.logger.Error("Failed to restart ModemManager", "error", err)
		}
		cancel()
		a.guard.Close()
	}

	if a.config != nil && a.config.MetricsFile != "" {
		if err := metrics.WriteTextfile(a.config.MetricsFile, a.registry); err != nil {
			a.logger.Error("Failed to write metrics", "error", err, "file", a.config.MetricsFile)
		}
	}
}
