package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"i4.energy/across/modemdiag/port"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the HTTP API listens on (e.g. "0.0.0.0:8080")
	BindAddress string `yaml:"bind_address"`
	// Port is the modem's serial endpoint. Empty means auto-detect.
	Port string `yaml:"port"`
	// BaudRate is the line speed. Zero means auto-detect.
	BaudRate int `yaml:"baud_rate"`
	// SkipPorts lists endpoints never probed, by path or base name
	SkipPorts []string `yaml:"skip_ports"`
	// Workers bounds concurrent probes during auto-detection
	Workers int `yaml:"workers"`
	// Exhaust makes auto-detection probe every endpoint instead of stopping
	// at the first modem found
	Exhaust bool `yaml:"exhaust"`
	// QuickTimeout and SlowTimeout are the probe timeouts of the two scan
	// phases
	QuickTimeout time.Duration `yaml:"quick_timeout"`
	SlowTimeout  time.Duration `yaml:"slow_timeout"`
	// ATTimeout is the default time a command may take
	ATTimeout time.Duration `yaml:"at_timeout"`
	// CommandPause is waited between the commands of a diagnostic run
	CommandPause time.Duration `yaml:"command_pause"`
	// Verbose forces debug logging
	Verbose bool `yaml:"verbose"`
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string `yaml:"log_level"`
	// MetricsFile, when set, receives the collected metrics in the
	// Prometheus text format on exit
	MetricsFile string `yaml:"metrics_file"`
	// StopModemManager pauses ModemManager.service while the modem is in use
	StopModemManager bool `yaml:"stop_modemmanager"`
	// ReportDir is where the diagnose command exports reports
	ReportDir string `yaml:"report_dir"`
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, config.validate()
}

func (c *Config) validate() error {
	if c.BaudRate < 0 {
		return fmt.Errorf("baud rate must not be negative, got %d", c.BaudRate)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	return nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.Workers = 1
		c.ATTimeout = 5 * time.Second
		c.CommandPause = 200 * time.Millisecond
		c.LogLevel = "info"
		c.ReportDir = "."
		return nil
	}
}

// WithFile loads configuration from a YAML file. A missing file is not an
// error when optional is set.
func WithFile(path string, optional bool) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if optional && errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if p := os.Getenv("MODEMDIAG_PORT"); p != "" {
			c.Port = p
		}

		if baud := os.Getenv("MODEMDIAG_BAUD_RATE"); baud != "" {
			b, err := strconv.Atoi(baud)
			if err != nil {
				return fmt.Errorf("MODEMDIAG_BAUD_RATE: %w", err)
			}
			c.BaudRate = b
		}

		if skip := os.Getenv("MODEMDIAG_SKIP_PORTS"); skip != "" {
			c.SkipPorts = append(c.SkipPorts, port.ParseDenylist(skip)...)
		}

		if debug := os.Getenv("MODEMDIAG_DEBUG"); debug != "" {
			c.Verbose = truthy(debug)
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		return nil
	}
}

// WithOptions applies the command-line options the user actually set
func WithOptions(o *Options, isSet func(long string) bool) ConfigOption {
	return func(c *Config) error {
		if isSet("bind-address") {
			c.BindAddress = o.BindAddress
		}
		if isSet("port") {
			c.Port = o.Port
		}
		if isSet("baud-rate") {
			c.BaudRate = o.BaudRate
		}
		if isSet("skip-ports") {
			c.SkipPorts = append(c.SkipPorts, port.ParseDenylist(o.SkipPorts)...)
		}
		if isSet("workers") {
			c.Workers = o.Workers
		}
		if isSet("exhaust") {
			c.Exhaust = o.Exhaust
		}
		if isSet("verbose") {
			c.Verbose = o.Verbose
		}
		if isSet("log-level") {
			c.LogLevel = o.LogLevel
		}
		if isSet("metrics-file") {
			c.MetricsFile = o.MetricsFile
		}
		if isSet("stop-modemmanager") {
			c.StopModemManager = o.StopModemManager
		}
		return nil
	}
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
