package modem

import (
	"io"
	"log/slog"
	"time"

	"i4.energy/across/modemdiag/metrics"
)

const (
	defaultATTimeout    = 5 * time.Second
	defaultInitTimeout  = 15 * time.Second
	defaultPollInterval = 100 * time.Millisecond
)

// Config holds the settings used by Open. Build one with NewConfigBuilder.
type Config struct {
	dialer        Dialer
	link          Link
	atTimeout     time.Duration
	initTimeout   time.Duration
	pollInterval  time.Duration
	echoOff       bool
	verboseErrors bool
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

func (c *Config) validate() error {
	if c.dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.atTimeout <= 0 {
		c.atTimeout = defaultATTimeout
	}
	if c.initTimeout <= 0 {
		c.initTimeout = defaultInitTimeout
	}
	if c.pollInterval <= 0 {
		c.pollInterval = defaultPollInterval
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// ConfigBuilder assembles a Config step by step.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

// WithDialer sets the Dialer used to reach the modem.
func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.dialer = d
	return b
}

// WithSerialPort dials name at baud through a SerialDialer and records the
// pair as the session's Link.
func (b *ConfigBuilder) WithSerialPort(name string, baud int) *ConfigBuilder {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	b.config.dialer = SerialDialer{PortName: name, BaudRate: baud}
	b.config.link = Link{Port: name, BaudRate: baud}
	return b
}

// WithLink labels the session when a custom Dialer is used.
func (b *ConfigBuilder) WithLink(l Link) *ConfigBuilder {
	b.config.link = l
	return b
}

// WithATTimeout sets the default per-command timeout.
func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.atTimeout = d
	return b
}

// WithInitTimeout bounds the handshake performed by Open.
func (b *ConfigBuilder) WithInitTimeout(d time.Duration) *ConfigBuilder {
	b.config.initTimeout = d
	return b
}

// WithPollInterval sets the transport read timeout used between deadline
// checks.
func (b *ConfigBuilder) WithPollInterval(d time.Duration) *ConfigBuilder {
	b.config.pollInterval = d
	return b
}

// WithEchoOff sends ATE0 during the handshake.
func (b *ConfigBuilder) WithEchoOff(off bool) *ConfigBuilder {
	b.config.echoOff = off
	return b
}

// WithVerboseErrors asks the modem for textual +CME ERROR reports.
func (b *ConfigBuilder) WithVerboseErrors(on bool) *ConfigBuilder {
	b.config.verboseErrors = on
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.logger = l
	return b
}

func (b *ConfigBuilder) WithMetrics(m *metrics.Metrics) *ConfigBuilder {
	b.config.metrics = m
	return b
}

// Build validates the configuration and fills in defaults.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	c.setDefaults()
	return c, nil
}
