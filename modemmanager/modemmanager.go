// Package modemmanager keeps the ModemManager daemon away from a serial
// port while it is being diagnosed.
//
// ModemManager probes every new tty with AT commands of its own, which
// interleave with ours and corrupt replies. A Guard stops the systemd unit
// for the duration of the work and starts it again afterwards, but only if
// it was running to begin with.
package modemmanager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Unit is the systemd unit of the ModemManager daemon.
const Unit = "ModemManager.service"

// ErrJobFailed reports a systemd job that did not finish with "done".
var ErrJobFailed = errors.New("systemd job failed")

// unitManager is the subset of *dbus.Conn the Guard uses.
type unitManager interface {
	GetUnitPropertiesContext(ctx context.Context, unit string) (map[string]any, error)
	StopUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
	StartUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
	Close()
}

// Guard pauses and restores one systemd unit.
type Guard struct {
	mu     sync.Mutex
	conn   unitManager
	unit   string
	paused bool
	logger *slog.Logger
}

// New connects to the system instance of systemd over D-Bus.
func New(ctx context.Context, logger *slog.Logger) (*Guard, error) {
	conn, err := dbus.NewWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to systemd: %w", err)
	}
	return newGuard(conn, Unit, logger), nil
}

func newGuard(conn unitManager, unit string, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Guard{
		conn:   conn,
		unit:   unit,
		logger: logger.With(slog.String("component", "modemmanager"), slog.String("unit", unit)),
	}
}

// Active reports whether the unit is running.
func (g *Guard) Active(ctx context.Context) (bool, error) {
	props, err := g.conn.GetUnitPropertiesContext(ctx, g.unit)
	if err != nil {
		return false, fmt.Errorf("query %s: %w", g.unit, err)
	}
	state, _ := props["ActiveState"].(string)
	return state == "active" || state == "reloading", nil
}

// Pause stops the unit if it is running and reports whether it did.
// Calling Pause again before Restore is a no-op.
func (g *Guard) Pause(ctx context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.paused {
		return true, nil
	}
	active, err := g.Active(ctx)
	if err != nil || !active {
		return false, err
	}

	g.logger.Info("stopping unit")
	if err := g.run(ctx, g.conn.StopUnitContext); err != nil {
		return false, fmt.Errorf("stop %s: %w", g.unit, err)
	}
	g.paused = true
	return true, nil
}

// Restore starts the unit again if Pause stopped it.
func (g *Guard) Restore(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.paused {
		return nil
	}
	g.logger.Info("starting unit")
	if err := g.run(ctx, g.conn.StartUnitContext); err != nil {
		return fmt.Errorf("start %s: %w", g.unit, err)
	}
	g.paused = false
	return nil
}

// Paused reports whether the unit is currently held stopped by g.
func (g *Guard) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Close releases the D-Bus connection. It does not restore the unit.
func (g *Guard) Close() {
	g.conn.Close()
}

type jobFunc func(ctx context.Context, name, mode string, ch chan<- string) (int, error)

func (g *Guard) run(ctx context.Context, job jobFunc) error {
	done := make(chan string, 1)
	if _, err := job(ctx, g.unit, "replace", done); err != nil {
		return err
	}
	select {
	case result := <-done:
		if result != "done" {
			return fmt.Errorf("%w: %s", ErrJobFailed, result)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
