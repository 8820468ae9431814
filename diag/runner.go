package diag

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"i4.energy/across/modemdiag/metrics"
	"i4.energy/across/modemdiag/modem"
	"i4.energy/across/modemdiag/parse"
	"i4.energy/across/modemdiag/profile"
)

// Runner executes command sets on one modem. The profile is fixed for the
// lifetime of the Runner; commands run strictly one after another.
type Runner struct {
	Executor modem.Executor
	Link     modem.Link
	Profile  *profile.Profile
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	// Pause is waited between commands of a set. Some modems drop a
	// command that arrives right after the previous final result.
	Pause time.Duration
}

func (r *Runner) profile() *profile.Profile {
	if r.Profile == nil {
		return profile.Generic
	}
	return r.Profile
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r.Logger
}

// Exec runs a single command and decodes its reply with the decoder the
// command string selects.
func (r *Runner) Exec(ctx context.Context, c profile.Command) *CommandResult {
	res := r.Executor.Execute(ctx, c.Command, c.Timeout)
	out := &CommandResult{Result: res, Label: c.Label, Parser: c.Key()}

	data := res.Data()
	if len(data) == 0 {
		return out
	}
	out.Fields, out.ParseErr = parse.Decode(out.Parser, data)
	r.Metrics.ObserveDecode(out.Parser, out.ParseErr == nil)
	if out.ParseErr != nil {
		r.logger().Debug("reply not decoded",
			slog.String("command", c.Command),
			slog.String("parser", out.Parser),
			slog.Any("error", out.ParseErr))
	}
	return out
}

// RunSet runs cmds in order. A failing command is recorded and the set
// continues; cancellation of ctx stops it after the current command.
func (r *Runner) RunSet(ctx context.Context, cmds []profile.Command) []*CommandResult {
	out := make([]*CommandResult, 0, len(cmds))
	for i, c := range cmds {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && r.Pause > 0 {
			select {
			case <-ctx.Done():
				return out
			case <-time.After(r.Pause):
			}
		}
		res := r.Exec(ctx, c)
		if !res.Success() {
			r.logger().Warn("command failed",
				slog.String("command", c.Command),
				slog.String("status", res.Status.String()),
				slog.Any("error", res.Err))
		}
		out = append(out, res)
	}
	return out
}

// Run performs a full diagnostic pass: the baseline set followed by the
// vendor extras of the detected profile. A nil detection runs the baseline
// alone.
func (r *Runner) Run(ctx context.Context, name string, det *profile.Detection) *Record {
	run := *r
	if det != nil && det.Profile != nil {
		run.Profile = det.Profile
	}
	rec := &Record{
		ID:        uuid.New(),
		Name:      name,
		Link:      r.Link,
		Detection: det,
		Started:   time.Now(),
	}

	log := run.logger().With(slog.String("record", rec.ID.String()))
	log.Info("diagnostic run started",
		slog.String("modem", det.Description()),
		slog.String("link", r.Link.String()))

	rec.Results = run.RunSet(ctx, Commands(run.profile()))
	rec.Finished = time.Now()

	log.Info("diagnostic run finished",
		slog.Int("commands", len(rec.Results)),
		slog.Int("failed", len(rec.Failed())),
		slog.Duration("elapsed", rec.Finished.Sub(rec.Started)))
	return rec
}

// Signal reads the current signal quality.
func (r *Runner) Signal(ctx context.Context) *CommandResult {
	return r.Exec(ctx, profile.Command{Command: "AT+CSQ", Label: "Signal quality"})
}

// QuickStatus reads signal, registration and operator together with the
// SIM state, without the identification part of a full run.
func (r *Runner) QuickStatus(ctx context.Context) []*CommandResult {
	return r.RunSet(ctx, StatusSet)
}

// VendorTools runs the on-demand tools of the runner's profile.
func (r *Runner) VendorTools(ctx context.Context) []*CommandResult {
	return r.RunSet(ctx, r.profile().Tools())
}

// failure turns an unsuccessful result into an error for tool callers.
func failure(res *CommandResult) error {
	if res.Success() {
		return nil
	}
	if res.Err != nil {
		return res.Err
	}
	return errors.New(res.Status.String())
}
