package modem

import (
	"context"
	"strings"
	"time"

	"i4.energy/across/modemdiag/at"
)

// Status classifies how a command exchange ended.
type Status int

const (
	// StatusOK means the terminal success marker was seen.
	StatusOK Status = iota
	// StatusError means an error marker or code was seen, or the transport
	// failed while the command was in flight.
	StatusError
	// StatusTimeout means no terminal marker arrived before the deadline.
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusError:
		return "ERROR"
	case StatusTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result is the outcome of one command. Lines holds every non-empty line the
// modem sent back, in order, except the echo of the command itself. Result
// is not modified after Execute returns.
type Result struct {
	Command string        `json:"command"`
	Lines   []string      `json:"lines"`
	Final   string        `json:"final,omitempty"`
	Status  Status        `json:"status"`
	Err     error         `json:"-"`
	Started time.Time     `json:"started"`
	Elapsed time.Duration `json:"elapsed"`
}

// Success reports whether the command was acknowledged with OK.
func (r *Result) Success() bool {
	return r != nil && r.Status == StatusOK
}

// Data returns the intermediate response lines, leaving out final result
// codes and unsolicited notifications.
func (r *Result) Data() []string {
	if r == nil {
		return nil
	}
	var out []string
	for _, line := range r.Lines {
		switch at.Classify(line) {
		case at.TypeFinal, at.TypeURC:
			continue
		}
		out = append(out, line)
	}
	return out
}

// Raw joins all retained lines with newlines.
func (r *Result) Raw() string {
	if r == nil {
		return ""
	}
	return strings.Join(r.Lines, "\n")
}

// Executor runs a single command against a modem. *Session implements it.
type Executor interface {
	Execute(ctx context.Context, cmd string, timeout time.Duration) *Result
}
