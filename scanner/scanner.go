// Package scanner finds the serial endpoint and line speed a modem answers
// on.
//
// A scan runs in two phases. Phase 1 probes every endpoint at the primary
// rate with a short timeout, which finds almost every modern modem quickly.
// Only when phase 1 finds nothing, phase 2 walks the fallback rates for each
// endpoint with a longer timeout, stopping at the first rate an endpoint
// answers on.
package scanner

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"i4.energy/across/modemdiag/metrics"
	"i4.energy/across/modemdiag/modem"
	"i4.energy/across/modemdiag/port"
)

// ErrNoWorkingEndpoint is returned by Select when the scan found nothing.
// Callers usually fall back to asking for an endpoint explicitly.
var ErrNoWorkingEndpoint = errors.New("no working modem endpoint found")

// Policy decides whether a scan stops at the first working candidate.
type Policy int

const (
	StopAtFirst Policy = iota
	ExhaustAll
)

func (p Policy) String() string {
	if p == ExhaustAll {
		return "exhaust-all"
	}
	return "stop-at-first"
}

const (
	DefaultQuickTimeout = 750 * time.Millisecond
	DefaultSlowTimeout  = 2 * time.Second
)

// DefaultFallbackBauds are tried in order during phase 2.
var DefaultFallbackBauds = []int{9600, 460800, 57600, 19200}

// Options configures a scan. The zero value scans sequentially over real
// serial ports with the default rates and timeouts.
type Options struct {
	PrimaryBaud   int
	FallbackBauds []int
	QuickTimeout  time.Duration
	SlowTimeout   time.Duration
	Policy        Policy
	// Exclude lists endpoint identifiers to skip, see port.Exclude.
	Exclude []string
	// Workers bounds concurrent probes. Every probe opens its own handle.
	Workers   int
	NewDialer func(name string, baud int) modem.Dialer
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

func (o *Options) setDefaults() {
	if o.PrimaryBaud <= 0 {
		o.PrimaryBaud = modem.DefaultBaudRate
	}
	if o.FallbackBauds == nil {
		o.FallbackBauds = DefaultFallbackBauds
	}
	if o.QuickTimeout <= 0 {
		o.QuickTimeout = DefaultQuickTimeout
	}
	if o.SlowTimeout <= 0 {
		o.SlowTimeout = DefaultSlowTimeout
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.NewDialer == nil {
		o.NewDialer = func(name string, baud int) modem.Dialer {
			return modem.SerialDialer{PortName: name, BaudRate: baud}
		}
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// Candidate is an endpoint paired with a line speed.
type Candidate struct {
	Endpoint port.Endpoint `json:"endpoint"`
	BaudRate int           `json:"baud_rate"`
}

func (c Candidate) Link() modem.Link {
	return modem.Link{Port: c.Endpoint.Name, BaudRate: c.BaudRate}
}

// Attempt records one probe.
type Attempt struct {
	Candidate
	Phase   int           `json:"phase"`
	Working bool          `json:"working"`
	Err     error         `json:"-"`
	Lines   []string      `json:"lines,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Result holds the working candidates in priority order and every completed
// attempt.
type Result struct {
	Working   []Candidate `json:"working"`
	Attempts  []Attempt   `json:"attempts"`
	Phase2Ran bool        `json:"phase2_ran"`
}

// Selection is the candidate a caller should connect to.
type Selection struct {
	Candidate Candidate
	// Auto is true when exactly one candidate was found and no choice is
	// needed.
	Auto bool
	// Alternatives lists every working candidate, recommended one first.
	Alternatives []Candidate
}

// Select picks the candidate to use. With several working candidates the
// highest priority one is recommended and the rest are kept as
// alternatives.
func (r *Result) Select() (Selection, error) {
	if r == nil || len(r.Working) == 0 {
		return Selection{}, ErrNoWorkingEndpoint
	}
	return Selection{
		Candidate:    r.Working[0],
		Auto:         len(r.Working) == 1,
		Alternatives: slices.Clone(r.Working),
	}, nil
}

// Scan probes endpoints as described in the package documentation.
//
// Failures to open or talk to an endpoint are recorded as failed attempts
// and never abort the scan. When ctx is canceled Scan returns what it found
// so far together with ctx.Err().
func Scan(ctx context.Context, endpoints iter.Seq[port.Endpoint], opts Options) (*Result, error) {
	opts.setDefaults()
	s := &scanner{opts: opts}

	list := port.SortByPriority(slices.Collect(port.Exclude(endpoints, opts.Exclude)))
	result := &Result{}

	opts.Logger.Info("scan started",
		"endpoints", len(list),
		"policy", opts.Policy.String(),
		"workers", opts.Workers,
	)

	slots := s.run(ctx, len(list), func(ctx context.Context, i int) []Attempt {
		a, ok := s.probe(ctx, Candidate{Endpoint: list[i], BaudRate: opts.PrimaryBaud}, 1, opts.QuickTimeout)
		if !ok {
			return nil
		}
		return []Attempt{a}
	})
	s.collect(result, slots)

	if err := ctx.Err(); err != nil {
		return result, err
	}

	if len(result.Working) == 0 && len(opts.FallbackBauds) > 0 && len(list) > 0 {
		result.Phase2Ran = true
		opts.Logger.Info("no modem at primary rate, trying fallback rates", "bauds", opts.FallbackBauds)

		slots := s.run(ctx, len(list), func(ctx context.Context, i int) []Attempt {
			var attempts []Attempt
			for _, baud := range opts.FallbackBauds {
				a, ok := s.probe(ctx, Candidate{Endpoint: list[i], BaudRate: baud}, 2, opts.SlowTimeout)
				if !ok {
					break
				}
				attempts = append(attempts, a)
				if a.Working {
					break
				}
			}
			return attempts
		})
		s.collect(result, slots)
	}

	opts.Logger.Info("scan finished", "working", len(result.Working), "attempts", len(result.Attempts))
	return result, ctx.Err()
}

type scanner struct {
	opts Options
}

// probe runs one attempt. ok is false when the attempt was cut short by
// cancellation and carries no information about the endpoint.
func (s *scanner) probe(ctx context.Context, c Candidate, phase int, timeout time.Duration) (Attempt, bool) {
	if ctx.Err() != nil {
		return Attempt{}, false
	}

	start := time.Now()
	res, err := modem.Probe(ctx, s.opts.NewDialer(c.Endpoint.Name, c.BaudRate), timeout)
	a := Attempt{
		Candidate: c,
		Phase:     phase,
		Working:   err == nil,
		Err:       err,
		Elapsed:   time.Since(start),
	}
	if res != nil {
		a.Lines = res.Lines
	}

	if !a.Working && ctx.Err() != nil {
		return Attempt{}, false
	}

	s.opts.Metrics.ObserveProbe(phase, a.Working)
	s.opts.Logger.Debug("probe",
		"port", c.Endpoint.Name,
		"baud", c.BaudRate,
		"phase", phase,
		"working", a.Working,
		"elapsed", a.Elapsed,
		"error", err,
	)
	return a, true
}

// run calls work for indices 0..n-1 with at most Workers in flight. Each
// index writes only its own slot. With StopAtFirst, a success at index i
// cancels every pending or running index above i, so the winner is always
// the highest priority endpoint that answered.
func (s *scanner) run(ctx context.Context, n int, work func(ctx context.Context, i int) []Attempt) [][]Attempt {
	slots := make([][]Attempt, n)

	var (
		mu      sync.Mutex
		best    = n
		cancels = make([]context.CancelFunc, n)
		g       errgroup.Group
	)
	g.SetLimit(s.opts.Workers)

	for i := range n {
		if ctx.Err() != nil {
			break
		}

		mu.Lock()
		if s.opts.Policy == StopAtFirst && i > best {
			mu.Unlock()
			break
		}
		probeCtx, cancel := context.WithCancel(ctx)
		cancels[i] = cancel
		mu.Unlock()

		g.Go(func() error {
			defer cancel()

			attempts := work(probeCtx, i)
			slots[i] = attempts

			if s.opts.Policy == StopAtFirst && slices.ContainsFunc(attempts, func(a Attempt) bool { return a.Working }) {
				mu.Lock()
				if i < best {
					best = i
					for j := i + 1; j < n; j++ {
						if cancels[j] != nil {
							cancels[j]()
						}
					}
				}
				mu.Unlock()
			}
			return nil
		})
	}

	_ = g.Wait()
	return slots
}

// collect appends slot contents in priority order.
func (s *scanner) collect(r *Result, slots [][]Attempt) {
	for _, attempts := range slots {
		for _, a := range attempts {
			r.Attempts = append(r.Attempts, a)
			if !a.Working {
				continue
			}
			if s.opts.Policy == StopAtFirst && len(r.Working) > 0 {
				continue
			}
			r.Working = append(r.Working, a.Candidate)
		}
	}
}
