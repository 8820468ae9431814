package scanner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"i4.energy/across/modemdiag/metrics"
	"i4.energy/across/modemdiag/modem"
	"i4.energy/across/modemdiag/port"
)

// bench fakes a set of serial endpoints. Endpoints listed in working answer
// AT at the given rate, busy ones fail to open, everything else is silent.
type bench struct {
	mu         sync.Mutex
	working    map[string]bool
	busy       map[string]bool
	transports []*modem.TestTransport
	dials      []string
}

func newBench() *bench {
	return &bench{working: map[string]bool{}, busy: map[string]bool{}}
}

func (b *bench) answer(name string, baud int) *bench {
	b.working[fmt.Sprintf("%s@%d", name, baud)] = true
	return b
}

func (b *bench) dialer(name string, baud int) modem.Dialer {
	return modem.DialerFunc(func(ctx context.Context) (modem.Transport, error) {
		b.mu.Lock()
		defer b.mu.Unlock()

		key := fmt.Sprintf("%s@%d", name, baud)
		b.dials = append(b.dials, key)
		if b.busy[name] {
			return nil, fmt.Errorf("%w: %s", modem.ErrResourceBusy, name)
		}
		tr := modem.NewTestTransport()
		if b.working[key] {
			tr.Respond("AT", "OK\r\n")
		}
		b.transports = append(b.transports, tr)
		return tr, nil
	})
}

func (b *bench) allClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, tr := range b.transports {
		if !tr.Closed() {
			return false
		}
	}
	return true
}

func (b *bench) dialed(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Contains(b.dials, key)
}

func endpoints(names ...string) func(func(port.Endpoint) bool) {
	return func(yield func(port.Endpoint) bool) {
		for _, n := range names {
			if !yield(port.Endpoint{Name: n}) {
				return
			}
		}
	}
}

func testOptions(b *bench) Options {
	return Options{
		QuickTimeout: 40 * time.Millisecond,
		SlowTimeout:  40 * time.Millisecond,
		NewDialer:    b.dialer,
	}
}

func workingLinks(r *Result) []string {
	var out []string
	for _, c := range r.Working {
		out = append(out, c.Link().String())
	}
	return out
}

func TestScanPhase1FindsSingleModem(t *testing.T) {
	b := newBench().answer("/dev/ttyUSB2", 115200)

	r, err := Scan(context.Background(), endpoints("/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyUSB2"), testOptions(b))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := workingLinks(r); !slices.Equal(got, []string{"/dev/ttyUSB2@115200"}) {
		t.Errorf("Working = %q", got)
	}
	if r.Phase2Ran {
		t.Error("phase 2 must not run when phase 1 found a modem")
	}

	sel, err := r.Select()
	if err != nil {
		t.Fatalf("Select() error: %v", err)
	}
	if !sel.Auto {
		t.Error("a single working candidate should be auto-selected")
	}
	if sel.Candidate.Endpoint.Name != "/dev/ttyUSB2" || sel.Candidate.BaudRate != 115200 {
		t.Errorf("Select() = %+v", sel.Candidate)
	}
	if !b.allClosed() {
		t.Error("every probed transport must be closed")
	}
}

func TestScanPhase2FindsAlternateRate(t *testing.T) {
	b := newBench().answer("/dev/ttyUSB1", 57600)

	r, err := Scan(context.Background(), endpoints("/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyUSB2"), testOptions(b))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !r.Phase2Ran {
		t.Error("phase 2 should run when phase 1 found nothing")
	}
	if got := workingLinks(r); !slices.Equal(got, []string{"/dev/ttyUSB1@57600"}) {
		t.Errorf("Working = %q", got)
	}
	if b.dialed("/dev/ttyUSB1@19200") {
		t.Error("phase 2 must stop at the first working rate of an endpoint")
	}
	if !b.allClosed() {
		t.Error("every probed transport must be closed")
	}
}

func TestScanPolicy(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		workers int
		want    []string
	}{
		{"stop at first, sequential", StopAtFirst, 1, []string{"/dev/ttyUSB2@115200"}},
		{"stop at first, parallel", StopAtFirst, 4, []string{"/dev/ttyUSB2@115200"}},
		{"exhaust all, sequential", ExhaustAll, 1, []string{"/dev/ttyUSB2@115200", "/dev/ttyUSB0@115200"}},
		{"exhaust all, parallel", ExhaustAll, 4, []string{"/dev/ttyUSB2@115200", "/dev/ttyUSB0@115200"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBench().
				answer("/dev/ttyUSB0", 115200).
				answer("/dev/ttyUSB2", 115200)

			opts := testOptions(b)
			opts.Policy = tt.policy
			opts.Workers = tt.workers

			r, err := Scan(context.Background(), endpoints("/dev/ttyUSB0", "/dev/ttyACM0", "/dev/ttyUSB2"), opts)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := workingLinks(r); !slices.Equal(got, tt.want) {
				t.Errorf("Working = %q, want %q", got, tt.want)
			}

			sel, err := r.Select()
			if err != nil {
				t.Fatalf("Select() error: %v", err)
			}
			if sel.Candidate.Endpoint.Name != "/dev/ttyUSB2" {
				t.Errorf("recommended %q, want /dev/ttyUSB2", sel.Candidate.Endpoint.Name)
			}
			if sel.Auto != (len(tt.want) == 1) {
				t.Errorf("Auto = %v with %d candidates", sel.Auto, len(tt.want))
			}
			if len(sel.Alternatives) != len(tt.want) {
				t.Errorf("Alternatives = %d, want %d", len(sel.Alternatives), len(tt.want))
			}
			if !b.allClosed() {
				t.Error("every probed transport must be closed")
			}
		})
	}
}

func TestScanOpenFailuresAreRecorded(t *testing.T) {
	b := newBench().answer("/dev/ttyUSB0", 115200)
	b.busy["/dev/ttyUSB1"] = true

	r, err := Scan(context.Background(), endpoints("/dev/ttyUSB0", "/dev/ttyUSB1"), testOptions(b))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := workingLinks(r); !slices.Equal(got, []string{"/dev/ttyUSB0@115200"}) {
		t.Errorf("Working = %q", got)
	}

	var busy *Attempt
	for i := range r.Attempts {
		if r.Attempts[i].Endpoint.Name == "/dev/ttyUSB1" {
			busy = &r.Attempts[i]
		}
	}
	if busy == nil {
		t.Fatal("busy endpoint attempt not recorded")
	}
	if busy.Working || !errors.Is(busy.Err, modem.ErrResourceBusy) {
		t.Errorf("unexpected attempt: working=%v err=%v", busy.Working, busy.Err)
	}
}

func TestScanDenylist(t *testing.T) {
	b := newBench().answer("/dev/ttyAMA0", 115200)
	opts := testOptions(b)
	opts.Exclude = []string{"ttyAMA0"}
	opts.FallbackBauds = []int{}

	r, err := Scan(context.Background(), endpoints("/dev/ttyAMA0", "/dev/ttyUSB0"), opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.dialed("/dev/ttyAMA0@115200") {
		t.Error("denied endpoint must not be opened")
	}
	if len(r.Working) != 0 {
		t.Errorf("Working = %q", workingLinks(r))
	}
	if _, err := r.Select(); !errors.Is(err, ErrNoWorkingEndpoint) {
		t.Errorf("Select() error = %v, want ErrNoWorkingEndpoint", err)
	}
}

func TestScanNothingFound(t *testing.T) {
	b := newBench()

	r, err := Scan(context.Background(), endpoints("/dev/ttyUSB0"), testOptions(b))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Phase2Ran {
		t.Error("phase 2 should have run")
	}
	if got, want := len(r.Attempts), 1+len(DefaultFallbackBauds); got != want {
		t.Errorf("attempts = %d, want %d", got, want)
	}
	if _, err := r.Select(); !errors.Is(err, ErrNoWorkingEndpoint) {
		t.Errorf("Select() error = %v, want ErrNoWorkingEndpoint", err)
	}
}

func TestScanNoEndpoints(t *testing.T) {
	r, err := Scan(context.Background(), endpoints(), testOptions(newBench()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Phase2Ran || len(r.Attempts) != 0 {
		t.Errorf("unexpected result: %+v", r)
	}
}

func TestScanCanceled(t *testing.T) {
	b := newBench()
	opts := testOptions(b)
	opts.QuickTimeout = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	r, err := Scan(ctx, endpoints("/dev/ttyUSB0", "/dev/ttyUSB1", "/dev/ttyUSB2"), opts)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if r == nil {
		t.Fatal("a partial result must be returned")
	}
	if r.Phase2Ran {
		t.Error("phase 2 must not start after cancellation")
	}
	if !b.allClosed() {
		t.Error("every probed transport must be closed")
	}
}

func TestScanMetrics(t *testing.T) {
	b := newBench().answer("/dev/ttyUSB1", 115200)
	reg := prometheus.NewRegistry()
	opts := testOptions(b)
	opts.Policy = ExhaustAll
	opts.Metrics = metrics.New(reg)

	if _, err := Scan(context.Background(), endpoints("/dev/ttyUSB0", "/dev/ttyUSB1"), opts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := testutil.GatherAndCount(reg, "modemdiag_probes_total")
	if err != nil {
		t.Fatal(err)
	}
	if got != 2 {
		t.Errorf("expected ok and failed probe series, got %d", got)
	}
}
