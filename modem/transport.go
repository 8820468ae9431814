package modem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

//go:generate go tool mockgen -source=transport.go -destination=mock_transport.go -package=modem

// DefaultBaudRate is the line speed tried first and used when none is given.
const DefaultBaudRate = 115200

// Transport represents an established, bidirectional byte stream to a
// cellular modem.
//
// A Transport is assumed to be already connected and ready for use. Besides
// the plain I/O primitives it lets the engine bound every Read, so that
// command deadlines and cancellation are honoured, and drop stale input
// before a command is written. go.bug.st/serial.Port satisfies it directly.
type Transport interface {
	io.ReadWriteCloser
	// SetReadTimeout bounds each Read. A Read that times out returns 0, nil.
	SetReadTimeout(t time.Duration) error
	// ResetInputBuffer discards received but unread bytes.
	ResetInputBuffer() error
}

// Dialer opens a Transport to a modem.
//
// Dialer abstracts how the connection is created (for example, via a serial
// port or an in-memory fake used for testing).
type Dialer interface {
	// Dial is responsible for creating and returning a connected Transport. It
	// should respect cancellation of the context. Dial returns an error if
	// the transport cannot be established.
	Dial(ctx context.Context) (Transport, error)
}

// DialerFunc adapts an ordinary function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context) (Transport, error) { return f(ctx) }

// Link names the endpoint and line speed a Transport is bound to.
type Link struct {
	Port     string `json:"port" yaml:"port"`
	BaudRate int    `json:"baud_rate" yaml:"baud_rate"`
}

func (l Link) String() string {
	return fmt.Sprintf("%s@%d", l.Port, l.BaudRate)
}

// SerialDialer opens a modem over a serial port using go.bug.st/serial.
//
// While a Transport returned by Dial is open, the port is held exclusively:
// a second Dial of the same PortName in this process fails with
// ErrResourceBusy until the first Transport is closed.
type SerialDialer struct {
	PortName string
	BaudRate int
	// Mode overrides BaudRate and the 8N1 defaults when set.
	Mode *serial.Mode
}

func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("modem: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("modem: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := d.Mode
	if mode == nil {
		baud := d.BaudRate
		if baud <= 0 {
			baud = DefaultBaudRate
		}
		mode = &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
	}

	if !hold.acquire(d.PortName) {
		return nil, fmt.Errorf("%w: %s", ErrResourceBusy, d.PortName)
	}

	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		hold.release(d.PortName)
		var portErr *serial.PortError
		if errors.As(err, &portErr) && portErr.Code() == serial.PortBusy {
			return nil, fmt.Errorf("%w: %s: %v", ErrResourceBusy, d.PortName, err)
		}
		return nil, &ConnectionError{Port: d.PortName, BaudRate: mode.BaudRate, Err: err}
	}

	return &serialTransport{Port: port, name: d.PortName}, nil
}

// serialTransport releases the process-wide hold on its port when closed.
type serialTransport struct {
	serial.Port
	name string
	once sync.Once
}

func (t *serialTransport) Close() error {
	err := t.Port.Close()
	t.once.Do(func() { hold.release(t.name) })
	return err
}

// holdRegistry tracks the ports currently opened by this process.
type holdRegistry struct {
	mu    sync.Mutex
	ports map[string]struct{}
}

var hold = &holdRegistry{ports: make(map[string]struct{})}

func (h *holdRegistry) acquire(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, busy := h.ports[name]; busy {
		return false
	}
	h.ports[name] = struct{}{}
	return true
}

func (h *holdRegistry) release(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.ports, name)
}
