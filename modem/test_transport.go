package modem

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"time"
)

// TestTransport is an in-memory Transport that behaves like a scripted modem.
//
// Every command written to it (terminated by CR) is looked up in the script
// registered with Respond; the matching reply is queued for reading. Commands
// without a script get no answer at all, which is how a dead or wrongly
// clocked endpoint looks. Reads block for at most the read timeout and then
// return 0, nil, mirroring go.bug.st/serial.
//
// It is exported so tests of packages built on top of modem can use it.
type TestTransport struct {
	mu          sync.Mutex
	ready       chan struct{}
	out         bytes.Buffer
	in          bytes.Buffer
	replies     map[string]string
	echo        bool
	writes      []string
	resets      int
	closed      bool
	readTimeout time.Duration
}

func NewTestTransport() *TestTransport {
	return &TestTransport{
		ready:   make(chan struct{}, 1),
		replies: make(map[string]string),
	}
}

// Respond scripts the raw bytes sent back when cmd is received.
func (t *TestTransport) Respond(cmd, reply string) *TestTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replies[strings.ToUpper(strings.TrimSpace(cmd))] = reply
	return t
}

// Echo makes the transport repeat every command before its reply, the way a
// modem does until ATE0 is sent.
func (t *TestTransport) Echo(on bool) *TestTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.echo = on
	return t
}

// SendData queues data to be read by the transport.
// This simulates receiving unsolicited data from the modem.
func (t *TestTransport) SendData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.out.WriteString(data)
		t.notify()
	}
}

// Writes returns the commands received so far, without terminators.
func (t *TestTransport) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.writes...)
}

// Resets returns how often the input buffer was discarded.
func (t *TestTransport) Resets() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resets
}

func (t *TestTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *TestTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.ErrClosedPipe
	}

	t.in.Write(p)
	for {
		line, err := t.in.ReadString('\r')
		if err != nil {
			// Incomplete command, keep it for the next Write.
			t.in.Reset()
			t.in.WriteString(line)
			break
		}
		cmd := strings.TrimSpace(line)
		t.writes = append(t.writes, cmd)
		if t.echo {
			t.out.WriteString(cmd + "\r\r\n")
		}
		if reply, ok := t.replies[strings.ToUpper(cmd)]; ok {
			t.out.WriteString(reply)
		}
	}
	t.notify()
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (int, error) {
	t.mu.Lock()
	timeout := t.readTimeout
	t.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		t.mu.Lock()
		switch {
		case t.out.Len() > 0:
			n, _ := t.out.Read(p)
			t.mu.Unlock()
			return n, nil
		case t.closed:
			t.mu.Unlock()
			return 0, io.EOF
		}
		t.mu.Unlock()

		select {
		case <-t.ready:
		case <-expired:
			return 0, nil
		}
	}
}

func (t *TestTransport) SetReadTimeout(d time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readTimeout = d
	return nil
}

func (t *TestTransport) ResetInputBuffer() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.out.Reset()
	t.resets++
	return nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.notify()
	return nil
}

// notify wakes a blocked Read. Callers hold t.mu.
func (t *TestTransport) notify() {
	select {
	case t.ready <- struct{}{}:
	default:
	}
}

var _ Transport = (*TestTransport)(nil)
