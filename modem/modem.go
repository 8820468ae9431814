package modem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"i4.energy/across/modemdiag/at"
)

const (
	// maxLineLength bounds a single response line. Anything longer is almost
	// always a line speed mismatch producing noise without line breaks.
	maxLineLength = 4096
	readChunk     = 256
)

// Session is an open, initialized connection to one cellular modem.
//
// All commands sent through a Session are serialized: Execute holds the
// session lock for the whole write/read exchange, so replies can never be
// attributed to the wrong command. A Session owns its Transport and releases
// it on Close.
type Session struct {
	mu        sync.Mutex
	transport Transport
	config    Config
	closed    bool
}

// Open dials the modem described by config and performs the handshake:
// the modem must acknowledge a bare AT, echo is optionally disabled and
// verbose error reporting is requested.
//
// The transport is closed again if any step fails. Open returns a
// *ConnectionError or ErrResourceBusy from the Dialer unchanged.
func Open(ctx context.Context, config Config) (*Session, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	transport, err := config.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	s := &Session{
		transport: transport,
		config:    config,
	}

	if err := transport.SetReadTimeout(config.pollInterval); err != nil {
		transport.Close()
		return nil, &ConnectionError{Port: config.link.Port, BaudRate: config.link.BaudRate, Err: err}
	}

	initCtx, cancel := context.WithTimeout(ctx, config.initTimeout)
	defer cancel()

	if err := s.init(initCtx); err != nil {
		transport.Close()
		return nil, fmt.Errorf("initialize modem: %w", err)
	}

	config.logger.Info("modem session opened", "port", config.link.Port, "baud", config.link.BaudRate)
	return s, nil
}

// init runs the handshake. Only the bare AT is mandatory, older firmware
// rejects AT+CMEE=2 and that must not make the modem unusable.
func (s *Session) init(ctx context.Context) error {
	if res := s.Execute(ctx, at.CmdAt, 0); !res.Success() {
		return fmt.Errorf("modem not responding: %w", res.Err)
	}

	if s.config.echoOff {
		if res := s.Execute(ctx, at.CmdEchoOff, 0); !res.Success() {
			return fmt.Errorf("could not disable echo: %w", res.Err)
		}
	}

	if s.config.verboseErrors {
		if res := s.Execute(ctx, at.CmdVerboseError, 0); !res.Success() {
			s.config.logger.Warn("verbose errors not supported", "error", res.Err)
		}
	}

	return nil
}

// Link reports the endpoint and line speed the session is bound to.
func (s *Session) Link() Link {
	return s.config.link
}

// Execute sends cmd and collects the reply until a final result code is seen
// or timeout elapses. A timeout of zero uses the configured default.
//
// Execute never fails outright: every outcome, including transport errors
// and cancellation, is described by the returned Result. Lines received
// before a timeout are kept.
func (s *Session) Execute(ctx context.Context, cmd string, timeout time.Duration) *Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := &Result{
		Command: strings.TrimSpace(cmd),
		Started: time.Now(),
	}
	defer func() {
		res.Elapsed = time.Since(res.Started)
		s.config.metrics.ObserveCommand(res.Status.String(), res.Elapsed)
		s.config.logger.Debug("command finished",
			"command", res.Command,
			"status", res.Status.String(),
			"lines", len(res.Lines),
			"elapsed", res.Elapsed,
			"error", res.Err,
		)
	}()

	switch {
	case s.closed:
		res.Status, res.Err = StatusError, ErrAlreadyClosed
		return res
	case s.transport == nil:
		res.Status, res.Err = StatusError, ErrNotInitialized
		return res
	}

	if timeout <= 0 {
		timeout = s.config.atTimeout
	}
	s.exchange(ctx, res, timeout)
	return res
}

// exchange performs one write/read cycle. The transport read timeout is the
// poll interval, so a silent modem still lets the loop observe the deadline
// and ctx.
func (s *Session) exchange(ctx context.Context, res *Result, timeout time.Duration) {
	if err := s.transport.ResetInputBuffer(); err != nil {
		s.config.logger.Debug("reset input buffer", "error", err)
	}

	wire := res.Command + at.CR
	if _, err := s.transport.Write([]byte(wire)); err != nil {
		res.Status, res.Err = StatusError, fmt.Errorf("write command %q: %w", res.Command, err)
		return
	}

	var (
		deadline = res.Started.Add(timeout)
		pending  []byte
		chunk    = make([]byte, readChunk)
		echoSeen bool
	)

	// accept consumes one token and reports whether the exchange is over.
	accept := func(token string) bool {
		line := strings.TrimSpace(token)
		if line == "" {
			return false
		}
		if !echoSeen && at.IsEcho(line, res.Command) {
			echoSeen = true
			return false
		}

		res.Lines = append(res.Lines, line)
		if at.Classify(line) != at.TypeFinal {
			return false
		}

		res.Final = line
		if at.IsError(line) {
			res.Status, res.Err = StatusError, fmt.Errorf("%w: %s", ErrProtocol, line)
		} else {
			res.Status = StatusOK
		}
		return true
	}

	// flush keeps an unterminated tail so partial output survives a timeout.
	flush := func() {
		line := strings.TrimSpace(string(pending))
		pending = nil
		if line == "" || (!echoSeen && at.IsEcho(line, res.Command)) {
			return
		}
		res.Lines = append(res.Lines, line)
	}

	for {
		if err := ctx.Err(); err != nil {
			flush()
			res.Status, res.Err = StatusTimeout, err
			return
		}
		if !time.Now().Before(deadline) {
			flush()
			res.Status, res.Err = StatusTimeout, fmt.Errorf("%w: %s after %s", ErrProtocolTimeout, res.Command, timeout)
			return
		}

		n, readErr := s.transport.Read(chunk)
		pending = append(pending, chunk[:n]...)

		for {
			advance, token, _ := at.Splitter(pending, false)
			if advance == 0 {
				break
			}
			line := string(token)
			pending = pending[advance:]
			if accept(line) {
				return
			}
		}

		if len(pending) > maxLineLength {
			res.Status, res.Err = StatusError, fmt.Errorf("%w: %d bytes without line break", ErrLineTooLong, len(pending))
			return
		}

		if readErr != nil {
			flush()
			if errors.Is(readErr, io.EOF) {
				readErr = io.ErrUnexpectedEOF
			}
			res.Status, res.Err = StatusError, fmt.Errorf("read response: %w", readErr)
			return
		}
	}
}

// Close releases the transport. Closing twice returns ErrAlreadyClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrAlreadyClosed
	}
	s.closed = true

	if s.transport != nil {
		return s.transport.Close()
	}
	return nil
}

var _ Executor = (*Session)(nil)
