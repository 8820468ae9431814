package modem

import (
	"context"
	"time"

	"i4.energy/across/modemdiag/at"
)

// Probe opens d, sends a bare AT and closes the transport again.
//
// The returned error is nil only when the modem acknowledged with OK within
// timeout. On a dial failure the Result is nil; otherwise it describes the
// exchange so callers can log what the endpoint answered.
func Probe(ctx context.Context, d Dialer, timeout time.Duration) (*Result, error) {
	transport, err := d.Dial(ctx)
	if err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	s := &Session{transport: transport}
	s.config.atTimeout = timeout
	s.config.pollInterval = min(defaultPollInterval, max(timeout/4, time.Millisecond))
	s.config.setDefaults()
	defer s.Close()

	if err := transport.SetReadTimeout(s.config.pollInterval); err != nil {
		return nil, &ConnectionError{Err: err}
	}

	res := s.Execute(ctx, at.CmdAt, timeout)
	if !res.Success() {
		return res, res.Err
	}
	return res, nil
}
