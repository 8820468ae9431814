package modem

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDialer is returned when a Session is opened without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a
	// Session that has no transport, for example when a Dialer returned a
	// nil Transport without an error.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Session that has
	// already been closed, and recorded on commands issued after Close.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrLineTooLong is returned when a modem response line exceeds the
	// maximum allowed length.
	//
	// This typically indicates malformed input, unexpected binary data,
	// or a line speed mismatch.
	ErrLineTooLong = errors.New("response line too long")

	// ErrConnection is matched by every *ConnectionError, so callers can
	// use errors.Is without caring about the endpoint details.
	ErrConnection = errors.New("connection failed")

	// ErrResourceBusy is returned when the endpoint is already held, either
	// by another Session in this process or by another process.
	ErrResourceBusy = errors.New("endpoint busy")

	// ErrProtocolTimeout is recorded when no final result code arrived before
	// the command deadline. Lines received so far are kept in the Result.
	ErrProtocolTimeout = errors.New("no final result code before deadline")

	// ErrProtocol is recorded when the modem answered with an error result
	// code (ERROR, +CME ERROR, +CMS ERROR, ...). The wrapping error carries
	// the device's line.
	ErrProtocol = errors.New("modem reported an error")
)

// ConnectionError reports an endpoint that could not be opened or
// configured.
type ConnectionError struct {
	Port     string
	BaudRate int
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Port == "" {
		return fmt.Sprintf("connection failed: %v", e.Err)
	}
	return fmt.Sprintf("connect %s at %d baud: %v", e.Port, e.BaudRate, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrConnection) true for any ConnectionError.
func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }
