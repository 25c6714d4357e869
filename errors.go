package torrent

import (
	"errors"
	"net"
)

var (
	// Sending on a Conn that isn't open.
	ErrConnClosed = errors.New("connection closed")
	// Matched by TimeoutError.
	ErrTimeout = errors.New("timed out")
	// The peer's handshake was for a different torrent.
	ErrHandshakeMismatch = errors.New("handshake info hash mismatch")
	ErrUnknownPiece      = errors.New("unknown piece")
	ErrSessionClosed     = errors.New("session closed")
	// Whatever was delivering to the receiver went away.
	ErrDeliveryClosed = errors.New("delivery closed")
)

// A bounded operation ran out of time. It's separate from other I/O errors so callers can decide
// whether to try again.
type TimeoutError struct {
	Op string
}

var _ net.Error = TimeoutError{}

func (me TimeoutError) Error() string {
	return me.Op + ": " + ErrTimeout.Error()
}

func (me TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func (TimeoutError) Timeout() bool {
	return true
}

func (TimeoutError) Temporary() bool {
	return true
}

// Converts deadline overruns from the net package into TimeoutError.
func wrapTimeout(err error, op string) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return TimeoutError{Op: op}
	}
	return err
}
