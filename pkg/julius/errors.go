package julius

import (
	"errors"
	"fmt"
	"time"

	"github.com/saker-ai/julius-bridge/internal/transport/julius/codec"
)

var (
	ErrConnection        = errors.New("julius: connection failed")
	ErrSendTimeout       = errors.New("julius: send timed out")
	ErrNotConnected      = errors.New("julius: not connected")
	ErrAlreadyConnected  = errors.New("julius: already connected")
	ErrDispatcherRunning = errors.New("julius: dispatcher already running")
	ErrDispatcherStopped = errors.New("julius: dispatcher stopped")
	ErrReaderBusy        = errors.New("julius: reader owned by another caller")
	ErrStreamEnded       = errors.New("julius: event stream ended")
	ErrStreamClosed      = errors.New("julius: result stream closed")
	ErrProtocol          = errors.New("julius: protocol violation")

	// ErrMalformedBlock is wrapped by read errors for blocks that do not parse.
	ErrMalformedBlock = codec.ErrMalformedBlock
	// ErrInvalidText is wrapped by read errors for lines the configured
	// encoding cannot decode.
	ErrInvalidText = codec.ErrInvalidText
)

// ConnectionError reports a failed connect.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("julius: connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// SendTimeoutError reports a command the socket did not accept in time.
// Written is the number of bytes the kernel took before the deadline.
type SendTimeoutError struct {
	Command string
	After   time.Duration
	Written int
}

func (e *SendTimeoutError) Error() string {
	return fmt.Sprintf("julius: send %q: not writable within %s (%d bytes written)", e.Command, e.After, e.Written)
}

func (e *SendTimeoutError) Is(target error) bool { return target == ErrSendTimeout }

// Timeout reports true so the error satisfies net.Error style checks.
func (e *SendTimeoutError) Timeout() bool { return true }

// ProtocolError reports a recognition node with a missing or invalid attribute.
type ProtocolError struct {
	Tag   string
	Attr  string
	Value string
	Err   error
}

func (e *ProtocolError) Error() string {
	switch {
	case e.Attr == "":
		return fmt.Sprintf("julius: %s: %v", e.Tag, e.Err)
	case e.Value == "":
		return fmt.Sprintf("julius: %s@%s: %v", e.Tag, e.Attr, e.Err)
	default:
		return fmt.Sprintf("julius: %s@%s=%q: %v", e.Tag, e.Attr, e.Value, e.Err)
	}
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }
