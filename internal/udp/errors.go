package udp

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Kind classifies transport failures.
type Kind int

const (
	// KindResolution means an endpoint could not be resolved.
	KindResolution Kind = iota + 1
	// KindSocket means the socket could not be created or bound.
	KindSocket
	// KindBrokenPipe means the local link was closed.
	KindBrokenPipe
	// KindTransient marks would-block and interrupted conditions. The loop
	// absorbs them; they are never returned from Run.
	KindTransient
	// KindFatalIO is any other I/O failure.
	KindFatalIO
)

// Sentinels matched by errors.Is against an *Error of the same Kind.
var (
	ErrResolutionFailed = errors.New("resolution failed")
	ErrSocket           = errors.New("socket error")
	ErrBrokenPipe       = errors.New("broken pipe")
	ErrTransientIO      = errors.New("transient I/O")
	ErrFatalIO          = errors.New("fatal I/O")

	// ErrSocketClosed is returned when a closed socket or transport is used.
	ErrSocketClosed = errors.New("socket closed")

	// ErrAlreadyRunning is returned when Run is entered twice.
	ErrAlreadyRunning = errors.New("transport already running")
)

// String returns a short label, also used as a metrics reason.
func (k Kind) String() string {
	switch k {
	case KindResolution:
		return "resolution_failed"
	case KindSocket:
		return "socket_error"
	case KindBrokenPipe:
		return "broken_pipe"
	case KindTransient:
		return "transient_io"
	case KindFatalIO:
		return "fatal_io"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindResolution:
		return ErrResolutionFailed
	case KindSocket:
		return ErrSocket
	case KindBrokenPipe:
		return ErrBrokenPipe
	case KindTransient:
		return ErrTransientIO
	case KindFatalIO:
		return ErrFatalIO
	default:
		return nil
	}
}

// Error is a classified transport failure. Err is the underlying cause,
// usually a unix.Errno or a *resolve.Error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("udp: %s: %v", e.Op, e.Kind.sentinel())
	}
	return fmt.Sprintf("udp: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's Kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// Code returns a negative errno describing the failure. Resolution failures
// map to -ENOPROTOOPT; other kinds carry the wrapped errno when there is one.
func (e *Error) Code() int {
	if e.Kind == KindResolution {
		return -int(unix.ENOPROTOOPT)
	}
	var errno unix.Errno
	if errors.As(e.Err, &errno) {
		return -int(errno)
	}
	if e.Kind == KindBrokenPipe {
		return -int(unix.EPIPE)
	}
	return -int(unix.EIO)
}

// Code returns the negative errno for err: 0 for nil, the classified code
// for an *Error, the errno itself for a bare unix.Errno, and -EIO otherwise.
func Code(err error) int {
	if err == nil {
		return 0
	}
	var uerr *Error
	if errors.As(err, &uerr) {
		return uerr.Code()
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return -int(errno)
	}
	return -int(unix.EIO)
}

// KindOf returns the Kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var uerr *Error
	if errors.As(err, &uerr) {
		return uerr.Kind
	}
	return 0
}

func isTransient(err error) bool {
	return isInterrupted(err) || isWouldBlock(err)
}

func isInterrupted(err error) bool {
	return errors.Is(err, unix.EINTR)
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
