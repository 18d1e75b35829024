// Package poll provides the readiness-wait primitive used by the forwarding
// loop: block until one or more descriptors can be read or written.
package poll

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

var (
	// ErrTimeout is returned when Wait times out before any descriptor is ready.
	ErrTimeout = errors.New("poll: timeout")

	// ErrInvalidDescriptor is returned when a descriptor in the set is not open.
	ErrInvalidDescriptor = errors.New("poll: invalid descriptor")
)

// Event is a set of readiness conditions.
type Event int16

const (
	// Readable means a read will not block. Hang-up and error conditions are
	// reported as readable so the following read surfaces them.
	Readable Event = 1 << iota
	// Writable means a write will not block.
	Writable
	// Hangup means the peer closed its end.
	Hangup
)

// Has reports whether all of x are set in e.
func (e Event) Has(x Event) bool {
	return e&x == x
}

// Interest registers a descriptor and the conditions to wait for.
type Interest struct {
	Fd     int
	Events Event
}

// Waiter blocks until descriptors become ready.
//
// Wait returns one Event per entry of set, in order. The returned slice may be
// reused by the next call. A negative timeout waits indefinitely.
type Waiter interface {
	Wait(set []Interest, timeout time.Duration) ([]Event, error)
}

// Poller is a Waiter backed by poll(2). It reuses its buffers between calls
// and must not be shared between goroutines.
type Poller struct {
	fds   []unix.PollFd
	ready []Event
}

// NewPoller creates a Poller.
func NewPoller() *Poller {
	return &Poller{}
}

// Wait implements Waiter. Interrupted calls are restarted.
func (p *Poller) Wait(set []Interest, timeout time.Duration) ([]Event, error) {
	p.fds = p.fds[:0]
	for _, in := range set {
		var events int16
		if in.Events&Readable != 0 {
			events |= unix.POLLIN
		}
		if in.Events&Writable != 0 {
			events |= unix.POLLOUT
		}
		p.fds = append(p.fds, unix.PollFd{Fd: int32(in.Fd), Events: events})
	}

	for {
		n, err := unix.Poll(p.fds, timeoutMillis(timeout))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			return nil, ErrTimeout
		}
		break
	}

	p.ready = p.ready[:0]
	for _, fd := range p.fds {
		if fd.Revents&unix.POLLNVAL != 0 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidDescriptor, fd.Fd)
		}
		p.ready = append(p.ready, fromRevents(fd.Revents))
	}
	return p.ready, nil
}

func fromRevents(revents int16) Event {
	var ev Event
	if revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
		ev |= Readable
	}
	if revents&(unix.POLLOUT|unix.POLLERR) != 0 {
		ev |= Writable
	}
	if revents&unix.POLLHUP != 0 {
		ev |= Hangup
	}
	return ev
}

func timeoutMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		return 1
	}
	return int(ms)
}
