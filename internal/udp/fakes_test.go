package udp

import (
	"bytes"
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sys/unix"

	"github.com/postalsys/pppoat-udp/internal/metrics"
	"github.com/postalsys/pppoat-udp/internal/poll"
	"github.com/postalsys/pppoat-udp/internal/resolve"
)

var errWaitExhausted = errors.New("fake waiter: script exhausted")

const fakeSockFd = 1000

var testPeer = netip.MustParseAddrPort("192.0.2.10:49153")

// sendStep scripts one SendTo attempt. A zero step accepts the whole buffer.
type sendStep struct {
	n   int
	err error
}

type recvStep struct {
	data []byte
	from netip.AddrPort
	err  error
}

type fakeConn struct {
	sendScript []sendStep
	recvScript []recvStep

	attempts  int
	sent      [][]byte
	sentTo    []netip.AddrPort
	recvCalls int
	nonblock  bool
	closes    int
}

func (c *fakeConn) Fd() int                   { return fakeSockFd }
func (c *fakeConn) LocalAddr() netip.AddrPort { return netip.MustParseAddrPort("0.0.0.0:49153") }
func (c *fakeConn) SetNonblock(on bool) error { c.nonblock = on; return nil }
func (c *fakeConn) Close() error              { c.closes++; return nil }

func (c *fakeConn) SendTo(p []byte, to netip.AddrPort) (int, error) {
	c.attempts++
	n := len(p)
	if len(c.sendScript) > 0 {
		step := c.sendScript[0]
		c.sendScript = c.sendScript[1:]
		if step.err != nil {
			return 0, step.err
		}
		if step.n > 0 && step.n < n {
			n = step.n
		}
	}
	c.sent = append(c.sent, append([]byte(nil), p[:n]...))
	c.sentTo = append(c.sentTo, to)
	return n, nil
}

func (c *fakeConn) RecvFrom(p []byte) (int, netip.AddrPort, error) {
	c.recvCalls++
	if len(c.recvScript) == 0 {
		return 0, netip.AddrPort{}, unix.EAGAIN
	}
	step := c.recvScript[0]
	c.recvScript = c.recvScript[1:]
	if step.err != nil {
		return 0, netip.AddrPort{}, step.err
	}
	return copy(p, step.data), step.from, nil
}

func (c *fakeConn) sentBytes() []byte {
	return bytes.Join(c.sent, nil)
}

// readStep scripts one link Read. Nil data and nil err is end of file.
type readStep struct {
	data []byte
	err  error
}

type writeStep struct {
	n   int
	err error
}

type fakeLink struct {
	reads       []readStep
	writeScript []writeStep

	readCalls  int
	writeCalls int
	written    bytes.Buffer
	nonblock   map[int]bool
}

func (l *fakeLink) Read(fd int, p []byte) (int, error) {
	l.readCalls++
	if len(l.reads) == 0 {
		return 0, nil
	}
	step := l.reads[0]
	l.reads = l.reads[1:]
	if step.err != nil {
		return -1, step.err
	}
	return copy(p, step.data), nil
}

func (l *fakeLink) Write(fd int, p []byte) (int, error) {
	l.writeCalls++
	n := len(p)
	if len(l.writeScript) > 0 {
		step := l.writeScript[0]
		l.writeScript = l.writeScript[1:]
		if step.err != nil {
			return -1, step.err
		}
		if step.n > 0 && step.n < n {
			n = step.n
		}
	}
	l.written.Write(p[:n])
	return n, nil
}

func (l *fakeLink) SetNonblock(fd int, on bool) error {
	if l.nonblock == nil {
		l.nonblock = make(map[int]bool)
	}
	l.nonblock[fd] = on
	return nil
}

type waitStep struct {
	events []poll.Event
	err    error
}

type fakeWaiter struct {
	script []waitStep
	calls  [][]poll.Interest
}

func (w *fakeWaiter) Wait(set []poll.Interest, timeout time.Duration) ([]poll.Event, error) {
	w.calls = append(w.calls, append([]poll.Interest(nil), set...))
	if len(w.script) == 0 {
		return nil, errWaitExhausted
	}
	step := w.script[0]
	w.script = w.script[1:]
	if step.err != nil {
		return nil, step.err
	}
	out := make([]poll.Event, len(set))
	copy(out, step.events)
	return out, nil
}

// ev builds readiness for the loop's wait set: link, socket, control.
func ev(events ...poll.Event) waitStep {
	return waitStep{events: events}
}

var (
	linkReady = ev(poll.Readable, 0)
	sockReady = ev(0, poll.Readable)
	writable  = ev(poll.Writable)
)

func newTestTransport(t *testing.T, conn *fakeConn, link *fakeLink, w *fakeWaiter) (*Transport, *metrics.Metrics) {
	t.Helper()

	r := resolve.New(resolve.WithFamilies(true, false))
	remote, err := r.Resolve(context.Background(), testPeer.Addr().String(), testPeer.Port())
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	cfg := DefaultConfig()
	cfg.Waiter = w
	cfg.Metrics = m

	tr := newTransport(RoleInitiator, cfg.Initiator, remote, conn, cfg)
	tr.link = link
	t.Cleanup(tr.Close)
	return tr, m
}
