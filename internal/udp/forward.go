package udp

import (
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/postalsys/pppoat-udp/internal/logging"
	"github.com/postalsys/pppoat-udp/internal/metrics"
	"github.com/postalsys/pppoat-udp/internal/poll"
)

// Run relays bytes between the link and the socket until a fatal error or a
// shutdown request.
//
// rd is the link's read side and is switched to non-blocking mode together
// with the socket. wr receives the payload of every accepted datagram and is
// not polled for reading. ctrl, when non-negative, is watched for readability:
// any data or hang-up on it ends the loop gracefully and Run returns nil.
//
// Every other return is the terminal error: KindBrokenPipe when the link
// reports end of file, KindFatalIO for any non-transient I/O failure.
func (t *Transport) Run(rd, wr, ctrl int) (err error) {
	if t.closed.Load() {
		return newError(KindSocket, "run", ErrSocketClosed)
	}
	if !t.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	t.metrics.RecordLoopStart()
	defer func() {
		t.running.Store(false)
		t.metrics.RecordLoopExit(exitReason(err))
	}()

	if err := t.link.SetNonblock(rd, true); err != nil {
		return newError(KindFatalIO, "set link non-blocking", err)
	}
	if err := t.sock.SetNonblock(true); err != nil {
		return newError(KindFatalIO, "set socket non-blocking", err)
	}

	set := []poll.Interest{
		{Fd: rd, Events: poll.Readable},
		{Fd: t.sock.Fd(), Events: poll.Readable},
	}
	if ctrl >= 0 {
		set = append(set, poll.Interest{Fd: ctrl, Events: poll.Readable})
	}

	t.logger.Debug("forwarding loop started",
		logging.KeyRole, t.role.String(),
		logging.KeyRemoteAddr, t.peer.String())

	for {
		ready, err := t.wait.Wait(set, -1)
		if err != nil {
			return newError(KindFatalIO, "wait", err)
		}

		// The send path reuses the waiter, so the flags are copied first.
		linkReady := ready[0].Has(poll.Readable)
		sockReady := ready[1].Has(poll.Readable)
		if ctrl >= 0 && ready[2].Has(poll.Readable) {
			t.logger.Info("shutdown requested", logging.KeyRole, t.role.String())
			return nil
		}

		if linkReady {
			if err := t.forwardLink(rd); err != nil {
				return err
			}
		}
		if sockReady {
			if err := t.forwardSocket(wr); err != nil {
				return err
			}
		}
	}
}

// forwardLink reads one chunk from the link and sends it as one datagram.
func (t *Transport) forwardLink(rd int) error {
	n, err := t.link.Read(rd, t.buf)
	switch {
	case err != nil && isTransient(err):
		return nil
	case err != nil:
		return newError(KindFatalIO, "read link", err)
	case n == 0:
		return newError(KindBrokenPipe, "read link", unix.EPIPE)
	}
	return t.sendAll(t.buf[:n])
}

// forwardSocket receives one datagram and writes its payload to the link.
func (t *Transport) forwardSocket(wr int) error {
	n, from, err := t.sock.RecvFrom(t.buf)
	if err != nil {
		if isTransient(err) {
			return nil
		}
		return newError(KindFatalIO, "receive", err)
	}

	if t.validateSender && !sameEndpoint(from, t.peer) {
		t.drop(from, n)
		return nil
	}
	if n == 0 {
		return nil
	}

	if err := t.writeLink(wr, t.buf[:n]); err != nil {
		return err
	}
	t.stats.datagramsReceived.Add(1)
	t.stats.bytesReceived.Add(uint64(n))
	t.metrics.RecordReceived(n)
	return nil
}

// writeLink writes all of p to wr, waiting for writability when the
// descriptor is non-blocking and full.
func (t *Transport) writeLink(wr int, p []byte) error {
	for len(p) > 0 {
		n, err := t.link.Write(wr, p)
		switch {
		case err != nil && isInterrupted(err):
			continue
		case err != nil && isWouldBlock(err):
			if _, err := t.wait.Wait([]poll.Interest{{Fd: wr, Events: poll.Writable}}, -1); err != nil {
				return newError(KindFatalIO, "wait link", err)
			}
			continue
		case err != nil:
			return newError(KindFatalIO, "write link", err)
		case n == 0:
			return newError(KindBrokenPipe, "write link", unix.EPIPE)
		}
		p = p[n:]
	}
	return nil
}

func (t *Transport) drop(from netip.AddrPort, n int) {
	t.stats.datagramsDropped.Add(1)
	t.metrics.RecordDrop(metrics.DropForeignSender)
	if t.dropLog.Allow() {
		t.logger.Warn("dropped datagram from unexpected sender",
			logging.KeyFrom, from.String(),
			logging.KeyRemoteAddr, t.peer.String(),
			logging.KeyBytes, n)
	}
}

func sameEndpoint(a, b netip.AddrPort) bool {
	return a.Port() == b.Port() && a.Addr().WithZone("") == b.Addr().WithZone("")
}

func exitReason(err error) string {
	if err == nil {
		return "shutdown"
	}
	if k := KindOf(err); k != 0 {
		return k.String()
	}
	return "error"
}
