package udp

import (
	"github.com/postalsys/pppoat-udp/internal/metrics"
)

// sendAll sends all of p to the remote endpoint. Interrupted sends are retried
// at once; would-block sends wait until the socket is writable. A short send
// advances past the accepted bytes and sends the rest.
func (t *Transport) sendAll(p []byte) error {
	size := len(p)
	for len(p) > 0 {
		n, err := t.sock.SendTo(p, t.peer)
		switch {
		case err != nil && isInterrupted(err):
			t.retried(metrics.RetryInterrupted)
			continue
		case err != nil && isWouldBlock(err), err == nil && n <= 0:
			t.retried(metrics.RetryWouldBlock)
			if _, err := t.wait.Wait(t.sendSet, -1); err != nil {
				return newError(KindFatalIO, "wait socket", err)
			}
			continue
		case err != nil:
			return newError(KindFatalIO, "send", err)
		}

		p = p[n:]
	}

	t.stats.datagramsSent.Add(1)
	t.stats.bytesSent.Add(uint64(size))
	t.metrics.RecordSent(size)
	return nil
}

func (t *Transport) retried(reason string) {
	t.stats.sendRetries.Add(1)
	t.metrics.RecordRetry(reason)
}
