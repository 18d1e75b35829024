// Package udp implements the PPP-over-UDP transport: it carries the byte
// stream of a local point-to-point link over UDP datagrams.
//
// The package covers three pieces:
//   - Socket management: OpenBound resolves a wildcard local address and
//     returns a bound datagram socket.
//   - Module init and fini: New selects the node role from the "server"
//     option, resolves the remote endpoint and opens the local socket;
//     Close releases both.
//   - The forwarding loop: Run relays bytes between the link descriptors and
//     the socket using readiness-based waiting, retrying partial and
//     would-block sends.
//
// # Framing
//
// There is no framing above UDP. Each read from the link becomes exactly one
// datagram, so a single read is bounded by Config.MaxDatagramSize, which also
// sizes the receive buffer. Peers must use the same value.
//
// # Errors
//
// Failures are reported as *Error values whose Kind is one of KindResolution,
// KindSocket, KindBrokenPipe or KindFatalIO. Transient conditions (EAGAIN,
// EWOULDBLOCK, EINTR) are absorbed by the loop and never returned.
//
// # Thread Safety
//
// A Transport runs a single loop. Run must not be called concurrently and
// Close must not be called while Run is executing. Stats and IsRunning may be
// called from any goroutine.
package udp
