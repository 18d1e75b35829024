package udp

import (
	"context"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/postalsys/pppoat-udp/internal/logging"
	"github.com/postalsys/pppoat-udp/internal/metrics"
	"github.com/postalsys/pppoat-udp/internal/poll"
	"github.com/postalsys/pppoat-udp/internal/resolve"
)

// packetConn is the datagram side of the loop. *Socket implements it.
type packetConn interface {
	Fd() int
	LocalAddr() netip.AddrPort
	SetNonblock(on bool) error
	SendTo(p []byte, to netip.AddrPort) (int, error)
	RecvFrom(p []byte) (int, netip.AddrPort, error)
	Close() error
}

// linkIO performs raw I/O on the link descriptors.
type linkIO interface {
	Read(fd int, p []byte) (int, error)
	Write(fd int, p []byte) (int, error)
	SetNonblock(fd int, on bool) error
}

type fdIO struct{}

func (fdIO) Read(fd int, p []byte) (int, error)  { return unix.Read(fd, p) }
func (fdIO) Write(fd int, p []byte) (int, error) { return unix.Write(fd, p) }
func (fdIO) SetNonblock(fd int, on bool) error   { return unix.SetNonblock(fd, on) }

// Transport is the transport context: the selected role, the resolved remote
// endpoint and the bound socket. It is created by New and destroyed by Close.
type Transport struct {
	role      Role
	endpoints Endpoints
	remote    *resolve.Result
	peer      netip.AddrPort
	sock      packetConn
	link      linkIO
	wait      poll.Waiter

	// buf is reused by the loop for both directions.
	buf     []byte
	sendSet []poll.Interest

	validateSender bool
	metrics        *metrics.Metrics
	logger         *slog.Logger
	dropLog        *rate.Limiter

	running atomic.Bool
	closed  atomic.Bool
	stats   counters
}

type counters struct {
	datagramsSent     atomic.Uint64
	datagramsReceived atomic.Uint64
	datagramsDropped  atomic.Uint64
	bytesSent         atomic.Uint64
	bytesReceived     atomic.Uint64
	sendRetries       atomic.Uint64
}

// Stats is a snapshot of transport counters.
type Stats struct {
	Role              string `json:"role"`
	LocalAddr         string `json:"local_addr"`
	RemoteAddr        string `json:"remote_addr"`
	Running           bool   `json:"running"`
	DatagramsSent     uint64 `json:"datagrams_sent"`
	DatagramsReceived uint64 `json:"datagrams_received"`
	DatagramsDropped  uint64 `json:"datagrams_dropped"`
	BytesSent         uint64 `json:"bytes_sent"`
	BytesReceived     uint64 `json:"bytes_received"`
	SendRetries       uint64 `json:"send_retries"`
}

// New initialises a transport. The role comes from the "server" option, the
// endpoints for that role from cfg. The remote endpoint is resolved first and
// the local socket is then bound in the remote address's family. If any step
// fails, everything acquired so far is released before the error is returned.
func New(ctx context.Context, opts Options, cfg Config) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Resolver == nil {
		cfg.Resolver = resolve.New()
	}

	role := SelectRole(opts)
	ep := cfg.Endpoints(role)

	remote, err := cfg.Resolver.Resolve(ctx, ep.RemoteHost, ep.RemotePort)
	if err != nil {
		return nil, newError(KindResolution, "resolve remote", err)
	}

	sock, err := OpenBound(ctx, cfg.Resolver, ep.LocalPort, resolve.FamilyOf(remote.First().Addr()))
	if err != nil {
		remote.Release()
		return nil, err
	}

	t := newTransport(role, ep, remote, sock, cfg)
	t.logger.Info("udp transport initialised",
		logging.KeyRole, role.String(),
		logging.KeyLocalAddr, sock.LocalAddr().String(),
		logging.KeyRemoteAddr, t.peer.String())
	return t, nil
}

func newTransport(role Role, ep Endpoints, remote *resolve.Result, sock packetConn, cfg Config) *Transport {
	if cfg.Waiter == nil {
		cfg.Waiter = poll.NewPoller()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NopLogger()
	}
	if cfg.MaxDatagramSize == 0 {
		cfg.MaxDatagramSize = DefaultMaxDatagramSize
	}

	return &Transport{
		role:           role,
		endpoints:      ep,
		remote:         remote,
		peer:           remote.First(),
		sock:           sock,
		link:           fdIO{},
		wait:           cfg.Waiter,
		buf:            make([]byte, cfg.MaxDatagramSize),
		sendSet:        []poll.Interest{{Fd: sock.Fd(), Events: poll.Writable}},
		validateSender: cfg.ValidateSender,
		metrics:        cfg.Metrics,
		logger:         logging.Component(cfg.Logger, "udp"),
		dropLog:        rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Close closes the socket and releases the resolved remote address. Calls
// after the first do nothing.
func (t *Transport) Close() {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	if err := t.sock.Close(); err != nil {
		t.logger.Debug("socket close failed", logging.KeyError, err)
	}
	t.remote.Release()
	t.logger.Info("udp transport closed", logging.KeyRole, t.role.String())
}

// Role returns the selected role.
func (t *Transport) Role() Role {
	return t.role
}

// Endpoints returns the endpoint triple in use.
func (t *Transport) Endpoints() Endpoints {
	return t.endpoints
}

// RemoteAddr returns the address datagrams are sent to.
func (t *Transport) RemoteAddr() netip.AddrPort {
	return t.peer
}

// LocalAddr returns the bound local address.
func (t *Transport) LocalAddr() netip.AddrPort {
	return t.sock.LocalAddr()
}

// IsRunning reports whether the forwarding loop is executing.
func (t *Transport) IsRunning() bool {
	return t.running.Load()
}

// Stats returns a snapshot of the transport counters.
func (t *Transport) Stats() Stats {
	return Stats{
		Role:              t.role.String(),
		LocalAddr:         t.LocalAddr().String(),
		RemoteAddr:        t.peer.String(),
		Running:           t.running.Load(),
		DatagramsSent:     t.stats.datagramsSent.Load(),
		DatagramsReceived: t.stats.datagramsReceived.Load(),
		DatagramsDropped:  t.stats.datagramsDropped.Load(),
		BytesSent:         t.stats.bytesSent.Load(),
		BytesReceived:     t.stats.bytesReceived.Load(),
		SendRetries:       t.stats.sendRetries.Load(),
	}
}
