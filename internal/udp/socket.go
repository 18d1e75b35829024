package udp

import (
	"context"
	"net"
	"net/netip"
	"strconv"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/postalsys/pppoat-udp/internal/resolve"
)

// Socket is a bound UDP socket owned by a single transport.
type Socket struct {
	fd     int
	local  netip.AddrPort
	closed atomic.Bool
}

// OpenBound resolves the wildcard address for port, creates a datagram socket
// of the requested family and binds it. FamilyAny takes the first candidate.
// A specific family that the host has no configured address for still binds
// that family's wildcard, matching a remote literal of the same family.
// On failure nothing is left open and the resolution result is released.
func OpenBound(ctx context.Context, r *resolve.Resolver, port uint16, family resolve.Family) (*Socket, error) {
	res, err := r.Resolve(ctx, "", port)
	if err != nil {
		return nil, newError(KindResolution, "resolve local", err)
	}
	defer res.Release()

	addr, ok := res.FirstOf(family)
	if !ok {
		if addr, ok = wildcard(family, port); !ok {
			return nil, newError(KindResolution, "resolve local",
				&resolve.Error{Port: port, Err: resolve.ErrNoAddress})
		}
	}
	return bindSocket(addr)
}

func wildcard(family resolve.Family, port uint16) (netip.AddrPort, bool) {
	switch family {
	case resolve.FamilyIPv4:
		return netip.AddrPortFrom(netip.IPv4Unspecified(), port), true
	case resolve.FamilyIPv6:
		return netip.AddrPortFrom(netip.IPv6Unspecified(), port), true
	}
	return netip.AddrPort{}, false
}

func bindSocket(addr netip.AddrPort) (*Socket, error) {
	domain := unix.AF_INET
	if addr.Addr().Is6() {
		domain = unix.AF_INET6
	}

	syscall.ForkLock.RLock()
	fd, err := unix.Socket(domain, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err == nil {
		unix.CloseOnExec(fd)
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return nil, newError(KindSocket, "socket", err)
	}

	if err := unix.Bind(fd, sockaddr(addr)); err != nil {
		unix.Close(fd)
		return nil, newError(KindSocket, "bind "+addr.String(), err)
	}

	local := addr
	if sa, err := unix.Getsockname(fd); err == nil {
		if ap, ok := addrPortOf(sa); ok {
			local = ap
		}
	}
	return &Socket{fd: fd, local: local}, nil
}

// Fd returns the socket descriptor.
func (s *Socket) Fd() int {
	return s.fd
}

// LocalAddr returns the bound address, with the kernel-chosen port when the
// socket was bound to port zero.
func (s *Socket) LocalAddr() netip.AddrPort {
	return s.local
}

// SetNonblock toggles O_NONBLOCK on the descriptor.
func (s *Socket) SetNonblock(on bool) error {
	return unix.SetNonblock(s.fd, on)
}

// SendTo sends p as one datagram and returns the number of bytes accepted.
func (s *Socket) SendTo(p []byte, to netip.AddrPort) (int, error) {
	return unix.SendmsgN(s.fd, p, nil, sockaddr(to), 0)
}

// RecvFrom receives one datagram into p.
func (s *Socket) RecvFrom(p []byte) (int, netip.AddrPort, error) {
	n, sa, err := unix.Recvfrom(s.fd, p, 0)
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	from, _ := addrPortOf(sa)
	return n, from, nil
}

// Close closes the descriptor. Later calls return ErrSocketClosed.
func (s *Socket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrSocketClosed
	}
	return unix.Close(s.fd)
}

func sockaddr(ap netip.AddrPort) unix.Sockaddr {
	addr := ap.Addr()
	if addr.Is4() {
		return &unix.SockaddrInet4{Port: int(ap.Port()), Addr: addr.As4()}
	}
	sa := &unix.SockaddrInet6{Port: int(ap.Port()), Addr: addr.As16()}
	if zone := addr.Zone(); zone != "" {
		sa.ZoneId = zoneIndex(zone)
	}
	return sa
}

func zoneIndex(zone string) uint32 {
	if ifi, err := net.InterfaceByName(zone); err == nil {
		return uint32(ifi.Index)
	}
	n, _ := strconv.ParseUint(zone, 10, 32)
	return uint32(n)
}

func addrPortOf(sa unix.Sockaddr) (netip.AddrPort, bool) {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port)), true
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr).Unmap(), uint16(sa.Port)), true
	default:
		return netip.AddrPort{}, false
	}
}
