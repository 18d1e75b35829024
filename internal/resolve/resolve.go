// Package resolve turns (host, port) pairs into UDP socket addresses.
//
// Resolution follows getaddrinfo with AF_UNSPEC and AI_ADDRCONFIG: an address
// family is only offered when the host has a non-loopback address of that
// family configured. An empty host requests the passive (wildcard) address
// used for local binds.
//
// Every Result handed out by a Resolver must be released with Release. The
// resolver keeps count of results that are still outstanding.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync/atomic"
)

// ErrNoAddress is reported when a lookup succeeds but leaves no address of a
// permitted family.
var ErrNoAddress = errors.New("no suitable address")

// Family is an address family filter.
type Family int

const (
	// FamilyAny matches both IPv4 and IPv6.
	FamilyAny Family = iota
	// FamilyIPv4 matches IPv4 addresses only.
	FamilyIPv4
	// FamilyIPv6 matches IPv6 addresses only.
	FamilyIPv6
)

// String returns the family name.
func (f Family) String() string {
	switch f {
	case FamilyAny:
		return "any"
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// Matches reports whether addr belongs to the family.
func (f Family) Matches(addr netip.Addr) bool {
	switch f {
	case FamilyIPv4:
		return addr.Is4()
	case FamilyIPv6:
		return addr.Is6()
	default:
		return addr.IsValid()
	}
}

// FamilyOf returns the family of addr.
func FamilyOf(addr netip.Addr) Family {
	if addr.Is4() || addr.Is4In6() {
		return FamilyIPv4
	}
	if addr.Is6() {
		return FamilyIPv6
	}
	return FamilyAny
}

// Error is returned when resolution fails. Err holds the lookup engine's
// error, typically a *net.DNSError, or ErrNoAddress.
type Error struct {
	Host string
	Port uint16
	Err  error
}

func (e *Error) Error() string {
	host := e.Host
	if host == "" {
		host = "*"
	}
	return fmt.Sprintf("resolve %s: %v", net.JoinHostPort(host, strconv.Itoa(int(e.Port))), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Lookuper performs name lookups. *net.Resolver satisfies it.
type Lookuper interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLookuper replaces the system resolver.
func WithLookuper(l Lookuper) Option {
	return func(r *Resolver) {
		r.lookup = l
	}
}

// WithFamilies fixes the permitted address families instead of deriving them
// from the host's interface addresses.
func WithFamilies(ipv4, ipv6 bool) Option {
	return func(r *Resolver) {
		r.families = func() (bool, bool) { return ipv4, ipv6 }
	}
}

// Resolver resolves endpoints and tracks the results it hands out.
// It is safe for concurrent use.
type Resolver struct {
	lookup      Lookuper
	families    func() (ipv4, ipv6 bool)
	outstanding atomic.Int64
}

// New creates a Resolver backed by net.DefaultResolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		lookup:   net.DefaultResolver,
		families: addrConfig,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the candidate addresses for host and port in preference
// order. An empty host yields the wildcard addresses of the permitted
// families, IPv4 first. A literal IP host is returned as is without a lookup.
// Resolve never retries; a failed lookup is reported immediately.
func (r *Resolver) Resolve(ctx context.Context, host string, port uint16) (*Result, error) {
	ipv4, ipv6 := r.families()

	var addrs []netip.Addr
	switch {
	case host == "":
		if ipv4 {
			addrs = append(addrs, netip.IPv4Unspecified())
		}
		if ipv6 {
			addrs = append(addrs, netip.IPv6Unspecified())
		}
	default:
		if ip, err := netip.ParseAddr(host); err == nil {
			addrs = append(addrs, ip.Unmap())
			break
		}
		found, err := r.lookup.LookupNetIP(ctx, "ip", host)
		if err != nil {
			return nil, &Error{Host: host, Port: port, Err: err}
		}
		for _, ip := range found {
			ip = ip.Unmap()
			if (ip.Is4() && ipv4) || (ip.Is6() && ipv6) {
				addrs = appendUnique(addrs, ip)
			}
		}
	}

	if len(addrs) == 0 {
		return nil, &Error{Host: host, Port: port, Err: ErrNoAddress}
	}

	res := &Result{
		owner: r,
		addrs: make([]netip.AddrPort, len(addrs)),
	}
	for i, ip := range addrs {
		res.addrs[i] = netip.AddrPortFrom(ip, port)
	}
	r.outstanding.Add(1)
	return res, nil
}

// Outstanding returns the number of results not yet released.
func (r *Resolver) Outstanding() int {
	return int(r.outstanding.Load())
}

func appendUnique(addrs []netip.Addr, ip netip.Addr) []netip.Addr {
	for _, a := range addrs {
		if a == ip {
			return addrs
		}
	}
	return append(addrs, ip)
}

// addrConfig reports which families have a configured non-loopback address.
// IPv6 link-local addresses do not count. When nothing is configured both
// families are permitted.
func addrConfig() (ipv4, ipv6 bool) {
	ifaddrs, err := net.InterfaceAddrs()
	if err != nil {
		return true, true
	}
	for _, a := range ifaddrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip, ok := netip.AddrFromSlice(ipnet.IP)
		if !ok {
			continue
		}
		ip = ip.Unmap()
		switch {
		case ip.IsLoopback():
		case ip.Is4():
			ipv4 = true
		case !ip.IsLinkLocalUnicast():
			ipv6 = true
		}
	}
	if !ipv4 && !ipv6 {
		return true, true
	}
	return ipv4, ipv6
}
