package resolve

import (
	"net/netip"
	"sync/atomic"
)

// Result is an owned, immutable list of resolved addresses.
type Result struct {
	owner    *Resolver
	addrs    []netip.AddrPort
	released atomic.Bool
}

// Addrs returns a copy of the resolved addresses in preference order.
func (r *Result) Addrs() []netip.AddrPort {
	out := make([]netip.AddrPort, len(r.addrs))
	copy(out, r.addrs)
	return out
}

// Len returns the number of resolved addresses.
func (r *Result) Len() int {
	return len(r.addrs)
}

// First returns the preferred address.
func (r *Result) First() netip.AddrPort {
	return r.addrs[0]
}

// FirstOf returns the first address of the given family.
func (r *Result) FirstOf(f Family) (netip.AddrPort, bool) {
	for _, ap := range r.addrs {
		if f.Matches(ap.Addr()) {
			return ap, true
		}
	}
	return netip.AddrPort{}, false
}

// Release returns the result to its resolver. Only the first call has an
// effect; a nil Result is ignored.
func (r *Result) Release() {
	if r == nil {
		return
	}
	if r.released.CompareAndSwap(false, true) {
		r.owner.outstanding.Add(-1)
	}
}

// Released reports whether Release has been called.
func (r *Result) Released() bool {
	return r.released.Load()
}
