package server

import "net"

// AddressFilter decides whether an accepted connection's remote IP is
// allowed to become a session.
//
// Ref: spec.md Section 6.2 ("AddressFilter{Any | Exact(Set<IpAddr>) |
// Wildcard}")
type AddressFilter struct {
	mode    filterMode
	exact   map[string]struct{}
	subnets []*net.IPNet
}

type filterMode int

const (
	filterAny filterMode = iota
	filterExact
	filterSubnets
)

// AnyAddress allows every remote address.
func AnyAddress() AddressFilter {
	return AddressFilter{mode: filterAny}
}

// ExactAddresses allows only the given IPs.
func ExactAddresses(ips ...net.IP) AddressFilter {
	set := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		set[ip.String()] = struct{}{}
	}
	return AddressFilter{mode: filterExact, exact: set}
}

// SubnetAddresses allows any address contained in one of the given CIDR
// blocks, standing in for spec.md's "Wildcard" filter mode.
func SubnetAddresses(subnets ...*net.IPNet) AddressFilter {
	return AddressFilter{mode: filterSubnets, subnets: subnets}
}

// Allows reports whether addr may proceed to a session.
func (f AddressFilter) Allows(addr net.IP) bool {
	switch f.mode {
	case filterAny:
		return true
	case filterExact:
		_, ok := f.exact[addr.String()]
		return ok
	case filterSubnets:
		for _, n := range f.subnets {
			if n.Contains(addr) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
