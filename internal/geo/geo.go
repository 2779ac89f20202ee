// Package geo resolves source IPs to a coarse location through an ordered
// chain of external providers, with a bounded in-process cache.
package geo

import (
	"context"
	"errors"
	"net/netip"
	"strings"
)

// Common geolocation errors.
var (
	ErrLookupFailed = errors.New("all geolocation providers failed")
	ErrRateLimited  = errors.New("provider rate limit exceeded")
	ErrEmptyResult  = errors.New("provider returned no location")
	ErrInvalidIP    = errors.New("invalid IP address")
)

// Location is what a provider knows about an IP.
type Location struct {
	CountryCode string
	CountryName string
	City        string
}

// Empty reports whether the location carries no country information.
func (l Location) Empty() bool {
	return l.CountryCode == "" && l.CountryName == ""
}

// Provider looks up one IP address against one external service.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, ip string) (Location, error)
}

// reservedPrefixes are not routable on the public internet but are not
// covered by the netip.Addr predicates.
var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),   // carrier-grade NAT
	netip.MustParsePrefix("192.0.0.0/24"),    // IETF protocol assignments
	netip.MustParsePrefix("192.0.2.0/24"),    // TEST-NET-1
	netip.MustParsePrefix("198.18.0.0/15"),   // benchmarking
	netip.MustParsePrefix("198.51.100.0/24"), // TEST-NET-2
	netip.MustParsePrefix("203.0.113.0/24"),  // TEST-NET-3
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("2001:db8::/32"), // documentation
}

// NormalizeIP parses a client address as it arrives from proxies and
// RemoteAddr: it accepts "ip", "ip:port", "[v6]:port", zones and the first
// entry of a comma-separated forwarding chain.
func NormalizeIP(raw string) (netip.Addr, bool) {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if s == "" {
		return netip.Addr{}, false
	}

	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().WithZone("").Unmap(), true
	}

	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.WithZone("").Unmap(), true
}

// IsPublic reports whether addr can be meaningfully geolocated. Loopback,
// private, link-local, multicast, unspecified and documentation ranges
// cannot.
func IsPublic(addr netip.Addr) bool {
	if !addr.IsValid() ||
		addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast() {
		return false
	}
	for _, prefix := range reservedPrefixes {
		if prefix.Contains(addr) {
			return false
		}
	}
	return true
}
