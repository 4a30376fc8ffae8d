package correlator

import (
	"net"
	"net/netip"
	"strings"
)

// Resolver performs reverse-DNS lookups. Production code uses
// net.DefaultResolver; tests substitute a map-backed fake so the merge
// logic can be exercised without a real network (spec §1 treats reverse-DNS
// as an external collaborator).
type Resolver interface {
	LookupAddr(ip string) ([]string, error)
}

// netResolver adapts the standard library's resolver to Resolver.
type netResolver struct{}

func (netResolver) LookupAddr(ip string) ([]string, error) {
	return net.LookupAddr(ip)
}

// NewNetResolver returns the production Resolver backed by the system's
// resolver.
func NewNetResolver() Resolver { return netResolver{} }

// reverseDNSLookup returns the first PTR name for ip, or ip itself if the
// lookup fails (spec §6 "Reverse-DNS key").
func reverseDNSLookup(r Resolver, ip string) string {
	if ip == "" {
		return ""
	}
	names, err := r.LookupAddr(ip)
	if err != nil || len(names) == 0 {
		return ip
	}
	return strings.TrimSuffix(names[0], ".")
}

// reverseDomainName reverses a hostname's dot-separated labels for stable
// alphabetical grouping (spec §6), e.g. "mail.example.com" becomes
// "com.example.mail". If dns parses as an IP literal, it is returned
// unchanged — reversal only makes sense for hostnames.
func reverseDomainName(dns string) string {
	if _, err := netip.ParseAddr(dns); err == nil {
		return dns
	}
	labels := strings.Split(dns, ".")
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	return strings.Join(labels, ".")
}

// isPrivateRemote reports whether ip is private per RFC1918 / IPv6 ULA,
// loopback, link-local (unicast or multicast), or unspecified (spec §4.3
// op 1, §8 property 9), matching the original's
// ipaddress.ip_address(...).is_private check.
func isPrivateRemote(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast() || addr.IsUnspecified()
}
