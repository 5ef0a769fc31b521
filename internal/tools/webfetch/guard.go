package webfetch

import (
	"fmt"
	"net"
	"strings"
)

// checkPublicAddress resolves the host and refuses it when any of its
// addresses is private, loopback, link-local, or unspecified. Running
// the check on resolved addresses rather than the name closes the
// obvious DNS tricks (public name, internal A record).
func checkPublicAddress(host string) error {
	addrs, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", host, err)
	}
	for _, addr := range addrs {
		ip := net.ParseIP(addr)
		if ip == nil {
			return fmt.Errorf("host %q resolved to invalid address %q", host, addr)
		}
		if isPrivateIP(ip) {
			return fmt.Errorf("host %q resolves to private address %s", host, addr)
		}
	}
	return nil
}

// isPrivateIP reports whether ip is outside the public range: RFC 1918
// and ULA space, loopback, link-local, or unspecified.
func isPrivateIP(ip net.IP) bool {
	return ip.IsPrivate() ||
		ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}

// hostAllowed reports whether host matches the allowlist. Matching is
// case-insensitive and exact; an entry never covers its subdomains.
func hostAllowed(host string, allowed []string) bool {
	host = strings.ToLower(host)
	for _, a := range allowed {
		if strings.ToLower(a) == host {
			return true
		}
	}
	return false
}
