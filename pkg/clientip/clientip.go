package clientip

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// RealClientIP returns the client address of r, taken from r.RemoteAddr.
// Behind a proxy, mount chi's middleware.RealIP first so RemoteAddr carries
// the forwarded address.
func RealClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	host = strings.Trim(strings.TrimSpace(host), "[]")

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return host
	}
	return addr.Unmap().WithZone("").String()
}

// Key returns the rate-limit bucket for r. IPv4 clients are keyed by
// address, IPv6 clients by their /64 prefix.
func Key(r *http.Request) string {
	ip := RealClientIP(r)
	addr, err := netip.ParseAddr(ip)
	if err != nil || addr.Is4() {
		return ip
	}
	prefix, err := addr.Prefix(64)
	if err != nil {
		return ip
	}
	return prefix.String()
}
