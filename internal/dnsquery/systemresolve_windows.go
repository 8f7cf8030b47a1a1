package dnsquery

import (
	"fmt"
	"net"
)

// resolveViaSystemServers resolves hostname to an IPv4 address. Go's
// miekg/dns has no portable way to read the Windows resolver configuration,
// so on Windows this falls back to the standard library's resolver, which
// does know how to talk to the configured adapters.
func resolveViaSystemServers(hostname string) (string, error) {
	if ip := net.ParseIP(hostname); ip != nil && ip.To4() != nil {
		return ip.String(), nil
	}

	addrs, err := net.LookupIP(hostname)
	if err != nil {
		return "", fmt.Errorf("resolve nameserver %s: %w", hostname, err)
	}
	for _, a := range addrs {
		if v4 := a.To4(); v4 != nil {
			return v4.String(), nil
		}
	}
	return "", fmt.Errorf("resolve nameserver %s: no A record", hostname)
}
