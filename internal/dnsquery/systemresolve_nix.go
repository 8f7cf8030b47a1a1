//go:build !windows
// +build !windows

package dnsquery

import (
	"fmt"
	"net"

	"github.com/miekg/dns"
)

// resolveViaSystemServers resolves hostname to an IPv4 address using the
// operating system's configured resolvers, read directly from
// /etc/resolv.conf. The result feeds ResolverCache.Get, which then
// queries the resolved address directly and repeatedly thereafter.
func resolveViaSystemServers(hostname string) (string, error) {
	if ip := net.ParseIP(hostname); ip != nil && ip.To4() != nil {
		return ip.String(), nil
	}

	config, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return "", fmt.Errorf("resolve nameserver %s: read system resolver config: %w", hostname, err)
	}

	c := new(dns.Client)
	m := new(dns.Msg)
	m.SetQuestion(dns.CanonicalName(hostname), dns.TypeA)
	m.RecursionDesired = true

	var lastErr error
	for _, srv := range config.Servers {
		resp, _, err := c.Exchange(m, net.JoinHostPort(srv, config.Port))
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("%s", dns.RcodeToString[resp.Rcode])
			continue
		}

		for _, rr := range resp.Answer {
			if a, ok := rr.(*dns.A); ok {
				return a.A.String(), nil
			}
		}
		lastErr = fmt.Errorf("no A record for %s", hostname)
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no system resolvers configured")
	}
	return "", fmt.Errorf("resolve nameserver %s: %w", hostname, lastErr)
}
