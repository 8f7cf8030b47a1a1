package dnsquery

import (
	"net"
	"sync"

	"github.com/miekg/dns"
)

// Resolver is a handle for querying one specific authoritative nameserver.
// ResolverCache creates and caches Resolvers by nameserver hostname;
// NewResolver builds one directly for a known address.
type Resolver struct {
	Hostname      string
	address       string // ip:port
	timeoutPolicy TimeoutPolicy
	client        *dns.Client
}

func newResolver(hostname, ip string, policy TimeoutPolicy) *Resolver {
	return NewResolver(hostname, net.JoinHostPort(ip, "53"), policy)
}

// NewResolver builds a Resolver that queries the nameserver at address
// (an "ip:port" pair) directly, bypassing hostname resolution. Exported
// for callers that already know a nameserver's address — configured
// literal IPs, and tests driving a fake nameserver via dnstest.
func NewResolver(hostname, address string, policy TimeoutPolicy) *Resolver {
	if policy == nil {
		policy = DefaultTimeoutPolicy()
	}

	return &Resolver{
		Hostname:      hostname,
		address:       address,
		timeoutPolicy: policy,
		client:        new(dns.Client),
	}
}

// ResolverCache keeps one Resolver per authoritative-nameserver hostname,
// keyed case-insensitively. Get is concurrency-safe and idempotent.
// Entries are never evicted: the set of nameservers is bounded by
// configuration, not by traffic, so there is nothing to reclaim.
type ResolverCache struct {
	TimeoutPolicy TimeoutPolicy

	mu        sync.Mutex
	resolvers map[string]*Resolver
	pending   map[string]chan struct{}
}

// NewResolverCache returns an empty, process-wide resolver cache.
func NewResolverCache() *ResolverCache {
	return &ResolverCache{
		resolvers: map[string]*Resolver{},
		pending:   map[string]chan struct{}{},
	}
}

// Get returns the cached Resolver for hostname, building and caching one
// if this is the first request for that hostname. Concurrent calls for the
// same hostname block behind a single-entry barrier so only one goroutine
// ever resolves and dials a given nameserver's address.
func (rc *ResolverCache) Get(hostname string) (*Resolver, error) {
	key := canonicalHostname(hostname)

	for {
		rc.mu.Lock()
		if r, ok := rc.resolvers[key]; ok {
			rc.mu.Unlock()
			return r, nil
		}
		if wait, ok := rc.pending[key]; ok {
			rc.mu.Unlock()
			<-wait
			continue
		}

		done := make(chan struct{})
		rc.pending[key] = done
		rc.mu.Unlock()

		ip, err := resolveViaSystemServers(hostname)

		rc.mu.Lock()
		delete(rc.pending, key)
		if err == nil {
			rc.resolvers[key] = newResolver(hostname, ip, rc.TimeoutPolicy)
		}
		rc.mu.Unlock()
		close(done)

		if err != nil {
			return nil, err
		}
		return rc.Get(hostname)
	}
}
