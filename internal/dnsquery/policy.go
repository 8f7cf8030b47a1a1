package dnsquery

import "time"

// TimeoutPolicy determines the round-trip timeout for a single DNS query
// against one nameserver.
type TimeoutPolicy func(nameserverAddress string) (timeout time.Duration)

// DefaultTimeoutPolicy returns the default TimeoutPolicy, a fixed 30
// second timeout regardless of nameserver address.
func DefaultTimeoutPolicy() TimeoutPolicy {
	return defaultTimeoutPolicy
}

func defaultTimeoutPolicy(string) time.Duration {
	return 30 * time.Second
}
