package dnsquery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/miekg/dns"
)

// Lookup performs a single, absolute (non-recursive) A-record query for
// record against resolver, and classifies the response.
//
// masterRecordTTL and isMasterRecord drive the TTL-consistency warning:
// when isMasterRecord is true, every returned A record's TTL is compared
// against masterRecordTTL, and a mismatch appends an unexpectedTtl
// warning without affecting Status.
//
// Lookup never returns a Go error and never panics: any failure, from a
// malformed response to a transport error to an internal invariant
// violation, is captured into the returned LookupResult so a bad
// nameserver can never crash the monitor.
func Lookup(ctx context.Context, resolver *Resolver, record string, masterRecordTTL time.Duration, isMasterRecord bool) (result LookupResult) {
	name := dns.CanonicalName(record)

	defer func() {
		if r := recover(); r != nil {
			result = newLookupResult(name, resolver.address)
			result.Status = StatusUnrecoverable
			result.Errors = []string{fmt.Sprintf("panic: %v", r)}
		}
	}()

	result = newLookupResult(name, resolver.address)

	timeout := resolver.timeoutPolicy(resolver.address)
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	m := new(dns.Msg)
	m.SetQuestion(name, dns.TypeA)
	m.RecursionDesired = false

	resp, _, err := resolver.client.ExchangeContext(ctx, m, resolver.address)
	if err != nil {
		result.Status = classifyTransportError(err)
		result.Errors = []string{err.Error()}
		return result
	}

	return classifyResponse(result, resp, masterRecordTTL, isMasterRecord)
}

func classifyTransportError(err error) LookupStatus {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StatusTryAgain
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTryAgain
	}
	return StatusUnrecoverable
}

func classifyResponse(result LookupResult, resp *dns.Msg, masterRecordTTL time.Duration, isMasterRecord bool) LookupResult {
	switch resp.Rcode {
	case dns.RcodeNameError:
		result.Status = StatusHostNotFound
		return result
	case dns.RcodeServerFailure:
		result.Status = StatusTryAgain
		result.Errors = []string{"SERVFAIL"}
		return result
	case dns.RcodeRefused, dns.RcodeFormatError, dns.RcodeNotImplemented:
		result.Status = StatusUnrecoverable
		result.Errors = []string{dns.RcodeToString[resp.Rcode]}
		return result
	case dns.RcodeSuccess:
		// fall through
	default:
		result.Status = StatusUnrecoverable
		result.Errors = []string{fmt.Sprintf("unexpected rcode: %s", dns.RcodeToString[resp.Rcode])}
		return result
	}

	var addrs []string
	var warnings []string
	sawOtherType := false

	for _, rr := range resp.Answer {
		a, ok := rr.(*dns.A)
		if !ok {
			sawOtherType = true
			continue
		}

		addrs = append(addrs, a.A.String())

		if isMasterRecord {
			ttl := time.Duration(a.Hdr.Ttl) * time.Second
			if ttl != masterRecordTTL {
				warnings = append(warnings, fmt.Sprintf(
					"unexpectedTtl: %s has TTL %s, expected %s", result.Name, ttl, masterRecordTTL))
			}
		}
	}

	sort.Strings(warnings)
	result.Warnings = sortUniqueStrings(warnings)

	if len(addrs) == 0 {
		if sawOtherType {
			result.Status = StatusTypeNotFound
		} else {
			result.Status = StatusHostNotFound
		}
		return result
	}

	result.Status = StatusSuccessful
	result.Addresses = sortUniqueStrings(addrs)
	return result
}
