package dnsquery

import "strings"

func canonicalHostname(s string) string {
	return strings.ToLower(strings.TrimSuffix(s, "."))
}
