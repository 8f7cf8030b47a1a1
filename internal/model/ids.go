// Package model holds the cluster's data model: nodes, nameservers,
// resources and resource-nodes, plus the validation invariants checked
// once at cluster start.
//
// Cross-entity references are identifier handles, never pointers into one
// another — Resource.OrderedNodeIDs, ResourceNode.NodeID and so on are
// resolved back through the owning ClusterModel. This avoids the reference
// cycles the original Java model has (Resource -> Node -> Resource) and
// keeps every entity's lifetime independent of any other's.
package model

import "strings"

// NodeID identifies a Node. Comparison is case-sensitive.
type NodeID string

// ResourceID identifies a Resource. Comparison is case-sensitive.
type ResourceID string

// NameserverHostname identifies an authoritative nameserver. Comparison is
// case-insensitive, per DNS name semantics.
type NameserverHostname string

// RecordName is a DNS name queried as part of a resource's master or node
// records. Comparison is case-insensitive.
type RecordName string

// Canonical returns the lowercased, trailing-dot-stripped form used for
// equality and map keys.
func (h NameserverHostname) Canonical() string {
	return canonicalHostname(string(h))
}

// Canonical returns the lowercased, trailing-dot-stripped form used for
// equality and map keys.
func (r RecordName) Canonical() string {
	return canonicalHostname(string(r))
}

func canonicalHostname(s string) string {
	return strings.ToLower(strings.TrimSuffix(s, "."))
}
