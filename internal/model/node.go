package model

// Node is one application-level cluster member. Nodes are created at
// cluster start from configuration and are immutable until the next
// configuration reload rebuilds the whole Cluster.
type Node struct {
	ID          NodeID
	DisplayName string
	Enabled     bool
	Hostname    string // DNS name identifying this node's own A record
	Nameservers []NameserverHostname
}

// EffectiveEnabled reports whether this node participates in DNS
// monitoring and synchronization: the cluster must be enabled and the node
// itself must be enabled.
func (n Node) EffectiveEnabled(clusterEnabled bool) bool {
	return clusterEnabled && n.Enabled
}

// Nameserver is a thin value wrapper around a hostname. Two Nameservers
// with the same (canonical) hostname compare equal regardless of casing or
// a trailing dot.
type Nameserver struct {
	Hostname NameserverHostname
}

// Equal reports whether a and b name the same authoritative nameserver.
func (a Nameserver) Equal(b Nameserver) bool {
	return a.Hostname.Canonical() == b.Hostname.Canonical()
}
