package model

import "fmt"

// Resource is a replicated unit of application state whose mastership is
// encoded in DNS. Fields are populated once at cluster start (or reload)
// and never mutated afterward; a Resource is a value object shared
// read-only by its ResourceMonitor and PairSynchronizers.
type Resource struct {
	ID               ResourceID
	DisplayName      string
	Enabled          bool
	AllowMultiMaster bool
	MasterRecords    []RecordName
	MasterRecordTTL  int // seconds
	Type             string

	// Nodes holds one ResourceNode per participating node, keyed by
	// NodeID. OrderedNodeIDs lists the same ids in configuration order,
	// for a stable iteration order.
	Nodes          map[NodeID]ResourceNode
	OrderedNodeIDs []NodeID

	// TypeParams carries type-specific configuration sub-keys
	// (appcluster.resource.<id>.<type>.*), opaque to the core.
	TypeParams map[string]string

	// Synchronizer scheduling, shared by every directed pair of this
	// resource. Schedule strings are 5-field cron expressions
	// (minute/hour/dom/month/dow); Years is the separately modeled sixth
	// field, empty meaning "any year".
	SynchronizeSchedule string
	SynchronizeYears    []int
	TestSchedule        string
	TestYears           []int
	SynchronizeTimeout  string
	TestTimeout         string
}

// ResourceNode is the bond between one Resource and one Node: the set of
// DNS names whose A record should point at that node when it is master,
// plus any type-specific parameters for that pairing.
type ResourceNode struct {
	ResourceID  ResourceID
	NodeID      NodeID
	NodeRecords []RecordName
	TypeParams  map[string]string
}

// EnabledNameservers returns the union of nameservers of every enabled
// node participating in this resource, deduplicated by canonical hostname,
// in first-seen order.
func (r Resource) EnabledNameservers(nodes map[NodeID]Node, clusterEnabled bool) []NameserverHostname {
	seen := map[string]bool{}
	var result []NameserverHostname

	for _, id := range r.OrderedNodeIDs {
		node, ok := nodes[id]
		if !ok || !node.EffectiveEnabled(clusterEnabled) {
			continue
		}

		for _, ns := range node.Nameservers {
			key := ns.Canonical()
			if seen[key] {
				continue
			}
			seen[key] = true
			result = append(result, ns)
		}
	}

	return result
}

// AllHostnames returns the deduplicated union of this resource's master
// records and the node records of every enabled resource-node.
func (r Resource) AllHostnames(nodes map[NodeID]Node, clusterEnabled bool) []RecordName {
	seen := map[string]bool{}
	var result []RecordName

	add := func(rn RecordName) {
		key := rn.Canonical()
		if seen[key] {
			return
		}
		seen[key] = true
		result = append(result, rn)
	}

	for _, rn := range r.MasterRecords {
		add(rn)
	}

	for _, id := range r.OrderedNodeIDs {
		node, ok := nodes[id]
		if !ok || !node.EffectiveEnabled(clusterEnabled) {
			continue
		}
		for _, rn := range r.Nodes[id].NodeRecords {
			add(rn)
		}
	}

	return result
}

// ValidationError describes a single violated invariant, checked once at
// cluster start.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("configuration invariant violated: %s", e.Reason)
}
