package model

import "fmt"

// ClusterModel is the arena holding every Node and Resource built from one
// configuration snapshot. It is constructed once per (re)start and never
// mutated afterward; a reload builds a fresh ClusterModel rather than
// patching this one in place.
type ClusterModel struct {
	Enabled bool
	Display string

	Nodes          map[NodeID]Node
	OrderedNodeIDs []NodeID

	Resources          map[ResourceID]Resource
	OrderedResourceIDs []ResourceID
}

// Node looks up a node by id. The bool result reports whether it exists.
func (c *ClusterModel) Node(id NodeID) (Node, bool) {
	n, ok := c.Nodes[id]
	return n, ok
}

// Resource looks up a resource by id. The bool result reports whether it
// exists.
func (c *ClusterModel) Resource(id ResourceID) (Resource, bool) {
	r, ok := c.Resources[id]
	return r, ok
}

// Validate checks the invariants required once at cluster start: unique
// node displays/hostnames, unique resource displays, and
// pairwise-disjoint record sets within each resource. The returned error
// names the first violation found and counts the rest.
func (c *ClusterModel) Validate() error {
	var violations []string

	seenNodeDisplay := map[string]NodeID{}
	seenNodeHostname := map[string]NodeID{}
	for _, id := range c.OrderedNodeIDs {
		n := c.Nodes[id]

		if other, ok := seenNodeDisplay[n.DisplayName]; ok && other != id {
			violations = append(violations, fmt.Sprintf(
				"node display name %q used by both %s and %s", n.DisplayName, other, id))
		} else {
			seenNodeDisplay[n.DisplayName] = id
		}

		hostKey := canonicalHostname(n.Hostname)
		if other, ok := seenNodeHostname[hostKey]; ok && other != id {
			violations = append(violations, fmt.Sprintf(
				"node hostname %q used by both %s and %s", n.Hostname, other, id))
		} else {
			seenNodeHostname[hostKey] = id
		}
	}

	seenResourceDisplay := map[string]ResourceID{}
	for _, rid := range c.OrderedResourceIDs {
		r := c.Resources[rid]

		if other, ok := seenResourceDisplay[r.DisplayName]; ok && other != rid {
			violations = append(violations, fmt.Sprintf(
				"resource display name %q used by both %s and %s", r.DisplayName, other, rid))
		} else {
			seenResourceDisplay[r.DisplayName] = rid
		}

		violations = append(violations, validateRecordDisjointness(r)...)
	}

	if len(violations) == 0 {
		return nil
	}

	msg := violations[0]
	if len(violations) > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, len(violations)-1)
	}
	return ValidationError{Reason: msg}
}

func validateRecordDisjointness(r Resource) []string {
	var violations []string

	owners := map[string]string{} // canonical record -> owning description
	claim := func(rn RecordName, owner string) {
		key := rn.Canonical()
		if prior, ok := owners[key]; ok {
			violations = append(violations, fmt.Sprintf(
				"resource %s: record %q claimed by both %s and %s", r.ID, rn, prior, owner))
			return
		}
		owners[key] = owner
	}

	for _, rn := range r.MasterRecords {
		claim(rn, fmt.Sprintf("resource %s master records", r.ID))
	}

	for _, nodeID := range r.OrderedNodeIDs {
		rn := r.Nodes[nodeID]
		owner := fmt.Sprintf("resource %s node %s", r.ID, nodeID)
		for _, rec := range rn.NodeRecords {
			claim(rec, owner)
		}
	}

	return violations
}
