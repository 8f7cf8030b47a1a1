package monitor

import (
	"fmt"
	"sort"

	"github.com/ao-appcluster/appcluster/internal/dnsquery"
	"github.com/ao-appcluster/appcluster/internal/model"
)

// classify performs nameserver agreement, master-record completeness and
// multi-master enforcement, per-node uniqueness, the master/node
// cross-check, and final node classification.
func (m *ResourceMonitor) classify(lookups RecordLookups) *ResourceDnsResult {
	result := &ResourceDnsResult{
		MasterRecordLookups: RecordLookups{},
		NodeResults:         map[model.NodeID]ResourceNodeDnsResult{},
	}

	var masterMessages []string
	masterInconsistent := false
	addMasterMsg := func(msg string) {
		masterInconsistent = true
		masterMessages = append(masterMessages, msg)
	}

	// Step 3: per-nameserver agreement, one hostname at a time, in a
	// deterministic (sorted) order so "the first disagreement witnessed"
	// is reproducible rather than dependent on map iteration order. The
	// first disagreement witnessed this tick sets the message; later
	// disagreements are suppressed.
	for _, hostname := range sortedHostnames(lookups) {
		if msg, disagree := firstDisagreement(hostname, lookups[hostname]); disagree {
			addMasterMsg(msg)
			break
		}
	}

	// Split lookups into master-record lookups vs per-resource-node
	// lookups, and build the dense per-record maps classification needs.
	masterRecordSet := map[string]bool{}
	for _, rn := range m.resource.MasterRecords {
		masterRecordSet[rn.Canonical()] = true
	}
	for hostname, byNs := range lookups {
		if masterRecordSet[hostname.Canonical()] {
			result.MasterRecordLookups[hostname] = byNs
		}
	}

	// Step 4: master-record completeness and multi-master. These checks
	// read the union of every nameserver's answer, which only describes
	// the record when the nameservers agree, so they are skipped once
	// step 3 has found a disagreement.
	var masterAddressSet []string
	haveMasterAddressSet := false
	nameserversDisagree := masterInconsistent
	for _, rn := range m.resource.MasterRecords {
		if nameserversDisagree {
			break
		}
		addrs := representativeAddresses(lookups[rn])

		if len(addrs) == 0 {
			addMasterMsg(fmt.Sprintf("master record missing: %s has no A records", rn))
			continue
		}
		if len(addrs) > 1 && !m.resource.AllowMultiMaster {
			addMasterMsg(fmt.Sprintf("multi-master not allowed: %s resolves to %v", rn, addrs))
		}

		if !haveMasterAddressSet {
			masterAddressSet = addrs
			haveMasterAddressSet = true
		} else if !equalStringSlices(masterAddressSet, addrs) {
			addMasterMsg(fmt.Sprintf("master records disagree: one resolves to %v, another to %v", masterAddressSet, addrs))
		}
	}

	// Step 5: per-node uniqueness.
	nodeAddressSet := map[model.NodeID][]string{}
	firstAddrByNode := map[model.NodeID]string{}
	seenFirstAddr := map[string]model.NodeID{}

	for _, nodeID := range m.resource.OrderedNodeIDs {
		node, ok := m.nodes[nodeID]
		if !ok || !node.EffectiveEnabled(m.clusterEnabled) {
			continue
		}
		rn := m.resource.Nodes[nodeID]

		nodeLookups := RecordLookups{}
		for _, rec := range rn.NodeRecords {
			if byNs, ok := lookups[rec]; ok {
				nodeLookups[rec] = byNs
			}
		}

		var messages []string
		nodeInconsistent := false
		var recordAddrSet []string
		haveRecordAddrSet := false

		for _, rec := range rn.NodeRecords {
			addrs := representativeAddresses(lookups[rec])
			if len(addrs) != 1 {
				nodeInconsistent = true
				messages = append(messages, fmt.Sprintf(
					"node record %s does not resolve to exactly one address: %v", rec, addrs))
				continue
			}

			if !haveRecordAddrSet {
				recordAddrSet = addrs
				haveRecordAddrSet = true
			} else if !equalStringSlices(recordAddrSet, addrs) {
				nodeInconsistent = true
				messages = append(messages, fmt.Sprintf(
					"node records disagree for node %s", nodeID))
			}
		}

		if haveRecordAddrSet {
			nodeAddressSet[nodeID] = recordAddrSet
			first := recordAddrSet[0]
			firstAddrByNode[nodeID] = first

			if other, dup := seenFirstAddr[first]; dup {
				nodeInconsistent = true
				messages = append(messages, fmt.Sprintf(
					"duplicate A: node %s and node %s both resolve to %s", other, nodeID, first))
				otherResult := result.NodeResults[other]
				otherResult.NodeStatus = ClassificationInconsistent
				otherResult.NodeStatusMessages = append(otherResult.NodeStatusMessages, messages[len(messages)-1])
				result.NodeResults[other] = otherResult
			} else {
				seenFirstAddr[first] = nodeID
			}
		}

		result.NodeResults[nodeID] = ResourceNodeDnsResult{
			ResourceNode:       rn,
			NodeRecordLookups:  nodeLookups,
			NodeStatus:         classificationFromInconsistent(nodeInconsistent),
			NodeStatusMessages: messages,
		}
	}

	// Step 6: master <-> node cross-check.
	if haveMasterAddressSet && !masterInconsistent {
		for _, addr := range masterAddressSet {
			found := false
			for _, addrs := range nodeAddressSet {
				if containsString(addrs, addr) {
					found = true
					break
				}
			}
			if !found {
				addMasterMsg(fmt.Sprintf("master A record doesn't match any node: %s", addr))
			}
		}
	}

	// Step 7: classify each node against the master address set.
	for nodeID, nr := range result.NodeResults {
		if nr.NodeStatus == ClassificationInconsistent {
			continue
		}
		if masterInconsistent || !haveMasterAddressSet {
			nr.NodeStatus = ClassificationInconsistent
			result.NodeResults[nodeID] = nr
			continue
		}

		addrs, ok := nodeAddressSet[nodeID]
		if !ok {
			continue
		}
		if equalStringSlices(addrs, masterAddressSet) {
			nr.NodeStatus = ClassificationMaster
		} else {
			nr.NodeStatus = ClassificationSlave
		}
		result.NodeResults[nodeID] = nr
	}

	switch {
	case masterInconsistent:
		result.MasterStatus = ClassificationInconsistent
	case haveMasterAddressSet:
		result.MasterStatus = ClassificationMaster
	default:
		result.MasterStatus = ClassificationUnknown
	}
	result.MasterStatusMessages = masterMessages

	return result
}

func sortedHostnames(lookups RecordLookups) []model.RecordName {
	out := make([]model.RecordName, 0, len(lookups))
	for h := range lookups {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func classificationFromInconsistent(inconsistent bool) Classification {
	if inconsistent {
		return ClassificationInconsistent
	}
	return ClassificationUnknown
}

// firstDisagreement reports whether the nameservers queried for hostname
// returned differing SUCCESSFUL address sets, and if so a message naming
// the hostname and both differing sets. Nameservers that did not succeed
// (timeout, SERVFAIL, ...) are excluded from the comparison — their
// failure is already visible as a WARNING/ERROR in the rollup and is not
// itself a disagreement.
func firstDisagreement(hostname model.RecordName, byNs map[model.NameserverHostname]dnsquery.LookupResult) (string, bool) {
	var firstNs model.NameserverHostname
	var first []string
	haveFirst := false

	for ns, lr := range byNs {
		if lr.Status != dnsquery.StatusSuccessful {
			continue
		}
		if !haveFirst {
			firstNs = ns
			first = lr.Addresses
			haveFirst = true
			continue
		}
		if !equalStringSlices(first, lr.Addresses) {
			return fmt.Sprintf(
				"nameservers disagree on %s: %s says %v, %s says %v",
				hostname, firstNs, first, ns, lr.Addresses), true
		}
	}

	return "", false
}

// representativeAddresses returns the union of addresses from every
// SUCCESSFUL lookup for one record across all queried nameservers. Under
// agreement (the common case) every successful nameserver returns the
// same set, so the union equals any individual nameserver's answer.
func representativeAddresses(byNs map[model.NameserverHostname]dnsquery.LookupResult) []string {
	seen := map[string]bool{}
	var out []string
	for _, lr := range byNs {
		if lr.Status != dnsquery.StatusSuccessful {
			continue
		}
		for _, a := range lr.Addresses {
			if !seen[a] {
				seen[a] = true
				out = append(out, a)
			}
		}
	}
	return sortUniqueCopy(out)
}

func sortUniqueCopy(xs []string) []string {
	if len(xs) == 0 {
		return nil
	}
	cp := append([]string(nil), xs...)
	sort.Strings(cp)

	out := cp[:1]
	for _, x := range cp[1:] {
		if x != out[len(out)-1] {
			out = append(out, x)
		}
	}
	return out
}

func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func containsString(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
