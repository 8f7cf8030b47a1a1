// Package monitor implements the per-resource DNS monitor: a supervisor
// that queries every authoritative nameserver for a resource's master
// and node records at a fixed cadence, cross-checks the answers, and
// classifies the resource and each of its nodes.
package monitor

import (
	"sort"
	"time"

	"github.com/ao-appcluster/appcluster/internal/appstatus"
	"github.com/ao-appcluster/appcluster/internal/dnsquery"
	"github.com/ao-appcluster/appcluster/internal/model"
)

// Classification is the per-node / per-master state a DNS monitor tick
// can settle on.
type Classification int

const (
	ClassificationUnknown Classification = iota
	ClassificationDisabled
	ClassificationStopped
	ClassificationStarting
	ClassificationSlave
	ClassificationMaster
	ClassificationInconsistent
)

func (c Classification) String() string {
	switch c {
	case ClassificationUnknown:
		return "UNKNOWN"
	case ClassificationDisabled:
		return "DISABLED"
	case ClassificationStopped:
		return "STOPPED"
	case ClassificationStarting:
		return "STARTING"
	case ClassificationSlave:
		return "SLAVE"
	case ClassificationMaster:
		return "MASTER"
	case ClassificationInconsistent:
		return "INCONSISTENT"
	default:
		return "UNKNOWN"
	}
}

// AppStatus translates a Classification into the cluster-wide status
// lattice.
func (c Classification) AppStatus() appstatus.Status {
	switch c {
	case ClassificationUnknown:
		return appstatus.Unknown
	case ClassificationDisabled:
		return appstatus.Disabled
	case ClassificationStopped:
		return appstatus.Stopped
	case ClassificationStarting:
		return appstatus.Starting
	case ClassificationSlave, ClassificationMaster:
		return appstatus.Healthy
	case ClassificationInconsistent:
		return appstatus.Inconsistent
	default:
		return appstatus.Unknown
	}
}

// lookupStatusToAppStatus maps a dnsquery.LookupStatus into the cluster
// status lattice: TRY_AGAIN is a WARNING, every other non-success status
// is an ERROR.
func lookupStatusToAppStatus(s dnsquery.LookupStatus) appstatus.Status {
	switch s {
	case dnsquery.StatusSuccessful:
		return appstatus.Healthy
	case dnsquery.StatusTryAgain:
		return appstatus.Warning
	default:
		return appstatus.Error
	}
}

// RecordLookups maps a record name to the per-nameserver LookupResult for
// that record. When a ResourceDnsResult/ResourceNodeDnsResult is complete,
// this map is dense: every declared record has an entry for every enabled
// nameserver.
type RecordLookups map[model.RecordName]map[model.NameserverHostname]dnsquery.LookupResult

// RollupStatus folds every contained LookupResult's status through Max.
func (rl RecordLookups) RollupStatus() appstatus.Status {
	result := appstatus.Healthy
	for _, byNs := range rl {
		for _, lr := range byNs {
			result = appstatus.Max(result, lookupStatusToAppStatus(lr.Status))
		}
	}
	return result
}

// ResourceNodeDnsResult is the per-enabled-node outcome of one monitor
// tick.
type ResourceNodeDnsResult struct {
	ResourceNode      model.ResourceNode
	NodeRecordLookups RecordLookups
	NodeStatus        Classification
	NodeStatusMessages []string
}

// RollupStatus folds this node's lookup statuses and its own
// classification through Max.
func (r ResourceNodeDnsResult) RollupStatus() appstatus.Status {
	return appstatus.Max(r.NodeRecordLookups.RollupStatus(), r.NodeStatus.AppStatus())
}

// ResourceDnsResult is the immutable snapshot a ResourceMonitor publishes
// after every tick. Once constructed and handed to listeners, a
// ResourceDnsResult is never mutated.
type ResourceDnsResult struct {
	ResourceID ResourceID

	StartTime time.Time
	EndTime   time.Time

	MasterRecordLookups  RecordLookups
	MasterStatus         Classification
	MasterStatusMessages []string

	NodeResults map[model.NodeID]ResourceNodeDnsResult
}

// ResourceID is a local alias for model.ResourceID, kept so call sites
// read clearly.
type ResourceID = model.ResourceID

// RollupStatus folds master lookups, master classification and every
// node's RollupStatus through Max. It genuinely walks the whole tree on
// every call rather than trusting a precomputed flag.
func (r ResourceDnsResult) RollupStatus() appstatus.Status {
	result := appstatus.Max(r.MasterRecordLookups.RollupStatus(), r.MasterStatus.AppStatus())
	for _, nr := range r.NodeResults {
		result = appstatus.Max(result, nr.RollupStatus())
	}
	return result
}

// SortedNodeIDs returns the keys of NodeResults in a stable, deterministic
// order, for display and testing.
func (r ResourceDnsResult) SortedNodeIDs() []model.NodeID {
	ids := make([]model.NodeID, 0, len(r.NodeResults))
	for id := range r.NodeResults {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
