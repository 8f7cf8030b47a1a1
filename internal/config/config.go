// Package config implements the appcluster.* key-value configuration
// contract: a pluggable Source interface plus a concrete FileSource
// backed by a Java-properties-style file, polled for changes.
package config

import "github.com/ao-appcluster/appcluster/internal/eventlog"

// NodeSpec is one `appcluster.node.<id>.*` configuration block.
type NodeSpec struct {
	ID          string
	Enabled     bool
	Display     string
	Hostname    string
	Nameservers []string
}

// ResourceNodeSpec is one `appcluster.resource.<id>.node.<n>.*` block.
type ResourceNodeSpec struct {
	NodeID      string
	NodeRecords []string
	TypeParams  map[string]string
}

// ResourceSpec is one `appcluster.resource.<id>.*` configuration block.
type ResourceSpec struct {
	ID               string
	Type             string
	Enabled          bool
	Display          string
	MasterRecords    []string
	MasterRecordsTTL int
	AllowMultiMaster bool
	Nodes            []ResourceNodeSpec

	SynchronizeSchedule string
	SynchronizeYears    []int
	TestSchedule        string
	TestYears           []int
	SynchronizeTimeout  string
	TestTimeout         string

	// TypeParams carries the resource-level `.rsync.*`/`.jdbc.*`/... keys
	// verbatim, to be interpreted by the matching syncplugin factory.
	TypeParams map[string]string
}

// View is the narrow, type-agnostic projection of a ResourceSpec a
// syncplugin.Factory consumes: it never needs the core fields, only the
// plug-in-specific sub-keys, plus the two node endpoints of the pair it
// is being asked to build a Synchronizer for.
type View struct {
	ResourceID string
	TypeParams map[string]string

	LocalNode  ResourceNodeSpec
	RemoteNode ResourceNodeSpec
}

// Param returns a type-specific sub-key's value and whether it was set.
func (v View) Param(key string) (string, bool) {
	val, ok := v.TypeParams[key]
	return val, ok
}

// Source is the configuration contract: start/stop, isEnabled, display,
// clusterLogger, node/resource configurations, plus change-listener
// registration.
type Source interface {
	Start() error
	Stop() error

	Enabled() bool
	Display() string
	Logger() eventlog.Sink

	Nodes() []NodeSpec
	Resources() []ResourceSpec

	// ResourceTypeFactory resolves `appcluster.resourceType.<t>.factory`:
	// the identifier a resource's `type` key names is looked up here to
	// find which syncplugin.Factory builds it.
	ResourceTypeFactory(resourceType string) (string, bool)

	// AddListener registers ch for a notification (an empty struct sent,
	// never blocking — full channels drop the notification) every time
	// the source reloads, including when the reload left everything
	// unchanged. RemoveListener reverses it. Both are safe to call from
	// any goroutine, including from inside a delivered notification.
	AddListener(ch chan<- struct{})
	RemoveListener(ch chan<- struct{})
}
