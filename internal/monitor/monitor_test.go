package monitor_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ao-appcluster/appcluster/internal/dnsquery"
	"github.com/ao-appcluster/appcluster/internal/dnstest"
	"github.com/ao-appcluster/appcluster/internal/model"
	"github.com/ao-appcluster/appcluster/internal/monitor"
)

// fakeResolverGetter ignores the requested hostname and always returns a
// resolver pointed at a single fake nameserver's address, for tests where
// every node's records are served from one fixture server.
type fakeResolverGetter struct {
	addr string
}

func (g fakeResolverGetter) Get(hostname string) (*dnsquery.Resolver, error) {
	return dnsquery.NewResolver(hostname, g.addr, nil), nil
}

// multiResolverGetter maps nameserver hostnames to distinct fixture
// servers, for tests simulating disagreement between nameservers.
type multiResolverGetter map[string]string

func (g multiResolverGetter) Get(hostname string) (*dnsquery.Resolver, error) {
	return dnsquery.NewResolver(hostname, g[hostname], nil), nil
}

func twoNodeResource() (model.Resource, map[model.NodeID]model.Node) {
	nodes := map[model.NodeID]model.Node{
		"a": {ID: "a", DisplayName: "A", Enabled: true, Hostname: "a.example.com", Nameservers: []model.NameserverHostname{"ns1"}},
		"b": {ID: "b", DisplayName: "B", Enabled: true, Hostname: "b.example.com", Nameservers: []model.NameserverHostname{"ns1"}},
	}
	resource := model.Resource{
		ID:              "r1",
		DisplayName:     "R1",
		Enabled:         true,
		MasterRecordTTL: 300,
		MasterRecords:   []model.RecordName{"m.example.com"},
		Nodes: map[model.NodeID]model.ResourceNode{
			"a": {ResourceID: "r1", NodeID: "a", NodeRecords: []model.RecordName{"a.example.com"}},
			"b": {ResourceID: "r1", NodeID: "b", NodeRecords: []model.RecordName{"b.example.com"}},
		},
		OrderedNodeIDs: []model.NodeID{"a", "b"},
	}
	return resource, nodes
}

func waitForResult(t *testing.T, m *monitor.ResourceMonitor) *monitor.ResourceDnsResult {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r := m.LastResult(); r != nil && r.MasterStatus != monitor.ClassificationStarting {
			return r
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for monitor result")
	return nil
}

func TestMonitor_S1_HealthyMasterSlave(t *testing.T) {
	t.Parallel()

	resource, nodes := twoNodeResource()

	srv, addr := dnstest.New(t, "")
	srv.SetA("m.example.com.", 300, "10.0.0.1")
	srv.SetA("a.example.com.", 300, "10.0.0.1")
	srv.SetA("b.example.com.", 300, "10.0.0.2")

	m := monitor.New(resource, nodes, true, fakeResolverGetter{addr}, monitor.SyncPool{}, zap.NewNop().Sugar())
	m.SetTickInterval(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	result := waitForResult(t, m)

	assert.Equal(t, monitor.ClassificationMaster, result.MasterStatus)
	require.Contains(t, result.NodeResults, model.NodeID("a"))
	require.Contains(t, result.NodeResults, model.NodeID("b"))
	assert.Equal(t, monitor.ClassificationMaster, result.NodeResults["a"].NodeStatus)
	assert.Equal(t, monitor.ClassificationSlave, result.NodeResults["b"].NodeStatus)
}

func TestMonitor_S2_NameserverDisagreement(t *testing.T) {
	t.Parallel()

	nodes := map[model.NodeID]model.Node{
		"a": {ID: "a", DisplayName: "A", Enabled: true, Hostname: "a.example.com", Nameservers: []model.NameserverHostname{"ns1", "ns2"}},
		"b": {ID: "b", DisplayName: "B", Enabled: true, Hostname: "b.example.com", Nameservers: []model.NameserverHostname{"ns1", "ns2"}},
	}
	resource := model.Resource{
		ID:              "r1",
		DisplayName:     "R1",
		Enabled:         true,
		MasterRecordTTL: 300,
		MasterRecords:   []model.RecordName{"m.example.com"},
		Nodes: map[model.NodeID]model.ResourceNode{
			"a": {ResourceID: "r1", NodeID: "a", NodeRecords: []model.RecordName{"a.example.com"}},
			"b": {ResourceID: "r1", NodeID: "b", NodeRecords: []model.RecordName{"b.example.com"}},
		},
		OrderedNodeIDs: []model.NodeID{"a", "b"},
	}

	srv1, addr1 := dnstest.New(t, "")
	srv1.SetA("m.example.com.", 300, "10.0.0.1")
	srv1.SetA("a.example.com.", 300, "10.0.0.1")
	srv1.SetA("b.example.com.", 300, "10.0.0.2")

	srv2, addr2 := dnstest.New(t, "")
	srv2.SetA("m.example.com.", 300, "10.0.0.2") // disagrees with ns1
	srv2.SetA("a.example.com.", 300, "10.0.0.1")
	srv2.SetA("b.example.com.", 300, "10.0.0.2")

	getter := multiResolverGetter{"ns1": addr1, "ns2": addr2}

	m := monitor.New(resource, nodes, true, getter, monitor.SyncPool{}, zap.NewNop().Sugar())
	m.SetTickInterval(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	result := waitForResult(t, m)

	require.Equal(t, monitor.ClassificationInconsistent, result.MasterStatus)
	require.Len(t, result.MasterStatusMessages, 1)
	assert.Contains(t, result.MasterStatusMessages[0], "m.example.com")
}

func TestMonitor_S3_UnexpectedTtlIsWarningNotInconsistent(t *testing.T) {
	t.Parallel()

	resource, nodes := twoNodeResource()

	srv, addr := dnstest.New(t, "")
	srv.SetA("m.example.com.", 600, "10.0.0.1") // configured TTL is 300
	srv.SetA("a.example.com.", 300, "10.0.0.1")
	srv.SetA("b.example.com.", 300, "10.0.0.2")

	m := monitor.New(resource, nodes, true, fakeResolverGetter{addr}, monitor.SyncPool{}, zap.NewNop().Sugar())
	m.SetTickInterval(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	result := waitForResult(t, m)

	assert.Equal(t, monitor.ClassificationMaster, result.MasterStatus)
	lr := result.MasterRecordLookups["m.example.com"]["ns1"]
	require.Len(t, lr.Warnings, 1)
	assert.Contains(t, lr.Warnings[0], "unexpectedTtl")
}

func TestMonitor_S4_MultiMasterForbidden(t *testing.T) {
	t.Parallel()

	resource, nodes := twoNodeResource()
	resource.AllowMultiMaster = false

	srv, addr := dnstest.New(t, "")
	srv.SetA("m.example.com.", 300, "10.0.0.1", "10.0.0.2")
	srv.SetA("a.example.com.", 300, "10.0.0.1")
	srv.SetA("b.example.com.", 300, "10.0.0.2")

	m := monitor.New(resource, nodes, true, fakeResolverGetter{addr}, monitor.SyncPool{}, zap.NewNop().Sugar())
	m.SetTickInterval(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	result := waitForResult(t, m)

	assert.Equal(t, monitor.ClassificationInconsistent, result.MasterStatus)
	found := false
	for _, msg := range result.MasterStatusMessages {
		if strings.Contains(msg, "multi-master not allowed") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestMonitor_StartStopIdempotent(t *testing.T) {
	t.Parallel()

	resource, nodes := twoNodeResource()
	srv, addr := dnstest.New(t, "")
	srv.SetA("m.example.com.", 300, "10.0.0.1")
	srv.SetA("a.example.com.", 300, "10.0.0.1")
	srv.SetA("b.example.com.", 300, "10.0.0.2")

	m := monitor.New(resource, nodes, true, fakeResolverGetter{addr}, monitor.SyncPool{}, zap.NewNop().Sugar())
	m.SetTickInterval(time.Hour)

	ctx := context.Background()
	m.Start(ctx)
	m.Start(ctx) // no-op
	waitForResult(t, m)

	m.Stop()
	m.Stop() // no-op

	assert.Equal(t, monitor.ClassificationStopped, m.LastResult().MasterStatus)
}

func TestMonitor_ListenerPanicDoesNotBreakOtherListeners(t *testing.T) {
	t.Parallel()

	resource, nodes := twoNodeResource()
	srv, addr := dnstest.New(t, "")
	srv.SetA("m.example.com.", 300, "10.0.0.1")
	srv.SetA("a.example.com.", 300, "10.0.0.1")
	srv.SetA("b.example.com.", 300, "10.0.0.2")

	m := monitor.New(resource, nodes, true, fakeResolverGetter{addr}, monitor.SyncPool{}, zap.NewNop().Sugar())
	m.SetTickInterval(time.Hour)

	var mu sync.Mutex
	calledGood := false

	m.AddListener(func(old, new *monitor.ResourceDnsResult) {
		panic("boom")
	})
	m.AddListener(func(old, new *monitor.ResourceDnsResult) {
		mu.Lock()
		calledGood = true
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	waitForResult(t, m)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, calledGood)
}
