package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ao-appcluster/appcluster/internal/dnsquery"
	"github.com/ao-appcluster/appcluster/internal/model"
)

// DefaultTickInterval is the DNS_CHECK_INTERVAL default.
const DefaultTickInterval = 30 * time.Second

// ResolverGetter is the subset of *dnsquery.ResolverCache the monitor
// needs. Narrowed to an interface so tests can point lookups at a fake
// nameserver on an arbitrary port without going through real hostname
// resolution.
type ResolverGetter interface {
	Get(hostname string) (*dnsquery.Resolver, error)
}

// ResourceMonitor is the per-resource DNS supervisor: it queries every
// authoritative nameserver for a resource's master and node records on a
// fixed cadence, cross-checks the answers, classifies the resource and
// every node, and publishes a ResourceDnsResult to its listeners after
// every tick.
//
// A ResourceMonitor exclusively owns its lastResult and listener registry;
// everything else it reads (Resource, Node snapshot) is handed to it once
// at construction and treated as read-only.
type ResourceMonitor struct {
	resource       model.Resource
	nodes          map[model.NodeID]model.Node
	clusterEnabled bool

	resolverCache ResolverGetter
	pool          TaskPool
	tickInterval  time.Duration
	log           *zap.SugaredLogger

	mu         sync.Mutex
	started    bool
	generation uint64
	cancel     context.CancelFunc
	lastResult *ResourceDnsResult
	listeners  []*ListenerHandle
}

// New builds a ResourceMonitor. nodes is a snapshot of every node known to
// the cluster (not just this resource's participants) so node hostnames
// can be resolved by id; clusterEnabled reflects the cluster's own
// enabled flag at construction time.
func New(resource model.Resource, nodes map[model.NodeID]model.Node, clusterEnabled bool, resolverCache ResolverGetter, pool TaskPool, log *zap.SugaredLogger) *ResourceMonitor {
	if pool == nil {
		pool = SyncPool{}
	}
	return &ResourceMonitor{
		resource:       resource,
		nodes:          nodes,
		clusterEnabled: clusterEnabled,
		resolverCache:  resolverCache,
		pool:           pool,
		tickInterval:   DefaultTickInterval,
		log:            log.With("resource", resource.ID),
	}
}

// SetTickInterval overrides DefaultTickInterval; must be called before
// Start.
func (m *ResourceMonitor) SetTickInterval(d time.Duration) {
	m.tickInterval = d
}

// AddListener registers l for delivery after every future tick and
// returns the handle RemoveListener needs to unregister it. The listener
// registry is copied on mutation, a snapshot-on-read pattern so a
// delivery in progress never observes a concurrent Add/Remove.
func (m *ResourceMonitor) AddListener(l Listener) *ListenerHandle {
	h := &ListenerHandle{fn: l}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := make([]*ListenerHandle, len(m.listeners), len(m.listeners)+1)
	copy(next, m.listeners)
	m.listeners = append(next, h)

	return h
}

// RemoveListener unregisters the listener previously returned by
// AddListener. Removing an unknown or already-removed handle is a no-op.
func (m *ResourceMonitor) RemoveListener(h *ListenerHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make([]*ListenerHandle, 0, len(m.listeners))
	for _, x := range m.listeners {
		if x != h {
			next = append(next, x)
		}
	}
	m.listeners = next
}

// LastResult returns the most recently published ResourceDnsResult, or
// nil if the monitor has not completed a tick yet.
func (m *ResourceMonitor) LastResult() *ResourceDnsResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastResult
}

// Start begins ticking every tickInterval. Start is idempotent: calling
// it again while already started is a no-op.
func (m *ResourceMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.generation++
	gen := m.generation

	enabled := m.clusterEnabled && m.resource.Enabled
	if !enabled {
		m.publishDisabled()
		m.mu.Unlock()
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	m.publishStarting()

	go m.loop(loopCtx, gen)
}

// Stop ends ticking. Stop is idempotent: calling it again while already
// stopped is a no-op.
func (m *ResourceMonitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	m.generation++
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	m.publishStopped()
}

func (m *ResourceMonitor) loop(ctx context.Context, gen uint64) {
	m.tick(ctx, gen)

	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			stillLive := m.started && m.generation == gen
			m.mu.Unlock()
			if !stillLive {
				return
			}
			m.tick(ctx, gen)
		}
	}
}

func (m *ResourceMonitor) publishDisabled() {
	now := time.Now()
	result := &ResourceDnsResult{
		ResourceID:           m.resource.ID,
		StartTime:            now,
		EndTime:              now,
		MasterStatus:         ClassificationDisabled,
		MasterStatusMessages: nil,
	}
	m.swapAndNotify(result)
}

func (m *ResourceMonitor) publishStopped() {
	now := time.Now()
	result := &ResourceDnsResult{
		ResourceID:   m.resource.ID,
		StartTime:    now,
		EndTime:      now,
		MasterStatus: ClassificationStopped,
	}
	m.swapAndNotify(result)
}

func (m *ResourceMonitor) publishStarting() {
	now := time.Now()
	result := &ResourceDnsResult{
		ResourceID:   m.resource.ID,
		StartTime:    now,
		EndTime:      now,
		MasterStatus: ClassificationStarting,
	}
	m.swapAndNotify(result)
}

// tick executes one pass of the monitor's lookup-and-classify algorithm.
func (m *ResourceMonitor) tick(ctx context.Context, gen uint64) {
	start := time.Now()

	hostnames := m.resource.AllHostnames(m.nodes, m.clusterEnabled)
	nameservers := m.resource.EnabledNameservers(m.nodes, m.clusterEnabled)

	lookups := m.fanOutLookups(ctx, hostnames, nameservers)

	result := m.classify(lookups)
	result.ResourceID = m.resource.ID
	result.StartTime = start
	result.EndTime = time.Now()

	m.mu.Lock()
	stillLive := m.started && m.generation == gen
	m.mu.Unlock()
	if !stillLive {
		return
	}

	m.swapAndNotify(result)
}

// fanOutLookups submits one lookup task per (hostname, nameserver) pair to
// the shared worker pool and waits for all of them to complete.
func (m *ResourceMonitor) fanOutLookups(ctx context.Context, hostnames []model.RecordName, nameservers []model.NameserverHostname) RecordLookups {
	masterSet := map[string]bool{}
	for _, rn := range m.resource.MasterRecords {
		masterSet[rn.Canonical()] = true
	}

	result := RecordLookups{}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, hostname := range hostnames {
		result[hostname] = map[model.NameserverHostname]dnsquery.LookupResult{}

		for _, ns := range nameservers {
			hostname, ns := hostname, ns
			wg.Add(1)

			task := func() {
				defer wg.Done()

				lr := m.lookupOne(ctx, hostname, ns, masterSet[hostname.Canonical()])

				mu.Lock()
				result[hostname][ns] = lr
				mu.Unlock()
			}

			if err := m.pool.Submit(task); err != nil {
				// Pool rejection, typically during shutdown, is normal;
				// run inline so the tick still completes with a result.
				wg.Done()
				task = nil
				lr := m.lookupOne(ctx, hostname, ns, masterSet[hostname.Canonical()])
				mu.Lock()
				result[hostname][ns] = lr
				mu.Unlock()
			}
		}
	}

	wg.Wait()
	return result
}

func (m *ResourceMonitor) lookupOne(ctx context.Context, hostname model.RecordName, ns model.NameserverHostname, isMaster bool) dnsquery.LookupResult {
	resolver, err := m.resolverCache.Get(string(ns))
	if err != nil {
		return dnsquery.LookupResult{
			Name:   string(hostname),
			Status: dnsquery.StatusUnrecoverable,
			Errors: []string{fmt.Sprintf("resolve nameserver %s: %v", ns, err)},
		}
	}

	ttl := time.Duration(m.resource.MasterRecordTTL) * time.Second
	return dnsquery.Lookup(ctx, resolver, string(hostname), ttl, isMaster)
}

func (m *ResourceMonitor) swapAndNotify(newResult *ResourceDnsResult) {
	m.mu.Lock()
	old := m.lastResult
	m.lastResult = newResult
	listeners := make([]*ListenerHandle, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, h := range listeners {
		m.notifyOne(h, old, newResult)
	}
}

func (m *ResourceMonitor) notifyOne(h *ListenerHandle, old, new *ResourceDnsResult) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Errorw("dns monitor listener panicked", "panic", r)
		}
	}()
	h.fn(old, new)
}
