// Package cluster implements the shared cluster lifecycle: configuration
// → worker pools → per-resource DNS monitors → per-directed-pair
// synchronizers, with idempotent Start/Stop and configuration
// hot-reload.
package cluster

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ao-appcluster/appcluster/internal/appstatus"
	"github.com/ao-appcluster/appcluster/internal/config"
	"github.com/ao-appcluster/appcluster/internal/dnsquery"
	"github.com/ao-appcluster/appcluster/internal/eventlog"
	"github.com/ao-appcluster/appcluster/internal/model"
	"github.com/ao-appcluster/appcluster/internal/monitor"
	"github.com/ao-appcluster/appcluster/internal/syncer"
	"github.com/ao-appcluster/appcluster/internal/syncplugin"
)

// LookupPoolSize is the capacity of the shared, notionally unbounded
// DNS-lookup worker pool. A large fixed cap is the practical Go
// equivalent of ants's own DefaultAntsPoolSize.
const LookupPoolSize = 1 << 16

// SyncPoolSize is the capacity of the shared synchronizer-operation
// worker pool. Kept three orders of magnitude smaller than LookupPoolSize as
// a capacity-separation proxy for running sync/test work at a priority
// below lookups.
const SyncPoolSize = 64

// Cluster owns the entire cluster lifecycle for one configuration
// snapshot: Start validates configuration, builds the worker pools,
// instantiates every Resource's ResourceMonitor and every directed
// node-pair's PairSynchronizer whose local endpoint is this process's
// own node, and starts them all. Stop tears everything down; Start is
// safe to call again afterward (e.g. after a config reload).
type Cluster struct {
	cfg      config.Source
	registry *syncplugin.Registry
	log      *zap.SugaredLogger

	mu            sync.Mutex
	started       bool
	lookupPool    *ants.Pool
	syncPool      *ants.Pool
	resolverCache *dnsquery.ResolverCache
	sink          eventlog.Sink
	clusterModel  model.ClusterModel
	thisNode      model.NodeID
	monitors      map[model.ResourceID]*monitor.ResourceMonitor
	synchronizers []*syncer.PairSynchronizer
	cancel        context.CancelFunc
	reloadCh      chan struct{}
}

// New builds a Cluster. cfg must already be ready to Start (its
// underlying file/source need not have been read yet).
func New(cfg config.Source, registry *syncplugin.Registry, log *zap.SugaredLogger) *Cluster {
	return &Cluster{cfg: cfg, registry: registry, log: log}
}

// Start is idempotent: calling it while already started is a no-op
// returning nil.
func (c *Cluster) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return nil
	}

	if err := c.cfg.Start(); err != nil {
		return fmt.Errorf("start configuration source: %w", err)
	}

	clusterModel, err := buildModel(c.cfg)
	if err != nil {
		c.cfg.Stop()
		return err
	}
	if err := clusterModel.Validate(); err != nil {
		c.cfg.Stop()
		return err
	}

	thisNode, err := determineThisNode(clusterModel)
	if err != nil {
		c.cfg.Stop()
		return err
	}

	lookupPool, err := ants.NewPool(LookupPoolSize, ants.WithPreAlloc(false), ants.WithNonblocking(false))
	if err != nil {
		c.cfg.Stop()
		return fmt.Errorf("create lookup pool: %w", err)
	}
	syncPool, err := ants.NewPool(SyncPoolSize, ants.WithNonblocking(false))
	if err != nil {
		lookupPool.Release()
		c.cfg.Stop()
		return fmt.Errorf("create synchronizer pool: %w", err)
	}

	c.lookupPool = lookupPool
	c.syncPool = syncPool
	c.resolverCache = dnsquery.NewResolverCache()
	c.sink = c.cfg.Logger()
	c.clusterModel = clusterModel
	c.thisNode = thisNode

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.monitors = map[model.ResourceID]*monitor.ResourceMonitor{}
	for _, rid := range clusterModel.OrderedResourceIDs {
		resource := clusterModel.Resources[rid]
		m := monitor.New(resource, clusterModel.Nodes, clusterModel.Enabled, c.resolverCache, &poolAdapter{c.lookupPool}, c.log)
		c.monitors[rid] = m
		m.Start(loopCtx)
	}

	synchronizers, err := c.buildSynchronizers(clusterModel, thisNode)
	if err != nil {
		c.stopLocked()
		return err
	}
	c.synchronizers = synchronizers
	for _, s := range c.synchronizers {
		s.Start(loopCtx)
	}

	c.reloadCh = make(chan struct{}, 1)
	c.cfg.AddListener(c.reloadCh)
	go c.watchReload(c.reloadCh)

	c.started = true
	c.sink.Append(eventlog.Event{Time: timeNow(), Kind: "cluster.start", Detail: fmt.Sprintf("cluster %q started as node %s", clusterModel.Display, thisNode)})
	return nil
}

// Stop is idempotent.
func (c *Cluster) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return nil
	}
	c.started = false
	return c.stopLocked()
}

// stopLocked tears down everything Start built, regardless of how far
// Start got before failing, so a partially-constructed Start can be
// cleaned up uniformly. Caller must hold c.mu.
func (c *Cluster) stopLocked() error {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.reloadCh != nil {
		c.cfg.RemoveListener(c.reloadCh)
		c.reloadCh = nil
	}
	for _, s := range c.synchronizers {
		s.Stop()
	}
	c.synchronizers = nil
	for _, m := range c.monitors {
		m.Stop()
	}
	c.monitors = nil
	if c.syncPool != nil {
		c.syncPool.Release()
		c.syncPool = nil
	}
	if c.lookupPool != nil {
		c.lookupPool.Release()
		c.lookupPool = nil
	}
	if c.sink != nil {
		c.sink.Close()
		c.sink = nil
	}
	return c.cfg.Stop()
}

// watchReload calls Reload every time the configuration source signals a
// change, until ch stops being the cluster's active reload channel.
func (c *Cluster) watchReload(ch chan struct{}) {
	for range ch {
		c.Reload()
	}
}

// Reload restarts the cluster against the configuration source's latest
// snapshot. A reload error is logged and swallowed rather than
// propagated, leaving the cluster stopped if Start fails.
func (c *Cluster) Reload() {
	c.log.Infow("configuration changed, reloading cluster")
	if err := c.Stop(); err != nil {
		c.log.Errorw("stop during reload failed", "error", err)
	}
	if err := c.Start(context.Background()); err != nil {
		c.log.Errorw("restart during reload failed", "error", err)
	}
}

// Status rolls up the health of every monitor and synchronizer this
// cluster owns through appstatus.Max.
func (c *Cluster) Status() appstatus.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return appstatus.Stopped
	}

	result := appstatus.Healthy
	if !c.clusterModel.Enabled {
		return appstatus.Disabled
	}
	for _, m := range c.monitors {
		if r := m.LastResult(); r != nil {
			result = appstatus.Max(result, r.RollupStatus())
		}
	}
	for _, s := range c.synchronizers {
		if r := s.LastSynchronizationResult(); r != nil {
			result = appstatus.Max(result, r.Status)
		}
		if r := s.LastTestResult(); r != nil {
			result = appstatus.Max(result, r.Status)
		}
	}
	return result
}

// buildSynchronizers instantiates one PairSynchronizer per (resource,
// remote node) pair whose local endpoint is thisNode, since
// synchronize/test operations act from the local filesystem/database
// outward. Pairs are built whatever the current DNS classification;
// whether an operation may run is decided at each wakeup from the latest
// monitor result. A pair is only built when the cluster,
// the resource, the local node, and the remote node are all effectively
// enabled (mirroring the same EffectiveEnabled filtering
// Resource.AllHostnames and Resource.EnabledNameservers apply on the
// monitor side); every PairSynchronizer this function returns is always
// constructed with Enabled true; a pair failing that check is never
// built at all, rather than built disabled.
func (c *Cluster) buildSynchronizers(cm model.ClusterModel, thisNode model.NodeID) ([]*syncer.PairSynchronizer, error) {
	var out []*syncer.PairSynchronizer

	for _, rid := range cm.OrderedResourceIDs {
		resource := cm.Resources[rid]
		if _, ok := resource.Nodes[thisNode]; !ok {
			continue
		}

		factoryID, ok := c.cfg.ResourceTypeFactory(resource.Type)
		if !ok {
			return nil, fmt.Errorf("resource %s: no factory registered for type %q", rid, resource.Type)
		}

		syncTimeout, testTimeout := resourceTimeouts(resource)
		syncSchedule, testSchedule := resourceSchedules(resource)

		localNode, ok := cm.Nodes[thisNode]
		if !ok || !resource.Enabled || !localNode.EffectiveEnabled(cm.Enabled) {
			continue
		}

		for _, remoteID := range resource.OrderedNodeIDs {
			if remoteID == thisNode {
				continue
			}

			remoteNode, ok := cm.Nodes[remoteID]
			if !ok || !remoteNode.EffectiveEnabled(cm.Enabled) {
				continue
			}

			view := config.View{
				ResourceID: string(rid),
				TypeParams: resource.TypeParams,
				LocalNode:  resourceNodeSpec(resource, thisNode),
				RemoteNode: resourceNodeSpec(resource, remoteID),
			}

			plugin, err := c.registry.New(factoryID, view)
			if err != nil {
				return nil, fmt.Errorf("resource %s: %w", rid, err)
			}

			localID, remoteNodeID := thisNode, remoteID
			m := c.monitors[rid]
			out = append(out, syncer.New(syncer.Config{
				ResourceID:          rid,
				LocalNodeID:         localID,
				RemoteNodeID:        remoteNodeID,
				Enabled:             true,
				SynchronizeSchedule: syncSchedule,
				TestSchedule:        testSchedule,
				SynchronizeTimeout:  syncTimeout,
				TestTimeout:         testTimeout,
				Synchronizer:        plugin,
				Classifications:     classificationsFunc(m, localID, remoteNodeID),
				Pool:                &poolAdapter{c.syncPool},
				Log:                 c.log,
			}))
		}
	}

	return out, nil
}

func classificationsFunc(m *monitor.ResourceMonitor, local, remote model.NodeID) syncer.Classifications {
	return func() (monitor.Classification, monitor.Classification, bool) {
		r := m.LastResult()
		if r == nil {
			return monitor.ClassificationUnknown, monitor.ClassificationUnknown, false
		}
		lr, lok := r.NodeResults[local]
		rr, rok := r.NodeResults[remote]
		if !lok || !rok {
			return monitor.ClassificationUnknown, monitor.ClassificationUnknown, false
		}
		return lr.NodeStatus, rr.NodeStatus, true
	}
}

func resourceNodeSpec(r model.Resource, id model.NodeID) config.ResourceNodeSpec {
	rn := r.Nodes[id]
	records := make([]string, len(rn.NodeRecords))
	for i, rec := range rn.NodeRecords {
		records[i] = string(rec)
	}
	return config.ResourceNodeSpec{NodeID: string(id), NodeRecords: records, TypeParams: rn.TypeParams}
}

func resourceTimeouts(r model.Resource) (syncTimeout, testTimeout time.Duration) {
	syncTimeout = parseDurationOr(r.SynchronizeTimeout, 5*time.Minute)
	testTimeout = parseDurationOr(r.TestTimeout, 5*time.Minute)
	return
}

// resourceSchedules parses a resource's cron expressions into
// syncer.Schedule values. An empty or unparsable expression produces a
// Schedule that never fires, leaving the corresponding operation
// reachable only through its runNow trigger.
func resourceSchedules(r model.Resource) (syncSchedule, testSchedule syncer.Schedule) {
	return parseSchedule(r.SynchronizeSchedule, r.SynchronizeYears), parseSchedule(r.TestSchedule, r.TestYears)
}

func parseSchedule(expr string, years []int) syncer.Schedule {
	if expr == "" {
		return syncer.Schedule{}
	}
	cronSchedule, err := cron.ParseStandard(expr)
	if err != nil {
		return syncer.Schedule{}
	}
	return syncer.NewSchedule(cronSchedule, years...)
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

// determineThisNode matches os.Hostname() against every configured
// node's hostname (case-insensitively, trailing dot ignored) to find
// which configured node this process embodies.
func determineThisNode(cm model.ClusterModel) (model.NodeID, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("determine local hostname: %w", err)
	}
	canon := strings.ToLower(strings.TrimSuffix(hostname, "."))

	for _, id := range cm.OrderedNodeIDs {
		node := cm.Nodes[id]
		if strings.ToLower(strings.TrimSuffix(node.Hostname, ".")) == canon {
			return id, nil
		}
	}
	return "", fmt.Errorf("local hostname %q does not match any configured node", hostname)
}

// poolAdapter adapts *ants.Pool's Submit(func()) error onto the narrow
// TaskPool interfaces internal/monitor and internal/syncer each declare,
// so neither package needs to import ants directly.
type poolAdapter struct {
	pool *ants.Pool
}

func (p *poolAdapter) Submit(task func()) error {
	return p.pool.Submit(task)
}

func timeNow() time.Time { return time.Now() }
