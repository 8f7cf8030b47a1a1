// Package syncplugin is the plug-in registry: each resource type names a
// factory identifier
// (`appcluster.resourceType.<t>.factory`) that builds the
// syncer.Synchronizer for every directed node pair of resources declared
// with that type.
package syncplugin

import (
	"fmt"
	"sync"

	"github.com/ao-appcluster/appcluster/internal/config"
	"github.com/ao-appcluster/appcluster/internal/syncer"
)

// Factory builds one syncer.Synchronizer for a directed (local, remote)
// node pair of one resource, given that pair's configuration view.
type Factory interface {
	New(view config.View) (syncer.Synchronizer, error)
}

// FactoryFunc adapts a plain function to Factory.
type FactoryFunc func(config.View) (syncer.Synchronizer, error)

func (f FactoryFunc) New(view config.View) (syncer.Synchronizer, error) { return f(view) }

// Registry maps a factory identifier (the value of
// `appcluster.resourceType.<t>.factory`, e.g. "rsync", "jdbc") to the
// Factory that implements it.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register associates a factory identifier with its Factory. Registering
// the same identifier twice replaces the prior registration.
func (r *Registry) Register(factoryID string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[factoryID] = f
}

// New looks up factoryID and builds a Synchronizer for view.
func (r *Registry) New(factoryID string, view config.View) (syncer.Synchronizer, error) {
	r.mu.RLock()
	f, ok := r.factories[factoryID]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no syncplugin factory registered for %q", factoryID)
	}
	return f.New(view)
}
