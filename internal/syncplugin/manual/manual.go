// Package manual implements the "manual" syncplugin factory: a no-op
// Synchronizer for resources whose replication is carried
// out by a human outside the cluster's control. Its Test/Synchronize
// always report HEALTHY with no side effects, so such a resource never
// blocks the rest of the cluster's reporting.
package manual

import (
	"context"

	"github.com/ao-appcluster/appcluster/internal/appstatus"
	"github.com/ao-appcluster/appcluster/internal/config"
	"github.com/ao-appcluster/appcluster/internal/syncer"
)

type synchronizer struct {
	syncer.DefaultPolicy
}

// Factory builds manual Synchronizers. Register it under whatever
// factory identifier the deployment's `appcluster.resourceType.<t>.factory`
// key names (conventionally "manual").
var Factory factory

type factory struct{}

func (factory) New(config.View) (syncer.Synchronizer, error) {
	return synchronizer{}, nil
}

func (synchronizer) Synchronize(context.Context) syncer.OperationResult {
	return syncer.OperationResult{
		Status: appstatus.Healthy,
		Steps:  []syncer.OperationStep{{Name: "manual", Status: appstatus.Healthy, Output: "synchronized by a human operator"}},
	}
}

func (synchronizer) Test(context.Context) syncer.OperationResult {
	return syncer.OperationResult{
		Status: appstatus.Healthy,
		Steps:  []syncer.OperationStep{{Name: "manual", Status: appstatus.Healthy, Output: "assumed consistent; managed by a human operator"}},
	}
}
