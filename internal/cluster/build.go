package cluster

import (
	"github.com/ao-appcluster/appcluster/internal/config"
	"github.com/ao-appcluster/appcluster/internal/model"
)

// buildModel translates one configuration snapshot into a fresh
// model.ClusterModel. It performs no validation beyond what's needed to
// build the structures; Validate is the caller's job.
func buildModel(cfg config.Source) (model.ClusterModel, error) {
	cm := model.ClusterModel{
		Enabled: cfg.Enabled(),
		Display: cfg.Display(),
		Nodes:   map[model.NodeID]model.Node{},
		Resources: map[model.ResourceID]model.Resource{},
	}

	for _, n := range cfg.Nodes() {
		id := model.NodeID(n.ID)
		nameservers := make([]model.NameserverHostname, len(n.Nameservers))
		for i, ns := range n.Nameservers {
			nameservers[i] = model.NameserverHostname(ns)
		}

		cm.Nodes[id] = model.Node{
			ID:          id,
			DisplayName: n.Display,
			Enabled:     n.Enabled,
			Hostname:    n.Hostname,
			Nameservers: nameservers,
		}
		cm.OrderedNodeIDs = append(cm.OrderedNodeIDs, id)
	}

	for _, r := range cfg.Resources() {
		id := model.ResourceID(r.ID)

		masterRecords := make([]model.RecordName, len(r.MasterRecords))
		for i, rec := range r.MasterRecords {
			masterRecords[i] = model.RecordName(rec)
		}

		resource := model.Resource{
			ID:                  id,
			DisplayName:         r.Display,
			Enabled:             r.Enabled,
			AllowMultiMaster:    r.AllowMultiMaster,
			MasterRecords:       masterRecords,
			MasterRecordTTL:     r.MasterRecordsTTL,
			Type:                r.Type,
			Nodes:               map[model.NodeID]model.ResourceNode{},
			TypeParams:          r.TypeParams,
			SynchronizeSchedule: r.SynchronizeSchedule,
			SynchronizeYears:    r.SynchronizeYears,
			TestSchedule:        r.TestSchedule,
			TestYears:           r.TestYears,
			SynchronizeTimeout:  r.SynchronizeTimeout,
			TestTimeout:         r.TestTimeout,
		}

		for _, n := range r.Nodes {
			nodeID := model.NodeID(n.NodeID)
			records := make([]model.RecordName, len(n.NodeRecords))
			for i, rec := range n.NodeRecords {
				records[i] = model.RecordName(rec)
			}
			resource.Nodes[nodeID] = model.ResourceNode{
				ResourceID:  id,
				NodeID:      nodeID,
				NodeRecords: records,
				TypeParams:  n.TypeParams,
			}
			resource.OrderedNodeIDs = append(resource.OrderedNodeIDs, nodeID)
		}

		cm.Resources[id] = resource
		cm.OrderedResourceIDs = append(cm.OrderedResourceIDs, id)
	}

	return cm, nil
}
