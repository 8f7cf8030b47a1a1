package syncer

import "github.com/ao-appcluster/appcluster/internal/monitor"

// DefaultPolicy implements the default eligibility rule and is embedded
// by every syncplugin.Factory's Synchronizer: synchronize only
// flows from a MASTER to a SLAVE, and a test only makes sense between a
// MASTER and a SLAVE (in either direction, since either endpoint of a
// healthy pair can initiate a comparison).
type DefaultPolicy struct{}

func (DefaultPolicy) CanSynchronize(local, remote monitor.Classification) bool {
	return local == monitor.ClassificationMaster && remote == monitor.ClassificationSlave
}

func (DefaultPolicy) CanTest(local, remote monitor.Classification) bool {
	return (local == monitor.ClassificationMaster && remote == monitor.ClassificationSlave) ||
		(local == monitor.ClassificationSlave && remote == monitor.ClassificationMaster)
}
