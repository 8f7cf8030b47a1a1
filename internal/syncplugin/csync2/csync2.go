// Package csync2 implements the "csync2" syncplugin factory: replication
// via the csync2(1) cluster file synchronization tool, invoked through
// os/exec for the same reason as the rsync factory — no suitable Go
// client library for its protocol was available.
package csync2

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/ao-appcluster/appcluster/internal/appstatus"
	"github.com/ao-appcluster/appcluster/internal/config"
	"github.com/ao-appcluster/appcluster/internal/syncer"
)

// Factory builds csync2 Synchronizers. Register it under the deployment's
// chosen factory identifier (conventionally "csync2").
var Factory factory

type factory struct{}

// Recognized TypeParams sub-keys (`appcluster.resource.<id>.csync2.*`):
//   - csync2.group      — the csync2 group name to synchronize, required
//   - csync2.configPath — path to csync2.cfg, defaults to the system
//     default ("/etc/csync2.cfg")
func (factory) New(view config.View) (syncer.Synchronizer, error) {
	group, ok := view.Param("csync2.group")
	if !ok || group == "" {
		return nil, fmt.Errorf("resource %s: csync2.group is required", view.ResourceID)
	}

	configPath, _ := view.Param("csync2.configPath")

	return &synchronizer{group: group, configPath: configPath, remoteHost: view.RemoteNode.NodeID}, nil
}

type synchronizer struct {
	syncer.DefaultPolicy

	group      string
	configPath string
	remoteHost string
}

func (s *synchronizer) args(extra ...string) []string {
	args := []string{"-N", s.remoteHost}
	if s.configPath != "" {
		args = append(args, "-C", s.configPath)
	}
	return append(args, extra...)
}

// Synchronize pushes this node's csync2 group to the remote node
// (`csync2 -x`, forced full synchronize).
func (s *synchronizer) Synchronize(ctx context.Context) syncer.OperationResult {
	return s.exec(ctx, "synchronize", s.args("-xv", s.group)...)
}

// Test checks, without modifying anything, whether the group is already
// in sync (`csync2 -T`, "check" mode).
func (s *synchronizer) Test(ctx context.Context) syncer.OperationResult {
	return s.exec(ctx, "test", s.args("-T", s.group)...)
}

func (s *synchronizer) exec(ctx context.Context, stepName string, args ...string) syncer.OperationResult {
	cmd := exec.CommandContext(ctx, "csync2", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	step := syncer.OperationStep{Name: stepName, Output: stdout.String()}

	if err != nil {
		step.Status = appstatus.Error
		return syncer.ErrorResult([]syncer.OperationStep{step}, fmt.Sprintf("%v: %s", err, stderr.String()))
	}

	step.Status = appstatus.Healthy
	return syncer.OperationResult{Status: appstatus.Healthy, Steps: []syncer.OperationStep{step}}
}
