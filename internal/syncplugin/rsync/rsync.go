// Package rsync implements the "rsync" syncplugin factory: replication
// by shelling out to the rsync(1) binary. No suitable Go rsync-protocol
// client library was available, so os/exec is the only idiomatic
// option, same as a plain wrapper script would use.
package rsync

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/ao-appcluster/appcluster/internal/appstatus"
	"github.com/ao-appcluster/appcluster/internal/config"
	"github.com/ao-appcluster/appcluster/internal/syncer"
)

// Factory builds rsync Synchronizers. Register it under the deployment's
// chosen factory identifier (conventionally "rsync").
var Factory factory

type factory struct{}

// Recognized TypeParams sub-keys (`appcluster.resource.<id>.rsync.*`;
// per-node `.node.<n>.rsync.*` keys are not read):
//   - rsync.path       — local path to replicate, required
//   - rsync.remotePath — destination path on the remote node, defaults
//     to rsync.path
//   - rsync.sshUser    — remote SSH user, defaults to none (current user)
//   - rsync.extraArgs  — extra space-separated rsync(1) flags
func (factory) New(view config.View) (syncer.Synchronizer, error) {
	path, ok := view.Param("rsync.path")
	if !ok || path == "" {
		return nil, fmt.Errorf("resource %s: rsync.path is required", view.ResourceID)
	}

	remotePath := path
	if v, ok := view.Param("rsync.remotePath"); ok && v != "" {
		remotePath = v
	}

	return &synchronizer{
		localPath:    path,
		remotePath:   remotePath,
		remoteHost:   view.RemoteNode.NodeID,
		sshUser:      firstOr(view.Param("rsync.sshUser")),
		extraArgs:    firstOr(view.Param("rsync.extraArgs")),
		commandName:  "rsync",
	}, nil
}

func firstOr(s string, ok bool) string {
	if ok {
		return s
	}
	return ""
}

type synchronizer struct {
	syncer.DefaultPolicy

	localPath   string
	remotePath  string
	remoteHost  string
	sshUser     string
	extraArgs   string
	commandName string
}

func (s *synchronizer) Synchronize(ctx context.Context) syncer.OperationResult {
	return s.run(ctx, false)
}

func (s *synchronizer) Test(ctx context.Context) syncer.OperationResult {
	return s.run(ctx, true)
}

// run invokes rsync, optionally in dry-run mode for Test (`--dry-run
// --itemize-changes`, whose non-empty output means the endpoints
// disagree).
func (s *synchronizer) run(ctx context.Context, dryRun bool) syncer.OperationResult {
	dest := s.remoteHost + ":" + s.remotePath
	if s.sshUser != "" {
		dest = s.sshUser + "@" + dest
	}

	args := []string{"-a", "--delete"}
	if dryRun {
		args = append(args, "--dry-run", "--itemize-changes")
	}
	if s.extraArgs != "" {
		args = append(args, splitArgs(s.extraArgs)...)
	}
	args = append(args, s.localPath, dest)

	cmd := exec.CommandContext(ctx, s.commandName, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	step := syncer.OperationStep{Name: "rsync", Output: stdout.String()}

	if err != nil {
		step.Status = appstatus.Error
		return syncer.ErrorResult([]syncer.OperationStep{step}, fmt.Sprintf("%v: %s", err, stderr.String()))
	}

	if dryRun && stdout.Len() > 0 {
		step.Status = appstatus.Inconsistent
		return syncer.OperationResult{
			Status: appstatus.Inconsistent,
			Steps:  []syncer.OperationStep{step},
			Error:  "rsync dry-run reports pending changes",
		}
	}

	step.Status = appstatus.Healthy
	return syncer.OperationResult{Status: appstatus.Healthy, Steps: []syncer.OperationStep{step}}
}

func splitArgs(s string) []string {
	var out []string
	start := -1
	for i, r := range s {
		if r == ' ' || r == '\t' {
			if start >= 0 {
				out = append(out, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}
