// Package imap implements the "imap" syncplugin factory: consistency
// checking between two IMAP mailboxes. No suitable IMAP client library
// was available, so this is a minimal hand-rolled client over
// net/crypto/tls implementing just enough of RFC 3501 (tagged commands,
// SELECT, UID FETCH) to compare mailbox state; it never writes to either
// mailbox.
package imap

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ao-appcluster/appcluster/internal/appstatus"
	"github.com/ao-appcluster/appcluster/internal/config"
	"github.com/ao-appcluster/appcluster/internal/syncer"
)

// Factory builds imap Synchronizers. Register it under the deployment's
// chosen factory identifier (conventionally "imap").
var Factory factory

type factory struct{}

// Recognized TypeParams sub-keys (`appcluster.resource.<id>.imap.*`):
//   - imap.localAddr / imap.remoteAddr — "host:port" of each endpoint
//   - imap.user / imap.password        — credentials, shared by both
//     endpoints
//   - imap.mailbox                     — mailbox name to compare,
//     defaults to "INBOX"
func (factory) New(view config.View) (syncer.Synchronizer, error) {
	localAddr, ok := view.Param("imap.localAddr")
	if !ok || localAddr == "" {
		return nil, fmt.Errorf("resource %s: imap.localAddr is required", view.ResourceID)
	}
	remoteAddr, ok := view.Param("imap.remoteAddr")
	if !ok || remoteAddr == "" {
		return nil, fmt.Errorf("resource %s: imap.remoteAddr is required", view.ResourceID)
	}
	user, _ := view.Param("imap.user")
	password, _ := view.Param("imap.password")
	mailbox := "INBOX"
	if v, ok := view.Param("imap.mailbox"); ok && v != "" {
		mailbox = v
	}

	return &synchronizer{
		localAddr:  localAddr,
		remoteAddr: remoteAddr,
		user:       user,
		password:   password,
		mailbox:    mailbox,
	}, nil
}

type synchronizer struct {
	syncer.DefaultPolicy

	localAddr, remoteAddr string
	user, password        string
	mailbox                string
}

// Synchronize for imap is a Test: this plug-in never authors mail, only
// reports the comparison; it's a consistency check, not a content mover.
func (s *synchronizer) Synchronize(ctx context.Context) syncer.OperationResult {
	return s.Test(ctx)
}

func (s *synchronizer) Test(ctx context.Context) syncer.OperationResult {
	localUIDs, err := mailboxUIDs(ctx, s.localAddr, s.user, s.password, s.mailbox)
	if err != nil {
		return syncer.ErrorResult(nil, fmt.Sprintf("local mailbox: %v", err))
	}
	remoteUIDs, err := mailboxUIDs(ctx, s.remoteAddr, s.user, s.password, s.mailbox)
	if err != nil {
		return syncer.ErrorResult(nil, fmt.Sprintf("remote mailbox: %v", err))
	}

	missing := diff(localUIDs, remoteUIDs)
	extra := diff(remoteUIDs, localUIDs)

	step := syncer.OperationStep{
		Name:   "mailbox uid comparison",
		Output: fmt.Sprintf("%d local, %d remote, %d missing remotely, %d extra remotely", len(localUIDs), len(remoteUIDs), len(missing), len(extra)),
	}

	if len(missing) > 0 || len(extra) > 0 {
		step.Status = appstatus.Inconsistent
		return syncer.OperationResult{Status: appstatus.Inconsistent, Steps: []syncer.OperationStep{step}, Error: "mailboxes disagree on message UIDs"}
	}

	step.Status = appstatus.Healthy
	return syncer.OperationResult{Status: appstatus.Healthy, Steps: []syncer.OperationStep{step}}
}

func diff(a, b map[uint32]bool) []uint32 {
	var out []uint32
	for uid := range a {
		if !b[uid] {
			out = append(out, uid)
		}
	}
	return out
}

// client is a minimal tagged-command IMAP session: enough to log in,
// SELECT a mailbox, and UID FETCH the message set's UIDs.
type client struct {
	conn net.Conn
	r    *bufio.Reader
	tag  int
}

func dial(ctx context.Context, addr string) (*client, error) {
	d := net.Dialer{}
	conn, err := tls.DialWithDialer(&d, "tcp", addr, &tls.Config{ServerName: hostOf(addr)})
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	c := &client{conn: conn, r: bufio.NewReader(conn)}
	// greeting
	if _, err := c.r.ReadString('\n'); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read greeting: %w", err)
	}
	return c, nil
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func (c *client) command(verb string) (string, error) {
	c.tag++
	tag := fmt.Sprintf("a%04d", c.tag)
	if _, err := fmt.Fprintf(c.conn, "%s %s\r\n", tag, verb); err != nil {
		return "", err
	}

	var out strings.Builder
	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			return "", err
		}
		out.WriteString(line)
		if strings.HasPrefix(line, tag+" ") {
			if !strings.Contains(line, "OK") {
				return "", fmt.Errorf("command %q failed: %s", verb, strings.TrimSpace(line))
			}
			break
		}
	}
	return out.String(), nil
}

func (c *client) close() { c.conn.Close() }

// mailboxUIDs logs into addr, selects mailbox, and returns the set of
// message UIDs it reports via UID FETCH 1:* (UID).
func mailboxUIDs(ctx context.Context, addr, user, password, mailbox string) (map[uint32]bool, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	c, err := dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer c.close()

	if _, err := c.command(fmt.Sprintf("LOGIN %s %s", quoteArg(user), quoteArg(password))); err != nil {
		return nil, err
	}
	if _, err := c.command(fmt.Sprintf("SELECT %s", quoteArg(mailbox))); err != nil {
		return nil, err
	}
	resp, err := c.command("UID FETCH 1:* (UID)")
	if err != nil {
		return nil, err
	}

	uids := map[uint32]bool{}
	for _, line := range strings.Split(resp, "\r\n") {
		idx := strings.Index(line, "UID ")
		if idx < 0 {
			continue
		}
		rest := strings.TrimSpace(line[idx+len("UID "):])
		rest = strings.TrimRight(rest, ")")
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		if n, err := strconv.ParseUint(fields[0], 10, 32); err == nil {
			uids[uint32(n)] = true
		}
	}
	return uids, nil
}

func quoteArg(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
