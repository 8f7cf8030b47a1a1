// Package dnstest provides a fake authoritative nameserver for tests: a
// real dns.Server backed by an RFC 1035 zone file, so DNS-monitor and
// lookup tests exercise actual wire-format answers instead of hand-built
// *dns.Msg values.
package dnstest

import (
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/miekg/dns"
)

// Server is a minimal authoritative nameserver serving an in-memory zone.
type Server struct {
	t   *testing.T
	db  map[uint16]map[string][]dns.RR
	srv *dns.Server
	PacketConn net.PacketConn
}

// New starts a fake nameserver listening on 127.0.0.1:0/udp, serving the
// given RFC 1035 zone text, and returns it along with its address. The
// server is shut down automatically when the test finishes.
func New(t *testing.T, zone string) (*Server, string) {
	t.Helper()

	s := &Server{t: t, db: map[uint16]map[string][]dns.RR{}}

	zp := dns.NewZoneParser(strings.NewReader(strings.TrimSpace(zone)+"\n"), ".", "test.zone")
	zp.SetIncludeAllowed(false)
	for {
		rr, ok := zp.Next()
		if !ok {
			break
		}
		s.add(rr)
	}
	if err := zp.Err(); err != nil {
		t.Fatalf("dnstest: parse zone: %v", err)
	}

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("dnstest: listen: %v", err)
	}
	s.PacketConn = pc

	mux := dns.NewServeMux()
	mux.HandleFunc(".", s.handle)

	s.srv = &dns.Server{PacketConn: pc, Handler: mux}
	go func() {
		_ = s.srv.ActivateAndServe()
	}()

	t.Cleanup(func() {
		_ = s.srv.Shutdown()
	})

	return s, pc.LocalAddr().String()
}

func (s *Server) add(rr dns.RR) {
	hdr := rr.Header()
	if s.db[hdr.Rrtype] == nil {
		s.db[hdr.Rrtype] = map[string][]dns.RR{}
	}
	s.db[hdr.Rrtype][hdr.Name] = append(s.db[hdr.Rrtype][hdr.Name], rr)
}

// SetA replaces all A records for name with exactly these addresses, at
// the given TTL. Useful for simulating DNS changes between monitor ticks.
func (s *Server) SetA(name string, ttl uint32, addrs ...string) {
	name = dns.CanonicalName(name)
	var rrs []dns.RR
	for _, addr := range addrs {
		rr, err := dns.NewRR(fmt.Sprintf("%s %d IN A %s", name, ttl, addr))
		if err != nil {
			s.t.Fatalf("dnstest: build A record: %v", err)
		}
		rrs = append(rrs, rr)
	}
	if s.db[dns.TypeA] == nil {
		s.db[dns.TypeA] = map[string][]dns.RR{}
	}
	s.db[dns.TypeA][name] = rrs
}

func (s *Server) handle(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = true

	if len(r.Question) != 1 {
		m.Rcode = dns.RcodeFormatError
		_ = w.WriteMsg(m)
		return
	}

	q := r.Question[0]
	rrs, ok := s.db[q.Qtype][q.Name]
	if !ok || len(rrs) == 0 {
		if !s.hasAnyRecord(q.Name) {
			m.Rcode = dns.RcodeNameError
		}
		_ = w.WriteMsg(m)
		return
	}

	m.Answer = rrs
	_ = w.WriteMsg(m)
}

func (s *Server) hasAnyRecord(name string) bool {
	for _, byName := range s.db {
		if len(byName[name]) > 0 {
			return true
		}
	}
	return false
}
