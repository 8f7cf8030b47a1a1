package dnsquery_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ao-appcluster/appcluster/internal/dnsquery"
	"github.com/ao-appcluster/appcluster/internal/dnstest"
)

func TestLookup_Successful(t *testing.T) {
	t.Parallel()

	srv, addr := dnstest.New(t, `m.example.com. 300 IN A 10.0.0.1`)
	_ = srv

	r := dnsquery.NewResolver("ns1", addr, nil)
	result := dnsquery.Lookup(context.Background(), r, "m.example.com", 300*time.Second, true)

	require.Equal(t, dnsquery.StatusSuccessful, result.Status)
	assert.Equal(t, []string{"10.0.0.1"}, result.Addresses)
	assert.Empty(t, result.Warnings)
}

func TestLookup_MultipleAddressesSortedAndDeduped(t *testing.T) {
	t.Parallel()

	srv, addr := dnstest.New(t, "")
	srv.SetA("m.example.com.", 300, "10.0.0.2", "10.0.0.1", "10.0.0.1")

	r := dnsquery.NewResolver("ns1", addr, nil)
	result := dnsquery.Lookup(context.Background(), r, "m.example.com", 300*time.Second, false)

	require.Equal(t, dnsquery.StatusSuccessful, result.Status)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, result.Addresses)
}

func TestLookup_UnexpectedTtlWarning(t *testing.T) {
	t.Parallel()

	srv, addr := dnstest.New(t, "")
	srv.SetA("m.example.com.", 600, "10.0.0.1")

	r := dnsquery.NewResolver("ns1", addr, nil)
	result := dnsquery.Lookup(context.Background(), r, "m.example.com", 300*time.Second, true)

	require.Equal(t, dnsquery.StatusSuccessful, result.Status)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "unexpectedTtl")
}

func TestLookup_NoTtlWarningWhenNotMasterRecord(t *testing.T) {
	t.Parallel()

	srv, addr := dnstest.New(t, "")
	srv.SetA("a.example.com.", 600, "10.0.0.1")

	r := dnsquery.NewResolver("ns1", addr, nil)
	result := dnsquery.Lookup(context.Background(), r, "a.example.com", 300*time.Second, false)

	require.Equal(t, dnsquery.StatusSuccessful, result.Status)
	assert.Empty(t, result.Warnings)
}

func TestLookup_HostNotFound(t *testing.T) {
	t.Parallel()

	srv, addr := dnstest.New(t, "")
	_ = srv

	r := dnsquery.NewResolver("ns1", addr, nil)
	result := dnsquery.Lookup(context.Background(), r, "missing.example.com", 300*time.Second, false)

	assert.Equal(t, dnsquery.StatusHostNotFound, result.Status)
	assert.Empty(t, result.Addresses)
}

func TestLookup_SuccessfulEmptyDowngradesToHostNotFound(t *testing.T) {
	t.Parallel()

	// A name that exists (has some record) but has no A records at all:
	// the zone text below defines an NS record for m.example.com so the
	// server's db is non-empty for that name, while the A query still
	// comes back with zero answers.
	srv, addr := dnstest.New(t, `m.example.com. 300 IN NS ns1.example.com.`)
	_ = srv

	r := dnsquery.NewResolver("ns1", addr, nil)
	result := dnsquery.Lookup(context.Background(), r, "m.example.com", 300*time.Second, false)

	assert.Equal(t, dnsquery.StatusHostNotFound, result.Status)
}

func TestLookup_Unreachable(t *testing.T) {
	t.Parallel()

	r := dnsquery.NewResolver("ns1", "127.0.0.1:1", func(string) time.Duration {
		return 200 * time.Millisecond
	})
	result := dnsquery.Lookup(context.Background(), r, "m.example.com", 300*time.Second, false)

	assert.NotEqual(t, dnsquery.StatusSuccessful, result.Status)
	assert.NotEmpty(t, result.Errors)
}
