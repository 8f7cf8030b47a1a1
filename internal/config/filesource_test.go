package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ao-appcluster/appcluster/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "appcluster.properties")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const sampleConfig = `
appcluster.enabled = true
appcluster.display = Test Cluster

appcluster.nodes = a, b
appcluster.node.a.hostname = a.example.com
appcluster.node.a.nameservers = ns1.example.com
appcluster.node.b.hostname = b.example.com
appcluster.node.b.nameservers = ns1.example.com

appcluster.resourceTypes = db
appcluster.resourceType.db.factory = jdbc

appcluster.resources = r1
appcluster.resource.r1.type = db
appcluster.resource.r1.masterRecords = m.example.com
appcluster.resource.r1.masterRecordsTtl = 300
appcluster.resource.r1.nodes = a, b
appcluster.resource.r1.node.a.nodeRecords = a.example.com
appcluster.resource.r1.node.b.nodeRecords = b.example.com
appcluster.resource.r1.jdbc.url = postgres://localhost/app
`

func TestFileSource_ParsesFullKeyTable(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	src := config.NewFileSource(path, zap.NewNop().Sugar())
	require.NoError(t, src.Start())
	defer src.Stop()

	assert.True(t, src.Enabled())
	assert.Equal(t, "Test Cluster", src.Display())

	nodes := src.Nodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, "a", nodes[0].ID)
	assert.Equal(t, "a.example.com", nodes[0].Hostname)
	assert.Equal(t, []string{"ns1.example.com"}, nodes[0].Nameservers)

	resources := src.Resources()
	require.Len(t, resources, 1)
	r := resources[0]
	assert.Equal(t, "db", r.Type)
	assert.Equal(t, []string{"m.example.com"}, r.MasterRecords)
	assert.Equal(t, 300, r.MasterRecordsTTL)
	require.Len(t, r.Nodes, 2)
	assert.Equal(t, []string{"a.example.com"}, r.Nodes[0].NodeRecords)
	assert.Equal(t, "postgres://localhost/app", r.TypeParams["jdbc.url"])

	factory, ok := src.ResourceTypeFactory("db")
	require.True(t, ok)
	assert.Equal(t, "jdbc", factory)
}

func TestFileSource_ReloadsOnChangeAndNotifiesListeners(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	src := config.NewFileSource(path, zap.NewNop().Sugar())
	src.SetPollInterval(20 * time.Millisecond)
	require.NoError(t, src.Start())
	defer src.Stop()

	ch := make(chan struct{}, 1)
	src.AddListener(ch)

	updated := sampleConfig + "\nappcluster.display = Renamed\n"
	// Ensure the mtime actually advances on filesystems with coarse
	// mtime resolution.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	require.NoError(t, os.Chtimes(path, time.Now().Add(time.Second), time.Now().Add(time.Second)))

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload notification")
	}

	assert.Equal(t, "Renamed", src.Display())
}
