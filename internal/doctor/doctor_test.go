package doctor_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvs-project/motion/internal/audit"
	"github.com/jvs-project/motion/internal/doctor"
	"github.com/jvs-project/motion/internal/inventory"
	"github.com/jvs-project/motion/pkg/config"
	"github.com/jvs-project/motion/pkg/model"
)

// healthySite is a zone with managed storage, a KVM host, a resigning
// XenServer cluster and an image cache.
func healthySite() *inventory.Document {
	return &inventory.Document{
		Zones: []inventory.Zone{{ID: 1, RelayHost: 99}},
		Stores: []inventory.Store{
			{ID: 1, Name: "sf-1", Role: model.RolePrimary, Protocol: model.ProtocolISCSI, Managed: true, ZoneID: 1,
				HostAddress: "10.0.0.5", Capabilities: map[string]string{model.CapStorageSystemSnapshot: "true"}},
			{ID: 4, Name: "objects", Role: model.RoleImage, Protocol: model.ProtocolS3, ZoneID: 1},
			{ID: 6, Name: "staging", Role: model.RoleImageCache, Protocol: model.ProtocolNFS, ZoneID: 1},
		},
		Clusters: []model.Cluster{
			{ID: 100, ZoneID: 1, Hypervisor: model.HypervisorKVM},
			{ID: 200, ZoneID: 1, Hypervisor: model.HypervisorXenServer, SupportsResigning: true},
		},
		Hosts: []model.Host{
			{ID: 10, Name: "kvm-a", ClusterID: 100, ZoneID: 1, Hypervisor: model.HypervisorKVM, AgentURL: "http://10.1.0.10:8250"},
			{ID: 20, Name: "xen-a", ClusterID: 200, ZoneID: 1, Hypervisor: model.HypervisorXenServer, AgentURL: "http://10.1.0.20:8250"},
			{ID: 99, Name: "ssvm-1", ClusterID: 100, ZoneID: 1, Hypervisor: model.HypervisorKVM, AgentURL: "http://10.1.0.99:8250"},
		},
		VMs:       []model.VM{{ID: 500, Name: "web"}},
		Volumes:   []inventory.Volume{{ID: 1, Store: 1, Format: model.FormatQCOW2, VM: 500}},
		Snapshots: []inventory.Snapshot{{ID: 1, Store: 1, Volume: 1}},
		Templates: []inventory.Template{{ID: 1, Store: 4, Format: model.FormatQCOW2}},
	}
}

func categories(r *doctor.Result) []string {
	var out []string
	for _, f := range r.Findings {
		out = append(out, f.Category+"/"+f.Severity)
	}
	return out
}

func TestDoctor_Check_Healthy(t *testing.T) {
	doc := doctor.NewDoctor(healthySite(), config.Default(), "")
	result, err := doc.Check(false)
	require.NoError(t, err)
	assert.True(t, result.Healthy)
	assert.Empty(t, result.Findings)
}

func TestDoctor_Check_Testdata(t *testing.T) {
	site, err := inventory.Load(filepath.Join("..", "inventory", "testdata", "site.yaml"))
	require.NoError(t, err)

	result, err := doctor.NewDoctor(site, nil, "").Check(false)
	require.NoError(t, err)
	assert.True(t, result.Healthy)
	// Two hosts are listed without an agent URL.
	assert.Equal(t, []string{"agent/info", "agent/info"}, categories(result))
}

func TestDoctor_Check_NilDocument(t *testing.T) {
	result, err := doctor.NewDoctor(nil, nil, "").Check(true)
	require.NoError(t, err)
	assert.True(t, result.Healthy)
}

func TestDoctor_Check_Findings(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*inventory.Document)
		want    string
		healthy bool
	}{
		{"host in unknown cluster", func(d *inventory.Document) { d.Hosts[0].ClusterID = 7 }, "topology/error", false},
		{"host hypervisor mismatch", func(d *inventory.Document) { d.Hosts[1].Hypervisor = model.HypervisorKVM }, "topology/warning", true},
		{"store in unknown cluster", func(d *inventory.Document) { d.Stores[0].ClusterID = 7 }, "store/error", false},
		{"managed store without capabilities", func(d *inventory.Document) { d.Stores[0].Capabilities = nil }, "capability/warning", true},
		{"object store without cache", func(d *inventory.Document) { d.Stores = d.Stores[:2] }, "cache/warning", true},
		{"unknown relay", func(d *inventory.Document) { d.Zones[0].RelayHost = 42 }, "relay/error", false},
		{"no relay", func(d *inventory.Document) { d.Zones = nil }, "relay/warning", true},
		{"no resigning cluster", func(d *inventory.Document) { d.Clusters[1].SupportsResigning = false }, "resign/warning", true},
		{"volume on unknown store", func(d *inventory.Document) { d.Volumes[0].Store = 9 }, "object/error", false},
		{"volume on unknown vm", func(d *inventory.Document) { d.Volumes[0].VM = 9 }, "object/error", false},
		{"snapshot of unknown volume", func(d *inventory.Document) { d.Snapshots[0].Volume = 9 }, "object/error", false},
		{"snapshot with unknown parent", func(d *inventory.Document) { d.Snapshots[0].Parent = 9 }, "object/warning", true},
		{"template on unknown store", func(d *inventory.Document) { d.Templates[0].Store = 9 }, "object/error", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := healthySite()
			tt.mutate(site)
			result, err := doctor.NewDoctor(site, nil, "").Check(false)
			require.NoError(t, err)
			assert.Contains(t, categories(result), tt.want)
			assert.Equal(t, tt.healthy, result.Healthy)
		})
	}
}

func TestDoctor_Check_NoKVMHost(t *testing.T) {
	site := healthySite()
	site.Hosts = site.Hosts[1:2]
	site.Zones = nil

	result, err := doctor.NewDoctor(site, nil, "").Check(false)
	require.NoError(t, err)
	assert.Contains(t, categories(result), "host/warning")
}

func TestDoctor_Check_BadConfig(t *testing.T) {
	cfg := config.Default()
	cfg.LockWait = 0

	result, err := doctor.NewDoctor(healthySite(), cfg, "").Check(false)
	require.NoError(t, err)
	assert.False(t, result.Healthy)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, "config", result.Findings[0].Category)
	assert.Contains(t, result.Findings[0].Description, "lock_wait")
}

func TestDoctor_Check_StrictAudit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	app := audit.NewFileAppender(path)
	require.NoError(t, app.Append(&model.AuditRecord{EventType: model.EventTypeCopy, Scenario: "upload_to_primary", Success: true}))
	require.NoError(t, app.Append(&model.AuditRecord{EventType: model.EventTypeCopy, Scenario: "upload_to_primary", Success: false}))

	result, err := doctor.NewDoctor(healthySite(), nil, path).Check(true)
	require.NoError(t, err)
	assert.True(t, result.Healthy)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"success":false`, `"success":true`, 1)
	require.NotEqual(t, string(data), tampered)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0644))

	// Without strict the chain is not read.
	result, err = doctor.NewDoctor(healthySite(), nil, path).Check(false)
	require.NoError(t, err)
	assert.True(t, result.Healthy)

	result, err = doctor.NewDoctor(healthySite(), nil, path).Check(true)
	require.NoError(t, err)
	assert.False(t, result.Healthy)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, "audit", result.Findings[0].Category)
	assert.Equal(t, path, result.Findings[0].Path)
}
