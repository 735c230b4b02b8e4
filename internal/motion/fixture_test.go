package motion_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jvs-project/motion/internal/agent"
	"github.com/jvs-project/motion/internal/agent/agenttest"
	"github.com/jvs-project/motion/internal/audit"
	"github.com/jvs-project/motion/internal/cache"
	"github.com/jvs-project/motion/internal/lifecycle"
	"github.com/jvs-project/motion/internal/lock"
	"github.com/jvs-project/motion/internal/motion"
	"github.com/jvs-project/motion/internal/store"
	"github.com/jvs-project/motion/internal/volume"
	"github.com/jvs-project/motion/internal/volume/volumetest"
	"github.com/jvs-project/motion/pkg/config"
	"github.com/jvs-project/motion/pkg/logging"
	"github.com/jvs-project/motion/pkg/metrics"
	"github.com/jvs-project/motion/pkg/model"
	"github.com/jvs-project/motion/pkg/uuidutil"
)

const (
	zone      = int64(1)
	kvmHostA  = int64(10)
	kvmHostB  = int64(11)
	xenHost   = int64(20)
	vmwHost   = int64(30)
	relayHost = int64(99)
	vmID      = int64(500)
)

var (
	bothCaps = model.CapabilityMap{
		model.CapStorageSystemSnapshot:     "true",
		model.CapCanCreateVolumeFromVolume: "true",
	}
	zoneScope = model.Scope{Type: model.ScopeZone, ID: zone, ZoneID: zone}

	managedPool = &model.DataStore{ID: 1, UUID: "pool-managed", Name: "sf-1", Role: model.RolePrimary,
		Protocol: model.ProtocolISCSI, Provider: "solidfire", Managed: true, ZoneID: zone, Scope: zoneScope,
		HostAddress: "10.0.0.5", Port: 3260, PoolType: "Iscsi", Capabilities: bothCaps}
	managedPool2 = &model.DataStore{ID: 2, UUID: "pool-managed-2", Name: "sf-2", Role: model.RolePrimary,
		Protocol: model.ProtocolISCSI, Provider: "solidfire", Managed: true, ZoneID: zone, Scope: zoneScope,
		HostAddress: "10.0.0.6", Port: 3260, PoolType: "Iscsi", Capabilities: bothCaps}
	plainPool = &model.DataStore{ID: 3, UUID: "pool-plain", Name: "nfs-primary", Role: model.RolePrimary,
		Protocol: model.ProtocolNFS, Provider: "plain", ZoneID: zone, Scope: zoneScope}
	nfsImage = &model.DataStore{ID: 4, UUID: "image-nfs", Name: "secondary", Role: model.RoleImage,
		Protocol: model.ProtocolNFS, Provider: "plain", ZoneID: zone, URL: "nfs://10.0.0.9/secondary"}
	s3Image = &model.DataStore{ID: 5, UUID: "image-s3", Name: "objects", Role: model.RoleImage,
		Protocol: model.ProtocolS3, Provider: "plain", ZoneID: zone}
	imageCache = &model.DataStore{ID: 6, UUID: "image-cache", Name: "staging", Role: model.RoleImageCache,
		Protocol: model.ProtocolNFS, Provider: "plain", ZoneID: zone, Scope: zoneScope}
)

type fixture struct {
	st      *store.Store
	managed *volumetest.Driver
	plain   *volumetest.Driver
	gw      *agenttest.Gateway
	cache   *cache.Manager
	locks   *lock.Manager
	reg     *metrics.Registry
	audit   *audit.FileAppender
	deps    motion.Deps
	orch    *motion.Orchestrator
}

func newFixture(t *testing.T, tune ...func(*config.Config)) *fixture {
	t.Helper()
	st, err := store.Open(store.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	for _, ds := range []*model.DataStore{managedPool, managedPool2, plainPool, nfsImage, s3Image, imageCache} {
		require.NoError(t, st.PutStore(ds))
	}
	for _, c := range []*model.Cluster{
		{ID: 100, ZoneID: zone, Hypervisor: model.HypervisorKVM},
		{ID: 200, ZoneID: zone, Hypervisor: model.HypervisorXenServer, SupportsResigning: true},
		{ID: 300, ZoneID: zone, Hypervisor: model.HypervisorVMware, SupportsResigning: true},
	} {
		require.NoError(t, st.PutCluster(c))
	}
	for _, h := range []*model.Host{
		{ID: kvmHostA, Name: "kvm-a", ClusterID: 100, ZoneID: zone, Hypervisor: model.HypervisorKVM, PrivateIP: "10.1.0.10"},
		{ID: kvmHostB, Name: "kvm-b", ClusterID: 100, ZoneID: zone, Hypervisor: model.HypervisorKVM, PrivateIP: "10.1.0.11"},
		{ID: xenHost, Name: "xen-a", ClusterID: 200, ZoneID: zone, Hypervisor: model.HypervisorXenServer, PrivateIP: "10.1.0.20"},
		{ID: vmwHost, Name: "esx-a", ClusterID: 300, ZoneID: zone, Hypervisor: model.HypervisorVMware, PrivateIP: "10.1.0.30"},
	} {
		require.NoError(t, st.PutHost(h))
	}

	cfg := config.Default()
	cfg.PrimaryStorageDownloadWait = 5 * time.Second
	cfg.StoragePoolMaxWait = 5 * time.Second
	cfg.KVMOfflineMigrationWait = 5 * time.Second
	cfg.KVMOnlineMigrationWait = 5 * time.Second
	cfg.LockWait = 2 * time.Second
	for _, fn := range tune {
		fn(cfg)
	}

	f := &fixture{
		st:      st,
		managed: volumetest.New(),
		plain:   volumetest.New(),
		gw:      agenttest.New(),
		locks:   lock.NewManager(nil),
		reg:     metrics.NewRegistry("test"),
		audit:   audit.NewFileAppender(filepath.Join(t.TempDir(), "audit.jsonl")),
	}
	svc := volume.NewService(st, lifecycle.New(st), logging.Nop())
	svc.Register("solidfire", f.managed)
	svc.Register("plain", f.plain)
	f.cache = cache.NewManager(st, svc, f.reg)

	sel := agent.NewZoneSelector()
	sel.Set(zone, relayHost)

	f.deps = motion.Deps{
		Records:  st,
		Volumes:  svc,
		Stager:   f.cache,
		Locks:    f.locks,
		Gateway:  f.gw,
		Selector: sel,
		Config:   config.NewStatic(cfg),
		Auditor:  f.audit,
		Metrics:  f.reg,
		Log:      logging.Nop(),
	}
	f.orch, err = motion.New(f.deps)
	require.NoError(t, err)
	return f
}

// with rebuilds the orchestrator after fn adjusts its collaborators.
func (f *fixture) with(t *testing.T, fn func(*motion.Deps)) {
	t.Helper()
	d := f.deps
	fn(&d)
	orch, err := motion.New(d)
	require.NoError(t, err)
	f.orch = orch
}

func (f *fixture) volume(t *testing.T, ds *model.DataStore, state model.ObjectState, format model.ImageFormat) *model.DataObject {
	t.Helper()
	v := &model.DataObject{
		Kind:       model.KindVolume,
		UUID:       uuidutil.NewV4(),
		Name:       "vol",
		StoreID:    ds.ID,
		Format:     format,
		Size:       1 << 30,
		State:      state,
		ZoneID:     zone,
		Hypervisor: model.HypervisorKVM,
		Volume:     &model.VolumeInfo{PoolID: ds.ID},
	}
	require.NoError(t, f.st.Persist(v))
	return v
}

func (f *fixture) snapshot(t *testing.T, ds *model.DataStore, base *model.DataObject, hv model.HypervisorType) *model.DataObject {
	t.Helper()
	s := &model.DataObject{
		Kind:       model.KindSnapshot,
		UUID:       uuidutil.NewV4(),
		Name:       "snap",
		StoreID:    ds.ID,
		Format:     base.Format,
		Size:       base.Size,
		State:      model.StateReady,
		ZoneID:     zone,
		Hypervisor: hv,
		Snapshot:   &model.SnapshotInfo{VolumeID: base.ID, LocationType: model.LocationPrimary},
	}
	require.NoError(t, f.st.Persist(s))
	return s
}

func (f *fixture) template(t *testing.T, ds *model.DataStore, format model.ImageFormat, hv model.HypervisorType) *model.DataObject {
	t.Helper()
	tp := &model.DataObject{
		Kind:       model.KindTemplate,
		UUID:       uuidutil.NewV4(),
		Name:       "tmpl",
		StoreID:    ds.ID,
		Format:     format,
		Size:       1 << 30,
		State:      model.StateReady,
		ZoneID:     zone,
		Hypervisor: hv,
		Template:   &model.TemplateInfo{UniqueName: "tmpl-" + uuidutil.NewV4()[:8]},
	}
	require.NoError(t, f.st.Persist(tp))
	return tp
}

func (f *fixture) host(t *testing.T, id int64) *model.Host {
	t.Helper()
	h, err := f.st.Host(id)
	require.NoError(t, err)
	return h
}

func (f *fixture) reload(t *testing.T, obj *model.DataObject) *model.DataObject {
	t.Helper()
	got, err := f.st.Object(obj.Kind, obj.ID)
	require.NoError(t, err)
	return got
}

// attach puts vol on the test VM in the given state.
func (f *fixture) attach(t *testing.T, vol *model.DataObject, state model.VMState) {
	t.Helper()
	require.NoError(t, f.st.PutVM(&model.VM{ID: vmID, Name: "web", InstanceName: "i-2-500-VM", State: state, GuestOSCategory: "Windows", HostID: kvmHostA}))
	vol.Volume.InstanceID = vmID
	require.NoError(t, f.st.Update(vol))
}

// copy runs one Copy and insists the callback fired exactly once.
func (f *fixture) copy(t *testing.T, src, dst *model.DataObject) (motion.Result, error) {
	t.Helper()
	var got []motion.Result
	err := f.orch.Copy(context.Background(), src, dst, nil, func(r motion.Result) { got = append(got, r) })
	require.Len(t, got, 1, "callback must fire exactly once")
	return got[0], err
}
