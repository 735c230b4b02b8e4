package store_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvs-project/motion/internal/store"
	"github.com/jvs-project/motion/pkg/model"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBuntDriver_SetGetDelete(t *testing.T) {
	db, err := store.NewBuntDriver(store.MemoryPath)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Set("c", "k1", map[string]int{"a": 1}))
	require.NoError(t, db.SetString("c", "k2", "plain"))

	var got map[string]int
	require.NoError(t, db.Get("c", "k1", &got))
	assert.Equal(t, 1, got["a"])

	s, err := db.GetString("c", "k2")
	require.NoError(t, err)
	assert.Equal(t, "plain", s)

	require.NoError(t, db.Delete("c", "k2"))
	_, err = db.GetString("c", "k2")
	assert.True(t, store.IsNotFound(err))
	assert.True(t, store.IsNotFound(db.Delete("c", "k2")))
}

func TestBuntDriver_ListAndDeleteCollection(t *testing.T) {
	db, err := store.NewBuntDriver(store.MemoryPath)
	require.NoError(t, err)
	defer db.Close()

	for _, k := range []string{"b/2", "a/1", "b/1"} {
		require.NoError(t, db.SetString("c", k, k))
	}
	require.NoError(t, db.SetString("other", "a/1", "x"))

	keys, err := db.List("c", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/1", "b/1", "b/2"}, keys)

	keys, err = db.List("c", "b/")
	require.NoError(t, err)
	assert.Equal(t, []string{"b/1", "b/2"}, keys)

	keys, err = db.List("c", "?/1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/1", "b/1"}, keys)

	all, err := db.GetAll("c", "a")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a/1": "a/1"}, all)

	require.NoError(t, db.DeleteCollection("c"))
	keys, err = db.List("c", "")
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = db.GetString("other", "a/1")
	assert.NoError(t, err)
}

func TestParsePath(t *testing.T) {
	c, k := store.ParsePath("objects##volume/1")
	assert.Equal(t, "objects", c)
	assert.Equal(t, "volume/1", k)

	c, k = store.ParsePath("bare")
	assert.Equal(t, "bare", c)
	assert.Empty(t, k)
}

func TestStore_PersistAssignsIDsAndResolvesStore(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.PutStore(&model.DataStore{ID: 5, UUID: "pool-5", Role: model.RolePrimary, Managed: true}))

	v := &model.DataObject{Kind: model.KindVolume, StoreID: 5, State: model.StateAllocated, Volume: &model.VolumeInfo{PoolID: 5}}
	require.NoError(t, s.Persist(v))
	assert.Equal(t, int64(1), v.ID)
	require.NotNil(t, v.Store)
	assert.True(t, v.Store.Managed)

	explicit := &model.DataObject{Kind: model.KindVolume, ID: 10, StoreID: 5, Volume: &model.VolumeInfo{}}
	require.NoError(t, s.Persist(explicit))

	next := &model.DataObject{Kind: model.KindVolume, StoreID: 5, Volume: &model.VolumeInfo{}}
	require.NoError(t, s.Persist(next))
	assert.Equal(t, int64(11), next.ID)

	snap := &model.DataObject{Kind: model.KindSnapshot, StoreID: 5, Snapshot: &model.SnapshotInfo{VolumeID: 1}}
	require.NoError(t, s.Persist(snap))
	assert.Equal(t, int64(1), snap.ID, "sequences are per kind")

	got, err := s.Volume(1)
	require.NoError(t, err)
	assert.Equal(t, "pool-5", got.Store.UUID)
}

func TestStore_PersistDanglingStoreFails(t *testing.T) {
	s := openStore(t)
	err := s.Persist(&model.DataObject{Kind: model.KindVolume, StoreID: 99})
	assert.True(t, store.IsNotFound(err))
}

func TestStore_UpdateRequiresExisting(t *testing.T) {
	s := openStore(t)
	err := s.Update(&model.DataObject{Kind: model.KindVolume, ID: 3})
	assert.True(t, store.IsNotFound(err))
}

func TestStore_UpdateAndRemove(t *testing.T) {
	s := openStore(t)
	v := &model.DataObject{Kind: model.KindVolume, State: model.StateAllocated, Volume: &model.VolumeInfo{}}
	require.NoError(t, s.Persist(v))

	v.State = model.StateReady
	v.Path = "/dev/sdb"
	require.NoError(t, s.Update(v))

	got, err := s.Volume(v.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateReady, got.State)
	assert.Equal(t, "/dev/sdb", got.Path)

	require.NoError(t, s.RemoveObject(v))
	require.NoError(t, s.RemoveObject(v))
	_, err = s.Volume(v.ID)
	assert.True(t, store.IsNotFound(err))
}

func TestStore_SnapshotRepointAndUUIDSwap(t *testing.T) {
	s := openStore(t)
	src := &model.DataObject{Kind: model.KindVolume, UUID: "src-uuid", Volume: &model.VolumeInfo{}}
	dst := &model.DataObject{Kind: model.KindVolume, UUID: "dst-uuid", Volume: &model.VolumeInfo{}}
	require.NoError(t, s.Persist(src))
	require.NoError(t, s.Persist(dst))
	for i := 0; i < 2; i++ {
		require.NoError(t, s.Persist(&model.DataObject{Kind: model.KindSnapshot, Snapshot: &model.SnapshotInfo{VolumeID: src.ID}}))
	}

	require.NoError(t, s.UpdateSnapshotVolumeIDs(src.ID, dst.ID))
	snaps, err := s.SnapshotsByVolume(dst.ID)
	require.NoError(t, err)
	assert.Len(t, snaps, 2)
	snaps, err = s.SnapshotsByVolume(src.ID)
	require.NoError(t, err)
	assert.Empty(t, snaps)

	require.NoError(t, s.SwapVolumeUUIDs(src.ID, dst.ID))
	gotDst, err := s.Volume(dst.ID)
	require.NoError(t, err)
	assert.Equal(t, "src-uuid", gotDst.UUID)
}

func TestStore_HostsAndStores(t *testing.T) {
	s := openStore(t)
	require.NoError(t, s.PutHost(&model.Host{ID: 2, ClusterID: 1, ZoneID: 1, Hypervisor: model.HypervisorKVM}))
	require.NoError(t, s.PutHost(&model.Host{ID: 1, ClusterID: 1, ZoneID: 1, Hypervisor: model.HypervisorKVM}))
	require.NoError(t, s.PutHost(&model.Host{ID: 3, ClusterID: 2, ZoneID: 1, Hypervisor: model.HypervisorXenServer}))
	require.NoError(t, s.PutCluster(&model.Cluster{ID: 2, ZoneID: 1, Hypervisor: model.HypervisorXenServer, SupportsResigning: true}))

	in, err := s.HostsInCluster(1)
	require.NoError(t, err)
	require.Len(t, in, 2)
	assert.Equal(t, int64(1), in[0].ID)

	xen, err := s.HostsInZone(1, model.HypervisorXenServer)
	require.NoError(t, err)
	require.Len(t, xen, 1)

	c, err := s.Cluster(2)
	require.NoError(t, err)
	assert.True(t, c.SupportsResigning)

	require.NoError(t, s.PutStore(&model.DataStore{ID: 1, ZoneID: 1, Role: model.RoleImageCache}))
	require.NoError(t, s.PutStore(&model.DataStore{ID: 2, ZoneID: 1, Role: model.RoleImage}))
	caches, err := s.StoresByZoneAndRole(1, model.RoleImageCache)
	require.NoError(t, err)
	require.Len(t, caches, 1)
	assert.Equal(t, int64(1), caches[0].ID)

	assert.Error(t, s.PutStore(&model.DataStore{}))
}

func TestStore_Details(t *testing.T) {
	s := openStore(t)

	d, err := s.VolumeDetails(4)
	require.NoError(t, err)
	assert.NotNil(t, d)
	assert.Empty(t, d)

	require.NoError(t, s.SetVolumeDetail(4, "cloneOfTemplate", "7"))
	require.NoError(t, s.SetVolumeDetail(4, "scsiNaaDeviceId", "naa.1"))
	v, err := s.VolumeDetail(4, "cloneOfTemplate")
	require.NoError(t, err)
	assert.Equal(t, "7", v)

	require.NoError(t, s.RemoveVolumeDetail(4, "cloneOfTemplate"))
	require.NoError(t, s.RemoveVolumeDetail(4, "cloneOfTemplate"))
	d, err = s.VolumeDetails(4)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"scsiNaaDeviceId": "naa.1"}, d)

	require.NoError(t, s.SetSnapshotDetail(9, "takeSnapshot", "true"))
	sv, err := s.SnapshotDetail(9, "takeSnapshot")
	require.NoError(t, err)
	assert.Equal(t, "true", sv)
	require.NoError(t, s.RemoveSnapshotDetail(9, "takeSnapshot"))
	sd, err := s.SnapshotDetails(9)
	require.NoError(t, err)
	assert.Empty(t, sd)
}

func TestStore_FilePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "motion.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	require.NoError(t, s.PutVM(&model.VM{ID: 3, Name: "web", State: model.VMStopped}))
	require.NoError(t, s.Close())

	s, err = store.Open(path)
	require.NoError(t, err)
	defer s.Close()
	vm, err := s.VM(3)
	require.NoError(t, err)
	assert.Equal(t, "web", vm.Name)
}
