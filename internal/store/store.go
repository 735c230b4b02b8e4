package store

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/jvs-project/motion/pkg/errclass"
	"github.com/jvs-project/motion/pkg/model"
)

const (
	collObjects         = "objects"
	collStores          = "stores"
	collHosts           = "hosts"
	collClusters        = "clusters"
	collVMs             = "vms"
	collVolumeDetails   = "volume_details"
	collSnapshotDetails = "snapshot_details"
	collSequences       = "seq"
)

func idKey(id int64) string {
	return fmt.Sprintf("%020d", id)
}

func objectKey(kind model.Kind, id int64) string {
	return string(kind) + "/" + idKey(id)
}

// Store is the typed record layer over a Driver. Loaded data objects come
// back with their Store field resolved.
type Store struct {
	db  Driver
	seq sync.Mutex
}

// New wraps a driver.
func New(db Driver) *Store {
	return &Store{db: db}
}

// Open opens a buntdb-backed store at path.
func Open(path string) (*Store, error) {
	db, err := NewBuntDriver(path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	return New(db), nil
}

// Close closes the underlying driver.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) nextID(kind string) (int64, error) {
	s.seq.Lock()
	defer s.seq.Unlock()
	var n int64
	v, err := s.db.GetString(collSequences, kind)
	switch {
	case err == nil:
		n, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("sequence %s: %w", kind, err)
		}
	case !IsNotFound(err):
		return 0, err
	}
	n++
	if err := s.db.SetString(collSequences, kind, strconv.FormatInt(n, 10)); err != nil {
		return 0, err
	}
	return n, nil
}

// bumpSequence keeps the sequence ahead of explicitly assigned IDs.
func (s *Store) bumpSequence(kind string, id int64) error {
	s.seq.Lock()
	defer s.seq.Unlock()
	v, err := s.db.GetString(collSequences, kind)
	if err != nil && !IsNotFound(err) {
		return err
	}
	cur, _ := strconv.ParseInt(v, 10, 64)
	if id <= cur {
		return nil
	}
	return s.db.SetString(collSequences, kind, strconv.FormatInt(id, 10))
}

// Persist stores a new object. A zero ID is assigned from the kind's
// sequence.
func (s *Store) Persist(obj *model.DataObject) error {
	if obj.ID == 0 {
		id, err := s.nextID(string(obj.Kind))
		if err != nil {
			return err
		}
		obj.ID = id
	} else if err := s.bumpSequence(string(obj.Kind), obj.ID); err != nil {
		return err
	}
	if err := s.db.Set(collObjects, objectKey(obj.Kind, obj.ID), obj); err != nil {
		return fmt.Errorf("persist %s: %w", obj, err)
	}
	return s.resolve(obj)
}

// Update overwrites an existing object.
func (s *Store) Update(obj *model.DataObject) error {
	key := objectKey(obj.Kind, obj.ID)
	if _, err := s.db.GetString(collObjects, key); err != nil {
		return err
	}
	if err := s.db.Set(collObjects, key, obj); err != nil {
		return fmt.Errorf("update %s: %w", obj, err)
	}
	return nil
}

// Object loads one object.
func (s *Store) Object(kind model.Kind, id int64) (*model.DataObject, error) {
	var obj model.DataObject
	if err := s.db.Get(collObjects, objectKey(kind, id), &obj); err != nil {
		return nil, err
	}
	if err := s.resolve(&obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

// Volume, Snapshot and Template are shorthands for Object.
func (s *Store) Volume(id int64) (*model.DataObject, error) {
	return s.Object(model.KindVolume, id)
}

func (s *Store) Snapshot(id int64) (*model.DataObject, error) {
	return s.Object(model.KindSnapshot, id)
}

func (s *Store) Template(id int64) (*model.DataObject, error) {
	return s.Object(model.KindTemplate, id)
}

// RemoveObject deletes the record of obj. Missing records are ignored.
func (s *Store) RemoveObject(obj *model.DataObject) error {
	err := s.db.Delete(collObjects, objectKey(obj.Kind, obj.ID))
	if IsNotFound(err) {
		return nil
	}
	return err
}

func (s *Store) resolve(obj *model.DataObject) error {
	if obj.StoreID == 0 {
		obj.Store = nil
		return nil
	}
	ds, err := s.DataStore(obj.StoreID)
	if err != nil {
		return fmt.Errorf("resolve store of %s: %w", obj, err)
	}
	obj.Store = ds
	return nil
}

func (s *Store) objects(kind model.Kind) ([]*model.DataObject, error) {
	all, err := s.db.GetAll(collObjects, string(kind)+"/")
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*model.DataObject, 0, len(keys))
	for _, k := range keys {
		var obj model.DataObject
		if err := json.Unmarshal([]byte(all[k]), &obj); err != nil {
			return nil, fmt.Errorf("decode %s: %w", k, err)
		}
		if err := s.resolve(&obj); err != nil {
			return nil, err
		}
		out = append(out, &obj)
	}
	return out, nil
}

// Objects lists every object of kind ordered by ID.
func (s *Store) Objects(kind model.Kind) ([]*model.DataObject, error) {
	return s.objects(kind)
}

// SnapshotsByVolume lists the snapshots taken of volumeID.
func (s *Store) SnapshotsByVolume(volumeID int64) ([]*model.DataObject, error) {
	snaps, err := s.objects(model.KindSnapshot)
	if err != nil {
		return nil, err
	}
	var out []*model.DataObject
	for _, sn := range snaps {
		if sn.Snapshot != nil && sn.Snapshot.VolumeID == volumeID {
			out = append(out, sn)
		}
	}
	return out, nil
}

// UpdateSnapshotVolumeIDs re-points every snapshot of from at to.
func (s *Store) UpdateSnapshotVolumeIDs(from, to int64) error {
	snaps, err := s.SnapshotsByVolume(from)
	if err != nil {
		return err
	}
	for _, sn := range snaps {
		sn.Snapshot.VolumeID = to
		if err := s.Update(sn); err != nil {
			return err
		}
	}
	return nil
}

// SwapVolumeUUIDs exchanges the UUIDs of two volumes so the surviving copy
// keeps the identity callers know.
func (s *Store) SwapVolumeUUIDs(srcID, dstID int64) error {
	src, err := s.Volume(srcID)
	if err != nil {
		return err
	}
	dst, err := s.Volume(dstID)
	if err != nil {
		return err
	}
	src.UUID, dst.UUID = dst.UUID, src.UUID
	if err := s.Update(src); err != nil {
		return err
	}
	return s.Update(dst)
}

// PutStore creates or replaces a data store.
func (s *Store) PutStore(ds *model.DataStore) error {
	if ds.ID == 0 {
		return errclass.ErrPrecondition.WithMessage("data store needs an ID")
	}
	return s.db.Set(collStores, idKey(ds.ID), ds)
}

// DataStore loads one data store.
func (s *Store) DataStore(id int64) (*model.DataStore, error) {
	var ds model.DataStore
	if err := s.db.Get(collStores, idKey(id), &ds); err != nil {
		return nil, err
	}
	return &ds, nil
}

// StoresByZoneAndRole lists the stores of a zone serving role.
func (s *Store) StoresByZoneAndRole(zoneID int64, role model.StoreRole) ([]*model.DataStore, error) {
	all, err := s.db.GetAll(collStores, "")
	if err != nil {
		return nil, err
	}
	var out []*model.DataStore
	for _, v := range all {
		var ds model.DataStore
		if err := json.Unmarshal([]byte(v), &ds); err != nil {
			return nil, err
		}
		if ds.ZoneID == zoneID && ds.Role == role {
			out = append(out, &ds)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PutHost creates or replaces a host.
func (s *Store) PutHost(h *model.Host) error {
	return s.db.Set(collHosts, idKey(h.ID), h)
}

// Host loads one host.
func (s *Store) Host(id int64) (*model.Host, error) {
	var h model.Host
	if err := s.db.Get(collHosts, idKey(id), &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *Store) hosts(match func(*model.Host) bool) ([]*model.Host, error) {
	all, err := s.db.GetAll(collHosts, "")
	if err != nil {
		return nil, err
	}
	var out []*model.Host
	for _, v := range all {
		var h model.Host
		if err := json.Unmarshal([]byte(v), &h); err != nil {
			return nil, err
		}
		if match(&h) {
			out = append(out, &h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// HostsInCluster lists the hosts of a cluster.
func (s *Store) HostsInCluster(clusterID int64) ([]*model.Host, error) {
	return s.hosts(func(h *model.Host) bool { return h.ClusterID == clusterID })
}

// HostsInZone lists the hosts of a zone running hypervisor hv.
func (s *Store) HostsInZone(zoneID int64, hv model.HypervisorType) ([]*model.Host, error) {
	return s.hosts(func(h *model.Host) bool { return h.ZoneID == zoneID && h.Hypervisor == hv })
}

// PutCluster creates or replaces a cluster.
func (s *Store) PutCluster(c *model.Cluster) error {
	return s.db.Set(collClusters, idKey(c.ID), c)
}

// Cluster loads one cluster.
func (s *Store) Cluster(id int64) (*model.Cluster, error) {
	var c model.Cluster
	if err := s.db.Get(collClusters, idKey(id), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// PutVM creates or replaces a VM.
func (s *Store) PutVM(vm *model.VM) error {
	return s.db.Set(collVMs, idKey(vm.ID), vm)
}

// VM loads one VM.
func (s *Store) VM(id int64) (*model.VM, error) {
	var vm model.VM
	if err := s.db.Get(collVMs, idKey(id), &vm); err != nil {
		return nil, err
	}
	return &vm, nil
}

func (s *Store) details(coll string, id int64) (map[string]string, error) {
	m := map[string]string{}
	err := s.db.Get(coll, idKey(id), &m)
	if IsNotFound(err) {
		return map[string]string{}, nil
	}
	return m, err
}

func (s *Store) setDetail(coll string, id int64, name, value string) error {
	m, err := s.details(coll, id)
	if err != nil {
		return err
	}
	m[name] = value
	return s.db.Set(coll, idKey(id), m)
}

func (s *Store) removeDetail(coll string, id int64, name string) error {
	m, err := s.details(coll, id)
	if err != nil {
		return err
	}
	if _, ok := m[name]; !ok {
		return nil
	}
	delete(m, name)
	if len(m) == 0 {
		err := s.db.Delete(coll, idKey(id))
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	return s.db.Set(coll, idKey(id), m)
}

// VolumeDetails returns the detail map of a volume; never nil.
func (s *Store) VolumeDetails(volumeID int64) (map[string]string, error) {
	return s.details(collVolumeDetails, volumeID)
}

// VolumeDetail returns one volume detail, or "" if unset.
func (s *Store) VolumeDetail(volumeID int64, name string) (string, error) {
	m, err := s.VolumeDetails(volumeID)
	return m[name], err
}

func (s *Store) SetVolumeDetail(volumeID int64, name, value string) error {
	return s.setDetail(collVolumeDetails, volumeID, name, value)
}

func (s *Store) RemoveVolumeDetail(volumeID int64, name string) error {
	return s.removeDetail(collVolumeDetails, volumeID, name)
}

// SnapshotDetails returns the detail map of a snapshot; never nil.
func (s *Store) SnapshotDetails(snapshotID int64) (map[string]string, error) {
	return s.details(collSnapshotDetails, snapshotID)
}

// SnapshotDetail returns one snapshot detail, or "" if unset.
func (s *Store) SnapshotDetail(snapshotID int64, name string) (string, error) {
	m, err := s.SnapshotDetails(snapshotID)
	return m[name], err
}

func (s *Store) SetSnapshotDetail(snapshotID int64, name, value string) error {
	return s.setDetail(collSnapshotDetails, snapshotID, name, value)
}

func (s *Store) RemoveSnapshotDetail(snapshotID int64, name string) error {
	return s.removeDetail(collSnapshotDetails, snapshotID, name)
}
