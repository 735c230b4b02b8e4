// Package cache stages data objects on a zone's ImageCache store when a
// copy cannot go directly between its source and destination tiers.
package cache

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/jvs-project/motion/pkg/errclass"
	"github.com/jvs-project/motion/pkg/logging"
	"github.com/jvs-project/motion/pkg/metrics"
	"github.com/jvs-project/motion/pkg/model"
	"github.com/jvs-project/motion/pkg/uuidutil"
)

// NeedCache reports whether copying src to dst must be staged through an
// ImageCache store. Copies between primaries, and copies touching a
// file-based or cache store, go direct.
func NeedCache(src, dst *model.DataObject) bool {
	s, d := src.Store, dst.Store
	if s == nil || d == nil {
		return false
	}
	if s.Role == model.RolePrimary && d.Role == model.RolePrimary {
		return false
	}
	if s.FileBased() || s.Role == model.RoleImageCache {
		return false
	}
	if d.FileBased() || d.Role == model.RoleImageCache {
		return false
	}
	return true
}

// PickScope chooses the zone whose cache stages a copy: the source
// store's zone when its scope is set, else the destination's. ok is false
// when neither is set.
func PickScope(src, dst *model.DataObject) (model.Scope, bool) {
	if src.Store != nil && src.Store.Scope.ID != 0 {
		return src.Store.Scope.Zone(), true
	}
	if dst.Store != nil && dst.Store.Scope.ID != 0 {
		return dst.Store.Scope.Zone(), true
	}
	logging.Warn("cannot find a zone-wide scope for cache staging", map[string]any{
		"source": src.Key(),
		"dest":   dst.Key(),
	})
	return model.Scope{}, false
}

// Records is the persistence the cache manager needs.
type Records interface {
	StoresByZoneAndRole(zoneID int64, role model.StoreRole) ([]*model.DataStore, error)
	Persist(obj *model.DataObject) error
	RemoveObject(obj *model.DataObject) error
	Snapshot(id int64) (*model.DataObject, error)
}

// Deleter removes an object's data from a store.
type Deleter interface {
	DeleteOnStore(ctx context.Context, obj *model.DataObject, store *model.DataStore) error
}

// Manager creates and deletes cache objects and tracks the ones alive.
type Manager struct {
	records Records
	deleter Deleter
	metrics *metrics.Registry

	mu   sync.Mutex
	live sets.Set[string]
	// chains maps a staged leaf to the staged parents deleted with it.
	chains map[string][]*model.DataObject
}

// NewManager creates a manager. reg may be nil.
func NewManager(records Records, deleter Deleter, reg *metrics.Registry) *Manager {
	return &Manager{
		records: records,
		deleter: deleter,
		metrics: reg,
		live:    sets.New[string](),
		chains:  make(map[string][]*model.DataObject),
	}
}

// Store returns the ImageCache store of scope's zone.
func (m *Manager) Store(scope model.Scope) (*model.DataStore, error) {
	stores, err := m.records.StoresByZoneAndRole(scope.ZoneID, model.RoleImageCache)
	if err != nil {
		return nil, err
	}
	if len(stores) == 0 {
		return nil, errclass.ErrNotFound.WithMessagef("no image cache store in zone %d", scope.ZoneID)
	}
	return stores[0], nil
}

// Object records a copy of src on the cache store of scope. The new object
// is Allocated and carries no data yet.
func (m *Manager) Object(src *model.DataObject, scope model.Scope) (*model.DataObject, error) {
	store, err := m.Store(scope)
	if err != nil {
		return nil, err
	}
	return m.create(src, store)
}

func (m *Manager) create(src *model.DataObject, store *model.DataStore) (*model.DataObject, error) {
	obj := src.Clone()
	obj.ID = 0
	obj.UUID = uuidutil.NewV4()
	obj.StoreID = store.ID
	obj.Store = store
	obj.Path = ""
	obj.State = model.StateAllocated
	obj.Copying = false
	if err := m.records.Persist(obj); err != nil {
		return nil, fmt.Errorf("cache %s: %w", src, err)
	}

	m.mu.Lock()
	m.live.Insert(obj.Key())
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.RecordCacheObject("create")
	}
	return obj, nil
}

// Delete removes a cache object from its store and from the records, and
// the staged parents when obj is the leaf of a staged chain. Deleting one
// twice, or deleting nil, is a no-op. Objects whose removal failed stay
// live and are retried by the next Delete.
func (m *Manager) Delete(ctx context.Context, obj *model.DataObject) error {
	if obj == nil {
		return nil
	}
	key := obj.Key()
	m.mu.Lock()
	chain := m.chains[key]
	m.mu.Unlock()

	err := m.deleteOne(ctx, obj)
	var left []*model.DataObject
	for _, p := range chain {
		if perr := m.deleteOne(ctx, p); perr != nil {
			err = multierr.Append(err, perr)
			left = append(left, p)
		}
	}

	m.mu.Lock()
	if len(left) == 0 {
		delete(m.chains, key)
	} else {
		m.chains[key] = left
	}
	m.mu.Unlock()
	return err
}

func (m *Manager) deleteOne(ctx context.Context, obj *model.DataObject) error {
	key := obj.Key()
	m.mu.Lock()
	alive := m.live.Has(key)
	m.mu.Unlock()
	if !alive {
		return nil
	}
	if obj.Store != nil {
		if err := m.deleter.DeleteOnStore(ctx, obj, obj.Store); err != nil {
			return fmt.Errorf("delete cache %s: %w", obj, err)
		}
	}
	if err := m.records.RemoveObject(obj); err != nil {
		return fmt.Errorf("delete cache %s: %w", obj, err)
	}

	m.mu.Lock()
	m.live.Delete(key)
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.RecordCacheObject("delete")
	}
	return nil
}

// CacheSnapshotChain stages snap and each of its parents on the cache
// store of scope and returns the staged copy of snap itself.
func (m *Manager) CacheSnapshotChain(ctx context.Context, snap *model.DataObject, scope model.Scope) (*model.DataObject, error) {
	if snap == nil {
		return nil, errclass.ErrPrecondition.WithMessage("no snapshot to stage")
	}
	store, err := m.Store(scope)
	if err != nil {
		return nil, err
	}
	var (
		leaf    *model.DataObject
		created []*model.DataObject
		seen    = sets.New[int64]()
	)
	for cur := snap; cur != nil; {
		if seen.Has(cur.ID) {
			break
		}
		seen.Insert(cur.ID)

		obj, err := m.create(cur, store)
		if err != nil {
			m.discard(ctx, created)
			return nil, err
		}
		created = append(created, obj)
		if leaf == nil {
			leaf = obj
		}

		if cur.Snapshot == nil || cur.Snapshot.ParentID == 0 {
			break
		}
		parent, err := m.records.Snapshot(cur.Snapshot.ParentID)
		if err != nil {
			m.discard(ctx, created)
			return nil, fmt.Errorf("load parent of %s: %w", cur, err)
		}
		cur = parent
	}

	m.mu.Lock()
	m.chains[leaf.Key()] = created[1:]
	m.mu.Unlock()
	return leaf, nil
}

func (m *Manager) discard(ctx context.Context, objs []*model.DataObject) {
	for _, o := range objs {
		if err := m.deleteOne(ctx, o); err != nil {
			logging.Warn("failed to discard cache object", map[string]any{"object": o.Key(), "error": err.Error()})
		}
	}
}

// Live returns the keys of cache objects not yet deleted.
func (m *Manager) Live() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sets.List(m.live)
}
