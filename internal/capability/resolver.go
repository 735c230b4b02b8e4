// Package capability decides whether the storage-system motion engine can
// handle a copy request, based only on the capability maps and managed
// flags of the stores involved.
package capability

import (
	"github.com/jvs-project/motion/pkg/logging"
	"github.com/jvs-project/motion/pkg/model"
)

// Resolver answers CanHandle questions. It holds no state and is safe for
// concurrent use.
type Resolver struct {
	log *logging.Logger
}

// NewResolver returns a resolver logging its positive decisions to log.
// A nil log discards them.
func NewResolver(log *logging.Logger) *Resolver {
	if log == nil {
		log = logging.Nop()
	}
	return &Resolver{log: log}
}

// Handles reports whether the driver of the object's store supports the
// feature this engine needs for that kind of object. Only Primary stores
// are consulted: volumes and snapshots need storage-system snapshots,
// templates need volume-from-volume cloning.
func Handles(obj *model.DataObject) bool {
	if obj == nil || obj.Store == nil || obj.Store.Role != model.RolePrimary {
		return false
	}
	caps := obj.Store.Capabilities
	switch obj.Kind {
	case model.KindVolume, model.KindSnapshot:
		return caps.Supports(model.CapStorageSystemSnapshot)
	case model.KindTemplate:
		return caps.Supports(model.CapCanCreateVolumeFromVolume)
	}
	return false
}

// CanCloneVolume reports whether store advertises volume-from-volume cloning.
func CanCloneVolume(store *model.DataStore) bool {
	return store != nil && store.Capabilities.Supports(model.CapCanCreateVolumeFromVolume)
}

func managed(obj *model.DataObject) bool {
	return obj != nil && obj.Store != nil && obj.Store.Managed
}

func sameStore(a, b *model.DataObject) bool {
	return a.Store != nil && b.Store != nil && a.Store.ID == b.Store.ID
}

// CanHandle evaluates the pair rules in priority order.
func (r *Resolver) CanHandle(src, dst *model.DataObject) model.Priority {
	if src == nil || dst == nil {
		return model.CannotHandle
	}

	if (src.IsSnapshot() || dst.IsSnapshot()) && (Handles(src) || Handles(dst)) {
		r.log.Debug("snapshot motion handled by storage system", map[string]any{"src": src.Key(), "dst": dst.Key()})
		return model.Highest
	}

	if src.IsTemplate() && dst.IsVolume() && sameStore(src, dst) && (Handles(src) || Handles(dst)) {
		r.log.Debug("template clone on same store", map[string]any{"src": src.Key(), "dst": dst.Key()})
		return model.Highest
	}

	if src.IsVolume() && dst.IsVolume() && (managed(src) || managed(dst)) {
		return model.Highest
	}

	if src.IsVolume() && dst.IsTemplate() && managed(src) {
		return model.Highest
	}

	return model.CannotHandle
}

// CanHandleBatch answers for a live migration of several volumes together.
// Only KVM source hosts are handled; any managed source or destination
// store in the plan makes this engine the right one.
func (r *Resolver) CanHandleBatch(plan model.MigrationPlan, srcHost, dstHost *model.Host) model.Priority {
	if srcHost == nil || srcHost.Hypervisor != model.HypervisorKVM {
		return model.CannotHandle
	}
	for _, e := range plan {
		if managed(e.Volume) {
			return model.Highest
		}
	}
	for _, e := range plan {
		if e.Dest != nil && e.Dest.Managed {
			return model.Highest
		}
	}
	return model.CannotHandle
}
