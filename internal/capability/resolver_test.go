package capability_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jvs-project/motion/internal/capability"
	"github.com/jvs-project/motion/pkg/model"
)

func primary(id int64, managed bool, caps model.CapabilityMap) *model.DataStore {
	return &model.DataStore{ID: id, Role: model.RolePrimary, Managed: managed, Capabilities: caps}
}

func image(id int64) *model.DataStore {
	return &model.DataStore{ID: id, Role: model.RoleImage, Protocol: model.ProtocolNFS}
}

func obj(kind model.Kind, store *model.DataStore) *model.DataObject {
	o := &model.DataObject{Kind: kind, ID: store.ID*100 + 1, Store: store, StoreID: store.ID}
	switch kind {
	case model.KindVolume:
		o.Volume = &model.VolumeInfo{PoolID: store.ID}
	case model.KindSnapshot:
		o.Snapshot = &model.SnapshotInfo{}
	case model.KindTemplate:
		o.Template = &model.TemplateInfo{}
	}
	return o
}

var (
	snapCaps  = model.CapabilityMap{model.CapStorageSystemSnapshot: "true"}
	cloneCaps = model.CapabilityMap{model.CapCanCreateVolumeFromVolume: "true"}
)

func TestCanHandle_Rules(t *testing.T) {
	r := capability.NewResolver(nil)

	shared := primary(1, true, cloneCaps)

	tests := []struct {
		name string
		src  *model.DataObject
		dst  *model.DataObject
		want model.Priority
	}{
		{"snapshot with capable source", obj(model.KindSnapshot, primary(1, true, snapCaps)), obj(model.KindTemplate, image(2)), model.Highest},
		{"snapshot dest capable volume", obj(model.KindSnapshot, image(2)), obj(model.KindVolume, primary(1, false, snapCaps)), model.Highest},
		{"snapshot destination kind", obj(model.KindVolume, primary(1, false, snapCaps)), obj(model.KindSnapshot, image(2)), model.Highest},
		{"snapshot without capability", obj(model.KindSnapshot, primary(1, true, nil)), obj(model.KindTemplate, image(2)), model.CannotHandle},
		{"template clone same store", obj(model.KindTemplate, shared), obj(model.KindVolume, shared), model.Highest},
		{"template clone different stores", obj(model.KindTemplate, primary(1, false, cloneCaps)), obj(model.KindVolume, primary(2, false, nil)), model.CannotHandle},
		{"volume to volume managed source", obj(model.KindVolume, primary(1, true, nil)), obj(model.KindVolume, primary(2, false, nil)), model.Highest},
		{"volume to volume managed dest", obj(model.KindVolume, primary(1, false, nil)), obj(model.KindVolume, primary(2, true, nil)), model.Highest},
		{"volume to volume unmanaged", obj(model.KindVolume, primary(1, false, nil)), obj(model.KindVolume, primary(2, false, nil)), model.CannotHandle},
		{"volume to template managed", obj(model.KindVolume, primary(1, true, nil)), obj(model.KindTemplate, image(2)), model.Highest},
		{"volume to template unmanaged", obj(model.KindVolume, primary(1, false, nil)), obj(model.KindTemplate, image(2)), model.CannotHandle},
		{"template to template", obj(model.KindTemplate, primary(1, true, cloneCaps)), obj(model.KindTemplate, image(2)), model.CannotHandle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.CanHandle(tt.src, tt.dst))
			// Pure: asking again gives the same answer.
			assert.Equal(t, tt.want, r.CanHandle(tt.src, tt.dst))
		})
	}
}

func TestCanHandle_NoCapabilityNeverHandled(t *testing.T) {
	r := capability.NewResolver(nil)
	kinds := []model.Kind{model.KindVolume, model.KindSnapshot, model.KindTemplate}
	for _, sk := range kinds {
		for _, dk := range kinds {
			src := obj(sk, primary(1, false, nil))
			dst := obj(dk, primary(2, false, model.CapabilityMap{model.CapStorageSystemSnapshot: "false"}))
			assert.Equal(t, model.CannotHandle, r.CanHandle(src, dst), "%s -> %s", sk, dk)
		}
	}
}

func TestCanHandle_Nil(t *testing.T) {
	r := capability.NewResolver(nil)
	assert.Equal(t, model.CannotHandle, r.CanHandle(nil, obj(model.KindVolume, primary(1, true, nil))))
}

func TestHandles_OnlyPrimary(t *testing.T) {
	store := &model.DataStore{ID: 3, Role: model.RoleImage, Capabilities: snapCaps}
	assert.False(t, capability.Handles(obj(model.KindSnapshot, store)))
	assert.True(t, capability.Handles(obj(model.KindSnapshot, primary(3, false, snapCaps))))
	assert.False(t, capability.Handles(obj(model.KindTemplate, primary(3, false, snapCaps))))
	assert.True(t, capability.Handles(obj(model.KindTemplate, primary(3, false, cloneCaps))))
}

func TestCanHandle_CapabilityValueParsing(t *testing.T) {
	r := capability.NewResolver(nil)
	for _, v := range []string{"TRUE", "True", "1", "t"} {
		src := obj(model.KindSnapshot, primary(1, false, model.CapabilityMap{model.CapStorageSystemSnapshot: v}))
		assert.Equal(t, model.Highest, r.CanHandle(src, obj(model.KindSnapshot, image(2))), v)
	}
	src := obj(model.KindSnapshot, primary(1, false, model.CapabilityMap{model.CapStorageSystemSnapshot: "yes"}))
	assert.Equal(t, model.CannotHandle, r.CanHandle(src, obj(model.KindSnapshot, image(2))))
}

func TestCanHandleBatch(t *testing.T) {
	r := capability.NewResolver(nil)
	kvm := &model.Host{ID: 1, Hypervisor: model.HypervisorKVM}
	xen := &model.Host{ID: 2, Hypervisor: model.HypervisorXenServer}

	unmanagedVol := obj(model.KindVolume, primary(1, false, nil))
	managedVol := obj(model.KindVolume, primary(2, true, nil))

	toManaged := model.MigrationPlan{{Volume: unmanagedVol, Dest: primary(3, true, nil)}}
	fromManaged := model.MigrationPlan{{Volume: managedVol, Dest: primary(4, false, nil)}}
	neither := model.MigrationPlan{{Volume: unmanagedVol, Dest: primary(4, false, nil)}}

	assert.Equal(t, model.Highest, r.CanHandleBatch(toManaged, kvm, kvm))
	assert.Equal(t, model.Highest, r.CanHandleBatch(fromManaged, kvm, kvm))
	assert.Equal(t, model.CannotHandle, r.CanHandleBatch(neither, kvm, kvm))
	assert.Equal(t, model.CannotHandle, r.CanHandleBatch(toManaged, xen, kvm))
	assert.Equal(t, model.CannotHandle, r.CanHandleBatch(toManaged, nil, kvm))
}

func TestCanCloneVolume(t *testing.T) {
	assert.True(t, capability.CanCloneVolume(primary(1, true, cloneCaps)))
	assert.False(t, capability.CanCloneVolume(primary(1, true, snapCaps)))
	assert.False(t, capability.CanCloneVolume(nil))
}
