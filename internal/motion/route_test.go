package motion_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jvs-project/motion/internal/motion"
	"github.com/jvs-project/motion/pkg/model"
)

func obj(kind model.Kind, ds *model.DataStore, state model.ObjectState, format model.ImageFormat) *model.DataObject {
	o := &model.DataObject{Kind: kind, ID: 1, StoreID: ds.ID, Store: ds, State: state, Format: format, ZoneID: zone}
	switch kind {
	case model.KindVolume:
		o.Volume = &model.VolumeInfo{PoolID: ds.ID}
	case model.KindSnapshot:
		o.Snapshot = &model.SnapshotInfo{VolumeID: 7}
	case model.KindTemplate:
		o.Template = &model.TemplateInfo{}
	}
	return o
}

func TestRoute(t *testing.T) {
	var (
		vol  = model.KindVolume
		snap = model.KindSnapshot
		tmpl = model.KindTemplate

		ready     = model.StateReady
		migrating = model.StateMigrating
		uploaded  = model.StateUploaded
		qcow      = model.FormatQCOW2
	)

	tests := []struct {
		name   string
		src    *model.DataObject
		dst    *model.DataObject
		want   motion.Scenario
		reason string
	}{
		{"snapshot to template on object store", obj(snap, managedPool, ready, qcow), obj(tmpl, s3Image, ready, qcow),
			motion.SnapshotToSecondary, ""},
		{"snapshot to snapshot on nfs", obj(snap, managedPool, ready, qcow), obj(snap, nfsImage, ready, qcow),
			motion.SnapshotToSecondary, ""},
		{"snapshot to unmanaged volume", obj(snap, managedPool, ready, qcow), obj(vol, plainPool, ready, qcow),
			motion.Unsupported, "This operation is not supported."},
		{"secondary snapshot to managed volume", obj(snap, nfsImage, ready, qcow), obj(vol, managedPool, ready, qcow),
			motion.SnapshotOnSecondaryToVolume, ""},
		{"snapshot to volume on same store", obj(snap, managedPool, ready, qcow), obj(vol, managedPool, ready, qcow),
			motion.SnapshotToVolume, ""},
		{"snapshot to volume on another store", obj(snap, managedPool, ready, qcow), obj(vol, managedPool2, ready, qcow),
			motion.Unsupported, "To perform this operation, the source and destination primary storages must be the same."},
		{"template to volume", obj(tmpl, managedPool, ready, qcow), obj(vol, managedPool, ready, qcow),
			motion.TemplateToVolume, ""},
		{"secondary template to volume", obj(tmpl, nfsImage, ready, qcow), obj(vol, managedPool, ready, qcow),
			motion.Unsupported, "This operation is not supported."},
		{"managed volume to secondary", obj(vol, managedPool, migrating, qcow), obj(vol, nfsImage, ready, qcow),
			motion.ManagedVolumeToSecondary, ""},
		{"managed to unmanaged", obj(vol, managedPool, migrating, qcow), obj(vol, plainPool, ready, qcow),
			motion.ManagedToUnmanaged, ""},
		{"managed to managed", obj(vol, managedPool, migrating, qcow), obj(vol, managedPool2, ready, qcow),
			motion.Unsupported, "The source volume to migrate and the destination volume are both on managed storage. Migration in this case is not yet supported."},
		{"unmanaged to unmanaged", obj(vol, plainPool, migrating, qcow), obj(vol, plainPool, ready, qcow),
			motion.Unsupported, "Storage-system data motion does not support this migration use case."},
		{"unmanaged to managed", obj(vol, plainPool, migrating, qcow), obj(vol, managedPool, ready, qcow),
			motion.UnmanagedToManaged, ""},
		{"upload qcow2", obj(vol, nfsImage, uploaded, qcow), obj(vol, managedPool, model.StateAllocated, qcow),
			motion.UploadToPrimary, ""},
		{"upload vhd", obj(vol, nfsImage, uploaded, qcow), obj(vol, managedPool, model.StateAllocated, model.FormatVHD),
			motion.Unsupported, "Storage-system data motion does not support this upload use case (non KVM)."},
		{"volume to template", obj(vol, managedPool, ready, qcow), obj(tmpl, nfsImage, model.StateAllocated, qcow),
			motion.VolumeToTemplate, ""},
		{"ready volume to volume", obj(vol, managedPool, ready, qcow), obj(vol, plainPool, ready, qcow),
			motion.Unsupported, "This operation is not supported."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := motion.Route(tt.src, tt.dst)
			assert.Equal(t, tt.want, d.Scenario)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.want != motion.Unsupported, d.Supported())
		})
	}
}

func TestRoute_Nil(t *testing.T) {
	d := motion.Route(nil, obj(model.KindVolume, managedPool, model.StateReady, model.FormatQCOW2))
	assert.False(t, d.Supported())
}

func TestPlan_AppliesCapabilityCheck(t *testing.T) {
	f := newFixture(t)

	// Routed as a template clone, but the stores differ so no backend can clone it.
	d := f.orch.Plan(
		obj(model.KindTemplate, managedPool, model.StateReady, model.FormatQCOW2),
		obj(model.KindVolume, managedPool2, model.StateAllocated, model.FormatQCOW2),
	)
	assert.Equal(t, motion.Unsupported, d.Scenario)

	d = f.orch.Plan(
		obj(model.KindVolume, plainPool, model.StateMigrating, model.FormatQCOW2),
		obj(model.KindVolume, managedPool, model.StateAllocated, model.FormatQCOW2),
	)
	assert.Equal(t, motion.UnmanagedToManaged, d.Scenario)
}
