package motion

import (
	"github.com/jvs-project/motion/internal/capability"
	"github.com/jvs-project/motion/pkg/model"
)

// Scenario names one way of moving data handled by the orchestrator.
type Scenario string

const (
	Unsupported                 Scenario = "unsupported"
	SnapshotToSecondary         Scenario = "snapshot_to_secondary"
	SnapshotOnSecondaryToVolume Scenario = "snapshot_on_secondary_to_volume"
	SnapshotToVolume            Scenario = "snapshot_to_volume"
	TemplateToVolume            Scenario = "template_to_volume"
	ManagedVolumeToSecondary    Scenario = "managed_volume_to_secondary"
	ManagedToUnmanaged          Scenario = "managed_to_unmanaged"
	UnmanagedToManaged          Scenario = "unmanaged_to_managed"
	UploadToPrimary             Scenario = "upload_to_primary"
	VolumeToTemplate            Scenario = "volume_to_template"
	LiveMigration               Scenario = "live_migration"
)

// Messages reported for unsupported combinations.
const (
	msgNotSupported     = "This operation is not supported."
	msgDifferentPrimary = "To perform this operation, the source and destination primary storages must be the same."
	msgBothManaged      = "The source volume to migrate and the destination volume are both on managed storage. Migration in this case is not yet supported."
	msgMigrationUseCase = "Storage-system data motion does not support this migration use case."
	msgUploadNonKVM     = "Storage-system data motion does not support this upload use case (non KVM)."
)

// Decision is what Route picked for a pair.
type Decision struct {
	Scenario Scenario `json:"scenario"`
	// Reason is set for Unsupported decisions.
	Reason string `json:"reason,omitempty"`
}

// Supported reports whether a handler exists for the decision.
func (d Decision) Supported() bool {
	return d.Scenario != Unsupported
}

func unsupported(reason string) Decision {
	return Decision{Scenario: Unsupported, Reason: reason}
}

type row struct {
	match    func(src, dst *model.DataObject) bool
	decision Decision
}

func managed(obj *model.DataObject) bool {
	return obj.Store != nil && obj.Store.Managed
}

func sameStore(a, b *model.DataObject) bool {
	return a.Store != nil && b.Store != nil && a.Store.ID == b.Store.ID
}

func snapshotToVolume(src, dst *model.DataObject) bool {
	return src.IsSnapshot() && dst.IsVolume()
}

func migratingVolumes(src, dst *model.DataObject) bool {
	return src.IsVolume() && dst.IsVolume() && src.State == model.StateMigrating
}

func upload(src, dst *model.DataObject) bool {
	return src.IsVolume() && dst.IsVolume() && src.State == model.StateUploaded &&
		src.OnSecondary() && dst.Role() == model.RolePrimary
}

// table is evaluated top to bottom; the first matching row wins.
var table = []row{
	{func(src, dst *model.DataObject) bool {
		return src.IsSnapshot() && capability.Handles(src) && (dst.IsTemplate() || dst.IsSnapshot()) && dst.OnSecondary()
	}, Decision{Scenario: SnapshotToSecondary}},
	{func(src, dst *model.DataObject) bool {
		return snapshotToVolume(src, dst) && !capability.Handles(dst)
	}, unsupported(msgNotSupported)},
	{func(src, dst *model.DataObject) bool {
		return snapshotToVolume(src, dst) && !capability.Handles(src)
	}, Decision{Scenario: SnapshotOnSecondaryToVolume}},
	{func(src, dst *model.DataObject) bool {
		return snapshotToVolume(src, dst) && sameStore(src, dst)
	}, Decision{Scenario: SnapshotToVolume}},
	{snapshotToVolume, unsupported(msgDifferentPrimary)},
	{func(src, _ *model.DataObject) bool {
		return src.IsSnapshot()
	}, unsupported(msgNotSupported)},
	{func(src, dst *model.DataObject) bool {
		return src.IsTemplate() && dst.IsVolume() && !capability.Handles(src)
	}, unsupported(msgNotSupported)},
	{func(src, dst *model.DataObject) bool {
		return src.IsTemplate() && dst.IsVolume()
	}, Decision{Scenario: TemplateToVolume}},
	{func(src, dst *model.DataObject) bool {
		return migratingVolumes(src, dst) && managed(src) && dst.OnSecondary()
	}, Decision{Scenario: ManagedVolumeToSecondary}},
	{func(src, dst *model.DataObject) bool {
		return migratingVolumes(src, dst) && managed(src) && !managed(dst)
	}, Decision{Scenario: ManagedToUnmanaged}},
	{func(src, dst *model.DataObject) bool {
		return migratingVolumes(src, dst) && managed(src)
	}, unsupported(msgBothManaged)},
	{func(src, dst *model.DataObject) bool {
		return migratingVolumes(src, dst) && !managed(dst)
	}, unsupported(msgMigrationUseCase)},
	{migratingVolumes, Decision{Scenario: UnmanagedToManaged}},
	{func(src, dst *model.DataObject) bool {
		return upload(src, dst) && dst.Format != model.FormatQCOW2
	}, unsupported(msgUploadNonKVM)},
	{upload, Decision{Scenario: UploadToPrimary}},
	{func(src, dst *model.DataObject) bool {
		return src.IsVolume() && dst.IsTemplate() && dst.OnSecondary()
	}, Decision{Scenario: VolumeToTemplate}},
}

// Route picks the scenario for moving src to dst. It only looks at kinds,
// store roles, managed flags, capabilities, states and formats.
func Route(src, dst *model.DataObject) Decision {
	if src == nil || dst == nil {
		return unsupported(msgNotSupported)
	}
	for _, r := range table {
		if r.match(src, dst) {
			return r.decision
		}
	}
	return unsupported(msgNotSupported)
}
