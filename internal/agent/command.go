// Package agent carries commands to hypervisor host agents and brings their
// answers back. A Send blocks until the host answers, the command times out
// or the host turns out to be unreachable; it never retries.
package agent

import (
	"time"

	"github.com/jvs-project/motion/pkg/model"
)

// Kind names a command on the wire.
type Kind string

const (
	KindCopy                Kind = "Copy"
	KindMigrate             Kind = "Migrate"
	KindMigrateVolume       Kind = "MigrateVolume"
	KindCopyVolume          Kind = "CopyVolume"
	KindResignature         Kind = "Resignature"
	KindModifyTargets       Kind = "ModifyTargets"
	KindPrepareForMigration Kind = "PrepareForMigration"
)

// Command is a request addressed to one host agent.
type Command interface {
	Kind() Kind
	// Wait is how long the agent may work on the command. Zero means the
	// gateway default.
	Wait() time.Duration
}

// Disk detail keys shared by Copy, MigrateVolume and Resignature options.
const (
	DetailStorageHost           = "storageHost"
	DetailStoragePort           = "storagePort"
	DetailIQN                   = "iqn"
	DetailVolumeSize            = "volumeSize"
	DetailScsiNaaDeviceID       = "scsiNaaDeviceId"
	DetailChapInitiatorUsername = "chapInitiatorUsername"
	DetailChapInitiatorSecret   = "chapInitiatorSecret"
	DetailChapTargetUsername    = "chapTargetUsername"
	DetailChapTargetSecret      = "chapTargetSecret"
	DetailVMDK                  = "vmdk"
	DetailUUID                  = "uuid"
	DetailTemplateResign        = "templateResign"
	DetailExpandDatastore       = "expandDatastore"
)

// ModifyTargets target keys.
const (
	TargetIQN         = "iqn"
	TargetStorageType = "storageType"
	TargetStorageUUID = "storageUuid"
	TargetStorageHost = "storageHost"
	TargetStoragePort = "storagePort"
)

// CopyCommand copies src onto dst. Options describe the source disk and
// Options2 the destination disk when either lives on managed storage.
type CopyCommand struct {
	Src               *model.ObjectTO   `json:"src"`
	Dst               *model.ObjectTO   `json:"dst"`
	WaitFor           time.Duration     `json:"wait"`
	ExecuteInSequence bool              `json:"execute_in_sequence"`
	Options           map[string]string `json:"options,omitempty"`
	Options2          map[string]string `json:"options2,omitempty"`
}

func (c *CopyCommand) Kind() Kind          { return KindCopy }
func (c *CopyCommand) Wait() time.Duration { return c.WaitFor }

// MigrateDiskInfo describes one disk of a live migration.
type MigrateDiskInfo struct {
	SerialNumber string `json:"serial_number"`
	DiskType     string `json:"disk_type"`
	DriverType   string `json:"driver_type"`
	Source       string `json:"source"`
	SourceText   string `json:"source_text"`
}

// Disk description constants used for managed block targets.
const (
	DiskTypeBlock = "BLOCK"
	DriverTypeRaw = "RAW"
	DiskSourceDev = "DEV"
)

// MigrateCommand live-migrates a VM and the listed disks to DestIP.
type MigrateCommand struct {
	VMName            string                     `json:"vm_name"`
	DestIP            string                     `json:"dest_ip"`
	IsWindows         bool                       `json:"is_windows"`
	VM                model.VMTO                 `json:"vm"`
	ExecuteInSequence bool                       `json:"execute_in_sequence"`
	MigrateStorage    map[string]MigrateDiskInfo `json:"migrate_storage"`
	AutoConvergence   bool                       `json:"auto_convergence"`
	WaitFor           time.Duration              `json:"wait"`
}

func (c *MigrateCommand) Kind() Kind          { return KindMigrate }
func (c *MigrateCommand) Wait() time.Duration { return c.WaitFor }

// MigrateVolumeCommand moves a detached volume between pools through the host.
type MigrateVolumeCommand struct {
	Src        *model.ObjectTO   `json:"src"`
	Dst        *model.ObjectTO   `json:"dst"`
	SrcDetails map[string]string `json:"src_details,omitempty"`
	DstDetails map[string]string `json:"dst_details,omitempty"`
	WaitFor    time.Duration     `json:"wait"`
}

func (c *MigrateVolumeCommand) Kind() Kind          { return KindMigrateVolume }
func (c *MigrateVolumeCommand) Wait() time.Duration { return c.WaitFor }

// CopyVolumeCommand copies a volume between a pool and secondary storage.
type CopyVolumeCommand struct {
	VolumeID          int64             `json:"volume_id"`
	VolumePath        string            `json:"volume_path"`
	Pool              model.StoreTO     `json:"pool"`
	SecondaryURL      string            `json:"secondary_url"`
	ToSecondary       bool              `json:"to_secondary"`
	ExecuteInSequence bool              `json:"execute_in_sequence"`
	Src               *model.ObjectTO   `json:"src"`
	SrcDetails        map[string]string `json:"src_details,omitempty"`
	WaitFor           time.Duration     `json:"wait"`
}

func (c *CopyVolumeCommand) Kind() Kind          { return KindCopyVolume }
func (c *CopyVolumeCommand) Wait() time.Duration { return c.WaitFor }

// ResignatureCommand gives a cloned storage object a fresh identity.
type ResignatureCommand struct {
	Details map[string]string `json:"details"`
}

func (c *ResignatureCommand) Kind() Kind          { return KindResignature }
func (c *ResignatureCommand) Wait() time.Duration { return 0 }

// TargetTypeDynamic selects dynamically discovered iSCSI targets for removal.
const TargetTypeDynamic = "DYNAMIC"

// ModifyTargetsCommand connects or disconnects iSCSI targets on a host.
type ModifyTargetsCommand struct {
	Targets                  []map[string]string `json:"targets"`
	Add                      bool                `json:"add"`
	ApplyToAllHostsInCluster bool                `json:"apply_to_all_hosts_in_cluster"`
	TargetTypeToRemove       string              `json:"target_type_to_remove,omitempty"`
}

func (c *ModifyTargetsCommand) Kind() Kind          { return KindModifyTargets }
func (c *ModifyTargetsCommand) Wait() time.Duration { return 0 }

// PrepareForMigrationCommand readies the destination host for an incoming
// VM, or undoes that preparation when Rollback is set.
type PrepareForMigrationCommand struct {
	VM       model.VMTO `json:"vm"`
	Rollback bool       `json:"rollback"`
}

func (c *PrepareForMigrationCommand) Kind() Kind          { return KindPrepareForMigration }
func (c *PrepareForMigrationCommand) Wait() time.Duration { return 0 }

// Answer is the reply to any command. A false Result is a domain failure
// described by Details, not a transport error.
type Answer struct {
	Result  bool   `json:"result"`
	Details string `json:"details,omitempty"`

	// Copy
	NewData *model.ObjectTO `json:"new_data,omitempty"`
	// MigrateVolume, CopyVolume
	VolumePath string `json:"volume_path,omitempty"`
	// ModifyTargets
	ConnectedPaths []string `json:"connected_paths,omitempty"`
	// Resignature
	Path   string            `json:"path,omitempty"`
	Size   int64             `json:"size,omitempty"`
	Format model.ImageFormat `json:"format,omitempty"`
}

// OK returns a successful answer.
func OK() *Answer {
	return &Answer{Result: true}
}

// Fail returns a negative answer carrying details.
func Fail(details string) *Answer {
	return &Answer{Result: false, Details: details}
}

// Succeeded reports whether a is non-nil and positive.
func Succeeded(a *Answer) bool {
	return a != nil && a.Result
}

// newCommand returns an empty command for kind, used when decoding.
func newCommand(kind Kind) Command {
	switch kind {
	case KindCopy:
		return &CopyCommand{}
	case KindMigrate:
		return &MigrateCommand{}
	case KindMigrateVolume:
		return &MigrateVolumeCommand{}
	case KindCopyVolume:
		return &CopyVolumeCommand{}
	case KindResignature:
		return &ResignatureCommand{}
	case KindModifyTargets:
		return &ModifyTargetsCommand{}
	case KindPrepareForMigration:
		return &PrepareForMigrationCommand{}
	}
	return nil
}
