package motion

import (
	"strconv"

	"github.com/jvs-project/motion/internal/agent"
	"github.com/jvs-project/motion/pkg/errclass"
	"github.com/jvs-project/motion/pkg/model"
)

// Snapshot detail recording that the backend keeps the snapshot as a
// read-only storage-system snapshot.
const detailTakeSnapshot = "takeSnapshot"

// pool returns the primary store a volume lives on.
func (o *Orchestrator) pool(vol *model.DataObject) (*model.DataStore, error) {
	id := vol.PoolID()
	if vol.Store != nil && vol.Store.ID == id {
		return vol.Store, nil
	}
	return o.records.DataStore(id)
}

// attachedVM returns the VM vol is attached to, or nil.
func (o *Orchestrator) attachedVM(vol *model.DataObject) (*model.VM, error) {
	if vol.Volume == nil || vol.Volume.InstanceID == 0 {
		return nil, nil
	}
	return o.records.VM(vol.Volume.InstanceID)
}

func detached(vol *model.DataObject) bool {
	return vol.Volume == nil || vol.Volume.InstanceID == 0
}

// volumeDetails describes a managed volume's target for agents. It returns
// nil for volumes on unmanaged pools.
func (o *Orchestrator) volumeDetails(vol *model.DataObject) (map[string]string, error) {
	pool, err := o.pool(vol)
	if err != nil {
		return nil, err
	}
	if !pool.Managed {
		return nil, nil
	}
	naa, err := o.records.VolumeDetail(vol.ID, agent.DetailScsiNaaDeviceID)
	if err != nil {
		return nil, err
	}
	details := map[string]string{
		agent.DetailStorageHost:     pool.HostAddress,
		agent.DetailStoragePort:     strconv.Itoa(pool.Port),
		agent.DetailIQN:             vol.IScsiName(),
		agent.DetailVolumeSize:      strconv.FormatInt(vol.Size, 10),
		agent.DetailScsiNaaDeviceID: naa,
	}
	chap, err := o.volumes.ChapInfo(vol, nil)
	if err != nil {
		return nil, err
	}
	if chap != nil {
		details[agent.DetailChapInitiatorUsername] = chap.InitiatorUsername
		details[agent.DetailChapInitiatorSecret] = chap.InitiatorSecret
		details[agent.DetailChapTargetUsername] = chap.TargetUsername
		details[agent.DetailChapTargetSecret] = chap.TargetSecret
	}
	return details, nil
}

// snapshotDetails describes a backend snapshot's target for agents.
func (o *Orchestrator) snapshotDetails(snap *model.DataObject) (map[string]string, error) {
	if snap.Store == nil {
		return nil, fail(errclass.ErrPrecondition, "Snapshot with ID %d has no data store", snap.ID)
	}
	stored, err := o.records.SnapshotDetails(snap.ID)
	if err != nil {
		return nil, err
	}
	details := map[string]string{
		agent.DetailStorageHost: snap.Store.HostAddress,
		agent.DetailStoragePort: strconv.Itoa(snap.Store.Port),
		agent.DetailVolumeSize:  strconv.FormatInt(snap.Size, 10),
	}
	for _, k := range []string{
		agent.DetailIQN,
		agent.DetailScsiNaaDeviceID,
		agent.DetailChapInitiatorUsername,
		agent.DetailChapInitiatorSecret,
		agent.DetailChapTargetUsername,
		agent.DetailChapTargetSecret,
	} {
		details[k] = stored[k]
	}
	return details, nil
}

// backendSnapshot reports whether snap is kept as a storage-system
// snapshot that needs a temporary volume before hosts can read it.
func (o *Orchestrator) backendSnapshot(snap *model.DataObject) (bool, error) {
	v, err := o.records.SnapshotDetail(snap.ID, detailTakeSnapshot)
	if err != nil {
		return false, err
	}
	b, _ := strconv.ParseBool(v)
	return b, nil
}

// baseVolume loads the volume snap was taken from.
func (o *Orchestrator) baseVolume(snap *model.DataObject) (*model.DataObject, error) {
	if snap.Snapshot == nil {
		return nil, fail(errclass.ErrPrecondition, "%s carries no snapshot attributes", snap)
	}
	return o.records.Volume(snap.Snapshot.VolumeID)
}

func verifyFormat(f model.ImageFormat) error {
	switch f {
	case model.FormatVHD, model.FormatOVA, model.FormatQCOW2:
		return nil
	}
	return fail(errclass.ErrPrecondition, "Only the following image types are currently supported: %s, %s, and %s",
		model.FormatVHD, model.FormatOVA, model.FormatQCOW2)
}

func (o *Orchestrator) verifySnapshotFormat(snap *model.DataObject) error {
	vol, err := o.baseVolume(snap)
	if err != nil {
		return err
	}
	return verifyFormat(vol.Format)
}

// forVMware reports whether obj ends up on a VMware host.
func (o *Orchestrator) forVMware(obj *model.DataObject) (bool, error) {
	switch obj.Kind {
	case model.KindVolume:
		return obj.Format == model.FormatOVA, nil
	case model.KindSnapshot:
		vol, err := o.baseVolume(obj)
		if err != nil {
			return false, err
		}
		return vol.Format == model.FormatOVA, nil
	case model.KindTemplate:
		return obj.Hypervisor == model.HypervisorVMware, nil
	}
	return false, nil
}

// requireStoppedVM fails when vol is attached to a VM that is not stopped.
func (o *Orchestrator) requireStoppedVM(vol *model.DataObject, msg string) error {
	vm, err := o.attachedVM(vol)
	if err != nil {
		return err
	}
	if vm != nil && vm.State != model.VMStopped {
		return fail(errclass.ErrPrecondition, "%s", msg)
	}
	return nil
}
