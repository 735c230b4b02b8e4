package motion

import (
	"github.com/jvs-project/motion/internal/agent"
	"github.com/jvs-project/motion/internal/lifecycle"
	"github.com/jvs-project/motion/pkg/errclass"
	"github.com/jvs-project/motion/pkg/model"
)

const msgManagedKVMOnly = "Currently, only the KVM hypervisor type is supported for the migration of a volume from managed storage to non-managed storage."

// claim moves a freshly allocated destination into Creating so that it
// settles to Ready with the operation.
func (op *operation) claim(dst *model.DataObject) error {
	if dst.State != model.StateAllocated {
		return nil
	}
	return op.fire(dst, lifecycle.CreateOnlyRequested)
}

// migrating registers a source the caller already put in Migrating.
func (op *operation) migrating(src *model.DataObject) {
	if src.State.Transient() {
		op.touch(src)
	}
}

// managedVolumeToSecondary copies a volume off managed storage onto a
// secondary store through a KVM host.
func (o *Orchestrator) managedVolumeToSecondary(op *operation, src, dst *model.DataObject) (*model.ObjectTO, error) {
	op.migrating(src)
	path, err := func() (string, error) {
		if src.Format != model.FormatQCOW2 {
			return "", fail(errclass.ErrPrecondition, msgManagedKVMOnly)
		}
		if err := o.requireStoppedVM(src, "Currently, if a volume to copy from managed storage to secondary storage is attached to a VM, the VM must be in the Stopped state."); err != nil {
			return "", err
		}
		if err := op.claim(dst); err != nil {
			return "", err
		}
		pool, err := o.pool(src)
		if err != nil {
			return "", err
		}
		host, err := o.hostForPool(pool, src.ZoneID)
		if err != nil {
			return "", err
		}
		return op.copyVolumeToSecondary(src, dst, pool, host)
	}()
	if err != nil {
		return nil, wrap(err, "Migration operation failed")
	}
	if path == "" {
		return nil, fail(errclass.ErrScenarioFailed, "Unable to acquire a volume path")
	}
	to := dst.TO()
	to.Path = path
	return to, nil
}

func (op *operation) copyVolumeToSecondary(src, dst *model.DataObject, pool *model.DataStore, host *model.Host) (string, error) {
	o := op.o
	path, err := func() (string, error) {
		srcDetails, err := o.volumeDetails(src)
		if err != nil {
			return "", err
		}
		secondaryURL := ""
		if dst.Store != nil {
			secondaryURL = dst.Store.URL
		}
		cmd := &agent.CopyVolumeCommand{
			VolumeID:          src.ID,
			VolumePath:        dst.Path,
			Pool:              pool.TO(),
			SecondaryURL:      secondaryURL,
			ToSecondary:       true,
			ExecuteInSequence: true,
			Src:               src.TO(),
			SrcDetails:        srcDetails,
			WaitFor:           op.cfg.KVMOfflineMigrationWait,
		}
		if detached(src) {
			g, err := op.grant(src, host, src.Store)
			if err != nil {
				return "", err
			}
			defer op.release(g)
		}
		ans, err := op.send(host, cmd)
		if err != nil {
			return "", err
		}
		if !agent.Succeeded(ans) {
			return "", answerError(details(ans), "Unable to copy the volume from managed storage to secondary storage")
		}
		return ans.VolumePath, nil
	}()
	if err != nil {
		return "", wrap(err, "Failed to perform volume copy to secondary storage")
	}
	return path, nil
}

// managedToUnmanaged moves a detached or stopped volume off managed storage
// onto a plain primary pool.
func (o *Orchestrator) managedToUnmanaged(op *operation, src, dst *model.DataObject) (*model.ObjectTO, error) {
	op.migrating(src)
	err := func() error {
		if src.Format != model.FormatQCOW2 {
			return fail(errclass.ErrPrecondition, msgManagedKVMOnly)
		}
		if err := o.requireStoppedVM(src, "Currently, if a volume to migrate from managed storage to non-managed storage is attached to a VM, the VM must be in the Stopped state."); err != nil {
			return err
		}
		if err := op.claim(dst); err != nil {
			return err
		}
		pool, err := o.pool(dst)
		if err != nil {
			return err
		}
		host, err := o.hostForPool(pool, dst.ZoneID)
		if err != nil {
			return err
		}

		// A plain pool has no target, QoS or snapshot reserve.
		if dst.Volume != nil {
			dst.Volume.IScsiName = ""
			dst.Volume.MinIOPS = nil
			dst.Volume.MaxIOPS = nil
			dst.Volume.HypervisorSnapshotReserve = nil
		}
		if err := o.records.Update(dst); err != nil {
			return err
		}

		path, err := op.migrateVolume(src, dst, host, "Unable to migrate the volume from managed storage to non-managed storage")
		if err != nil {
			return err
		}
		dst.Path = path
		return o.records.Update(dst)
	}()
	if err != nil {
		return nil, wrap(err, "Migration operation failed")
	}
	return dst.TO(), nil
}

// unmanagedToManaged creates dst on its managed store and moves a detached
// or stopped KVM volume onto it.
func (o *Orchestrator) unmanagedToManaged(op *operation, src, dst *model.DataObject) (*model.ObjectTO, error) {
	op.migrating(src)
	err := func() error {
		if src.Hypervisor != model.HypervisorKVM {
			return fail(errclass.ErrPrecondition, "Currently, only the KVM hypervisor type is supported for the migration of a volume from non-managed storage to managed storage.")
		}
		if err := o.requireStoppedVM(src, "Currently, if a volume to migrate from non-managed storage to managed storage is attached to a VM, the VM must be in the Stopped state."); err != nil {
			return err
		}
		if err := op.claim(dst); err != nil {
			return err
		}
		op.scaffolding(dst)
		if _, err := o.volumes.CreateOnStore(op.ctx, dst, dst.Store); err != nil {
			return err
		}
		dst.Path = dst.IScsiName()
		if err := o.records.Update(dst); err != nil {
			return err
		}

		pool, err := o.pool(src)
		if err != nil {
			return err
		}
		host, err := o.hostForPool(pool, dst.ZoneID)
		if err != nil {
			return err
		}
		if _, err := op.migrateVolume(src, dst, host, "Unable to migrate the volume from non-managed storage to managed storage"); err != nil {
			return err
		}
		dst.Format = model.FormatQCOW2
		return o.records.Update(dst)
	}()
	if err != nil {
		return nil, wrap(err, "Migration operation failed")
	}
	return dst.TO(), nil
}

// migrateVolume moves src onto dst through host and returns the new path.
// Access to dst stays granted when src is attached to a VM.
func (op *operation) migrateVolume(src, dst *model.DataObject, host *model.Host, errMsg string) (string, error) {
	o := op.o
	path, err := func() (string, error) {
		srcDetails, err := o.volumeDetails(src)
		if err != nil {
			return "", err
		}
		dstDetails, err := o.volumeDetails(dst)
		if err != nil {
			return "", err
		}
		cmd := &agent.MigrateVolumeCommand{
			Src:        src.TO(),
			Dst:        dst.TO(),
			SrcDetails: srcDetails,
			DstDetails: dstDetails,
			WaitFor:    op.cfg.KVMOfflineMigrationWait,
		}

		srcDetached := detached(src)
		var sg *grant
		if srcDetached {
			if sg, err = op.grant(src, host, src.Store); err != nil {
				return "", err
			}
		}
		dg, err := op.grant(dst, host, dst.Store)
		if err != nil {
			op.release(sg)
			return "", err
		}

		ans, err := op.send(host, cmd)
		if err == nil && !agent.Succeeded(ans) {
			err = answerError(details(ans), errMsg)
		}
		if err != nil {
			op.release(dg)
			op.release(sg)
			return "", err
		}
		if srcDetached {
			op.release(dg)
		}
		op.release(sg)
		return ans.VolumePath, nil
	}()
	if err != nil {
		return "", wrap(err, "Failed to perform volume migration")
	}
	return path, nil
}

// uploadToPrimary materializes an uploaded QCOW2 volume from secondary
// storage on a managed primary store.
func (o *Orchestrator) uploadToPrimary(op *operation, src, dst *model.DataObject) (*model.ObjectTO, error) {
	ans, err := func() (*agent.Answer, error) {
		if err := op.claim(dst); err != nil {
			return nil, err
		}
		op.scaffolding(dst)
		if _, err := o.volumes.CreateOnStore(op.ctx, dst, dst.Store); err != nil {
			return nil, err
		}
		host, err := o.hostInZone(dst.ZoneID, model.HypervisorKVM, false)
		if err != nil {
			return nil, err
		}
		ans, err := op.copyImageToVolume(src, dst, host)
		if err != nil {
			return nil, err
		}
		if !agent.Succeeded(ans) {
			return nil, answerError(details(ans), "Unable to create volume from volume")
		}
		return ans, nil
	}()
	if err != nil {
		return nil, wrap(err, "Copy operation failed")
	}
	to := newData(ans, dst)
	to.Format = model.FormatQCOW2
	if to.Path == "" {
		to.Path = dst.Path
	}
	return to, nil
}

// volumeToTemplate creates a template on secondary storage from a KVM
// volume on managed storage.
func (o *Orchestrator) volumeToTemplate(op *operation, vol, tmpl *model.DataObject) (*model.ObjectTO, error) {
	if vol.Format != model.FormatQCOW2 {
		return nil, fail(errclass.ErrPrecondition, "When using managed storage, you can only create a template from a volume on KVM currently.")
	}
	if err := op.fire(vol, lifecycle.MigrationRequested); err != nil {
		return nil, err
	}
	host, err := o.hostInZone(vol.ZoneID, model.HypervisorKVM, false)
	if err != nil {
		return nil, err
	}

	ans, err := func() (*agent.Answer, error) {
		if detached(vol) {
			g, err := op.grant(vol, host, vol.Store)
			if err != nil {
				return nil, err
			}
			defer op.release(g)
		}
		opts, err := o.volumeDetails(vol)
		if err != nil {
			return nil, err
		}
		cmd := op.copyCommand(vol.TO(), tmpl.TO())
		cmd.Options = opts
		ans, err := op.copyOn(host, cmd)
		if err != nil || ans == nil {
			return ans, err
		}
		tmpl.Hypervisor = model.HypervisorKVM
		return ans, o.records.Update(tmpl)
	}()
	if err != nil {
		op.log.Warn("template from volume failed", map[string]any{"error": reason(err)})
		return nil, wrap(err, "Failed to create template from volume (Volume ID = %d)", vol.ID)
	}
	if ans == nil {
		return nil, fail(errclass.ErrScenarioFailed, "Unable to create template from volume")
	}
	return newData(ans, tmpl), nil
}
