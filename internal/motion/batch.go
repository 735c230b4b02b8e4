package motion

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/jvs-project/motion/internal/agent"
	"github.com/jvs-project/motion/internal/lifecycle"
	"github.com/jvs-project/motion/pkg/errclass"
	"github.com/jvs-project/motion/pkg/model"
	"github.com/jvs-project/motion/pkg/uuidutil"
)

// pair is one volume of a live migration and the copy created for it.
type pair struct {
	src  *model.DataObject
	dest *model.DataObject
}

// PlanBatch reports whether CopyVolumes would take the plan, using the
// batch capability check.
func (o *Orchestrator) PlanBatch(plan model.MigrationPlan, srcHost, destHost *model.Host) Decision {
	if o.resolver.CanHandleBatch(plan, srcHost, destHost) == model.CannotHandle {
		return unsupported(msgNotSupported)
	}
	return Decision{Scenario: LiveMigration}
}

// CopyVolumes live-migrates vm from srcHost to destHost, moving every
// volume of plan onto a new volume on its destination managed store. cb is
// called exactly once. The returned error is non-nil only when cb is nil or
// an argument is missing.
func (o *Orchestrator) CopyVolumes(ctx context.Context, plan model.MigrationPlan, vm *model.VM, srcHost, destHost *model.Host, cb Callback) error {
	if cb == nil {
		return errclass.ErrPrecondition.WithMessage("live migration requires a completion callback")
	}
	if vm == nil || srcHost == nil || destHost == nil {
		err := fail(errclass.ErrPrecondition, "live migration requires a VM, a source host and a destination host")
		cb(Result{Message: reason(err), Err: err})
		return err
	}

	op := o.begin(ctx, LiveMigration, model.EventTypeLiveMigration,
		fmt.Sprintf("vm/%d", vm.ID), fmt.Sprintf("host/%d", destHost.ID))
	op.log = op.log.WithFields(map[string]any{"src_host": srcHost.ID, "volumes": len(plan)})

	to, err := op.run(func() (*model.ObjectTO, error) {
		return nil, o.liveMigrate(op, plan, vm, srcHost, destHost)
	})
	op.complete(cb, to, err)
	return nil
}

func (o *Orchestrator) liveMigrate(op *operation, plan model.MigrationPlan, vm *model.VM, srcHost, destHost *model.Host) error {
	err := func() error {
		if srcHost.Hypervisor != model.HypervisorKVM {
			return fail(errclass.ErrPrecondition, "Invalid hypervisor type (only KVM supported for this operation at the time being)")
		}
		if err := o.verifyLiveMigrationPlan(plan); err != nil {
			return err
		}

		storage := make(map[string]agent.MigrateDiskInfo, len(plan))
		pairs := make([]pair, 0, len(plan))
		for _, e := range plan {
			src := e.Volume
			dest, err := o.duplicateVolume(src, e.Dest)
			if err != nil {
				return err
			}
			op.scaffolding(dest)
			op.migrating(src)
			pairs = append(pairs, pair{src: src, dest: dest})

			for _, ev := range []lifecycle.Event{lifecycle.MigrationCopyRequested, lifecycle.MigrationCopySucceeded, lifecycle.MigrationRequested} {
				if err := op.fire(dest, ev); err != nil {
					return err
				}
			}

			if _, err := o.volumes.CreateOnStore(op.ctx, dest, e.Dest); err != nil {
				return err
			}
			dest.Path = dest.IScsiName()
			if err := o.records.Update(dest); err != nil {
				return err
			}

			if _, err := op.grant(dest, destHost, e.Dest); err != nil {
				return err
			}
			path, err := op.connect(destHost, e.Dest, dest.IScsiName())
			if err != nil {
				return err
			}
			storage[src.Path] = agent.MigrateDiskInfo{
				SerialNumber: src.Path,
				DiskType:     agent.DiskTypeBlock,
				DriverType:   agent.DriverTypeRaw,
				Source:       agent.DiskSourceDev,
				SourceText:   path,
			}
		}

		if err := op.prepareForMigration(vm, destHost); err != nil {
			return err
		}

		cmd := &agent.MigrateCommand{
			VMName:            vm.TO().InstanceName,
			DestIP:            destHost.PrivateIP,
			IsWindows:         vm.IsWindows(),
			VM:                vm.TO(),
			ExecuteInSequence: true,
			MigrateStorage:    storage,
			AutoConvergence:   op.cfg.KVMAutoConvergence,
			WaitFor:           op.cfg.KVMOnlineMigrationWait,
		}
		ans, err := op.send(srcHost, cmd)
		if err != nil {
			return err
		}
		if ans == nil {
			return fail(errclass.ErrScenarioFailed, "Unable to get an answer to the migrate command")
		}
		if !ans.Result {
			return answerError(ans.Details, "Migrate command failed")
		}

		// The VM now runs on destHost with its disks on the new volumes.
		// Nothing past this point is rolled back; each volume is settled
		// on its own.
		op.detach()
		var errs error
		for _, p := range pairs {
			if err := op.commit(p); err != nil {
				op.log.Warn("post-migration update failed", map[string]any{
					"volume": p.src.Key(),
					"dest":   p.dest.Key(),
					"error":  reason(err),
				})
				errs = multierr.Append(errs, err)
			}
		}
		if errs != nil {
			op.log.Warn("live migration finished with post-migration errors", map[string]any{
				"errors": len(multierr.Errors(errs)),
			})
		}
		return nil
	}()
	if err != nil {
		return wrap(err, "Copy operation failed")
	}
	return nil
}

func (o *Orchestrator) verifyLiveMigrationPlan(plan model.MigrationPlan) error {
	for _, e := range plan {
		src := e.Volume
		if src == nil {
			return fail(errclass.ErrPrecondition, "Migration plan entry has no volume")
		}
		pool, err := o.records.DataStore(src.PoolID())
		if err != nil {
			if errors.Is(err, errclass.ErrNotFound) {
				return fail(errclass.ErrPrecondition, "Volume with ID %d is not associated with a storage pool.", src.ID)
			}
			return err
		}
		if pool.Managed {
			return fail(errclass.ErrPrecondition, "Migrating a volume online with KVM from managed storage is not currently supported.")
		}
		if e.Dest == nil {
			return fail(errclass.ErrNotFound, "Destination storage pool with ID %d was not located.", src.PoolID())
		}
		dest, err := o.records.DataStore(e.Dest.ID)
		if err != nil {
			if errors.Is(err, errclass.ErrNotFound) {
				return fail(errclass.ErrNotFound, "Destination storage pool with ID %d was not located.", e.Dest.ID)
			}
			return err
		}
		if !dest.Managed {
			return fail(errclass.ErrPrecondition, "Migrating a volume online with KVM can currently only be done when moving to managed storage.")
		}
	}
	return nil
}

// duplicateVolume persists an Allocated copy of src placed on dest.
func (o *Orchestrator) duplicateVolume(src *model.DataObject, dest *model.DataStore) (*model.DataObject, error) {
	v := src.Clone()
	v.ID = 0
	v.UUID = uuidutil.NewV4()
	v.Path = ""
	v.State = model.StateAllocated
	v.Copying = false
	v.StoreID = dest.ID
	v.Store = dest
	if v.Volume == nil {
		v.Volume = &model.VolumeInfo{}
	}
	v.Volume.InstanceID = 0
	v.Volume.ChainInfo = ""
	v.Volume.Folder = ""
	v.Volume.IScsiName = ""
	v.Volume.PodID = dest.PodID
	v.Volume.PoolID = dest.ID
	v.Volume.LastPoolID = src.PoolID()
	if err := o.records.Persist(v); err != nil {
		return nil, err
	}
	return v, nil
}

// prepareForMigration readies destHost for the incoming VM. Preparation is
// undone first if the operation later fails.
func (op *operation) prepareForMigration(vm *model.VM, destHost *model.Host) error {
	op.onRollback(phaseUndo, func() error {
		ans, err := op.send(destHost, &agent.PrepareForMigrationCommand{VM: vm.TO(), Rollback: true})
		if err == nil && !agent.Succeeded(ans) {
			err = answerError(details(ans), "null answer returned")
		}
		if err != nil {
			return fail(errclass.ErrScenarioFailed, "Unable to rollback prepare for migration due to the following: %s", reason(err))
		}
		return nil
	})

	ans, err := op.send(destHost, &agent.PrepareForMigrationCommand{VM: vm.TO()})
	if err != nil {
		if errors.Is(err, errclass.ErrOperationTimedOut) {
			return fail(errclass.ErrAgentUnavailable, "Operation timed out")
		}
		return err
	}
	if !agent.Succeeded(ans) {
		msg := details(ans)
		if msg == "" {
			msg = "null answer returned"
		}
		return fail(errclass.ErrScenarioFailed, "Unable to prepare for migration due to the following: %s", msg)
	}
	return nil
}

// detach drops everything rollback would reverse. It is called once the
// migrated VM depends on the new volumes and their host access.
func (op *operation) detach() {
	op.undos, op.grants, op.conns = nil, nil, nil
	op.touched, op.scaffold = nil, nil
}

// commit hands the identity of p.src over to p.dest and retires p.src.
// p.src is only retired once its snapshots point at p.dest.
func (op *operation) commit(p pair) error {
	o := op.o
	if p.src.State.Transient() {
		if err := o.machine.Fire(p.src, lifecycle.OperationSuccessed); err != nil {
			return err
		}
	}
	if err := o.machine.Fire(p.dest, lifecycle.OperationSuccessed); err != nil {
		return err
	}

	if err := o.records.SwapVolumeUUIDs(p.src.ID, p.dest.ID); err != nil {
		return err
	}
	p.src.UUID, p.dest.UUID = p.dest.UUID, p.src.UUID
	p.dest.Format = model.FormatQCOW2
	if err := o.records.Update(p.dest); err != nil {
		return err
	}
	if err := o.records.UpdateSnapshotVolumeIDs(p.src.ID, p.dest.ID); err != nil {
		return err
	}

	if err := o.volumes.DestroyVolume(p.src); err != nil {
		op.log.Warn("retire source volume failed", map[string]any{"volume": p.src.Key(), "error": reason(err)})
	} else if err := o.volumes.ExpungeVolume(op.ctx, p.src); err != nil {
		op.log.Warn("expunge source volume failed", map[string]any{"volume": p.src.Key(), "error": reason(err)})
	}
	return nil
}
