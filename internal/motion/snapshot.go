package motion

import (
	"strconv"

	"github.com/jvs-project/motion/internal/agent"
	"github.com/jvs-project/motion/internal/cache"
	"github.com/jvs-project/motion/internal/capability"
	"github.com/jvs-project/motion/internal/lifecycle"
	"github.com/jvs-project/motion/internal/volume"
	"github.com/jvs-project/motion/pkg/errclass"
	"github.com/jvs-project/motion/pkg/model"
	"github.com/jvs-project/motion/pkg/uuidutil"
)

const msgNoEndpoint = "No remote endpoint to send command, check if host or SSVM is down"

func noResignHost(clusterID int64) error {
	return fail(errclass.ErrPrecondition, "Unable to locate an applicable host with which to perform a resignature operation : Cluster ID = %d", clusterID)
}

// snapshotToSecondary copies a backend snapshot to a template or snapshot
// on secondary storage, staging through the image cache when needed.
func (o *Orchestrator) snapshotToSecondary(op *operation, snap, dst *model.DataObject) (*model.ObjectTO, error) {
	if err := o.verifySnapshotFormat(snap); err != nil {
		return nil, err
	}
	if err := op.fire(snap, lifecycle.CopyingRequested); err != nil {
		return nil, err
	}
	host, err := o.hostForSnapshot(snap)
	if err != nil {
		return nil, err
	}
	if host == nil {
		return nil, fail(errclass.ErrNotFound, "Unable to locate an applicable host in data center with ID = %d", snap.ZoneID)
	}

	target := dst
	needCache := cache.NeedCache(snap, dst)
	if needCache {
		scope, ok := cache.PickScope(snap, dst)
		if !ok {
			return nil, fail(errclass.ErrNotFound, "Unable to pick a cache scope for %s", snap)
		}
		c, err := o.stager.Object(snap, scope)
		if err != nil {
			return nil, err
		}
		op.stage(c)
		if err := o.machine.Fire(c, lifecycle.CreateOnlyRequested); err != nil {
			return nil, err
		}
		target = c
	}

	backend, err := o.backendSnapshot(snap)
	if err != nil {
		return nil, err
	}
	if backend {
		switch snap.Hypervisor {
		case model.HypervisorXenServer:
			ok, err := o.supportsResigning(host.ClusterID)
			if err != nil {
				return nil, err
			}
			if !ok {
				op.log.Warn("no resign support in cluster", map[string]any{"cluster_id": host.ClusterID})
				return nil, noResignHost(host.ClusterID)
			}
		case model.HypervisorVMware, model.HypervisorKVM:
		default:
			return nil, fail(errclass.ErrPrecondition, "Unsupported hypervisor type")
		}
	}

	vmware := snap.Hypervisor == model.HypervisorVMware
	keep := false
	var vmdk, uuid string
	if backend {
		if err := op.tempVolume(snap, volume.TempVolumeCreate); err != nil {
			return nil, err
		}
		defer func() {
			if err := op.tempVolume(snap, volume.TempVolumeDelete); err != nil {
				op.log.Warn("temporary volume delete failed", map[string]any{"error": reason(err)})
			}
		}()

		if snap.Hypervisor == model.HypervisorXenServer || vmware {
			keep = snap.Hypervisor == model.HypervisorXenServer
			var extra map[string]string
			if vmware {
				v, err := o.records.SnapshotDetail(snap.ID, agent.DetailVMDK)
				if err != nil {
					return nil, err
				}
				extra = map[string]string{
					agent.DetailVMDK:           v,
					agent.DetailTemplateResign: strconv.FormatBool(true),
				}
			}
			to, err := op.resignature(snap, host, extra, keep)
			if vmware {
				op.dropSnapshotTarget(host, snap)
			}
			if err != nil {
				return nil, err
			}
			if to == nil {
				return nil, fail(errclass.ErrScenarioFailed, "Unable to create volume from snapshot")
			}
			vmdk, uuid = to.Path, uuidutil.NewV4()
		}
	}

	ans, err := func() (*agent.Answer, error) {
		if !keep {
			if _, err := op.grant(snap, host, snap.Store); err != nil {
				return nil, err
			}
		}
		defer func() {
			op.releaseFor(snap, host)
			if vmware {
				op.dropSnapshotTarget(host, snap)
			}
		}()

		opts, err := o.snapshotDetails(snap)
		if err != nil {
			return nil, err
		}
		toVMware, err := o.forVMware(dst)
		if err != nil {
			return nil, err
		}
		if toVMware {
			opts[agent.DetailVMDK] = vmdk
			opts[agent.DetailUUID] = uuid
			if dst.IsTemplate() {
				dst.Template.UniqueName = uuid
				if err := o.records.Update(dst); err != nil {
					return nil, err
				}
			}
		}

		cmd := op.copyCommand(snap.TO(), target.TO())
		cmd.Options = opts
		ans, err := op.copyOn(host, cmd)
		if err != nil || ans == nil || !needCache {
			return ans, err
		}

		if err := o.machine.Fire(target, lifecycle.OperationSuccessed); err != nil {
			return nil, err
		}
		ans, err = op.relay(target, dst, op.copyCommand(target.TO(), dst.TO()))
		op.dropCache(target)
		return ans, err
	}()
	if err != nil {
		op.log.Warn("template from snapshot failed", map[string]any{"error": reason(err)})
		return nil, wrap(err, "Failed to create template from snapshot (Snapshot ID = %d)", snap.ID)
	}
	if ans == nil || ans.NewData == nil {
		return nil, fail(errclass.ErrScenarioFailed, "Unable to create template from snapshot")
	}
	return ans.NewData, nil
}

// relay copies a staged cache object on to its final destination through
// the endpoint that serves them.
func (op *operation) relay(cached, dst *model.DataObject, cmd *agent.CopyCommand) (*agent.Answer, error) {
	hostID, ok := op.o.selector.Select(cached, dst)
	if !ok {
		op.log.Error(msgNoEndpoint)
		return nil, answerError(msgNoEndpoint, "")
	}
	ans, err := op.o.gateway.Send(op.ctx, hostID, cmd)
	if err != nil {
		return nil, err
	}
	if ans != nil && !ans.Result {
		return nil, answerError(ans.Details, "Unable to copy the cached object to its destination")
	}
	return ans, nil
}

// tempVolume asks the snapshot's backend to create or delete the writable
// volume standing in for a read-only backend snapshot.
func (op *operation) tempVolume(snap *model.DataObject, action string) error {
	o := op.o
	if err := o.records.SetSnapshotDetail(snap.ID, volume.DetailTempVolume, action); err != nil {
		return err
	}
	_, err := o.volumes.CreateOnStore(op.ctx, snap, snap.Store)
	if rerr := o.records.RemoveSnapshotDetail(snap.ID, volume.DetailTempVolume); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

func (op *operation) dropSnapshotTarget(host *model.Host, snap *model.DataObject) {
	iqn, err := op.o.records.SnapshotDetail(snap.ID, agent.DetailIQN)
	if err != nil {
		op.log.Warn("snapshot iqn lookup failed", map[string]any{"error": err.Error()})
		return
	}
	op.dropTarget(host, snap.Store, iqn)
}

// snapshotOnSecondaryToVolume creates vol on its managed store and fills it
// from a snapshot the store's backend cannot read directly.
func (o *Orchestrator) snapshotOnSecondaryToVolume(op *operation, snap, vol *model.DataObject) (*model.ObjectTO, error) {
	ans, err := func() (*agent.Answer, error) {
		if err := o.volumes.UpdateHypervisorSnapshotReserve(vol); err != nil {
			return nil, err
		}
		op.scaffolding(vol)
		if err := o.volumes.CreateVolume(op.ctx, vol, vol.Store, op.cfg.StoragePoolMaxWait); err != nil {
			return nil, err
		}
		if err := op.fire(vol, lifecycle.MigrationRequested); err != nil {
			return nil, err
		}
		host, err := o.hostInZone(snap.ZoneID, snap.Hypervisor, false)
		if err != nil {
			return nil, err
		}
		if snap.Hypervisor == model.HypervisorXenServer {
			return op.copyOfVdi(vol, snap, host)
		}
		return op.copyImageToVolume(snap, vol, host)
	}()
	if err == nil && !agent.Succeeded(ans) {
		err = answerError(details(ans), "Unable to create volume from snapshot")
	}
	if err != nil {
		return nil, wrap(err, "Copy operation failed")
	}
	return newData(ans, vol), nil
}

// snapshotToVolume creates vol from a snapshot on the same managed store,
// cloning on the backend when it can.
func (o *Orchestrator) snapshotToVolume(op *operation, snap, vol *model.DataObject) (*model.ObjectTO, error) {
	to, err := func() (*model.ObjectTO, error) {
		if err := o.verifySnapshotFormat(snap); err != nil {
			return nil, err
		}
		host, err := o.hostForSnapshot(snap)
		if err != nil {
			return nil, err
		}
		backend, err := o.backendSnapshot(snap)
		if err != nil {
			return nil, err
		}

		clusterClones := true
		if snap.Hypervisor == model.HypervisorXenServer {
			if clusterClones, err = o.supportsResigning(host.ClusterID); err != nil {
				return nil, err
			}
			if backend && !clusterClones {
				op.log.Warn("no resign support in cluster", map[string]any{"cluster_id": host.ClusterID})
				return nil, noResignHost(host.ClusterID)
			}
		}

		cloning := backend || (capability.CanCloneVolume(snap.Store) && clusterClones)
		if cloning {
			if err := o.records.SetVolumeDetail(vol.ID, volume.DetailCloneOfSnapshot, strconv.FormatInt(snap.ID, 10)); err != nil {
				return nil, err
			}
		}
		if err := o.volumes.UpdateHypervisorSnapshotReserve(vol); err != nil {
			return nil, err
		}
		op.scaffolding(vol)
		err = o.volumes.CreateVolume(op.ctx, vol, vol.Store, op.cfg.StoragePoolMaxWait)
		if cloning {
			if rerr := o.records.RemoveVolumeDetail(vol.ID, volume.DetailCloneOfSnapshot); rerr != nil && err == nil {
				err = rerr
			}
		}
		if err != nil {
			return nil, err
		}
		if err := op.fire(vol, lifecycle.MigrationRequested); err != nil {
			return nil, err
		}

		switch snap.Hypervisor {
		case model.HypervisorXenServer, model.HypervisorVMware:
			var to *model.ObjectTO
			if cloning {
				var extra map[string]string
				if snap.Hypervisor == model.HypervisorVMware {
					v, err := o.records.SnapshotDetail(snap.ID, agent.DetailVMDK)
					if err != nil {
						return nil, err
					}
					extra = map[string]string{agent.DetailVMDK: v}
				}
				to, err = op.resignature(vol, host, extra, false)
				if snap.Hypervisor == model.HypervisorVMware {
					op.dropTarget(host, vol.Store, vol.IScsiName())
				}
				if err != nil {
					return nil, err
				}
			} else {
				h, err := o.hostInZone(snap.ZoneID, snap.Hypervisor, false)
				if err != nil {
					return nil, err
				}
				ans, err := op.copyOfVdi(vol, snap, h)
				if err != nil {
					return nil, err
				}
				if ans != nil && !ans.Result {
					return nil, answerError(ans.Details, "Unable to create volume from snapshot")
				}
				if ans != nil {
					to = newData(ans, vol)
				}
			}
			if to == nil {
				return nil, fail(errclass.ErrScenarioFailed, "Unable to create volume from snapshot")
			}
			return to, nil
		case model.HypervisorKVM:
			to := vol.TO()
			to.Path = vol.IScsiName()
			return to, nil
		}
		return nil, fail(errclass.ErrPrecondition, "Unsupported hypervisor type")
	}()
	if err != nil {
		return nil, wrap(err, "Copy operation failed")
	}
	return to, nil
}

// copyOfVdi copies a snapshot onto vol through a XenServer host, staging
// the snapshot chain in the zone cache when the hypervisor cannot read
// the snapshot's store.
func (op *operation) copyOfVdi(vol, snap *model.DataObject, host *model.Host) (*agent.Answer, error) {
	o := op.o
	src := snap
	if cache.NeedCache(snap, vol) {
		scope := model.Scope{Type: model.ScopeZone, ID: vol.ZoneID, ZoneID: vol.ZoneID}
		leaf, err := o.stager.CacheSnapshotChain(op.ctx, snap, scope)
		if err != nil {
			return nil, wrap(err, "Failed to perform VDI copy")
		}
		op.stage(leaf)
		src = leaf
	}

	ans, err := func() (*agent.Answer, error) {
		cmd := op.copyCommand(src.TO(), vol.TO())
		if snap.Snapshot != nil && snap.Snapshot.LocationType == model.LocationPrimary {
			g, err := op.grant(snap, host, snap.Store)
			if err != nil {
				return nil, err
			}
			defer op.release(g)
			if cmd.Options, err = o.snapshotDetails(snap); err != nil {
				return nil, err
			}
		}
		g, err := op.grant(vol, host, vol.Store)
		if err != nil {
			return nil, err
		}
		defer op.release(g)
		if cmd.Options2, err = o.volumeDetails(vol); err != nil {
			return nil, err
		}
		return op.send(host, cmd)
	}()
	if err != nil {
		return nil, wrap(err, "Failed to perform VDI copy")
	}
	return ans, nil
}

// copyImageToVolume copies src onto vol through host. The copied volume
// is reported as QCOW2.
func (op *operation) copyImageToVolume(src, vol *model.DataObject, host *model.Host) (*agent.Answer, error) {
	o := op.o
	ans, err := func() (*agent.Answer, error) {
		cmd := op.copyCommand(src.TO(), vol.TO())
		g, err := op.grant(vol, host, vol.Store)
		if err != nil {
			return nil, err
		}
		defer op.release(g)
		if cmd.Options2, err = o.volumeDetails(vol); err != nil {
			return nil, err
		}
		return op.send(host, cmd)
	}()
	if err != nil {
		return nil, wrap(err, "Failed to copy image")
	}
	if ans != nil && ans.NewData != nil {
		ans.NewData.Format = model.FormatQCOW2
	}
	return ans, nil
}

func details(ans *agent.Answer) string {
	if ans == nil {
		return ""
	}
	return ans.Details
}

// newData is the descriptor a successful copy reports for vol.
func newData(ans *agent.Answer, vol *model.DataObject) *model.ObjectTO {
	if ans != nil && ans.NewData != nil {
		return ans.NewData
	}
	return vol.TO()
}
