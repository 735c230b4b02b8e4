package motion

import (
	"strconv"

	"github.com/jvs-project/motion/internal/agent"
	"github.com/jvs-project/motion/internal/lifecycle"
	"github.com/jvs-project/motion/internal/volume"
	"github.com/jvs-project/motion/pkg/errclass"
	"github.com/jvs-project/motion/pkg/model"
)

// templateToVolume clones a template into vol on the same managed store.
// XenServer and VMware volumes are resigned afterwards; KVM needs neither
// a host nor a resignature.
func (o *Orchestrator) templateToVolume(op *operation, tmpl, vol *model.DataObject) (*model.ObjectTO, error) {
	to, err := func() (*model.ObjectTO, error) {
		if err := verifyFormat(tmpl.Format); err != nil {
			return nil, err
		}

		var host *model.Host
		var err error
		switch vol.Format {
		case model.FormatVHD:
			if host, err = o.hostInZone(vol.ZoneID, model.HypervisorXenServer, true); err != nil {
				return nil, err
			}
			if host == nil {
				return nil, fail(errclass.ErrNotFound, "Unable to locate a host capable of resigning in the zone with the following ID: %d", vol.ZoneID)
			}
			ok, err := o.supportsResigning(host.ClusterID)
			if err != nil {
				return nil, err
			}
			if !ok {
				op.log.Warn("no resign support in cluster", map[string]any{"cluster_id": host.ClusterID})
				return nil, noResignHost(host.ClusterID)
			}
		case model.FormatOVA:
			if host, err = o.hostInZone(vol.ZoneID, model.HypervisorVMware, false); err != nil {
				return nil, err
			}
			if host == nil {
				return nil, fail(errclass.ErrNotFound, "Unable to locate a host capable of resigning in the zone with the following ID: %d", vol.ZoneID)
			}
		}

		if err := o.records.SetVolumeDetail(vol.ID, volume.DetailCloneOfTemplate, strconv.FormatInt(tmpl.ID, 10)); err != nil {
			return nil, err
		}
		op.scaffolding(vol)
		err = o.volumes.CreateVolume(op.ctx, vol, vol.Store, op.cfg.StoragePoolMaxWait)
		if rerr := o.records.RemoveVolumeDetail(vol.ID, volume.DetailCloneOfTemplate); rerr != nil && err == nil {
			err = rerr
		}
		if err != nil {
			op.log.Warn("volume create failed", map[string]any{"error": reason(err)})
			return nil, err
		}
		if err := op.fire(vol, lifecycle.MigrationRequested); err != nil {
			return nil, err
		}

		if host == nil {
			return vol.TO(), nil
		}

		vmware := tmpl.Hypervisor == model.HypervisorVMware
		var extra map[string]string
		if vmware {
			extra = map[string]string{
				agent.DetailVMDK:            tmpl.TO().UniqueName + ".vmdk",
				agent.DetailExpandDatastore: strconv.FormatBool(true),
			}
		}
		to, err := op.resignature(vol, host, extra, false)
		if err != nil {
			return nil, err
		}
		if to == nil {
			return nil, fail(errclass.ErrScenarioFailed, "Unable to create a volume from a template")
		}
		if vmware {
			op.dropTarget(host, vol.Store, vol.IScsiName())
		}
		return to, nil
	}()
	if err != nil {
		return nil, wrap(err, "Create volume from template (ID = %d) failed", tmpl.ID)
	}
	return to, nil
}
