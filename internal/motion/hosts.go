package motion

import (
	"math/rand/v2"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/jvs-project/motion/pkg/errclass"
	"github.com/jvs-project/motion/pkg/model"
)

func shuffle(hosts []*model.Host) {
	rand.Shuffle(len(hosts), func(i, j int) { hosts[i], hosts[j] = hosts[j], hosts[i] })
}

// hostInZone picks a random host of hypervisor hv in zone. With mustResign
// only hosts whose cluster supports resigning qualify. It returns nil when
// no host fits.
func (o *Orchestrator) hostInZone(zoneID int64, hv model.HypervisorType, mustResign bool) (*model.Host, error) {
	hosts, err := o.records.HostsInZone(zoneID, hv)
	if err != nil {
		return nil, err
	}
	shuffle(hosts)

	skip := sets.New[int64]()
	for _, h := range hosts {
		if !mustResign {
			return h, nil
		}
		if skip.Has(h.ClusterID) {
			continue
		}
		ok, err := o.supportsResigning(h.ClusterID)
		if err != nil {
			return nil, err
		}
		if ok {
			return h, nil
		}
		skip.Insert(h.ClusterID)
	}
	return nil, nil
}

// hostInCluster picks a random host of the cluster.
func (o *Orchestrator) hostInCluster(clusterID int64) (*model.Host, error) {
	hosts, err := o.records.HostsInCluster(clusterID)
	if err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		return nil, fail(errclass.ErrNotFound, "Unable to locate a host")
	}
	shuffle(hosts)
	return hosts[0], nil
}

func (o *Orchestrator) supportsResigning(clusterID int64) (bool, error) {
	c, err := o.records.Cluster(clusterID)
	if err != nil {
		return false, err
	}
	return c.SupportsResigning, nil
}

// hostForSnapshot picks the host that works on snap. XenServer prefers a
// host able to resign; VMware and KVM take any host and may get nil.
func (o *Orchestrator) hostForSnapshot(snap *model.DataObject) (*model.Host, error) {
	switch snap.Hypervisor {
	case model.HypervisorXenServer:
		h, err := o.hostInZone(snap.ZoneID, snap.Hypervisor, true)
		if err != nil || h != nil {
			return h, err
		}
		h, err = o.hostInZone(snap.ZoneID, snap.Hypervisor, false)
		if err != nil {
			return nil, err
		}
		if h == nil {
			return nil, fail(errclass.ErrNotFound, "Unable to locate an applicable host in data center with ID = %d", snap.ZoneID)
		}
		return h, nil
	case model.HypervisorVMware, model.HypervisorKVM:
		return o.hostInZone(snap.ZoneID, snap.Hypervisor, false)
	}
	return nil, fail(errclass.ErrPrecondition, "Unsupported hypervisor type")
}

// hostForPool picks a KVM host in the pool's cluster, or anywhere in the
// zone when the pool is zone-wide.
func (o *Orchestrator) hostForPool(pool *model.DataStore, zoneID int64) (*model.Host, error) {
	if pool != nil && pool.ClusterID != 0 {
		return o.hostInCluster(pool.ClusterID)
	}
	h, err := o.hostInZone(zoneID, model.HypervisorKVM, false)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fail(errclass.ErrNotFound, "Unable to locate a host")
	}
	return h, nil
}
