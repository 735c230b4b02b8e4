package inventory

import (
	"fmt"

	"github.com/jvs-project/motion/pkg/logging"
	"github.com/jvs-project/motion/pkg/model"
	"github.com/jvs-project/motion/pkg/uuidutil"
)

// Records is the subset of the record store an inventory is written to.
type Records interface {
	PutStore(ds *model.DataStore) error
	DataStore(id int64) (*model.DataStore, error)
	PutCluster(c *model.Cluster) error
	PutHost(h *model.Host) error
	PutVM(vm *model.VM) error
	Persist(obj *model.DataObject) error
	SetVolumeDetail(volumeID int64, name, value string) error
	SetSnapshotDetail(snapshotID int64, name, value string) error
}

// ReserveSetter receives disk offering snapshot reserves.
type ReserveSetter interface {
	SetOfferingReserve(offeringID int64, percent int)
}

// RelaySetter receives the relay host of each zone.
type RelaySetter interface {
	Set(zoneID, hostID int64)
}

// Summary counts what Apply wrote.
type Summary struct {
	Stores    int `json:"stores"`
	Clusters  int `json:"clusters"`
	Hosts     int `json:"hosts"`
	VMs       int `json:"vms"`
	Volumes   int `json:"volumes"`
	Snapshots int `json:"snapshots"`
	Templates int `json:"templates"`
	Relays    int `json:"relays"`
}

// Loader writes documents into a record store.
type Loader struct {
	records  Records
	reserves ReserveSetter
	relays   RelaySetter
	log      *logging.Logger
}

// NewLoader returns a Loader. reserves and relays may be nil.
func NewLoader(records Records, reserves ReserveSetter, relays RelaySetter, log *logging.Logger) *Loader {
	if log == nil {
		log = logging.Nop()
	}
	return &Loader{records: records, reserves: reserves, relays: relays, log: log}
}

// Apply writes every entry of doc. Stores come first so that objects can
// take their zone from them.
func (l *Loader) Apply(doc *Document) (*Summary, error) {
	sum := &Summary{}
	zoneOf := make(map[int64]int64, len(doc.Stores))

	for _, s := range doc.Stores {
		ds := s.DataStore()
		if err := l.records.PutStore(ds); err != nil {
			return nil, fmt.Errorf("store %d: %w", s.ID, err)
		}
		zoneOf[ds.ID] = ds.ZoneID
		sum.Stores++
	}
	for i := range doc.Clusters {
		if err := l.records.PutCluster(&doc.Clusters[i]); err != nil {
			return nil, fmt.Errorf("cluster %d: %w", doc.Clusters[i].ID, err)
		}
		sum.Clusters++
	}
	for i := range doc.Hosts {
		h := doc.Hosts[i]
		h.Hypervisor = model.ParseHypervisor(string(h.Hypervisor))
		if err := l.records.PutHost(&h); err != nil {
			return nil, fmt.Errorf("host %d: %w", h.ID, err)
		}
		sum.Hosts++
	}
	for i := range doc.VMs {
		vm := doc.VMs[i]
		if vm.State == "" {
			vm.State = model.VMStopped
		}
		if err := l.records.PutVM(&vm); err != nil {
			return nil, fmt.Errorf("vm %d: %w", vm.ID, err)
		}
		sum.VMs++
	}

	if l.reserves != nil {
		for _, o := range doc.Offerings {
			l.reserves.SetOfferingReserve(o.ID, o.HypervisorSnapshotReserve)
		}
	}
	if l.relays != nil {
		for _, z := range doc.Zones {
			if z.RelayHost == 0 {
				continue
			}
			l.relays.Set(z.ID, z.RelayHost)
			sum.Relays++
		}
	}

	for _, v := range doc.Volumes {
		obj := &model.DataObject{
			Kind:       model.KindVolume,
			ID:         v.ID,
			UUID:       v.UUID,
			Name:       v.Name,
			StoreID:    v.Store,
			Format:     v.Format,
			Size:       v.Size,
			Path:       v.Path,
			State:      v.State,
			ZoneID:     zoneOf[v.Store],
			Hypervisor: model.ParseHypervisor(string(v.Hypervisor)),
			Volume: &model.VolumeInfo{
				PoolID:         v.Store,
				IScsiName:      v.IScsiName,
				InstanceID:     v.VM,
				DiskOfferingID: v.Offering,
			},
		}
		if err := l.persist(obj); err != nil {
			return nil, err
		}
		for k, val := range v.Details {
			if err := l.records.SetVolumeDetail(obj.ID, k, val); err != nil {
				return nil, fmt.Errorf("volume %d detail %s: %w", obj.ID, k, err)
			}
		}
		sum.Volumes++
	}

	formats := make(map[int64]model.ImageFormat, len(doc.Volumes))
	for _, v := range doc.Volumes {
		formats[v.ID] = v.Format
	}
	for _, s := range doc.Snapshots {
		loc := s.Location
		if loc == "" {
			loc = model.LocationPrimary
		}
		obj := &model.DataObject{
			Kind:       model.KindSnapshot,
			ID:         s.ID,
			UUID:       s.UUID,
			Name:       s.Name,
			StoreID:    s.Store,
			Format:     formats[s.Volume],
			Size:       s.Size,
			Path:       s.Path,
			State:      s.State,
			ZoneID:     zoneOf[s.Store],
			Hypervisor: model.ParseHypervisor(string(s.Hypervisor)),
			Snapshot:   &model.SnapshotInfo{VolumeID: s.Volume, ParentID: s.Parent, LocationType: loc},
		}
		if err := l.persist(obj); err != nil {
			return nil, err
		}
		for k, val := range s.Details {
			if err := l.records.SetSnapshotDetail(obj.ID, k, val); err != nil {
				return nil, fmt.Errorf("snapshot %d detail %s: %w", obj.ID, k, err)
			}
		}
		sum.Snapshots++
	}

	for _, t := range doc.Templates {
		obj := &model.DataObject{
			Kind:       model.KindTemplate,
			ID:         t.ID,
			UUID:       t.UUID,
			Name:       t.Name,
			StoreID:    t.Store,
			Format:     t.Format,
			Size:       t.Size,
			Path:       t.Path,
			State:      t.State,
			ZoneID:     zoneOf[t.Store],
			Hypervisor: model.ParseHypervisor(string(t.Hypervisor)),
			Template:   &model.TemplateInfo{UniqueName: t.UniqueName},
		}
		if err := l.persist(obj); err != nil {
			return nil, err
		}
		sum.Templates++
	}

	l.log.Info("inventory applied", map[string]any{
		"stores":    sum.Stores,
		"hosts":     sum.Hosts,
		"volumes":   sum.Volumes,
		"snapshots": sum.Snapshots,
		"templates": sum.Templates,
	})
	return sum, nil
}

func (l *Loader) persist(obj *model.DataObject) error {
	if obj.UUID == "" {
		obj.UUID = uuidutil.NewV4()
	}
	if obj.State == "" {
		obj.State = model.StateReady
	}
	if obj.ZoneID == 0 {
		if ds, err := l.records.DataStore(obj.StoreID); err == nil {
			obj.ZoneID = ds.ZoneID
		}
	}
	if err := l.records.Persist(obj); err != nil {
		return fmt.Errorf("%s: %w", obj, err)
	}
	return nil
}
