package model

import "fmt"

// VolumeInfo carries the volume-only attributes of a DataObject.
type VolumeInfo struct {
	PoolID                    int64  `json:"pool_id"`
	LastPoolID                int64  `json:"last_pool_id,omitempty"`
	PodID                     int64  `json:"pod_id,omitempty"`
	IScsiName                 string `json:"iscsi_name,omitempty"`
	InstanceID                int64  `json:"instance_id,omitempty"`
	DiskOfferingID            int64  `json:"disk_offering_id,omitempty"`
	MinIOPS                   *int64 `json:"min_iops,omitempty"`
	MaxIOPS                   *int64 `json:"max_iops,omitempty"`
	HypervisorSnapshotReserve *int   `json:"hypervisor_snapshot_reserve,omitempty"`
	ChainInfo                 string `json:"chain_info,omitempty"`
	Folder                    string `json:"folder,omitempty"`
}

// SnapshotInfo carries the snapshot-only attributes of a DataObject.
type SnapshotInfo struct {
	VolumeID     int64        `json:"volume_id"`
	ParentID     int64        `json:"parent_id,omitempty"`
	LocationType LocationType `json:"location_type,omitempty"`
}

// TemplateInfo carries the template-only attributes of a DataObject.
type TemplateInfo struct {
	UniqueName string `json:"unique_name,omitempty"`
}

// DataObject is a volume, snapshot or template materialized on one store.
// Exactly one of Volume, Snapshot, Template is set, matching Kind.
type DataObject struct {
	Kind       Kind           `json:"kind"`
	ID         int64          `json:"id"`
	UUID       string         `json:"uuid"`
	Name       string         `json:"name,omitempty"`
	StoreID    int64          `json:"store_id"`
	Format     ImageFormat    `json:"format"`
	Size       int64          `json:"size"`
	Path       string         `json:"path,omitempty"`
	State      ObjectState    `json:"state"`
	Copying    bool           `json:"copying,omitempty"`
	ZoneID     int64          `json:"zone_id"`
	Hypervisor HypervisorType `json:"hypervisor,omitempty"`

	Volume   *VolumeInfo   `json:"volume,omitempty"`
	Snapshot *SnapshotInfo `json:"snapshot,omitempty"`
	Template *TemplateInfo `json:"template,omitempty"`

	// Store is resolved once when the object is loaded and is not persisted.
	Store *DataStore `json:"-"`
}

// Key is the storage identity of the object.
func (o *DataObject) Key() string {
	return fmt.Sprintf("%s/%d", o.Kind, o.ID)
}

func (o *DataObject) String() string {
	return fmt.Sprintf("%s %d", o.Kind, o.ID)
}

func (o *DataObject) IsVolume() bool   { return o != nil && o.Kind == KindVolume }
func (o *DataObject) IsSnapshot() bool { return o != nil && o.Kind == KindSnapshot }
func (o *DataObject) IsTemplate() bool { return o != nil && o.Kind == KindTemplate }

// Role returns the role of the hosting store, or "" if unresolved.
func (o *DataObject) Role() StoreRole {
	if o.Store == nil {
		return ""
	}
	return o.Store.Role
}

// OnSecondary reports whether the object lives on an Image or ImageCache store.
func (o *DataObject) OnSecondary() bool {
	return o.Role().Secondary()
}

// PoolID returns the primary pool of a volume, falling back to StoreID.
func (o *DataObject) PoolID() int64 {
	if o.Volume != nil && o.Volume.PoolID != 0 {
		return o.Volume.PoolID
	}
	return o.StoreID
}

// IScsiName returns the volume's target name, or "".
func (o *DataObject) IScsiName() string {
	if o.Volume == nil {
		return ""
	}
	return o.Volume.IScsiName
}

// Clone returns a deep copy sharing the resolved store snapshot.
func (o *DataObject) Clone() *DataObject {
	c := *o
	if o.Volume != nil {
		v := *o.Volume
		c.Volume = &v
	}
	if o.Snapshot != nil {
		s := *o.Snapshot
		c.Snapshot = &s
	}
	if o.Template != nil {
		t := *o.Template
		c.Template = &t
	}
	return &c
}

// TO builds the transfer descriptor sent to agents.
func (o *DataObject) TO() *ObjectTO {
	to := &ObjectTO{
		Kind:       o.Kind,
		ID:         o.ID,
		UUID:       o.UUID,
		Name:       o.Name,
		Path:       o.Path,
		Size:       o.Size,
		Format:     o.Format,
		Hypervisor: o.Hypervisor,
	}
	if o.Store != nil {
		to.Store = o.Store.TO()
	}
	if o.Template != nil {
		to.UniqueName = o.Template.UniqueName
	}
	return to
}

// StoreTO is the agent-facing description of a data store.
type StoreTO struct {
	UUID     string    `json:"uuid"`
	Role     StoreRole `json:"role"`
	Protocol string    `json:"protocol,omitempty"`
	URL      string    `json:"url,omitempty"`
	PoolType string    `json:"pool_type,omitempty"`
}

// ObjectTO is the transfer descriptor of a data object. It is what agents
// receive and what completed copies report.
type ObjectTO struct {
	Kind       Kind           `json:"kind"`
	ID         int64          `json:"id"`
	UUID       string         `json:"uuid,omitempty"`
	Name       string         `json:"name,omitempty"`
	Path       string         `json:"path,omitempty"`
	Size       int64          `json:"size,omitempty"`
	Format     ImageFormat    `json:"format,omitempty"`
	Hypervisor HypervisorType `json:"hypervisor,omitempty"`
	UniqueName string         `json:"unique_name,omitempty"`
	Store      StoreTO        `json:"store"`
}
