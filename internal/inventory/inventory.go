// Package inventory loads the description of a site (zones, stores,
// clusters, hosts, VMs and data objects) from YAML into the record store.
package inventory

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jvs-project/motion/pkg/errclass"
	"github.com/jvs-project/motion/pkg/model"
	"github.com/jvs-project/motion/pkg/nameutil"
	"github.com/jvs-project/motion/pkg/uuidutil"
)

// Document is one inventory file.
type Document struct {
	Zones     []Zone          `yaml:"zones"`
	Offerings []Offering      `yaml:"offerings,omitempty"`
	Stores    []Store         `yaml:"stores"`
	Clusters  []model.Cluster `yaml:"clusters"`
	Hosts     []model.Host    `yaml:"hosts"`
	VMs       []model.VM      `yaml:"vms,omitempty"`
	Volumes   []Volume        `yaml:"volumes,omitempty"`
	Snapshots []Snapshot      `yaml:"snapshots,omitempty"`
	Templates []Template      `yaml:"templates,omitempty"`
}

// Zone names the host that relays copies between secondary stores of
// the zone.
type Zone struct {
	ID        int64 `yaml:"id"`
	RelayHost int64 `yaml:"relay_host,omitempty"`
}

// Offering is a disk offering's hypervisor snapshot reserve, in percent.
type Offering struct {
	ID                        int64 `yaml:"id"`
	HypervisorSnapshotReserve int   `yaml:"hypervisor_snapshot_reserve"`
}

// Store describes a data store.
type Store struct {
	ID           int64             `yaml:"id"`
	UUID         string            `yaml:"uuid,omitempty"`
	Name         string            `yaml:"name"`
	Role         model.StoreRole   `yaml:"role"`
	Protocol     string            `yaml:"protocol"`
	Provider     string            `yaml:"provider"`
	Scope        model.Scope       `yaml:"scope,omitempty"`
	Managed      bool              `yaml:"managed,omitempty"`
	ClusterID    int64             `yaml:"cluster_id,omitempty"`
	PodID        int64             `yaml:"pod_id,omitempty"`
	ZoneID       int64             `yaml:"zone_id"`
	HostAddress  string            `yaml:"host_address,omitempty"`
	Port         int               `yaml:"port,omitempty"`
	PoolType     string            `yaml:"pool_type,omitempty"`
	URL          string            `yaml:"url,omitempty"`
	Capabilities map[string]string `yaml:"capabilities,omitempty"`
}

// Volume describes a volume record.
type Volume struct {
	ID         int64                `yaml:"id"`
	UUID       string               `yaml:"uuid,omitempty"`
	Name       string               `yaml:"name,omitempty"`
	Store      int64                `yaml:"store"`
	Format     model.ImageFormat    `yaml:"format"`
	Size       int64                `yaml:"size,omitempty"`
	Path       string               `yaml:"path,omitempty"`
	State      model.ObjectState    `yaml:"state,omitempty"`
	Hypervisor model.HypervisorType `yaml:"hypervisor,omitempty"`
	IScsiName  string               `yaml:"iscsi_name,omitempty"`
	VM         int64                `yaml:"vm,omitempty"`
	Offering   int64                `yaml:"offering,omitempty"`
	Details    map[string]string    `yaml:"details,omitempty"`
}

// Snapshot describes a snapshot record.
type Snapshot struct {
	ID         int64                `yaml:"id"`
	UUID       string               `yaml:"uuid,omitempty"`
	Name       string               `yaml:"name,omitempty"`
	Store      int64                `yaml:"store"`
	Volume     int64                `yaml:"volume"`
	Parent     int64                `yaml:"parent,omitempty"`
	Location   model.LocationType   `yaml:"location,omitempty"`
	Size       int64                `yaml:"size,omitempty"`
	Path       string               `yaml:"path,omitempty"`
	State      model.ObjectState    `yaml:"state,omitempty"`
	Hypervisor model.HypervisorType `yaml:"hypervisor,omitempty"`
	Details    map[string]string    `yaml:"details,omitempty"`
}

// Template describes a template record.
type Template struct {
	ID         int64                `yaml:"id"`
	UUID       string               `yaml:"uuid,omitempty"`
	Name       string               `yaml:"name,omitempty"`
	UniqueName string               `yaml:"unique_name,omitempty"`
	Store      int64                `yaml:"store"`
	Format     model.ImageFormat    `yaml:"format"`
	Size       int64                `yaml:"size,omitempty"`
	Path       string               `yaml:"path,omitempty"`
	State      model.ObjectState    `yaml:"state,omitempty"`
	Hypervisor model.HypervisorType `yaml:"hypervisor,omitempty"`
}

// Load reads and validates the inventory at path.
func Load(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open inventory: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Parse decodes and validates an inventory held in memory.
func Parse(data []byte) (*Document, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads an inventory from r. Unknown keys are rejected.
func Decode(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, errclass.ErrConfigInvalid.WithMessagef("parse inventory: %v", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks IDs and names. Cross-references are left to the doctor.
func (d *Document) Validate() error {
	type entry struct {
		what string
		id   int64
		name string
	}
	var entries []entry
	for _, z := range d.Zones {
		entries = append(entries, entry{"zone", z.ID, ""})
	}
	for _, o := range d.Offerings {
		entries = append(entries, entry{"offering", o.ID, ""})
	}
	for _, s := range d.Stores {
		entries = append(entries, entry{"store", s.ID, s.Name})
	}
	for _, c := range d.Clusters {
		entries = append(entries, entry{"cluster", c.ID, ""})
	}
	for _, h := range d.Hosts {
		entries = append(entries, entry{"host", h.ID, h.Name})
	}
	for _, vm := range d.VMs {
		entries = append(entries, entry{"vm", vm.ID, vm.Name})
	}
	for _, v := range d.Volumes {
		entries = append(entries, entry{"volume", v.ID, ""})
	}
	for _, s := range d.Snapshots {
		entries = append(entries, entry{"snapshot", s.ID, ""})
	}
	for _, t := range d.Templates {
		entries = append(entries, entry{"template", t.ID, ""})
	}

	seen := make(map[string]map[int64]bool)
	for _, e := range entries {
		if e.id <= 0 {
			return errclass.ErrConfigInvalid.WithMessagef("%s has no positive id", e.what)
		}
		if seen[e.what] == nil {
			seen[e.what] = make(map[int64]bool)
		}
		if seen[e.what][e.id] {
			return errclass.ErrConfigInvalid.WithMessagef("duplicate %s id %d", e.what, e.id)
		}
		seen[e.what][e.id] = true
		if e.name == "" {
			continue
		}
		if err := nameutil.ValidateName(e.name); err != nil {
			return errclass.ErrConfigInvalid.WithMessagef("%s %d: %v", e.what, e.id, err)
		}
	}

	for _, s := range d.Stores {
		switch s.Role {
		case model.RolePrimary, model.RoleImage, model.RoleImageCache:
		default:
			return errclass.ErrConfigInvalid.WithMessagef("store %d: unknown role %q", s.ID, s.Role)
		}
	}
	return nil
}

// DataStore converts s to its record form. A missing UUID is generated and
// a missing scope defaults to the store's zone.
func (s Store) DataStore() *model.DataStore {
	ds := &model.DataStore{
		ID:           s.ID,
		UUID:         s.UUID,
		Name:         nameutil.Normalize(s.Name),
		Role:         s.Role,
		Protocol:     s.Protocol,
		Provider:     s.Provider,
		Scope:        s.Scope,
		Managed:      s.Managed,
		ClusterID:    s.ClusterID,
		PodID:        s.PodID,
		ZoneID:       s.ZoneID,
		HostAddress:  s.HostAddress,
		Port:         s.Port,
		PoolType:     s.PoolType,
		URL:          s.URL,
		Capabilities: model.CapabilityMap(s.Capabilities),
	}
	if ds.UUID == "" {
		ds.UUID = uuidutil.NewV4()
	}
	if ds.Scope.Type == "" {
		ds.Scope = model.Scope{Type: model.ScopeZone, ID: s.ZoneID, ZoneID: s.ZoneID}
	}
	if ds.Scope.ZoneID == 0 {
		ds.Scope.ZoneID = s.ZoneID
	}
	return ds
}
