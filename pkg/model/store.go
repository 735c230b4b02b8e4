package model

import "strconv"

// StoreRole is the tier a data store serves.
type StoreRole string

const (
	RolePrimary    StoreRole = "Primary"
	RoleImage      StoreRole = "Image"
	RoleImageCache StoreRole = "ImageCache"
)

// Secondary reports whether the role is one of the secondary-tier roles.
func (r StoreRole) Secondary() bool {
	return r == RoleImage || r == RoleImageCache
}

// Capability names advertised by backend drivers.
const (
	CapStorageSystemSnapshot     = "STORAGE_SYSTEM_SNAPSHOT"
	CapCanCreateVolumeFromVolume = "CAN_CREATE_VOLUME_FROM_VOLUME"
)

// CapabilityMap is an immutable view of a backend's advertised features.
type CapabilityMap map[string]string

// Supports parses the capability value as a boolean; missing keys are false.
func (m CapabilityMap) Supports(name string) bool {
	if m == nil {
		return false
	}
	v, ok := m[name]
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// ScopeType is the level of a Scope in the Host ⊂ Cluster ⊂ Zone hierarchy.
type ScopeType string

const (
	ScopeHost    ScopeType = "host"
	ScopeCluster ScopeType = "cluster"
	ScopeZone    ScopeType = "zone"
)

// Scope locates a data store. ID is the host, cluster or zone ID for the
// scope type; zero means unset.
type Scope struct {
	Type   ScopeType `json:"type" yaml:"type"`
	ID     int64     `json:"id,omitempty" yaml:"id,omitempty"`
	ZoneID int64     `json:"zone_id" yaml:"zone_id"`
}

// Zone widens the scope to its enclosing zone.
func (s Scope) Zone() Scope {
	if s.Type == ScopeZone {
		return s
	}
	return Scope{Type: ScopeZone, ID: s.ZoneID, ZoneID: s.ZoneID}
}

// Protocol names used to recognise file-based secondary stores.
const (
	ProtocolNFS   = "nfs"
	ProtocolS3    = "s3"
	ProtocolSwift = "swift"
	ProtocolISCSI = "iscsi"
)

// DataStore is a read-only snapshot of a storage backend.
type DataStore struct {
	ID           int64         `json:"id"`
	UUID         string        `json:"uuid"`
	Name         string        `json:"name"`
	Role         StoreRole     `json:"role"`
	Protocol     string        `json:"protocol"`
	Provider     string        `json:"provider"`
	Scope        Scope         `json:"scope"`
	Managed      bool          `json:"managed"`
	ClusterID    int64         `json:"cluster_id,omitempty"`
	PodID        int64         `json:"pod_id,omitempty"`
	ZoneID       int64         `json:"zone_id"`
	HostAddress  string        `json:"host_address,omitempty"`
	Port         int           `json:"port,omitempty"`
	PoolType     string        `json:"pool_type,omitempty"`
	URL          string        `json:"url,omitempty"`
	Capabilities CapabilityMap `json:"capabilities,omitempty"`
}

// FileBased reports whether the store is a plain network-file-system
// secondary store that hypervisors can read directly.
func (d *DataStore) FileBased() bool {
	return d.Role != RolePrimary && d.Protocol == ProtocolNFS
}

// TO builds the agent-facing store descriptor.
func (d *DataStore) TO() StoreTO {
	return StoreTO{
		UUID:     d.UUID,
		Role:     d.Role,
		Protocol: d.Protocol,
		URL:      d.URL,
		PoolType: d.PoolType,
	}
}
