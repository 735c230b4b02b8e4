package model

// Host is a hypervisor host reachable through an agent.
type Host struct {
	ID         int64          `json:"id" yaml:"id"`
	Name       string         `json:"name" yaml:"name"`
	ClusterID  int64          `json:"cluster_id" yaml:"cluster_id"`
	ZoneID     int64          `json:"zone_id" yaml:"zone_id"`
	Hypervisor HypervisorType `json:"hypervisor" yaml:"hypervisor"`
	PrivateIP  string         `json:"private_ip,omitempty" yaml:"private_ip,omitempty"`
	AgentURL   string         `json:"agent_url,omitempty" yaml:"agent_url,omitempty"`
}

// Cluster groups hosts of one hypervisor family.
type Cluster struct {
	ID                int64          `json:"id" yaml:"id"`
	ZoneID            int64          `json:"zone_id" yaml:"zone_id"`
	Hypervisor        HypervisorType `json:"hypervisor,omitempty" yaml:"hypervisor,omitempty"`
	SupportsResigning bool           `json:"supports_resigning" yaml:"supports_resigning"`
}

// VM is a virtual machine whose disks are being moved.
type VM struct {
	ID              int64   `json:"id" yaml:"id"`
	Name            string  `json:"name" yaml:"name"`
	InstanceName    string  `json:"instance_name,omitempty" yaml:"instance_name,omitempty"`
	State           VMState `json:"state" yaml:"state"`
	GuestOSCategory string  `json:"guest_os_category,omitempty" yaml:"guest_os_category,omitempty"`
	HostID          int64   `json:"host_id,omitempty" yaml:"host_id,omitempty"`
}

// IsWindows reports whether the guest OS category is Windows.
func (v *VM) IsWindows() bool {
	return v.GuestOSCategory == "Windows"
}

// VMTO is the agent-facing description of a VM.
type VMTO struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	InstanceName string `json:"instance_name,omitempty"`
}

// TO builds the agent-facing VM descriptor.
func (v *VM) TO() VMTO {
	name := v.InstanceName
	if name == "" {
		name = v.Name
	}
	return VMTO{ID: v.ID, Name: v.Name, InstanceName: name}
}

// ChapInfo holds iSCSI CHAP credentials for one volume/host pairing.
type ChapInfo struct {
	InitiatorUsername string `json:"initiator_username"`
	InitiatorSecret   string `json:"initiator_secret"`
	TargetUsername    string `json:"target_username"`
	TargetSecret      string `json:"target_secret"`
}

// PlanEntry moves one source volume to one destination store.
type PlanEntry struct {
	Volume *DataObject `json:"volume"`
	Dest   *DataStore  `json:"dest"`
}

// MigrationPlan is the ordered mapping used by batch live migration.
type MigrationPlan []PlanEntry
