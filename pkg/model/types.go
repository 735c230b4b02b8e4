package model

import "strings"

// Kind discriminates the DataObject variants.
type Kind string

const (
	KindVolume   Kind = "volume"
	KindSnapshot Kind = "snapshot"
	KindTemplate Kind = "template"
)

// ImageFormat is the on-disk format of a data object.
type ImageFormat string

const (
	FormatRAW   ImageFormat = "RAW"
	FormatQCOW2 ImageFormat = "QCOW2"
	FormatVHD   ImageFormat = "VHD"
	FormatOVA   ImageFormat = "OVA"
)

// HypervisorType identifies the hypervisor family of a host or object.
type HypervisorType string

const (
	HypervisorNone      HypervisorType = ""
	HypervisorKVM       HypervisorType = "KVM"
	HypervisorXenServer HypervisorType = "XenServer"
	HypervisorVMware    HypervisorType = "VMware"
	HypervisorHyperV    HypervisorType = "Hyperv"
)

// ParseHypervisor matches a hypervisor name case-insensitively.
func ParseHypervisor(s string) HypervisorType {
	for _, h := range []HypervisorType{HypervisorKVM, HypervisorXenServer, HypervisorVMware, HypervisorHyperV} {
		if strings.EqualFold(s, string(h)) {
			return h
		}
	}
	return HypervisorType(s)
}

// ObjectState is the lifecycle state of a volume or snapshot.
type ObjectState string

const (
	StateAllocated ObjectState = "Allocated"
	StateCreating  ObjectState = "Creating"
	StateReady     ObjectState = "Ready"
	StateMigrating ObjectState = "Migrating"
	StateUploaded  ObjectState = "Uploaded"
	StateDestroy   ObjectState = "Destroy"
	StateExpunged  ObjectState = "Expunged"
)

// Transient reports whether an object in this state is mid-operation.
func (s ObjectState) Transient() bool {
	return s == StateCreating || s == StateMigrating
}

// LocationType says where a snapshot's bits live.
type LocationType string

const (
	LocationPrimary   LocationType = "PRIMARY"
	LocationSecondary LocationType = "SECONDARY"
)

// VMState is the power state of a virtual machine.
type VMState string

const (
	VMRunning VMState = "Running"
	VMStopped VMState = "Stopped"
)

// Priority is the answer of a capability check.
type Priority int

const (
	CannotHandle Priority = iota
	Highest
)

func (p Priority) String() string {
	if p == Highest {
		return "HIGHEST"
	}
	return "CANT_HANDLE"
}
