package doctor

import (
	"fmt"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/jvs-project/motion/internal/audit"
	"github.com/jvs-project/motion/internal/inventory"
	"github.com/jvs-project/motion/pkg/config"
	"github.com/jvs-project/motion/pkg/model"
)

// Finding represents a detected issue.
type Finding struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Path        string `json:"path,omitempty"`
}

// Result contains doctor check results.
type Result struct {
	Healthy  bool      `json:"healthy"`
	Findings []Finding `json:"findings"`
}

func (r *Result) add(category, severity, format string, args ...any) {
	r.Findings = append(r.Findings, Finding{
		Category:    category,
		Description: fmt.Sprintf(format, args...),
		Severity:    severity,
	})
	if severity == "critical" || severity == "error" {
		r.Healthy = false
	}
}

// Doctor checks that an inventory and configuration can serve data motion.
type Doctor struct {
	doc       *inventory.Document
	cfg       *config.Config
	auditPath string
}

// NewDoctor creates a new doctor. cfg may be nil to skip the configuration
// check; auditPath may be empty.
func NewDoctor(doc *inventory.Document, cfg *config.Config, auditPath string) *Doctor {
	if doc == nil {
		doc = &inventory.Document{}
	}
	return &Doctor{doc: doc, cfg: cfg, auditPath: auditPath}
}

// Check runs all diagnostic checks. strict adds verification of the audit
// hash chain.
func (d *Doctor) Check(strict bool) (*Result, error) {
	result := &Result{Healthy: true}

	d.checkConfig(result)
	d.checkTopology(result)
	d.checkStores(result)
	d.checkZones(result)
	d.checkObjects(result)

	if strict {
		d.checkAudit(result)
	}

	return result, nil
}

func (d *Doctor) checkConfig(result *Result) {
	if d.cfg == nil {
		return
	}
	if err := d.cfg.Validate(); err != nil {
		result.add("config", "critical", "%v", err)
	}
}

func (d *Doctor) clusters() map[int64]model.Cluster {
	out := make(map[int64]model.Cluster, len(d.doc.Clusters))
	for _, c := range d.doc.Clusters {
		out[c.ID] = c
	}
	return out
}

func (d *Doctor) checkTopology(result *Result) {
	clusters := d.clusters()
	for _, h := range d.doc.Hosts {
		c, ok := clusters[h.ClusterID]
		if !ok {
			result.add("topology", "error", "host %d (%s) is in unknown cluster %d", h.ID, h.Name, h.ClusterID)
			continue
		}
		hv := model.ParseHypervisor(string(h.Hypervisor))
		if c.Hypervisor != "" && model.ParseHypervisor(string(c.Hypervisor)) != hv {
			result.add("topology", "warning", "host %d is %s but cluster %d is %s", h.ID, hv, c.ID, c.Hypervisor)
		}
		if c.ZoneID != h.ZoneID {
			result.add("topology", "warning", "host %d is in zone %d but cluster %d is in zone %d", h.ID, h.ZoneID, c.ID, c.ZoneID)
		}
		if h.AgentURL == "" {
			result.add("agent", "info", "host %d (%s) has no agent URL", h.ID, h.Name)
		}
	}
}

func (d *Doctor) checkStores(result *Result) {
	clusters := d.clusters()
	for _, s := range d.doc.Stores {
		if s.ClusterID != 0 {
			if _, ok := clusters[s.ClusterID]; !ok {
				result.add("store", "error", "store %d (%s) is scoped to unknown cluster %d", s.ID, s.Name, s.ClusterID)
			}
		}
		if s.Role != model.RolePrimary || !s.Managed {
			continue
		}
		caps := model.CapabilityMap(s.Capabilities)
		if !caps.Supports(model.CapStorageSystemSnapshot) && !caps.Supports(model.CapCanCreateVolumeFromVolume) {
			result.add("capability", "warning", "managed store %d (%s) advertises no storage-system capability", s.ID, s.Name)
		}
		if s.HostAddress == "" {
			result.add("store", "warning", "managed store %d (%s) has no target address", s.ID, s.Name)
		}
	}
}

func (d *Doctor) checkZones(result *Result) {
	zones := sets.New[int64]()
	relays := make(map[int64]int64)
	for _, z := range d.doc.Zones {
		zones.Insert(z.ID)
		relays[z.ID] = z.RelayHost
	}
	for _, s := range d.doc.Stores {
		zones.Insert(s.ZoneID)
	}

	hostIDs := sets.New[int64]()
	kvmZones := sets.New[int64]()
	for _, h := range d.doc.Hosts {
		hostIDs.Insert(h.ID)
		if model.ParseHypervisor(string(h.Hypervisor)) == model.HypervisorKVM {
			kvmZones.Insert(h.ZoneID)
		}
	}
	resignZones := sets.New[int64]()
	resignNeeded := sets.New[int64]()
	for _, c := range d.doc.Clusters {
		switch model.ParseHypervisor(string(c.Hypervisor)) {
		case model.HypervisorXenServer, model.HypervisorVMware:
			resignNeeded.Insert(c.ZoneID)
			if c.SupportsResigning {
				resignZones.Insert(c.ZoneID)
			}
		}
	}

	for _, zone := range sets.List(zones) {
		var managed, objectStores, images, caches int
		for _, s := range d.doc.Stores {
			if s.ZoneID != zone {
				continue
			}
			switch s.Role {
			case model.RolePrimary:
				if s.Managed {
					managed++
				}
			case model.RoleImage:
				images++
				if s.Protocol != model.ProtocolNFS {
					objectStores++
				}
			case model.RoleImageCache:
				caches++
			}
		}

		if objectStores > 0 && caches == 0 {
			result.add("cache", "warning", "zone %d has object image stores but no image cache store", zone)
		}
		if relay, ok := relays[zone]; ok && relay != 0 && !hostIDs.Has(relay) {
			result.add("relay", "error", "zone %d relay host %d is not in the inventory", zone, relay)
		} else if images > 0 && relay == 0 {
			result.add("relay", "warning", "zone %d has image stores but no relay host", zone)
		}
		if managed == 0 {
			continue
		}
		if !kvmZones.Has(zone) {
			result.add("host", "warning", "zone %d has managed storage but no KVM host", zone)
		}
		if resignNeeded.Has(zone) && !resignZones.Has(zone) {
			result.add("resign", "warning", "zone %d has no cluster able to resign cloned storage", zone)
		}
	}
}

func (d *Doctor) checkObjects(result *Result) {
	stores := sets.New[int64]()
	for _, s := range d.doc.Stores {
		stores.Insert(s.ID)
	}
	vms := sets.New[int64]()
	for _, vm := range d.doc.VMs {
		vms.Insert(vm.ID)
	}
	volumes := sets.New[int64]()
	for _, v := range d.doc.Volumes {
		volumes.Insert(v.ID)
		if !stores.Has(v.Store) {
			result.add("object", "error", "volume %d is on unknown store %d", v.ID, v.Store)
		}
		if v.VM != 0 && !vms.Has(v.VM) {
			result.add("object", "error", "volume %d is attached to unknown VM %d", v.ID, v.VM)
		}
	}
	snapshots := sets.New[int64]()
	for _, s := range d.doc.Snapshots {
		snapshots.Insert(s.ID)
	}
	for _, s := range d.doc.Snapshots {
		if !stores.Has(s.Store) {
			result.add("object", "error", "snapshot %d is on unknown store %d", s.ID, s.Store)
		}
		if !volumes.Has(s.Volume) {
			result.add("object", "error", "snapshot %d was taken from unknown volume %d", s.ID, s.Volume)
		}
		if s.Parent != 0 && !snapshots.Has(s.Parent) {
			result.add("object", "warning", "snapshot %d has unknown parent %d", s.ID, s.Parent)
		}
	}
	for _, t := range d.doc.Templates {
		if !stores.Has(t.Store) {
			result.add("object", "error", "template %d is on unknown store %d", t.ID, t.Store)
		}
	}
}

func (d *Doctor) checkAudit(result *Result) {
	if d.auditPath == "" {
		return
	}
	n, err := audit.NewFileAppender(d.auditPath).Verify()
	if err != nil {
		result.Findings = append(result.Findings, Finding{
			Category:    "audit",
			Description: fmt.Sprintf("audit chain broken after %d records: %v", n, err),
			Severity:    "critical",
			Path:        d.auditPath,
		})
		result.Healthy = false
	}
}
