// Package motion moves volumes, snapshots and templates between data stores
// when at least one side is a storage system this control plane manages.
//
// Copy picks one scenario with Route, runs it to completion and reports the
// outcome through the caller's callback exactly once. A failed scenario is
// rolled back before the callback fires: host grants are revoked, target
// connections are dropped, touched objects get OperationFailed and any
// volume created along the way is destroyed and expunged.
package motion

import (
	"context"
	"time"

	"github.com/jvs-project/motion/internal/agent"
	"github.com/jvs-project/motion/internal/capability"
	"github.com/jvs-project/motion/internal/lifecycle"
	"github.com/jvs-project/motion/internal/volume"
	"github.com/jvs-project/motion/pkg/config"
	"github.com/jvs-project/motion/pkg/errclass"
	"github.com/jvs-project/motion/pkg/logging"
	"github.com/jvs-project/motion/pkg/metrics"
	"github.com/jvs-project/motion/pkg/model"
)

// Records is the persistence the orchestrator reads and writes.
type Records interface {
	lifecycle.Writer
	Persist(obj *model.DataObject) error
	Volume(id int64) (*model.DataObject, error)
	DataStore(id int64) (*model.DataStore, error)
	Host(id int64) (*model.Host, error)
	HostsInCluster(clusterID int64) ([]*model.Host, error)
	HostsInZone(zoneID int64, hv model.HypervisorType) ([]*model.Host, error)
	Cluster(id int64) (*model.Cluster, error)
	VM(id int64) (*model.VM, error)

	VolumeDetails(volumeID int64) (map[string]string, error)
	VolumeDetail(volumeID int64, name string) (string, error)
	SetVolumeDetail(volumeID int64, name, value string) error
	RemoveVolumeDetail(volumeID int64, name string) error
	SnapshotDetails(snapshotID int64) (map[string]string, error)
	SnapshotDetail(snapshotID int64, name string) (string, error)
	SetSnapshotDetail(snapshotID int64, name, value string) error
	RemoveSnapshotDetail(snapshotID int64, name string) error

	SwapVolumeUUIDs(srcID, dstID int64) error
	UpdateSnapshotVolumeIDs(from, to int64) error
}

// Volumes creates, deletes and grants access to objects on backends.
type Volumes interface {
	GrantAccess(ctx context.Context, obj *model.DataObject, host *model.Host, store *model.DataStore) error
	RevokeAccess(ctx context.Context, obj *model.DataObject, host *model.Host, store *model.DataStore) error
	CreateOnStore(ctx context.Context, obj *model.DataObject, store *model.DataStore) (*volume.Created, error)
	CreateVolume(ctx context.Context, vol *model.DataObject, store *model.DataStore, wait time.Duration) error
	DestroyVolume(vol *model.DataObject) error
	ExpungeVolume(ctx context.Context, vol *model.DataObject) error
	ChapInfo(obj *model.DataObject, host *model.Host) (*model.ChapInfo, error)
	UpdateHypervisorSnapshotReserve(vol *model.DataObject) error
}

// Stager manages the cache objects used as a staging leg.
type Stager interface {
	Object(src *model.DataObject, scope model.Scope) (*model.DataObject, error)
	Delete(ctx context.Context, obj *model.DataObject) error
	CacheSnapshotChain(ctx context.Context, snap *model.DataObject, scope model.Scope) (*model.DataObject, error)
}

// Locker serializes resignature work per backend.
type Locker interface {
	Acquire(ctx context.Context, name, purpose string, wait time.Duration) (*model.LockRecord, error)
	Release(rec *model.LockRecord) error
	// ValidateFencing fails unless token is held on name right now.
	ValidateFencing(name string, token int64) error
}

// Auditor records completed operations.
type Auditor interface {
	Append(rec *model.AuditRecord) error
}

// Deps are the collaborators of an Orchestrator. Selector, Auditor,
// Metrics and Log are optional.
type Deps struct {
	Records  Records
	Volumes  Volumes
	Stager   Stager
	Locks    Locker
	Gateway  agent.Gateway
	Selector agent.Selector
	Config   config.Source
	Auditor  Auditor
	Metrics  *metrics.Registry
	Log      *logging.Logger
}

// Orchestrator runs copy and live-migration requests. It is safe for
// concurrent use; each request runs on the caller's goroutine.
type Orchestrator struct {
	records  Records
	volumes  Volumes
	stager   Stager
	locks    Locker
	gateway  agent.Gateway
	selector agent.Selector
	config   config.Source
	auditor  Auditor
	metrics  *metrics.Registry
	log      *logging.Logger

	resolver *capability.Resolver
	machine  *lifecycle.Machine
}

// New checks deps and returns an Orchestrator.
func New(d Deps) (*Orchestrator, error) {
	missing := ""
	switch {
	case d.Records == nil:
		missing = "records"
	case d.Volumes == nil:
		missing = "volumes"
	case d.Stager == nil:
		missing = "stager"
	case d.Locks == nil:
		missing = "locks"
	case d.Gateway == nil:
		missing = "gateway"
	case d.Config == nil:
		missing = "config"
	}
	if missing != "" {
		return nil, errclass.ErrPrecondition.WithMessagef("motion: %s dependency is required", missing)
	}
	if d.Selector == nil {
		d.Selector = agent.NewZoneSelector()
	}
	if d.Log == nil {
		d.Log = logging.Nop()
	}
	return &Orchestrator{
		records:  d.Records,
		volumes:  d.Volumes,
		stager:   d.Stager,
		locks:    d.Locks,
		gateway:  d.Gateway,
		selector: d.Selector,
		config:   d.Config,
		auditor:  d.Auditor,
		metrics:  d.Metrics,
		log:      d.Log,
		resolver: capability.NewResolver(d.Log),
		machine:  lifecycle.New(d.Records),
	}, nil
}

// Result is what a completed request reports. Message is empty exactly
// when the request succeeded.
type Result struct {
	Data    *model.ObjectTO
	Message string
	Err     error
}

// Success reports whether the request succeeded.
func (r Result) Success() bool {
	return r.Message == ""
}

// Callback receives the result of a request.
type Callback func(Result)

// Plan returns the decision Copy would make for src and dst, including the
// capability check.
func (o *Orchestrator) Plan(src, dst *model.DataObject) Decision {
	d := Route(src, dst)
	if d.Supported() && o.resolver.CanHandle(src, dst) == model.CannotHandle {
		return unsupported(msgNotSupported)
	}
	return d
}

// Copy moves src to dst. cb is called exactly once. The returned error is
// nil unless cb is nil, an argument is missing or the pair is unsupported;
// in the last two cases cb has already received the failure.
func (o *Orchestrator) Copy(ctx context.Context, src, dst *model.DataObject, destHost *model.Host, cb Callback) error {
	if cb == nil {
		return errclass.ErrPrecondition.WithMessage("copy requires a completion callback")
	}
	if src == nil || dst == nil {
		err := fail(errclass.ErrPrecondition, "copy requires a source and a destination object")
		cb(Result{Message: reason(err), Err: err})
		return err
	}

	d := o.Plan(src, dst)
	op := o.begin(ctx, d.Scenario, model.EventTypeCopy, src.Key(), dst.Key())
	if destHost != nil {
		op.log = op.log.WithFields(map[string]any{"dest_host": destHost.ID})
	}

	if !d.Supported() {
		err := fail(errclass.ErrUnsupported, "%s", d.Reason)
		op.log.Warn(d.Reason)
		op.complete(cb, nil, err)
		return err
	}

	to, err := op.run(func() (*model.ObjectTO, error) {
		return o.dispatch(op, d.Scenario, src, dst)
	})
	op.complete(cb, to, err)
	return nil
}

func (o *Orchestrator) dispatch(op *operation, s Scenario, src, dst *model.DataObject) (*model.ObjectTO, error) {
	switch s {
	case SnapshotToSecondary:
		return o.snapshotToSecondary(op, src, dst)
	case SnapshotOnSecondaryToVolume:
		return o.snapshotOnSecondaryToVolume(op, src, dst)
	case SnapshotToVolume:
		return o.snapshotToVolume(op, src, dst)
	case TemplateToVolume:
		return o.templateToVolume(op, src, dst)
	case ManagedVolumeToSecondary:
		return o.managedVolumeToSecondary(op, src, dst)
	case ManagedToUnmanaged:
		return o.managedToUnmanaged(op, src, dst)
	case UnmanagedToManaged:
		return o.unmanagedToManaged(op, src, dst)
	case UploadToPrimary:
		return o.uploadToPrimary(op, src, dst)
	case VolumeToTemplate:
		return o.volumeToTemplate(op, src, dst)
	}
	return nil, fail(errclass.ErrUnsupported, "%s", msgNotSupported)
}
