package motion

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/jvs-project/motion/internal/lifecycle"
	"github.com/jvs-project/motion/pkg/config"
	"github.com/jvs-project/motion/pkg/errclass"
	"github.com/jvs-project/motion/pkg/logging"
	"github.com/jvs-project/motion/pkg/model"
	"github.com/jvs-project/motion/pkg/uuidutil"
)

// grant is host access handed out during an operation.
type grant struct {
	obj   *model.DataObject
	host  *model.Host
	store *model.DataStore
	done  bool
}

// conn is a host-to-target connection made during an operation.
type conn struct {
	host  *model.Host
	store *model.DataStore
	iqn   string
	done  bool
}

// undo is a compensating step run before the standard rollback phases.
type undo struct {
	phase string
	fn    func() error
}

// operation is the state of one request from dispatch to callback. It
// records everything rollback has to reverse.
type operation struct {
	o        *Orchestrator
	ctx      context.Context
	cfg      config.Config
	log      *logging.Logger
	id       string
	scenario Scenario
	event    model.AuditEventType
	srcKey   string
	dstKey   string
	start    time.Time

	undos    []undo
	grants   []*grant
	conns    []*conn
	touched  []*model.DataObject
	scaffold []*model.DataObject
	caches   []*model.DataObject
}

func (o *Orchestrator) begin(ctx context.Context, s Scenario, ev model.AuditEventType, srcKey, dstKey string) *operation {
	id := uuidutil.NewV4()
	return &operation{
		o:   o,
		ctx: ctx,
		cfg: o.config.Current(),
		log: o.log.WithFields(map[string]any{
			"operation_id": id,
			"scenario":     string(s),
			"src":          srcKey,
			"dst":          dstKey,
		}),
		id:       id,
		scenario: s,
		event:    ev,
		srcKey:   srcKey,
		dstKey:   dstKey,
		start:    time.Now(),
	}
}

// run calls fn, turning a panic into an internal failure.
func (op *operation) run(fn func() (*model.ObjectTO, error)) (to *model.ObjectTO, err error) {
	defer func() {
		if r := recover(); r != nil {
			op.log.Error("motion handler panicked", map[string]any{
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			})
			to, err = nil, fail(errclass.ErrInternal, "Unexpected failure during %s: %v", op.scenario, r)
		}
	}()
	return fn()
}

// complete settles or rolls back, drops cache objects, records the outcome
// and calls cb.
func (op *operation) complete(cb Callback, to *model.ObjectTO, err error) {
	if err == nil {
		if serr := op.settle(); serr != nil {
			to, err = nil, serr
		}
	}
	if err != nil {
		op.rollback(err)
	}
	op.dropCaches()

	res := Result{Data: to, Err: err}
	if err != nil {
		res.Data = nil
		res.Message = reason(err)
		op.log.Warn("motion operation failed", map[string]any{"error": res.Message, "code": code(err)})
	} else {
		op.log.Info("motion operation completed")
	}
	op.record(res)
	cb(res)
}

// settle ends the in-flight state of every touched object.
func (op *operation) settle() error {
	for _, obj := range op.touched {
		if !obj.Copying && !obj.State.Transient() {
			continue
		}
		if err := op.o.machine.Fire(obj, lifecycle.OperationSuccessed); err != nil {
			return err
		}
	}
	op.touched = nil
	op.scaffold = nil
	op.undos = nil
	return nil
}

func (op *operation) record(res Result) {
	elapsed := time.Since(op.start)
	if op.o.metrics != nil {
		op.o.metrics.RecordOperation(string(op.scenario), res.Success(), elapsed)
	}
	if op.o.auditor == nil {
		return
	}
	rec := &model.AuditRecord{
		EventType:  op.event,
		Scenario:   string(op.scenario),
		SourceKey:  op.srcKey,
		DestKey:    op.dstKey,
		Success:    res.Success(),
		Message:    res.Message,
		DurationMS: elapsed.Milliseconds(),
		Details:    map[string]any{"operation_id": op.id},
	}
	if res.Err != nil {
		rec.Details["error_code"] = code(res.Err)
	}
	if err := op.o.auditor.Append(rec); err != nil {
		op.log.Warn("audit append failed", map[string]any{"error": err.Error()})
	}
}

// fire applies ev to obj and remembers obj for settlement and rollback.
func (op *operation) fire(obj *model.DataObject, ev lifecycle.Event) error {
	if err := op.o.machine.Fire(obj, ev); err != nil {
		return err
	}
	op.touch(obj)
	return nil
}

func (op *operation) touch(obj *model.DataObject) {
	for _, t := range op.touched {
		if t == obj {
			return
		}
	}
	op.touched = append(op.touched, obj)
}

// scaffolding marks vol as created by this operation.
func (op *operation) scaffolding(vol *model.DataObject) {
	for _, v := range op.scaffold {
		if v == vol {
			return
		}
	}
	op.scaffold = append(op.scaffold, vol)
}

// onRollback registers fn to run first if the operation fails.
func (op *operation) onRollback(phase string, fn func() error) {
	op.undos = append(op.undos, undo{phase: phase, fn: fn})
}

// grant gives host access to obj on store and records the grant.
func (op *operation) grant(obj *model.DataObject, host *model.Host, store *model.DataStore) (*grant, error) {
	if host == nil {
		return nil, fail(errclass.ErrAgentUnavailable, "No host available to access %s", obj)
	}
	if err := op.o.volumes.GrantAccess(op.ctx, obj, host, store); err != nil {
		return nil, err
	}
	g := &grant{obj: obj, host: host, store: store}
	op.grants = append(op.grants, g)
	return g, nil
}

// revoke takes back g. A failed revoke stays on the ledger so rollback
// tries again.
func (op *operation) revoke(g *grant) error {
	if g == nil || g.done {
		return nil
	}
	if err := op.o.volumes.RevokeAccess(op.ctx, g.obj, g.host, g.store); err != nil {
		return err
	}
	g.done = true
	return nil
}

// release revokes g and only logs a failure. It suits deferred cleanup.
func (op *operation) release(g *grant) {
	if err := op.revoke(g); err != nil {
		op.log.Warn("revoke access failed", map[string]any{
			"object":  g.obj.Key(),
			"host_id": g.host.ID,
			"error":   err.Error(),
		})
	}
}

// releaseFor revokes every outstanding grant of obj to host.
func (op *operation) releaseFor(obj *model.DataObject, host *model.Host) {
	if host == nil {
		return
	}
	for _, g := range op.grants {
		if !g.done && g.obj == obj && g.host.ID == host.ID {
			op.release(g)
		}
	}
}

// stage remembers a cache object; every staged object is deleted before
// the callback fires.
func (op *operation) stage(obj *model.DataObject) {
	op.caches = append(op.caches, obj)
}

func (op *operation) dropCaches() {
	ctx := context.WithoutCancel(op.ctx)
	for _, c := range op.caches {
		if err := op.o.stager.Delete(ctx, c); err != nil {
			op.log.Warn("cache object delete failed", map[string]any{"cache": c.Key(), "error": err.Error()})
		}
	}
	op.caches = nil
}

// dropCache deletes one staged cache object ahead of completion.
func (op *operation) dropCache(obj *model.DataObject) {
	for i, c := range op.caches {
		if c == obj {
			op.caches = append(op.caches[:i], op.caches[i+1:]...)
			break
		}
	}
	if err := op.o.stager.Delete(context.WithoutCancel(op.ctx), obj); err != nil {
		op.log.Warn("cache object delete failed", map[string]any{"cache": obj.Key(), "error": err.Error()})
	}
}
