package motion

import (
	"context"

	"go.uber.org/multierr"

	"github.com/jvs-project/motion/internal/lifecycle"
	"github.com/jvs-project/motion/pkg/model"
)

// Rollback phases, in the order they run.
const (
	phaseUndo       = "undo"
	phaseRevoke     = "revoke"
	phaseDisconnect = "disconnect"
	phaseState      = "state"
	phaseDestroy    = "destroy"
)

// rollback reverses what the operation did. Errors met on the way are
// logged and counted; cause stays the reported error.
func (op *operation) rollback(cause error) {
	// Compensation runs even when the caller has given up on the request.
	op.ctx = context.WithoutCancel(op.ctx)

	var errs error
	step := func(phase string, err error) {
		if err == nil {
			return
		}
		if op.o.metrics != nil {
			op.o.metrics.RecordRollbackError(phase)
		}
		op.log.Warn("rollback step failed", map[string]any{"phase": phase, "error": err.Error()})
		errs = multierr.Append(errs, err)
	}

	for _, u := range op.undos {
		step(u.phase, u.fn())
	}

	for i := len(op.grants) - 1; i >= 0; i-- {
		step(phaseRevoke, op.revoke(op.grants[i]))
	}

	for i := len(op.conns) - 1; i >= 0; i-- {
		c := op.conns[i]
		if c.done {
			continue
		}
		step(phaseDisconnect, op.disconnect(c))
	}

	for _, obj := range op.touched {
		if lifecycle.Can(obj, lifecycle.OperationFailed) {
			step(phaseState, op.o.machine.Fire(obj, lifecycle.OperationFailed))
		}
	}

	for _, vol := range op.scaffold {
		step(phaseDestroy, op.destroy(vol))
	}

	op.undos, op.touched, op.scaffold = nil, nil, nil
	if errs != nil {
		op.log.Warn("rollback finished with errors", map[string]any{
			"cause":  reason(cause),
			"errors": len(multierr.Errors(errs)),
		})
	}
}

// destroy walks vol through Destroy to Expunged, deleting it on its store.
func (op *operation) destroy(vol *model.DataObject) error {
	if vol.State == model.StateExpunged {
		return nil
	}
	if lifecycle.Can(vol, lifecycle.DestroyRequested) {
		if err := op.o.volumes.DestroyVolume(vol); err != nil {
			return err
		}
	}
	return op.o.volumes.ExpungeVolume(op.ctx, vol)
}
