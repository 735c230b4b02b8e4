package motion

import (
	"strconv"

	"github.com/jvs-project/motion/internal/agent"
	"github.com/jvs-project/motion/pkg/errclass"
	"github.com/jvs-project/motion/pkg/model"
)

const lockPurposeResignature = "resignature"

// send delivers cmd to host. A nil host means no agent could be chosen.
func (op *operation) send(host *model.Host, cmd agent.Command) (*agent.Answer, error) {
	if host == nil {
		return nil, fail(errclass.ErrAgentUnavailable, "No host available to run the %s command", cmd.Kind())
	}
	return op.o.gateway.Send(op.ctx, host.ID, cmd)
}

// copyOn sends a Copy command and turns a negative answer into an error.
// A missing answer is returned as nil with no error.
func (op *operation) copyOn(host *model.Host, cmd *agent.CopyCommand) (*agent.Answer, error) {
	ans, err := op.send(host, cmd)
	if err != nil {
		return nil, err
	}
	if ans != nil && !ans.Result {
		return ans, answerError(ans.Details, "Copy command failed")
	}
	return ans, nil
}

func (op *operation) copyCommand(src, dst *model.ObjectTO) *agent.CopyCommand {
	return &agent.CopyCommand{
		Src:               src,
		Dst:               dst,
		WaitFor:           op.cfg.PrimaryStorageDownloadWait,
		ExecuteInSequence: op.cfg.ExecuteInSequence,
	}
}

// resignature gives obj a new storage identity through host while holding
// the lock of obj's store. Access granted for it is revoked afterwards
// unless keep is set and the command went through. A nil TO with a nil
// error means the agent gave no answer.
func (op *operation) resignature(obj *model.DataObject, host *model.Host, extra map[string]string, keep bool) (*model.ObjectTO, error) {
	o := op.o
	store := obj.Store
	if store == nil {
		return nil, fail(errclass.ErrPrecondition, "%s has no data store to resign on", obj)
	}

	var details map[string]string
	var err error
	if obj.IsSnapshot() {
		details, err = o.snapshotDetails(obj)
	} else {
		details, err = o.volumeDetails(obj)
	}
	if err != nil {
		return nil, err
	}
	if details == nil {
		details = make(map[string]string, len(extra))
	}
	for k, v := range extra {
		details[k] = v
	}

	rec, err := o.locks.Acquire(op.ctx, store.UUID, lockPurposeResignature, op.cfg.LockWait)
	if err != nil {
		return nil, wrap(err, "Unable to lock storage %s for a resignature operation", store.UUID)
	}

	ans, g, err := func() (*agent.Answer, *grant, error) {
		defer func() {
			if rerr := o.locks.Release(rec); rerr != nil {
				op.log.Warn("resignature lock release failed", map[string]any{"lock": store.UUID, "error": rerr.Error()})
			}
		}()
		g, err := op.grant(obj, host, store)
		if err != nil {
			return nil, nil, err
		}
		if err := o.locks.ValidateFencing(rec.Name, rec.FencingToken); err != nil {
			return nil, g, err
		}
		ans, err := op.send(host, &agent.ResignatureCommand{Details: details})
		return ans, g, err
	}()
	if err != nil || !keep {
		op.release(g)
	}
	if err != nil {
		return nil, wrap(err, "Failed to resign the data object with ID %d", obj.ID)
	}

	if ans == nil {
		return nil, nil
	}
	if !ans.Result {
		return nil, answerError(ans.Details, "Unable to perform resignature operation")
	}
	to := obj.TO()
	to.Path, to.Size, to.Format = ans.Path, ans.Size, ans.Format
	return to, nil
}

func (op *operation) modifyTargets(host *model.Host, store *model.DataStore, iqn string, add bool) ([]string, error) {
	cmd := &agent.ModifyTargetsCommand{
		Targets: []map[string]string{{
			agent.TargetIQN:         iqn,
			agent.TargetStorageType: store.PoolType,
			agent.TargetStorageUUID: store.UUID,
			agent.TargetStorageHost: store.HostAddress,
			agent.TargetStoragePort: strconv.Itoa(store.Port),
		}},
		Add:                      add,
		ApplyToAllHostsInCluster: true,
		TargetTypeToRemove:       agent.TargetTypeDynamic,
	}
	ans, err := op.send(host, cmd)
	if err != nil {
		return nil, err
	}
	if ans == nil {
		return nil, fail(errclass.ErrScenarioFailed, "Unable to get an answer to the modify targets command")
	}
	if !ans.Result {
		return nil, fail(errclass.ErrScenarioFailed, "Unable to modify targets on the following host: %d", host.ID)
	}
	return ans.ConnectedPaths, nil
}

// connect attaches host to the iqn target of store and returns the local
// device path. The connection is undone on rollback.
func (op *operation) connect(host *model.Host, store *model.DataStore, iqn string) (string, error) {
	paths, err := op.modifyTargets(host, store, iqn, true)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", fail(errclass.ErrScenarioFailed, "No connected path reported by host %d for %s", host.ID, iqn)
	}
	op.conns = append(op.conns, &conn{host: host, store: store, iqn: iqn})
	return paths[0], nil
}

func (op *operation) disconnect(c *conn) error {
	if _, err := op.modifyTargets(c.host, c.store, c.iqn, false); err != nil {
		return err
	}
	c.done = true
	return nil
}

// dropTarget removes a target the agent connected on its own, logging a
// failure.
func (op *operation) dropTarget(host *model.Host, store *model.DataStore, iqn string) {
	if _, err := op.modifyTargets(host, store, iqn, false); err != nil {
		op.log.Warn("disconnect target failed", map[string]any{"iqn": iqn, "error": reason(err)})
	}
}
