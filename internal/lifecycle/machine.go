// Package lifecycle owns the state transitions of volumes and snapshots.
// All state changes go through Fire so that the transition table is the
// only place that decides what is legal.
package lifecycle

import (
	"fmt"

	"github.com/jvs-project/motion/pkg/errclass"
	"github.com/jvs-project/motion/pkg/model"
)

// Event is an input to the state machine.
type Event string

const (
	CopyingRequested       Event = "CopyingRequested"
	CreateOnlyRequested    Event = "CreateOnlyRequested"
	MigrationRequested     Event = "MigrationRequested"
	MigrationCopyRequested Event = "MigrationCopyRequested"
	MigrationCopySucceeded Event = "MigrationCopySucceeded"
	OperationSuccessed     Event = "OperationSuccessed"
	OperationFailed        Event = "OperationFailed"
	DestroyRequested       Event = "DestroyRequested"
	ExpungeRequested       Event = "ExpungeRequested"
)

// Status is the part of an object the machine reads and writes.
type Status struct {
	State   model.ObjectState
	Copying bool
}

// Next returns the status after ev, or ErrInvalidTransition.
func Next(cur Status, ev Event) (Status, error) {
	switch ev {
	case DestroyRequested:
		if cur.State == model.StateDestroy || cur.State == model.StateExpunged {
			break
		}
		return Status{State: model.StateDestroy}, nil
	case ExpungeRequested:
		if cur.State == model.StateDestroy {
			return Status{State: model.StateExpunged}, nil
		}
	}

	switch cur.State {
	case model.StateAllocated:
		if ev == CreateOnlyRequested || ev == MigrationCopyRequested {
			return Status{State: model.StateCreating}, nil
		}
	case model.StateCreating:
		switch ev {
		case OperationSuccessed, MigrationCopySucceeded:
			return Status{State: model.StateReady}, nil
		case OperationFailed:
			return Status{State: model.StateAllocated}, nil
		}
	case model.StateReady:
		switch {
		case ev == CopyingRequested && !cur.Copying:
			return Status{State: model.StateReady, Copying: true}, nil
		case (ev == OperationSuccessed || ev == OperationFailed) && cur.Copying:
			return Status{State: model.StateReady}, nil
		case ev == MigrationRequested && !cur.Copying:
			return Status{State: model.StateMigrating}, nil
		}
	case model.StateUploaded:
		if ev == MigrationRequested {
			return Status{State: model.StateMigrating}, nil
		}
	case model.StateMigrating:
		if ev == OperationSuccessed || ev == OperationFailed {
			return Status{State: model.StateReady}, nil
		}
	}

	return cur, errclass.ErrInvalidTransition.WithMessagef("%s on %s", ev, describe(cur))
}

func describe(s Status) string {
	if s.Copying {
		return fmt.Sprintf("%s (copying)", s.State)
	}
	return string(s.State)
}

// Writer persists an object after its status changed.
type Writer interface {
	Update(obj *model.DataObject) error
}

// Machine applies events to objects and persists the result.
type Machine struct {
	w Writer
}

// New returns a Machine persisting through w.
func New(w Writer) *Machine {
	return &Machine{w: w}
}

// Fire applies ev to obj. On an invalid transition or a persistence failure
// obj is left unchanged.
func (m *Machine) Fire(obj *model.DataObject, ev Event) error {
	cur := Status{State: obj.State, Copying: obj.Copying}
	next, err := Next(cur, ev)
	if err != nil {
		return fmt.Errorf("%s: %w", obj, err)
	}

	obj.State, obj.Copying = next.State, next.Copying
	if err := m.w.Update(obj); err != nil {
		obj.State, obj.Copying = cur.State, cur.Copying
		return fmt.Errorf("persist %s after %s: %w", obj, ev, err)
	}
	return nil
}

// Can reports whether ev is legal for obj right now.
func Can(obj *model.DataObject, ev Event) bool {
	_, err := Next(Status{State: obj.State, Copying: obj.Copying}, ev)
	return err == nil
}
