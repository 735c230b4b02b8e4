package lifecycle_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvs-project/motion/internal/lifecycle"
	"github.com/jvs-project/motion/pkg/errclass"
	"github.com/jvs-project/motion/pkg/model"
)

type memWriter struct {
	saved []model.ObjectState
	err   error
}

func (w *memWriter) Update(obj *model.DataObject) error {
	if w.err != nil {
		return w.err
	}
	w.saved = append(w.saved, obj.State)
	return nil
}

func st(s model.ObjectState) lifecycle.Status { return lifecycle.Status{State: s} }

func TestNext_Table(t *testing.T) {
	copying := lifecycle.Status{State: model.StateReady, Copying: true}

	tests := []struct {
		name string
		from lifecycle.Status
		ev   lifecycle.Event
		want lifecycle.Status
	}{
		{"create", st(model.StateAllocated), lifecycle.CreateOnlyRequested, st(model.StateCreating)},
		{"migration copy", st(model.StateAllocated), lifecycle.MigrationCopyRequested, st(model.StateCreating)},
		{"created", st(model.StateCreating), lifecycle.OperationSuccessed, st(model.StateReady)},
		{"migration copied", st(model.StateCreating), lifecycle.MigrationCopySucceeded, st(model.StateReady)},
		{"create failed", st(model.StateCreating), lifecycle.OperationFailed, st(model.StateAllocated)},
		{"copy start", st(model.StateReady), lifecycle.CopyingRequested, copying},
		{"copy done", copying, lifecycle.OperationSuccessed, st(model.StateReady)},
		{"copy failed", copying, lifecycle.OperationFailed, st(model.StateReady)},
		{"migrate", st(model.StateReady), lifecycle.MigrationRequested, st(model.StateMigrating)},
		{"migrate uploaded", st(model.StateUploaded), lifecycle.MigrationRequested, st(model.StateMigrating)},
		{"migrated", st(model.StateMigrating), lifecycle.OperationSuccessed, st(model.StateReady)},
		{"migrate failed", st(model.StateMigrating), lifecycle.OperationFailed, st(model.StateReady)},
		{"destroy ready", st(model.StateReady), lifecycle.DestroyRequested, st(model.StateDestroy)},
		{"destroy creating", st(model.StateCreating), lifecycle.DestroyRequested, st(model.StateDestroy)},
		{"expunge", st(model.StateDestroy), lifecycle.ExpungeRequested, st(model.StateExpunged)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := lifecycle.Next(tt.from, tt.ev)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNext_Invalid(t *testing.T) {
	copying := lifecycle.Status{State: model.StateReady, Copying: true}

	tests := []struct {
		name string
		from lifecycle.Status
		ev   lifecycle.Event
	}{
		{"ready success", st(model.StateReady), lifecycle.OperationSuccessed},
		{"ready failed", st(model.StateReady), lifecycle.OperationFailed},
		{"copying twice", copying, lifecycle.CopyingRequested},
		{"migrate while copying", copying, lifecycle.MigrationRequested},
		{"allocated migrate", st(model.StateAllocated), lifecycle.MigrationRequested},
		{"migrating twice", st(model.StateMigrating), lifecycle.MigrationRequested},
		{"destroy twice", st(model.StateDestroy), lifecycle.DestroyRequested},
		{"expunge ready", st(model.StateReady), lifecycle.ExpungeRequested},
		{"expunged destroy", st(model.StateExpunged), lifecycle.DestroyRequested},
		{"uploaded copy", st(model.StateUploaded), lifecycle.CopyingRequested},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := lifecycle.Next(tt.from, tt.ev)
			require.ErrorIs(t, err, errclass.ErrInvalidTransition)
			assert.Equal(t, tt.from, got)
		})
	}
}

func TestMachine_Fire_Persists(t *testing.T) {
	w := &memWriter{}
	m := lifecycle.New(w)
	obj := &model.DataObject{Kind: model.KindVolume, ID: 1, State: model.StateAllocated}

	require.NoError(t, m.Fire(obj, lifecycle.CreateOnlyRequested))
	require.NoError(t, m.Fire(obj, lifecycle.OperationSuccessed))

	assert.Equal(t, model.StateReady, obj.State)
	assert.Equal(t, []model.ObjectState{model.StateCreating, model.StateReady}, w.saved)
}

func TestMachine_Fire_InvalidLeavesObject(t *testing.T) {
	w := &memWriter{}
	m := lifecycle.New(w)
	obj := &model.DataObject{Kind: model.KindSnapshot, ID: 2, State: model.StateReady}

	err := m.Fire(obj, lifecycle.OperationFailed)
	require.ErrorIs(t, err, errclass.ErrInvalidTransition)
	assert.Equal(t, model.StateReady, obj.State)
	assert.Empty(t, w.saved)
}

func TestMachine_Fire_WriteFailureRestores(t *testing.T) {
	w := &memWriter{err: errors.New("disk full")}
	m := lifecycle.New(w)
	obj := &model.DataObject{Kind: model.KindSnapshot, ID: 3, State: model.StateReady}

	err := m.Fire(obj, lifecycle.CopyingRequested)
	require.Error(t, err)
	assert.Equal(t, model.StateReady, obj.State)
	assert.False(t, obj.Copying)
}

func TestCan(t *testing.T) {
	obj := &model.DataObject{State: model.StateMigrating}
	assert.True(t, lifecycle.Can(obj, lifecycle.OperationFailed))
	assert.False(t, lifecycle.Can(obj, lifecycle.CopyingRequested))
}
