package lock_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/jvs-project/motion/internal/lock"
	"github.com/jvs-project/motion/pkg/errclass"
	"github.com/jvs-project/motion/pkg/metrics"
)

func TestManager_Acquire(t *testing.T) {
	mgr := lock.NewManager(nil)

	rec, err := mgr.Acquire(context.Background(), "pool-uuid", "resign", time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.HolderNonce)
	assert.Equal(t, "pool-uuid", rec.Name)
	assert.Equal(t, "resign", rec.Purpose)
	assert.Equal(t, int64(1), rec.FencingToken)
}

func TestManager_Acquire_Timeout(t *testing.T) {
	mgr := lock.NewManager(metrics.NewRegistry("locktest"))
	ctx := context.Background()

	_, err := mgr.Acquire(ctx, "pool-uuid", "first", time.Second)
	require.NoError(t, err)

	start := time.Now()
	_, err = mgr.Acquire(ctx, "pool-uuid", "second", 50*time.Millisecond)
	require.ErrorIs(t, err, errclass.ErrLockTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestManager_Acquire_ContextCanceled(t *testing.T) {
	mgr := lock.NewManager(nil)
	_, err := mgr.Acquire(context.Background(), "pool-uuid", "first", time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = mgr.Acquire(ctx, "pool-uuid", "second", time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestManager_DifferentNamesIndependent(t *testing.T) {
	mgr := lock.NewManager(nil)
	ctx := context.Background()

	_, err := mgr.Acquire(ctx, "a", "x", time.Second)
	require.NoError(t, err)
	_, err = mgr.Acquire(ctx, "b", "x", 10*time.Millisecond)
	require.NoError(t, err)
}

func TestManager_Release(t *testing.T) {
	mgr := lock.NewManager(nil)
	ctx := context.Background()

	rec, err := mgr.Acquire(ctx, "pool-uuid", "first", time.Second)
	require.NoError(t, err)
	require.NoError(t, mgr.Release(rec))
	assert.Nil(t, mgr.Status("pool-uuid"))

	// Idempotent for the holder.
	require.NoError(t, mgr.Release(rec))

	rec2, err := mgr.Acquire(ctx, "pool-uuid", "second", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec2.FencingToken)
}

func TestManager_Release_WrongNonce(t *testing.T) {
	mgr := lock.NewManager(nil)
	ctx := context.Background()

	old, err := mgr.Acquire(ctx, "pool-uuid", "first", time.Second)
	require.NoError(t, err)
	require.NoError(t, mgr.Release(old))
	_, err = mgr.Acquire(ctx, "pool-uuid", "second", time.Second)
	require.NoError(t, err)

	err = mgr.Release(old)
	require.ErrorIs(t, err, errclass.ErrLockNotHeld)
}

func TestManager_ValidateFencing(t *testing.T) {
	mgr := lock.NewManager(nil)
	rec, err := mgr.Acquire(context.Background(), "pool-uuid", "x", time.Second)
	require.NoError(t, err)

	assert.NoError(t, mgr.ValidateFencing("pool-uuid", rec.FencingToken))
	assert.ErrorIs(t, mgr.ValidateFencing("pool-uuid", rec.FencingToken+1), errclass.ErrLockNotHeld)
	assert.ErrorIs(t, mgr.ValidateFencing("other", 1), errclass.ErrLockNotHeld)
}

func TestManager_Status(t *testing.T) {
	mgr := lock.NewManager(nil)
	assert.Nil(t, mgr.Status("pool-uuid"))

	rec, err := mgr.Acquire(context.Background(), "pool-uuid", "resign", time.Second)
	require.NoError(t, err)

	st := mgr.Status("pool-uuid")
	require.NotNil(t, st)
	assert.Equal(t, rec.HolderNonce, st.HolderNonce)
}

func TestManager_SerializesHolders(t *testing.T) {
	mgr := lock.NewManager(nil)
	var inside, maxInside int32

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			rec, err := mgr.Acquire(context.Background(), "pool-uuid", "worker", 5*time.Second)
			if err != nil {
				return err
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			return mgr.Release(rec)
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), maxInside)
}
