// Package lock provides named, in-process exclusive locks with bounded waits.
// Locks are keyed by a storage identity (typically a backend store UUID) and
// serialize operations that must not overlap on the same backend.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jvs-project/motion/pkg/errclass"
	"github.com/jvs-project/motion/pkg/metrics"
	"github.com/jvs-project/motion/pkg/model"
	"github.com/jvs-project/motion/pkg/uuidutil"
)

type entry struct {
	sem     *semaphore.Weighted
	holder  *model.LockRecord
	fencing int64
}

// Manager hands out named locks.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
	metrics *metrics.Registry
}

// NewManager creates a new lock manager. reg may be nil.
func NewManager(reg *metrics.Registry) *Manager {
	return &Manager{
		entries: make(map[string]*entry),
		metrics: reg,
	}
}

func (m *Manager) entry(name string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		m.entries[name] = e
	}
	return e
}

// Acquire blocks until the named lock is free or wait elapses. On timeout it
// returns ErrLockTimeout; if ctx itself ends first, ctx's error is returned.
func (m *Manager) Acquire(ctx context.Context, name, purpose string, wait time.Duration) (*model.LockRecord, error) {
	e := m.entry(name)
	start := time.Now()

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	if err := e.sem.Acquire(waitCtx, 1); err != nil {
		m.record(false, time.Since(start))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errclass.ErrLockTimeout.WithMessagef("lock %s not acquired within %s", name, wait)
		}
		return nil, err
	}
	m.record(true, time.Since(start))

	m.mu.Lock()
	defer m.mu.Unlock()
	e.fencing++
	rec := &model.LockRecord{
		Name:         name,
		HolderNonce:  uuidutil.NewV4(),
		AcquiredAt:   time.Now().UTC(),
		FencingToken: e.fencing,
		Purpose:      purpose,
	}
	e.holder = rec
	return rec, nil
}

// Release frees the lock held by rec. Releasing an already free lock is a
// no-op; releasing a lock held by someone else is ErrLockNotHeld.
func (m *Manager) Release(rec *model.LockRecord) error {
	if rec == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[rec.Name]
	if !ok || e.holder == nil {
		return nil // already released
	}
	if e.holder.HolderNonce != rec.HolderNonce {
		return errclass.ErrLockNotHeld.WithMessagef("cannot release %s: nonce mismatch", rec.Name)
	}
	e.holder = nil
	e.sem.Release(1)
	return nil
}

// ValidateFencing checks that token belongs to the current holder of name.
func (m *Manager) ValidateFencing(name string, token int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[name]
	if !ok || e.holder == nil {
		return errclass.ErrLockNotHeld.WithMessagef("no lock held on %s", name)
	}
	if e.holder.FencingToken != token {
		return errclass.ErrLockNotHeld.WithMessagef(
			"fencing mismatch on %s: expected token %d, got %d", name, e.holder.FencingToken, token)
	}
	return nil
}

// Status returns a copy of the current holder record, or nil when free.
func (m *Manager) Status(name string) *model.LockRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[name]
	if !ok || e.holder == nil {
		return nil
	}
	rec := *e.holder
	return &rec
}

func (m *Manager) record(acquired bool, d time.Duration) {
	if m.metrics != nil {
		m.metrics.RecordLockWait(acquired, d)
	}
}
