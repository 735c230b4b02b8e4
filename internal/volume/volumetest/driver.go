// Package volumetest provides an in-memory backend driver for tests.
package volumetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jvs-project/motion/internal/volume"
	"github.com/jvs-project/motion/pkg/model"
)

// Call is one recorded driver call.
type Call struct {
	Op      string
	Object  string
	HostID  int64
	StoreID int64
	Details map[string]string
}

// Driver records every call and keeps the set of objects it created and
// the grants it currently holds.
type Driver struct {
	mu      sync.Mutex
	calls   []Call
	created map[string]bool
	grants  map[string]bool

	// Caps is returned from Capabilities.
	Caps model.CapabilityMap
	// Chap, when set, is returned from ChapInfo.
	Chap *model.ChapInfo
	// CreateDelay makes Create block, honouring ctx.
	CreateDelay time.Duration

	// Fail maps an operation name (Grant, Revoke, Create, Delete, Chap)
	// to the error it returns.
	Fail map[string]error
}

var _ volume.Driver = (*Driver)(nil)

// New returns a driver that succeeds at everything.
func New() *Driver {
	return &Driver{
		created: make(map[string]bool),
		grants:  make(map[string]bool),
		Fail:    make(map[string]error),
	}
}

func grantKey(obj *model.DataObject, host *model.Host) string {
	return fmt.Sprintf("%s@%d", obj.Key(), host.ID)
}

func (d *Driver) record(op string, obj *model.DataObject, host *model.Host, store *model.DataStore, details map[string]string) error {
	c := Call{Op: op, Object: obj.Key()}
	if host != nil {
		c.HostID = host.ID
	}
	if store != nil {
		c.StoreID = store.ID
	}
	if details != nil {
		c.Details = make(map[string]string, len(details))
		for k, v := range details {
			c.Details[k] = v
		}
	}
	d.calls = append(d.calls, c)
	return d.Fail[op]
}

func (d *Driver) Capabilities(*model.DataStore) model.CapabilityMap {
	return d.Caps
}

func (d *Driver) GrantAccess(_ context.Context, obj *model.DataObject, host *model.Host, store *model.DataStore) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("Grant", obj, host, store, nil); err != nil {
		return err
	}
	d.grants[grantKey(obj, host)] = true
	return nil
}

func (d *Driver) RevokeAccess(_ context.Context, obj *model.DataObject, host *model.Host, store *model.DataStore) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("Revoke", obj, host, store, nil); err != nil {
		return err
	}
	delete(d.grants, grantKey(obj, host))
	return nil
}

func (d *Driver) Create(ctx context.Context, obj *model.DataObject, store *model.DataStore, details map[string]string) (*volume.Created, error) {
	if d.CreateDelay > 0 {
		select {
		case <-time.After(d.CreateDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("Create", obj, nil, store, details); err != nil {
		return nil, err
	}
	if details[volume.DetailTempVolume] == volume.TempVolumeDelete {
		delete(d.created, obj.Key()+"/temp")
		return &volume.Created{}, nil
	}
	key := obj.Key()
	if details[volume.DetailTempVolume] == volume.TempVolumeCreate {
		key += "/temp"
	}
	d.created[key] = true
	iqn := fmt.Sprintf("iqn.2010-01.test:%s-%d", obj.Kind, obj.ID)
	return &volume.Created{Path: iqn, IScsiName: iqn, Size: obj.Size}, nil
}

func (d *Driver) Delete(_ context.Context, obj *model.DataObject, store *model.DataStore) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.record("Delete", obj, nil, store, nil); err != nil {
		return err
	}
	delete(d.created, obj.Key())
	return nil
}

func (d *Driver) ChapInfo(obj *model.DataObject, host *model.Host) (*model.ChapInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.Fail["Chap"]; err != nil {
		return nil, err
	}
	return d.Chap, nil
}

// Calls returns a copy of the recorded calls.
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Ops returns "Op object" strings for the recorded calls.
func (d *Driver) Ops() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.calls))
	for _, c := range d.calls {
		out = append(out, c.Op+" "+c.Object)
	}
	return out
}

// Count returns how many times op was called.
func (d *Driver) Count(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Exists reports whether key (as DataObject.Key) was created and not
// deleted.
func (d *Driver) Exists(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.created[key]
}

// Granted reports whether obj is currently granted to hostID.
func (d *Driver) Granted(key string, hostID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.grants[fmt.Sprintf("%s@%d", key, hostID)]
}

// OpenGrants returns the number of grants not yet revoked.
func (d *Driver) OpenGrants() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.grants)
}
