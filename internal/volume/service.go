// Package volume is the control plane's view of backend storage drivers:
// access control, creation and deletion of volumes on a store, and the
// volume-side lifecycle steps that go with them.
package volume

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jvs-project/motion/internal/lifecycle"
	"github.com/jvs-project/motion/pkg/errclass"
	"github.com/jvs-project/motion/pkg/logging"
	"github.com/jvs-project/motion/pkg/model"
)

// Detail names a driver reads from the object's detail map when creating.
const (
	DetailTempVolume      = "tempVolume"
	DetailCloneOfTemplate = "cloneOfTemplate"
	DetailCloneOfSnapshot = "cloneOfSnapshot"

	TempVolumeCreate = "create"
	TempVolumeDelete = "delete"
)

// Created is what a driver reports after creating an object on a store.
type Created struct {
	Path      string
	IScsiName string
	Size      int64
}

// Driver is the backend of one storage provider.
type Driver interface {
	// Capabilities returns the features the backend advertises.
	Capabilities(store *model.DataStore) model.CapabilityMap
	GrantAccess(ctx context.Context, obj *model.DataObject, host *model.Host, store *model.DataStore) error
	RevokeAccess(ctx context.Context, obj *model.DataObject, host *model.Host, store *model.DataStore) error
	// Create materializes obj on store. details are the object's detail
	// map and steer clone and temp-volume behaviour.
	Create(ctx context.Context, obj *model.DataObject, store *model.DataStore, details map[string]string) (*Created, error)
	// Delete removes obj from store. A missing object is reported with
	// errclass.ErrNotFound.
	Delete(ctx context.Context, obj *model.DataObject, store *model.DataStore) error
	// ChapInfo returns CHAP credentials for host to reach obj, or nil.
	ChapInfo(obj *model.DataObject, host *model.Host) (*model.ChapInfo, error)
}

// Records is the persistence the service needs.
type Records interface {
	lifecycle.Writer
	VolumeDetails(volumeID int64) (map[string]string, error)
	SnapshotDetails(snapshotID int64) (map[string]string, error)
}

// Service routes volume operations to the driver of each store's provider.
type Service struct {
	records Records
	machine *lifecycle.Machine
	log     *logging.Logger

	mu       sync.RWMutex
	drivers  map[string]Driver
	reserves map[int64]int
}

// NewService creates a service. log may be nil.
func NewService(records Records, machine *lifecycle.Machine, log *logging.Logger) *Service {
	if log == nil {
		log = logging.Nop()
	}
	return &Service{
		records:  records,
		machine:  machine,
		log:      log,
		drivers:  make(map[string]Driver),
		reserves: make(map[int64]int),
	}
}

// Register installs d as the driver of provider.
func (s *Service) Register(provider string, d Driver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drivers[provider] = d
}

// SetOfferingReserve records the hypervisor snapshot reserve, in percent,
// of a disk offering.
func (s *Service) SetOfferingReserve(offeringID int64, percent int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserves[offeringID] = percent
}

func (s *Service) driver(store *model.DataStore) (Driver, error) {
	if store == nil {
		return nil, errclass.ErrPrecondition.WithMessage("object has no resolved store")
	}
	s.mu.RLock()
	d, ok := s.drivers[store.Provider]
	s.mu.RUnlock()
	if !ok {
		return nil, errclass.ErrBackend.WithMessagef("no driver for provider %q of store %d", store.Provider, store.ID)
	}
	return d, nil
}

// Capabilities returns the store's advertised features, asking the driver
// when the store record carries none.
func (s *Service) Capabilities(store *model.DataStore) model.CapabilityMap {
	if store == nil {
		return nil
	}
	if store.Capabilities != nil {
		return store.Capabilities
	}
	d, err := s.driver(store)
	if err != nil {
		return nil
	}
	return d.Capabilities(store)
}

// GrantAccess lets host reach obj on store.
func (s *Service) GrantAccess(ctx context.Context, obj *model.DataObject, host *model.Host, store *model.DataStore) error {
	d, err := s.driver(store)
	if err != nil {
		return err
	}
	if err := d.GrantAccess(ctx, obj, host, store); err != nil {
		return fmt.Errorf("grant %s to host %d: %w", obj, host.ID, err)
	}
	return nil
}

// RevokeAccess undoes GrantAccess.
func (s *Service) RevokeAccess(ctx context.Context, obj *model.DataObject, host *model.Host, store *model.DataStore) error {
	d, err := s.driver(store)
	if err != nil {
		return err
	}
	if err := d.RevokeAccess(ctx, obj, host, store); err != nil {
		return fmt.Errorf("revoke %s from host %d: %w", obj, host.ID, err)
	}
	return nil
}

func (s *Service) details(obj *model.DataObject) (map[string]string, error) {
	switch obj.Kind {
	case model.KindVolume:
		return s.records.VolumeDetails(obj.ID)
	case model.KindSnapshot:
		return s.records.SnapshotDetails(obj.ID)
	}
	return map[string]string{}, nil
}

// CreateOnStore asks the store's driver to create obj without touching its
// lifecycle state. Volumes get the reported path, target name and size
// persisted.
func (s *Service) CreateOnStore(ctx context.Context, obj *model.DataObject, store *model.DataStore) (*Created, error) {
	d, err := s.driver(store)
	if err != nil {
		return nil, err
	}
	details, err := s.details(obj)
	if err != nil {
		return nil, err
	}
	created, err := d.Create(ctx, obj, store, details)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errclass.ErrOperationTimedOut.WithMessagef("create %s on store %d: %v", obj, store.ID, err)
		}
		return nil, errclass.ErrBackend.WithMessagef("create %s on store %d: %v", obj, store.ID, err)
	}
	if created == nil {
		created = &Created{}
	}
	if obj.IsVolume() {
		obj.StoreID = store.ID
		obj.Store = store
		obj.Volume.PoolID = store.ID
		if created.IScsiName != "" {
			obj.Volume.IScsiName = created.IScsiName
		}
		if created.Path != "" {
			obj.Path = created.Path
		}
		if created.Size > 0 {
			obj.Size = created.Size
		}
		if err := s.records.Update(obj); err != nil {
			return nil, err
		}
	}
	return created, nil
}

// CreateVolume creates vol on store and walks it through
// Allocated, Creating and Ready. The driver gets at most wait.
func (s *Service) CreateVolume(ctx context.Context, vol *model.DataObject, store *model.DataStore, wait time.Duration) error {
	if err := s.machine.Fire(vol, lifecycle.CreateOnlyRequested); err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	if _, err := s.CreateOnStore(cctx, vol, store); err != nil {
		if ferr := s.machine.Fire(vol, lifecycle.OperationFailed); ferr != nil {
			s.log.Warn("volume left in creating state", map[string]any{"volume": vol.ID, "error": ferr.Error()})
		}
		return err
	}
	return s.machine.Fire(vol, lifecycle.OperationSuccessed)
}

// DeleteOnStore removes obj from store through its driver. An object the
// driver no longer has counts as deleted.
func (s *Service) DeleteOnStore(ctx context.Context, obj *model.DataObject, store *model.DataStore) error {
	d, err := s.driver(store)
	if err != nil {
		return err
	}
	if err := d.Delete(ctx, obj, store); err != nil {
		if errors.Is(err, errclass.ErrNotFound) {
			return nil
		}
		return errclass.ErrBackend.WithMessagef("delete %s on store %d: %v", obj, store.ID, err)
	}
	return nil
}

// DestroyVolume marks vol for removal.
func (s *Service) DestroyVolume(vol *model.DataObject) error {
	return s.machine.Fire(vol, lifecycle.DestroyRequested)
}

// ExpungeVolume deletes a destroyed volume's bits and marks it expunged.
func (s *Service) ExpungeVolume(ctx context.Context, vol *model.DataObject) error {
	if vol.Store != nil {
		if err := s.DeleteOnStore(ctx, vol, vol.Store); err != nil {
			return err
		}
	}
	return s.machine.Fire(vol, lifecycle.ExpungeRequested)
}

// ChapInfo returns CHAP credentials for host to reach obj, or nil when the
// backend does not use CHAP.
func (s *Service) ChapInfo(obj *model.DataObject, host *model.Host) (*model.ChapInfo, error) {
	d, err := s.driver(obj.Store)
	if err != nil {
		return nil, err
	}
	return d.ChapInfo(obj, host)
}

// UpdateHypervisorSnapshotReserve copies the reserve of vol's disk offering
// onto vol when the offering defines one.
func (s *Service) UpdateHypervisorSnapshotReserve(vol *model.DataObject) error {
	if !vol.IsVolume() || vol.Volume == nil {
		return nil
	}
	s.mu.RLock()
	pct, ok := s.reserves[vol.Volume.DiskOfferingID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	vol.Volume.HypervisorSnapshotReserve = &pct
	return s.records.Update(vol)
}
