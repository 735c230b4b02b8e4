package agent

import (
	"sync"

	"github.com/jvs-project/motion/pkg/model"
)

// Selector picks a host able to move data between two secondary-tier
// objects, such as a storage VM that mounts both stores.
type Selector interface {
	Select(src, dst *model.DataObject) (hostID int64, ok bool)
}

// ZoneSelector picks the relay host registered for the destination's zone.
type ZoneSelector struct {
	mu    sync.RWMutex
	zones map[int64]int64
}

// NewZoneSelector returns an empty selector.
func NewZoneSelector() *ZoneSelector {
	return &ZoneSelector{zones: make(map[int64]int64)}
}

// Set registers hostID as the relay endpoint of zoneID.
func (s *ZoneSelector) Set(zoneID, hostID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zones[zoneID] = hostID
}

func (s *ZoneSelector) Select(src, dst *model.DataObject) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range []*model.DataObject{dst, src} {
		if o == nil {
			continue
		}
		zone := o.ZoneID
		if zone == 0 && o.Store != nil {
			zone = o.Store.ZoneID
		}
		if id, ok := s.zones[zone]; ok {
			return id, true
		}
	}
	return 0, false
}
