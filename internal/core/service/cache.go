package service

import (
	"sync"
	"time"

	"github.com/masontrang-dev/solar-charger/internal/core/domain"
)

// SnapshotCache holds the most recent normalized readings. Entries are
// replaced wholesale on refresh and age is always derived from the capture
// time, never stored. Production goes stale faster than vehicle state, so the
// two kinds carry distinct staleness ceilings.
type SnapshotCache struct {
	mu            sync.RWMutex
	production    *domain.ProductionEntry
	vehicle       *domain.VehicleEntry
	productionTTL time.Duration
	vehicleTTL    time.Duration
}

func NewSnapshotCache(productionTTL, vehicleTTL time.Duration) *SnapshotCache {
	return &SnapshotCache{
		productionTTL: productionTTL,
		vehicleTTL:    vehicleTTL,
	}
}

func (c *SnapshotCache) PutProduction(s domain.ProductionSnapshot, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.production = &domain.ProductionEntry{Snapshot: s, CapturedAt: now}
}

func (c *SnapshotCache) PutVehicle(s domain.VehicleSnapshot, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vehicle = &domain.VehicleEntry{Snapshot: s, CapturedAt: now}
}

// Production returns the cached entry, or nil when cold, plus a stale flag.
// Stale entries are still usable; callers decide how conservatively to treat
// them.
func (c *SnapshotCache) Production(now time.Time) (*domain.ProductionEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.production == nil {
		return nil, false
	}
	entry := *c.production
	return &entry, entry.Age(now) > c.productionTTL
}

func (c *SnapshotCache) Vehicle(now time.Time) (*domain.VehicleEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vehicle == nil {
		return nil, false
	}
	entry := *c.vehicle
	return &entry, entry.Age(now) > c.vehicleTTL
}

// Cold reports whether either kind has never been filled. The poll planner
// forces a live poll on a cold cache so the system boots on fresh data.
func (c *SnapshotCache) Cold() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.production == nil || c.vehicle == nil
}
