package service

import (
	"testing"
	"time"

	"github.com/masontrang-dev/solar-charger/internal/core/domain"

	"github.com/stretchr/testify/require"
)

func TestCacheColdUntilBothKindsFilled(t *testing.T) {
	require := require.New(t)
	c := NewSnapshotCache(2*time.Minute, 10*time.Minute)
	now := time.Now()

	require.True(c.Cold())

	c.PutProduction(domain.ProductionSnapshot{ProductionWatts: 1000}, now)
	require.True(c.Cold())

	c.PutVehicle(domain.VehicleSnapshot{SOC: 50}, now)
	require.False(c.Cold())
}

func TestCacheStalenessByKind(t *testing.T) {
	require := require.New(t)
	c := NewSnapshotCache(2*time.Minute, 10*time.Minute)
	at := time.Now()

	c.PutProduction(domain.ProductionSnapshot{ProductionWatts: 1000}, at)
	c.PutVehicle(domain.VehicleSnapshot{SOC: 50}, at)

	// five minutes later production is stale, vehicle state is not
	later := at.Add(5 * time.Minute)
	prod, prodStale := c.Production(later)
	require.NotNil(prod)
	require.True(prodStale)

	veh, vehStale := c.Vehicle(later)
	require.NotNil(veh)
	require.False(vehStale)

	muchLater := at.Add(15 * time.Minute)
	_, vehStale = c.Vehicle(muchLater)
	require.True(vehStale)
}

func TestCacheReplacesWholesale(t *testing.T) {
	require := require.New(t)
	c := NewSnapshotCache(2*time.Minute, 10*time.Minute)
	at := time.Now()

	c.PutProduction(domain.ProductionSnapshot{ProductionWatts: 1000, ExportWatts: 800, HasExport: true}, at)
	refresh := at.Add(30 * time.Second)
	c.PutProduction(domain.ProductionSnapshot{ProductionWatts: 2000}, refresh)

	entry, stale := c.Production(refresh)
	require.False(stale)
	require.Equal(refresh, entry.CapturedAt)
	require.EqualValues(2000, entry.Snapshot.ProductionWatts)
	// the replacement carries no export; the old flag must not leak through
	require.False(entry.Snapshot.HasExport)
}
