package daytime

import (
	"testing"
	"time"

	"github.com/masontrang-dev/solar-charger/internal/config"

	"github.com/stretchr/testify/require"
)

func TestDisabledProviderIsAlwaysActive(t *testing.T) {
	p := NewProvider(config.DaytimeConfig{Enable: false})

	midnight := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	require.True(t, p.IsActiveWindow(midnight))
}

func TestWindowFollowsSunriseAndSunset(t *testing.T) {
	require := require.New(t)
	// Madrid in June: sunrise around 04:45 UTC, sunset around 19:48 UTC
	p := NewProvider(config.DaytimeConfig{
		Enable:    true,
		Latitude:  40.4168,
		Longitude: -3.7038,
	})

	noon := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	require.True(p.IsActiveWindow(noon))

	night := time.Date(2026, 6, 15, 2, 0, 0, 0, time.UTC)
	require.False(p.IsActiveWindow(night))

	lateEvening := time.Date(2026, 6, 15, 22, 0, 0, 0, time.UTC)
	require.False(p.IsActiveWindow(lateEvening))
}

func TestOffsetsWidenTheWindow(t *testing.T) {
	require := require.New(t)
	base := config.DaytimeConfig{
		Enable:    true,
		Latitude:  40.4168,
		Longitude: -3.7038,
	}

	// just before astronomical sunrise
	early := time.Date(2026, 6, 15, 4, 30, 0, 0, time.UTC)
	require.False(NewProvider(base).IsActiveWindow(early))

	widened := base
	widened.SunriseOffsetMin = -60
	require.True(NewProvider(widened).IsActiveWindow(early))
}
