package daytime

import (
	"time"

	"github.com/masontrang-dev/solar-charger/internal/config"
	"github.com/masontrang-dev/solar-charger/internal/core/port"

	"github.com/nathan-osman/go-sunrise"
)

// Provider decides whether the scheduler is inside the solar window. Offsets
// widen or narrow the window around astronomical sunrise and sunset.
type Provider struct {
	enabled       bool
	latitude      float64
	longitude     float64
	sunriseOffset time.Duration
	sunsetOffset  time.Duration
}

func NewProvider(cfg config.DaytimeConfig) *Provider {
	return &Provider{
		enabled:       cfg.Enable,
		latitude:      cfg.Latitude,
		longitude:     cfg.Longitude,
		sunriseOffset: time.Duration(cfg.SunriseOffsetMin) * time.Minute,
		sunsetOffset:  time.Duration(cfg.SunsetOffsetMin) * time.Minute,
	}
}

func (p *Provider) IsActiveWindow(now time.Time) bool {
	if !p.enabled {
		return true
	}
	rise, set := sunrise.SunriseSunset(p.latitude, p.longitude,
		now.Year(), now.Month(), now.Day())
	if rise.IsZero() && set.IsZero() {
		// polar day or night; treat as active and let production decide
		return true
	}
	start := rise.Add(p.sunriseOffset)
	end := set.Add(p.sunsetOffset)
	return !now.Before(start) && now.Before(end)
}

var _ port.DaytimeProvider = (*Provider)(nil)
