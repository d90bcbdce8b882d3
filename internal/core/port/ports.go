package port

import (
	"context"
	"time"

	"github.com/masontrang-dev/solar-charger/internal/core/domain"
)

// TelemetrySource reads the current solar production/export figures.
type TelemetrySource interface {
	GetProduction(ctx context.Context) (*domain.ProductionSnapshot, error)
}

// VehicleGateway reads and commands the charging load device. Command
// delivery is best effort; the caller logs failures and never rolls back.
type VehicleGateway interface {
	GetState(ctx context.Context) (*domain.VehicleSnapshot, error)
	StartCharging(ctx context.Context) error
	StopCharging(ctx context.Context) error
	SetChargingAmps(ctx context.Context, amps int) error
	Wake(ctx context.Context) error
}

// DaytimeProvider answers whether now falls inside the active solar window.
type DaytimeProvider interface {
	IsActiveWindow(now time.Time) bool
}

// SessionStore records charging sessions. Fire and forget from the control
// loop's point of view: errors are logged, never acted on.
type SessionStore interface {
	StartSession(start domain.SessionStart) (string, error)
	AddSample(id string, sample domain.SessionSample) error
	EndSession(id string, end domain.SessionEnd) error
	Close() error
}

// ChargeControlLogic is the decision core. Decide inspects the latest
// snapshots, applies any state transition to state, and returns the single
// command intent for this cycle.
type ChargeControlLogic interface {
	Decide(now time.Time, state *domain.ControlState, prod *domain.ProductionEntry, prodStale bool,
		veh *domain.VehicleEntry, vehStale bool) domain.CommandIntent
}
