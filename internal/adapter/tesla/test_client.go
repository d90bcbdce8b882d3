package tesla

import (
	"context"
	"sync"
	"time"

	"github.com/masontrang-dev/solar-charger/internal/core/domain"
	"github.com/masontrang-dev/solar-charger/internal/core/port"
)

func CreateTestVehicleGateway() *TestVehicleGateway {
	return &TestVehicleGateway{
		Snapshot: domain.VehicleSnapshot{
			SOC:            62,
			PluggedIn:      true,
			Charging:       false,
			ChargeAmps:     0,
			MaxAmps:        32,
			ChargerVoltage: 230,
		},
	}
}

// TestVehicleGateway is an in-memory vehicle used by tests and dry runs.
// Commands mutate the snapshot so a control loop driven against it sees its
// own effects on the next poll.
type TestVehicleGateway struct {
	mu       sync.Mutex
	Snapshot domain.VehicleSnapshot
	StateErr error
	CmdErr   error
	Commands []string
}

func (g *TestVehicleGateway) GetState(ctx context.Context) (*domain.VehicleSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.StateErr != nil {
		return nil, g.StateErr
	}
	if g.Snapshot.Asleep {
		// like the production gateway: the list endpoint only knows the car
		// is offline, so plug state and SOC are not reported
		return &domain.VehicleSnapshot{Asleep: true, Timestamp: time.Now()}, nil
	}
	s := g.Snapshot
	s.Timestamp = time.Now()
	return &s, nil
}

func (g *TestVehicleGateway) StartCharging(ctx context.Context) error {
	return g.apply("start", func() {
		g.Snapshot.Charging = true
		if g.Snapshot.ChargeAmps == 0 {
			g.Snapshot.ChargeAmps = g.Snapshot.MaxAmps
		}
	})
}

func (g *TestVehicleGateway) StopCharging(ctx context.Context) error {
	return g.apply("stop", func() {
		g.Snapshot.Charging = false
		g.Snapshot.ChargeAmps = 0
	})
}

func (g *TestVehicleGateway) SetChargingAmps(ctx context.Context, amps int) error {
	return g.apply("set_amps", func() {
		g.Snapshot.ChargeAmps = amps
	})
}

func (g *TestVehicleGateway) Wake(ctx context.Context) error {
	return g.apply("wake", func() {
		g.Snapshot.Asleep = false
	})
}

func (g *TestVehicleGateway) apply(name string, fn func()) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Commands = append(g.Commands, name)
	if g.CmdErr != nil {
		return g.CmdErr
	}
	fn()
	return nil
}

func (g *TestVehicleGateway) SentCommands() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.Commands))
	copy(out, g.Commands)
	return out
}

var _ port.VehicleGateway = (*TestVehicleGateway)(nil)
