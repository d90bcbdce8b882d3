package actor

import (
	"testing"
	"time"

	adactor "github.com/masontrang-dev/solar-charger/internal/adapter/actor"
	"github.com/masontrang-dev/solar-charger/internal/adapter/daytime"
	"github.com/masontrang-dev/solar-charger/internal/adapter/session"
	"github.com/masontrang-dev/solar-charger/internal/adapter/solaredge"
	"github.com/masontrang-dev/solar-charger/internal/adapter/tesla"
	"github.com/masontrang-dev/solar-charger/internal/config"
	"github.com/masontrang-dev/solar-charger/internal/core/domain"
	"github.com/masontrang-dev/solar-charger/internal/core/service"
	"github.com/masontrang-dev/solar-charger/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func spawnMaster(t *testing.T, cfg *config.Config,
	telemetry *solaredge.TestTelemetrySource, vehicle *tesla.TestVehicleGateway) (*actor.ActorSystem, *actor.PID) {

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)

	vendorProvider := func() *adactor.VendorActor {
		return adactor.NewVendorActor(telemetry, vehicle, logger)
	}
	controlLoopProvider := func(vendorActor *actor.PID, es *eventstream.EventStream) *ControlLoopActor {
		deps := ControlLoopDeps{
			VendorActor: vendorActor,
			Controller: &service.ChargeController{
				Mode:                 service.ControlMode(cfg.Control.Mode),
				StartExportWatts:     cfg.Control.StartExportWatts,
				StopExportWatts:      cfg.Control.StopExportWatts,
				MinOn:                time.Duration(cfg.Control.MinOnSeconds) * time.Second,
				MinOff:               time.Duration(cfg.Control.MinOffSeconds) * time.Second,
				MaxSOC:               cfg.Control.MaxSOC,
				WakeThresholdPercent: cfg.Control.WakeThresholdPercent,
				ChargingVoltage:      cfg.Tesla.ChargingVoltage,
				Logger:               logger,
			},
			Budget: service.NewCallBudget(cfg.Budget.DailyCallCeiling, time.UTC, logger),
			Cache: service.NewSnapshotCache(
				time.Duration(cfg.Cache.ProductionStaleSeconds)*time.Second,
				time.Duration(cfg.Cache.VehicleStaleSeconds)*time.Second),
			Planner: &service.PollPlanner{
				Fast:             cfg.Polling.Fast(),
				Medium:           cfg.Polling.Medium(),
				Slow:             cfg.Polling.Slow(),
				NearThresholdW:   cfg.Polling.NearThresholdWatts,
				StartExportWatts: cfg.Control.StartExportWatts,
				Logger:           logger,
			},
			Daytime:     daytime.NewProvider(cfg.Control.Daytime),
			Sessions:    session.NoopStore{},
			EventStream: es,
		}
		return NewControlLoopActor(cfg, deps, logger)
	}

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterActor(*cfg, vendorProvider, controlLoopProvider, nil, logger)
	})
	pid := as.Root.Spawn(props)
	return as, pid
}

func TestMasterHealthCheck(t *testing.T) {
	require := require.New(t)

	telemetry := solaredge.CreateTestTelemetrySource()
	vehicle := tesla.CreateTestVehicleGateway()

	as, masterPID := spawnMaster(t, testConfig(), telemetry, vehicle)
	defer as.Shutdown()
	context := as.Root

	time.Sleep(2 * time.Second)

	res, err := context.RequestFuture(masterPID, domain.ActorHealthRequest{}, 10*time.Second).Result()
	require.NoError(err)
	health, ok := res.(domain.ActorHealthResponse)
	require.True(ok)
	require.Equal(domain.ACTOR_ID_MASTER, health.Id)
	require.True(health.Healthy)
}

func TestMasterRoutesStatusAndControl(t *testing.T) {
	require := require.New(t)

	telemetry := solaredge.CreateTestTelemetrySource()
	telemetry.Set(800, 200) // below the start threshold, loop stays idle
	vehicle := tesla.CreateTestVehicleGateway()
	vehicle.Snapshot.Asleep = true

	as, masterPID := spawnMaster(t, testConfig(), telemetry, vehicle)
	defer as.Shutdown()
	context := as.Root

	time.Sleep(2 * time.Second)

	res, err := context.RequestFuture(masterPID, domain.StatusRequest{}, 10*time.Second).Result()
	require.NoError(err)
	status, ok := res.(domain.StatusResponse)
	require.True(ok)
	require.Equal(domain.ModeIdle, status.State.Mode)

	// a manual wake is always forwarded, asleep or not
	res, err = context.RequestFuture(masterPID, domain.ManualWakeRequest{}, 10*time.Second).Result()
	require.NoError(err)
	cmdResp, ok := res.(domain.ControlCommandResponse)
	require.True(ok)
	require.True(cmdResp.Applied)

	time.Sleep(500 * time.Millisecond)
	require.Contains(vehicle.SentCommands(), "wake")
}
