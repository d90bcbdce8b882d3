package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/masontrang-dev/solar-charger/internal/core/domain"
	"github.com/masontrang-dev/solar-charger/internal/core/port"
	"github.com/masontrang-dev/solar-charger/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

const vendorCallTimeout = 20 * time.Second

// VendorActor wraps the telemetry source and the vehicle gateway. Each
// request runs as a background task while the actor stashes everything else,
// so at most one vendor call is in flight at a time.
type VendorActor struct {
	behavior  actor.Behavior
	stash     *actorutil.Stash
	telemetry port.TelemetrySource
	vehicle   port.VehicleGateway
	logger    *zap.Logger
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
}

func NewVendorActor(telemetry port.TelemetrySource, vehicle port.VehicleGateway, logger *zap.Logger) *VendorActor {
	act := &VendorActor{
		telemetry: telemetry,
		vehicle:   vehicle,
		behavior:  actor.NewBehavior(),
		stash:     &actorutil.Stash{},
		logger:    actorutil.ActorLogger("vendor", logger),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *VendorActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *VendorActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("vendor@default: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_VENDOR,
			Healthy: true,
			State:   "idle",
		})
	case domain.GetProductionRequest:
		state.logger.Debug("vendor@default: GetProductionRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, state.getProduction),
			mapTaskResult[domain.GetProductionResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.GetProductionResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				},
				replyTo: sender,
			}
		}).WithTimeout(vendorCallTimeout).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingVendor)
	case domain.GetVehicleStateRequest:
		state.logger.Debug("vendor@default: GetVehicleStateRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, state.getVehicleState),
			mapTaskResult[domain.GetVehicleStateResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.GetVehicleStateResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				},
				replyTo: sender,
			}
		}).WithTimeout(vendorCallTimeout).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingVendor)
	case domain.SendCommandRequest:
		state.logger.Debug("vendor@default: SendCommandRequest",
			zap.String("intent", msg.Intent.Kind.String()))
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		intent := msg.Intent
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, func() (*domain.SendCommandResponse, error) {
			if err := state.sendCommand(intent); err != nil {
				return nil, err
			}
			return &domain.SendCommandResponse{Intent: intent}, nil
		}),
			mapTaskResult[domain.SendCommandResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.SendCommandResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
					Intent: intent,
				},
				replyTo: sender,
			}
		}).WithTimeout(vendorCallTimeout).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingVendor)
	default:
		state.logger.Debug("vendor@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *VendorActor) WaitingVendor(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("vendor@waiting backgroundTaskResult",
			zap.String("type", fmt.Sprintf("%T", msg.message)))
		ctx.Send(msg.replyTo, msg.message)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("vendor@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (a *VendorActor) getProduction() (*domain.GetProductionResponse, error) {
	callCtx, cancel := context.WithTimeout(context.Background(), vendorCallTimeout)
	defer cancel()
	snapshot, err := a.telemetry.GetProduction(callCtx)
	if err != nil {
		a.logger.Warn("production read failed", zap.Error(err))
		return nil, err
	}
	return &domain.GetProductionResponse{Snapshot: snapshot}, nil
}

func (a *VendorActor) getVehicleState() (*domain.GetVehicleStateResponse, error) {
	callCtx, cancel := context.WithTimeout(context.Background(), vendorCallTimeout)
	defer cancel()
	snapshot, err := a.vehicle.GetState(callCtx)
	if err != nil {
		a.logger.Warn("vehicle state read failed", zap.Error(err))
		return nil, err
	}
	return &domain.GetVehicleStateResponse{Snapshot: snapshot}, nil
}

func (a *VendorActor) sendCommand(intent domain.CommandIntent) error {
	callCtx, cancel := context.WithTimeout(context.Background(), vendorCallTimeout)
	defer cancel()

	var err error
	switch intent.Kind {
	case domain.IntentStart:
		err = a.vehicle.StartCharging(callCtx)
	case domain.IntentStop:
		err = a.vehicle.StopCharging(callCtx)
	case domain.IntentSetAmps:
		err = a.vehicle.SetChargingAmps(callCtx, intent.Amps)
	case domain.IntentWake:
		err = a.vehicle.Wake(callCtx)
	default:
		err = fmt.Errorf("cannot deliver intent %s", intent.Kind)
	}
	if err != nil {
		a.logger.Warn("command delivery failed",
			zap.String("intent", intent.Kind.String()), zap.Error(err))
	}
	return err
}

func mapTaskResult[T any](sender *actor.PID) func(t *T) *backgroundTaskResult {
	return func(t *T) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}
