package actor

import (
	"fmt"
	"log"
	"time"

	adactor "github.com/masontrang-dev/solar-charger/internal/adapter/actor"
	"github.com/masontrang-dev/solar-charger/internal/config"
	"github.com/masontrang-dev/solar-charger/internal/core/domain"
	. "github.com/masontrang-dev/solar-charger/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type VendorActorProvider func() *adactor.VendorActor

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

type ControlLoopProvider func(vendorActor *actor.PID, eventStream *eventstream.EventStream) *ControlLoopActor

// MasterActor spawns and supervises the actor tree and routes presentation
// layer requests to the control loop.
type MasterActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck  healthCheckResult
	eventStream         *eventstream.EventStream
	vendorActor         *actor.PID
	controlLoopActor    *actor.PID
	mqttActor           *actor.PID
	vendorProvider      VendorActorProvider
	mqttProvider        MQTTActorProvider
	controlLoopProvider ControlLoopProvider
	logger              *zap.Logger
}

type healthCheckResult struct {
	vendorHealthy      bool
	controlLoopHealthy bool
	mqttHealthy        bool
	mqttExpected       bool
	checksReceived     int
	respondTo          *actor.PID
}

func NewMasterActor(config config.Config, vendorProvider VendorActorProvider,
	controlLoopProvider ControlLoopProvider, mqttProvider MQTTActorProvider, logger *zap.Logger) *MasterActor {
	act := &MasterActor{
		config:              config,
		behavior:            actor.NewBehavior(),
		stash:               &Stash{},
		logger:              ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:         &eventstream.EventStream{},
		vendorProvider:      vendorProvider,
		controlLoopProvider: controlLoopProvider,
		mqttProvider:        mqttProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.currentHealthCheck = healthCheckResult{}
		state.currentHealthCheck.reset(state.config.MQTT.Enable)

		vendorPID, err := state.startVendorActor(ctx)
		if err != nil {
			panic(err)
		}
		state.vendorActor = vendorPID

		if state.config.MQTT.Enable {
			mqttPID, err := state.startMQTTActor(ctx)
			if err != nil {
				panic(err)
			}
			state.mqttActor = mqttPID
		}

		controlLoopPID, err := state.startControlLoopActor(ctx)
		if err != nil {
			panic(err)
		}
		state.controlLoopActor = controlLoopPID

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset(state.config.MQTT.Enable)
		state.currentHealthCheck.respondTo = ctx.Sender()

		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.vendorActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_VENDOR,
				Healthy: false,
			}
		})
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.controlLoopActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_CONTROL_LOOP,
				Healthy: false,
			}
		})
		if state.mqttActor != nil {
			PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
				return domain.ActorHealthResponse{
					Id:      domain.ACTOR_ID_MQTT,
					Healthy: false,
				}
			})
		}

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case domain.StatusRequest:
		state.logger.Debug("master@default StatusRequest")
		ctx.RequestWithCustomSender(state.controlLoopActor, msg, ctx.Sender())
	case domain.ControlRequest:
		state.logger.Debug("master@default ControlRequest", zap.String("command", msg.ControlCommand()))
		ctx.RequestWithCustomSender(state.controlLoopActor, msg, ctx.Sender())
	case domain.BudgetRolloverRequest:
		state.logger.Debug("master@default BudgetRolloverRequest")
		ctx.Send(state.controlLoopActor, msg)
	default:
		state.logger.Debug("master@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// a silent child counts as unhealthy
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy {
			switch msg.Id {
			case domain.ACTOR_ID_VENDOR:
				state.currentHealthCheck.vendorHealthy = true
			case domain.ACTOR_ID_CONTROL_LOOP:
				state.currentHealthCheck.controlLoopHealthy = true
			case domain.ACTOR_ID_MQTT:
				state.currentHealthCheck.mqttHealthy = true
			}
		}
		if state.currentHealthCheck.allReceived() {
			state.currentHealthCheck.respond(ctx)
			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) startVendorActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	vendorProps := actor.PropsFromProducer(func() actor.Actor {
		return state.vendorProvider()
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(vendorProps, domain.ACTOR_ID_VENDOR)
}

func (state *MasterActor) startControlLoopActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	controlProps := actor.PropsFromProducer(func() actor.Actor {
		return state.controlLoopProvider(state.vendorActor, state.eventStream)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(controlProps, domain.ACTOR_ID_CONTROL_LOOP)
}

func (state *MasterActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
}

func (state *healthCheckResult) reset(mqttExpected bool) {
	state.vendorHealthy = false
	state.controlLoopHealthy = false
	state.mqttHealthy = false
	state.mqttExpected = mqttExpected
	state.checksReceived = 0
}

func (state *healthCheckResult) allReceived() bool {
	expected := 2
	if state.mqttExpected {
		expected = 3
	}
	return state.checksReceived == expected
}

func (state *healthCheckResult) allHealthy() bool {
	if state.mqttExpected && !state.mqttHealthy {
		return false
	}
	return state.vendorHealthy && state.controlLoopHealthy
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
