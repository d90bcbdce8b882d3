package actor

import (
	"fmt"
	"time"

	"github.com/masontrang-dev/solar-charger/internal/config"
	"github.com/masontrang-dev/solar-charger/internal/core/domain"
	"github.com/masontrang-dev/solar-charger/internal/core/events"
	"github.com/masontrang-dev/solar-charger/internal/core/port"
	"github.com/masontrang-dev/solar-charger/internal/core/service"
	. "github.com/masontrang-dev/solar-charger/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	vendorRequestTimeout = 25 * time.Second
	minTickDelay         = 1 * time.Second
)

// ControlLoopDeps carries the collaborators of the control loop actor.
type ControlLoopDeps struct {
	VendorActor *actor.PID
	Controller  port.ChargeControlLogic
	Budget      *service.CallBudget
	Cache       *service.SnapshotCache
	Planner     *service.PollPlanner
	Daytime     port.DaytimeProvider
	Sessions    port.SessionStore
	EventStream *eventstream.EventStream
}

// ControlLoopActor owns the control state, the call budget and the snapshot
// cache. Automatic ticks and manual commands all mutate state through its
// mailbox, so there is exactly one writer.
type ControlLoopActor struct {
	ActorWithStates
	scheduler *scheduler.TimerScheduler
	stash     *Stash
	cfg       *config.Config
	deps      ControlLoopDeps

	state      domain.ControlState
	lastIntent domain.CommandIntent
	lastPlan   domain.PollPlan
	cancelTick scheduler.CancelFunc

	logger *zap.Logger
}

type controlTick struct {
}

func NewControlLoopActor(cfg *config.Config, deps ControlLoopDeps, logger *zap.Logger) *ControlLoopActor {
	act := &ControlLoopActor{
		cfg:    cfg,
		deps:   deps,
		stash:  &Stash{},
		logger: ActorLogger(domain.ACTOR_ID_CONTROL_LOOP, logger),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(CLStartingState{
		actor: act,
	})
	return act
}

func (state *ControlLoopActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Starting state

type CLStartingState struct {
	ActorState
	actor *ControlLoopActor
}

func (state CLStartingState) Name() string {
	return "starting"
}

func (state CLStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("controlloop@starting started")
		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)
		// the first tick runs against a cold cache, which forces a live poll
		ctx.Send(ctx.Self(), controlTick{})
		state.actor.Become(CLRunningState{
			actor: state.actor,
		})
		state.actor.stash.UnstashAll(ctx)
	case *actor.Restarting:
	default:
		state.actor.logger.Debug("controlloop@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Running state

type CLRunningState struct {
	ActorState
	actor *ControlLoopActor
}

func (state CLRunningState) Name() string {
	return "running"
}

func (state CLRunningState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.actor.logger.Debug("controlloop@running: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_CONTROL_LOOP,
			Healthy: true,
			State:   state.Name(),
		})
	case controlTick:
		state.actor.logger.Debug("controlloop@running: tick")
		state.actor.runCycle(ctx)
	case domain.GetProductionResponse:
		state.actor.handleProductionResponse(ctx, msg)
	case domain.GetVehicleStateResponse:
		state.actor.handleVehicleResponse(ctx, msg)
	case domain.SendCommandResponse:
		// delivery outcome; the state transition already happened and is not
		// rolled back on failure
		if msg.HasResponseError() {
			state.actor.logger.Warn("controlloop@running: command delivery failed",
				zap.String("intent", msg.Intent.Kind.String()),
				zap.Error(msg.GetResponseError()))
		} else {
			state.actor.logger.Debug("controlloop@running: command delivered",
				zap.String("intent", msg.Intent.Kind.String()))
		}
	case domain.StatusRequest:
		state.actor.respondStatus(ctx, msg)
	case domain.BudgetRolloverRequest:
		now := time.Now()
		state.actor.deps.Budget.Rollover(now)
		used, ceiling := state.actor.deps.Budget.Used(now)
		state.actor.logger.Info("controlloop@running: budget rollover check",
			zap.Uint("used", used), zap.Uint("ceiling", ceiling))
	case domain.ControlRequest:
		state.actor.handleControlRequest(ctx, msg)
	default:
		state.actor.logger.Debug("controlloop@running: recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Await production response state

type CLAwaitProductionState struct {
	ActorState
	actor *ControlLoopActor
}

func (state CLAwaitProductionState) Name() string {
	return "awaitProduction"
}

func (state CLAwaitProductionState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetProductionResponse:
		ctx.SetReceiveTimeout(0)
		ctx.RequestWithCustomSender(ctx.Self(), msg, ctx.Sender())
		state.actor.UnbecomeStacked()
		state.actor.stash.UnstashAll(ctx)
	case *actor.ReceiveTimeout:
		ctx.SetReceiveTimeout(0)
		ctx.RequestWithCustomSender(ctx.Self(), domain.GetProductionResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: fmt.Errorf("production request timed out"),
			},
		}, ctx.Sender())
		state.actor.UnbecomeStacked()
		state.actor.stash.UnstashAll(ctx)
	default:
		state.actor.logger.Debug("controlloop@awaitProduction: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

func (state CLAwaitProductionState) OnEnterAction(ctx actor.Context) CLAwaitProductionState {
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.actor.deps.VendorActor,
		domain.GetProductionRequest{}, vendorRequestTimeout),
		func(err error) any {
			return domain.GetProductionResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
	ctx.SetReceiveTimeout(vendorRequestTimeout + time.Second)
	return state
}

// Await vehicle state response state

type CLAwaitVehicleState struct {
	ActorState
	actor *ControlLoopActor
}

func (state CLAwaitVehicleState) Name() string {
	return "awaitVehicle"
}

func (state CLAwaitVehicleState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetVehicleStateResponse:
		ctx.SetReceiveTimeout(0)
		ctx.RequestWithCustomSender(ctx.Self(), msg, ctx.Sender())
		state.actor.UnbecomeStacked()
		state.actor.stash.UnstashAll(ctx)
	case *actor.ReceiveTimeout:
		ctx.SetReceiveTimeout(0)
		ctx.RequestWithCustomSender(ctx.Self(), domain.GetVehicleStateResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: fmt.Errorf("vehicle state request timed out"),
			},
		}, ctx.Sender())
		state.actor.UnbecomeStacked()
		state.actor.stash.UnstashAll(ctx)
	default:
		state.actor.logger.Debug("controlloop@awaitVehicle: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

func (state CLAwaitVehicleState) OnEnterAction(ctx actor.Context) CLAwaitVehicleState {
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.actor.deps.VendorActor,
		domain.GetVehicleStateRequest{}, vendorRequestTimeout),
		func(err error) any {
			return domain.GetVehicleStateResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
	ctx.SetReceiveTimeout(vendorRequestTimeout + time.Second)
	return state
}

// Cycle phases

func (a *ControlLoopActor) runCycle(ctx actor.Context) {
	now := time.Now()
	daytime := a.deps.Daytime.IsActiveWindow(now)
	prodEntry, _ := a.deps.Cache.Production(now)
	vehEntry, _ := a.deps.Cache.Vehicle(now)

	plan := a.deps.Planner.Plan(now, &a.state, prodEntry, vehEntry, daytime)
	if plan.Action == domain.ActionPoll {
		if a.deps.Budget.TryConsume(now, domain.CallTelemetry) {
			a.lastPlan = plan
			a.BecomeStacked(CLAwaitProductionState{
				actor: a,
			}.OnEnterAction(ctx))
			return
		}
		plan = a.deps.Planner.Demote(plan, now)
	}
	a.lastPlan = plan
	a.finishCycle(ctx, now)
}

func (a *ControlLoopActor) handleProductionResponse(ctx actor.Context, msg domain.GetProductionResponse) {
	now := time.Now()
	if msg.HasResponseError() {
		// keep the previous cache entry; age-based staleness takes over
		a.logger.Warn("controlloop: production poll failed, serving cache",
			zap.Error(msg.GetResponseError()))
	} else if msg.Snapshot != nil {
		a.deps.Cache.PutProduction(*msg.Snapshot, now)
	}

	if a.lastPlan.Action == domain.ActionPoll && a.deps.Budget.TryConsume(now, domain.CallVehicleState) {
		a.BecomeStacked(CLAwaitVehicleState{
			actor: a,
		}.OnEnterAction(ctx))
		return
	}
	a.finishCycle(ctx, now)
}

func (a *ControlLoopActor) handleVehicleResponse(ctx actor.Context, msg domain.GetVehicleStateResponse) {
	now := time.Now()
	if msg.HasResponseError() {
		a.logger.Warn("controlloop: vehicle poll failed, serving cache",
			zap.Error(msg.GetResponseError()))
	} else if msg.Snapshot != nil {
		a.deps.Cache.PutVehicle(*msg.Snapshot, now)
	}
	a.finishCycle(ctx, now)
}

func (a *ControlLoopActor) finishCycle(ctx actor.Context, now time.Time) {
	prodEntry, prodStale := a.deps.Cache.Production(now)
	vehEntry, vehStale := a.deps.Cache.Vehicle(now)

	intent := a.deps.Controller.Decide(now, &a.state, prodEntry, prodStale, vehEntry, vehStale)
	a.lastIntent = intent

	if intent.Kind != domain.IntentNone {
		a.logger.Info("controlloop: decision",
			zap.String("intent", intent.Kind.String()),
			zap.Int("amps", intent.Amps),
			zap.String("reason", intent.Reason),
			zap.String("mode", a.state.Mode.String()))
		a.deliverIntent(ctx, intent, vehEntry)
	}

	a.recordSession(now, intent, prodEntry, vehEntry)
	a.publishStatus(now, prodEntry, vehEntry)
	a.scheduleNextTick(ctx, now)
}

// deliverIntent sends the command through the vendor actor. The state
// transition is already stamped; dry run, budget denial and delivery failure
// all leave it in place.
func (a *ControlLoopActor) deliverIntent(ctx actor.Context, intent domain.CommandIntent, vehEntry *domain.VehicleEntry) {
	if intent.Kind != domain.IntentWake && vehEntry != nil && vehEntry.Snapshot.Asleep {
		a.logger.Warn("controlloop: commanding a vehicle that may be asleep",
			zap.String("intent", intent.Kind.String()))
	}

	if a.cfg.DryRun {
		a.logger.Info("controlloop: dry run, command not delivered",
			zap.String("intent", intent.Kind.String()),
			zap.Int("amps", intent.Amps))
		return
	}

	class := domain.CallCommand
	if intent.Kind == domain.IntentWake {
		class = domain.CallWake
	}
	if !a.deps.Budget.TryConsume(time.Now(), class) {
		a.logger.Warn("controlloop: command denied by budget, not delivered",
			zap.String("intent", intent.Kind.String()))
		return
	}

	ctx.Request(a.deps.VendorActor, domain.SendCommandRequest{Intent: intent})
}

func (a *ControlLoopActor) recordSession(now time.Time, intent domain.CommandIntent,
	prodEntry *domain.ProductionEntry, vehEntry *domain.VehicleEntry) {

	switch {
	case intent.Kind == domain.IntentStart:
		start := domain.SessionStart{StartedAt: now}
		if vehEntry != nil {
			start.StartSOC = vehEntry.Snapshot.SOC
		}
		if prodEntry != nil {
			start.ProductionWatts = prodEntry.Snapshot.ProductionWatts
		}
		id, err := a.deps.Sessions.StartSession(start)
		if err != nil {
			a.logger.Warn("controlloop: could not open session record", zap.Error(err))
			return
		}
		a.state.SessionID = id
	case intent.Kind == domain.IntentStop && a.state.SessionID != "":
		end := domain.SessionEnd{EndedAt: now}
		if vehEntry != nil {
			end.EndSOC = vehEntry.Snapshot.SOC
		}
		if err := a.deps.Sessions.EndSession(a.state.SessionID, end); err != nil {
			a.logger.Warn("controlloop: could not close session record", zap.Error(err))
		}
		a.state.SessionID = ""
	case a.state.Charging() && a.state.SessionID != "" && vehEntry != nil:
		sample := domain.SessionSample{
			At:          now,
			SOC:         vehEntry.Snapshot.SOC,
			ChargeWatts: a.chargeWatts(vehEntry.Snapshot),
			Interval:    a.lastPlan.Interval,
		}
		if prodEntry != nil {
			sample.ProductionWatts = prodEntry.Snapshot.ProductionWatts
		}
		if err := a.deps.Sessions.AddSample(a.state.SessionID, sample); err != nil {
			a.logger.Warn("controlloop: could not record session sample", zap.Error(err))
		}
	}
}

func (a *ControlLoopActor) chargeWatts(vs domain.VehicleSnapshot) float64 {
	voltage := float64(vs.ChargerVoltage)
	if voltage <= 0 {
		voltage = a.cfg.Tesla.ChargingVoltage
	}
	return float64(vs.ChargeAmps) * voltage
}

func (a *ControlLoopActor) publishStatus(now time.Time, prodEntry *domain.ProductionEntry, vehEntry *domain.VehicleEntry) {
	es := a.deps.EventStream
	if es == nil {
		return
	}
	if prodEntry != nil {
		es.Publish(events.FloatStatusEvent{
			GenericStatusEvent: events.GenericStatusEvent{Id: events.SENSOR_ID_PRODUCTION_WATTS},
			Value:              prodEntry.Snapshot.ProductionWatts,
		})
		if prodEntry.Snapshot.HasExport {
			es.Publish(events.FloatStatusEvent{
				GenericStatusEvent: events.GenericStatusEvent{Id: events.SENSOR_ID_EXPORT_WATTS},
				Value:              prodEntry.Snapshot.ExportWatts,
			})
		}
	}
	if vehEntry != nil {
		es.Publish(events.IntStatusEvent{
			GenericStatusEvent: events.GenericStatusEvent{Id: events.SENSOR_ID_VEHICLE_SOC},
			Value:              int64(vehEntry.Snapshot.SOC),
		})
		es.Publish(events.IntStatusEvent{
			GenericStatusEvent: events.GenericStatusEvent{Id: events.SENSOR_ID_CHARGE_AMPS},
			Value:              int64(vehEntry.Snapshot.ChargeAmps),
		})
		es.Publish(events.BoolStatusEvent{
			GenericStatusEvent: events.GenericStatusEvent{Id: events.SENSOR_ID_CHARGING},
			Value:              vehEntry.Snapshot.Charging,
		})
		es.Publish(events.BoolStatusEvent{
			GenericStatusEvent: events.GenericStatusEvent{Id: events.SENSOR_ID_PLUGGED_IN},
			Value:              vehEntry.Snapshot.PluggedIn,
		})
	}
	es.Publish(events.TextStatusEvent{
		GenericStatusEvent: events.GenericStatusEvent{Id: events.SENSOR_ID_CONTROL_MODE},
		Value:              a.state.Mode.String(),
	})
	es.Publish(events.TextStatusEvent{
		GenericStatusEvent: events.GenericStatusEvent{Id: events.SENSOR_ID_LAST_INTENT},
		Value:              a.lastIntent.Kind.String(),
	})
	es.Publish(events.TextStatusEvent{
		GenericStatusEvent: events.GenericStatusEvent{Id: events.SENSOR_ID_POLL_TIER},
		Value:              a.lastPlan.Tier.String(),
	})
	used, _ := a.deps.Budget.Used(now)
	es.Publish(events.IntStatusEvent{
		GenericStatusEvent: events.GenericStatusEvent{Id: events.SENSOR_ID_BUDGET_USED},
		Value:              int64(used),
	})
}

func (a *ControlLoopActor) scheduleNextTick(ctx actor.Context, now time.Time) {
	if a.cancelTick != nil {
		a.cancelTick()
	}
	delay := a.lastPlan.NextAt.Sub(now)
	if delay < minTickDelay {
		delay = minTickDelay
	}
	a.cancelTick = a.scheduler.RequestOnce(delay, ctx.Self(), controlTick{})
}

// Status and manual commands

func (a *ControlLoopActor) respondStatus(ctx actor.Context, msg domain.StatusRequest) {
	now := time.Now()
	prodEntry, _ := a.deps.Cache.Production(now)
	vehEntry, _ := a.deps.Cache.Vehicle(now)
	used, ceiling := a.deps.Budget.Used(now)
	ForRequest(msg).Respond(ctx, domain.StatusResponse{
		State:         a.state,
		Production:    prodEntry,
		Vehicle:       vehEntry,
		LastIntent:    a.lastIntent,
		LastPlan:      a.lastPlan,
		BudgetUsed:    used,
		BudgetCeiling: ceiling,
		NextPollAt:    a.lastPlan.NextAt,
		DryRun:        a.cfg.DryRun,
	})
}

// handleControlRequest applies a manual command. Manual transitions stamp the
// dwell clocks like automatic ones do, so the floors bind the next automatic
// decision.
func (a *ControlLoopActor) handleControlRequest(ctx actor.Context, msg domain.ControlRequest) {
	now := time.Now()
	vehEntry, _ := a.deps.Cache.Vehicle(now)
	prodEntry, _ := a.deps.Cache.Production(now)

	var resp domain.ControlCommandResponse
	switch cmd := msg.(type) {
	case domain.ManualStartRequest:
		if a.state.Charging() {
			resp = refusedResponse("already_charging")
			break
		}
		amps := 0
		if a.cfg.Control.Mode == "dynamic" {
			amps = a.cfg.Control.Dynamic.MinStartAmps
		}
		a.state.Mode = domain.ModeCharging
		a.state.LastStart = now
		a.state.Amps = amps
		a.state.LevelsAttempted = 0
		intent := domain.CommandIntent{Kind: domain.IntentStart, Amps: amps, Reason: "manual"}
		a.lastIntent = intent
		a.deliverIntent(ctx, intent, vehEntry)
		a.recordSession(now, intent, prodEntry, vehEntry)
		resp = appliedResponse()
	case domain.ManualStopRequest:
		if !a.state.Charging() {
			resp = refusedResponse("not_charging")
			break
		}
		a.state.Mode = domain.ModeIdle
		a.state.LastStop = now
		a.state.Amps = 0
		intent := domain.CommandIntent{Kind: domain.IntentStop, Reason: "manual"}
		a.lastIntent = intent
		a.deliverIntent(ctx, intent, vehEntry)
		a.recordSession(now, intent, prodEntry, vehEntry)
		resp = appliedResponse()
	case domain.ManualWakeRequest:
		intent := domain.CommandIntent{Kind: domain.IntentWake, Reason: "manual"}
		a.lastIntent = intent
		a.deliverIntent(ctx, intent, vehEntry)
		resp = appliedResponse()
	case domain.ManualSetAmpsRequest:
		if !a.state.Charging() {
			resp = refusedResponse("not_charging")
			break
		}
		if cmd.Amps <= 0 {
			resp = refusedResponse("invalid_amps")
			break
		}
		a.state.Amps = cmd.Amps
		intent := domain.CommandIntent{Kind: domain.IntentSetAmps, Amps: cmd.Amps, Reason: "manual"}
		a.lastIntent = intent
		a.deliverIntent(ctx, intent, vehEntry)
		resp = appliedResponse()
	default:
		resp = refusedResponse("unknown_command")
	}

	a.logger.Info("controlloop: manual command",
		zap.String("command", msg.ControlCommand()),
		zap.Bool("applied", resp.Applied),
		zap.String("reason", resp.Reason))
	ForRequest(msg).Respond(ctx, resp)
}

func appliedResponse() domain.ControlCommandResponse {
	return domain.ControlCommandResponse{Applied: true}
}

func refusedResponse(reason string) domain.ControlCommandResponse {
	return domain.ControlCommandResponse{Applied: false, Reason: reason}
}
