package domain

import "time"

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_VENDOR       = "vendor"
	ACTOR_ID_CONTROL_LOOP = "controlloop"
	ACTOR_ID_MQTT         = "mqtt"
)

type GetProductionRequest struct {
	ActorRequestMixIn
}

type GetProductionResponse struct {
	ActorResponseMixIn
	Snapshot *ProductionSnapshot
}

type GetVehicleStateRequest struct {
	ActorRequestMixIn
}

type GetVehicleStateResponse struct {
	ActorResponseMixIn
	Snapshot *VehicleSnapshot
}

type SendCommandRequest struct {
	ActorRequestMixIn
	Intent CommandIntent
}

type SendCommandResponse struct {
	ActorResponseMixIn
	Intent CommandIntent
}

// StatusRequest is answered by the control loop actor with its current view.
type StatusRequest struct {
	ActorRequestMixIn
}

type StatusResponse struct {
	ActorResponseMixIn
	State         ControlState
	Production    *ProductionEntry
	Vehicle       *VehicleEntry
	LastIntent    CommandIntent
	LastPlan      PollPlan
	BudgetUsed    uint
	BudgetCeiling uint
	NextPollAt    time.Time
	DryRun        bool
}

// BudgetRolloverRequest forces the idempotent window-rollover check and logs
// the consumption summary. Sent by the daily quartz job.
type BudgetRolloverRequest struct {
	ActorRequestMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
