package domain

// ControlRequest

// ControlRequest is a manual command submitted through the presentation layer.
// It travels through the control loop actor's mailbox so that manual and
// automatic mutations of ControlState are serialized through one gate.
type ControlRequest interface {
	ActorRequest
	ControlCommand() string
}

type ControlRequestMixIn struct {
	ActorRequestMixIn
}

// Manual commands

type ManualStartRequest struct {
	ControlRequestMixIn
}

func (ManualStartRequest) ControlCommand() string { return "start" }

type ManualStopRequest struct {
	ControlRequestMixIn
}

func (ManualStopRequest) ControlCommand() string { return "stop" }

type ManualWakeRequest struct {
	ControlRequestMixIn
}

func (ManualWakeRequest) ControlCommand() string { return "wake" }

type ManualSetAmpsRequest struct {
	ControlRequestMixIn
	Amps int
}

func (ManualSetAmpsRequest) ControlCommand() string { return "set_amps" }

// ControlCommandResponse reports whether a manual command was applied and, if
// not, why it was refused.
type ControlCommandResponse struct {
	ActorResponseMixIn
	Applied bool
	Reason  string
}

// ensure interface compliance
var _ ControlRequest = (*ManualStartRequest)(nil)
