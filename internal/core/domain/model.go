package domain

import "time"

// ProductionSnapshot is a normalized reading from the solar telemetry source.
// Snapshots are immutable; a newer reading replaces the cache entry wholesale.
type ProductionSnapshot struct {
	ProductionWatts float64
	ExportWatts     float64
	// HasExport is false when the source has no site meter and only PV
	// production is known. Decisions then fall back to production watts.
	HasExport bool
	Source    string
	Timestamp time.Time
}

// Signal returns the watts value control decisions run on: site export when a
// meter is present, raw production otherwise.
func (s ProductionSnapshot) Signal() float64 {
	if s.HasExport {
		return s.ExportWatts
	}
	return s.ProductionWatts
}

// VehicleSnapshot is a normalized reading of the load device state.
type VehicleSnapshot struct {
	SOC            int
	PluggedIn      bool
	Charging       bool
	ChargeAmps     int
	MaxAmps        int
	ChargerVoltage int
	Asleep         bool
	Timestamp      time.Time
}

// ProductionEntry wraps a production snapshot with its capture time.
type ProductionEntry struct {
	Snapshot   ProductionSnapshot
	CapturedAt time.Time
}

func (e ProductionEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.CapturedAt)
}

// VehicleEntry wraps a vehicle snapshot with its capture time.
type VehicleEntry struct {
	Snapshot   VehicleSnapshot
	CapturedAt time.Time
}

func (e VehicleEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.CapturedAt)
}

type ControlMode int

const (
	ModeIdle ControlMode = iota
	ModeCharging
)

func (m ControlMode) String() string {
	if m == ModeCharging {
		return "charging"
	}
	return "idle"
}

// ControlState is owned exclusively by the control loop actor. Every mutation
// goes through its mailbox, manual commands included.
type ControlState struct {
	Mode ControlMode
	Amps int
	// LastStart and LastStop are the dwell-floor clocks. They are stamped at
	// decision time, not delivery time, so a failed command send does not
	// reopen the transition window.
	LastStart time.Time
	LastStop  time.Time
	// SessionID is the open charging session, empty while idle.
	SessionID string
	// LevelsAttempted counts level commands issued in the current session.
	LevelsAttempted int
}

func (s *ControlState) Charging() bool {
	return s.Mode == ModeCharging
}

type IntentKind int

const (
	IntentNone IntentKind = iota
	IntentStart
	IntentStop
	IntentSetAmps
	IntentWake
)

func (k IntentKind) String() string {
	switch k {
	case IntentStart:
		return "start"
	case IntentStop:
		return "stop"
	case IntentSetAmps:
		return "set_amps"
	case IntentWake:
		return "wake"
	default:
		return "none"
	}
}

// CommandIntent is the single outcome of one control cycle. Amps is only
// meaningful for IntentStart (dynamic mode) and IntentSetAmps.
type CommandIntent struct {
	Kind   IntentKind
	Amps   int
	Reason string
}

func NoIntent() CommandIntent {
	return CommandIntent{Kind: IntentNone}
}

// CallClass identifies a budgeted remote call type. Classes carry different
// weights against the daily ceiling.
type CallClass int

const (
	CallTelemetry CallClass = iota
	CallVehicleState
	CallCommand
	CallWake
)

func (c CallClass) String() string {
	switch c {
	case CallTelemetry:
		return "telemetry"
	case CallVehicleState:
		return "vehicle_state"
	case CallCommand:
		return "command"
	case CallWake:
		return "wake"
	default:
		return "unknown"
	}
}

type PollTier int

const (
	TierFast PollTier = iota
	TierMedium
	TierSlow
)

func (t PollTier) String() string {
	switch t {
	case TierFast:
		return "fast"
	case TierMedium:
		return "medium"
	default:
		return "slow"
	}
}

type PollAction int

const (
	ActionPoll PollAction = iota
	ActionUseCache
	ActionSleep
)

func (a PollAction) String() string {
	switch a {
	case ActionPoll:
		return "poll"
	case ActionUseCache:
		return "use_cache"
	default:
		return "sleep"
	}
}

// PollPlan is recomputed every cycle and never persisted.
type PollPlan struct {
	Action   PollAction
	Tier     PollTier
	Interval time.Duration
	Reason   string
	NextAt   time.Time
}

// SessionStart opens a charging session record.
type SessionStart struct {
	StartedAt       time.Time
	StartSOC        int
	ProductionWatts float64
}

// SessionSample is one energy accounting tick while charging.
type SessionSample struct {
	At              time.Time
	ProductionWatts float64
	ChargeWatts     float64
	SOC             int
	Interval        time.Duration
}

// SessionEnd closes a charging session record.
type SessionEnd struct {
	EndedAt time.Time
	EndSOC  int
}
