package service

import (
	"fmt"
	"math"
	"time"

	"github.com/masontrang-dev/solar-charger/internal/core/domain"
	"github.com/masontrang-dev/solar-charger/internal/core/port"

	"go.uber.org/zap"
)

type ControlMode string

const (
	ControlModeThreshold ControlMode = "threshold"
	ControlModeDynamic   ControlMode = "dynamic"
)

// DynamicParams configure amp-level computation in dynamic mode. AmpSteps
// must be ascending; targets snap to the nearest step at or below themselves.
type DynamicParams struct {
	MinAmps      int
	MaxAmps      int
	MinStartAmps int
	AmpSteps     []int
}

// ChargeController implements the hysteresis-guarded charging state machine.
// It is a pure decision component: it owns no clock and performs no I/O.
type ChargeController struct {
	Mode                 ControlMode
	StartExportWatts     float64
	StopExportWatts      float64
	MinOn                time.Duration
	MinOff               time.Duration
	MaxSOC               int
	WakeThresholdPercent float64
	HouseholdLoadWatts   float64
	ChargingVoltage      float64
	Dynamic              DynamicParams
	Logger               *zap.Logger
}

// Decide runs one control cycle. At most one intent is emitted. Transitions
// stamp the dwell clocks on state in the same step as the returned intent;
// delivering the command afterwards is the caller's problem and failure does
// not roll the transition back.
func (c *ChargeController) Decide(now time.Time, state *domain.ControlState,
	prod *domain.ProductionEntry, prodStale bool,
	veh *domain.VehicleEntry, vehStale bool) domain.CommandIntent {

	if prod == nil || veh == nil {
		// cold cache; the scheduler forces a live poll before decisions run
		return domain.NoIntent()
	}

	signal := prod.Snapshot.Signal()
	vs := veh.Snapshot

	// An asleep vehicle reports a minimal snapshot: plug state and SOC are
	// unknown, not false, so none of the awake-only guards apply. The wake
	// goes out early, below the start threshold, so the device has fresh
	// state by the time charging would begin.
	if vs.Asleep {
		if signal >= c.WakeThresholdPercent*c.StartExportWatts {
			return domain.CommandIntent{Kind: domain.IntentWake, Reason: "pre_start_wake"}
		}
		return domain.NoIntent()
	}

	// Unplugged vehicle: nothing to control. A stop while charging is a
	// safety correction and bypasses the dwell floor.
	if !vs.PluggedIn {
		if state.Charging() {
			c.transitionToIdle(state, now)
			return domain.CommandIntent{Kind: domain.IntentStop, Reason: "unplugged"}
		}
		return domain.NoIntent()
	}

	// SOC ceiling overrides everything, dwell floor included.
	if vs.SOC >= c.MaxSOC {
		if state.Charging() {
			c.transitionToIdle(state, now)
			return domain.CommandIntent{Kind: domain.IntentStop, Reason: "soc_ceiling"}
		}
		return domain.NoIntent()
	}

	// A stale snapshot cannot vouch for "awake", so staleness disables the
	// wake-skip shortcut; the wake then waits for the full start threshold.
	if !state.Charging() && vehStale && signal >= c.StartExportWatts {
		return domain.CommandIntent{Kind: domain.IntentWake, Reason: "pre_start_wake"}
	}

	switch c.Mode {
	case ControlModeDynamic:
		return c.decideDynamic(now, state, signal, vs)
	default:
		return c.decideThreshold(now, state, signal)
	}
}

func (c *ChargeController) decideThreshold(now time.Time, state *domain.ControlState, signal float64) domain.CommandIntent {
	if !state.Charging() {
		if signal >= c.StartExportWatts {
			if !c.offFloorMet(state, now) {
				c.Logger.Debug("charge_control: start blocked by dwell floor",
					zap.Float64("signal_watts", signal))
				return domain.NoIntent()
			}
			c.transitionToCharging(state, now, 0)
			return domain.CommandIntent{Kind: domain.IntentStart, Reason: "export_above_start"}
		}
		return domain.NoIntent()
	}

	if signal <= c.StopExportWatts {
		if !c.onFloorMet(state, now) {
			c.Logger.Debug("charge_control: stop blocked by dwell floor",
				zap.Float64("signal_watts", signal))
			return domain.NoIntent()
		}
		c.transitionToIdle(state, now)
		return domain.CommandIntent{Kind: domain.IntentStop, Reason: "export_below_stop"}
	}
	return domain.NoIntent()
}

func (c *ChargeController) decideDynamic(now time.Time, state *domain.ControlState, signal float64, vs domain.VehicleSnapshot) domain.CommandIntent {
	target := c.TargetAmps(signal, vs.MaxAmps)

	if !state.Charging() {
		// start floor is stricter than the continue floor to avoid chatter
		// right at the boundary
		if target >= c.Dynamic.MinStartAmps {
			if !c.offFloorMet(state, now) {
				return domain.NoIntent()
			}
			c.transitionToCharging(state, now, target)
			state.LevelsAttempted++
			return domain.CommandIntent{Kind: domain.IntentStart, Amps: target,
				Reason: fmt.Sprintf("surplus_supports_%da", target)}
		}
		return domain.NoIntent()
	}

	if target < c.Dynamic.MinAmps {
		if !c.onFloorMet(state, now) {
			return domain.NoIntent()
		}
		c.transitionToIdle(state, now)
		return domain.CommandIntent{Kind: domain.IntentStop, Reason: "surplus_below_min_amps"}
	}

	// Only a change in the quantized step triggers a command; repeating the
	// device's reported level is suppressed.
	if target != vs.ChargeAmps {
		state.Amps = target
		state.LevelsAttempted++
		return domain.CommandIntent{Kind: domain.IntentSetAmps, Amps: target, Reason: "surplus_changed"}
	}
	return domain.NoIntent()
}

// TargetAmps computes the quantized amp level supported by the current
// surplus. Returns 0 when the surplus does not reach the lowest step.
func (c *ChargeController) TargetAmps(signalWatts float64, deviceMaxAmps int) int {
	available := signalWatts - c.HouseholdLoadWatts
	if available <= 0 || c.ChargingVoltage <= 0 {
		return 0
	}
	raw := available / c.ChargingVoltage
	hi := float64(c.Dynamic.MaxAmps)
	if deviceMaxAmps > 0 {
		hi = math.Min(hi, float64(deviceMaxAmps))
	}
	// no clamp at the low end: a target below the smallest step quantizes to
	// zero, which is what drives the stop decision
	return c.quantize(math.Min(raw, hi))
}

func (c *ChargeController) quantize(amps float64) int {
	best := 0
	for _, step := range c.Dynamic.AmpSteps {
		if float64(step) <= amps {
			best = step
		} else {
			break
		}
	}
	return best
}

func (c *ChargeController) offFloorMet(state *domain.ControlState, now time.Time) bool {
	if state.LastStop.IsZero() {
		return true
	}
	return now.Sub(state.LastStop) >= c.MinOff
}

func (c *ChargeController) onFloorMet(state *domain.ControlState, now time.Time) bool {
	if state.LastStart.IsZero() {
		return true
	}
	return now.Sub(state.LastStart) >= c.MinOn
}

func (c *ChargeController) transitionToCharging(state *domain.ControlState, now time.Time, amps int) {
	state.Mode = domain.ModeCharging
	state.LastStart = now
	state.Amps = amps
	state.LevelsAttempted = 0
}

func (c *ChargeController) transitionToIdle(state *domain.ControlState, now time.Time) {
	state.Mode = domain.ModeIdle
	state.LastStop = now
	state.Amps = 0
}

// ensure interface compliance
var _ port.ChargeControlLogic = (*ChargeController)(nil)
