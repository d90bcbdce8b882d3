package service

import (
	"testing"
	"time"

	"github.com/masontrang-dev/solar-charger/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func thresholdController() *ChargeController {
	return &ChargeController{
		Mode:                 ControlModeThreshold,
		StartExportWatts:     1500,
		StopExportWatts:      500,
		MinOn:                10 * time.Minute,
		MinOff:               5 * time.Minute,
		MaxSOC:               80,
		WakeThresholdPercent: 0.8,
		Logger:               zap.NewNop(),
	}
}

func dynamicController() *ChargeController {
	c := thresholdController()
	c.Mode = ControlModeDynamic
	c.ChargingVoltage = 230
	c.Dynamic = DynamicParams{
		MinAmps:      5,
		MaxAmps:      16,
		MinStartAmps: 6,
		AmpSteps:     []int{5, 6, 8, 10, 13, 16},
	}
	return c
}

func prodEntry(at time.Time, export float64) *domain.ProductionEntry {
	return &domain.ProductionEntry{
		Snapshot: domain.ProductionSnapshot{
			ProductionWatts: export + 300,
			ExportWatts:     export,
			HasExport:       true,
			Timestamp:       at,
		},
		CapturedAt: at,
	}
}

func vehEntry(at time.Time, soc int, pluggedIn, charging bool, amps int) *domain.VehicleEntry {
	return &domain.VehicleEntry{
		Snapshot: domain.VehicleSnapshot{
			SOC:        soc,
			PluggedIn:  pluggedIn,
			Charging:   charging,
			ChargeAmps: amps,
			MaxAmps:    16,
			Timestamp:  at,
		},
		CapturedAt: at,
	}
}

func TestStartsAboveStartThreshold(t *testing.T) {
	require := require.New(t)
	c := thresholdController()
	now := time.Now()
	state := &domain.ControlState{}

	intent := c.Decide(now, state, prodEntry(now, 2000), false, vehEntry(now, 50, true, false, 0), false)

	require.Equal(domain.IntentStart, intent.Kind)
	require.Equal(domain.ModeCharging, state.Mode)
	require.Equal(now, state.LastStart)
}

func TestNoStartBetweenThresholds(t *testing.T) {
	require := require.New(t)
	c := thresholdController()
	now := time.Now()
	state := &domain.ControlState{}

	// above stop, below start: hysteresis band, no action either way
	intent := c.Decide(now, state, prodEntry(now, 1000), false, vehEntry(now, 50, true, false, 0), false)
	require.Equal(domain.IntentNone, intent.Kind)

	state.Mode = domain.ModeCharging
	state.LastStart = now.Add(-time.Hour)
	intent = c.Decide(now, state, prodEntry(now, 1000), false, vehEntry(now, 50, true, true, 16), false)
	require.Equal(domain.IntentNone, intent.Kind)
	require.Equal(domain.ModeCharging, state.Mode)
}

func TestStopBelowStopThreshold(t *testing.T) {
	require := require.New(t)
	c := thresholdController()
	now := time.Now()
	state := &domain.ControlState{
		Mode:      domain.ModeCharging,
		LastStart: now.Add(-time.Hour),
	}

	intent := c.Decide(now, state, prodEntry(now, 200), false, vehEntry(now, 50, true, true, 16), false)

	require.Equal(domain.IntentStop, intent.Kind)
	require.Equal("export_below_stop", intent.Reason)
	require.Equal(domain.ModeIdle, state.Mode)
	require.Equal(now, state.LastStop)
}

func TestDwellFloorBlocksEarlyStop(t *testing.T) {
	require := require.New(t)
	c := thresholdController()
	now := time.Now()

	// a cloud passes two minutes into the session: min_on must hold the charge
	state := &domain.ControlState{
		Mode:      domain.ModeCharging,
		LastStart: now.Add(-2 * time.Minute),
	}
	intent := c.Decide(now, state, prodEntry(now, 100), false, vehEntry(now, 50, true, true, 16), false)
	require.Equal(domain.IntentNone, intent.Kind)
	require.Equal(domain.ModeCharging, state.Mode)

	// same signal once the floor has elapsed: stop goes through
	later := now.Add(9 * time.Minute)
	intent = c.Decide(later, state, prodEntry(later, 100), false, vehEntry(later, 50, true, true, 16), false)
	require.Equal(domain.IntentStop, intent.Kind)
}

func TestDwellFloorBlocksEarlyRestart(t *testing.T) {
	require := require.New(t)
	c := thresholdController()
	now := time.Now()

	state := &domain.ControlState{
		LastStop: now.Add(-1 * time.Minute),
	}
	intent := c.Decide(now, state, prodEntry(now, 2500), false, vehEntry(now, 50, true, false, 0), false)
	require.Equal(domain.IntentNone, intent.Kind)
	require.Equal(domain.ModeIdle, state.Mode)

	later := now.Add(5 * time.Minute)
	intent = c.Decide(later, state, prodEntry(later, 2500), false, vehEntry(later, 50, true, false, 0), false)
	require.Equal(domain.IntentStart, intent.Kind)
}

// No flapping: walk a noisy signal across a full day of cycles and verify the
// dwell floors bound the transition rate.
func TestDwellFloorsBoundTransitionRate(t *testing.T) {
	require := require.New(t)
	c := thresholdController()
	start := time.Now()
	state := &domain.ControlState{}

	// the signal alternates around the thresholds every cycle
	signals := []float64{2000, 100, 1900, 50, 2500, 0, 1600, 400}
	transitions := 0
	for i := 0; i < 24*60; i++ {
		now := start.Add(time.Duration(i) * time.Minute)
		signal := signals[i%len(signals)]
		veh := vehEntry(now, 50, true, state.Charging(), state.Amps)
		intent := c.Decide(now, state, prodEntry(now, signal), false, veh, false)
		if intent.Kind == domain.IntentStart || intent.Kind == domain.IntentStop {
			transitions++
		}
	}

	// min_on 10m + min_off 5m: a full on/off cycle needs at least 15 minutes
	maxTransitions := int(24*time.Hour/(c.MinOn+c.MinOff))*2 + 2
	require.LessOrEqual(transitions, maxTransitions)
	require.Greater(transitions, 0)
}

func TestSOCCeilingStopsBypassingDwell(t *testing.T) {
	require := require.New(t)
	c := thresholdController()
	now := time.Now()

	// started seconds ago; min_on would normally forbid a stop
	state := &domain.ControlState{
		Mode:      domain.ModeCharging,
		LastStart: now.Add(-10 * time.Second),
	}
	intent := c.Decide(now, state, prodEntry(now, 3000), false, vehEntry(now, 80, true, true, 16), false)

	require.Equal(domain.IntentStop, intent.Kind)
	require.Equal("soc_ceiling", intent.Reason)
	require.Equal(domain.ModeIdle, state.Mode)
}

func TestSOCCeilingBlocksStart(t *testing.T) {
	require := require.New(t)
	c := thresholdController()
	now := time.Now()
	state := &domain.ControlState{}

	intent := c.Decide(now, state, prodEntry(now, 3000), false, vehEntry(now, 85, true, false, 0), false)

	require.Equal(domain.IntentNone, intent.Kind)
	require.Equal(domain.ModeIdle, state.Mode)
}

func TestUnpluggedStopsBypassingDwell(t *testing.T) {
	require := require.New(t)
	c := thresholdController()
	now := time.Now()
	state := &domain.ControlState{
		Mode:      domain.ModeCharging,
		LastStart: now.Add(-10 * time.Second),
	}

	intent := c.Decide(now, state, prodEntry(now, 3000), false, vehEntry(now, 50, false, true, 16), false)

	require.Equal(domain.IntentStop, intent.Kind)
	require.Equal("unplugged", intent.Reason)
}

func TestUnpluggedIdleDoesNothing(t *testing.T) {
	require := require.New(t)
	c := thresholdController()
	now := time.Now()
	state := &domain.ControlState{}

	intent := c.Decide(now, state, prodEntry(now, 3000), false, vehEntry(now, 50, false, false, 0), false)
	require.Equal(domain.IntentNone, intent.Kind)
}

func TestWakeBelowStartThreshold(t *testing.T) {
	require := require.New(t)
	c := thresholdController()
	now := time.Now()
	state := &domain.ControlState{}

	veh := vehEntry(now, 50, true, false, 0)
	veh.Snapshot.Asleep = true

	// 0.8 * 1500 = 1200: production rising through the wake band
	intent := c.Decide(now, state, prodEntry(now, 1250), false, veh, false)
	require.Equal(domain.IntentWake, intent.Kind)
	require.Equal("pre_start_wake", intent.Reason)
	// wake is not a transition, clocks stay untouched
	require.Equal(domain.ModeIdle, state.Mode)
	require.True(state.LastStart.IsZero())
}

func TestNoWakeBelowWakeBand(t *testing.T) {
	require := require.New(t)
	c := thresholdController()
	now := time.Now()
	state := &domain.ControlState{}

	veh := vehEntry(now, 50, true, false, 0)
	veh.Snapshot.Asleep = true

	intent := c.Decide(now, state, prodEntry(now, 1100), false, veh, false)
	require.Equal(domain.IntentNone, intent.Kind)
}

func TestWakesOfflineVehicleWithMinimalSnapshot(t *testing.T) {
	require := require.New(t)
	c := thresholdController()
	now := time.Now()
	state := &domain.ControlState{}

	// the fleet list endpoint only knows the car is offline: no plug state,
	// no SOC. The zero-value PluggedIn must not be read as unplugged.
	veh := &domain.VehicleEntry{
		Snapshot:   domain.VehicleSnapshot{Asleep: true, Timestamp: now},
		CapturedAt: now,
	}

	intent := c.Decide(now, state, prodEntry(now, 2000), false, veh, false)
	require.Equal(domain.IntentWake, intent.Kind)
	require.Equal(domain.ModeIdle, state.Mode)

	intent = c.Decide(now, state, prodEntry(now, 1000), false, veh, false)
	require.Equal(domain.IntentNone, intent.Kind)
}

func TestStaleVehicleSnapshotDisablesWakeSkip(t *testing.T) {
	require := require.New(t)
	c := thresholdController()
	now := time.Now()
	state := &domain.ControlState{}

	// snapshot says awake but is stale; only an imminent start justifies a wake
	veh := vehEntry(now.Add(-time.Hour), 50, true, false, 0)

	intent := c.Decide(now, state, prodEntry(now, 1250), false, veh, true)
	require.Equal(domain.IntentNone, intent.Kind)

	intent = c.Decide(now, state, prodEntry(now, 1600), false, veh, true)
	require.Equal(domain.IntentWake, intent.Kind)
}

func TestDynamicStartRequiresStartFloor(t *testing.T) {
	require := require.New(t)
	c := dynamicController()
	now := time.Now()
	state := &domain.ControlState{}

	// 5.2 A of surplus quantizes to 5, below min_start_amps 6
	intent := c.Decide(now, state, prodEntry(now, 1200), false, vehEntry(now, 50, true, false, 0), false)
	require.Equal(domain.IntentNone, intent.Kind)

	// 6.5 A quantizes to 6, meets the start floor
	intent = c.Decide(now, state, prodEntry(now, 1500), false, vehEntry(now, 50, true, false, 0), false)
	require.Equal(domain.IntentStart, intent.Kind)
	require.Equal(6, intent.Amps)
	require.Equal(6, state.Amps)
}

func TestDynamicContinuesBelowStartFloor(t *testing.T) {
	require := require.New(t)
	c := dynamicController()
	now := time.Now()
	state := &domain.ControlState{
		Mode:      domain.ModeCharging,
		Amps:      6,
		LastStart: now.Add(-time.Hour),
	}

	// 5.2 A target: below min_start_amps but at min_amps, so keep charging
	intent := c.Decide(now, state, prodEntry(now, 1200), false, vehEntry(now, 50, true, true, 6), false)
	require.Equal(domain.IntentSetAmps, intent.Kind)
	require.Equal(5, intent.Amps)
	require.Equal(domain.ModeCharging, state.Mode)
}

func TestDynamicStopsBelowMinAmps(t *testing.T) {
	require := require.New(t)
	c := dynamicController()
	now := time.Now()
	state := &domain.ControlState{
		Mode:      domain.ModeCharging,
		Amps:      5,
		LastStart: now.Add(-time.Hour),
	}

	intent := c.Decide(now, state, prodEntry(now, 600), false, vehEntry(now, 50, true, true, 5), false)
	require.Equal(domain.IntentStop, intent.Kind)
	require.Equal("surplus_below_min_amps", intent.Reason)
}

func TestDynamicSuppressesRepeatLevels(t *testing.T) {
	require := require.New(t)
	c := dynamicController()
	now := time.Now()
	state := &domain.ControlState{
		Mode:      domain.ModeCharging,
		Amps:      10,
		LastStart: now.Add(-time.Hour),
	}

	// 2400 W / 230 V = 10.4 A, quantizes to 10 which the device already runs
	intent := c.Decide(now, state, prodEntry(now, 2400), false, vehEntry(now, 50, true, true, 10), false)
	require.Equal(domain.IntentNone, intent.Kind)
}

func TestDynamicHonorsDeviceMaxAmps(t *testing.T) {
	require := require.New(t)
	c := dynamicController()
	now := time.Now()
	state := &domain.ControlState{
		Mode:      domain.ModeCharging,
		Amps:      13,
		LastStart: now.Add(-time.Hour),
	}

	veh := vehEntry(now, 50, true, true, 13)
	veh.Snapshot.MaxAmps = 13

	// huge surplus, but the device caps at 13 A
	intent := c.Decide(now, state, prodEntry(now, 9000), false, veh, false)
	require.Equal(domain.IntentNone, intent.Kind)
}

func TestTargetAmpsAlwaysOnConfiguredStep(t *testing.T) {
	require := require.New(t)
	c := dynamicController()

	steps := map[int]bool{0: true}
	for _, s := range c.Dynamic.AmpSteps {
		steps[s] = true
	}
	for watts := 0.0; watts <= 6000; watts += 37 {
		target := c.TargetAmps(watts, 16)
		require.True(steps[target], "target %d for %f watts is not a configured step", target, watts)
	}
}

func TestTargetAmpsSubtractsHouseholdLoad(t *testing.T) {
	assert := assert.New(t)
	c := dynamicController()
	c.HouseholdLoadWatts = 500

	// 2000 - 500 = 1500 W -> 6.5 A -> step 6
	assert.Equal(6, c.TargetAmps(2000, 16))
	// without the reserve it would be 8
	c.HouseholdLoadWatts = 0
	assert.Equal(8, c.TargetAmps(2000, 16))
}

func TestColdCacheDecidesNothing(t *testing.T) {
	require := require.New(t)
	c := thresholdController()
	now := time.Now()
	state := &domain.ControlState{}

	intent := c.Decide(now, state, nil, false, nil, false)
	require.Equal(domain.IntentNone, intent.Kind)

	intent = c.Decide(now, state, prodEntry(now, 2000), false, nil, false)
	require.Equal(domain.IntentNone, intent.Kind)
}
