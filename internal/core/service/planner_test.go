package service

import (
	"testing"
	"time"

	"github.com/masontrang-dev/solar-charger/internal/core/domain"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testPlanner() *PollPlanner {
	return &PollPlanner{
		Fast:             30 * time.Second,
		Medium:           2 * time.Minute,
		Slow:             10 * time.Minute,
		NearThresholdW:   400,
		StartExportWatts: 1500,
		Logger:           zap.NewNop(),
	}
}

func TestPlanColdCacheForcesFastPoll(t *testing.T) {
	require := require.New(t)
	p := testPlanner()
	now := time.Now()

	// cold cache wins even at night
	plan := p.Plan(now, &domain.ControlState{}, nil, nil, false)

	require.Equal(domain.ActionPoll, plan.Action)
	require.Equal(domain.TierFast, plan.Tier)
	require.Equal("cold_cache", plan.Reason)
	require.Equal(now.Add(p.Fast), plan.NextAt)
}

func TestPlanColdVehicleCacheForcesFastPoll(t *testing.T) {
	require := require.New(t)
	p := testPlanner()
	now := time.Now()

	// warm production but no vehicle snapshot yet (first vehicle poll failed
	// or was denied): decisions cannot run, so the plan must stay urgent
	// instead of dropping to a distance-based tier
	plan := p.Plan(now, &domain.ControlState{}, prodEntry(now, 2400), nil, true)

	require.Equal(domain.ActionPoll, plan.Action)
	require.Equal(domain.TierFast, plan.Tier)
	require.Equal("cold_cache", plan.Reason)
}

func TestPlanNightSleepsUnlessCharging(t *testing.T) {
	require := require.New(t)
	p := testPlanner()
	now := time.Now()
	prod := prodEntry(now, 0)
	veh := vehEntry(now, 50, true, false, 0)

	plan := p.Plan(now, &domain.ControlState{}, prod, veh, false)
	require.Equal(domain.ActionSleep, plan.Action)
	require.Equal(domain.TierSlow, plan.Tier)

	// a charging session holds fast polling through the night
	charging := &domain.ControlState{Mode: domain.ModeCharging}
	plan = p.Plan(now, charging, prod, vehEntry(now, 50, true, true, 16), false)
	require.Equal(domain.ActionPoll, plan.Action)
	require.Equal(domain.TierFast, plan.Tier)
	require.Equal("charging", plan.Reason)
}

func TestPlanTierByThresholdDistance(t *testing.T) {
	require := require.New(t)
	p := testPlanner()
	now := time.Now()
	state := &domain.ControlState{}
	veh := vehEntry(now, 50, true, false, 0)

	// |1400 - 1500| = 100 <= 400
	plan := p.Plan(now, state, prodEntry(now, 1400), veh, true)
	require.Equal(domain.TierFast, plan.Tier)

	// |2400 - 1500| = 900 <= 1200
	plan = p.Plan(now, state, prodEntry(now, 2400), veh, true)
	require.Equal(domain.TierMedium, plan.Tier)

	// |100 - 1500| = 1400 > 1200
	plan = p.Plan(now, state, prodEntry(now, 100), veh, true)
	require.Equal(domain.TierSlow, plan.Tier)
}

func TestDemoteServesCacheAndBacksOff(t *testing.T) {
	require := require.New(t)
	p := testPlanner()
	now := time.Now()

	plan := p.Plan(now, &domain.ControlState{}, prodEntry(now, 1400), vehEntry(now, 50, true, false, 0), true)
	demoted := p.Demote(plan, now)

	require.Equal(domain.ActionUseCache, demoted.Action)
	require.Equal("budget_denied", demoted.Reason)
	require.Equal(domain.TierFast, demoted.Tier)
	require.Equal(now.Add(p.Fast), demoted.NextAt)
}
