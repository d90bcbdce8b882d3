package service

import (
	"math"
	"time"

	"github.com/masontrang-dev/solar-charger/internal/core/domain"

	"go.uber.org/zap"
)

// Distance from the start threshold beyond which polling drops from medium to
// slow, expressed as a multiple of the near-threshold margin.
const slowTierMarginFactor = 3

// PollPlanner picks when to poll and at what resolution. It never talks to
// the budget itself: the control loop asks the budget after planning and
// demotes the plan on denial.
type PollPlanner struct {
	Fast             time.Duration
	Medium           time.Duration
	Slow             time.Duration
	NearThresholdW   float64
	StartExportWatts float64
	Logger           *zap.Logger
}

// Plan computes the next poll action, in priority order: cold-cache boot
// first, then night sleep, then charging urgency, then threshold proximity.
func (p *PollPlanner) Plan(now time.Time, state *domain.ControlState,
	prod *domain.ProductionEntry, veh *domain.VehicleEntry, daytime bool) domain.PollPlan {

	if prod == nil || veh == nil {
		// decisions no-op until both kinds are live, so an empty slot of
		// either kind keeps boot urgency
		return p.plan(now, domain.ActionPoll, domain.TierFast, "cold_cache")
	}

	if !daytime && !state.Charging() {
		return p.plan(now, domain.ActionSleep, domain.TierSlow, "night")
	}

	if state.Charging() {
		// SOC ceiling and stop conditions must be observed promptly
		return p.plan(now, domain.ActionPoll, domain.TierFast, "charging")
	}

	distance := math.Abs(prod.Snapshot.Signal() - p.StartExportWatts)
	switch {
	case distance <= p.NearThresholdW:
		return p.plan(now, domain.ActionPoll, domain.TierFast, "near_threshold")
	case distance <= slowTierMarginFactor*p.NearThresholdW:
		return p.plan(now, domain.ActionPoll, domain.TierMedium, "approaching_threshold")
	default:
		return p.plan(now, domain.ActionPoll, domain.TierSlow, "far_from_threshold")
	}
}

// Demote turns a denied poll into a cache read. The next poll moves out by
// the denied tier's full interval so a drained budget never busy-retries.
func (p *PollPlanner) Demote(plan domain.PollPlan, now time.Time) domain.PollPlan {
	p.Logger.Info("planner: poll denied by budget, serving cache",
		zap.String("tier", plan.Tier.String()))
	plan.Action = domain.ActionUseCache
	plan.Reason = "budget_denied"
	plan.NextAt = now.Add(plan.Interval)
	return plan
}

func (p *PollPlanner) Interval(tier domain.PollTier) time.Duration {
	switch tier {
	case domain.TierFast:
		return p.Fast
	case domain.TierMedium:
		return p.Medium
	default:
		return p.Slow
	}
}

func (p *PollPlanner) plan(now time.Time, action domain.PollAction, tier domain.PollTier, reason string) domain.PollPlan {
	interval := p.Interval(tier)
	return domain.PollPlan{
		Action:   action,
		Tier:     tier,
		Interval: interval,
		Reason:   reason,
		NextAt:   now.Add(interval),
	}
}
