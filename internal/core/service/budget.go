package service

import (
	"sync"
	"time"

	"github.com/masontrang-dev/solar-charger/internal/core/domain"

	"go.uber.org/zap"
)

// Default call weights. Commands are twice as expensive as telemetry reads:
// they hit the signing proxy and the vehicle has to act on them.
var defaultCallCosts = map[domain.CallClass]uint{
	domain.CallTelemetry:    1,
	domain.CallVehicleState: 1,
	domain.CallCommand:      2,
	domain.CallWake:         2,
}

// CallBudget gates remote API calls against a rolling daily ceiling. It is a
// pure gate: a denied consume has no side effect and is never an error.
// Accepted calls are counted at attempt time, regardless of whether the
// downstream call later succeeds.
type CallBudget struct {
	mu          sync.Mutex
	ceiling     uint
	costs       map[domain.CallClass]uint
	count       uint
	windowStart time.Time
	loc         *time.Location
	logger      *zap.Logger
}

func NewCallBudget(ceiling uint, loc *time.Location, logger *zap.Logger) *CallBudget {
	if loc == nil {
		loc = time.Local
	}
	return &CallBudget{
		ceiling: ceiling,
		costs:   defaultCallCosts,
		loc:     loc,
		logger:  logger,
	}
}

// TryConsume reports whether a call of the given class is allowed right now
// and, if so, charges its cost to the current window.
func (b *CallBudget) TryConsume(now time.Time, class domain.CallClass) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rolloverLocked(now)

	cost := b.costLocked(class)
	if b.count+cost > b.ceiling {
		b.logger.Info("budget: call denied",
			zap.String("class", class.String()),
			zap.Uint("used", b.count),
			zap.Uint("ceiling", b.ceiling))
		return false
	}
	b.count += cost
	return true
}

// Cost returns the weight a call class charges against the ceiling.
func (b *CallBudget) Cost(class domain.CallClass) uint {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.costLocked(class)
}

// Used returns current consumption and the ceiling, applying any pending
// window rollover first.
func (b *CallBudget) Used(now time.Time) (uint, uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rolloverLocked(now)
	return b.count, b.ceiling
}

// Rollover forces the window-boundary check. Idempotent: calling it twice at
// the same instant leaves the same post-state as calling it once.
func (b *CallBudget) Rollover(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rolloverLocked(now)
}

func (b *CallBudget) costLocked(class domain.CallClass) uint {
	if cost, ok := b.costs[class]; ok {
		return cost
	}
	return 1
}

func (b *CallBudget) rolloverLocked(now time.Time) {
	boundary := b.windowBoundary(now)
	if boundary.After(b.windowStart) {
		if !b.windowStart.IsZero() {
			b.logger.Info("budget: window reset",
				zap.Time("boundary", boundary),
				zap.Uint("previous_used", b.count))
		}
		b.windowStart = boundary
		b.count = 0
	}
}

// windowBoundary is midnight of the current calendar day in the configured
// location.
func (b *CallBudget) windowBoundary(now time.Time) time.Time {
	local := now.In(b.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, b.loc)
}
