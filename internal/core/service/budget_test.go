package service

import (
	"testing"
	"time"

	"github.com/masontrang-dev/solar-charger/internal/core/domain"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBudgetConsumesWeightedCosts(t *testing.T) {
	require := require.New(t)
	b := NewCallBudget(10, time.UTC, zap.NewNop())
	now := time.Now()

	require.True(b.TryConsume(now, domain.CallTelemetry))
	require.True(b.TryConsume(now, domain.CallVehicleState))
	require.True(b.TryConsume(now, domain.CallCommand))
	require.True(b.TryConsume(now, domain.CallWake))

	used, ceiling := b.Used(now)
	require.EqualValues(6, used)
	require.EqualValues(10, ceiling)
}

func TestBudgetDeniesAtCeilingWithoutCharging(t *testing.T) {
	require := require.New(t)
	b := NewCallBudget(3, time.UTC, zap.NewNop())
	now := time.Now()

	require.True(b.TryConsume(now, domain.CallTelemetry))
	require.True(b.TryConsume(now, domain.CallTelemetry))

	// a command costs 2 and would land at 4 > 3
	require.False(b.TryConsume(now, domain.CallCommand))
	used, _ := b.Used(now)
	require.EqualValues(2, used, "denied call must not consume")

	// a cheaper call still fits
	require.True(b.TryConsume(now, domain.CallTelemetry))
	require.False(b.TryConsume(now, domain.CallTelemetry))
}

func TestBudgetRollsOverAtMidnight(t *testing.T) {
	require := require.New(t)
	b := NewCallBudget(2, time.UTC, zap.NewNop())

	day1 := time.Date(2026, 6, 15, 23, 50, 0, 0, time.UTC)
	require.True(b.TryConsume(day1, domain.CallCommand))
	require.False(b.TryConsume(day1, domain.CallTelemetry))

	day2 := time.Date(2026, 6, 16, 0, 5, 0, 0, time.UTC)
	require.True(b.TryConsume(day2, domain.CallTelemetry))
	used, _ := b.Used(day2)
	require.EqualValues(1, used)
}

func TestBudgetRolloverIsIdempotent(t *testing.T) {
	require := require.New(t)
	b := NewCallBudget(10, time.UTC, zap.NewNop())

	day := time.Date(2026, 6, 16, 8, 0, 0, 0, time.UTC)
	require.True(b.TryConsume(day, domain.CallCommand))

	b.Rollover(day)
	b.Rollover(day)
	used, _ := b.Used(day)
	require.EqualValues(2, used, "same-day rollover must not reset the count")
}

func TestBudgetWindowFollowsLocation(t *testing.T) {
	require := require.New(t)
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(err)
	b := NewCallBudget(2, loc, zap.NewNop())

	// 07:30 UTC is 23:30 the previous day in Los Angeles
	before := time.Date(2026, 6, 16, 7, 30, 0, 0, time.UTC)
	require.True(b.TryConsume(before, domain.CallCommand))
	require.False(b.TryConsume(before, domain.CallTelemetry))

	// 08:30 UTC crosses local midnight, the window resets
	after := time.Date(2026, 6, 16, 8, 30, 0, 0, time.UTC)
	require.True(b.TryConsume(after, domain.CallTelemetry))
}
