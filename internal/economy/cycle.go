// Package economy owns the world economy cycle and its daily sub-tick.
//
// The cycle (normal, boom, recession) is a world-level fact. Shifts are
// decided by a seeded draw keyed on the current day plus the previous cycle,
// so every runner that evaluates the same day reaches the same verdict; only
// the resulting state is persisted, never the draw.
package economy

import (
	"context"
	"fmt"
	"math"

	"github.com/limbopet/worldcore/internal/facts"
	"github.com/limbopet/worldcore/internal/platform/postgres"
	"github.com/limbopet/worldcore/internal/seeded"
	"github.com/limbopet/worldcore/internal/worldclock"
)

// Cycle states.
const (
	StateNormal    = "normal"
	StateBoom      = "boom"
	StateRecession = "recession"
)

const (
	factNamespace = "economy"
	cycleKey      = "economy:cycle"

	// minCycleDays is how long a cycle state holds before a shift is rolled.
	minCycleDays = 14
)

// Cycle is the persisted world economy state.
type Cycle struct {
	State             string  `json:"state"`
	DayStarted        string  `json:"day_started"`
	Severity          float64 `json:"severity"`
	RevenueMultiplier float64 `json:"revenue_multiplier"`
	PrizeMultiplier   float64 `json:"arena_prize_multiplier"`
}

func normalizeState(s string) string {
	switch s {
	case StateBoom, StateRecession, StateNormal:
		return s
	default:
		return StateNormal
	}
}

// buildCycle normalizes a cycle and derives its modifiers from the state.
func buildCycle(state, dayStarted string, severity float64) Cycle {
	c := Cycle{
		State:      normalizeState(state),
		DayStarted: dayStarted,
		Severity:   math.Round(clamp(severity, 0.5, 2.0)*100) / 100,
	}
	if !worldclock.IsISODay(c.DayStarted) {
		c.DayStarted = worldclock.TodayUTC()
	}

	switch c.State {
	case StateBoom:
		c.RevenueMultiplier = 1.3
		c.PrizeMultiplier = 1.5
	case StateRecession:
		c.RevenueMultiplier = 0.7
		c.PrizeMultiplier = 1.0
	default:
		c.RevenueMultiplier = 1.0
		c.PrizeMultiplier = 1.0
	}
	return c
}

func clamp(v, min, max float64) float64 {
	if math.IsNaN(v) || v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// GetCycle reads the current cycle, defaulting to a normal cycle started on
// the given day when the fact is absent or malformed.
func GetCycle(ctx context.Context, client postgres.Client, day string) Cycle {
	stored, ok, err := facts.Get[Cycle](ctx, client, worldclock.WorldSubject, factNamespace, cycleKey)
	if err != nil || !ok {
		return buildCycle(StateNormal, day, 1.0)
	}
	return buildCycle(stored.State, stored.DayStarted, stored.Severity)
}

// CycleResult reports one UpdateCycle evaluation.
type CycleResult struct {
	Cycle    Cycle
	Previous Cycle
	Changed  bool
}

// UpdateCycle evaluates whether the cycle shifts on the given day and
// persists the outcome. The fact row is locked for the caller's transaction
// so concurrent evaluations serialize.
//
// A shift is only rolled after the current state has held for minCycleDays.
// The draw key folds in the day, the previous cycle's start and its state, so
// the verdict is reproducible but changes as soon as a shift lands.
func UpdateCycle(ctx context.Context, client postgres.Client, day string) (CycleResult, error) {
	stored, ok, err := facts.GetForUpdate[Cycle](ctx, client, worldclock.WorldSubject, factNamespace, cycleKey)
	if err != nil {
		return CycleResult{}, err
	}

	previous := buildCycle(stored.State, stored.DayStarted, stored.Severity)
	if !ok {
		previous = buildCycle(StateNormal, day, 1.0)
	}

	next := previous
	changed := false
	if ok && worldclock.DaysBetween(previous.DayStarted, day) >= minCycleDays {
		src := seeded.NewSource(fmt.Sprintf("%s:%s:%s:ECONOMY_CYCLE", day, previous.DayStarted, previous.State))
		roll := src.Float64()
		severityRoll := src.Float64()

		state := StateNormal
		switch {
		case roll < 0.3:
			state = StateBoom
		case roll < 0.6:
			state = StateRecession
		}
		severity := 1.0
		if state != StateNormal {
			severity = 0.9 + severityRoll*0.6
		}
		next = buildCycle(state, day, severity)
		changed = previous.State != next.State
	}

	if err := facts.Upsert(ctx, client, worldclock.WorldSubject, factNamespace, cycleKey, next); err != nil {
		return CycleResult{}, err
	}
	return CycleResult{Cycle: next, Previous: previous, Changed: changed}, nil
}
