// Package worldclock owns the "current simulated day" singleton fact.
//
// The world's day is decoupled from wall-clock time: every sub-tick within
// one orchestrator invocation must agree on the day even while real time
// keeps moving, and non-production tooling needs to fast-forward the
// simulation without touching the system clock. In production the
// orchestrator always pins the fact to the real calendar day.
package worldclock

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/limbopet/worldcore/internal/facts"
	"github.com/limbopet/worldcore/internal/platform/postgres"
)

// WorldSubject is the well-known subject that carries world-level facts.
const WorldSubject = "world_core"

const (
	factNamespace = "world"
	factKey       = "current_day"
)

var isoDayRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// DayFact is the stored shape of the singleton day record.
type DayFact struct {
	Day    string    `json:"day"`
	Source string    `json:"source,omitempty"`
	SetAt  time.Time `json:"set_at"`
}

// IsISODay reports whether s is a YYYY-MM-DD calendar day.
func IsISODay(s string) bool {
	if !isoDayRe.MatchString(s) {
		return false
	}
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

// TodayUTC returns the current wall-clock day in UTC.
func TodayUTC() string {
	return time.Now().UTC().Format("2006-01-02")
}

// ParseDay converts an ISO day into its UTC midnight instant.
func ParseDay(day string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", day)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse day %q: %w", day, err)
	}
	return t.UTC(), nil
}

// DaysBetween returns the whole days from one ISO day to another, floored at
// zero when the order is reversed or either day is malformed.
func DaysBetween(from, to string) int {
	a, errA := ParseDay(from)
	b, errB := ParseDay(to)
	if errA != nil || errB != nil {
		return 0
	}
	d := int(b.Sub(a).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// CurrentDay reads the singleton day fact, returning fallback when the fact
// is absent or malformed.
func CurrentDay(ctx context.Context, client postgres.Client, fallback string) string {
	base := fallback
	if !IsISODay(base) {
		base = TodayUTC()
	}

	fact, ok, err := facts.Get[DayFact](ctx, client, WorldSubject, factNamespace, factKey)
	if err != nil || !ok || !IsISODay(fact.Day) {
		return base
	}
	return fact.Day
}

// SetCurrentDay upserts the singleton day fact. In production only the
// orchestrator calls this, pinned to the system day; dev tooling may advance
// the day arbitrarily.
func SetCurrentDay(ctx context.Context, client postgres.Client, day, source string) error {
	if !IsISODay(day) {
		return fmt.Errorf("set current day: %q is not an ISO day", day)
	}
	return facts.Upsert(ctx, client, WorldSubject, factNamespace, factKey, DayFact{
		Day:    day,
		Source: source,
		SetAt:  time.Now().UTC(),
	})
}
