package tick

import (
	"context"
	"time"

	"github.com/limbopet/worldcore/internal/facts"
	"github.com/limbopet/worldcore/internal/platform/postgres"
	"github.com/limbopet/worldcore/internal/worldclock"
)

const (
	statusNamespace = "world_worker"
	statusKey       = "last_tick"
)

// TickStatus is the persisted outcome of the most recent tick. Operators read
// it to tell "tick is failing" apart from "tick is not running at all".
type TickStatus struct {
	Day        string    `json:"day"`
	OK         bool      `json:"ok"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	Errors     []string  `json:"errors,omitempty"`
}

func writeStatus(ctx context.Context, client postgres.Client, status TickStatus) error {
	return facts.Upsert(ctx, client, worldclock.WorldSubject, statusNamespace, statusKey, status)
}

// LastStatus loads the most recent tick outcome. The second return reports
// whether any tick has ever completed.
func LastStatus(ctx context.Context, client postgres.Client) (TickStatus, bool, error) {
	return facts.Get[TickStatus](ctx, client, worldclock.WorldSubject, statusNamespace, statusKey)
}
