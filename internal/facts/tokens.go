package facts

import "time"

// DayToken builds a once-per-day period token from an ISO calendar day.
// A new day naturally yields a new token, so day-scoped flags reset without
// any cleanup.
func DayToken(day string) string {
	return "day:" + day
}

// EpisodeToken builds a once-per-episode period token from a monotonically
// changing property of the subject, typically its last-active timestamp.
// Each qualifying episode (a distinct absence, say) produces a distinct
// token, so the guarded effect fires once per episode rather than once ever.
func EpisodeToken(prefix string, at time.Time) string {
	return prefix + ":" + at.UTC().Format(time.RFC3339)
}
