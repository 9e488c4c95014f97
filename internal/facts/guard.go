package facts

import (
	"context"
	"fmt"
	"time"

	"github.com/limbopet/worldcore/internal/platform/postgres"
)

// flag is the stored shape of an idempotency marker.
type flag struct {
	Applied   bool       `json:"applied"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
}

// GuardResult reports whether the guarded effect ran during this call.
type GuardResult struct {
	Applied bool
}

// WithOnceGuard applies an effect at most once per (subject, namespace,
// periodToken). The period token picks the semantics: a calendar-day token
// gives "once per day", a token derived from a changing external value (for
// example the last-active timestamp) gives "once per qualifying episode".
//
// The flag row is created on first sight and locked for the duration of the
// caller's transaction, so concurrent attempts serialize. apply and the flip
// to applied=true commit or roll back together: a failure in apply leaves the
// flag unset and the effect unapplied.
func WithOnceGuard(ctx context.Context, client postgres.Client, subject, namespace, periodToken string, apply func() error) (GuardResult, error) {
	if subject == "" || namespace == "" || periodToken == "" {
		return GuardResult{}, fmt.Errorf("once guard: subject, namespace and period token are required")
	}

	if err := EnsureDefault(ctx, client, subject, namespace, periodToken, flag{}); err != nil {
		return GuardResult{}, err
	}

	current, ok, err := GetForUpdate[flag](ctx, client, subject, namespace, periodToken)
	if err != nil {
		return GuardResult{}, err
	}
	if !ok {
		// The row was inserted above inside this transaction; absence here
		// means a concurrent transaction deleted it, which namespaces never do.
		return GuardResult{}, fmt.Errorf("once guard: flag %s/%s/%s vanished", subject, namespace, periodToken)
	}
	if current.Applied {
		return GuardResult{Applied: false}, nil
	}

	if err := apply(); err != nil {
		return GuardResult{}, fmt.Errorf("once guard %s/%s/%s: %w", subject, namespace, periodToken, err)
	}

	now := time.Now().UTC()
	if err := Upsert(ctx, client, subject, namespace, periodToken, flag{Applied: true, AppliedAt: &now}); err != nil {
		return GuardResult{}, err
	}
	return GuardResult{Applied: true}, nil
}
