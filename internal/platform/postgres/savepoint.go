package postgres

import (
	"context"
	"math/rand"
	"regexp"
	"strings"

	"github.com/limbopet/worldcore/pkg/logger"
)

var savepointLabelRe = regexp.MustCompile(`[^a-z0-9_]+`)

// savepointName builds a unique, SQL-safe savepoint identifier. Uniqueness
// matters because RunIsolated composes: a unit may open further savepoints
// while its own is still active.
func savepointName(label string) string {
	safe := savepointLabelRe.ReplaceAllString(strings.ToLower(label), "_")
	safe = strings.TrimLeft(safe, "_")
	if len(safe) > 24 {
		safe = safe[:24]
	}
	if safe == "" {
		safe = "sp"
	}
	return "sp_" + safe + "_" + randomSuffix()
}

const suffixAlphabet = "0123456789abcdef"

func randomSuffix() string {
	b := make([]byte, 8)
	for i := range b {
		b[i] = suffixAlphabet[rand.Intn(len(suffixAlphabet))]
	}
	return string(b)
}

// RunIsolated executes fn inside a savepoint on the caller's transaction.
//
// On success the savepoint is released and the unit's result returned. On
// failure only the savepoint is rolled back: the unit's partial writes are
// discarded, fallback is returned together with the unit's error, and the
// enclosing transaction plus every sibling unit that already completed stay
// intact. Without the rollback a single failed statement would poison the
// whole Postgres transaction (25P02) and abort unrelated later work.
//
// The returned error is informational: by the time RunIsolated returns, the
// transaction is healthy again and the caller may continue with the next
// unit or record the failure.
//
// RunIsolated nests: fn may itself call RunIsolated for finer-grained units.
func RunIsolated[T any](ctx context.Context, client Client, log *logger.Logger, label string, fallback T, fn func() (T, error)) (T, error) {
	sp := savepointName(label)

	if _, err := client.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
		// Not inside a transaction block; run plain and absorb.
		result, err := fn()
		if err != nil {
			log.WithError(err).WithField("unit", label).Warn("isolated unit failed outside transaction")
			return fallback, err
		}
		return result, nil
	}

	result, err := fn()
	if err != nil {
		if _, rbErr := client.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp); rbErr != nil {
			log.WithError(rbErr).WithField("unit", label).Error("savepoint rollback failed")
			return fallback, err
		}
		_, _ = client.ExecContext(ctx, "RELEASE SAVEPOINT "+sp)
		log.WithError(err).WithField("unit", label).Warn("isolated unit rolled back")
		return fallback, err
	}

	if _, err := client.ExecContext(ctx, "RELEASE SAVEPOINT "+sp); err != nil {
		log.WithError(err).WithField("unit", label).Error("savepoint release failed")
	}
	return result, nil
}
