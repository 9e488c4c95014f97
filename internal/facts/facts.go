// Package facts implements the generic (subject, namespace, key) -> JSON
// record store. Every schemaless piece of world state lives here: the current
// day, tick status, idempotency flags, economy cycle, per-pet condition.
// Adding a new idempotent effect means claiming a namespace, not a migration.
//
// The underlying storage stays generic; callers decode values into their own
// typed schemas at this boundary via the generic helpers.
package facts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/limbopet/worldcore/internal/platform/postgres"
)

// Fact is one raw record.
type Fact struct {
	Subject   string          `db:"subject"`
	Namespace string          `db:"namespace"`
	Key       string          `db:"key"`
	Value     json.RawMessage `db:"value"`
	UpdatedAt time.Time       `db:"updated_at"`
}

// Get loads and decodes a fact value. The second return reports presence.
func Get[T any](ctx context.Context, client postgres.Client, subject, namespace, key string) (T, bool, error) {
	var zero T

	row := client.QueryRowxContext(ctx, `
		SELECT value FROM facts
		WHERE subject = $1 AND namespace = $2 AND key = $3
	`, subject, namespace, key)

	var raw json.RawMessage
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("get fact %s/%s/%s: %w", subject, namespace, key, err)
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false, fmt.Errorf("decode fact %s/%s/%s: %w", subject, namespace, key, err)
	}
	return v, true, nil
}

// GetForUpdate loads and decodes a fact value while taking a row lock, so the
// caller's transaction serializes with concurrent writers of the same fact.
func GetForUpdate[T any](ctx context.Context, client postgres.Client, subject, namespace, key string) (T, bool, error) {
	var zero T

	row := client.QueryRowxContext(ctx, `
		SELECT value FROM facts
		WHERE subject = $1 AND namespace = $2 AND key = $3
		FOR UPDATE
	`, subject, namespace, key)

	var raw json.RawMessage
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("lock fact %s/%s/%s: %w", subject, namespace, key, err)
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false, fmt.Errorf("decode fact %s/%s/%s: %w", subject, namespace, key, err)
	}
	return v, true, nil
}

// Upsert writes a fact value, replacing any previous one.
func Upsert(ctx context.Context, client postgres.Client, subject, namespace, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode fact %s/%s/%s: %w", subject, namespace, key, err)
	}

	_, err = client.ExecContext(ctx, `
		INSERT INTO facts (subject, namespace, key, value, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (subject, namespace, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, subject, namespace, key, raw)
	if err != nil {
		return fmt.Errorf("upsert fact %s/%s/%s: %w", subject, namespace, key, err)
	}
	return nil
}

// EnsureDefault inserts a fact with the given value only when absent.
func EnsureDefault(ctx context.Context, client postgres.Client, subject, namespace, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode fact %s/%s/%s: %w", subject, namespace, key, err)
	}

	_, err = client.ExecContext(ctx, `
		INSERT INTO facts (subject, namespace, key, value, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (subject, namespace, key) DO NOTHING
	`, subject, namespace, key, raw)
	if err != nil {
		return fmt.Errorf("ensure fact %s/%s/%s: %w", subject, namespace, key, err)
	}
	return nil
}

// Delete removes a fact. Missing rows are not an error.
func Delete(ctx context.Context, client postgres.Client, subject, namespace, key string) error {
	_, err := client.ExecContext(ctx, `
		DELETE FROM facts
		WHERE subject = $1 AND namespace = $2 AND key = $3
	`, subject, namespace, key)
	if err != nil {
		return fmt.Errorf("delete fact %s/%s/%s: %w", subject, namespace, key, err)
	}
	return nil
}
