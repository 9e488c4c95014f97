package postgres

import (
	"context"
	"fmt"
	"hash/fnv"
)

// LockKey names a two-part advisory lock. Namespace partitions lock families
// (the tick worker uses one fixed namespace); Key is hashed to the second
// int32 argument of pg_try_advisory_lock.
type LockKey struct {
	Namespace int32
	Key       string
}

func hashKey(key string) int32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int32(h.Sum32())
}

// TryAdvisoryLock attempts to take a session-scoped advisory lock without
// blocking. The lock is tied to the underlying connection's session: if the
// process dies, Postgres releases it when the session drops, so a crashed
// holder can never wedge future ticks.
//
// The client must be a connection-pinned handle (*sqlx.Conn); a pooled *sqlx.DB
// would acquire and release on arbitrary sessions.
func TryAdvisoryLock(ctx context.Context, client Client, key LockKey) (bool, error) {
	var ok bool
	row := client.QueryRowxContext(ctx, `SELECT pg_try_advisory_lock($1, $2)`, key.Namespace, hashKey(key.Key))
	if err := row.Scan(&ok); err != nil {
		return false, fmt.Errorf("try advisory lock: %w", err)
	}
	return ok, nil
}

// AdvisoryUnlock releases a lock previously taken on the same session.
func AdvisoryUnlock(ctx context.Context, client Client, key LockKey) error {
	var released bool
	row := client.QueryRowxContext(ctx, `SELECT pg_advisory_unlock($1, $2)`, key.Namespace, hashKey(key.Key))
	if err := row.Scan(&released); err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	if !released {
		return fmt.Errorf("advisory unlock: lock %d/%q was not held", key.Namespace, key.Key)
	}
	return nil
}
