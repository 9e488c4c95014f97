// Package tick drives the once-per-interval world advancement. A single
// orchestrator invocation takes a session-scoped advisory lock, resolves the
// world day, runs every registered sub-tick inside one transaction (each one
// fenced by a savepoint so a failing sub-tick cannot poison its siblings) and
// records the outcome as a status fact.
package tick

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/limbopet/worldcore/internal/platform/postgres"
	"github.com/limbopet/worldcore/internal/worldclock"
	"github.com/limbopet/worldcore/pkg/logger"
)

// lockNamespace partitions the tick mutex from any other advisory lock user.
const lockNamespace = 41001

// SubTickFunc is one unit of daily work. It runs inside the orchestrator's
// transaction and must treat client as such: no commits, no session state.
type SubTickFunc func(ctx context.Context, client postgres.Client, day string) error

type subtick struct {
	name string
	fn   SubTickFunc
}

// Orchestrator owns the tick critical section for one world.
type Orchestrator struct {
	db             *sqlx.DB
	log            *logger.Logger
	lock           postgres.LockKey
	pinToSystemDay bool
	metrics        *Metrics
	subticks       []subtick
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithMetrics attaches tick metrics.
func WithMetrics(m *Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// PinToSystemDay makes every run use the real UTC calendar day instead of the
// stored day fact. This is the production setting; leaving it off lets dev
// tooling fast-forward the world.
func PinToSystemDay() OrchestratorOption {
	return func(o *Orchestrator) { o.pinToSystemDay = true }
}

// NewOrchestrator creates an orchestrator for the named world. The world name
// becomes the advisory-lock key, so two processes ticking the same world
// exclude each other while different worlds proceed independently.
func NewOrchestrator(db *sqlx.DB, log *logger.Logger, world string, opts ...OrchestratorOption) *Orchestrator {
	if log == nil {
		log = logger.NewDefault("tick")
	}
	o := &Orchestrator{
		db:   db,
		log:  log,
		lock: postgres.LockKey{Namespace: lockNamespace, Key: world},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register appends a sub-tick. Order is fixed: sub-ticks run in registration
// order on every tick.
func (o *Orchestrator) Register(name string, fn SubTickFunc) {
	o.subticks = append(o.subticks, subtick{name: name, fn: fn})
}

// Result reports one RunOnce invocation.
type Result struct {
	// Ran is false when another runner held the lock; nothing happened.
	Ran      bool
	Day      string
	OK       bool
	Errors   []string
	Duration time.Duration
}

// RunOnce performs a single tick attempt.
//
// Losing the lock race is a normal outcome, not an error: the holder is doing
// the same work, so the result just reports Ran=false. The returned error
// covers infrastructure only (connection, begin, commit); sub-tick failures
// are absorbed by their savepoints and surface in Result.Errors.
func (o *Orchestrator) RunOnce(ctx context.Context) (Result, error) {
	started := time.Now()

	// The lock is session-scoped, so it lives on a pinned connection for the
	// whole tick. If this process dies mid-tick, Postgres drops the session
	// and the lock with it.
	conn, err := o.db.Connx(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("acquire tick connection: %w", err)
	}
	defer conn.Close()

	acquired, err := postgres.TryAdvisoryLock(ctx, conn, o.lock)
	if err != nil {
		return Result{}, err
	}
	if !acquired {
		o.log.WithField("world", o.lock.Key).Info("tick already running elsewhere, skipping")
		o.observe("skipped", 0)
		return Result{}, nil
	}
	defer func() {
		if err := postgres.AdvisoryUnlock(ctx, conn, o.lock); err != nil {
			o.log.WithError(err).Warn("tick unlock failed, session close will release")
		}
	}()

	day := worldclock.TodayUTC()
	if !o.pinToSystemDay {
		day = worldclock.CurrentDay(ctx, conn, day)
	}

	result := Result{Ran: true, Day: day}

	if err := o.runSubTicks(ctx, day, &result); err != nil {
		// The failed transaction is already rolled back, so the pinned
		// connection can still record the outcome. Without this a fatally
		// failing tick is indistinguishable from one that never ran.
		elapsed := time.Since(started)
		status := TickStatus{
			Day:        day,
			OK:         false,
			StartedAt:  started.UTC(),
			DurationMs: elapsed.Milliseconds(),
			Errors:     []string{err.Error()},
		}
		if werr := writeStatus(ctx, conn, status); werr != nil {
			o.log.WithError(werr).Error("tick status write failed")
		}
		o.observe("error", elapsed)
		return Result{}, err
	}

	result.OK = len(result.Errors) == 0
	result.Duration = time.Since(started)

	status := TickStatus{
		Day:        day,
		OK:         result.OK,
		StartedAt:  started.UTC(),
		DurationMs: result.Duration.Milliseconds(),
		Errors:     result.Errors,
	}
	if err := writeStatus(ctx, conn, status); err != nil {
		o.log.WithError(err).Error("tick status write failed")
	}

	if result.OK {
		o.observe("ok", result.Duration)
	} else {
		o.observe("error", result.Duration)
	}
	o.log.WithFields(map[string]interface{}{
		"day":         day,
		"ok":          result.OK,
		"failures":    len(result.Errors),
		"duration_ms": result.Duration.Milliseconds(),
	}).Info("tick finished")
	return result, nil
}

// runSubTicks executes every registered sub-tick inside one transaction.
func (o *Orchestrator) runSubTicks(ctx context.Context, day string, result *Result) error {
	tx, err := o.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tick transaction: %w", err)
	}
	defer tx.Rollback()

	if err := worldclock.SetCurrentDay(ctx, tx, day, "tick"); err != nil {
		return err
	}

	for _, st := range o.subticks {
		_, err := postgres.RunIsolated(ctx, tx, o.log, st.name, struct{}{}, func() (struct{}, error) {
			return struct{}{}, st.fn(ctx, tx, day)
		})
		if err != nil {
			result.Errors = append(result.Errors, st.name+": "+err.Error())
			if o.metrics != nil {
				o.metrics.SubTickFailures.WithLabelValues(st.name).Inc()
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tick transaction: %w", err)
	}
	return nil
}

func (o *Orchestrator) observe(outcome string, d time.Duration) {
	if o.metrics == nil {
		return
	}
	o.metrics.TicksTotal.WithLabelValues(outcome).Inc()
	if outcome != "skipped" {
		o.metrics.TickDuration.Observe(d.Seconds())
	}
}
