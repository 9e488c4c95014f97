// Package decay applies inactivity pressure to accounts: a small daily
// condition loss for everyone, and a harsher one-time penalty per absence
// episode once a subject has been away for a week.
package decay

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/limbopet/worldcore/internal/facts"
	"github.com/limbopet/worldcore/internal/ledger"
	"github.com/limbopet/worldcore/internal/platform/postgres"
	"github.com/limbopet/worldcore/internal/worldclock"
	"github.com/limbopet/worldcore/pkg/logger"
)

const (
	stateNamespace = "state"
	conditionKey   = "condition"

	dailyNamespace   = "decay"
	absenceNamespace = "decay7"

	defaultCondition = 70
	dailyStep        = 3
	dailyFloor       = 30

	absenceDays       = 7
	absenceStep       = 30
	absenceBurn       = 100
	maxAccountsPerDay = 2000
)

// Condition is the per-subject condition fact.
type Condition struct {
	Condition  int    `json:"condition"`
	UpdatedDay string `json:"updated_day,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Service runs the decay sub-tick.
type Service struct {
	ledger *ledger.Service
	log    *logger.Logger
}

// New creates the decay service.
func New(ledgerSvc *ledger.Service, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("decay")
	}
	return &Service{ledger: ledgerSvc, log: log}
}

type accountRow struct {
	Subject      string     `db:"subject"`
	LastActiveAt *time.Time `db:"last_active_at"`
}

// SubTick processes every non-world account for one world day. Each account
// runs in its own savepoint: one poisoned account cannot take down the rest
// of the batch, and an account that fails today is retried on the next tick
// because its guards never flipped.
func (s *Service) SubTick(ctx context.Context, client postgres.Client, day string) error {
	// Stalest accounts first: when the batch cap bites, never-active and
	// long-absent accounts still make the cut instead of a fixed prefix of
	// subjects claiming every slot.
	var accounts []accountRow
	err := sqlx.SelectContext(ctx, client, &accounts, `
		SELECT subject, last_active_at FROM accounts
		WHERE subject <> $1
		ORDER BY last_active_at ASC NULLS FIRST, subject
		LIMIT $2
	`, worldclock.WorldSubject, maxAccountsPerDay)
	if err != nil {
		return fmt.Errorf("list accounts for decay: %w", err)
	}

	processed, failed := 0, 0
	for _, account := range accounts {
		_, err := postgres.RunIsolated(ctx, client, s.log, "decay_"+account.Subject, struct{}{}, func() (struct{}, error) {
			return struct{}{}, s.processAccount(ctx, client, day, account)
		})
		if err != nil {
			failed++
			continue
		}
		processed++
	}

	s.log.WithFields(map[string]interface{}{
		"day":       day,
		"processed": processed,
		"failed":    failed,
	}).Info("decay sub-tick finished")
	return nil
}

func (s *Service) processAccount(ctx context.Context, client postgres.Client, day string, account accountRow) error {
	// Daily condition loss, once per calendar day.
	_, err := facts.WithOnceGuard(ctx, client, account.Subject, dailyNamespace, facts.DayToken(day), func() error {
		return s.lowerCondition(ctx, client, account.Subject, day, dailyStep, dailyFloor, "decay:daily")
	})
	if err != nil {
		return err
	}

	// Absence penalty. An account with no recorded activity has no episode to
	// key on, so it only decays daily until it is touched once.
	if account.LastActiveAt == nil {
		return nil
	}
	lastDay := account.LastActiveAt.UTC().Format("2006-01-02")
	if worldclock.DaysBetween(lastDay, day) < absenceDays {
		return nil
	}

	// Keyed by the exact last-activity instant: one penalty per absence
	// episode, and a fresh episode starts the moment the subject comes back.
	token := facts.EpisodeToken("absent", *account.LastActiveAt)
	_, err = facts.WithOnceGuard(ctx, client, account.Subject, absenceNamespace, token, func() error {
		if err := s.lowerCondition(ctx, client, account.Subject, day, absenceStep, 0, "decay:absent"); err != nil {
			return err
		}
		return s.burnForAbsence(ctx, client, account.Subject, day)
	})
	return err
}

// lowerCondition drops a subject's condition by step, not below floor. The
// fact row is created at the default and locked for the transaction.
func (s *Service) lowerCondition(ctx context.Context, client postgres.Client, subject, day string, step, floor int, reason string) error {
	if err := facts.EnsureDefault(ctx, client, subject, stateNamespace, conditionKey, Condition{Condition: defaultCondition}); err != nil {
		return err
	}
	current, ok, err := facts.GetForUpdate[Condition](ctx, client, subject, stateNamespace, conditionKey)
	if err != nil {
		return err
	}
	if !ok {
		current = Condition{Condition: defaultCondition}
	}

	after := clampInt(current.Condition, 0, 100) - step
	if after < floor {
		after = floor
	}
	return facts.Upsert(ctx, client, subject, stateNamespace, conditionKey, Condition{
		Condition:  after,
		UpdatedDay: day,
		Reason:     reason,
	})
}

// burnForAbsence burns up to absenceBurn from the subject, capped at the
// current balance so the ledger invariant (no negative balances) holds.
func (s *Service) burnForAbsence(ctx context.Context, client postgres.Client, subject, day string) error {
	balance, err := s.ledger.GetBalanceTx(ctx, client, subject)
	if err != nil {
		return err
	}
	burn := int64(absenceBurn)
	if balance < burn {
		burn = balance
	}
	if burn <= 0 {
		return nil
	}

	_, err = s.ledger.TransferTx(ctx, client, ledger.TransferInput{
		From:          subject,
		Amount:        burn,
		Type:          ledger.TypeBurn,
		Memo:          fmt.Sprintf("absence penalty (day:%s)", day),
		ReferenceType: "decay",
	})
	return err
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
