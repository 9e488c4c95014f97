package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/limbopet/worldcore/internal/platform/postgres"
	"github.com/limbopet/worldcore/pkg/logger"
)

// Service is the ledger's write and query surface.
type Service struct {
	db    *sqlx.DB
	log   *logger.Logger
	cache BalanceCache
}

// Option configures a Service.
type Option func(*Service)

// WithBalanceCache attaches an advisory balance mirror.
func WithBalanceCache(cache BalanceCache) Option {
	return func(s *Service) { s.cache = cache }
}

// New creates a ledger service.
func New(db *sqlx.DB, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	s := &Service{db: db, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const balanceQuery = `
	SELECT COALESCE(SUM(CASE WHEN to_subject = $1 THEN amount ELSE 0 END), 0)
	     - COALESCE(SUM(CASE WHEN from_subject = $1 THEN amount ELSE 0 END), 0) AS balance
	FROM transactions
	WHERE to_subject = $1 OR from_subject = $1
`

// Transfer validates the input, opens its own transaction and appends one
// ledger row. See TransferTx for the locking discipline.
func (s *Service) Transfer(ctx context.Context, in TransferInput) (Transaction, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return Transaction{}, fmt.Errorf("begin transfer: %w", err)
	}

	result, err := s.TransferTx(ctx, tx, in)
	if err != nil {
		_ = tx.Rollback()
		return Transaction{}, err
	}
	if err := tx.Commit(); err != nil {
		return Transaction{}, fmt.Errorf("commit transfer: %w", err)
	}

	if result.ToSubject != nil {
		s.settleCreditMirror(ctx, *result.ToSubject)
	}
	s.invalidateCache(ctx, in.From, in.To)
	return result, nil
}

// TransferTx appends one ledger row inside the caller's transaction.
//
// Lock-ordering rule: only the single debited account row is ever locked, and
// never two account locks at once. Credits need no lock because they cannot
// drive a balance negative. Holding at most one account lock per transaction
// is what makes deadlock impossible, even for opposing transfers A->B / B->A
// running at the same time.
func (s *Service) TransferTx(ctx context.Context, client postgres.Client, in TransferInput) (Transaction, error) {
	in, err := in.normalize()
	if err != nil {
		return Transaction{}, err
	}

	if in.From != "" {
		if err := s.lockAccount(ctx, client, in.From); err != nil {
			return Transaction{}, err
		}
	}
	if in.To != "" {
		if err := s.EnsureAccount(ctx, client, in.To); err != nil {
			return Transaction{}, err
		}
	}

	if in.From != "" {
		balance, err := s.GetBalanceTx(ctx, client, in.From)
		if err != nil {
			return Transaction{}, err
		}
		if balance < in.Amount {
			return Transaction{}, fmt.Errorf("%w: balance=%d amount=%d", ErrInsufficientFunds, balance, in.Amount)
		}
	}

	result := Transaction{
		ID:            uuid.NewString(),
		Type:          in.Type,
		FromSubject:   nullable(in.From),
		ToSubject:     nullable(in.To),
		Amount:        in.Amount,
		Memo:          nullable(in.Memo),
		ReferenceID:   nullable(in.ReferenceID),
		ReferenceType: nullable(in.ReferenceType),
	}

	row := client.QueryRowxContext(ctx, `
		INSERT INTO transactions (id, tx_type, from_subject, to_subject, amount, memo, reference_id, reference_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, result.ID, result.Type, result.FromSubject, result.ToSubject, result.Amount,
		result.Memo, result.ReferenceID, result.ReferenceType)
	if err := row.Scan(&result.CreatedAt); err != nil {
		return Transaction{}, fmt.Errorf("append transaction: %w", err)
	}

	if err := s.refreshMirrors(ctx, client, in); err != nil {
		return Transaction{}, err
	}
	return result, nil
}

// lockAccount serializes concurrent debits from one subject.
func (s *Service) lockAccount(ctx context.Context, client postgres.Client, subject string) error {
	var locked string
	row := client.QueryRowxContext(ctx, `
		SELECT subject FROM accounts WHERE subject = $1 FOR UPDATE
	`, subject)
	if err := row.Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, subject)
		}
		return fmt.Errorf("lock account %s: %w", subject, err)
	}
	return nil
}

// EnsureAccount creates the account row for a subject when absent.
func (s *Service) EnsureAccount(ctx context.Context, client postgres.Client, subject string) error {
	_, err := client.ExecContext(ctx, `
		INSERT INTO accounts (subject) VALUES ($1)
		ON CONFLICT (subject) DO NOTHING
	`, subject)
	if err != nil {
		return fmt.Errorf("ensure account %s: %w", subject, err)
	}
	return nil
}

// refreshMirrors bumps the advisory accounts.balance column inside the same
// transaction as the ledger append. Only the debited row is touched: it is
// the row lockAccount already holds, so no second lock is taken. Updating the
// credited row here would acquire one, and two opposing in-flight transfers
// (A->B and B->A) would then wait on each other's mirror rows. The credited
// mirror is settled outside the transaction instead, see settleCreditMirror.
func (s *Service) refreshMirrors(ctx context.Context, client postgres.Client, in TransferInput) error {
	if in.From == "" {
		return nil
	}
	if _, err := client.ExecContext(ctx, `
		UPDATE accounts SET balance = balance - $2, updated_at = NOW() WHERE subject = $1
	`, in.From, in.Amount); err != nil {
		return fmt.Errorf("refresh balance mirror %s: %w", in.From, err)
	}
	return nil
}

// settleCreditMirror recomputes the credited account's advisory balance
// column from the ledger after the transfer committed. The statement runs in
// its own implicit transaction holding only this one row lock, so it cannot
// join a deadlock cycle. Failure leaves the column stale, never wrong in the
// ledger: derived reads stay exact.
func (s *Service) settleCreditMirror(ctx context.Context, subject string) {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET balance = (`+balanceQuery+`), updated_at = NOW()
		WHERE subject = $1
	`, subject); err != nil {
		s.log.WithError(err).WithField("subject", subject).Warn("credit balance mirror refresh failed")
	}
}

// GetBalance derives a subject's balance from the ledger.
func (s *Service) GetBalance(ctx context.Context, subject string) (int64, error) {
	return s.GetBalanceTx(ctx, s.db, subject)
}

// GetBalanceTx derives a subject's balance inside the caller's transaction.
// The result always matches the ledger exactly.
func (s *Service) GetBalanceTx(ctx context.Context, client postgres.Client, subject string) (int64, error) {
	if subject == "" {
		return 0, fmt.Errorf("subject is required")
	}
	var balance int64
	if err := client.QueryRowxContext(ctx, balanceQuery, subject).Scan(&balance); err != nil {
		return 0, fmt.Errorf("sum balance %s: %w", subject, err)
	}
	return balance, nil
}

// GetHistory lists a subject's transactions, newest first.
func (s *Service) GetHistory(ctx context.Context, client postgres.Client, subject string, filter HistoryFilter) ([]Transaction, error) {
	if subject == "" {
		return nil, fmt.Errorf("subject is required")
	}
	filter = filter.clamp()

	var history []Transaction
	err := sqlx.SelectContext(ctx, client, &history, `
		SELECT id, tx_type, from_subject, to_subject, amount, memo, reference_id, reference_type, created_at
		FROM transactions
		WHERE (from_subject = $1 OR to_subject = $1)
		  AND ($2::text IS NULL OR tx_type = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, subject, nullable(filter.Type), filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", subject, err)
	}
	return history, nil
}

// EnsureInitialMint grants a subject its one-time starting balance. Calling
// it again for the same subject is a no-op.
func (s *Service) EnsureInitialMint(ctx context.Context, client postgres.Client, subject string, amount int64, memo string) (bool, error) {
	var existing string
	row := client.QueryRowxContext(ctx, `
		SELECT id FROM transactions
		WHERE tx_type = $1 AND to_subject = $2
		LIMIT 1
	`, TypeInitial, subject)
	err := row.Scan(&existing)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, sql.ErrNoRows):
		// fall through to mint
	default:
		return false, fmt.Errorf("check initial mint %s: %w", subject, err)
	}

	if _, err := s.TransferTx(ctx, client, TransferInput{
		To:     subject,
		Amount: amount,
		Type:   TypeInitial,
		Memo:   memo,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// Touch records subject activity, feeding the absence-episode tokens.
func (s *Service) Touch(ctx context.Context, client postgres.Client, subject string) error {
	_, err := client.ExecContext(ctx, `
		UPDATE accounts SET last_active_at = NOW(), updated_at = NOW() WHERE subject = $1
	`, subject)
	if err != nil {
		return fmt.Errorf("touch account %s: %w", subject, err)
	}
	return nil
}

func (s *Service) invalidateCache(ctx context.Context, subjects ...string) {
	if s.cache == nil {
		return
	}
	for _, subject := range subjects {
		if subject == "" {
			continue
		}
		s.cache.Invalidate(ctx, subject)
	}
}

// CachedBalance serves a balance from the advisory mirror when present,
// falling back to (and refreshing from) the ledger. Use GetBalance whenever
// exactness matters.
func (s *Service) CachedBalance(ctx context.Context, subject string) (int64, error) {
	if s.cache != nil {
		if balance, ok := s.cache.GetBalance(ctx, subject); ok {
			return balance, nil
		}
	}
	balance, err := s.GetBalance(ctx, subject)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		s.cache.SetBalance(ctx, subject, balance)
	}
	return balance, nil
}
