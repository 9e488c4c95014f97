// Package ledger implements the append-only value ledger. The transactions
// table is the single source of financial truth: balances are always derived
// by summing it, Transfer is the only legal write path, and rows are never
// updated or deleted. Any denormalized balance (the accounts.balance column,
// the optional Redis mirror) is advisory and reconstructible from the log.
package ledger

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Transaction is one immutable ledger row. A nil FromSubject means value was
// minted; a nil ToSubject means it was burned.
type Transaction struct {
	ID            string    `db:"id" json:"id"`
	Type          string    `db:"tx_type" json:"tx_type"`
	FromSubject   *string   `db:"from_subject" json:"from_subject,omitempty"`
	ToSubject     *string   `db:"to_subject" json:"to_subject,omitempty"`
	Amount        int64     `db:"amount" json:"amount"`
	Memo          *string   `db:"memo" json:"memo,omitempty"`
	ReferenceID   *string   `db:"reference_id" json:"reference_id,omitempty"`
	ReferenceType *string   `db:"reference_type" json:"reference_type,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Common transaction types. The set is open: any type matching the charset
// below is accepted, these are the ones the core and its sub-ticks use.
const (
	TypeInitial  = "INITIAL"
	TypeMint     = "MINT"
	TypeBurn     = "BURN"
	TypeTransfer = "TRANSFER"
	TypeReward   = "REWARD"
	TypePenalty  = "PENALTY"
	TypePurchase = "PURCHASE"
	TypeRevenue  = "REVENUE"
	TypeWage     = "WAGE"
)

// MaxAmount caps a single transfer.
const MaxAmount = 1_000_000_000

const (
	maxMemoLen    = 400
	maxRefTypeLen = 24
)

var (
	// ErrInsufficientFunds is returned when the debited subject's derived
	// balance is below the requested amount at lock time.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrAccountNotFound is returned when the debited subject has no account row.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInvalidAmount is returned for amounts outside (0, MaxAmount].
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidType is returned when the transaction type fails the charset check.
	ErrInvalidType = errors.New("invalid transaction type")
	// ErrMissingEndpoints is returned when both endpoints are empty.
	ErrMissingEndpoints = errors.New("from_subject or to_subject is required")
	// ErrSelfTransfer is returned when both endpoints name the same subject.
	ErrSelfTransfer = errors.New("self transfer is not allowed")
)

var txTypeRe = regexp.MustCompile(`^[A-Z_]{3,24}$`)

// TransferInput describes a requested value movement. Empty From mints,
// empty To burns.
type TransferInput struct {
	From          string
	To            string
	Amount        int64
	Type          string
	Memo          string
	ReferenceID   string
	ReferenceType string
}

// normalize validates the input and applies truncation rules. It runs before
// any lock is taken so malformed requests never touch a row.
func (in TransferInput) normalize() (TransferInput, error) {
	if in.Amount <= 0 || in.Amount > MaxAmount {
		return in, fmt.Errorf("%w: %d", ErrInvalidAmount, in.Amount)
	}

	in.Type = strings.ToUpper(strings.TrimSpace(in.Type))
	if !txTypeRe.MatchString(in.Type) {
		return in, fmt.Errorf("%w: %q", ErrInvalidType, in.Type)
	}

	in.From = strings.TrimSpace(in.From)
	in.To = strings.TrimSpace(in.To)
	if in.From == "" && in.To == "" {
		return in, ErrMissingEndpoints
	}
	if in.From != "" && in.From == in.To {
		return in, fmt.Errorf("%w: %q", ErrSelfTransfer, in.From)
	}

	if len(in.Memo) > maxMemoLen {
		in.Memo = in.Memo[:maxMemoLen]
	}
	if len(in.ReferenceType) > maxRefTypeLen {
		in.ReferenceType = in.ReferenceType[:maxRefTypeLen]
	}
	return in, nil
}

// HistoryFilter narrows GetHistory results.
type HistoryFilter struct {
	Limit  int
	Offset int
	Type   string
}

func (f HistoryFilter) clamp() HistoryFilter {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 200 {
		f.Limit = 200
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	f.Type = strings.ToUpper(strings.TrimSpace(f.Type))
	return f
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
