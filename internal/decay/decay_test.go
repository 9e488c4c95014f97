package decay

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/limbopet/worldcore/internal/ledger"
	"github.com/limbopet/worldcore/pkg/logger"
)

var errMalformed = errors.New("facts table unavailable")

func newDecay(t *testing.T) (*Service, *sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log := logger.NewDefault("decay-test")
	log.SetOutput(io.Discard)
	sdb := sqlx.NewDb(db, "sqlmock")
	return New(ledger.New(sdb, log), log), sdb, mock
}

// The batch query must prioritize the stalest accounts, or the cap would let
// a fixed prefix of subjects starve the tail forever.
func expectAccounts(mock sqlmock.Sqlmock, rows *sqlmock.Rows) {
	mock.ExpectQuery(`SELECT subject, last_active_at FROM accounts .*ORDER BY last_active_at ASC NULLS FIRST, subject LIMIT`).
		WillReturnRows(rows)
}

func expectFactDefault(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`INSERT INTO facts .*DO NOTHING`).WillReturnResult(sqlmock.NewResult(0, 1))
}

func expectFactLocked(mock sqlmock.Sqlmock, value string) {
	mock.ExpectQuery(`SELECT value FROM facts .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(value)))
}

func expectFactUpsert(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`INSERT INTO facts`).WillReturnResult(sqlmock.NewResult(0, 1))
}

func expectSavepoint(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`^SAVEPOINT sp_`).WillReturnResult(sqlmock.NewResult(0, 0))
}

func expectRelease(mock sqlmock.Sqlmock) {
	mock.ExpectExec(`^RELEASE SAVEPOINT sp_`).WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestSubTickDailyDecayOnly(t *testing.T) {
	svc, db, mock := newDecay(t)

	recent := time.Date(2031, 7, 3, 12, 0, 0, 0, time.UTC)
	expectAccounts(mock, sqlmock.NewRows([]string{"subject", "last_active_at"}).
		AddRow("pet_a", recent))

	expectSavepoint(mock)
	// Daily guard: not yet applied today.
	expectFactDefault(mock)
	expectFactLocked(mock, `{"applied":false}`)
	// Condition drops 70 -> 67.
	expectFactDefault(mock)
	expectFactLocked(mock, `{"condition":70}`)
	mock.ExpectExec(`INSERT INTO facts`).
		WithArgs("pet_a", stateNamespace, conditionKey, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Guard flips.
	expectFactUpsert(mock)
	expectRelease(mock)

	if err := svc.SubTick(context.Background(), db, "2031-07-04"); err != nil {
		t.Fatalf("sub-tick: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSubTickAbsencePenaltyBurnsCappedAtBalance(t *testing.T) {
	svc, db, mock := newDecay(t)

	lastActive := time.Date(2031, 6, 20, 8, 30, 0, 0, time.UTC)
	expectAccounts(mock, sqlmock.NewRows([]string{"subject", "last_active_at"}).
		AddRow("pet_a", lastActive))

	expectSavepoint(mock)
	// Daily guard already applied for this day.
	expectFactDefault(mock)
	expectFactLocked(mock, `{"applied":true}`)

	// Absence guard for the 14-day-old episode: fresh.
	expectFactDefault(mock)
	expectFactLocked(mock, `{"applied":false}`)
	// Condition drops 40 -> 10 (floor 0 for the absence penalty).
	expectFactDefault(mock)
	expectFactLocked(mock, `{"condition":40}`)
	expectFactUpsert(mock)
	// Balance 30 caps the burn below the full 100.
	mock.ExpectQuery(`SELECT COALESCE\(SUM`).
		WithArgs("pet_a").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(30)))
	// Burn: debit lock, balance re-check, append, mirror.
	mock.ExpectQuery(`SELECT subject FROM accounts WHERE subject = .* FOR UPDATE`).
		WithArgs("pet_a").
		WillReturnRows(sqlmock.NewRows([]string{"subject"}).AddRow("pet_a"))
	mock.ExpectQuery(`SELECT COALESCE\(SUM`).
		WithArgs("pet_a").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(30)))
	mock.ExpectQuery(`INSERT INTO transactions .*RETURNING created_at`).
		WithArgs(sqlmock.AnyArg(), "BURN", "pet_a", nil, int64(30),
			"absence penalty (day:2031-07-04)", nil, "decay").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now().UTC()))
	mock.ExpectExec(`UPDATE accounts SET balance = balance`).
		WithArgs("pet_a", int64(30)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Absence guard flips.
	expectFactUpsert(mock)
	expectRelease(mock)

	if err := svc.SubTick(context.Background(), db, "2031-07-04"); err != nil {
		t.Fatalf("sub-tick: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSubTickSecondAbsenceDayIsNoOp(t *testing.T) {
	svc, db, mock := newDecay(t)

	lastActive := time.Date(2031, 6, 20, 8, 30, 0, 0, time.UTC)
	expectAccounts(mock, sqlmock.NewRows([]string{"subject", "last_active_at"}).
		AddRow("pet_a", lastActive))

	expectSavepoint(mock)
	expectFactDefault(mock)
	expectFactLocked(mock, `{"applied":true}`) // daily already done
	expectFactDefault(mock)
	expectFactLocked(mock, `{"applied":true}`) // absence episode already penalized
	expectRelease(mock)

	if err := svc.SubTick(context.Background(), db, "2031-07-05"); err != nil {
		t.Fatalf("sub-tick: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

// A poisoned account is rolled back to its savepoint; the next account in
// the batch still processes.
func TestSubTickIsolatesFailingAccount(t *testing.T) {
	svc, db, mock := newDecay(t)

	recent := time.Date(2031, 7, 4, 11, 0, 0, 0, time.UTC)
	expectAccounts(mock, sqlmock.NewRows([]string{"subject", "last_active_at"}).
		AddRow("pet_bad", recent).
		AddRow("pet_good", recent))

	// pet_bad: guard creation blows up, savepoint rolls back.
	expectSavepoint(mock)
	mock.ExpectExec(`INSERT INTO facts .*DO NOTHING`).
		WillReturnError(errMalformed)
	mock.ExpectExec(`^ROLLBACK TO SAVEPOINT sp_`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`^RELEASE SAVEPOINT sp_`).WillReturnResult(sqlmock.NewResult(0, 0))

	// pet_good: normal daily decay.
	expectSavepoint(mock)
	expectFactDefault(mock)
	expectFactLocked(mock, `{"applied":false}`)
	expectFactDefault(mock)
	expectFactLocked(mock, `{"condition":50}`)
	expectFactUpsert(mock)
	expectFactUpsert(mock)
	expectRelease(mock)

	if err := svc.SubTick(context.Background(), db, "2031-07-04"); err != nil {
		t.Fatalf("sub-tick must absorb per-account failures: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLowerConditionFloors(t *testing.T) {
	svc, db, mock := newDecay(t)

	expectFactDefault(mock)
	expectFactLocked(mock, `{"condition":31}`)
	mock.ExpectExec(`INSERT INTO facts`).
		WithArgs("pet_a", stateNamespace, conditionKey, []byte(`{"condition":30,"updated_day":"2031-07-04","reason":"decay:daily"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := svc.lowerCondition(context.Background(), db, "pet_a", "2031-07-04", dailyStep, dailyFloor, "decay:daily"); err != nil {
		t.Fatalf("lower condition: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
