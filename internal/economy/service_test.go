package economy

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/limbopet/worldcore/internal/ledger"
	"github.com/limbopet/worldcore/pkg/logger"
)

func newEconomy(t *testing.T) (*Service, *sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMock(t)
	log := logger.NewDefault("economy-test")
	log.SetOutput(io.Discard)
	return New(ledger.New(db, log), log), db, mock
}

func TestSubTickMintsDailyPrizePool(t *testing.T) {
	svc, db, mock := newEconomy(t)

	// Cycle evaluation: absent, seeded as normal.
	mock.ExpectQuery(`SELECT value FROM facts .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}))
	mock.ExpectExec(`INSERT INTO facts`).WillReturnResult(sqlmock.NewResult(0, 1))

	// Once guard: flag created, locked, not yet applied.
	mock.ExpectExec(`INSERT INTO facts .*DO NOTHING`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT value FROM facts .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{"applied":false}`)))

	// Treasury mint: 500 * 1.0 under the normal cycle.
	mock.ExpectExec(`INSERT INTO accounts .*DO NOTHING`).
		WithArgs("world_core").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO transactions .*RETURNING created_at`).
		WithArgs(sqlmock.AnyArg(), "REVENUE", nil, "world_core", int64(500),
			"daily prize pool (day:2031-07-04)", nil, "economy").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now().UTC()))

	// Flag flips to applied.
	mock.ExpectExec(`INSERT INTO facts`).WillReturnResult(sqlmock.NewResult(0, 1))

	if err := svc.SubTick(context.Background(), db, "2031-07-04"); err != nil {
		t.Fatalf("sub-tick: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSubTickSkipsMintWhenDayAlreadyApplied(t *testing.T) {
	svc, db, mock := newEconomy(t)

	mock.ExpectQuery(`SELECT value FROM facts .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}))
	mock.ExpectExec(`INSERT INTO facts`).WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(`INSERT INTO facts .*DO NOTHING`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT value FROM facts .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{"applied":true}`)))

	if err := svc.SubTick(context.Background(), db, "2031-07-04"); err != nil {
		t.Fatalf("sub-tick: %v", err)
	}
	// No mint, no flag rewrite.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
