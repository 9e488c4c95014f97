package postgres

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/limbopet/worldcore/pkg/logger"
)

func quietLogger() *logger.Logger {
	log := logger.NewDefault("test")
	log.SetOutput(io.Discard)
	return log
}

func TestRunIsolatedSuccessReleasesSavepoint(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectExec(`SAVEPOINT sp_unit_a_[0-9a-f]{8}`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`RELEASE SAVEPOINT sp_unit_a_[0-9a-f]{8}`).WillReturnResult(sqlmock.NewResult(0, 0))

	got, err := RunIsolated(context.Background(), db, quietLogger(), "unit-a", 0, func() (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42 {
		t.Fatalf("result = %d, want 42", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRunIsolatedFailureRollsBackToSavepoint(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectExec(`SAVEPOINT sp_unit_b_[0-9a-f]{8}`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`ROLLBACK TO SAVEPOINT sp_unit_b_[0-9a-f]{8}`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`RELEASE SAVEPOINT sp_unit_b_[0-9a-f]{8}`).WillReturnResult(sqlmock.NewResult(0, 0))

	unitErr := errors.New("pet 57 exploded")
	got, err := RunIsolated(context.Background(), db, quietLogger(), "unit-b", "fallback", func() (string, error) {
		return "", unitErr
	})
	if !errors.Is(err, unitErr) {
		t.Fatalf("error = %v, want %v", err, unitErr)
	}
	if got != "fallback" {
		t.Fatalf("result = %q, want fallback", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRunIsolatedOutsideTransactionAbsorbs(t *testing.T) {
	db, mock := newMock(t)

	// SAVEPOINT outside a transaction block errors; the unit still runs.
	mock.ExpectExec(`SAVEPOINT sp_plain_[0-9a-f]{8}`).WillReturnError(errors.New("25P01"))

	got, err := RunIsolated(context.Background(), db, quietLogger(), "plain", 0, func() (int, error) {
		return 7, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 7 {
		t.Fatalf("result = %d, want 7", got)
	}
}

func TestRunIsolatedNests(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectExec(`SAVEPOINT sp_outer_[0-9a-f]{8}`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SAVEPOINT sp_inner_[0-9a-f]{8}`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`ROLLBACK TO SAVEPOINT sp_inner_[0-9a-f]{8}`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`RELEASE SAVEPOINT sp_inner_[0-9a-f]{8}`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`RELEASE SAVEPOINT sp_outer_[0-9a-f]{8}`).WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	log := quietLogger()

	got, err := RunIsolated(ctx, db, log, "outer", -1, func() (int, error) {
		inner, _ := RunIsolated(ctx, db, log, "inner", 99, func() (int, error) {
			return 0, errors.New("inner failed")
		})
		return inner, nil
	})
	if err != nil {
		t.Fatalf("outer should succeed: %v", err)
	}
	if got != 99 {
		t.Fatalf("result = %d, want inner fallback 99", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSavepointNameSanitizesLabel(t *testing.T) {
	name := savepointName("Weird Label!! with-stuff-and-a-very-long-tail-indeed")
	if len(name) > len("sp_")+24+1+8 {
		t.Fatalf("name too long: %q", name)
	}
	for _, r := range name {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			t.Fatalf("unsafe rune %q in %q", r, name)
		}
	}
}
