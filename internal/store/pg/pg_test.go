package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"charterops.org/internal/records"
	"charterops.org/internal/staging"
)

var testKey = records.Key{Module: "invoicing", RecordType: "invoices", RecordID: "INV-2025-1001"}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLockAcquireWins(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	expires := now.Add(10 * time.Minute)

	mock.ExpectQuery("insert into record_locks").
		WithArgs("invoicing", "invoices", "INV-2025-1001", "acct-dispatcher", now, expires).
		WillReturnRows(sqlmock.NewRows([]string{"holder", "acquired_at", "expires_at"}).
			AddRow("acct-dispatcher", now, expires))

	lock, ok, err := store.Locks().Acquire(context.Background(), testKey, "acct-dispatcher", now, expires)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !ok || lock.Holder != "acct-dispatcher" || !lock.ExpiresAt.Equal(expires) {
		t.Fatalf("lock = %+v ok=%v", lock, ok)
	}
	expectationsMet(t, mock)
}

func TestLockAcquireLosesRace(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	held := now.Add(7 * time.Minute)

	mock.ExpectQuery("insert into record_locks").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("select holder, acquired_at, expires_at from record_locks").
		WithArgs("invoicing", "invoices", "INV-2025-1001", now).
		WillReturnRows(sqlmock.NewRows([]string{"holder", "acquired_at", "expires_at"}).
			AddRow("acct-accountant", now.Add(-3*time.Minute), held))

	lock, ok, err := store.Locks().Acquire(context.Background(), testKey, "acct-dispatcher", now, now.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if ok {
		t.Fatalf("lost race should not acquire")
	}
	if lock.Holder != "acct-accountant" || !lock.ExpiresAt.Equal(held) {
		t.Fatalf("live lock = %+v", lock)
	}
	expectationsMet(t, mock)
}

func TestLockReleaseReportsOwnership(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("delete from record_locks").
		WithArgs("invoicing", "invoices", "INV-2025-1001", "acct-dispatcher").
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := store.Locks().Release(context.Background(), testKey, "acct-dispatcher")
	if err != nil || !ok {
		t.Fatalf("release: ok=%v err=%v", ok, err)
	}

	mock.ExpectExec("delete from record_locks").
		WithArgs("invoicing", "invoices", "INV-2025-1001", "acct-other").
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = store.Locks().Release(context.Background(), testKey, "acct-other")
	if err != nil || ok {
		t.Fatalf("foreign release: ok=%v err=%v", ok, err)
	}
	expectationsMet(t, mock)
}

func recordRow(version int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"module", "record_type", "record_id", "fiscal_year", "entity_type",
		"verified", "fields", "version", "updated_by", "updated_at",
	}).AddRow("invoicing", "invoices", "INV-2025-1001", 2025, "invoices",
		false, []byte(`{"amount":"480.00"}`), version, "acct-external", time.Now().UTC())
}

func TestRecordCreateDuplicate(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("insert into business_records").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := store.Records().Create(context.Background(), records.Record{
		Key: testKey, FiscalYear: 2025, EntityType: "invoices",
		Fields: map[string]string{"amount": "480.00"},
	})
	if !errors.Is(err, records.ErrExists) {
		t.Fatalf("got %v, want ErrExists", err)
	}
	expectationsMet(t, mock)
}

func TestCompareAndSwapModified(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("update business_records").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("select (.+) from business_records").WillReturnRows(recordRow(3))

	_, err := store.Records().CompareAndSwap(context.Background(), testKey, 1,
		map[string]string{"amount": "520.00"}, "acct-dispatcher")
	if !errors.Is(err, records.ErrModified) {
		t.Fatalf("got %v, want ErrModified", err)
	}
	expectationsMet(t, mock)
}

func TestCompareAndSwapNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("update business_records").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("select (.+) from business_records").WillReturnError(sql.ErrNoRows)

	_, err := store.Records().CompareAndSwap(context.Background(), testKey, 1,
		map[string]string{"amount": "520.00"}, "acct-dispatcher")
	if !errors.Is(err, records.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	expectationsMet(t, mock)
}

func TestCompareAndSwapRetriesSerializationFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("update business_records").
		WillReturnError(&pgconn.PgError{Code: pgErrSerializationFail})
	mock.ExpectQuery("update business_records").WillReturnRows(recordRow(2))

	rec, err := store.Records().CompareAndSwap(context.Background(), testKey, 1,
		map[string]string{"amount": "520.00"}, "acct-dispatcher")
	if err != nil {
		t.Fatalf("cas after retry: %v", err)
	}
	if rec.Version != 2 {
		t.Fatalf("version = %d, want 2", rec.Version)
	}
	expectationsMet(t, mock)
}

func editRow(status string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "principal_id", "module", "record_type", "record_id",
		"base_version", "original", "proposed", "status",
		"created_at", "updated_at", "conflicted_with", "resolution",
	}).AddRow("edit-1", "acct-dispatcher", "invoicing", "invoices", "INV-2025-1001",
		1, []byte(`{"amount":"480.00"}`), []byte(`{"amount":"520.00"}`), status,
		now, now, nil, "")
}

func TestStagingCreateSecondPendingEdit(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("insert into staged_edits").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := store.StagedEdits().Create(context.Background(), &staging.StagedEdit{
		ID: "edit-2", PrincipalID: "acct-dispatcher", Key: testKey,
		BaseVersion: 1,
		Original:    map[string]string{"amount": "480.00"},
		Proposed:    map[string]string{"amount": "530.00"},
		Status:      staging.StatusPending,
	})
	if !errors.Is(err, staging.ErrAlreadyStaged) {
		t.Fatalf("got %v, want ErrAlreadyStaged", err)
	}
	expectationsMet(t, mock)
}

func TestTransitionGuardsStatus(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("update staged_edits").WillReturnRows(editRow("committed"))
	edit, err := store.StagedEdits().Transition(context.Background(), "edit-1",
		staging.StatusPending, staging.TransitionUpdate{Status: staging.StatusCommitted, UpdatedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if edit.Status != staging.StatusCommitted {
		t.Fatalf("status = %s", edit.Status)
	}

	// Already moved: the guarded update matches nothing and the follow-up
	// read shows the row in another status.
	mock.ExpectQuery("update staged_edits").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("select (.+) from staged_edits").WillReturnRows(editRow("committed"))
	_, err = store.StagedEdits().Transition(context.Background(), "edit-1",
		staging.StatusPending, staging.TransitionUpdate{Status: staging.StatusRolledBack, UpdatedAt: time.Now().UTC()})
	if !errors.Is(err, staging.ErrInvariant) {
		t.Fatalf("got %v, want ErrInvariant", err)
	}

	// Deleted out from under us: not found wins over invariant.
	mock.ExpectQuery("update staged_edits").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("select (.+) from staged_edits").WillReturnError(sql.ErrNoRows)
	_, err = store.StagedEdits().Transition(context.Background(), "edit-9",
		staging.StatusPending, staging.TransitionUpdate{Status: staging.StatusCommitted, UpdatedAt: time.Now().UTC()})
	if !errors.Is(err, staging.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	expectationsMet(t, mock)
}
