package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestTxFromContextNil(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Fatalf("expected nil tx, got %v", tx)
	}
}

func TestTxFromContextWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	if tx := TxFromContext(ctx); tx != nil {
		t.Fatalf("expected nil tx for wrong type, got %v", tx)
	}
}

func TestConnFromContextNil(t *testing.T) {
	if c := ConnFromContext(context.Background()); c != nil {
		t.Fatalf("expected nil conn, got %v", c)
	}
}

func TestLoadMigrationsSortsAndSkips(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("0002_sessions.sql", "CREATE TABLE sessions();")
	write("0001_principals.sql", "CREATE TABLE principals();")
	write("notes.txt", "not a migration")
	write("readme.sql", "no numeric prefix")

	m := NewMigrator(nil, dir)
	migs, err := m.LoadMigrations()
	if err != nil {
		t.Fatal(err)
	}
	if len(migs) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migs))
	}
	if migs[0].Version != 1 || migs[1].Version != 2 {
		t.Fatalf("bad order: %v, %v", migs[0].Version, migs[1].Version)
	}
	if migs[0].Name != "0001_principals.sql" {
		t.Fatalf("bad name: %s", migs[0].Name)
	}
}

func TestLoadMigrationsMissingDir(t *testing.T) {
	m := NewMigrator(nil, "/nonexistent/migrations")
	if _, err := m.LoadMigrations(); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{context.DeadlineExceeded, false},
		{&pgconn.PgError{Code: "40001"}, true},
		{&pgconn.PgError{Code: "40P01"}, true},
		{&pgconn.PgError{Code: "08006"}, true},
		{&pgconn.PgError{Code: "23505"}, false},
		{errors.New("plain"), false},
	}
	for _, tc := range cases {
		if got := transient(tc.err); got != tc.want {
			t.Errorf("transient(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	perm := &pgconn.PgError{Code: "23505"}
	err := Retry(context.Background(), func(context.Context) error {
		calls++
		return perm
	})
	if !errors.Is(err, perm) || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetryRecoversAfterTransientFailure(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetryGivesUpAfterThreeAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), func(context.Context) error {
		calls++
		return &pgconn.PgError{Code: "40001"}
	})
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

// flakyQuerier fails each statement once with a serialization error
// before succeeding.
type flakyQuerier struct {
	execCalls int
	rowCalls  int
}

func (f *flakyQuerier) Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
	f.execCalls++
	if f.execCalls == 1 {
		return pgconn.CommandTag{}, &pgconn.PgError{Code: "40001"}
	}
	return pgconn.CommandTag{}, nil
}

func (f *flakyQuerier) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, nil
}

type staticRow struct{ err error }

func (r staticRow) Scan(...interface{}) error { return r.err }

func (f *flakyQuerier) QueryRow(context.Context, string, ...interface{}) pgx.Row {
	f.rowCalls++
	if f.rowCalls == 1 {
		return staticRow{err: &pgconn.PgError{Code: "40001"}}
	}
	return staticRow{}
}

func TestWithRetriesExecRecoversTransientFailure(t *testing.T) {
	q := &flakyQuerier{}
	if _, err := WithRetries(q).Exec(context.Background(), "UPDATE x SET y = 1"); err != nil {
		t.Fatal(err)
	}
	if q.execCalls != 2 {
		t.Fatalf("exec calls = %d", q.execCalls)
	}
}

func TestWithRetriesQueryRowRetriesAtScan(t *testing.T) {
	q := &flakyQuerier{}
	row := WithRetries(q).QueryRow(context.Background(), "SELECT 1")
	if err := row.Scan(); err != nil {
		t.Fatal(err)
	}
	if q.rowCalls != 2 {
		t.Fatalf("row calls = %d", q.rowCalls)
	}
}

func TestRetryHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	errFirst := Retry(ctx, func(context.Context) error {
		calls++
		cancel()
		return &pgconn.PgError{Code: "08006"}
	})
	if !errors.Is(errFirst, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", errFirst)
	}
	if calls != 1 {
		t.Fatalf("expected single attempt, got %d", calls)
	}
}
