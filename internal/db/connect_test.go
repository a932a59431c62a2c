package db_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/mind-engage/mindengage-checkpoint/internal/db"
)

func TestParseDriver(t *testing.T) {
	cases := map[string]db.Driver{
		"":        db.DriverSQLite,
		"SQLite3": db.DriverSQLite,
		"pgx":     db.DriverPostgres,
		" pg ":    db.DriverPostgres,
	}
	for in, want := range cases {
		got, err := db.ParseDriver(in)
		if err != nil || got != want {
			t.Errorf("ParseDriver(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := db.ParseDriver("oracle"); err == nil {
		t.Error("oracle accepted")
	}
}

func openMem(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(context.Background(), db.DriverSQLite, "file:"+t.Name()+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestMigrateIsIdempotent(t *testing.T) {
	conn := openMem(t)
	ctx := context.Background()
	if err := db.Migrate(ctx, conn, db.DriverSQLite); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	for _, table := range []string{"sessions", "responses", "session_events", "audit_log", "sync_items", "sync_conflicts", "event_log"} {
		var n int
		if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			t.Errorf("table %s: %v", table, err)
		}
	}
}

func TestWithTxRollsBack(t *testing.T) {
	conn := openMem(t)
	ctx := context.Background()
	boom := errors.New("boom")
	err := db.WithTx(ctx, conn, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO event_log (site_id, typ, key, data, created_at) VALUES ('s','t','k','{}',1)`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	var n int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_log`).Scan(&n); err != nil || n != 0 {
		t.Fatalf("rows after rollback = %d, %v", n, err)
	}

	if err := db.WithTx(ctx, conn, nil, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO event_log (site_id, typ, key, data, created_at) VALUES ('s','t','k','{}',1)`)
		return err
	}); err != nil {
		t.Fatal(err)
	}
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_log`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("rows after commit = %d, %v", n, err)
	}
	if db.FromNanos(db.Nanos(nil)) != nil {
		t.Fatal("nil time did not survive")
	}
}
