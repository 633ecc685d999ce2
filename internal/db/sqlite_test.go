package db_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/septivank/raven-tracer/internal/db"
)

func TestOpenSQLite_MigratesOnce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "traces.db")

	first, err := db.OpenSQLite(ctx, path, true)
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	if _, err := first.ExecContext(ctx, `INSERT INTO ravens (mac_address) VALUES ('00:11:22:33:44:55')`); err != nil {
		t.Fatalf("Failed to insert raven: %v", err)
	}
	first.Close()

	// reopening must not reapply the initial migration
	second, err := db.OpenSQLite(ctx, path, true)
	if err != nil {
		t.Fatalf("Failed to reopen sqlite: %v", err)
	}
	defer second.Close()

	var n int
	if err := second.QueryRowContext(ctx, `SELECT COUNT(*) FROM ravens`).Scan(&n); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 raven after reopening, got %d", n)
	}
}

func TestOpenSQLite_ForeignKeysEnabled(t *testing.T) {
	sqlDB, err := db.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "traces.db"), true)
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	defer sqlDB.Close()

	var enabled int
	if err := sqlDB.QueryRow(`PRAGMA foreign_keys`).Scan(&enabled); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if enabled != 1 {
		t.Errorf("Expected foreign_keys = 1, got %d", enabled)
	}
}

func TestOpenSQLite_WithoutMigrate(t *testing.T) {
	sqlDB, err := db.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "traces.db"), false)
	if err != nil {
		t.Fatalf("Failed to open sqlite: %v", err)
	}
	defer sqlDB.Close()

	if _, err := sqlDB.Exec(`SELECT COUNT(*) FROM traces`); err == nil {
		t.Error("Expected no traces table when migrations are disabled")
	}
}

func TestSQLiteDSN(t *testing.T) {
	got := db.SQLiteDSN("/var/lib/raven/traces.db")
	want := "file:/var/lib/raven/traces.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}
