package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sync"

	"github.com/NotCoffee418/dbmigrator"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*/*.sql
var migrationFS embed.FS

// dbmigrator keeps the database type in a package global
var migrateMu sync.Mutex

// MigrateSQLite applies the pending SQLite migrations
func MigrateSQLite(ctx context.Context, sqlDB *sql.DB) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	dbmigrator.SetDatabaseType(dbmigrator.SQLite)
	<-dbmigrator.MigrateUpCh(sqlDB, migrationFS, "migrations/sqlite")

	return verifySchema(ctx, sqlDB)
}

// MigratePostgres applies the pending PostgreSQL migrations through a
// database/sql view of the pool
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	migrateMu.Lock()
	defer migrateMu.Unlock()

	dbmigrator.SetDatabaseType(dbmigrator.PostgreSQL)
	<-dbmigrator.MigrateUpCh(sqlDB, migrationFS, "migrations/postgres")

	return verifySchema(ctx, sqlDB)
}

// verifySchema fails when the migrations did not leave the trace tables behind
func verifySchema(ctx context.Context, sqlDB *sql.DB) error {
	for _, table := range []string{"ravens", "smartmeters", "traces", "instants", "summaries"} {
		var n int64
		if err := sqlDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return fmt.Errorf("[DATABASE] schema check failed for %s: %w", table, err)
		}
	}
	return nil
}
