package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteDSN builds the modernc DSN for path. The pragmas are applied by the
// driver on every new connection.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// OpenSQLite opens a local trace database file. SQLite allows a single
// writer, so after migrating the handle is limited to one connection.
func OpenSQLite(ctx context.Context, path string, migrate bool) (*sql.DB, error) {
	sqlDB, err := sql.Open("sqlite", SQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("[DATABASE] failed to open sqlite database: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("[DATABASE] cannot open sqlite database at %s: %w", path, err)
	}

	if migrate {
		if err := MigrateSQLite(ctx, sqlDB); err != nil {
			sqlDB.Close()
			return nil, err
		}
	}
	sqlDB.SetMaxOpenConns(1)

	return sqlDB, nil
}
