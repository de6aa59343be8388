package repository

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/opensource-finance/cogsolver/internal/domain"
	_ "modernc.org/sqlite"
)

const (
	defaultSQLitePath = "./cogsolver.db"
	memorySQLitePath  = ":memory:"
)

// sqlitePragmas are applied to every connection the driver opens.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
	"foreign_keys(ON)",
}

// openSQLite opens the embedded community-tier store. ":memory:" gives a
// throwaway database that lives as long as its single connection.
func openSQLite(ctx context.Context, cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = defaultSQLitePath
	}

	if path != memorySQLitePath {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// One connection: saves serialize instead of failing with SQLITE_BUSY,
	// and an in-memory database is not split across connections.
	db.SetMaxOpenConns(1)

	var fk int
	if err := db.QueryRowContext(ctx, `PRAGMA foreign_keys`).Scan(&fk); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach sqlite database %s: %w", path, err)
	}
	if fk != 1 {
		db.Close()
		return nil, fmt.Errorf("sqlite database %s: foreign keys are disabled", path)
	}

	return db, nil
}

func sqliteDSN(path string) string {
	q := url.Values{}
	for _, p := range sqlitePragmas {
		q.Add("_pragma", p)
	}
	q.Set("_time_format", "sqlite")
	return "file:" + path + "?" + q.Encode()
}
