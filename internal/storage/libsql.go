package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"
)

// LibSQLStore persists records in an embedded libSQL database.
type LibSQLStore struct {
	*sqlStore
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{sqlStore: &sqlStore{
		db: db,
		d: dialect{
			name:       "libsql",
			boolArg:    intBool,
			migrations: loadMigrations("libsql"),
		},
		now: time.Now,
	}}, nil
}
