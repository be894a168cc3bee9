package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore persists records in PostgreSQL.
type PostgresStore struct {
	*sqlStore
}

// NewPostgresStore connects to the database at dsn.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{sqlStore: &sqlStore{
		db: db,
		d: dialect{
			name:       "postgres",
			dollarArgs: true,
			boolArg:    plainBool,
			migrations: loadMigrations("postgres"),
		},
		now: time.Now,
	}}, nil
}
