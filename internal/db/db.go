// Package db opens the PostgreSQL connection pool and owns the schema
// migrations for the events table.
package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Pool limits. Idle connections are dropped after IdleTimeout so a quiet
// instance does not pin connections on the database server.
const (
	MaxOpenConns   = 20
	IdleTimeout    = 30 * time.Second
	ConnectTimeout = 2 * time.Second
)

// OpenDB opens a PostgreSQL connection pool for databaseURL and verifies
// connectivity before returning.
func OpenDB(databaseURL string) (*sql.DB, error) {
	if databaseURL == "" {
		return nil, errors.New("database url is empty")
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(MaxOpenConns)
	db.SetMaxIdleConns(MaxOpenConns)
	db.SetConnMaxIdleTime(IdleTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
