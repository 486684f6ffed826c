// Package db wraps a pgx connection pool with the thin helper surface the
// catalog and tracking-store packages build their queries on. It exists so
// both packages share one pool instead of opening their own.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps a pooled PostgreSQL connection. Every exported method is a
// single short-lived operation; no caller holds a connection across an
// external I/O call.
type DB struct {
	pool *pgxpool.Pool
}

// Open creates a connection pool and verifies connectivity. connString is a
// standard PostgreSQL DSN or URL.
func Open(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &DB{pool: pool}, nil
}

// Close releases all pooled connections.
func (db *DB) Close() {
	db.pool.Close()
}

// Exec runs a statement that returns no rows.
func (db *DB) Exec(ctx context.Context, sql string, args ...interface{}) error {
	_, err := db.pool.Exec(ctx, sql, args...)
	return err
}

// Query runs a statement that returns rows. The caller must close them.
func (db *DB) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return db.pool.Query(ctx, sql, args...)
}

// QueryRow runs a statement expected to return at most one row.
func (db *DB) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return db.pool.QueryRow(ctx, sql, args...)
}

// BeginTx starts a transaction; used where a write must be atomic across
// more than one statement (e.g. marking several history rows deleted).
func (db *DB) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return db.pool.Begin(ctx)
}

// Pool exposes the underlying pool for callers that need batch operations.
func (db *DB) Pool() *pgxpool.Pool {
	return db.pool
}
