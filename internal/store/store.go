// internal/store/store.go

// Package store is the persistence layer: commit events, daily aggregates,
// provider connections, user settings and the durable sync-job queue, all
// on Postgres via pgx.
package store

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxConn is the subset of pgxpool.Pool the store needs. pgxmock satisfies
// it in unit tests.
type PgxConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store bundles all repositories over one connection source.
type Store struct {
	conn   PgxConn
	logger *slog.Logger
}

// New creates a Store over an established connection source.
func New(conn PgxConn, logger *slog.Logger) *Store {
	return &Store{conn: conn, logger: logger}
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
