package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore is the Postgres implementation of Store.
type PgStore struct {
	Pool    *pgxpool.Pool
	queries *PgQueries
}

func NewStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{Pool: pool, queries: &PgQueries{db: pool}}
}

func (s *PgStore) Queries() Queries {
	return s.queries
}

func (s *PgStore) WithTx(ctx context.Context, fn func(Queries) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	queries := &PgQueries{db: tx}
	if err := fn(queries); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// PgQueries runs every statement against either the pool or an open
// transaction.
type PgQueries struct {
	db dbtx
}

func rowsAffected(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
