// Package pgstore implements persistence.Client directly on Postgres, for host
// deployments that sit next to the database rather than behind PostgREST.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/classroom/go/internal/persistence"
)

// ErrConflict wraps unique-violation errors from Postgres.
var ErrConflict = persistence.ErrConflict

// Querier is the subset of pgxpool.Pool the store needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Store struct {
	db Querier
}

var _ persistence.Client = (*Store)(nil)

// New wraps an existing pool or transaction.
func New(db Querier) *Store {
	return &Store{db: db}
}

// Connect opens a pool on dsn and pings it.
func Connect(ctx context.Context, dsn string) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return New(pool), pool, nil
}

func (s *Store) List(ctx context.Context, table persistence.Table, q persistence.Query) ([]persistence.Record, error) {
	sql, args, err := buildSelect(table, q)
	if err != nil {
		return nil, err
	}
	return s.queryRecords(ctx, sql, args)
}

func (s *Store) Create(ctx context.Context, table persistence.Table, fields persistence.Record) (persistence.Record, error) {
	sql, args, err := buildInsert(table, fields)
	if err != nil {
		return nil, err
	}
	records, err := s.queryRecords(ctx, sql, args)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", table, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("create %s returned no row", table)
	}
	return records[0], nil
}

func (s *Store) Update(ctx context.Context, table persistence.Table, id string, fields persistence.Record, preconditions ...persistence.Filter) (persistence.Record, error) {
	sql, args, err := buildUpdate(table, id, fields, preconditions)
	if err != nil {
		return nil, err
	}
	records, err := s.queryRecords(ctx, sql, args)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s %s: %w", table, id, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s %s: %w", table, id, persistence.ErrNotFound)
	}
	return records[0], nil
}

func (s *Store) Delete(ctx context.Context, table persistence.Table, filters ...persistence.Filter) error {
	sql, args, err := buildDelete(table, filters)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, mapError(err))
	}
	return nil
}

func (s *Store) queryRecords(ctx context.Context, sql string, args []any) ([]persistence.Record, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}
	raws, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]persistence.Record, 0, len(raws))
	for _, raw := range raws {
		var rec persistence.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode row: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrConflict)
	}
	return err
}
