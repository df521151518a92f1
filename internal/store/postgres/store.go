// Package postgres implements store.Store on pgx.
//
// Money columns are NUMERIC. Amounts are bound as decimal strings and read
// back with ::text so no precision passes through floating point.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/tradiehub/internal/domain"
	"github.com/sudo-init-do/tradiehub/internal/store"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithTx runs fn in a READ COMMITTED transaction. Correctness comes from the
// explicit row locks and conditional updates issued inside fn.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapErr(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	return getUser(ctx, s.pool, id)
}

// userForeignKeys are the constraints that point at the users mirror.
var userForeignKeys = map[string]bool{
	"projects_owner_id_fkey": true,
	"quotes_tradie_id_fkey":  true,
	"users_parent_id_fkey":   true,
}

// mapErr converts driver errors the core reacts to into domain errors.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound.Wrap(err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001", "40P01":
			return domain.ErrConflict.Wrap(err).With("constraint", pgErr.ConstraintName)
		case "23503":
			if userForeignKeys[pgErr.ConstraintName] {
				return domain.ErrUserNotFound.Wrap(err).With("constraint", pgErr.ConstraintName)
			}
			return domain.ErrNotFound.Wrap(err).With("constraint", pgErr.ConstraintName)
		}
	}
	return err
}

func notFound(err error, key, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound.With(key, id)
	}
	return mapErr(err)
}

// parseNumeric fills each destination from the ::text form of a NUMERIC.
func parseNumeric(fields map[*decimal.Decimal]string) error {
	for dst, raw := range fields {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("parse numeric %q: %w", raw, err)
		}
		*dst = d
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
