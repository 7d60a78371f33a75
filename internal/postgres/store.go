// Package postgres implements billing.Store on PostgreSQL through pgx.
//
// Every method runs on the transaction carried by the context when there is
// one (see pg.Transactor), otherwise directly on the pool. Status updates are
// compare-and-set statements; the partial unique indexes in the migrations
// back the per-user invariants.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/billing/internal/billing"
	"github.com/dmitrymomot/billing/pkg/pg"
)

// Store is the PostgreSQL billing.Store.
type Store struct {
	pool *pgxpool.Pool
	tx   *pg.Transactor
}

var _ billing.Store = (*Store)(nil)

// NewStore creates a billing store backed by pool.
func NewStore(pool *pgxpool.Pool, cfg pg.Config) *Store {
	return &Store{pool: pool, tx: pg.NewTransactor(pool, cfg)}
}

func (s *Store) db(ctx context.Context) pg.DBExecutor {
	return pg.Executor(ctx, s.pool)
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.tx.InTx(ctx, fn)
}

// mapError translates driver errors into billing errors. The driver error stays
// in the chain so serialization failures are still recognized by the transactor.
func mapError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case pg.IsNotFoundError(err):
		return fmt.Errorf("%w: %s", billing.ErrNotFound, what)
	case pg.IsDuplicateKeyError(err):
		return errors.Join(fmt.Errorf("%w: %s violates %s", billing.ErrConflict, what, pg.ConstraintName(err)), err)
	case pg.IsForeignKeyViolationError(err):
		return errors.Join(fmt.Errorf("%w: %s references a missing row", billing.ErrNotFound, what), err)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}

// conditions accumulates a WHERE clause with positional arguments.
type conditions struct {
	clauses []string
	args    []any
}

// add appends clause, replacing each ? with the next placeholder.
func (c *conditions) add(clause string, args ...any) {
	for _, arg := range args {
		c.args = append(c.args, arg)
		clause = strings.Replace(clause, "?", "$"+strconv.Itoa(len(c.args)), 1)
	}
	c.clauses = append(c.clauses, clause)
}

func (c *conditions) where() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

func statusStrings[S ~string](statuses []S) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func nullableUUID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return *id
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
