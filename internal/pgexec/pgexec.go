// Package pgexec defines the narrow database interfaces shared across
// tenantkeep's components, in the manner of cryptofunk's internal/risk
// PoolInterface: depending on an interface instead of the concrete
// *pgxpool.Pool lets unit tests substitute pgxmock without touching a live
// database.
package pgexec

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by *pgxpool.Pool, *pgxpool.Conn, pgx.Tx, and
// pgxmock's mock pool.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Transactor is a Querier that can also begin a transaction.
type Transactor interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}
