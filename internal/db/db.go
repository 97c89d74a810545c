// Package db provides the low-level database handle shared by every
// store in the service. It does not itself hold queries; each domain
// package builds its own SQL against the DBTX it is given.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so stores can run
// against a pool connection or inside a caller-managed transaction
// without changing their query code.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries wraps a DBTX. Domain stores embed one alongside the raw DBTX
// they query against directly.
type Queries struct {
	dbtx DBTX
}

// New creates a Queries bound to the given database handle.
func New(dbtx DBTX) *Queries {
	return &Queries{dbtx: dbtx}
}
