// Package execute runs compiled statements against a live database:
// connection opening with optional credential tokens, a bounded
// exponential-backoff retry loop for transient failures, and result
// readers for the shapes the compiler produces (JSON documents, single
// rows, multi-result-set batches, affected counts).
package execute

import (
	"context"
	"database/sql"
)

// Querier is the interface for executing statements.
// Both *sql.DB and *sql.Tx implement this interface.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Compile-time checks that *sql.DB and *sql.Tx implement Querier
var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)
