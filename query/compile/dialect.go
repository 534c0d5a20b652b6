// Package compile turns query structures into dialect-specific SQL
// statements. Each dialect owns its JSON shaping, placeholder style,
// upsert strategy, and identifier quoting; the shared writer guarantees
// the invariants that hold everywhere: identifiers always quoted, values
// only ever bound as parameters, predicates fully parenthesized.
package compile

import (
	"fmt"

	"github.com/gateql/gateql/query"
)

// UpsertStrategy tells the engine how a dialect reports whether an upsert
// inserted or updated.
type UpsertStrategy int

const (
	// UpsertMultiResult emits two result sets; the row arrives in the
	// first (update) or second (insert).
	UpsertMultiResult UpsertStrategy = iota
	// UpsertDiscriminator returns the row with a synthetic boolean column
	// named by InsertDiscriminator.
	UpsertDiscriminator
	// UpsertAffectedRows reports 1 for an insert and 2 for an update, and
	// needs a follow-up read for the row.
	UpsertAffectedRows
	// UpsertProbe cannot report at all; the engine probes for existence
	// before upserting.
	UpsertProbe
)

// InsertDiscriminator is the synthetic column UpsertDiscriminator dialects
// attach to the returned row. True means the row was inserted.
const InsertDiscriminator = "__operation_is_insert"

// Dialect builds SQL statements for one database backend.
type Dialect interface {
	Name() string
	QuoteIdentifier(name string) string

	// SupportsReturning reports whether writes can return rows inline
	// (RETURNING / OUTPUT). Without it the engine issues follow-up reads.
	SupportsReturning() bool
	// SupportsProcedures reports whether BuildExec works at all.
	SupportsProcedures() bool
	// Upsert returns the insert-or-update disambiguation strategy.
	Upsert() UpsertStrategy

	Build(q *query.SelectQuery) (query.Statement, error)
	BuildInsert(q *query.InsertQuery) (query.Statement, error)
	BuildUpdate(q *query.UpdateQuery) (query.Statement, error)
	BuildDelete(q *query.DeleteQuery) (query.Statement, error)
	BuildUpsert(q *query.UpsertQuery) (query.Statement, error)
	BuildExec(q *query.ExecQuery) (query.Statement, error)
}

// Singleton dialects.
var (
	MSSQL    Dialect = &mssqlDialect{}
	MySQL    Dialect = &mysqlDialect{}
	Postgres Dialect = &postgresDialect{}
	SQLite   Dialect = &sqliteDialect{}
)

// ForName returns the dialect registered under a dburl dialect name.
func ForName(name string) (Dialect, error) {
	switch name {
	case "mssql":
		return MSSQL, nil
	case "mysql":
		return MySQL, nil
	case "postgres":
		return Postgres, nil
	case "sqlite":
		return SQLite, nil
	default:
		return nil, fmt.Errorf("no dialect named %q", name)
	}
}
