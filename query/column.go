package query

import "github.com/gateql/gateql/metadata"

// Column references a backing column, qualified by the table alias it
// belongs to in this query. An empty Table leaves the reference
// unqualified (mutations target their table directly).
type Column struct {
	Table string
	Name  string
}

// LabelledColumn projects a column under an output label (the exposed
// field name). The type class drives dialect-specific JSON shaping:
// booleans are cast on MySQL, bytes are base64-encoded where the dialect
// cannot emit them, JSON columns pass through unescaped.
type LabelledColumn struct {
	Column   Column
	Label    string
	Type     metadata.SQLType
	Nullable bool
}

// ColumnPair links a column of an inner (sub)query to a column of its
// outer query, used for relationship joins.
type ColumnPair struct {
	Inner Column
	Outer Column
}

// OrderByColumn is one ordering term. Nullable feeds both the explicit
// NULLS FIRST/LAST emission on Postgres and the keyset predicate algebra.
type OrderByColumn struct {
	Column     Column
	Descending bool
	Nullable   bool
}
