package compile

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/gateql/gateql/query"
)

// phStyle is a dialect's placeholder style.
type phStyle int

const (
	// phNamed writes @name and binds sql.Named args (MSSQL).
	phNamed phStyle = iota
	// phQuestion writes ? and binds positionally, repeating values on
	// reuse (MySQL, SQLite).
	phQuestion
	// phDollar writes $n, numbering each distinct parameter once
	// (Postgres).
	phDollar
)

// sqlWriter accumulates SQL text and the argument list that goes with it.
// Every identifier passes through quote and every value through param;
// nothing else reaches the buffer from request data.
type sqlWriter struct {
	sb    strings.Builder
	ps    *query.ParameterSet
	quote func(string) string
	style phStyle

	args []any
	pos  map[string]int
	// sub numbers the derived tables a dialect wraps around inner selects.
	sub int

	// escapeClause is the text appended after escaped LIKE patterns.
	// MySQL doubles the backslash because its string literals treat it as
	// an escape character.
	escapeClause string
	// explicitNulls emits NULLS FIRST/LAST on nullable order-by terms to
	// pin NULL placement (Postgres defaults differ from the other three).
	explicitNulls bool
}

func newWriter(ps *query.ParameterSet, quote func(string) string, style phStyle) *sqlWriter {
	w := &sqlWriter{
		ps:           ps,
		quote:        quote,
		style:        style,
		pos:          make(map[string]int),
		escapeClause: ` ESCAPE '\'`,
	}
	return w
}

func (w *sqlWriter) str(s string) {
	w.sb.WriteString(s)
}

func (w *sqlWriter) ident(name string) {
	w.sb.WriteString(w.quote(name))
}

// object writes a schema-qualified object name, skipping an empty schema.
func (w *sqlWriter) object(schema, name string) {
	if schema != "" {
		w.ident(schema)
		w.sb.WriteByte('.')
	}
	w.ident(name)
}

// col writes a column reference, alias-qualified when the column carries
// one.
func (w *sqlWriter) col(c query.Column) {
	if c.Table != "" {
		w.ident(c.Table)
		w.sb.WriteByte('.')
	}
	w.ident(c.Name)
}

// param writes the placeholder for a bound parameter and records its
// argument. Referencing a name the structure never bound is a compile
// error: it means a value would be missing at execution time.
func (w *sqlWriter) param(name string) error {
	value, ok := w.ps.Value(name)
	if !ok {
		return fmt.Errorf("unknown parameter %q", name)
	}

	switch w.style {
	case phNamed:
		if _, seen := w.pos[name]; !seen {
			w.pos[name] = len(w.args)
			w.args = append(w.args, sql.Named(name, value))
		}
		w.sb.WriteByte('@')
		w.sb.WriteString(name)

	case phQuestion:
		w.args = append(w.args, value)
		w.sb.WriteByte('?')

	case phDollar:
		n, seen := w.pos[name]
		if !seen {
			w.args = append(w.args, value)
			n = len(w.args)
			w.pos[name] = n
		}
		fmt.Fprintf(&w.sb, "$%d", n)
	}
	return nil
}

// predicate writes a predicate tree. Combinators parenthesize themselves
// so precedence never depends on the dialect.
func (w *sqlWriter) predicate(p query.Predicate) error {
	switch pred := p.(type) {
	case query.Comparison:
		return w.comparison(pred)

	case query.And:
		if len(pred.Items) == 0 {
			return fmt.Errorf("empty AND predicate")
		}
		w.sb.WriteByte('(')
		for i, item := range pred.Items {
			if i > 0 {
				w.str(" AND ")
			}
			if err := w.predicate(item); err != nil {
				return err
			}
		}
		w.sb.WriteByte(')')
		return nil

	case query.Or:
		if len(pred.Items) == 0 {
			return fmt.Errorf("empty OR predicate")
		}
		w.sb.WriteByte('(')
		for i, item := range pred.Items {
			if i > 0 {
				w.str(" OR ")
			}
			if err := w.predicate(item); err != nil {
				return err
			}
		}
		w.sb.WriteByte(')')
		return nil

	case query.Not:
		if pred.Item == nil {
			return fmt.Errorf("empty NOT predicate")
		}
		w.str("NOT (")
		if err := w.predicate(pred.Item); err != nil {
			return err
		}
		w.sb.WriteByte(')')
		return nil

	case query.False:
		w.str("1 = 0")
		return nil

	default:
		return fmt.Errorf("unknown predicate type %T", p)
	}
}

func (w *sqlWriter) comparison(c query.Comparison) error {
	switch c.Op {
	case query.OpIsNull, query.OpIsNotNull:
		w.col(c.Column)
		w.sb.WriteByte(' ')
		w.str(string(c.Op))
		return nil

	case query.OpIn:
		if len(c.Params) == 0 {
			return fmt.Errorf("IN predicate on %s.%s requires at least one parameter", c.Column.Table, c.Column.Name)
		}
		w.col(c.Column)
		w.str(" IN (")
		for i, p := range c.Params {
			if i > 0 {
				w.str(", ")
			}
			if err := w.param(p); err != nil {
				return err
			}
		}
		w.sb.WriteByte(')')
		return nil

	default:
		w.col(c.Column)
		w.sb.WriteByte(' ')
		w.str(string(c.Op))
		w.sb.WriteByte(' ')
		if err := w.param(c.Param); err != nil {
			return err
		}
		if c.Escape && (c.Op == query.OpLike || c.Op == query.OpNotLike) {
			w.str(w.escapeClause)
		}
		return nil
	}
}

// orderBy writes an ORDER BY clause from normalized terms.
func (w *sqlWriter) orderBy(terms []query.OrderByColumn) {
	w.str("ORDER BY ")
	for i, term := range terms {
		if i > 0 {
			w.str(", ")
		}
		w.col(term.Column)
		if term.Descending {
			w.str(" DESC")
		} else {
			w.str(" ASC")
		}
		if w.explicitNulls && term.Nullable {
			if term.Descending {
				w.str(" NULLS LAST")
			} else {
				w.str(" NULLS FIRST")
			}
		}
	}
}

// where writes the merged WHERE clause of a select structure, if any.
func (w *sqlWriter) where(q *query.SelectQuery) error {
	pred := q.Where()
	if pred == nil {
		return nil
	}
	w.str(" WHERE ")
	return w.predicate(pred)
}

// linkPredicate writes the correlation condition of a relationship
// subquery: inner columns matched to outer alias columns.
func (w *sqlWriter) linkPredicate(pairs []query.ColumnPair) {
	for i, pair := range pairs {
		if i > 0 {
			w.str(" AND ")
		}
		w.col(pair.Inner)
		w.str(" = ")
		w.col(pair.Outer)
	}
}

// subAlias returns the next derived-table alias.
func (w *sqlWriter) subAlias() string {
	a := fmt.Sprintf("subq%d", w.sub)
	w.sub++
	return a
}

func (w *sqlWriter) stmt() query.Statement {
	return query.Statement{SQL: w.sb.String(), Args: w.args}
}

// fromClause writes the FROM clause of a select, joining through the
// junction table when the relationship runs through one.
func fromClause(w *sqlWriter, q *query.SelectQuery, rel *query.RelatedSelect) {
	w.str(" FROM ")
	w.object(q.Schema, q.Object)
	w.str(" AS ")
	w.ident(q.Alias)
	if rel != nil && rel.Junction != nil {
		w.str(" INNER JOIN ")
		w.object(rel.Junction.Schema, rel.Junction.Object)
		w.str(" AS ")
		w.ident(rel.Junction.Alias)
		w.str(" ON ")
		w.linkPredicate(rel.Junction.ToTarget)
	}
}

// selectWhere writes the WHERE clause of a select, prefixing the
// correlation pairs when the select is a relationship subquery.
func selectWhere(w *sqlWriter, q *query.SelectQuery, rel *query.RelatedSelect) error {
	var link []query.ColumnPair
	if rel != nil {
		if rel.Junction != nil {
			link = rel.Junction.ToSource
		} else {
			link = rel.Link
		}
	}

	pred := q.Where()
	if len(link) == 0 && pred == nil {
		return nil
	}
	w.str(" WHERE ")
	if len(link) > 0 {
		w.linkPredicate(link)
		if pred != nil {
			w.str(" AND ")
		}
	}
	if pred != nil {
		return w.predicate(pred)
	}
	return nil
}

// insertBody writes the column list and VALUES tuple of an insert.
func insertBody(w *sqlWriter, values []query.ColumnValue) error {
	w.str(" (")
	for i, cv := range values {
		if i > 0 {
			w.str(", ")
		}
		w.ident(cv.Column.Name)
	}
	w.str(") VALUES (")
	for i, cv := range values {
		if i > 0 {
			w.str(", ")
		}
		if err := w.param(cv.Param); err != nil {
			return err
		}
	}
	w.str(")")
	return nil
}

// setList writes the assignment list of an update.
func setList(w *sqlWriter, set []query.ColumnValue) error {
	for i, cv := range set {
		if i > 0 {
			w.str(", ")
		}
		w.ident(cv.Column.Name)
		w.str(" = ")
		if err := w.param(cv.Param); err != nil {
			return err
		}
	}
	return nil
}

// keyEquals writes the conjunction matching each key column to its bound
// value.
func keyEquals(w *sqlWriter, keys []query.ColumnValue) error {
	for i, cv := range keys {
		if i > 0 {
			w.str(" AND ")
		}
		w.ident(cv.Column.Name)
		w.str(" = ")
		if err := w.param(cv.Param); err != nil {
			return err
		}
	}
	return nil
}

// returningClause writes a RETURNING list with output labels.
func returningClause(w *sqlWriter, returning []query.LabelledColumn) {
	if len(returning) == 0 {
		return
	}
	w.str(" RETURNING ")
	for i, col := range returning {
		if i > 0 {
			w.str(", ")
		}
		w.ident(col.Column.Name)
		w.str(" AS ")
		w.ident(col.Label)
	}
}
