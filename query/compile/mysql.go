package compile

import (
	"fmt"
	"strings"

	"github.com/gateql/gateql/metadata"
	"github.com/gateql/gateql/query"
)

// mysqlDialect shapes JSON with JSON_ARRAYAGG(JSON_OBJECT(...)) over a
// derived table. Writes return nothing, so the engine re-reads written
// rows by key; upserts use ON DUPLICATE KEY UPDATE and report the arm
// through the affected-row count (1 insert, 2 update).
//
// Outer references from a derived table inside a correlated subquery
// require MySQL 8.0.14 or later.
type mysqlDialect struct{}

func (d *mysqlDialect) Name() string { return "mysql" }

func (d *mysqlDialect) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (d *mysqlDialect) SupportsReturning() bool  { return false }
func (d *mysqlDialect) SupportsProcedures() bool { return true }
func (d *mysqlDialect) Upsert() UpsertStrategy   { return UpsertAffectedRows }

func (d *mysqlDialect) writer(ps *query.ParameterSet) *sqlWriter {
	w := newWriter(ps, d.QuoteIdentifier, phQuestion)
	// MySQL string literals treat backslash as an escape, so the clause
	// itself needs a doubled one.
	w.escapeClause = ` ESCAPE '\\'`
	return w
}

func (d *mysqlDialect) Build(q *query.SelectQuery) (query.Statement, error) {
	w := d.writer(q.Params)
	if err := d.writeWrapped(w, q, nil, true); err != nil {
		return query.Statement{}, err
	}
	return w.stmt(), nil
}

// writeWrapped writes the JSON-shaping derived table around one select.
func (d *mysqlDialect) writeWrapped(w *sqlWriter, q *query.SelectQuery, rel *query.RelatedSelect, root bool) error {
	alias := w.subAlias()
	many := !q.Single

	w.str("SELECT ")
	if many {
		w.str("COALESCE(JSON_ARRAYAGG(")
		d.writeObject(w, q, alias)
		w.str("), JSON_ARRAY())")
	} else {
		d.writeObject(w, q, alias)
	}
	if root {
		w.str(" AS ")
		w.ident("data")
	}
	w.str(" FROM (")
	if err := d.writeInner(w, q, rel); err != nil {
		return err
	}
	w.str(") AS ")
	w.ident(alias)
	return nil
}

// writeObject writes the JSON_OBJECT projection over the derived table's
// columns, one 'label', value pair per output field.
func (d *mysqlDialect) writeObject(w *sqlWriter, q *query.SelectQuery, alias string) {
	w.str("JSON_OBJECT(")
	n := 0
	pair := func(label string) {
		if n > 0 {
			w.str(", ")
		}
		n++
		w.str("'" + strings.ReplaceAll(label, "'", "''") + "', ")
		w.col(query.Column{Table: alias, Name: label})
	}
	for _, col := range q.Columns {
		pair(col.Label)
	}
	for i := range q.Related {
		pair(q.Related[i].Label)
	}
	w.str(")")
}

// writeInner writes the row-producing select. Booleans, bytes and JSON
// columns are rewritten so JSON_OBJECT embeds them as JSON values instead
// of numbers and strings.
func (d *mysqlDialect) writeInner(w *sqlWriter, q *query.SelectQuery, rel *query.RelatedSelect) error {
	w.str("SELECT ")
	for i, col := range q.Columns {
		if i > 0 {
			w.str(", ")
		}
		switch col.Type {
		case metadata.TypeBool:
			w.str("CASE WHEN ")
			w.col(col.Column)
			w.str(" IS NULL THEN NULL WHEN ")
			w.col(col.Column)
			w.str(" THEN CAST('true' AS JSON) ELSE CAST('false' AS JSON) END")
		case metadata.TypeBytes:
			w.str("TO_BASE64(")
			w.col(col.Column)
			w.str(")")
		case metadata.TypeJSON:
			w.str("CAST(")
			w.col(col.Column)
			w.str(" AS JSON)")
		default:
			w.col(col.Column)
		}
		w.str(" AS ")
		w.ident(col.Label)
	}

	for i := range q.Related {
		if len(q.Columns) > 0 || i > 0 {
			w.str(", ")
		}
		child := &q.Related[i]
		w.str("(")
		if err := d.writeWrapped(w, child.Query, child, false); err != nil {
			return err
		}
		w.str(") AS ")
		w.ident(child.Label)
	}

	fromClause(w, q, rel)
	if err := selectWhere(w, q, rel); err != nil {
		return err
	}

	if len(q.OrderBy) > 0 {
		w.str(" ")
		w.orderBy(q.OrderBy)
	}

	switch {
	case q.Single:
		w.str(" LIMIT 1")
	case q.Limit > 0:
		fmt.Fprintf(&w.sb, " LIMIT %d", q.Limit)
	}
	return nil
}

func (d *mysqlDialect) BuildInsert(q *query.InsertQuery) (query.Statement, error) {
	if len(q.Values) == 0 {
		return query.Statement{}, fmt.Errorf("insert requires at least one column")
	}
	w := d.writer(q.Params)
	w.str("INSERT INTO ")
	w.object(q.Schema, q.Object)
	if err := insertBody(w, q.Values); err != nil {
		return query.Statement{}, err
	}
	return w.stmt(), nil
}

func (d *mysqlDialect) BuildUpdate(q *query.UpdateQuery) (query.Statement, error) {
	if len(q.Set) == 0 {
		return query.Statement{}, fmt.Errorf("update requires at least one SET column")
	}
	if q.Where == nil {
		return query.Statement{}, fmt.Errorf("update requires a predicate")
	}
	w := d.writer(q.Params)
	w.str("UPDATE ")
	w.object(q.Schema, q.Object)
	w.str(" SET ")
	if err := setList(w, q.Set); err != nil {
		return query.Statement{}, err
	}
	w.str(" WHERE ")
	if err := w.predicate(q.Where); err != nil {
		return query.Statement{}, err
	}
	return w.stmt(), nil
}

func (d *mysqlDialect) BuildDelete(q *query.DeleteQuery) (query.Statement, error) {
	if q.Where == nil {
		return query.Statement{}, fmt.Errorf("delete requires a predicate")
	}
	w := d.writer(q.Params)
	w.str("DELETE FROM ")
	w.object(q.Schema, q.Object)
	w.str(" WHERE ")
	if err := w.predicate(q.Where); err != nil {
		return query.Statement{}, err
	}
	return w.stmt(), nil
}

// BuildUpsert emits INSERT ... ON DUPLICATE KEY UPDATE. The update arm
// re-binds the same parameters; positional placeholders repeat the values.
func (d *mysqlDialect) BuildUpsert(q *query.UpsertQuery) (query.Statement, error) {
	if len(q.Keys) == 0 {
		return query.Statement{}, fmt.Errorf("upsert requires key columns")
	}
	if len(q.Insert) == 0 {
		return query.Statement{}, fmt.Errorf("upsert requires insert columns")
	}
	// ON DUPLICATE KEY UPDATE has no WHERE, so a row restriction on the
	// update arm cannot be expressed.
	if q.Where != nil {
		return query.Statement{}, fmt.Errorf("mysql upserts cannot restrict the update arm")
	}

	w := d.writer(q.Params)
	w.str("INSERT INTO ")
	w.object(q.Schema, q.Object)
	if err := insertBody(w, q.Insert); err != nil {
		return query.Statement{}, err
	}

	w.str(" ON DUPLICATE KEY UPDATE ")
	update := q.Update
	if len(update) == 0 {
		// Key-only rows update nothing; rewriting the first key keeps the
		// statement valid and leaves the row untouched.
		update = q.Keys[:1]
	}
	if err := setList(w, update); err != nil {
		return query.Statement{}, err
	}
	return w.stmt(), nil
}

func (d *mysqlDialect) BuildExec(q *query.ExecQuery) (query.Statement, error) {
	w := d.writer(q.Params)
	w.str("CALL ")
	w.object(q.Schema, q.Object)
	w.str("(")
	for i, arg := range q.Args {
		if i > 0 {
			w.str(", ")
		}
		if err := w.param(arg.Param); err != nil {
			return query.Statement{}, err
		}
	}
	w.str(")")
	return w.stmt(), nil
}
