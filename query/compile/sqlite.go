package compile

import (
	"fmt"
	"strings"

	"github.com/gateql/gateql/metadata"
	"github.com/gateql/gateql/query"
)

// sqliteDialect shapes JSON with json_group_array(json_object(...)) over
// a derived table. Writes return rows through RETURNING. Neither the
// affected-row count nor RETURNING distinguishes the upsert arms, so the
// engine probes for the row first inside the transaction.
//
// The base64() scalar requires SQLite 3.44 or later.
type sqliteDialect struct{}

func (d *sqliteDialect) Name() string { return "sqlite" }

func (d *sqliteDialect) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d *sqliteDialect) SupportsReturning() bool  { return true }
func (d *sqliteDialect) SupportsProcedures() bool { return false }
func (d *sqliteDialect) Upsert() UpsertStrategy   { return UpsertProbe }

func (d *sqliteDialect) writer(ps *query.ParameterSet) *sqlWriter {
	return newWriter(ps, d.QuoteIdentifier, phQuestion)
}

func (d *sqliteDialect) Build(q *query.SelectQuery) (query.Statement, error) {
	w := d.writer(q.Params)
	if err := d.writeWrapped(w, q, nil, true); err != nil {
		return query.Statement{}, err
	}
	return w.stmt(), nil
}

func (d *sqliteDialect) writeWrapped(w *sqlWriter, q *query.SelectQuery, rel *query.RelatedSelect, root bool) error {
	alias := w.subAlias()
	many := !q.Single

	w.str("SELECT ")
	if many {
		// json_group_array yields '[]' over zero rows, no COALESCE needed.
		w.str("json_group_array(")
		d.writeObject(w, q, alias)
		w.str(")")
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

func (d *sqliteDialect) writeObject(w *sqlWriter, q *query.SelectQuery, alias string) {
	w.str("json_object(")
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

func (d *sqliteDialect) writeInner(w *sqlWriter, q *query.SelectQuery, rel *query.RelatedSelect) error {
	w.str("SELECT ")
	for i, col := range q.Columns {
		if i > 0 {
			w.str(", ")
		}
		switch col.Type {
		case metadata.TypeBool:
			// Stored as 0/1; json() turns the literal into a JSON true or
			// false that json_object embeds unquoted.
			w.str("CASE WHEN ")
			w.col(col.Column)
			w.str(" IS NULL THEN NULL WHEN ")
			w.col(col.Column)
			w.str(" THEN json('true') ELSE json('false') END")
		case metadata.TypeBytes:
			w.str("base64(")
			w.col(col.Column)
			w.str(")")
		case metadata.TypeJSON:
			w.str("json(")
			w.col(col.Column)
			w.str(")")
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

func (d *sqliteDialect) BuildInsert(q *query.InsertQuery) (query.Statement, error) {
	if len(q.Values) == 0 {
		return query.Statement{}, fmt.Errorf("insert requires at least one column")
	}
	w := d.writer(q.Params)
	w.str("INSERT INTO ")
	w.object(q.Schema, q.Object)
	if err := insertBody(w, q.Values); err != nil {
		return query.Statement{}, err
	}
	returningClause(w, q.Returning)
	return w.stmt(), nil
}

func (d *sqliteDialect) BuildUpdate(q *query.UpdateQuery) (query.Statement, error) {
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
	returningClause(w, q.Returning)
	return w.stmt(), nil
}

func (d *sqliteDialect) BuildDelete(q *query.DeleteQuery) (query.Statement, error) {
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

func (d *sqliteDialect) BuildUpsert(q *query.UpsertQuery) (query.Statement, error) {
	if len(q.Keys) == 0 {
		return query.Statement{}, fmt.Errorf("upsert requires key columns")
	}
	if len(q.Insert) == 0 {
		return query.Statement{}, fmt.Errorf("upsert requires insert columns")
	}

	w := d.writer(q.Params)
	w.str("INSERT INTO ")
	w.object(q.Schema, q.Object)
	if err := insertBody(w, q.Insert); err != nil {
		return query.Statement{}, err
	}

	w.str(" ON CONFLICT (")
	for i, cv := range q.Keys {
		if i > 0 {
			w.str(", ")
		}
		w.ident(cv.Column.Name)
	}
	w.str(") DO UPDATE SET ")

	update := q.Update
	if len(update) == 0 {
		update = q.Keys[:1]
	}
	for i, cv := range update {
		if i > 0 {
			w.str(", ")
		}
		w.ident(cv.Column.Name)
		w.str(" = excluded.")
		w.ident(cv.Column.Name)
	}

	if q.Where != nil {
		w.str(" WHERE ")
		if err := w.predicate(q.Where); err != nil {
			return query.Statement{}, err
		}
	}

	returningClause(w, q.Returning)
	return w.stmt(), nil
}

func (d *sqliteDialect) BuildExec(q *query.ExecQuery) (query.Statement, error) {
	return query.Statement{}, fmt.Errorf("sqlite does not support stored procedures")
}
