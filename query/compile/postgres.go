package compile

import (
	"fmt"
	"strings"

	"github.com/gateql/gateql/metadata"
	"github.com/gateql/gateql/query"
)

// postgresDialect shapes JSON by aggregating a derived table with
// jsonb_agg(to_jsonb(...)). Writes return rows through RETURNING; upserts
// use ON CONFLICT DO UPDATE and report which arm ran through the xmax
// system column.
type postgresDialect struct{}

func (d *postgresDialect) Name() string { return "postgres" }

func (d *postgresDialect) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d *postgresDialect) SupportsReturning() bool  { return true }
func (d *postgresDialect) SupportsProcedures() bool { return true }
func (d *postgresDialect) Upsert() UpsertStrategy   { return UpsertDiscriminator }

func (d *postgresDialect) writer(ps *query.ParameterSet) *sqlWriter {
	w := newWriter(ps, d.QuoteIdentifier, phDollar)
	w.explicitNulls = true
	return w
}

func (d *postgresDialect) Build(q *query.SelectQuery) (query.Statement, error) {
	w := d.writer(q.Params)
	if err := d.writeWrapped(w, q, nil, true); err != nil {
		return query.Statement{}, err
	}
	return w.stmt(), nil
}

// writeWrapped writes the JSON-shaping derived table around one select:
// jsonb_agg for lists, a bare to_jsonb row for single results.
func (d *postgresDialect) writeWrapped(w *sqlWriter, q *query.SelectQuery, rel *query.RelatedSelect, root bool) error {
	alias := w.subAlias()
	many := !q.Single

	w.str("SELECT ")
	if many {
		w.str("COALESCE(jsonb_agg(to_jsonb(")
		w.ident(alias)
		w.str(")), '[]')")
	} else {
		w.str("to_jsonb(")
		w.ident(alias)
		w.str(")")
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

// writeInner writes the row-producing select the JSON wrapper aggregates.
func (d *postgresDialect) writeInner(w *sqlWriter, q *query.SelectQuery, rel *query.RelatedSelect) error {
	w.str("SELECT ")
	for i, col := range q.Columns {
		if i > 0 {
			w.str(", ")
		}
		// Bytes travel as base64 text so every dialect serializes them
		// the same way.
		if col.Type == metadata.TypeBytes {
			w.str("encode(")
			w.col(col.Column)
			w.str(", 'base64')")
		} else {
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

func (d *postgresDialect) BuildInsert(q *query.InsertQuery) (query.Statement, error) {
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

func (d *postgresDialect) BuildUpdate(q *query.UpdateQuery) (query.Statement, error) {
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

func (d *postgresDialect) BuildDelete(q *query.DeleteQuery) (query.Statement, error) {
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

// BuildUpsert emits INSERT ... ON CONFLICT DO UPDATE. A freshly inserted
// row has xmax = 0, so the returned discriminator column tells the two
// arms apart.
func (d *postgresDialect) BuildUpsert(q *query.UpsertQuery) (query.Statement, error) {
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
		// Key-only rows still need an update arm so the conflicting row
		// reaches RETURNING; rewriting the first key is a no-op.
		update = q.Keys[:1]
	}
	for i, cv := range update {
		if i > 0 {
			w.str(", ")
		}
		w.ident(cv.Column.Name)
		w.str(" = EXCLUDED.")
		w.ident(cv.Column.Name)
	}

	if q.Where != nil {
		w.str(" WHERE ")
		if err := w.predicate(q.Where); err != nil {
			return query.Statement{}, err
		}
	}

	w.str(" RETURNING ")
	for _, col := range q.Returning {
		w.ident(col.Column.Name)
		w.str(" AS ")
		w.ident(col.Label)
		w.str(", ")
	}
	w.str("(xmax = 0) AS ")
	w.ident(InsertDiscriminator)
	return w.stmt(), nil
}

func (d *postgresDialect) BuildExec(q *query.ExecQuery) (query.Statement, error) {
	w := d.writer(q.Params)
	w.str("SELECT * FROM ")
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
