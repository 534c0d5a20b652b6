package compile

import (
	"fmt"
	"strings"

	"github.com/gateql/gateql/metadata"
	"github.com/gateql/gateql/query"
)

// mssqlDialect shapes JSON with FOR JSON PATH and returns written rows
// through OUTPUT INSERTED. Upserts run as a single UPDLOCK/SERIALIZABLE
// batch that yields the row in the first result set on update and the
// second on insert.
type mssqlDialect struct{}

func (d *mssqlDialect) Name() string { return "mssql" }

func (d *mssqlDialect) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (d *mssqlDialect) SupportsReturning() bool  { return true }
func (d *mssqlDialect) SupportsProcedures() bool { return true }
func (d *mssqlDialect) Upsert() UpsertStrategy   { return UpsertMultiResult }

func (d *mssqlDialect) writer(ps *query.ParameterSet) *sqlWriter {
	return newWriter(ps, d.QuoteIdentifier, phNamed)
}

func (d *mssqlDialect) Build(q *query.SelectQuery) (query.Statement, error) {
	w := d.writer(q.Params)
	if err := d.writeSelect(w, q, nil); err != nil {
		return query.Statement{}, err
	}
	return w.stmt(), nil
}

// writeSelect writes one FOR JSON select. rel is nil at the root and
// carries the correlation when writing a relationship subquery.
func (d *mssqlDialect) writeSelect(w *sqlWriter, q *query.SelectQuery, rel *query.RelatedSelect) error {
	w.str("SELECT ")
	switch {
	case q.Single:
		w.str("TOP (1) ")
	case q.Limit > 0:
		fmt.Fprintf(&w.sb, "TOP (%d) ", q.Limit)
	}

	for i, col := range q.Columns {
		if i > 0 {
			w.str(", ")
		}
		// FOR JSON escapes embedded JSON text unless it passes through
		// JSON_QUERY.
		if col.Type == metadata.TypeJSON {
			w.str("JSON_QUERY(")
			w.col(col.Column)
			w.str(")")
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
		if err := d.writeRelated(w, &q.Related[i]); err != nil {
			return err
		}
	}

	fromClause(w, q, rel)
	if err := selectWhere(w, q, rel); err != nil {
		return err
	}

	if len(q.OrderBy) > 0 {
		w.str(" ")
		w.orderBy(q.OrderBy)
	}

	w.str(" FOR JSON PATH, INCLUDE_NULL_VALUES")
	if q.Single {
		w.str(", WITHOUT_ARRAY_WRAPPER")
	}
	return nil
}

func (d *mssqlDialect) writeRelated(w *sqlWriter, rel *query.RelatedSelect) error {
	if rel.Many {
		w.str("JSON_QUERY(COALESCE((")
		if err := d.writeSelect(w, rel.Query, rel); err != nil {
			return err
		}
		w.str("), '[]')) AS ")
	} else {
		w.str("JSON_QUERY((")
		if err := d.writeSelect(w, rel.Query, rel); err != nil {
			return err
		}
		w.str(")) AS ")
	}
	w.ident(rel.Label)
	return nil
}

// writeOutput writes an OUTPUT INSERTED column list for writes that
// return the written row.
func (d *mssqlDialect) writeOutput(w *sqlWriter, returning []query.LabelledColumn) {
	if len(returning) == 0 {
		return
	}
	w.str(" OUTPUT ")
	for i, col := range returning {
		if i > 0 {
			w.str(", ")
		}
		w.str("INSERTED.")
		w.ident(col.Column.Name)
		w.str(" AS ")
		w.ident(col.Label)
	}
}

func (d *mssqlDialect) BuildInsert(q *query.InsertQuery) (query.Statement, error) {
	if len(q.Values) == 0 {
		return query.Statement{}, fmt.Errorf("insert requires at least one column")
	}
	w := d.writer(q.Params)
	if err := d.writeInsert(w, q.Schema, q.Object, q.Values, q.Returning); err != nil {
		return query.Statement{}, err
	}
	return w.stmt(), nil
}

func (d *mssqlDialect) writeInsert(w *sqlWriter, schema, object string, values []query.ColumnValue, returning []query.LabelledColumn) error {
	w.str("INSERT INTO ")
	w.object(schema, object)
	w.str(" (")
	for i, cv := range values {
		if i > 0 {
			w.str(", ")
		}
		w.ident(cv.Column.Name)
	}
	w.str(")")
	d.writeOutput(w, returning)
	w.str(" VALUES (")
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

func (d *mssqlDialect) BuildUpdate(q *query.UpdateQuery) (query.Statement, error) {
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
	d.writeOutput(w, q.Returning)
	w.str(" WHERE ")
	if err := w.predicate(q.Where); err != nil {
		return query.Statement{}, err
	}
	return w.stmt(), nil
}

func (d *mssqlDialect) BuildDelete(q *query.DeleteQuery) (query.Statement, error) {
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

// BuildUpsert emits a transactional update-then-insert batch. The UPDLOCK
// and SERIALIZABLE hints hold the key range so a concurrent writer cannot
// slip between the empty update and the insert.
func (d *mssqlDialect) BuildUpsert(q *query.UpsertQuery) (query.Statement, error) {
	if len(q.Keys) == 0 {
		return query.Statement{}, fmt.Errorf("upsert requires key columns")
	}
	if len(q.Insert) == 0 {
		return query.Statement{}, fmt.Errorf("upsert requires insert columns")
	}

	w := d.writer(q.Params)
	w.str("BEGIN TRANSACTION; UPDATE ")
	w.object(q.Schema, q.Object)
	w.str(" WITH (UPDLOCK, SERIALIZABLE) SET ")

	update := q.Update
	if len(update) == 0 {
		// Key-only rows still need an update arm so an existing row is
		// reported; touching the first key column is a no-op.
		update = q.Keys[:1]
	}
	if err := setList(w, update); err != nil {
		return query.Statement{}, err
	}

	d.writeOutput(w, q.Returning)

	w.str(" WHERE ")
	if err := keyEquals(w, q.Keys); err != nil {
		return query.Statement{}, err
	}
	if q.Where != nil {
		w.str(" AND ")
		if err := w.predicate(q.Where); err != nil {
			return query.Statement{}, err
		}
	}

	w.str("; IF @@ROWCOUNT = 0 BEGIN ")
	if err := d.writeInsert(w, q.Schema, q.Object, q.Insert, q.Returning); err != nil {
		return query.Statement{}, err
	}
	w.str("; END COMMIT TRANSACTION;")
	return w.stmt(), nil
}

func (d *mssqlDialect) BuildExec(q *query.ExecQuery) (query.Statement, error) {
	w := d.writer(q.Params)
	w.str("EXECUTE ")
	w.object(q.Schema, q.Object)
	for i, arg := range q.Args {
		if i > 0 {
			w.str(",")
		}
		w.str(" @")
		w.str(arg.Name)
		w.str(" = ")
		if err := w.param(arg.Param); err != nil {
			return query.Statement{}, err
		}
	}
	return w.stmt(), nil
}
