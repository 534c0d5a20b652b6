package execute

import (
	"context"
	"database/sql"
	"strings"

	"github.com/gateql/gateql/query"
)

// QueryJSON runs a JSON-shaped select and returns the document text.
// Drivers may split a large document across rows (MSSQL streams FOR JSON
// output in chunks), so every row's first column is concatenated. An
// empty string means the query produced no document at all.
func QueryJSON(ctx context.Context, q Querier, stmt query.Statement) (string, error) {
	rows, err := q.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var sb strings.Builder
	for rows.Next() {
		var fragment sql.NullString
		if err := rows.Scan(&fragment); err != nil {
			return "", err
		}
		if fragment.Valid {
			sb.WriteString(fragment.String)
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// QueryRow runs a statement expected to return at most one row and maps
// it by column name. A nil map means no row.
func QueryRow(ctx context.Context, q Querier, stmt query.Statement) (map[string]any, error) {
	rows, err := q.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	row, err := scanRow(rows)
	if err != nil {
		return nil, err
	}
	return row, rows.Err()
}

// QueryRowSets runs a multi-result-set batch and returns the first row
// found, reporting which set held it: false for the first, true for a
// later one. The MSSQL upsert batch yields its row in the first set when
// the update arm ran and in the second when the insert arm did.
func QueryRowSets(ctx context.Context, q Querier, stmt query.Statement) (map[string]any, bool, error) {
	rows, err := q.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	row, err := scanRow(rows)
	if err != nil {
		return nil, false, err
	}
	if row != nil {
		return row, false, rows.Err()
	}

	for rows.NextResultSet() {
		row, err = scanRow(rows)
		if err != nil {
			return nil, false, err
		}
		if row != nil {
			return row, true, rows.Err()
		}
	}
	return nil, false, rows.Err()
}

// QueryRows runs a statement and maps every row of its first result set
// by column name. Stored procedures return arbitrary shapes, so this is
// the handler for their output.
func QueryRows(ctx context.Context, q Querier, stmt query.Statement) ([]map[string]any, error) {
	rows, err := q.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		if row == nil {
			break
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Exec runs a statement for its side effect.
func Exec(ctx context.Context, q Querier, stmt query.Statement) (sql.Result, error) {
	return q.ExecContext(ctx, stmt.SQL, stmt.Args...)
}

// scanRow reads the next row of the current result set into a map, or
// nil when the set is exhausted.
func scanRow(rows *sql.Rows) (map[string]any, error) {
	if !rows.Next() {
		return nil, rows.Err()
	}
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	row := make(map[string]any, len(cols))
	for i, col := range cols {
		row[col] = normalize(values[i])
	}
	return row, nil
}

// normalize widens driver-specific scan values: byte slices become
// strings (MySQL returns text columns as []byte), everything else passes
// through.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
