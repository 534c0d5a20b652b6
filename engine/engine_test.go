package engine

import (
	"io"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/gateql/gateql/authorize"
	"github.com/gateql/gateql/execute"
	"github.com/gateql/gateql/metadata"
	"github.com/gateql/gateql/query/compile"
)

// testModel exposes a books/authors pair and a stored procedure, enough
// surface for every request shape.
func testModel(t *testing.T, schema string) *metadata.Model {
	t.Helper()
	m, err := metadata.NewModel([]*metadata.Entity{
		{
			Name: "Book", Kind: metadata.SourceTable, Schema: schema, Object: "books",
			KeyFields: []string{"id"},
			Fields: []metadata.Field{
				{Name: "id", Column: "id", Type: metadata.TypeInt},
				{Name: "title", Column: "title", Type: metadata.TypeString},
				{Name: "pages", Column: "pages", Type: metadata.TypeInt, Nullable: true},
				{Name: "authorId", Column: "author_id", Type: metadata.TypeInt, Nullable: true},
			},
			Relations: []metadata.Relationship{{
				Name: "author", Target: "Author",
				SourceFields: []string{"authorId"}, TargetFields: []string{"id"},
			}},
		},
		{
			Name: "Author", Kind: metadata.SourceTable, Schema: schema, Object: "authors",
			KeyFields: []string{"id"},
			Fields: []metadata.Field{
				{Name: "id", Column: "id", Type: metadata.TypeInt},
				{Name: "name", Column: "name", Type: metadata.TypeString},
			},
			Relations: []metadata.Relationship{{
				Name: "books", Target: "Book", Many: true,
				SourceFields: []string{"id"}, TargetFields: []string{"authorId"},
			}},
		},
		{
			Name: "Tag", Kind: metadata.SourceTable, Schema: schema, Object: "tags",
			KeyFields: []string{"slug"},
			Fields: []metadata.Field{
				{Name: "slug", Column: "slug", Type: metadata.TypeString},
				{Name: "label", Column: "label", Type: metadata.TypeString, Nullable: true},
			},
		},
		{
			Name: "CountBooks", Kind: metadata.SourceProcedure, Schema: schema, Object: "count_books",
			Fields: []metadata.Field{
				{Name: "total", Column: "total", Type: metadata.TypeInt},
			},
			Params: []metadata.ProcParam{
				{Name: "category", Type: metadata.TypeString},
				{Name: "top", Type: metadata.TypeInt, HasDefault: true, Default: 10},
			},
		},
	})
	require.NoError(t, err)
	return m
}

// testAuth grants admin everything, confines tenant to its own author's
// rows, and restricts reviewer to a field subset.
func testAuth() *authorize.Resolver {
	r := authorize.NewResolver()
	actions := []authorize.Action{
		authorize.ActionCreate, authorize.ActionRead,
		authorize.ActionUpdate, authorize.ActionDelete,
	}
	for _, action := range actions {
		r.Grant("admin", "Book", action, authorize.Rule{})
		r.Grant("admin", "Author", action, authorize.Rule{})
		r.Grant("admin", "Tag", action, authorize.Rule{})
	}
	r.Grant("admin", "CountBooks", authorize.ActionExecute, authorize.Rule{})

	r.Grant("tenant", "Book", authorize.ActionRead, authorize.Rule{Policy: "@item.authorId eq @claims.sub"})
	r.Grant("tenant", "Book", authorize.ActionCreate, authorize.Rule{})
	r.Grant("tenant", "Book", authorize.ActionUpdate, authorize.Rule{Policy: "@item.authorId eq @claims.sub"})
	r.Grant("tenant", "Book", authorize.ActionDelete, authorize.Rule{Policy: "@item.authorId eq @claims.sub"})

	r.Grant("reviewer", "Book", authorize.ActionRead, authorize.Rule{Fields: []string{"id", "title"}})
	r.Grant("reviewer", "Book", authorize.ActionUpdate, authorize.Rule{Fields: []string{"title"}})
	return r
}

func newTestEngines(t *testing.T, dialect compile.Dialect, schema string) (*QueryEngine, *MutationEngine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ex := &execute.Executor{DB: db, Dialect: dialect, Log: log}
	model := testModel(t, schema)
	auth := testAuth()
	return NewQueryEngine(model, auth, ex, log), NewMutationEngine(model, auth, ex, log), mock
}
