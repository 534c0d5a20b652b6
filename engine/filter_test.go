package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gateql/gateql/httperror"
	"github.com/gateql/gateql/metadata"
	"github.com/gateql/gateql/query"
	"github.com/gateql/gateql/request"
)

func bookEntity(t *testing.T) *metadata.Entity {
	t.Helper()
	e, ok := testModel(t, "").Entity("Book")
	require.True(t, ok)
	return e
}

func lowerExpr(t *testing.T, expr string) (query.Predicate, *query.ParameterSet) {
	t.Helper()
	f, err := request.ParseFilter(expr)
	require.NoError(t, err)
	ps := query.NewParameterSet()
	p, err := filterPredicate(bookEntity(t), f, ps, "t", nil)
	require.NoError(t, err)
	return p, ps
}

func paramValue(t *testing.T, ps *query.ParameterSet, name string) any {
	t.Helper()
	v, ok := ps.Value(name)
	require.True(t, ok)
	return v
}

func TestFilterPredicate_ComparisonOps(t *testing.T) {
	cases := []struct {
		expr string
		op   query.CompareOp
	}{
		{"pages eq 100", query.OpEq},
		{"pages ne 100", query.OpNeq},
		{"pages gt 100", query.OpGt},
		{"pages ge 100", query.OpGte},
		{"pages lt 100", query.OpLt},
		{"pages le 100", query.OpLte},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			p, ps := lowerExpr(t, tc.expr)
			cmp, ok := p.(query.Comparison)
			require.True(t, ok)
			require.Equal(t, query.Column{Table: "t", Name: "pages"}, cmp.Column)
			require.Equal(t, tc.op, cmp.Op)
			require.Equal(t, int64(100), paramValue(t, ps, cmp.Param))
		})
	}
}

func TestFilterPredicate_ColumnMapping(t *testing.T) {
	p, ps := lowerExpr(t, "@item.authorId eq 9")
	cmp := p.(query.Comparison)
	require.Equal(t, query.Column{Table: "t", Name: "author_id"}, cmp.Column)
	require.Equal(t, int64(9), paramValue(t, ps, cmp.Param))
}

func TestFilterPredicate_NullChecks(t *testing.T) {
	p, _ := lowerExpr(t, "pages eq null")
	require.Equal(t, query.Comparison{Column: query.Column{Table: "t", Name: "pages"}, Op: query.OpIsNull}, p)

	p, _ = lowerExpr(t, "pages ne null")
	require.Equal(t, query.Comparison{Column: query.Column{Table: "t", Name: "pages"}, Op: query.OpIsNotNull}, p)
}

func TestFilterPredicate_NullLiteralFromFront(t *testing.T) {
	// GraphQL input objects hand the engine an explicit nil value instead
	// of the parser's pre-lowered null check.
	e := bookEntity(t)
	ps := query.NewParameterSet()

	p, err := filterPredicate(e, request.FieldFilter{Field: "pages", Op: request.OpEq}, ps, "t", nil)
	require.NoError(t, err)
	require.Equal(t, query.OpIsNull, p.(query.Comparison).Op)

	p, err = filterPredicate(e, request.FieldFilter{Field: "pages", Op: request.OpNeq}, ps, "t", nil)
	require.NoError(t, err)
	require.Equal(t, query.OpIsNotNull, p.(query.Comparison).Op)

	_, err = filterPredicate(e, request.FieldFilter{Field: "pages", Op: request.OpGt}, ps, "t", nil)
	require.Error(t, err)
	require.Equal(t, 400, httperror.FromError(err).Code())
}

func TestFilterPredicate_ContainsEscapesWildcards(t *testing.T) {
	p, ps := lowerExpr(t, "contains(title, '50%_off')")
	cmp := p.(query.Comparison)
	require.Equal(t, query.OpLike, cmp.Op)
	require.True(t, cmp.Escape)
	require.Equal(t, `%50\%\_off%`, paramValue(t, ps, cmp.Param))
}

func TestFilterPredicate_StartsAndEndsWith(t *testing.T) {
	p, ps := lowerExpr(t, "startswith(title, 'The')")
	cmp := p.(query.Comparison)
	require.Equal(t, "The%", paramValue(t, ps, cmp.Param))

	p, ps = lowerExpr(t, "endswith(title, 'Night')")
	cmp = p.(query.Comparison)
	require.Equal(t, "%Night", paramValue(t, ps, cmp.Param))
}

func TestFilterPredicate_LikePassesPatternThrough(t *testing.T) {
	// like is the caller-controlled escape hatch; its wildcards stay live.
	p, ps := lowerExpr(t, "title like 'D_ne%'")
	cmp := p.(query.Comparison)
	require.Equal(t, query.OpLike, cmp.Op)
	require.False(t, cmp.Escape)
	require.Equal(t, "D_ne%", paramValue(t, ps, cmp.Param))

	p, _ = lowerExpr(t, "title notlike 'D%'")
	require.Equal(t, query.OpNotLike, p.(query.Comparison).Op)
}

func TestFilterPredicate_LikeRequiresString(t *testing.T) {
	_, err := filterPredicate(bookEntity(t), request.FieldFilter{
		Field: "title", Op: request.OpLike, Value: int64(5),
	}, query.NewParameterSet(), "t", nil)
	require.Error(t, err)
	require.Equal(t, 400, httperror.FromError(err).Code())
}

func TestFilterPredicate_InList(t *testing.T) {
	p, ps := lowerExpr(t, "pages in (100, 200, 300)")
	cmp := p.(query.Comparison)
	require.Equal(t, query.OpIn, cmp.Op)
	require.Len(t, cmp.Params, 3)
	require.Equal(t, int64(200), paramValue(t, ps, cmp.Params[1]))
}

func TestFilterPredicate_InRejectsEmptyAndNull(t *testing.T) {
	e := bookEntity(t)

	_, err := filterPredicate(e, request.FieldFilter{
		Field: "pages", Op: request.OpIn, Value: []any{},
	}, query.NewParameterSet(), "t", nil)
	require.Error(t, err)
	require.Equal(t, 400, httperror.FromError(err).Code())

	_, err = filterPredicate(e, request.FieldFilter{
		Field: "pages", Op: request.OpIn, Value: []any{int64(1), nil},
	}, query.NewParameterSet(), "t", nil)
	require.Error(t, err)
	require.Equal(t, 400, httperror.FromError(err).Code())
}

func TestFilterPredicate_Combinators(t *testing.T) {
	p, _ := lowerExpr(t, "pages gt 100 and (title eq 'Dune' or not title eq 'Emma')")
	and, ok := p.(query.And)
	require.True(t, ok)
	require.Len(t, and.Items, 2)
	or, ok := and.Items[1].(query.Or)
	require.True(t, ok)
	require.Len(t, or.Items, 2)
	_, ok = or.Items[1].(query.Not)
	require.True(t, ok)
}

func TestFilterPredicate_UnknownField(t *testing.T) {
	_, err := filterPredicate(bookEntity(t), request.FieldFilter{
		Field: "isbn", Op: request.OpEq, Value: "978",
	}, query.NewParameterSet(), "t", nil)
	require.Error(t, err)
	require.Equal(t, 400, httperror.FromError(err).Code())
}

func TestFilterPredicate_RestrictedField(t *testing.T) {
	allowed := map[string]bool{"id": true, "title": true}
	_, err := filterPredicate(bookEntity(t), request.FieldFilter{
		Field: "pages", Op: request.OpGt, Value: int64(1),
	}, query.NewParameterSet(), "t", allowed)
	require.Error(t, err)
	require.Equal(t, 403, httperror.FromError(err).Code())
}

func TestFilterPredicate_CoercionFailure(t *testing.T) {
	_, err := filterPredicate(bookEntity(t), request.FieldFilter{
		Field: "pages", Op: request.OpEq, Value: "plenty",
	}, query.NewParameterSet(), "t", nil)
	require.Error(t, err)
	require.Equal(t, 400, httperror.FromError(err).Code())
}
