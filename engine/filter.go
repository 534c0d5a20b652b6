package engine

import (
	"fmt"

	"github.com/gateql/gateql/httperror"
	"github.com/gateql/gateql/metadata"
	"github.com/gateql/gateql/query"
	"github.com/gateql/gateql/request"
)

var compareOps = map[request.Op]query.CompareOp{
	request.OpEq:  query.OpEq,
	request.OpNeq: query.OpNeq,
	request.OpGt:  query.OpGt,
	request.OpGte: query.OpGte,
	request.OpLt:  query.OpLt,
	request.OpLte: query.OpLte,
}

// filterPredicate lowers a request filter tree onto a query structure:
// exposed names become backing columns qualified with table, literals
// move into the parameter set. allowed, when non-nil, restricts which
// fields the filter may touch; the error stays generic so a probe cannot
// map out restricted columns.
func filterPredicate(e *metadata.Entity, f request.Filter, ps *query.ParameterSet, table string, allowed map[string]bool) (query.Predicate, error) {
	switch node := f.(type) {
	case nil:
		return nil, nil

	case request.FieldFilter:
		return fieldPredicate(e, node, ps, table, allowed)

	case request.AndFilter:
		items, err := lowerItems(e, node.Items, ps, table, allowed)
		if err != nil {
			return nil, err
		}
		return query.AndOf(items...), nil

	case request.OrFilter:
		items, err := lowerItems(e, node.Items, ps, table, allowed)
		if err != nil {
			return nil, err
		}
		return query.OrOf(items...), nil

	case request.NotFilter:
		item, err := filterPredicate(e, node.Item, ps, table, allowed)
		if err != nil {
			return nil, err
		}
		return query.Not{Item: item}, nil
	}

	return nil, httperror.Unexpected(fmt.Errorf("unhandled filter node %T", f))
}

func lowerItems(e *metadata.Entity, items []request.Filter, ps *query.ParameterSet, table string, allowed map[string]bool) ([]query.Predicate, error) {
	out := make([]query.Predicate, len(items))
	for i, item := range items {
		p, err := filterPredicate(e, item, ps, table, allowed)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

func fieldPredicate(e *metadata.Entity, ff request.FieldFilter, ps *query.ParameterSet, table string, allowed map[string]bool) (query.Predicate, error) {
	f, ok := e.Field(ff.Field)
	if !ok {
		return nil, httperror.BadRequestf("unknown field %q in filter on %q", ff.Field, e.Name)
	}
	if allowed != nil && !allowed[f.Name] {
		return nil, httperror.Forbiddenf("the role may not filter on one or more fields of %q", e.Name)
	}
	col := query.Column{Table: table, Name: f.Column}

	switch ff.Op {
	case request.OpIsNull:
		return query.Comparison{Column: col, Op: query.OpIsNull}, nil
	case request.OpIsNotNull:
		return query.Comparison{Column: col, Op: query.OpIsNotNull}, nil

	case request.OpEq, request.OpNeq, request.OpGt, request.OpGte, request.OpLt, request.OpLte:
		if ff.Value == nil {
			// Fronts normally lower null equality themselves; accept it
			// here too rather than bind NULL as a parameter.
			if ff.Op == request.OpEq {
				return query.Comparison{Column: col, Op: query.OpIsNull}, nil
			}
			if ff.Op == request.OpNeq {
				return query.Comparison{Column: col, Op: query.OpIsNotNull}, nil
			}
			return nil, httperror.BadRequestf("null only combines with eq and neq on field %q", f.Name)
		}
		v, err := f.Coerce(ff.Value)
		if err != nil {
			return nil, httperror.BadRequest(err.Error())
		}
		return query.Comparison{Column: col, Op: compareOps[ff.Op], Param: ps.Add(v)}, nil

	case request.OpLike, request.OpNotLike:
		pattern, ok := ff.Value.(string)
		if !ok {
			return nil, httperror.BadRequestf("operator %q requires a string pattern on field %q", ff.Op, f.Name)
		}
		op := query.OpLike
		if ff.Op == request.OpNotLike {
			op = query.OpNotLike
		}
		// The pattern is the caller's own; wildcards pass through unescaped.
		return query.Comparison{Column: col, Op: op, Param: ps.Add(pattern)}, nil

	case request.OpContains, request.OpStartsWith, request.OpEndsWith:
		s, ok := ff.Value.(string)
		if !ok {
			return nil, httperror.BadRequestf("%s requires a string argument on field %q", ff.Op, f.Name)
		}
		prefix := ff.Op == request.OpContains || ff.Op == request.OpEndsWith
		suffix := ff.Op == request.OpContains || ff.Op == request.OpStartsWith
		pattern := query.LikePattern(s, prefix, suffix)
		return query.Comparison{Column: col, Op: query.OpLike, Param: ps.Add(pattern), Escape: true}, nil

	case request.OpIn:
		list, ok := ff.Value.([]any)
		if !ok || len(list) == 0 {
			return nil, httperror.BadRequestf("in requires a non-empty list on field %q", f.Name)
		}
		params := make([]string, len(list))
		for i, raw := range list {
			if raw == nil {
				return nil, httperror.BadRequestf("null is not allowed in an in list on field %q", f.Name)
			}
			v, err := f.Coerce(raw)
			if err != nil {
				return nil, httperror.BadRequest(err.Error())
			}
			params[i] = ps.Add(v)
		}
		return query.Comparison{Column: col, Op: query.OpIn, Params: params}, nil
	}

	return nil, httperror.BadRequestf("unknown operator %q in filter on %q", ff.Op, e.Name)
}
