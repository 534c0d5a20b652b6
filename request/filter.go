// Package request holds the neutral request model the fronts produce and
// the engines consume. REST query strings, GraphQL arguments, and database
// policy strings all reduce to the same Filter tree before any SQL exists.
package request

// Op is a filter comparison operator.
type Op string

const (
	OpEq         Op = "eq"
	OpNeq        Op = "neq"
	OpGt         Op = "gt"
	OpGte        Op = "gte"
	OpLt         Op = "lt"
	OpLte        Op = "lte"
	OpLike       Op = "like"
	OpNotLike    Op = "notlike"
	OpContains   Op = "contains"
	OpStartsWith Op = "startswith"
	OpEndsWith   Op = "endswith"
	OpIn         Op = "in"
	OpIsNull     Op = "isnull"
	OpIsNotNull  Op = "isnotnull"
)

// Filter is a node in a filter tree.
type Filter interface {
	filterNode()
}

// FieldFilter compares one field against a value. For OpIn the value is a
// []any; for OpIsNull/OpIsNotNull it is ignored.
type FieldFilter struct {
	Field string
	Op    Op
	Value any
}

// AndFilter is the conjunction of its items.
type AndFilter struct {
	Items []Filter
}

// OrFilter is the disjunction of its items.
type OrFilter struct {
	Items []Filter
}

// NotFilter negates its item.
type NotFilter struct {
	Item Filter
}

func (FieldFilter) filterNode() {}
func (AndFilter) filterNode()   {}
func (OrFilter) filterNode()    {}
func (NotFilter) filterNode()   {}

// Compile-time interface checks.
var (
	_ Filter = FieldFilter{}
	_ Filter = AndFilter{}
	_ Filter = OrFilter{}
	_ Filter = NotFilter{}
)

// And combines filters into a conjunction, dropping nils. Returns nil when
// nothing remains and the single filter when only one does.
func And(filters ...Filter) Filter {
	items := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if f != nil {
			items = append(items, f)
		}
	}
	switch len(items) {
	case 0:
		return nil
	case 1:
		return items[0]
	}
	return AndFilter{Items: items}
}

// Or combines filters into a disjunction, dropping nils.
func Or(filters ...Filter) Filter {
	items := make([]Filter, 0, len(filters))
	for _, f := range filters {
		if f != nil {
			items = append(items, f)
		}
	}
	switch len(items) {
	case 0:
		return nil
	case 1:
		return items[0]
	}
	return OrFilter{Items: items}
}

// Fields returns every field name referenced anywhere in the tree.
func Fields(f Filter) []string {
	var out []string
	walk(f, func(ff FieldFilter) {
		out = append(out, ff.Field)
	})
	return out
}

func walk(f Filter, visit func(FieldFilter)) {
	switch node := f.(type) {
	case FieldFilter:
		visit(node)
	case AndFilter:
		for _, item := range node.Items {
			walk(item, visit)
		}
	case OrFilter:
		for _, item := range node.Items {
			walk(item, visit)
		}
	case NotFilter:
		walk(node.Item, visit)
	}
}
