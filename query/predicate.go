package query

// CompareOp is a predicate comparison operator. Pattern operators
// (contains/startswith/endswith at the request layer) arrive here already
// lowered to like/notlike with escaped pattern parameters.
type CompareOp string

const (
	OpEq        CompareOp = "="
	OpNeq       CompareOp = "<>"
	OpGt        CompareOp = ">"
	OpGte       CompareOp = ">="
	OpLt        CompareOp = "<"
	OpLte       CompareOp = "<="
	OpLike      CompareOp = "LIKE"
	OpNotLike   CompareOp = "NOT LIKE"
	OpIn        CompareOp = "IN"
	OpIsNull    CompareOp = "IS NULL"
	OpIsNotNull CompareOp = "IS NOT NULL"
)

// Predicate is a node in a predicate tree.
type Predicate interface {
	predicateNode()
}

// Comparison compares a column against one parameter (Param), a parameter
// list (Params, for IN), or nothing (null checks). Escape marks LIKE
// patterns whose metacharacters were escaped with backslash, so the
// dialect emits an ESCAPE clause.
type Comparison struct {
	Column Column
	Op     CompareOp
	Param  string
	Params []string
	Escape bool
}

// And is the conjunction of its items.
type And struct {
	Items []Predicate
}

// Or is the disjunction of its items.
type Or struct {
	Items []Predicate
}

// Not negates its item.
type Not struct {
	Item Predicate
}

// False never matches. Compiled as a constant false comparison; used when
// a keyset position has no following rows.
type False struct{}

func (Comparison) predicateNode() {}
func (And) predicateNode()        {}
func (Or) predicateNode()         {}
func (Not) predicateNode()        {}
func (False) predicateNode()      {}

// Compile-time interface checks.
var (
	_ Predicate = Comparison{}
	_ Predicate = And{}
	_ Predicate = Or{}
	_ Predicate = Not{}
	_ Predicate = False{}
)

// AndOf combines predicates into a conjunction, dropping nils.
func AndOf(preds ...Predicate) Predicate {
	items := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			items = append(items, p)
		}
	}
	switch len(items) {
	case 0:
		return nil
	case 1:
		return items[0]
	}
	return And{Items: items}
}

// OrOf combines predicates into a disjunction, dropping nils.
func OrOf(preds ...Predicate) Predicate {
	items := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			items = append(items, p)
		}
	}
	switch len(items) {
	case 0:
		return nil
	case 1:
		return items[0]
	}
	return Or{Items: items}
}
