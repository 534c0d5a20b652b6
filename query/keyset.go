package query

import "strings"

// KeysetColumn is one position of a decoded continuation cursor, bound to
// the column it orders by. Value nil means the cursor row held NULL there.
type KeysetColumn struct {
	Column     Column
	Descending bool
	Nullable   bool
	Value      any
}

// KeysetPredicate builds the strict "after this row" predicate for a total
// ordering. With elements e1..en it is the disjunction
//
//	(e1 after) OR (e1 tie AND e2 after) OR … OR (e1 tie AND … AND en after)
//
// under the gateway's pinned NULL placement (NULLs first ascending, last
// descending):
//
//	ascending, non-null value:  col > @p        (nulls already passed)
//	ascending, null value:      col IS NOT NULL
//	descending, non-null value: col < @p OR col IS NULL
//	descending, null value:     nothing follows at this position
//
// Ties are col = @p, or col IS NULL for null values; the same parameter
// backs both the tie and the strict term of a column. When no position
// admits following rows the result is False.
func KeysetPredicate(ps *ParameterSet, cols []KeysetColumn) Predicate {
	params := make([]string, len(cols))
	for i, kc := range cols {
		if kc.Value != nil {
			params[i] = ps.Add(kc.Value)
		}
	}

	var disjuncts []Predicate
	for i, kc := range cols {
		after := afterTerm(kc, params[i])
		if after == nil {
			continue
		}
		conj := make([]Predicate, 0, i+1)
		for j := 0; j < i; j++ {
			conj = append(conj, tieTerm(cols[j], params[j]))
		}
		conj = append(conj, after)
		disjuncts = append(disjuncts, AndOf(conj...))
	}

	if len(disjuncts) == 0 {
		return False{}
	}
	return OrOf(disjuncts...)
}

func afterTerm(kc KeysetColumn, param string) Predicate {
	if kc.Descending {
		if kc.Value == nil {
			return nil
		}
		strict := Comparison{Column: kc.Column, Op: OpLt, Param: param}
		if !kc.Nullable {
			return strict
		}
		return Or{Items: []Predicate{
			strict,
			Comparison{Column: kc.Column, Op: OpIsNull},
		}}
	}
	if kc.Value == nil {
		return Comparison{Column: kc.Column, Op: OpIsNotNull}
	}
	return Comparison{Column: kc.Column, Op: OpGt, Param: param}
}

func tieTerm(kc KeysetColumn, param string) Predicate {
	if kc.Value == nil {
		return Comparison{Column: kc.Column, Op: OpIsNull}
	}
	return Comparison{Column: kc.Column, Op: OpEq, Param: param}
}

// likeEscaper escapes the LIKE metacharacters that any of the four
// dialects treat specially. The dialects emit ESCAPE '\' alongside
// patterns built here.
var likeEscaper = strings.NewReplacer(
	`\`, `\\`,
	`%`, `\%`,
	`_`, `\_`,
	`[`, `\[`,
)

// LikePattern builds an escaped LIKE pattern for the contains, startswith,
// and endswith operators.
func LikePattern(value string, prefix, suffix bool) string {
	escaped := likeEscaper.Replace(value)
	if prefix {
		escaped = "%" + escaped
	}
	if suffix {
		escaped = escaped + "%"
	}
	return escaped
}
