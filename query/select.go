package query

// SelectQuery is the compiled-from structure for reads. The three
// predicate slots are merged with AND at compile time; keeping them apart
// preserves where each condition came from until the last moment.
type SelectQuery struct {
	Params *ParameterSet
	// Tables hands out derived-table aliases for this structure tree.
	// Shared with every nested subquery.
	Tables *Counter

	Schema string
	Object string
	Alias  string

	Columns []LabelledColumn
	Related []RelatedSelect

	// Filter is what the caller asked for, Policy what the role is allowed
	// to see, Keyset where the previous page ended. None may ever widen
	// another, so they stay separate until compile ANDs them.
	Filter Predicate
	Policy Predicate
	Keyset Predicate

	OrderBy []OrderByColumn

	// Limit of 0 means no LIMIT/TOP clause. For paginated reads the engine
	// sets First+1 to detect a following page.
	Limit int

	// Single marks a by-key read: no pagination, the result is one JSON
	// object instead of an array.
	Single bool
}

// NewSelect returns a SelectQuery rooted at the given object with fresh
// parameter and alias sequences.
func NewSelect(schema, object string) *SelectQuery {
	ps := NewParameterSet()
	tc := &Counter{}
	return &SelectQuery{
		Params: ps,
		Tables: tc,
		Schema: schema,
		Object: object,
		Alias:  tc.NextTableAlias(),
	}
}

// Subquery returns a child SelectQuery sharing this structure's parameter
// set and alias sequence.
func (q *SelectQuery) Subquery(schema, object string) *SelectQuery {
	return &SelectQuery{
		Params: q.Params,
		Tables: q.Tables,
		Schema: schema,
		Object: object,
		Alias:  q.Tables.NextTableAlias(),
	}
}

// Where returns the three predicate slots merged with AND, or nil when all
// are empty.
func (q *SelectQuery) Where() Predicate {
	return AndOf(q.Filter, q.Policy, q.Keyset)
}

// RelatedSelect embeds a relationship subquery under an output label.
type RelatedSelect struct {
	Label string
	Query *SelectQuery
	// Many selects a JSON array; otherwise the first row as an object.
	Many bool
	// Link correlates the subquery to its parent: inner columns reference
	// Query's alias, outer columns the parent's.
	Link []ColumnPair
	// Junction, when set, routes the correlation through a linking table
	// (many-to-many).
	Junction *Junction
}

// Junction is the linking-table hop of a many-to-many relationship.
// ToTarget pairs junction columns with target-entity columns (the join
// condition); ToSource pairs junction columns with parent columns (the
// correlation).
type Junction struct {
	Schema string
	Object string
	Alias  string

	ToTarget []ColumnPair
	ToSource []ColumnPair
}

// NormalizeOrderBy returns the effective ordering for a paginated read:
// the requested terms first, then any key columns not already present,
// ascending. The key suffix makes the ordering total, which keyset
// cursors require.
func NormalizeOrderBy(requested []OrderByColumn, keys []OrderByColumn) []OrderByColumn {
	out := make([]OrderByColumn, 0, len(requested)+len(keys))
	seen := make(map[Column]bool, len(requested))
	for _, ob := range requested {
		out = append(out, ob)
		seen[ob.Column] = true
	}
	for _, key := range keys {
		if seen[key.Column] {
			continue
		}
		// Key columns keep their own nullability flag but always sort
		// ascending in the suffix.
		out = append(out, OrderByColumn{Column: key.Column, Nullable: key.Nullable})
	}
	return out
}
