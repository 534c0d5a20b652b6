package request

// OrderField is one entry in a requested ordering.
type OrderField struct {
	Field      string
	Descending bool
}

// RelatedRequest selects a relationship inside a FindRequest. Order is
// preserved so response documents keep the requested field order.
type RelatedRequest struct {
	Name string
	Req  *FindRequest
}

// FindRequest describes a read: which fields of which entity, filtered,
// ordered, and paginated. Keys switches to single-row mode and disables
// pagination.
type FindRequest struct {
	Entity  string
	Fields  []string
	Related []RelatedRequest
	Filter  Filter
	OrderBy []OrderField
	First   int
	After   string
	Keys    map[string]any
}

// InsertRequest creates one row from exposed-name values.
type InsertRequest struct {
	Entity string
	Item   map[string]any
}

// UpdateRequest updates the row identified by Keys.
type UpdateRequest struct {
	Entity string
	Keys   map[string]any
	Item   map[string]any
}

// UpsertRequest inserts or updates the row identified by Keys. UpdateOnly
// suppresses the insert arm (PATCH semantics against an existing row).
type UpsertRequest struct {
	Entity     string
	Keys       map[string]any
	Item       map[string]any
	UpdateOnly bool
}

// DeleteRequest deletes the row identified by Keys.
type DeleteRequest struct {
	Entity string
	Keys   map[string]any
}

// ExecRequest invokes a stored procedure with named parameters.
type ExecRequest struct {
	Entity string
	Params map[string]any
}
