package query

// ColumnValue pairs a column with the parameter holding its new value.
type ColumnValue struct {
	Column Column
	Param  string
}

// NamedParam pairs a stored-procedure parameter name with the bound
// parameter holding its value. Order follows the procedure declaration.
type NamedParam struct {
	Name  string
	Param string
}

// InsertQuery creates one row and returns the written columns.
type InsertQuery struct {
	Params *ParameterSet

	Schema string
	Object string

	Values    []ColumnValue
	Returning []LabelledColumn
}

// NewInsert returns an InsertQuery with a fresh parameter set.
func NewInsert(schema, object string) *InsertQuery {
	return &InsertQuery{Params: NewParameterSet(), Schema: schema, Object: object}
}

// UpdateQuery updates rows matching Where and returns the written columns.
// Where always carries the key predicate and, when the role has one, the
// authorization predicate; an update that matches nothing is reported as a
// missing row, whichever predicate pruned it.
type UpdateQuery struct {
	Params *ParameterSet

	Schema string
	Object string

	Set       []ColumnValue
	Where     Predicate
	Returning []LabelledColumn
}

// NewUpdate returns an UpdateQuery with a fresh parameter set.
func NewUpdate(schema, object string) *UpdateQuery {
	return &UpdateQuery{Params: NewParameterSet(), Schema: schema, Object: object}
}

// DeleteQuery deletes rows matching Where.
type DeleteQuery struct {
	Params *ParameterSet

	Schema string
	Object string

	Where Predicate
}

// NewDelete returns a DeleteQuery with a fresh parameter set.
func NewDelete(schema, object string) *DeleteQuery {
	return &DeleteQuery{Params: NewParameterSet(), Schema: schema, Object: object}
}

// UpsertQuery inserts the row identified by Keys or updates it when it
// already exists. Insert carries every written column including the keys;
// Update carries the non-key columns only. An empty Update (every column
// is part of the key) degenerates to a touch of the first key column so
// the update arm still reports the row.
type UpsertQuery struct {
	Params *ParameterSet

	Schema string
	Object string

	Keys   []ColumnValue
	Insert []ColumnValue
	Update []ColumnValue

	// Where restricts the update arm only; the insert arm of an upsert is
	// unconditional. Columns in it must be qualified with the object name,
	// since the conflicting and the proposed row are both in scope there.
	Where Predicate

	Returning []LabelledColumn
}

// NewUpsert returns an UpsertQuery with a fresh parameter set.
func NewUpsert(schema, object string) *UpsertQuery {
	return &UpsertQuery{Params: NewParameterSet(), Schema: schema, Object: object}
}

// ExecQuery invokes a stored procedure with parameters in declaration
// order.
type ExecQuery struct {
	Params *ParameterSet

	Schema string
	Object string

	Args []NamedParam
}

// NewExec returns an ExecQuery with a fresh parameter set.
func NewExec(schema, object string) *ExecQuery {
	return &ExecQuery{Params: NewParameterSet(), Schema: schema, Object: object}
}
