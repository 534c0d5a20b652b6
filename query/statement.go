package query

// Statement is a compiled SQL string with its arguments in execution
// order. For positional-placeholder dialects Args line up with the
// placeholders as written; for named-placeholder dialects Args holds
// sql.NamedArg values and order is immaterial.
type Statement struct {
	SQL  string
	Args []any
}
