// Package query defines the structures the gateway compiles into SQL:
// a source object with projections and relationship subqueries, a
// predicate tree with three merge slots (user filter, authorization
// policy, pagination keyset), ordering, and mutations. Structures never
// contain SQL text or raw values in positions that reach SQL text; every
// value lives in a ParameterSet and is referenced by name.
package query

import "fmt"

// Counter hands out monotonically increasing numbers for parameter and
// table-alias names. One counter serves a whole structure tree, nested
// subqueries included, so generated names never collide.
type Counter struct {
	n int
}

func (c *Counter) next() int {
	v := c.n
	c.n++
	return v
}

// NextTableAlias returns a fresh derived-table alias ("table0", "table1", …).
func (c *Counter) NextTableAlias() string {
	return fmt.Sprintf("table%d", c.next())
}

// ParameterSet owns every bound value of a structure tree. Names are
// generated ("param0", "param1", …) and returned to the caller for use in
// predicate nodes and column/value pairs.
type ParameterSet struct {
	counter Counter
	names   []string
	values  map[string]any
}

// NewParameterSet returns an empty parameter set with its own counters.
func NewParameterSet() *ParameterSet {
	return &ParameterSet{values: make(map[string]any)}
}

// Add binds a value and returns its generated parameter name.
func (p *ParameterSet) Add(value any) string {
	name := fmt.Sprintf("param%d", p.counter.next())
	p.names = append(p.names, name)
	p.values[name] = value
	return name
}

// Value returns the bound value for a parameter name.
func (p *ParameterSet) Value(name string) (any, bool) {
	v, ok := p.values[name]
	return v, ok
}

// Names returns the parameter names in the order they were added.
func (p *ParameterSet) Names() []string {
	return p.names
}

// Len returns the number of bound parameters.
func (p *ParameterSet) Len() int {
	return len(p.names)
}
