// Package metadata holds the gateway's view of the database: exposed
// entities, their backing objects and columns, key fields, and
// relationships. The model is built from config declarations at startup
// and validated there, so the request path can trust every name in it.
package metadata

import (
	"fmt"
	"regexp"
)

// SQLType classifies a column for value coercion and JSON shaping.
type SQLType string

const (
	TypeString   SQLType = "string"
	TypeInt      SQLType = "int"
	TypeFloat    SQLType = "float"
	TypeDecimal  SQLType = "decimal"
	TypeBool     SQLType = "bool"
	TypeDateTime SQLType = "datetime"
	TypeUUID     SQLType = "uuid"
	TypeBytes    SQLType = "bytes"
	TypeJSON     SQLType = "json"
)

// SourceKind is the kind of database object an entity exposes.
type SourceKind string

const (
	SourceTable     SourceKind = "table"
	SourceView      SourceKind = "view"
	SourceProcedure SourceKind = "stored-procedure"
)

// Field maps an exposed name to a backing column.
type Field struct {
	Name     string
	Column   string
	Type     SQLType
	Nullable bool
	// ReadOnly marks identity and computed columns. Writes naming such a
	// field are rejected before any SQL is built.
	ReadOnly bool
}

// Relationship links an entity to another, directly or through a junction
// object (many-to-many).
type Relationship struct {
	Name   string
	Target string
	// Many means the related side is a collection.
	Many bool
	// SourceFields/TargetFields are exposed field names on each side,
	// pairwise matched.
	SourceFields []string
	TargetFields []string
	// Junction hop for many-to-many. JunctionSchema/JunctionObject name the
	// linking table; the column slices are backing columns on the junction,
	// pairwise matched to SourceFields and TargetFields.
	JunctionSchema        string
	JunctionObject        string
	JunctionSourceColumns []string
	JunctionTargetColumns []string
}

// ProcParam describes one stored-procedure parameter in declaration order.
type ProcParam struct {
	Name       string
	Type       SQLType
	HasDefault bool
	Default    any
}

// Entity is one exposed database object.
type Entity struct {
	Name      string
	Kind      SourceKind
	Schema    string
	Object    string
	KeyFields []string
	Fields    []Field
	Relations []Relationship
	Params    []ProcParam

	fieldsByName   map[string]*Field
	fieldsByColumn map[string]*Field
	relationsByName map[string]*Relationship
}

// Field looks up a field by exposed name.
func (e *Entity) Field(name string) (*Field, bool) {
	f, ok := e.fieldsByName[name]
	return f, ok
}

// FieldByColumn looks up a field by backing column name.
func (e *Entity) FieldByColumn(column string) (*Field, bool) {
	f, ok := e.fieldsByColumn[column]
	return f, ok
}

// Relationship looks up a relationship by exposed name.
func (e *Entity) Relationship(name string) (*Relationship, bool) {
	r, ok := e.relationsByName[name]
	return r, ok
}

// KeyColumns returns the backing columns of the key fields, in declaration
// order.
func (e *Entity) KeyColumns() []string {
	cols := make([]string, len(e.KeyFields))
	for i, kf := range e.KeyFields {
		cols[i] = e.fieldsByName[kf].Column
	}
	return cols
}

// FieldNames returns every exposed field name in declaration order.
func (e *Entity) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i := range e.Fields {
		names[i] = e.Fields[i].Name
	}
	return names
}

// IsKeyField reports whether the exposed name is part of the key.
func (e *Entity) IsKeyField(name string) bool {
	for _, kf := range e.KeyFields {
		if kf == name {
			return true
		}
	}
	return false
}

// Model is the validated set of entities with lookups by exposed name and
// by the GraphQL field names derived from them.
type Model struct {
	entities    map[string]*Entity
	collections map[string]*Entity
	byKey       map[string]*Entity
	mutations   map[string]MutationBinding
}

// MutationBinding ties a GraphQL mutation field to an entity and action.
type MutationBinding struct {
	Entity *Entity
	Action string // "create", "update", "delete", or "execute"
}

// identRegex matches lexically safe SQL identifiers. Everything that will
// ever be quoted into SQL text is checked against it at load time.
var identRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateIdentifier checks that a name is a valid SQL identifier.
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if !identRegex.MatchString(name) {
		return fmt.Errorf("invalid identifier %q: must start with a letter or underscore and contain only letters, digits, and underscores", name)
	}
	return nil
}

// NewModel validates the entities and builds the lookup maps. Every name
// that can reach SQL text is checked here: schemas, objects, columns,
// junction columns. Relationships must resolve on both ends.
func NewModel(entities []*Entity) (*Model, error) {
	m := &Model{
		entities:    make(map[string]*Entity, len(entities)),
		collections: make(map[string]*Entity, len(entities)),
		byKey:       make(map[string]*Entity, len(entities)),
		mutations:   make(map[string]MutationBinding),
	}

	for _, e := range entities {
		if _, dup := m.entities[e.Name]; dup {
			return nil, fmt.Errorf("duplicate entity %q", e.Name)
		}
		if err := validateEntity(e); err != nil {
			return nil, fmt.Errorf("entity %q: %w", e.Name, err)
		}
		m.entities[e.Name] = e
		if e.Kind == SourceProcedure {
			m.mutations[ExecuteName(e.Name)] = MutationBinding{Entity: e, Action: "execute"}
			continue
		}
		m.collections[CollectionName(e.Name)] = e
		m.byKey[ByKeyName(e.Name)] = e
		m.mutations[CreateName(e.Name)] = MutationBinding{Entity: e, Action: "create"}
		m.mutations[UpdateName(e.Name)] = MutationBinding{Entity: e, Action: "update"}
		m.mutations[DeleteName(e.Name)] = MutationBinding{Entity: e, Action: "delete"}
	}

	// Relationship endpoints can only be resolved once all entities exist.
	for _, e := range entities {
		for i := range e.Relations {
			rel := &e.Relations[i]
			target, ok := m.entities[rel.Target]
			if !ok {
				return nil, fmt.Errorf("entity %q: relationship %q targets unknown entity %q", e.Name, rel.Name, rel.Target)
			}
			if err := validateRelationship(e, target, rel); err != nil {
				return nil, fmt.Errorf("entity %q: relationship %q: %w", e.Name, rel.Name, err)
			}
		}
	}

	return m, nil
}

func validateEntity(e *Entity) error {
	if e.Schema != "" {
		if err := ValidateIdentifier(e.Schema); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	if err := ValidateIdentifier(e.Object); err != nil {
		return fmt.Errorf("object: %w", err)
	}
	if len(e.Fields) == 0 {
		return fmt.Errorf("no fields declared")
	}

	e.fieldsByName = make(map[string]*Field, len(e.Fields))
	e.fieldsByColumn = make(map[string]*Field, len(e.Fields))
	for i := range e.Fields {
		f := &e.Fields[i]
		if err := ValidateIdentifier(f.Column); err != nil {
			return fmt.Errorf("field %q: column: %w", f.Name, err)
		}
		if f.Name == "" {
			return fmt.Errorf("field backing column %q: empty exposed name", f.Column)
		}
		if _, dup := e.fieldsByName[f.Name]; dup {
			return fmt.Errorf("duplicate field %q", f.Name)
		}
		if prev, dup := e.fieldsByColumn[f.Column]; dup {
			return fmt.Errorf("fields %q and %q map to the same column %q", prev.Name, f.Name, f.Column)
		}
		e.fieldsByName[f.Name] = f
		e.fieldsByColumn[f.Column] = f
	}

	if e.Kind != SourceProcedure && len(e.KeyFields) == 0 {
		return fmt.Errorf("no key fields declared")
	}
	for _, kf := range e.KeyFields {
		if _, ok := e.fieldsByName[kf]; !ok {
			return fmt.Errorf("key field %q is not a declared field", kf)
		}
	}

	e.relationsByName = make(map[string]*Relationship, len(e.Relations))
	for i := range e.Relations {
		rel := &e.Relations[i]
		if rel.Name == "" {
			return fmt.Errorf("relationship with empty name")
		}
		if _, dup := e.relationsByName[rel.Name]; dup {
			return fmt.Errorf("duplicate relationship %q", rel.Name)
		}
		if _, clash := e.fieldsByName[rel.Name]; clash {
			return fmt.Errorf("relationship %q collides with a field name", rel.Name)
		}
		e.relationsByName[rel.Name] = rel
	}

	for i, p := range e.Params {
		if err := ValidateIdentifier(p.Name); err != nil {
			return fmt.Errorf("parameter %d: %w", i, err)
		}
	}

	return nil
}

func validateRelationship(source, target *Entity, rel *Relationship) error {
	if len(rel.SourceFields) == 0 || len(rel.SourceFields) != len(rel.TargetFields) {
		return fmt.Errorf("source and target field lists must be non-empty and the same length")
	}
	for _, f := range rel.SourceFields {
		if _, ok := source.Field(f); !ok {
			return fmt.Errorf("source field %q not declared on %q", f, source.Name)
		}
	}
	for _, f := range rel.TargetFields {
		if _, ok := target.Field(f); !ok {
			return fmt.Errorf("target field %q not declared on %q", f, target.Name)
		}
	}
	if rel.JunctionObject != "" {
		if rel.JunctionSchema != "" {
			if err := ValidateIdentifier(rel.JunctionSchema); err != nil {
				return fmt.Errorf("junction schema: %w", err)
			}
		}
		if err := ValidateIdentifier(rel.JunctionObject); err != nil {
			return fmt.Errorf("junction object: %w", err)
		}
		if len(rel.JunctionSourceColumns) != len(rel.SourceFields) || len(rel.JunctionTargetColumns) != len(rel.TargetFields) {
			return fmt.Errorf("junction column lists must match the linked field lists")
		}
		for _, c := range append(append([]string{}, rel.JunctionSourceColumns...), rel.JunctionTargetColumns...) {
			if err := ValidateIdentifier(c); err != nil {
				return fmt.Errorf("junction column: %w", err)
			}
		}
	}
	return nil
}

// Entity looks up an entity by exposed name.
func (m *Model) Entity(name string) (*Entity, bool) {
	e, ok := m.entities[name]
	return e, ok
}

// ByCollection looks up an entity by its GraphQL collection field name.
func (m *Model) ByCollection(field string) (*Entity, bool) {
	e, ok := m.collections[field]
	return e, ok
}

// ByKeyField looks up an entity by its GraphQL single-row field name.
func (m *Model) ByKeyField(field string) (*Entity, bool) {
	e, ok := m.byKey[field]
	return e, ok
}

// Mutation looks up a GraphQL mutation field.
func (m *Model) Mutation(field string) (MutationBinding, bool) {
	b, ok := m.mutations[field]
	return b, ok
}

// Entities returns all entities. Order is unspecified.
func (m *Model) Entities() []*Entity {
	out := make([]*Entity, 0, len(m.entities))
	for _, e := range m.entities {
		out = append(out, e)
	}
	return out
}
