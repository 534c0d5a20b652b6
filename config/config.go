// Package config loads the gateway configuration file: the database
// connection, runtime settings, and the exposed entities with their
// per-role permissions. Secrets use env:NAME indirection so the file can
// be committed; the named variables are read at load time.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/gateql/gateql/authorize"
	"github.com/gateql/gateql/dburl"
	"github.com/gateql/gateql/metadata"
	"github.com/gateql/gateql/query/compile"
)

const (
	DefaultAddr        = ":8080"
	DefaultRoleHeader  = "X-Gateql-Role"
	DefaultPageSize    = 100
	DefaultMaxPageSize = 100000
)

// File is the document structure of gateql.json.
type File struct {
	Database Database          `json:"database"`
	Runtime  Runtime           `json:"runtime"`
	Entities map[string]Entity `json:"entities"`
}

// Database declares the connection. Connection is a URL whose scheme
// selects the dialect; iam-auth switches MySQL and Postgres connections
// to per-connection AWS IAM tokens instead of a static password.
type Database struct {
	Connection string `json:"connection"`
	IAMAuth    bool   `json:"iam-auth"`
	AWSRegion  string `json:"aws-region"`
}

// Runtime declares the host settings. The numeric limits are read
// tolerantly: both 100 and "100" are accepted.
type Runtime struct {
	Addr        string `json:"addr"`
	Development bool   `json:"development"`
	RoleHeader  string `json:"role-header"`
	JWTSecret   string `json:"jwt-secret"`
	PageSize    any    `json:"page-size"`
	MaxPageSize any    `json:"max-page-size"`
}

// Entity declares one exposed database object.
type Entity struct {
	// Source is the backing object, optionally schema-qualified with one
	// dot ("dbo.books").
	Source        string         `json:"source"`
	Kind          string         `json:"kind"`
	Keys          []string       `json:"keys"`
	Fields        []Field        `json:"fields"`
	Relationships []Relationship `json:"relationships"`
	Parameters    []Parameter    `json:"parameters"`
	Permissions   []Permission   `json:"permissions"`
}

// Field maps an exposed name to a backing column.
type Field struct {
	Name     string `json:"name"`
	Column   string `json:"column"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	ReadOnly bool   `json:"read-only"`
}

// Relationship declares a link to another entity.
type Relationship struct {
	Name         string    `json:"name"`
	Target       string    `json:"target"`
	Cardinality  string    `json:"cardinality"`
	SourceFields []string  `json:"source-fields"`
	TargetFields []string  `json:"target-fields"`
	Junction     *Junction `json:"junction"`
}

// Junction declares the linking table of a many-to-many relationship.
type Junction struct {
	Object        string   `json:"object"`
	SourceColumns []string `json:"source-columns"`
	TargetColumns []string `json:"target-columns"`
}

// Parameter declares one stored-procedure parameter. A parameter without
// a default is required on every call.
type Parameter struct {
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	Default json.RawMessage `json:"default"`
}

// Permission grants actions to one role. Policy and Fields apply to every
// action in the entry; a role needing different restrictions per action
// writes one entry per action. "*" expands to every action the entity
// kind supports.
type Permission struct {
	Role    string   `json:"role"`
	Actions []string `json:"actions"`
	Policy  string   `json:"policy"`
	Fields  []string `json:"fields"`
}

// Snapshot is the hot-reloadable part of the configuration: the entity
// model and the permission resolver. The watcher swaps both together so
// readers never see a model from one file version and permissions from
// another.
type Snapshot struct {
	Model *metadata.Model
	Auth  *authorize.Resolver
}

// Config is the loaded and validated gateway configuration.
type Config struct {
	Connection string
	Dialect    compile.Dialect
	IAMAuth    bool
	AWSRegion  string

	Addr        string
	Development bool
	RoleHeader  string
	JWTSecret   []byte
	PageSize    int
	MaxPageSize int

	Snapshot *Snapshot
}

// Load reads and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates a configuration document and resolves it into a Config.
func Parse(raw []byte) (*Config, error) {
	var f File
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}

	cfg := &Config{}
	if err := resolveDatabase(&f.Database, cfg); err != nil {
		return nil, err
	}
	if err := resolveRuntime(&f.Runtime, cfg); err != nil {
		return nil, err
	}

	if len(f.Entities) == 0 {
		return nil, fmt.Errorf("no entities declared")
	}
	entities, err := buildEntities(f.Entities)
	if err != nil {
		return nil, err
	}
	model, err := metadata.NewModel(entities)
	if err != nil {
		return nil, err
	}
	auth, err := buildResolver(f.Entities)
	if err != nil {
		return nil, err
	}
	cfg.Snapshot = &Snapshot{Model: model, Auth: auth}
	return cfg, nil
}

func resolveDatabase(d *Database, cfg *Config) error {
	conn, err := resolveEnv(d.Connection)
	if err != nil {
		return fmt.Errorf("database.connection: %w", err)
	}
	if conn == "" {
		return fmt.Errorf("database.connection is required")
	}
	name, err := dburl.InferDialectFromDBUrl(conn)
	if err != nil {
		return fmt.Errorf("database.connection: %w", err)
	}
	dialect, err := compile.ForName(name)
	if err != nil {
		return fmt.Errorf("database.connection: %w", err)
	}
	if d.IAMAuth && name != dburl.DialectMySQL && name != dburl.DialectPostgres {
		return fmt.Errorf("database.iam-auth applies to mysql and postgres connections, not %s", name)
	}
	cfg.Connection = conn
	cfg.Dialect = dialect
	cfg.IAMAuth = d.IAMAuth
	cfg.AWSRegion = d.AWSRegion
	return nil
}

func resolveRuntime(r *Runtime, cfg *Config) error {
	cfg.Addr = r.Addr
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	cfg.Development = r.Development
	cfg.RoleHeader = r.RoleHeader
	if cfg.RoleHeader == "" {
		cfg.RoleHeader = DefaultRoleHeader
	}

	secret, err := resolveEnv(r.JWTSecret)
	if err != nil {
		return fmt.Errorf("runtime.jwt-secret: %w", err)
	}
	if secret != "" {
		cfg.JWTSecret = []byte(secret)
	}

	cfg.PageSize, err = intSetting("runtime.page-size", r.PageSize, DefaultPageSize)
	if err != nil {
		return err
	}
	cfg.MaxPageSize, err = intSetting("runtime.max-page-size", r.MaxPageSize, DefaultMaxPageSize)
	if err != nil {
		return err
	}
	if cfg.PageSize > cfg.MaxPageSize {
		return fmt.Errorf("runtime.page-size %d exceeds runtime.max-page-size %d", cfg.PageSize, cfg.MaxPageSize)
	}
	return nil
}

// intSetting reads a numeric setting that may arrive as a JSON number or
// a string.
func intSetting(key string, value any, fallback int) (int, error) {
	if value == nil {
		return fallback, nil
	}
	n, err := cast.ToIntE(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, n)
	}
	return n, nil
}

// resolveEnv resolves an env:NAME indirection; plain values pass through.
func resolveEnv(value string) (string, error) {
	name, ok := strings.CutPrefix(value, "env:")
	if !ok {
		return value, nil
	}
	v := os.Getenv(name)
	if v == "" {
		return "", fmt.Errorf("environment variable %s is not set", name)
	}
	return v, nil
}

// splitSource splits an optionally schema-qualified object name.
func splitSource(source string) (schema, object string, err error) {
	switch parts := strings.Split(source, "."); len(parts) {
	case 1:
		return "", parts[0], nil
	case 2:
		return parts[0], parts[1], nil
	default:
		return "", "", fmt.Errorf("source %q: want object or schema.object", source)
	}
}

var fieldTypes = map[string]metadata.SQLType{
	"string":   metadata.TypeString,
	"int":      metadata.TypeInt,
	"float":    metadata.TypeFloat,
	"decimal":  metadata.TypeDecimal,
	"bool":     metadata.TypeBool,
	"datetime": metadata.TypeDateTime,
	"uuid":     metadata.TypeUUID,
	"bytes":    metadata.TypeBytes,
	"json":     metadata.TypeJSON,
}

var sourceKinds = map[string]metadata.SourceKind{
	"":                 metadata.SourceTable,
	"table":            metadata.SourceTable,
	"view":             metadata.SourceView,
	"stored-procedure": metadata.SourceProcedure,
}

// buildEntities lowers the entity declarations into the metadata model's
// input. Names are processed in sorted order so validation errors are
// stable across loads.
func buildEntities(decls map[string]Entity) ([]*metadata.Entity, error) {
	names := make([]string, 0, len(decls))
	for name := range decls {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*metadata.Entity, 0, len(decls))
	for _, name := range names {
		e, err := buildEntity(name, decls[name])
		if err != nil {
			return nil, fmt.Errorf("entity %q: %w", name, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func buildEntity(name string, decl Entity) (*metadata.Entity, error) {
	kind, ok := sourceKinds[decl.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown kind %q", decl.Kind)
	}
	schema, object, err := splitSource(decl.Source)
	if err != nil {
		return nil, err
	}

	e := &metadata.Entity{
		Name:      name,
		Kind:      kind,
		Schema:    schema,
		Object:    object,
		KeyFields: decl.Keys,
	}
	for _, fd := range decl.Fields {
		t, ok := fieldTypes[fd.Type]
		if !ok {
			return nil, fmt.Errorf("field %q: unknown type %q", fd.Name, fd.Type)
		}
		e.Fields = append(e.Fields, metadata.Field{
			Name:     fd.Name,
			Column:   fd.Column,
			Type:     t,
			Nullable: fd.Nullable,
			ReadOnly: fd.ReadOnly,
		})
	}

	for _, rd := range decl.Relationships {
		rel, err := buildRelationship(rd)
		if err != nil {
			return nil, fmt.Errorf("relationship %q: %w", rd.Name, err)
		}
		e.Relations = append(e.Relations, rel)
	}

	if kind != metadata.SourceProcedure && len(decl.Parameters) > 0 {
		return nil, fmt.Errorf("parameters are for stored procedures only")
	}
	for _, pd := range decl.Parameters {
		p, err := buildParameter(pd)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", pd.Name, err)
		}
		e.Params = append(e.Params, p)
	}
	return e, nil
}

func buildRelationship(rd Relationship) (metadata.Relationship, error) {
	var many bool
	switch rd.Cardinality {
	case "one":
	case "many":
		many = true
	default:
		return metadata.Relationship{}, fmt.Errorf("cardinality must be one or many, got %q", rd.Cardinality)
	}
	rel := metadata.Relationship{
		Name:         rd.Name,
		Target:       rd.Target,
		Many:         many,
		SourceFields: rd.SourceFields,
		TargetFields: rd.TargetFields,
	}
	if rd.Junction != nil {
		schema, object, err := splitSource(rd.Junction.Object)
		if err != nil {
			return metadata.Relationship{}, err
		}
		rel.JunctionSchema = schema
		rel.JunctionObject = object
		rel.JunctionSourceColumns = rd.Junction.SourceColumns
		rel.JunctionTargetColumns = rd.Junction.TargetColumns
	}
	return rel, nil
}

func buildParameter(pd Parameter) (metadata.ProcParam, error) {
	t, ok := fieldTypes[pd.Type]
	if !ok {
		return metadata.ProcParam{}, fmt.Errorf("unknown type %q", pd.Type)
	}
	p := metadata.ProcParam{Name: pd.Name, Type: t}
	if len(pd.Default) > 0 {
		p.HasDefault = true
		if err := json.Unmarshal(pd.Default, &p.Default); err != nil {
			return metadata.ProcParam{}, fmt.Errorf("default: %w", err)
		}
	}
	return p, nil
}

// crudActions is the expansion of "*" for tables and views.
var crudActions = []authorize.Action{
	authorize.ActionCreate,
	authorize.ActionRead,
	authorize.ActionUpdate,
	authorize.ActionDelete,
}

var knownActions = map[string]authorize.Action{
	"create":  authorize.ActionCreate,
	"read":    authorize.ActionRead,
	"update":  authorize.ActionUpdate,
	"delete":  authorize.ActionDelete,
	"execute": authorize.ActionExecute,
}

// buildResolver lowers the permission declarations. Policies on create
// and execute grants are rejected here: a create policy has no existing
// row to test and a procedure has no rows at all, so neither can ever be
// enforced, and silently granting more than the file says would be worse
// than failing the load.
func buildResolver(decls map[string]Entity) (*authorize.Resolver, error) {
	names := make([]string, 0, len(decls))
	for name := range decls {
		names = append(names, name)
	}
	sort.Strings(names)

	r := authorize.NewResolver()
	for _, entity := range names {
		decl := decls[entity]
		fields := make(map[string]bool, len(decl.Fields))
		for _, fd := range decl.Fields {
			fields[fd.Name] = true
		}
		granted := make(map[string]map[authorize.Action]bool)

		for _, perm := range decl.Permissions {
			if perm.Role == "" {
				return nil, fmt.Errorf("entity %q: permission entry without a role", entity)
			}
			actions, err := expandActions(perm.Actions, sourceKinds[decl.Kind])
			if err != nil {
				return nil, fmt.Errorf("entity %q, role %q: %w", entity, perm.Role, err)
			}
			if err := checkRestrictions(perm, actions, fields); err != nil {
				return nil, fmt.Errorf("entity %q, role %q: %w", entity, perm.Role, err)
			}

			byAction := granted[perm.Role]
			if byAction == nil {
				byAction = make(map[authorize.Action]bool)
				granted[perm.Role] = byAction
			}
			for _, action := range actions {
				if byAction[action] {
					return nil, fmt.Errorf("entity %q, role %q: action %q granted twice", entity, perm.Role, action)
				}
				byAction[action] = true
				r.Grant(perm.Role, entity, action, authorize.Rule{
					Policy: perm.Policy,
					Fields: perm.Fields,
				})
			}
		}
	}
	return r, nil
}

func expandActions(names []string, kind metadata.SourceKind) ([]authorize.Action, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("permission entry without actions")
	}
	var out []authorize.Action
	for _, name := range names {
		if name == "*" {
			if kind == metadata.SourceProcedure {
				out = append(out, authorize.ActionExecute)
			} else {
				out = append(out, crudActions...)
			}
			continue
		}
		action, ok := knownActions[name]
		if !ok {
			return nil, fmt.Errorf("unknown action %q", name)
		}
		if (action == authorize.ActionExecute) != (kind == metadata.SourceProcedure) {
			return nil, fmt.Errorf("action %q does not apply to this entity kind", name)
		}
		out = append(out, action)
	}
	return out, nil
}

func checkRestrictions(perm Permission, actions []authorize.Action, fields map[string]bool) error {
	if perm.Policy != "" {
		for _, action := range actions {
			if action == authorize.ActionCreate || action == authorize.ActionExecute {
				return fmt.Errorf("a policy cannot be enforced on %q", action)
			}
		}
		if err := authorize.ValidatePolicy(perm.Policy); err != nil {
			return fmt.Errorf("policy: %w", err)
		}
	}
	if len(perm.Fields) > 0 {
		for _, action := range actions {
			if action == authorize.ActionExecute {
				return fmt.Errorf("field restrictions do not apply to %q", action)
			}
		}
		for _, name := range perm.Fields {
			if !fields[name] {
				return fmt.Errorf("field restriction names unknown field %q", name)
			}
		}
	}
	return nil
}
