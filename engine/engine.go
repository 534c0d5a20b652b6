// Package engine orchestrates one logical API request end to end. An
// engine validates the request against entity metadata and the caller's
// permissions, builds the query structures, compiles them for the
// configured dialect, executes under the retry policy, and shapes the
// outcome: JSON documents, pagination envelopes, created-versus-updated
// status, and missing-row detection.
package engine

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/gateql/gateql/authorize"
	"github.com/gateql/gateql/execute"
	"github.com/gateql/gateql/httperror"
	"github.com/gateql/gateql/metadata"
	"github.com/gateql/gateql/query"
)

// QueryEngine serves reads.
type QueryEngine struct {
	Model *metadata.Model
	Auth  *authorize.Resolver
	DB    *execute.Executor
	Log   *slog.Logger
}

func NewQueryEngine(model *metadata.Model, auth *authorize.Resolver, db *execute.Executor, log *slog.Logger) *QueryEngine {
	return &QueryEngine{Model: model, Auth: auth, DB: db, Log: log}
}

// MutationEngine serves writes and stored-procedure execution.
type MutationEngine struct {
	Model *metadata.Model
	Auth  *authorize.Resolver
	DB    *execute.Executor
	Log   *slog.Logger
}

func NewMutationEngine(model *metadata.Model, auth *authorize.Resolver, db *execute.Executor, log *slog.Logger) *MutationEngine {
	return &MutationEngine{Model: model, Auth: auth, DB: db, Log: log}
}

// entityNamed resolves an exposed entity name.
func entityNamed(model *metadata.Model, name string) (*metadata.Entity, error) {
	e, ok := model.Entity(name)
	if !ok {
		return nil, httperror.NotFoundf("unknown entity %q", name)
	}
	return e, nil
}

// permitted rejects the request unless the role was granted the action.
// A request without a role never reaches a permission lookup.
func permitted(auth *authorize.Resolver, role string, entity string, action authorize.Action) error {
	if role == "" {
		return httperror.Forbidden("the request carries no role")
	}
	if !auth.Permitted(role, entity, action) {
		return httperror.Forbiddenf("role %q may not %s entity %q", role, action, entity)
	}
	return nil
}

// wrapDatabaseError translates an execution failure into the gateway
// taxonomy. Errors the pipeline already classified pass through;
// integrity violations are the client's fault; everything else is a
// database failure whose driver message only surfaces in verbose mode.
func wrapDatabaseError(err error) error {
	var he *httperror.Error
	if errors.As(err, &he) {
		return err
	}
	if msg, ok := execute.ConstraintViolation(err); ok {
		return httperror.BadRequest(msg)
	}
	return httperror.DatabaseError(err)
}

// policyPredicate resolves the role's row policy for an action and lowers
// it onto the parameter set. table qualifies the policy's columns; it is
// empty for plain mutations, the source alias for reads, and the object
// name for upserts.
func policyPredicate(auth *authorize.Resolver, role string, e *metadata.Entity, action authorize.Action, claims map[string]any, ps *query.ParameterSet, table string) (query.Predicate, error) {
	f, err := auth.Policy(role, e.Name, action, claims)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, nil
	}
	pred, err := filterPredicate(e, f, ps, table, nil)
	if err != nil {
		// The policy came from configuration, so a field it names that the
		// entity lacks is a server fault, not the caller's.
		return nil, httperror.Wrapf(http.StatusInternalServerError, err,
			"database policy for role %q on %q is invalid", role, e.Name)
	}
	return pred, nil
}

// keyValue is one coerced primary-key component, in declared key order.
type keyValue struct {
	field *metadata.Field
	value any
}

// keyValues validates and coerces a key map: every declared key field
// must be present, nothing else may be.
func keyValues(e *metadata.Entity, keys map[string]any) ([]keyValue, error) {
	out := make([]keyValue, 0, len(e.KeyFields))
	for _, name := range e.KeyFields {
		raw, ok := keys[name]
		if !ok {
			return nil, httperror.BadRequestf("key field %q is required", name)
		}
		f, _ := e.Field(name)
		v, err := f.Coerce(raw)
		if err != nil {
			return nil, httperror.BadRequest(err.Error())
		}
		if v == nil {
			return nil, httperror.BadRequestf("key field %q cannot be null", name)
		}
		out = append(out, keyValue{field: f, value: v})
	}
	if len(keys) != len(e.KeyFields) {
		for name := range keys {
			if !e.IsKeyField(name) {
				return nil, httperror.BadRequestf("%q is not a key field of %q", name, e.Name)
			}
		}
	}
	return out, nil
}

// keyPredicate builds the equality conjunction identifying one row.
func keyPredicate(ps *query.ParameterSet, table string, kvs []keyValue) query.Predicate {
	preds := make([]query.Predicate, len(kvs))
	for i, kv := range kvs {
		preds[i] = query.Comparison{
			Column: query.Column{Table: table, Name: kv.field.Column},
			Op:     query.OpEq,
			Param:  ps.Add(kv.value),
		}
	}
	return query.AndOf(preds...)
}

// columnValues validates a write item and lowers it to column/parameter
// pairs in field declaration order, so generated SQL is deterministic.
// With rejectKeys set, key fields arrive through the key, never the body.
func columnValues(e *metadata.Entity, item map[string]any, allowed map[string]bool, rejectKeys bool, ps *query.ParameterSet) ([]query.ColumnValue, error) {
	for name := range item {
		if _, ok := e.Field(name); !ok {
			return nil, httperror.BadRequestf("unknown field %q on entity %q", name, e.Name)
		}
	}

	out := make([]query.ColumnValue, 0, len(item))
	for i := range e.Fields {
		f := &e.Fields[i]
		raw, ok := item[f.Name]
		if !ok {
			continue
		}
		if f.ReadOnly {
			return nil, httperror.BadRequestf("field %q is read-only", f.Name)
		}
		if rejectKeys && e.IsKeyField(f.Name) {
			return nil, httperror.BadRequestf("key field %q belongs in the key, not the body", f.Name)
		}
		if allowed != nil && !allowed[f.Name] {
			return nil, httperror.Forbiddenf("the role may not write one or more of the supplied fields of %q", e.Name)
		}
		v, err := f.Coerce(raw)
		if err != nil {
			return nil, httperror.BadRequest(err.Error())
		}
		out = append(out, query.ColumnValue{
			Column: query.Column{Name: f.Column},
			Param:  ps.Add(v),
		})
	}
	return out, nil
}

// returningColumns projects every exposed field, in declaration order.
// Mutations return the whole row as the entity declares it.
func returningColumns(e *metadata.Entity) []query.LabelledColumn {
	out := make([]query.LabelledColumn, len(e.Fields))
	for i := range e.Fields {
		f := &e.Fields[i]
		out[i] = query.LabelledColumn{
			Column:   query.Column{Name: f.Column},
			Label:    f.Name,
			Type:     f.Type,
			Nullable: f.Nullable,
		}
	}
	return out
}

// sortedNames returns map keys in a stable order for error messages.
func sortedNames(m map[string]any) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
