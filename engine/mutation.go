package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/gateql/gateql/authorize"
	"github.com/gateql/gateql/execute"
	"github.com/gateql/gateql/httperror"
	"github.com/gateql/gateql/metadata"
	"github.com/gateql/gateql/query"
	"github.com/gateql/gateql/query/compile"
	"github.com/gateql/gateql/request"
)

// MutationResult is the shaped outcome of a write. Item is the full row
// as the entity declares it, or nil for a bodiless delete. Created
// distinguishes the insert arm of an upsert from its update arm.
type MutationResult struct {
	Item    json.RawMessage
	Created bool
}

// Insert creates one row and returns it.
func (me *MutationEngine) Insert(ctx context.Context, role string, claims map[string]any, req *request.InsertRequest) (*MutationResult, error) {
	e, err := entityNamed(me.Model, req.Entity)
	if err != nil {
		return nil, err
	}
	if err := writable(e); err != nil {
		return nil, err
	}
	if err := permitted(me.Auth, role, e.Name, authorize.ActionCreate); err != nil {
		return nil, err
	}
	allowed := me.Auth.AllowedFields(role, e.Name, authorize.ActionCreate)

	q := query.NewInsert(e.Schema, e.Object)
	// Keys may arrive in a create body: there is no separate key slot on
	// the way in, only on the way back out.
	q.Values, err = columnValues(e, req.Item, allowed, false, q.Params)
	if err != nil {
		return nil, err
	}
	if len(q.Values) == 0 {
		return nil, httperror.BadRequestf("the request supplies no writable fields of %q", e.Name)
	}
	q.Returning = returningColumns(e)

	if me.DB.Dialect.SupportsReturning() {
		stmt, err := me.DB.Dialect.BuildInsert(q)
		if err != nil {
			return nil, httperror.Unexpected(err)
		}
		row, err := me.DB.Row(ctx, "create "+e.Name, stmt)
		if err != nil {
			return nil, wrapDatabaseError(err)
		}
		if row == nil {
			return nil, httperror.Unexpected(fmt.Errorf("insert into %q returned no row", e.Name))
		}
		item, err := rowJSON(q.Returning, row)
		if err != nil {
			return nil, err
		}
		me.Log.InfoContext(ctx, "create completed", "entity", e.Name)
		return &MutationResult{Item: item, Created: true}, nil
	}

	// Without RETURNING the row is read back by key. Keys absent from the
	// body must be database-generated, which the driver only reports for a
	// single integer key.
	kvs, generated, err := insertKeyPlan(e, req.Item)
	if err != nil {
		return nil, err
	}
	stmt, err := me.DB.Dialect.BuildInsert(q)
	if err != nil {
		return nil, httperror.Unexpected(err)
	}
	res, err := me.DB.Result(ctx, "create "+e.Name, stmt)
	if err != nil {
		return nil, wrapDatabaseError(err)
	}
	if generated != nil {
		id, err := res.LastInsertId()
		if err != nil {
			return nil, httperror.Unexpected(fmt.Errorf("reading generated key of %q: %w", e.Name, err))
		}
		kvs = append(kvs, keyValue{field: generated, value: id})
	}
	item, err := me.readBack(ctx, e, kvs)
	if err != nil {
		return nil, err
	}
	me.Log.InfoContext(ctx, "create completed", "entity", e.Name)
	return &MutationResult{Item: item, Created: true}, nil
}

// Update rewrites the row identified by the key and returns it. A key
// that matches nothing, whether absent or outside the role's row policy,
// reads as a missing row.
func (me *MutationEngine) Update(ctx context.Context, role string, claims map[string]any, req *request.UpdateRequest) (*MutationResult, error) {
	e, err := entityNamed(me.Model, req.Entity)
	if err != nil {
		return nil, err
	}
	if err := writable(e); err != nil {
		return nil, err
	}
	if err := permitted(me.Auth, role, e.Name, authorize.ActionUpdate); err != nil {
		return nil, err
	}
	allowed := me.Auth.AllowedFields(role, e.Name, authorize.ActionUpdate)

	kvs, err := keyValues(e, req.Keys)
	if err != nil {
		return nil, err
	}

	q := query.NewUpdate(e.Schema, e.Object)
	q.Set, err = columnValues(e, req.Item, allowed, true, q.Params)
	if err != nil {
		return nil, err
	}
	if len(q.Set) == 0 {
		return nil, httperror.BadRequestf("the request supplies no writable fields of %q", e.Name)
	}
	policy, err := policyPredicate(me.Auth, role, e, authorize.ActionUpdate, claims, q.Params, "")
	if err != nil {
		return nil, err
	}
	q.Where = query.AndOf(keyPredicate(q.Params, "", kvs), policy)
	q.Returning = returningColumns(e)

	stmt, err := me.DB.Dialect.BuildUpdate(q)
	if err != nil {
		return nil, httperror.Unexpected(err)
	}

	var item json.RawMessage
	if me.DB.Dialect.SupportsReturning() {
		row, err := me.DB.Row(ctx, "update "+e.Name, stmt)
		if err != nil {
			return nil, wrapDatabaseError(err)
		}
		if row == nil {
			return nil, httperror.NotFoundf("the %q row to update was not found", e.Name)
		}
		if item, err = rowJSON(q.Returning, row); err != nil {
			return nil, err
		}
	} else {
		affected, err := me.DB.Affected(ctx, "update "+e.Name, stmt)
		if err != nil {
			return nil, wrapDatabaseError(err)
		}
		if affected == 0 {
			return nil, httperror.NotFoundf("the %q row to update was not found", e.Name)
		}
		if item, err = me.readBack(ctx, e, kvs); err != nil {
			return nil, err
		}
	}
	me.Log.InfoContext(ctx, "update completed", "entity", e.Name)
	return &MutationResult{Item: item}, nil
}

// Upsert inserts the row identified by the key or, when it already
// exists, updates it. Created reports which arm ran. UpdateOnly
// suppresses the insert arm entirely.
func (me *MutationEngine) Upsert(ctx context.Context, role string, claims map[string]any, req *request.UpsertRequest) (*MutationResult, error) {
	if req.UpdateOnly {
		return me.Update(ctx, role, claims, &request.UpdateRequest{
			Entity: req.Entity, Keys: req.Keys, Item: req.Item,
		})
	}

	e, err := entityNamed(me.Model, req.Entity)
	if err != nil {
		return nil, err
	}
	if err := writable(e); err != nil {
		return nil, err
	}
	// Either arm may run, so the role needs both grants and the supplied
	// fields must be writable under both.
	if err := permitted(me.Auth, role, e.Name, authorize.ActionCreate); err != nil {
		return nil, err
	}
	if err := permitted(me.Auth, role, e.Name, authorize.ActionUpdate); err != nil {
		return nil, err
	}
	allowed := intersectAllowed(
		me.Auth.AllowedFields(role, e.Name, authorize.ActionCreate),
		me.Auth.AllowedFields(role, e.Name, authorize.ActionUpdate),
	)

	kvs, err := keyValues(e, req.Keys)
	if err != nil {
		return nil, err
	}

	q := query.NewUpsert(e.Schema, e.Object)
	keyCVs := make([]query.ColumnValue, len(kvs))
	for i, kv := range kvs {
		keyCVs[i] = query.ColumnValue{
			Column: query.Column{Name: kv.field.Column},
			Param:  q.Params.Add(kv.value),
		}
	}
	body, err := columnValues(e, req.Item, allowed, true, q.Params)
	if err != nil {
		return nil, err
	}
	q.Keys = keyCVs
	q.Insert = append(append([]query.ColumnValue{}, keyCVs...), body...)
	q.Update = body

	policy, err := policyPredicate(me.Auth, role, e, authorize.ActionUpdate, claims, q.Params, e.Object)
	if err != nil {
		return nil, err
	}
	q.Where = policy
	if q.Where != nil && me.DB.Dialect.Upsert() == compile.UpsertAffectedRows {
		return nil, httperror.BadRequestf(
			"upserts on %q cannot honor the role's row policy on %s; update the row instead",
			e.Name, me.DB.Dialect.Name())
	}
	q.Returning = returningColumns(e)

	stmt, err := me.DB.Dialect.BuildUpsert(q)
	if err != nil {
		return nil, httperror.Unexpected(err)
	}

	op := "upsert " + e.Name
	var item json.RawMessage
	var created bool

	switch me.DB.Dialect.Upsert() {
	case compile.UpsertMultiResult:
		row, inserted, err := me.DB.RowSets(ctx, op, stmt)
		if err != nil {
			return nil, wrapDatabaseError(err)
		}
		if row == nil {
			return nil, httperror.Unexpected(fmt.Errorf("upsert into %q returned no row", e.Name))
		}
		if item, err = rowJSON(q.Returning, row); err != nil {
			return nil, err
		}
		created = inserted

	case compile.UpsertDiscriminator:
		row, err := me.DB.Row(ctx, op, stmt)
		if err != nil {
			return nil, wrapDatabaseError(err)
		}
		if row == nil {
			// The conflict fired but the update arm's policy refused the
			// existing row.
			return nil, httperror.Forbiddenf("the existing %q row is outside the role's policy", e.Name)
		}
		created, _ = row[compile.InsertDiscriminator].(bool)
		if item, err = rowJSON(q.Returning, row); err != nil {
			return nil, err
		}

	case compile.UpsertAffectedRows:
		res, err := me.DB.Result(ctx, op, stmt)
		if err != nil {
			return nil, wrapDatabaseError(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, httperror.Unexpected(err)
		}
		// The driver reports 1 for an insert, 2 for an update, and 0 for
		// an update that changed nothing.
		created = affected == 1
		if item, err = me.readBack(ctx, e, kvs); err != nil {
			return nil, err
		}

	case compile.UpsertProbe:
		item, created, err = me.probedUpsert(ctx, e, kvs, q, stmt)
		if err != nil {
			return nil, err
		}
	}

	me.Log.InfoContext(ctx, "upsert completed", "entity", e.Name, "created", created)
	return &MutationResult{Item: item, Created: created}, nil
}

// probedUpsert runs the upsert inside a transaction with a preceding
// existence probe, for dialects whose upsert cannot report which arm ran.
func (me *MutationEngine) probedUpsert(ctx context.Context, e *metadata.Entity, kvs []keyValue, q *query.UpsertQuery, stmt query.Statement) (json.RawMessage, bool, error) {
	probe := query.NewSelect(e.Schema, e.Object)
	f, _ := e.Field(e.KeyFields[0])
	probe.Columns = []query.LabelledColumn{{
		Column: query.Column{Table: probe.Alias, Name: f.Column},
		Label:  f.Name, Type: f.Type, Nullable: f.Nullable,
	}}
	probe.Single = true
	probe.Filter = keyPredicate(probe.Params, probe.Alias, kvs)
	probeStmt, err := me.DB.Dialect.Build(probe)
	if err != nil {
		return nil, false, httperror.Unexpected(err)
	}

	var item json.RawMessage
	var exists bool
	err = me.DB.InTx(ctx, "upsert "+e.Name, func(ctx context.Context, tx *sql.Tx) error {
		doc, err := execute.QueryJSON(ctx, tx, probeStmt)
		if err != nil {
			return err
		}
		exists = doc != ""

		row, err := execute.QueryRow(ctx, tx, stmt)
		if err != nil {
			return err
		}
		if row == nil {
			return httperror.Forbiddenf("the existing %q row is outside the role's policy", e.Name)
		}
		item, err = rowJSON(q.Returning, row)
		return err
	})
	if err != nil {
		return nil, false, wrapDatabaseError(err)
	}
	return item, !exists, nil
}

// Delete removes the row identified by the key. fields, when non-empty,
// selects what to return from the row as it stood; the read and the
// delete then share a transaction so the reported row is the deleted one.
func (me *MutationEngine) Delete(ctx context.Context, role string, claims map[string]any, req *request.DeleteRequest, fields []string) (*MutationResult, error) {
	e, err := entityNamed(me.Model, req.Entity)
	if err != nil {
		return nil, err
	}
	if err := writable(e); err != nil {
		return nil, err
	}
	if err := permitted(me.Auth, role, e.Name, authorize.ActionDelete); err != nil {
		return nil, err
	}

	kvs, err := keyValues(e, req.Keys)
	if err != nil {
		return nil, err
	}

	q := query.NewDelete(e.Schema, e.Object)
	policy, err := policyPredicate(me.Auth, role, e, authorize.ActionDelete, claims, q.Params, "")
	if err != nil {
		return nil, err
	}
	q.Where = query.AndOf(keyPredicate(q.Params, "", kvs), policy)
	stmt, err := me.DB.Dialect.BuildDelete(q)
	if err != nil {
		return nil, httperror.Unexpected(err)
	}

	if len(fields) == 0 {
		affected, err := me.DB.Affected(ctx, "delete "+e.Name, stmt)
		if err != nil {
			return nil, wrapDatabaseError(err)
		}
		if affected == 0 {
			return nil, httperror.NotFoundf("the %q row to delete was not found", e.Name)
		}
		me.Log.InfoContext(ctx, "delete completed", "entity", e.Name)
		return &MutationResult{}, nil
	}

	// The returned fields fall under the delete grant: the caller is
	// reading the row through the delete, not through a read permission.
	allowed := me.Auth.AllowedFields(role, e.Name, authorize.ActionDelete)
	sel := query.NewSelect(e.Schema, e.Object)
	for _, name := range fields {
		f, ok := e.Field(name)
		if !ok {
			return nil, httperror.BadRequestf("unknown field %q on entity %q", name, e.Name)
		}
		if allowed != nil && !allowed[name] {
			return nil, httperror.Forbiddenf("the role may not read one or more requested fields of %q", e.Name)
		}
		sel.Columns = append(sel.Columns, query.LabelledColumn{
			Column:   query.Column{Table: sel.Alias, Name: f.Column},
			Label:    name,
			Type:     f.Type,
			Nullable: f.Nullable,
		})
	}
	sel.Single = true
	sel.Filter = keyPredicate(sel.Params, sel.Alias, kvs)
	if sel.Policy, err = policyPredicate(me.Auth, role, e, authorize.ActionDelete, claims, sel.Params, sel.Alias); err != nil {
		return nil, err
	}
	selStmt, err := me.DB.Dialect.Build(sel)
	if err != nil {
		return nil, httperror.Unexpected(err)
	}

	var item json.RawMessage
	err = me.DB.InTx(ctx, "delete "+e.Name, func(ctx context.Context, tx *sql.Tx) error {
		doc, err := execute.QueryJSON(ctx, tx, selStmt)
		if err != nil {
			return err
		}
		res, err := execute.Exec(ctx, tx, stmt)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		// A row read but not deleted lost a race; report it missing
		// rather than returning a row that still exists.
		if affected == 0 {
			return httperror.NotFoundf("the %q row to delete was not found", e.Name)
		}
		if doc == "" {
			return httperror.NotFoundf("the %q row to delete was not found", e.Name)
		}
		item = json.RawMessage(doc)
		return nil
	})
	if err != nil {
		return nil, wrapDatabaseError(err)
	}
	me.Log.InfoContext(ctx, "delete completed", "entity", e.Name)
	return &MutationResult{Item: item}, nil
}

// Exec invokes a stored procedure and returns its first result set as a
// JSON array.
func (me *MutationEngine) Exec(ctx context.Context, role string, claims map[string]any, req *request.ExecRequest) (json.RawMessage, error) {
	e, err := entityNamed(me.Model, req.Entity)
	if err != nil {
		return nil, err
	}
	if e.Kind != metadata.SourceProcedure {
		return nil, httperror.BadRequestf("entity %q is not a stored procedure", e.Name)
	}
	if err := permitted(me.Auth, role, e.Name, authorize.ActionExecute); err != nil {
		return nil, err
	}
	if !me.DB.Dialect.SupportsProcedures() {
		return nil, httperror.BadRequestf("stored procedures are not supported on %s", me.DB.Dialect.Name())
	}

	declared := make(map[string]bool, len(e.Params))
	q := query.NewExec(e.Schema, e.Object)
	for _, p := range e.Params {
		declared[p.Name] = true
		raw, ok := req.Params[p.Name]
		if !ok {
			if !p.HasDefault {
				return nil, httperror.BadRequestf("parameter %q of %q is required", p.Name, e.Name)
			}
			raw = p.Default
		}
		f := metadata.Field{Name: p.Name, Type: p.Type, Nullable: true}
		v, err := f.Coerce(raw)
		if err != nil {
			return nil, httperror.BadRequest(err.Error())
		}
		q.Args = append(q.Args, query.NamedParam{Name: p.Name, Param: q.Params.Add(v)})
	}
	for _, name := range sortedNames(req.Params) {
		if !declared[name] {
			return nil, httperror.BadRequestf("%q is not a parameter of %q", name, e.Name)
		}
	}

	stmt, err := me.DB.Dialect.BuildExec(q)
	if err != nil {
		return nil, httperror.Unexpected(err)
	}
	rows, err := me.DB.Rows(ctx, "execute "+e.Name, stmt)
	if err != nil {
		return nil, wrapDatabaseError(err)
	}
	if rows == nil {
		me.Log.InfoContext(ctx, "execute completed", "entity", e.Name, "rows", 0)
		return json.RawMessage("[]"), nil
	}
	out, err := json.Marshal(rows)
	if err != nil {
		return nil, httperror.Unexpected(err)
	}
	me.Log.InfoContext(ctx, "execute completed", "entity", e.Name, "rows", len(rows))
	return out, nil
}

// writable rejects entities that back onto anything but a table.
func writable(e *metadata.Entity) error {
	if e.Kind != metadata.SourceTable {
		return httperror.BadRequestf("entity %q is not writable", e.Name)
	}
	return nil
}

// intersectAllowed merges two field restrictions; nil means unrestricted.
func intersectAllowed(a, b map[string]bool) map[string]bool {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	out := make(map[string]bool, len(a))
	for name := range a {
		if b[name] {
			out[name] = true
		}
	}
	return out
}

// insertKeyPlan decides how the created row will be identified for the
// read-back: keys present in the body are used as supplied, and at most
// one absent integer key may be filled from the driver's generated id.
func insertKeyPlan(e *metadata.Entity, item map[string]any) ([]keyValue, *metadata.Field, error) {
	var kvs []keyValue
	var generated *metadata.Field
	for _, name := range e.KeyFields {
		f, _ := e.Field(name)
		raw, ok := item[name]
		if !ok {
			if generated != nil || f.Type != metadata.TypeInt {
				return nil, nil, httperror.BadRequestf("key field %q of %q must be supplied", name, e.Name)
			}
			generated = f
			continue
		}
		v, err := f.Coerce(raw)
		if err != nil {
			return nil, nil, httperror.BadRequest(err.Error())
		}
		if v == nil {
			return nil, nil, httperror.BadRequestf("key field %q cannot be null", name)
		}
		kvs = append(kvs, keyValue{field: f, value: v})
	}
	return kvs, generated, nil
}

// readBack reads the full row by key after a write on a dialect that
// cannot return it inline. No row policy applies: the write itself was
// already policy-checked, matching what RETURNING reports elsewhere.
func (me *MutationEngine) readBack(ctx context.Context, e *metadata.Entity, kvs []keyValue) (json.RawMessage, error) {
	sel := query.NewSelect(e.Schema, e.Object)
	for i := range e.Fields {
		f := &e.Fields[i]
		sel.Columns = append(sel.Columns, query.LabelledColumn{
			Column:   query.Column{Table: sel.Alias, Name: f.Column},
			Label:    f.Name,
			Type:     f.Type,
			Nullable: f.Nullable,
		})
	}
	sel.Single = true
	sel.Filter = keyPredicate(sel.Params, sel.Alias, kvs)
	stmt, err := me.DB.Dialect.Build(sel)
	if err != nil {
		return nil, httperror.Unexpected(err)
	}
	doc, err := me.DB.JSON(ctx, "read back "+e.Name, stmt)
	if err != nil {
		return nil, wrapDatabaseError(err)
	}
	if doc == "" {
		return nil, httperror.NotFoundf("the written %q row vanished before it could be read back", e.Name)
	}
	return json.RawMessage(doc), nil
}
