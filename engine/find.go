package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/gateql/gateql/authorize"
	"github.com/gateql/gateql/cursor"
	"github.com/gateql/gateql/httperror"
	"github.com/gateql/gateql/metadata"
	"github.com/gateql/gateql/query"
	"github.com/gateql/gateql/request"
)

// DefaultFirst caps a paginated read when the caller does not name a page
// size. Nested collections get the same cap.
const DefaultFirst = 100

// FindResult is the shaped outcome of a read. Item is set for by-key
// reads; Items and the pagination fields for list reads. EndCursor is
// empty when HasNextPage is false.
type FindResult struct {
	Item        json.RawMessage
	Items       json.RawMessage
	HasNextPage bool
	EndCursor   string
}

// Find serves one read request under the caller's role.
func (qe *QueryEngine) Find(ctx context.Context, role string, claims map[string]any, req *request.FindRequest) (*FindResult, error) {
	e, err := entityNamed(qe.Model, req.Entity)
	if err != nil {
		return nil, err
	}
	if e.Kind == metadata.SourceProcedure {
		return nil, httperror.BadRequestf("entity %q is a stored procedure; invoke it instead of reading it", e.Name)
	}
	if err := permitted(qe.Auth, role, e.Name, authorize.ActionRead); err != nil {
		return nil, err
	}

	b := &selectBuilder{model: qe.Model, auth: qe.Auth, role: role, claims: claims}

	if len(req.Keys) > 0 {
		return qe.findByKey(ctx, b, e, req)
	}
	return qe.findPage(ctx, b, e, req)
}

func (qe *QueryEngine) findByKey(ctx context.Context, b *selectBuilder, e *metadata.Entity, req *request.FindRequest) (*FindResult, error) {
	q, _, err := b.build(e, req, nil)
	if err != nil {
		return nil, err
	}
	q.Single = true

	kvs, err := keyValues(e, req.Keys)
	if err != nil {
		return nil, err
	}
	q.Filter = query.AndOf(q.Filter, keyPredicate(q.Params, q.Alias, kvs))

	stmt, err := qe.DB.Dialect.Build(q)
	if err != nil {
		return nil, httperror.Unexpected(err)
	}
	doc, err := qe.DB.JSON(ctx, "find "+e.Name, stmt)
	if err != nil {
		return nil, wrapDatabaseError(err)
	}
	if doc == "" {
		return nil, httperror.NotFoundf("no %q row matches the given key", e.Name)
	}

	qe.Log.InfoContext(ctx, "find completed", "entity", e.Name, "by_key", true)
	return &FindResult{Item: json.RawMessage(doc)}, nil
}

func (qe *QueryEngine) findPage(ctx context.Context, b *selectBuilder, e *metadata.Entity, req *request.FindRequest) (*FindResult, error) {
	q, visible, err := b.build(e, req, nil)
	if err != nil {
		return nil, err
	}

	requested, err := orderColumns(e, q.Alias, req.OrderBy, b.allowedFields(e))
	if err != nil {
		return nil, err
	}
	effective := query.NormalizeOrderBy(requested, keyOrder(e, q.Alias))
	q.OrderBy = effective

	// Every ordering column must be in the projection so the page cursor
	// can be minted from the last row; columns added here are stripped
	// from the response again.
	hidden := projectOrderColumns(e, q, effective)

	first := req.First
	if first <= 0 {
		first = DefaultFirst
	}
	// One extra row distinguishes a full page from the last page.
	q.Limit = first + 1

	if req.After != "" {
		keyset, err := keysetFromCursor(e, req.After, q.Alias, effective, q.Params)
		if err != nil {
			return nil, err
		}
		q.Keyset = keyset
	}

	stmt, err := qe.DB.Dialect.Build(q)
	if err != nil {
		return nil, httperror.Unexpected(err)
	}
	doc, err := qe.DB.JSON(ctx, "find "+e.Name, stmt)
	if err != nil {
		return nil, wrapDatabaseError(err)
	}
	if doc == "" {
		// FOR JSON yields nothing at all for an empty result.
		doc = "[]"
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(doc), &items); err != nil {
		return nil, httperror.Unexpected(fmt.Errorf("parsing result document: %w", err))
	}

	hasNext := len(items) > first
	if hasNext {
		items = items[:first]
	}

	endCursor := ""
	if hasNext {
		endCursor, err = pageCursor(e, effective, items[len(items)-1])
		if err != nil {
			return nil, err
		}
	}

	if len(hidden) > 0 {
		if items, err = stripHidden(items, visible); err != nil {
			return nil, err
		}
	}

	qe.Log.InfoContext(ctx, "find completed",
		"entity", e.Name,
		"items", len(items),
		"has_next_page", hasNext,
	)
	return &FindResult{
		Items:       joinItems(items),
		HasNextPage: hasNext,
		EndCursor:   endCursor,
	}, nil
}

// selectBuilder assembles the select tree for one read request.
type selectBuilder struct {
	model  *metadata.Model
	auth   *authorize.Resolver
	role   string
	claims map[string]any
}

func (b *selectBuilder) allowedFields(e *metadata.Entity) map[string]bool {
	return b.auth.AllowedFields(b.role, e.Name, authorize.ActionRead)
}

// build resolves fields, relationships, the user filter, and the role
// policy into a select structure. parent is nil at the root; visible
// lists the response labels in projection order, relationships included.
func (b *selectBuilder) build(e *metadata.Entity, req *request.FindRequest, parent *query.SelectQuery) (q *query.SelectQuery, visible []string, err error) {
	if parent == nil {
		q = query.NewSelect(e.Schema, e.Object)
	} else {
		q = parent.Subquery(e.Schema, e.Object)
	}

	allowed := b.allowedFields(e)

	fields := req.Fields
	if len(fields) == 0 {
		// An unqualified selection returns what the role may see.
		for _, name := range e.FieldNames() {
			if allowed == nil || allowed[name] {
				fields = append(fields, name)
			}
		}
	}
	for _, name := range fields {
		f, ok := e.Field(name)
		if !ok {
			return nil, nil, httperror.BadRequestf("unknown field %q on entity %q", name, e.Name)
		}
		if allowed != nil && !allowed[name] {
			return nil, nil, httperror.Forbiddenf("the role may not read one or more requested fields of %q", e.Name)
		}
		q.Columns = append(q.Columns, query.LabelledColumn{
			Column:   query.Column{Table: q.Alias, Name: f.Column},
			Label:    name,
			Type:     f.Type,
			Nullable: f.Nullable,
		})
		visible = append(visible, name)
	}
	if len(q.Columns) == 0 {
		return nil, nil, httperror.BadRequestf("no readable fields selected on %q", e.Name)
	}

	for _, rr := range req.Related {
		rel, ok := e.Relationship(rr.Name)
		if !ok {
			return nil, nil, httperror.BadRequestf("unknown relationship %q on entity %q", rr.Name, e.Name)
		}
		target, _ := b.model.Entity(rel.Target)
		if err := permitted(b.auth, b.role, target.Name, authorize.ActionRead); err != nil {
			return nil, nil, err
		}

		sub := rr.Req
		if sub == nil {
			sub = &request.FindRequest{}
		}
		if sub.After != "" {
			return nil, nil, httperror.BadRequest("nested collections cannot be paginated with a cursor")
		}

		child, _, err := b.build(target, sub, q)
		if err != nil {
			return nil, nil, err
		}

		related := query.RelatedSelect{Label: rr.Name, Query: child, Many: rel.Many}
		if rel.Many {
			requested, err := orderColumns(target, child.Alias, sub.OrderBy, b.allowedFields(target))
			if err != nil {
				return nil, nil, err
			}
			child.OrderBy = query.NormalizeOrderBy(requested, keyOrder(target, child.Alias))
			if sub.First > 0 {
				child.Limit = sub.First
			} else {
				child.Limit = DefaultFirst
			}
		} else {
			child.Single = true
		}

		if rel.JunctionObject != "" {
			j := &query.Junction{
				Schema: rel.JunctionSchema,
				Object: rel.JunctionObject,
				Alias:  q.Tables.NextTableAlias(),
			}
			for i := range rel.SourceFields {
				sf, _ := e.Field(rel.SourceFields[i])
				tf, _ := target.Field(rel.TargetFields[i])
				j.ToTarget = append(j.ToTarget, query.ColumnPair{
					Inner: query.Column{Table: j.Alias, Name: rel.JunctionTargetColumns[i]},
					Outer: query.Column{Table: child.Alias, Name: tf.Column},
				})
				j.ToSource = append(j.ToSource, query.ColumnPair{
					Inner: query.Column{Table: j.Alias, Name: rel.JunctionSourceColumns[i]},
					Outer: query.Column{Table: q.Alias, Name: sf.Column},
				})
			}
			related.Junction = j
		} else {
			for i := range rel.SourceFields {
				sf, _ := e.Field(rel.SourceFields[i])
				tf, _ := target.Field(rel.TargetFields[i])
				related.Link = append(related.Link, query.ColumnPair{
					Inner: query.Column{Table: child.Alias, Name: tf.Column},
					Outer: query.Column{Table: q.Alias, Name: sf.Column},
				})
			}
		}
		q.Related = append(q.Related, related)
		visible = append(visible, rr.Name)
	}

	if req.Filter != nil {
		pred, err := filterPredicate(e, req.Filter, q.Params, q.Alias, allowed)
		if err != nil {
			return nil, nil, err
		}
		q.Filter = pred
	}

	policy, err := policyPredicate(b.auth, b.role, e, authorize.ActionRead, b.claims, q.Params, q.Alias)
	if err != nil {
		return nil, nil, err
	}
	q.Policy = policy

	return q, visible, nil
}

// orderColumns validates and lowers the requested ordering.
func orderColumns(e *metadata.Entity, alias string, orderBy []request.OrderField, allowed map[string]bool) ([]query.OrderByColumn, error) {
	out := make([]query.OrderByColumn, 0, len(orderBy))
	for _, ob := range orderBy {
		f, ok := e.Field(ob.Field)
		if !ok {
			return nil, httperror.BadRequestf("unknown field %q in order by on %q", ob.Field, e.Name)
		}
		if allowed != nil && !allowed[f.Name] {
			return nil, httperror.Forbiddenf("the role may not order by one or more fields of %q", e.Name)
		}
		out = append(out, query.OrderByColumn{
			Column:     query.Column{Table: alias, Name: f.Column},
			Descending: ob.Descending,
			Nullable:   f.Nullable,
		})
	}
	return out, nil
}

// keyOrder returns the primary key as an ascending ordering, the suffix
// that makes any requested ordering total.
func keyOrder(e *metadata.Entity, alias string) []query.OrderByColumn {
	out := make([]query.OrderByColumn, len(e.KeyFields))
	for i, name := range e.KeyFields {
		f, _ := e.Field(name)
		out[i] = query.OrderByColumn{
			Column:   query.Column{Table: alias, Name: f.Column},
			Nullable: f.Nullable,
		}
	}
	return out
}

// projectOrderColumns appends any effective ordering column missing from
// the projection and returns the labels it added. Field restrictions do
// not apply here: the values only ever surface inside the opaque cursor.
func projectOrderColumns(e *metadata.Entity, q *query.SelectQuery, effective []query.OrderByColumn) []string {
	have := make(map[string]bool, len(q.Columns))
	for _, col := range q.Columns {
		have[col.Label] = true
	}

	var hidden []string
	for _, ob := range effective {
		f, _ := e.FieldByColumn(ob.Column.Name)
		if have[f.Name] {
			continue
		}
		q.Columns = append(q.Columns, query.LabelledColumn{
			Column:   query.Column{Table: q.Alias, Name: f.Column},
			Label:    f.Name,
			Type:     f.Type,
			Nullable: f.Nullable,
		})
		have[f.Name] = true
		hidden = append(hidden, f.Name)
	}
	return hidden
}

// keysetFromCursor decodes and validates a continuation token against the
// effective ordering and builds the after-this-row predicate.
func keysetFromCursor(e *metadata.Entity, after, alias string, effective []query.OrderByColumn, ps *query.ParameterSet) (query.Predicate, error) {
	elements, err := cursor.Decode(after)
	if err != nil {
		return nil, err
	}
	if err := cursor.Validate(elements, expectedElements(e, effective)); err != nil {
		return nil, err
	}

	cols := make([]query.KeysetColumn, len(elements))
	for i, el := range elements {
		f, _ := e.FieldByColumn(el.ColumnName)
		var v any
		if el.Value != nil {
			v, err = f.Coerce(el.Value)
			if err != nil {
				return nil, httperror.BadRequestf("$after cursor value: %v", err)
			}
		}
		cols[i] = query.KeysetColumn{
			Column:     query.Column{Table: alias, Name: el.ColumnName},
			Descending: el.Direction == cursor.Descending,
			Nullable:   f.Nullable,
			Value:      v,
		}
	}
	return query.KeysetPredicate(ps, cols), nil
}

// expectedElements is the cursor shape the effective ordering demands.
func expectedElements(e *metadata.Entity, effective []query.OrderByColumn) []cursor.Element {
	out := make([]cursor.Element, len(effective))
	for i, ob := range effective {
		dir := cursor.Ascending
		if ob.Descending {
			dir = cursor.Descending
		}
		out[i] = cursor.Element{
			TableSchema: e.Schema,
			TableName:   e.Object,
			ColumnName:  ob.Column.Name,
			Direction:   dir,
		}
	}
	return out
}

// pageCursor mints the continuation token from the last row of a page.
func pageCursor(e *metadata.Entity, effective []query.OrderByColumn, last json.RawMessage) (string, error) {
	fields, err := topLevelFields(last)
	if err != nil {
		return "", err
	}

	elements := make([]cursor.Element, len(effective))
	for i, ob := range effective {
		f, _ := e.FieldByColumn(ob.Column.Name)
		var v any
		if raw, ok := fields[f.Name]; ok {
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.UseNumber()
			if err := dec.Decode(&v); err != nil {
				return "", httperror.Unexpected(fmt.Errorf("cursor value for %q: %w", f.Name, err))
			}
		}
		dir := cursor.Ascending
		if ob.Descending {
			dir = cursor.Descending
		}
		elements[i] = cursor.Element{
			TableSchema: e.Schema,
			TableName:   e.Object,
			ColumnName:  ob.Column.Name,
			Value:       v,
			Direction:   dir,
		}
	}
	return cursor.Encode(elements)
}

// topLevelFields splits a JSON object into its top-level members without
// touching the nested text.
func topLevelFields(item json.RawMessage) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil {
		return nil, httperror.Unexpected(fmt.Errorf("parsing result row: %w", err))
	}
	return fields, nil
}

// stripHidden rebuilds each item with only the visible labels, in their
// projection order.
func stripHidden(items []json.RawMessage, visible []string) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(items))
	for i, item := range items {
		fields, err := topLevelFields(item)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		buf.WriteByte('{')
		for j, label := range visible {
			if j > 0 {
				buf.WriteByte(',')
			}
			name, _ := json.Marshal(label)
			buf.Write(name)
			buf.WriteByte(':')
			if raw, ok := fields[label]; ok {
				buf.Write(raw)
			} else {
				buf.WriteString("null")
			}
		}
		buf.WriteByte('}')
		out[i] = buf.Bytes()
	}
	return out, nil
}

// joinItems reassembles trimmed rows into one JSON array.
func joinItems(items []json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(item)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}
