package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/gateql/gateql/authorize"
	"github.com/gateql/gateql/config"
	"github.com/gateql/gateql/engine"
	"github.com/gateql/gateql/httperror"
	"github.com/gateql/gateql/metadata"
	"github.com/gateql/gateql/request"
)

// The GraphQL front executes documents without a generated schema: root
// fields bind to entities through the model's naming scheme, and
// selections below them are checked against entity metadata. Collections
// answer with a connection envelope of items, hasNextPage, and endCursor.

type graphqlRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

type graphqlError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors []graphqlError  `json:"errors,omitempty"`
}

func (s *Server) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.graphqlFail(w, httperror.Wrap(http.StatusBadRequest, "reading request body", err))
		return
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var req graphqlRequest
	if err := dec.Decode(&req); err != nil {
		s.graphqlFail(w, httperror.BadRequestf("the request body is not a GraphQL request document: %v", err))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		s.graphqlFail(w, httperror.BadRequest("a query is required"))
		return
	}

	doc, err := parser.ParseQuery(&ast.Source{Input: req.Query})
	if err != nil {
		s.graphqlFail(w, httperror.BadRequestf("the query does not parse: %v", err))
		return
	}
	op := doc.Operations.ForName(req.OperationName)
	if op == nil {
		if req.OperationName == "" {
			s.graphqlFail(w, httperror.BadRequest("the document defines more than one operation; name one with operationName"))
			return
		}
		s.graphqlFail(w, httperror.BadRequestf("operation %q is not defined", req.OperationName))
		return
	}
	if op.Operation != ast.Query && op.Operation != ast.Mutation {
		s.graphqlFail(w, httperror.BadRequest("only queries and mutations are supported"))
		return
	}

	data, fieldErrs, err := s.executeOperation(r.Context(), doc, op, req.Variables)
	if err != nil {
		s.graphqlFail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, graphqlResponse{Data: data, Errors: fieldErrs})
}

// graphqlFail reports a request-level failure: no execution happened, so
// the response carries errors and no data.
func (s *Server) graphqlFail(w http.ResponseWriter, err error) {
	status, message := httperror.Response(err, s.development)
	writeJSON(w, status, graphqlResponse{Errors: []graphqlError{{
		Message:    message,
		Extensions: map[string]any{"status": status},
	}}})
}

// executeOperation runs the root fields in document order. A failing
// field becomes null in the data document with its error alongside, so
// one bad selection does not void its siblings. Mutations run serially
// by construction.
func (s *Server) executeOperation(ctx context.Context, doc *ast.QueryDocument, op *ast.OperationDefinition, vars map[string]any) (json.RawMessage, []graphqlError, error) {
	fields, err := flattenSelections(doc, op.SelectionSet, nil)
	if err != nil {
		return nil, nil, err
	}
	if len(fields) == 0 {
		return nil, nil, httperror.BadRequest("the operation selects nothing")
	}

	snap := s.Store.Current()
	seen := make(map[string]bool, len(fields))
	var errs []graphqlError
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fields {
		if seen[f.Alias] {
			return nil, nil, httperror.BadRequestf("the result field %q is selected twice; alias one of them", f.Alias)
		}
		seen[f.Alias] = true

		if i > 0 {
			buf.WriteByte(',')
		}
		writeKey(&buf, f.Alias)

		var result json.RawMessage
		var ferr error
		if op.Operation == ast.Mutation {
			result, ferr = s.mutationField(ctx, snap, doc, f, vars)
		} else {
			result, ferr = s.queryField(ctx, snap, doc, f, vars)
		}
		if ferr != nil {
			status, message := httperror.Response(ferr, s.development)
			errs = append(errs, graphqlError{
				Message:    message,
				Path:       []any{f.Alias},
				Extensions: map[string]any{"status": status},
			})
			buf.WriteString("null")
			continue
		}
		buf.Write(result)
	}
	buf.WriteByte('}')
	return buf.Bytes(), errs, nil
}

// flattenSelections resolves fragment spreads into a plain field list.
// seen guards against fragment cycles, which parse fine but would never
// terminate. Inline fragments need a schema to test their type
// condition, so a schema-less host rejects them.
func flattenSelections(doc *ast.QueryDocument, set ast.SelectionSet, seen map[string]bool) ([]*ast.Field, error) {
	var out []*ast.Field
	for _, sel := range set {
		switch sel := sel.(type) {
		case *ast.Field:
			out = append(out, sel)
		case *ast.FragmentSpread:
			if seen[sel.Name] {
				return nil, httperror.BadRequestf("fragment %q spreads into itself", sel.Name)
			}
			frag := doc.Fragments.ForName(sel.Name)
			if frag == nil {
				return nil, httperror.BadRequestf("fragment %q is not defined", sel.Name)
			}
			next := map[string]bool{sel.Name: true}
			for name := range seen {
				next[name] = true
			}
			sub, err := flattenSelections(doc, frag.SelectionSet, next)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		case *ast.InlineFragment:
			return nil, httperror.BadRequest("inline fragments are not supported")
		}
	}
	return out, nil
}

func (s *Server) queryField(ctx context.Context, snap *config.Snapshot, doc *ast.QueryDocument, f *ast.Field, vars map[string]any) (json.RawMessage, error) {
	role, claims := callerIdentity(ctx)
	qe := engine.NewQueryEngine(snap.Model, snap.Auth, s.DB, s.Log)

	if e, ok := snap.Model.ByCollection(f.Name); ok {
		return s.collectionField(ctx, qe, snap, e, doc, f, vars, role, claims)
	}
	if e, ok := snap.Model.ByKeyField(f.Name); ok {
		req, err := s.byKeyRequest(doc, snap, e, f, vars)
		if err != nil {
			return nil, err
		}
		res, err := qe.Find(ctx, role, claims, req)
		if err != nil {
			// A missing row is a null result, not an error.
			if httperror.FromError(err).Code() == http.StatusNotFound {
				return json.RawMessage("null"), nil
			}
			return nil, err
		}
		return res.Item, nil
	}
	return nil, httperror.BadRequestf("unknown query field %q", f.Name)
}

// Connection envelope fields of a collection.
const (
	itemsField       = "items"
	hasNextPageField = "hasNextPage"
	endCursorField   = "endCursor"
)

func (s *Server) collectionField(ctx context.Context, qe *engine.QueryEngine, snap *config.Snapshot, e *metadata.Entity, doc *ast.QueryDocument, f *ast.Field, vars map[string]any, role string, claims map[string]any) (json.RawMessage, error) {
	req := &request.FindRequest{Entity: e.Name, First: s.pageSize}
	for _, arg := range f.Arguments {
		switch arg.Name {
		case "first":
			v, err := argValue(arg, vars)
			if err != nil {
				return nil, err
			}
			if v == nil {
				continue
			}
			n, err := intArg("first", v)
			if err != nil {
				return nil, err
			}
			if req.First, err = s.boundedFirst("first", n); err != nil {
				return nil, err
			}
		case "after":
			v, err := argValue(arg, vars)
			if err != nil {
				return nil, err
			}
			if v == nil {
				continue
			}
			after, err := stringArg("after", v)
			if err != nil {
				return nil, err
			}
			req.After = after
		case "filter":
			flt, err := filterArgument(arg.Value, vars)
			if err != nil {
				return nil, err
			}
			req.Filter = flt
		case "orderBy":
			ob, err := orderByArgument(arg.Value, vars)
			if err != nil {
				return nil, err
			}
			req.OrderBy = ob
		default:
			return nil, httperror.BadRequestf("unknown argument %q on %q", arg.Name, f.Name)
		}
	}

	envelope, err := flattenSelections(doc, f.SelectionSet, nil)
	if err != nil {
		return nil, err
	}
	if len(envelope) == 0 {
		return nil, httperror.BadRequestf("%q wants a selection of %s, %s, %s", f.Name, itemsField, hasNextPageField, endCursorField)
	}

	type envelopeEntry struct {
		alias string
		field string
	}
	entries := make([]envelopeEntry, 0, len(envelope))
	chosen := make(map[string]bool, len(envelope))
	for _, sub := range envelope {
		if chosen[sub.Name] {
			return nil, httperror.BadRequestf("field %q is selected twice on the %q connection", sub.Name, f.Name)
		}
		chosen[sub.Name] = true
		switch sub.Name {
		case itemsField:
			if len(sub.SelectionSet) == 0 {
				return nil, httperror.BadRequestf("%s wants a field selection", itemsField)
			}
			fields, related, err := s.projection(doc, snap, e, sub.SelectionSet, vars)
			if err != nil {
				return nil, err
			}
			req.Fields, req.Related = fields, related
		case hasNextPageField, endCursorField:
			if len(sub.SelectionSet) > 0 {
				return nil, httperror.BadRequestf("%q takes no subselection", sub.Name)
			}
		default:
			return nil, httperror.BadRequestf("unknown field %q on the %q connection", sub.Name, f.Name)
		}
		entries = append(entries, envelopeEntry{alias: sub.Alias, field: sub.Name})
	}

	res, err := qe.Find(ctx, role, claims, req)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, entry := range entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeKey(&buf, entry.alias)
		switch entry.field {
		case itemsField:
			buf.Write(res.Items)
		case hasNextPageField:
			buf.WriteString(strconv.FormatBool(res.HasNextPage))
		case endCursorField:
			if res.EndCursor == "" {
				buf.WriteString("null")
			} else {
				writeString(&buf, res.EndCursor)
			}
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// byKeyRequest binds a single-row lookup; the arguments are the key
// fields.
func (s *Server) byKeyRequest(doc *ast.QueryDocument, snap *config.Snapshot, e *metadata.Entity, f *ast.Field, vars map[string]any) (*request.FindRequest, error) {
	req := &request.FindRequest{Entity: e.Name, Keys: make(map[string]any, len(f.Arguments))}
	for _, arg := range f.Arguments {
		v, err := argValue(arg, vars)
		if err != nil {
			return nil, err
		}
		req.Keys[arg.Name] = v
	}
	if len(req.Keys) == 0 {
		return nil, httperror.BadRequestf("%q wants its key fields as arguments", f.Name)
	}
	if len(f.SelectionSet) == 0 {
		return nil, httperror.BadRequestf("%q wants a field selection", f.Name)
	}
	fields, related, err := s.projection(doc, snap, e, f.SelectionSet, vars)
	if err != nil {
		return nil, err
	}
	req.Fields, req.Related = fields, related
	return req, nil
}

// projection lowers an entity selection into field and relationship
// requests. Nested documents are shaped inside the database, so aliases
// can only be honored at the root of the response; below it they are
// rejected rather than silently ignored.
func (s *Server) projection(doc *ast.QueryDocument, snap *config.Snapshot, e *metadata.Entity, set ast.SelectionSet, vars map[string]any) ([]string, []request.RelatedRequest, error) {
	flat, err := flattenSelections(doc, set, nil)
	if err != nil {
		return nil, nil, err
	}

	var fields []string
	var related []request.RelatedRequest
	for _, sub := range flat {
		if strings.HasPrefix(sub.Name, "__") {
			return nil, nil, httperror.BadRequestf("introspection field %q is not supported", sub.Name)
		}
		if sub.Alias != sub.Name {
			return nil, nil, httperror.BadRequestf("alias %q: aliases are only supported on root fields", sub.Alias)
		}
		if rel, ok := e.Relationship(sub.Name); ok {
			target, _ := snap.Model.Entity(rel.Target)
			subReq, err := s.relatedRequest(doc, snap, target, sub, vars, rel.Many)
			if err != nil {
				return nil, nil, err
			}
			related = append(related, request.RelatedRequest{Name: sub.Name, Req: subReq})
			continue
		}
		if len(sub.SelectionSet) > 0 {
			return nil, nil, httperror.BadRequestf("field %q of %q takes no subselection", sub.Name, e.Name)
		}
		if len(sub.Arguments) > 0 {
			return nil, nil, httperror.BadRequestf("field %q of %q takes no arguments", sub.Name, e.Name)
		}
		fields = append(fields, sub.Name)
	}
	return fields, related, nil
}

func (s *Server) relatedRequest(doc *ast.QueryDocument, snap *config.Snapshot, target *metadata.Entity, f *ast.Field, vars map[string]any, many bool) (*request.FindRequest, error) {
	req := &request.FindRequest{Entity: target.Name}
	for _, arg := range f.Arguments {
		if !many && arg.Name != "filter" {
			return nil, httperror.BadRequestf("argument %q does not apply to the singular %q", arg.Name, f.Name)
		}
		switch arg.Name {
		case "first":
			v, err := argValue(arg, vars)
			if err != nil {
				return nil, err
			}
			if v == nil {
				continue
			}
			n, err := intArg("first", v)
			if err != nil {
				return nil, err
			}
			if req.First, err = s.boundedFirst("first", n); err != nil {
				return nil, err
			}
		case "after":
			// The engine refuses nested cursors with its own message.
			v, err := argValue(arg, vars)
			if err != nil {
				return nil, err
			}
			if v == nil {
				continue
			}
			after, err := stringArg("after", v)
			if err != nil {
				return nil, err
			}
			req.After = after
		case "filter":
			flt, err := filterArgument(arg.Value, vars)
			if err != nil {
				return nil, err
			}
			req.Filter = flt
		case "orderBy":
			ob, err := orderByArgument(arg.Value, vars)
			if err != nil {
				return nil, err
			}
			req.OrderBy = ob
		default:
			return nil, httperror.BadRequestf("unknown argument %q on %q", arg.Name, f.Name)
		}
	}
	if len(f.SelectionSet) == 0 {
		return nil, httperror.BadRequestf("%q wants a field selection", f.Name)
	}
	fields, related, err := s.projection(doc, snap, target, f.SelectionSet, vars)
	if err != nil {
		return nil, err
	}
	req.Fields, req.Related = fields, related
	return req, nil
}

func (s *Server) mutationField(ctx context.Context, snap *config.Snapshot, doc *ast.QueryDocument, f *ast.Field, vars map[string]any) (json.RawMessage, error) {
	role, claims := callerIdentity(ctx)
	me := engine.NewMutationEngine(snap.Model, snap.Auth, s.DB, s.Log)

	b, ok := snap.Model.Mutation(f.Name)
	if !ok {
		return nil, httperror.BadRequestf("unknown mutation %q", f.Name)
	}
	e := b.Entity

	switch authorize.Action(b.Action) {
	case authorize.ActionCreate:
		item, err := itemArgument(f, vars, false)
		if err != nil {
			return nil, err
		}
		res, err := me.Insert(ctx, role, claims, &request.InsertRequest{Entity: e.Name, Item: item})
		if err != nil {
			return nil, err
		}
		return s.shapeMutationRow(snap, e, authorize.ActionCreate, role, doc, f, res.Item)

	case authorize.ActionUpdate:
		item, err := itemArgument(f, vars, true)
		if err != nil {
			return nil, err
		}
		keys, err := keyArguments(f, vars)
		if err != nil {
			return nil, err
		}
		res, err := me.Update(ctx, role, claims, &request.UpdateRequest{Entity: e.Name, Keys: keys, Item: item})
		if err != nil {
			return nil, err
		}
		return s.shapeMutationRow(snap, e, authorize.ActionUpdate, role, doc, f, res.Item)

	case authorize.ActionDelete:
		keys, err := keyArguments(f, vars)
		if err != nil {
			return nil, err
		}
		fields, err := deleteSelection(doc, e, f)
		if err != nil {
			return nil, err
		}
		res, err := me.Delete(ctx, role, claims, &request.DeleteRequest{Entity: e.Name, Keys: keys}, fields)
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			return json.RawMessage("null"), nil
		}
		return res.Item, nil

	case authorize.ActionExecute:
		params := make(map[string]any, len(f.Arguments))
		for _, arg := range f.Arguments {
			v, err := argValue(arg, vars)
			if err != nil {
				return nil, err
			}
			params[arg.Name] = v
		}
		rows, err := me.Exec(ctx, role, claims, &request.ExecRequest{Entity: e.Name, Params: params})
		if err != nil {
			return nil, err
		}
		return shapeProcedureRows(doc, f, rows)
	}
	return nil, httperror.Unexpected(fmt.Errorf("mutation %q has unknown action %q", f.Name, b.Action))
}

// itemArgument pulls the item object off a write mutation. With
// allowKeys set the remaining arguments are left for keyArguments;
// otherwise item must be the only argument.
func itemArgument(f *ast.Field, vars map[string]any, allowKeys bool) (map[string]any, error) {
	var item map[string]any
	for _, arg := range f.Arguments {
		if arg.Name != "item" {
			if allowKeys {
				continue
			}
			return nil, httperror.BadRequestf("unknown argument %q on %q", arg.Name, f.Name)
		}
		resolved, err := argValue(arg, vars)
		if err != nil {
			return nil, err
		}
		m, ok := resolved.(map[string]any)
		if !ok {
			return nil, httperror.BadRequest("the item argument must be an object")
		}
		item = m
	}
	if item == nil {
		return nil, httperror.BadRequestf("%q wants an item argument", f.Name)
	}
	return item, nil
}

// keyArguments reads every non-item argument as a key field value. Key
// completeness and names are checked where the key is used.
func keyArguments(f *ast.Field, vars map[string]any) (map[string]any, error) {
	keys := make(map[string]any, len(f.Arguments))
	for _, arg := range f.Arguments {
		if arg.Name == "item" {
			continue
		}
		v, err := argValue(arg, vars)
		if err != nil {
			return nil, err
		}
		keys[arg.Name] = v
	}
	if len(keys) == 0 {
		return nil, httperror.BadRequestf("%q wants its key fields as arguments", f.Name)
	}
	return keys, nil
}

// shapeMutationRow trims the written row to the mutation's selection.
// The readback falls under the mutating grant, the same rule the delete
// readback applies. An empty selection answers null.
func (s *Server) shapeMutationRow(snap *config.Snapshot, e *metadata.Entity, action authorize.Action, role string, doc *ast.QueryDocument, f *ast.Field, item json.RawMessage) (json.RawMessage, error) {
	if len(f.SelectionSet) == 0 {
		return json.RawMessage("null"), nil
	}
	fields, err := rowSelection(doc, e, f)
	if err != nil {
		return nil, err
	}
	allowed := snap.Auth.AllowedFields(role, e.Name, action)
	for _, name := range fields {
		if allowed != nil && !allowed[name] {
			return nil, httperror.Forbiddenf("the role may not read one or more requested fields of %q", e.Name)
		}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(item, &raw); err != nil {
		return nil, httperror.Unexpected(fmt.Errorf("parsing the written row: %w", err))
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeKey(&buf, name)
		if v, ok := raw[name]; ok {
			buf.Write(v)
		} else {
			buf.WriteString("null")
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// rowSelection flattens a mutation result selection. Written rows are
// single-table documents, so relationships cannot appear in them.
func rowSelection(doc *ast.QueryDocument, e *metadata.Entity, f *ast.Field) ([]string, error) {
	flat, err := flattenSelections(doc, f.SelectionSet, nil)
	if err != nil {
		return nil, err
	}
	fields := make([]string, 0, len(flat))
	for _, sub := range flat {
		if strings.HasPrefix(sub.Name, "__") {
			return nil, httperror.BadRequestf("introspection field %q is not supported", sub.Name)
		}
		if sub.Alias != sub.Name {
			return nil, httperror.BadRequestf("alias %q: aliases are only supported on root fields", sub.Alias)
		}
		if len(sub.SelectionSet) > 0 {
			return nil, httperror.BadRequestf("%q: a mutation result selects entity fields only", sub.Name)
		}
		if _, ok := e.Field(sub.Name); !ok {
			return nil, httperror.BadRequestf("unknown field %q on entity %q", sub.Name, e.Name)
		}
		fields = append(fields, sub.Name)
	}
	return fields, nil
}

// deleteSelection is rowSelection without the field-name check: the
// delete engine validates the names itself under the delete grant.
func deleteSelection(doc *ast.QueryDocument, e *metadata.Entity, f *ast.Field) ([]string, error) {
	if len(f.SelectionSet) == 0 {
		return nil, nil
	}
	return rowSelection(doc, e, f)
}

// shapeProcedureRows trims procedure result rows to the selection.
// Procedure results have no declared shape, so a selected column the
// procedure did not return comes back null rather than failing.
func shapeProcedureRows(doc *ast.QueryDocument, f *ast.Field, rows json.RawMessage) (json.RawMessage, error) {
	if len(f.SelectionSet) == 0 {
		return rows, nil
	}
	flat, err := flattenSelections(doc, f.SelectionSet, nil)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(flat))
	for _, sub := range flat {
		if sub.Alias != sub.Name {
			return nil, httperror.BadRequestf("alias %q: aliases are only supported on root fields", sub.Alias)
		}
		if len(sub.SelectionSet) > 0 {
			return nil, httperror.BadRequestf("%q: a procedure result selects columns only", sub.Name)
		}
		names = append(names, sub.Name)
	}

	var items []map[string]json.RawMessage
	if err := json.Unmarshal(rows, &items); err != nil {
		return nil, httperror.Unexpected(fmt.Errorf("parsing procedure rows: %w", err))
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, row := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for j, name := range names {
			if j > 0 {
				buf.WriteByte(',')
			}
			writeKey(&buf, name)
			if v, ok := row[name]; ok {
				buf.Write(v)
			} else {
				buf.WriteString("null")
			}
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// filterArgument lowers a filter argument into the neutral filter tree.
// Document literals keep their entry order so identical requests compile
// identical SQL; variable-supplied filters are ordered by key instead.
func filterArgument(v *ast.Value, vars map[string]any) (request.Filter, error) {
	switch v.Kind {
	case ast.NullValue:
		return nil, nil
	case ast.Variable:
		resolved, err := v.Value(vars)
		if err != nil {
			return nil, httperror.BadRequestf("filter: %v", err)
		}
		if resolved == nil {
			return nil, nil
		}
		m, ok := resolved.(map[string]any)
		if !ok {
			return nil, httperror.BadRequest("filter must be an object")
		}
		return filterFromMap(m)
	case ast.ObjectValue:
		var items []request.Filter
		for _, child := range v.Children {
			f, err := filterEntry(child.Name, child.Value, vars)
			if err != nil {
				return nil, err
			}
			items = append(items, f)
		}
		return request.And(items...), nil
	}
	return nil, httperror.BadRequest("filter must be an object")
}

func filterEntry(name string, v *ast.Value, vars map[string]any) (request.Filter, error) {
	switch name {
	case "and", "or":
		subs, err := filterList(name, v, vars)
		if err != nil {
			return nil, err
		}
		if name == "and" {
			return request.And(subs...), nil
		}
		return request.Or(subs...), nil
	case "not":
		sub, err := filterArgument(v, vars)
		if err != nil {
			return nil, err
		}
		if sub == nil {
			return nil, httperror.BadRequest("not wants a filter object")
		}
		return request.NotFilter{Item: sub}, nil
	}
	return fieldCondition(name, v, vars)
}

func filterList(name string, v *ast.Value, vars map[string]any) ([]request.Filter, error) {
	switch v.Kind {
	case ast.ListValue:
		subs := make([]request.Filter, 0, len(v.Children))
		for _, child := range v.Children {
			sub, err := filterArgument(child.Value, vars)
			if err != nil {
				return nil, err
			}
			if sub != nil {
				subs = append(subs, sub)
			}
		}
		return subs, nil
	case ast.Variable:
		resolved, err := v.Value(vars)
		if err != nil {
			return nil, httperror.BadRequestf("filter: %v", err)
		}
		list, ok := resolved.([]any)
		if !ok {
			break
		}
		subs := make([]request.Filter, 0, len(list))
		for _, entry := range list {
			m, ok := entry.(map[string]any)
			if !ok {
				return nil, httperror.BadRequestf("%s wants a list of filter objects", name)
			}
			sub, err := filterFromMap(m)
			if err != nil {
				return nil, err
			}
			if sub != nil {
				subs = append(subs, sub)
			}
		}
		return subs, nil
	}
	return nil, httperror.BadRequestf("%s wants a list of filter objects", name)
}

// fieldCondition lowers one {field: {op: value}} entry.
func fieldCondition(field string, v *ast.Value, vars map[string]any) (request.Filter, error) {
	switch v.Kind {
	case ast.ObjectValue:
		var items []request.Filter
		for _, op := range v.Children {
			val, err := op.Value.Value(vars)
			if err != nil {
				return nil, httperror.BadRequestf("filter on %q: %v", field, err)
			}
			f, err := operatorFilter(field, op.Name, val)
			if err != nil {
				return nil, err
			}
			items = append(items, f)
		}
		if len(items) == 0 {
			return nil, httperror.BadRequestf("filter on %q names no operator", field)
		}
		return request.And(items...), nil
	case ast.Variable:
		resolved, err := v.Value(vars)
		if err != nil {
			return nil, httperror.BadRequestf("filter on %q: %v", field, err)
		}
		if m, ok := resolved.(map[string]any); ok {
			return operatorsFromMap(field, m)
		}
	}
	return nil, httperror.BadRequestf("filter on %q must be an operator object", field)
}

// filterFromMap lowers a variable-supplied filter object. Map iteration
// has no stable order, so entries are sorted by key.
func filterFromMap(m map[string]any) (request.Filter, error) {
	var items []request.Filter
	for _, name := range sortedKeys(m) {
		v := m[name]
		switch name {
		case "and", "or":
			list, ok := v.([]any)
			if !ok {
				return nil, httperror.BadRequestf("%s wants a list of filter objects", name)
			}
			var subs []request.Filter
			for _, entry := range list {
				sub, ok := entry.(map[string]any)
				if !ok {
					return nil, httperror.BadRequestf("%s wants a list of filter objects", name)
				}
				f, err := filterFromMap(sub)
				if err != nil {
					return nil, err
				}
				if f != nil {
					subs = append(subs, f)
				}
			}
			if name == "and" {
				items = append(items, request.And(subs...))
			} else {
				items = append(items, request.Or(subs...))
			}
		case "not":
			sub, ok := v.(map[string]any)
			if !ok {
				return nil, httperror.BadRequest("not wants a filter object")
			}
			f, err := filterFromMap(sub)
			if err != nil {
				return nil, err
			}
			if f == nil {
				return nil, httperror.BadRequest("not wants a filter object")
			}
			items = append(items, request.NotFilter{Item: f})
		default:
			ops, ok := v.(map[string]any)
			if !ok {
				return nil, httperror.BadRequestf("filter on %q must be an operator object", name)
			}
			f, err := operatorsFromMap(name, ops)
			if err != nil {
				return nil, err
			}
			items = append(items, f)
		}
	}
	return request.And(items...), nil
}

func operatorsFromMap(field string, ops map[string]any) (request.Filter, error) {
	if len(ops) == 0 {
		return nil, httperror.BadRequestf("filter on %q names no operator", field)
	}
	var items []request.Filter
	for _, op := range sortedKeys(ops) {
		f, err := operatorFilter(field, op, ops[op])
		if err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return request.And(items...), nil
}

// operatorFilter maps one GraphQL operator entry onto the neutral op
// set. isNull folds its boolean into the two null-check ops.
func operatorFilter(field, op string, value any) (request.Filter, error) {
	var mapped request.Op
	switch op {
	case "eq":
		mapped = request.OpEq
	case "neq":
		mapped = request.OpNeq
	case "gt":
		mapped = request.OpGt
	case "gte":
		mapped = request.OpGte
	case "lt":
		mapped = request.OpLt
	case "lte":
		mapped = request.OpLte
	case "like":
		mapped = request.OpLike
	case "notLike":
		mapped = request.OpNotLike
	case "contains":
		mapped = request.OpContains
	case "startsWith":
		mapped = request.OpStartsWith
	case "endsWith":
		mapped = request.OpEndsWith
	case "in":
		mapped = request.OpIn
	case "isNull":
		b, ok := value.(bool)
		if !ok {
			return nil, httperror.BadRequestf("filter on %q: isNull wants true or false", field)
		}
		if b {
			return request.FieldFilter{Field: field, Op: request.OpIsNull}, nil
		}
		return request.FieldFilter{Field: field, Op: request.OpIsNotNull}, nil
	default:
		return nil, httperror.BadRequestf("filter on %q: unknown operator %q", field, op)
	}
	return request.FieldFilter{Field: field, Op: mapped, Value: value}, nil
}

// orderByArgument reads an ordering argument. The entry order is the
// ordering itself, so only document literals are accepted: a variable
// reaches us as a Go map with its order lost.
func orderByArgument(v *ast.Value, vars map[string]any) ([]request.OrderField, error) {
	switch v.Kind {
	case ast.NullValue:
		return nil, nil
	case ast.Variable:
		resolved, err := v.Value(vars)
		if err != nil {
			return nil, httperror.BadRequestf("orderBy: %v", err)
		}
		if resolved == nil {
			return nil, nil
		}
		return nil, httperror.BadRequest("orderBy must be written in the document; a variable cannot keep its entry order")
	case ast.ObjectValue:
		out := make([]request.OrderField, 0, len(v.Children))
		for _, child := range v.Children {
			switch strings.ToUpper(child.Value.Raw) {
			case "ASC":
				out = append(out, request.OrderField{Field: child.Name})
			case "DESC":
				out = append(out, request.OrderField{Field: child.Name, Descending: true})
			default:
				return nil, httperror.BadRequestf("orderBy direction for %q must be ASC or DESC", child.Name)
			}
		}
		return out, nil
	}
	return nil, httperror.BadRequest("orderBy must be an object of field: ASC|DESC entries")
}

// boundedFirst applies the configured page bounds to a requested size.
// -1 asks for the largest page allowed.
func (s *Server) boundedFirst(name string, n int) (int, error) {
	switch {
	case n == -1:
		return s.maxPageSize, nil
	case n <= 0:
		return 0, httperror.BadRequestf("%s must be positive", name)
	case n > s.maxPageSize:
		return 0, httperror.BadRequestf("%s cannot exceed %d", name, s.maxPageSize)
	}
	return n, nil
}

// argValue resolves an argument literal or variable into a Go value.
func argValue(arg *ast.Argument, vars map[string]any) (any, error) {
	v, err := arg.Value.Value(vars)
	if err != nil {
		return nil, httperror.BadRequestf("argument %q: %v", arg.Name, err)
	}
	return v, nil
}

func intArg(name string, v any) (int, error) {
	switch n := v.(type) {
	case int64:
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, httperror.BadRequestf("argument %q must be an integer", name)
		}
		return int(i), nil
	}
	return 0, httperror.BadRequestf("argument %q must be an integer", name)
}

func stringArg(name string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", httperror.BadRequestf("argument %q must be a string", name)
	}
	return s, nil
}

func writeKey(buf *bytes.Buffer, name string) {
	raw, _ := json.Marshal(name)
	buf.Write(raw)
	buf.WriteByte(':')
}

func writeString(buf *bytes.Buffer, s string) {
	raw, _ := json.Marshal(s)
	buf.Write(raw)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
