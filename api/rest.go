package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gateql/gateql/engine"
	"github.com/gateql/gateql/httperror"
	"github.com/gateql/gateql/metadata"
	"github.com/gateql/gateql/request"
)

// restEnvelope is the uniform REST response shape. Every success carries
// its rows under value, singular results as a one-element array, so
// clients read one shape everywhere.
type restEnvelope struct {
	Value    json.RawMessage `json:"value"`
	NextLink string          `json:"nextLink,omitempty"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	snap, qe, me := s.engines()
	e, ok := snap.Model.Entity(r.PathValue("entity"))
	if !ok {
		writeError(w, httperror.NotFoundf("unknown entity %q", r.PathValue("entity")), s.development)
		return
	}
	if e.Kind == metadata.SourceProcedure {
		params, err := procedureQueryParams(r.URL.Query())
		if err != nil {
			writeError(w, err, s.development)
			return
		}
		s.execProcedure(w, r, me, e.Name, params)
		return
	}

	req, err := s.listRequest(e.Name, r.URL.Query())
	if err != nil {
		writeError(w, err, s.development)
		return
	}
	role, claims := callerIdentity(r.Context())
	res, err := qe.Find(r.Context(), role, claims, req)
	if err != nil {
		writeError(w, err, s.development)
		return
	}
	env := restEnvelope{Value: res.Items}
	if res.HasNextPage {
		env.NextLink = nextLink(r, res.EndCursor)
	}
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	snap, qe, _ := s.engines()
	e, ok := snap.Model.Entity(r.PathValue("entity"))
	if !ok {
		writeError(w, httperror.NotFoundf("unknown entity %q", r.PathValue("entity")), s.development)
		return
	}
	keys, err := keyPath(r.PathValue("key"))
	if err != nil {
		writeError(w, err, s.development)
		return
	}

	q := r.URL.Query()
	for name := range q {
		if name != "$select" {
			writeError(w, httperror.BadRequestf("query parameter %q does not apply to a by-key read", name), s.development)
			return
		}
	}

	req := &request.FindRequest{Entity: e.Name, Fields: splitSelect(q.Get("$select")), Keys: keys}
	role, claims := callerIdentity(r.Context())
	res, err := qe.Find(r.Context(), role, claims, req)
	if err != nil {
		writeError(w, err, s.development)
		return
	}
	writeJSON(w, http.StatusOK, restEnvelope{Value: singleValue(res.Item)})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	snap, _, me := s.engines()
	e, ok := snap.Model.Entity(r.PathValue("entity"))
	if !ok {
		writeError(w, httperror.NotFoundf("unknown entity %q", r.PathValue("entity")), s.development)
		return
	}
	if e.Kind == metadata.SourceProcedure {
		params, err := decodeBody(r, true)
		if err != nil {
			writeError(w, err, s.development)
			return
		}
		s.execProcedure(w, r, me, e.Name, params)
		return
	}

	item, err := decodeBody(r, false)
	if err != nil {
		writeError(w, err, s.development)
		return
	}
	role, claims := callerIdentity(r.Context())
	res, err := me.Insert(r.Context(), role, claims, &request.InsertRequest{Entity: e.Name, Item: item})
	if err != nil {
		writeError(w, err, s.development)
		return
	}
	if loc := byKeyPath(e, res.Item); loc != "" {
		w.Header().Set("Location", loc)
	}
	writeJSON(w, http.StatusCreated, restEnvelope{Value: singleValue(res.Item)})
}

// handleReplace serves PUT: the body replaces the whole row, so absent
// nullable fields become explicit nulls and absent required fields are an
// error.
func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	s.handleUpsert(w, r, true)
}

// handlePatch serves PATCH: the body merges into the row, touching only
// the fields it names.
func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	s.handleUpsert(w, r, false)
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request, replace bool) {
	snap, _, me := s.engines()
	e, ok := snap.Model.Entity(r.PathValue("entity"))
	if !ok {
		writeError(w, httperror.NotFoundf("unknown entity %q", r.PathValue("entity")), s.development)
		return
	}
	keys, err := keyPath(r.PathValue("key"))
	if err != nil {
		writeError(w, err, s.development)
		return
	}
	updateOnly, err := updateOnlyPrecondition(r)
	if err != nil {
		writeError(w, err, s.development)
		return
	}
	item, err := decodeBody(r, false)
	if err != nil {
		writeError(w, err, s.development)
		return
	}
	if replace {
		if item, err = replaceItem(e, item); err != nil {
			writeError(w, err, s.development)
			return
		}
	}

	role, claims := callerIdentity(r.Context())
	res, err := me.Upsert(r.Context(), role, claims, &request.UpsertRequest{
		Entity:     e.Name,
		Keys:       keys,
		Item:       item,
		UpdateOnly: updateOnly,
	})
	if err != nil {
		writeError(w, err, s.development)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
		if loc := byKeyPath(e, res.Item); loc != "" {
			w.Header().Set("Location", loc)
		}
	}
	writeJSON(w, status, restEnvelope{Value: singleValue(res.Item)})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	snap, _, me := s.engines()
	e, ok := snap.Model.Entity(r.PathValue("entity"))
	if !ok {
		writeError(w, httperror.NotFoundf("unknown entity %q", r.PathValue("entity")), s.development)
		return
	}
	keys, err := keyPath(r.PathValue("key"))
	if err != nil {
		writeError(w, err, s.development)
		return
	}
	role, claims := callerIdentity(r.Context())
	if _, err := me.Delete(r.Context(), role, claims, &request.DeleteRequest{Entity: e.Name, Keys: keys}, nil); err != nil {
		writeError(w, err, s.development)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) execProcedure(w http.ResponseWriter, r *http.Request, me *engine.MutationEngine, entity string, params map[string]any) {
	role, claims := callerIdentity(r.Context())
	rows, err := me.Exec(r.Context(), role, claims, &request.ExecRequest{Entity: entity, Params: params})
	if err != nil {
		writeError(w, err, s.development)
		return
	}
	writeJSON(w, http.StatusOK, restEnvelope{Value: rows})
}

// listParams are the reserved query parameters of the list surface.
var listParams = map[string]bool{
	"$select":  true,
	"$filter":  true,
	"$orderby": true,
	"$first":   true,
	"$after":   true,
}

func (s *Server) listRequest(entity string, q url.Values) (*request.FindRequest, error) {
	for name := range q {
		if !listParams[name] {
			return nil, httperror.BadRequestf("unknown query parameter %q", name)
		}
	}

	req := &request.FindRequest{Entity: entity, Fields: splitSelect(q.Get("$select"))}

	if raw := q.Get("$filter"); raw != "" {
		f, err := request.ParseFilter(raw)
		if err != nil {
			return nil, httperror.BadRequestf("$filter: %v", err)
		}
		req.Filter = f
	}

	orderBy, err := parseOrderBy(q.Get("$orderby"))
	if err != nil {
		return nil, err
	}
	req.OrderBy = orderBy

	first, err := s.pageFirst(q.Get("$first"))
	if err != nil {
		return nil, err
	}
	req.First = first
	req.After = q.Get("$after")
	return req, nil
}

// pageFirst resolves the requested page size against the configured
// bounds.
func (s *Server) pageFirst(raw string) (int, error) {
	if raw == "" {
		return s.pageSize, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, httperror.BadRequestf("$first must be an integer, not %q", raw)
	}
	return s.boundedFirst("$first", n)
}

func splitSelect(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseOrderBy(raw string) ([]request.OrderField, error) {
	if raw == "" {
		return nil, nil
	}
	var out []request.OrderField
	for _, part := range strings.Split(raw, ",") {
		tokens := strings.Fields(part)
		switch len(tokens) {
		case 1:
			out = append(out, request.OrderField{Field: tokens[0]})
		case 2:
			switch strings.ToLower(tokens[1]) {
			case "asc":
				out = append(out, request.OrderField{Field: tokens[0]})
			case "desc":
				out = append(out, request.OrderField{Field: tokens[0], Descending: true})
			default:
				return nil, httperror.BadRequestf("$orderby direction must be asc or desc, not %q", tokens[1])
			}
		default:
			return nil, httperror.BadRequestf("$orderby entry %q: want field [asc|desc]", strings.TrimSpace(part))
		}
	}
	return out, nil
}

// keyPath parses the alternating field/value segments after the entity,
// /api/Book/id/7. Values stay strings; key coercion knows the declared
// types.
func keyPath(raw string) (map[string]any, error) {
	segments := strings.Split(raw, "/")
	if len(segments)%2 != 0 {
		return nil, httperror.BadRequest("the key path wants field/value pairs, like /api/Book/id/7")
	}
	keys := make(map[string]any, len(segments)/2)
	for i := 0; i < len(segments); i += 2 {
		name, value := segments[i], segments[i+1]
		if name == "" || value == "" {
			return nil, httperror.BadRequest("the key path wants field/value pairs, like /api/Book/id/7")
		}
		if _, dup := keys[name]; dup {
			return nil, httperror.BadRequestf("key field %q appears twice in the path", name)
		}
		keys[name] = value
	}
	return keys, nil
}

// procedureQueryParams lifts procedure parameters off the query string.
// Values stay strings; parameter coercion knows the declared types.
func procedureQueryParams(q url.Values) (map[string]any, error) {
	params := make(map[string]any, len(q))
	for name, values := range q {
		if strings.HasPrefix(name, "$") {
			return nil, httperror.BadRequestf("query parameter %q does not apply to a stored procedure", name)
		}
		if len(values) > 1 {
			return nil, httperror.BadRequestf("parameter %q given more than once", name)
		}
		params[name] = values[0]
	}
	return params, nil
}

// updateOnlyPrecondition reads the If-Match header. The any-version form
// suppresses the insert arm of an upsert; value etags are not supported.
func updateOnlyPrecondition(r *http.Request) (bool, error) {
	switch m := r.Header.Get("If-Match"); m {
	case "":
		return false, nil
	case "*":
		return true, nil
	default:
		return false, httperror.BadRequestf("only If-Match: * is supported, not %q", m)
	}
}

// replaceItem expands a replace body to every writable field. Key fields,
// read-only fields, and unknown names pass through untouched so the
// writing engine rejects them with its own message.
func replaceItem(e *metadata.Entity, item map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(e.Fields))
	for i := range e.Fields {
		f := &e.Fields[i]
		if f.ReadOnly || e.IsKeyField(f.Name) {
			continue
		}
		v, ok := item[f.Name]
		if !ok {
			if !f.Nullable {
				return nil, httperror.BadRequestf("a replace must supply field %q", f.Name)
			}
			out[f.Name] = nil
			continue
		}
		out[f.Name] = v
	}
	for name, v := range item {
		if _, ok := out[name]; !ok {
			out[name] = v
		}
	}
	return out, nil
}

// singleValue wraps one row document in the envelope's array form.
func singleValue(item json.RawMessage) json.RawMessage {
	out := make(json.RawMessage, 0, len(item)+2)
	out = append(out, '[')
	out = append(out, item...)
	return append(out, ']')
}

// nextLink rebuilds the request URL with the continuation cursor so a
// client can follow it verbatim.
func nextLink(r *http.Request, cursor string) string {
	u := *r.URL
	q := u.Query()
	q.Set("$after", cursor)
	u.RawQuery = q.Encode()
	u.Scheme = "http"
	if r.TLS != nil {
		u.Scheme = "https"
	}
	u.Host = r.Host
	return u.String()
}

// byKeyPath renders the by-key location of a written row, or "" when the
// readback is missing a key value.
func byKeyPath(e *metadata.Entity, item json.RawMessage) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil {
		return ""
	}
	var b strings.Builder
	b.WriteString("/api/")
	b.WriteString(url.PathEscape(e.Name))
	for _, kf := range e.KeyFields {
		raw, ok := fields[kf]
		if !ok {
			return ""
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return ""
		}
		b.WriteByte('/')
		b.WriteString(url.PathEscape(kf))
		b.WriteByte('/')
		b.WriteString(url.PathEscape(fmt.Sprintf("%v", v)))
	}
	return b.String()
}
