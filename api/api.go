// Package api hosts the REST and GraphQL fronts. Both fronts reduce what
// they parse to the neutral request model and hand it to the engines; no
// SQL concern lives here. Handlers resolve the entity model and the
// permission set from the config store on every request, so a hot reload
// applies to the next request without a restart.
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gateql/gateql/config"
	"github.com/gateql/gateql/engine"
	"github.com/gateql/gateql/execute"
	"github.com/gateql/gateql/httperror"
	"github.com/gateql/gateql/logging"
)

// Server wires the HTTP fronts to the engines.
type Server struct {
	Store *config.Store
	DB    *execute.Executor
	Log   *slog.Logger

	development bool
	roleHeader  string
	jwtSecret   []byte
	pageSize    int
	maxPageSize int
}

// NewServer builds a server from the boot configuration. Entity and
// permission changes flow in through the store; the remaining settings
// are fixed for the life of the process.
func NewServer(cfg *config.Config, store *config.Store, db *execute.Executor, log *slog.Logger) *Server {
	return &Server{
		Store:       store,
		DB:          db,
		Log:         log,
		development: cfg.Development,
		roleHeader:  cfg.RoleHeader,
		jwtSecret:   cfg.JWTSecret,
		pageSize:    cfg.PageSize,
		maxPageSize: cfg.MaxPageSize,
	}
}

// Handler returns the route table behind the authentication and request
// logging middleware. Authentication runs first so the request log lines
// carry the resolved role.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /graphql", s.handleGraphQL)
	mux.HandleFunc("GET /api/{entity}", s.handleList)
	mux.HandleFunc("POST /api/{entity}", s.handleCreate)
	mux.HandleFunc("GET /api/{entity}/{key...}", s.handleRead)
	mux.HandleFunc("PUT /api/{entity}/{key...}", s.handleReplace)
	mux.HandleFunc("PATCH /api/{entity}/{key...}", s.handlePatch)
	mux.HandleFunc("DELETE /api/{entity}/{key...}", s.handleDelete)
	return s.authenticate(logging.Decorate([]string{"/healthz"}, s.Log, mux))
}

// engines builds the request-scoped engines over the current snapshot.
// Engines are plain structs; building them per request is what makes a
// config swap take effect atomically.
func (s *Server) engines() (*config.Snapshot, *engine.QueryEngine, *engine.MutationEngine) {
	snap := s.Store.Current()
	qe := engine.NewQueryEngine(snap.Model, snap.Auth, s.DB, s.Log)
	me := engine.NewMutationEngine(snap.Model, snap.Auth, s.DB, s.Log)
	return snap, qe, me
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.DB.DB.PingContext(r.Context()); err != nil {
		writeError(w, httperror.Wrap(http.StatusServiceUnavailable, "database unreachable", err), s.development)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps an error through the taxonomy and writes it. verbose
// exposes the cause chain and is only ever set in development mode.
func writeError(w http.ResponseWriter, err error, verbose bool) {
	status, message := httperror.Response(err, verbose)
	writeJSON(w, status, errorBody{Error: errorDetail{Status: status, Message: message}})
}

// maxBodyBytes bounds request bodies; a row document never needs more.
const maxBodyBytes = 1 << 20

// decodeBody reads a JSON object body. Numbers stay json.Number so big
// integer keys keep their precision through field coercion. An absent
// body decodes to an empty map when allowEmpty is set.
func decodeBody(r *http.Request, allowEmpty bool) (map[string]any, error) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, httperror.Wrap(http.StatusBadRequest, "reading request body", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		if allowEmpty {
			return map[string]any{}, nil
		}
		return nil, httperror.BadRequest("a JSON object body is required")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var item map[string]any
	if err := dec.Decode(&item); err != nil {
		return nil, httperror.BadRequestf("the request body is not a JSON object: %v", err)
	}
	return item, nil
}
