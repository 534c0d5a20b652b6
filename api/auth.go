package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gateql/gateql/httperror"
	"github.com/gateql/gateql/logging"
)

// Built-in roles. Every unauthenticated request acts as anonymous; every
// request with a valid token may act as authenticated without the token
// naming it.
const (
	AnonymousRole     = "anonymous"
	AuthenticatedRole = "authenticated"
)

type claimsKey struct{}

// callerIdentity returns the role and claims the middleware resolved.
func callerIdentity(ctx context.Context) (string, map[string]any) {
	role, _ := ctx.Value(logging.RoleKey).(string)
	if role == "" {
		role = AnonymousRole
	}
	claims, _ := ctx.Value(claimsKey{}).(map[string]any)
	return role, claims
}

// authenticate resolves the caller's role and claims and stores them in
// the request context. The role rides the logging key so the request log
// lines carry it.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, claims, err := s.identity(r)
		if err != nil {
			writeError(w, err, s.development)
			return
		}
		ctx := context.WithValue(r.Context(), logging.RoleKey, role)
		ctx = context.WithValue(ctx, claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// identity derives the caller's role and claims from the request. With a
// bearer token the claims come from the token and the role header picks
// one of the roles the token grants. Without one the caller is anonymous,
// except in development mode where the role header is trusted outright.
func (s *Server) identity(r *http.Request) (string, map[string]any, error) {
	requested := r.Header.Get(s.roleHeader)

	token, ok := bearerToken(r)
	if !ok {
		if s.development && requested != "" {
			return requested, map[string]any{}, nil
		}
		return AnonymousRole, map[string]any{}, nil
	}

	if len(s.jwtSecret) == 0 {
		return "", nil, httperror.Unauthorized("bearer tokens are not accepted: no jwt-secret is configured")
	}
	claims, err := s.verifyToken(token)
	if err != nil {
		return "", nil, err
	}

	role := requested
	if role == "" {
		role = AuthenticatedRole
	}
	if err := roleGranted(role, claims); err != nil {
		return "", nil, err
	}
	return role, claims, nil
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

// verifyToken checks the token signature against the shared secret and
// returns its claims. Only the HMAC family is accepted.
func (s *Server) verifyToken(token string) (map[string]any, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return s.jwtSecret, nil },
		jwt.WithValidMethods([]string{
			jwt.SigningMethodHS256.Alg(),
			jwt.SigningMethodHS384.Alg(),
			jwt.SigningMethodHS512.Alg(),
		}),
	)
	if err != nil {
		return nil, httperror.Wrap(http.StatusUnauthorized, "invalid bearer token", err)
	}
	return map[string]any(claims), nil
}

// roleGranted checks a requested role against the token's roles claim.
// The built-in roles need no claim.
func roleGranted(role string, claims map[string]any) error {
	if role == AnonymousRole || role == AuthenticatedRole {
		return nil
	}
	switch granted := claims["roles"].(type) {
	case []any:
		for _, g := range granted {
			if name, ok := g.(string); ok && strings.EqualFold(name, role) {
				return nil
			}
		}
	case string:
		if strings.EqualFold(granted, role) {
			return nil
		}
	}
	return httperror.Forbiddenf("the token does not grant the role %q", role)
}
