// Package authorize decides what a role may do to an entity and under
// which row and field restrictions. Decisions are deny-by-default: a
// role/entity/action combination nobody granted is not permitted. Row
// restrictions are database policies, filter expressions that the engine
// merges into every statement it compiles; field restrictions narrow the
// set of entity fields the role may read or write.
package authorize

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/gateql/gateql/httperror"
	"github.com/gateql/gateql/request"
)

// Action is a permission-checked operation kind. Upserts have no action
// of their own: the engine requires create and update both, since either
// arm may run.
type Action string

const (
	ActionCreate  Action = "create"
	ActionRead    Action = "read"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionExecute Action = "execute"
)

// Rule is the restriction attached to one granted action.
type Rule struct {
	// Policy further restricts which rows the role touches, in the shared
	// filter grammar. May reference @item.field and @claims.name; empty
	// means no row restriction.
	Policy string
	// Fields restricts which entity fields the role may use with this
	// action. Empty means every field.
	Fields []string
}

// Resolver holds the granted permissions of every role.
type Resolver struct {
	grants map[string]map[string]map[Action]Rule
}

func NewResolver() *Resolver {
	return &Resolver{grants: make(map[string]map[string]map[Action]Rule)}
}

// Grant permits an action for a role on an entity key.
func (r *Resolver) Grant(role, entity string, action Action, rule Rule) {
	byEntity := r.grants[role]
	if byEntity == nil {
		byEntity = make(map[string]map[Action]Rule)
		r.grants[role] = byEntity
	}
	byAction := byEntity[entity]
	if byAction == nil {
		byAction = make(map[Action]Rule)
		byEntity[entity] = byAction
	}
	byAction[action] = rule
}

func (r *Resolver) rule(role, entity string, action Action) (Rule, bool) {
	rule, ok := r.grants[role][entity][action]
	return rule, ok
}

// Permitted reports whether the role was granted the action.
func (r *Resolver) Permitted(role, entity string, action Action) bool {
	_, ok := r.rule(role, entity, action)
	return ok
}

// AllowedFields returns the field names the role may use with the action,
// or nil when the grant carries no field restriction.
func (r *Resolver) AllowedFields(role, entity string, action Action) map[string]bool {
	rule, ok := r.rule(role, entity, action)
	if !ok || len(rule.Fields) == 0 {
		return nil
	}
	fields := make(map[string]bool, len(rule.Fields))
	for _, f := range rule.Fields {
		fields[f] = true
	}
	return fields
}

// Policy returns the parsed row restriction of a grant with the caller's
// claims substituted in, or nil when the grant has none.
func (r *Resolver) Policy(role, entity string, action Action, claims map[string]any) (request.Filter, error) {
	rule, ok := r.rule(role, entity, action)
	if !ok || rule.Policy == "" {
		return nil, nil
	}

	substituted, err := SubstituteClaims(rule.Policy, claims)
	if err != nil {
		return nil, err
	}
	f, err := request.ParseFilter(substituted)
	if err != nil {
		// The request did nothing wrong; the configured policy is broken.
		return nil, httperror.Wrapf(http.StatusInternalServerError, err,
			"database policy for role %q on %q does not parse", role, entity)
	}
	return f, nil
}

var claimRef = regexp.MustCompile(`@claims\.[A-Za-z_][A-Za-z0-9_]*`)

// ValidatePolicy checks that a policy template parses under the filter
// grammar. Claim references are substituted with a placeholder literal,
// so the check covers the expression structure without any caller claims.
func ValidatePolicy(policy string) error {
	if policy == "" {
		return nil
	}
	substituted := claimRef.ReplaceAllString(policy, "0")
	if _, err := request.ParseFilter(substituted); err != nil {
		return err
	}
	return nil
}

// SubstituteClaims replaces @claims.name references in a policy template
// with literals from the caller's claims. Values are re-quoted for the
// filter grammar, so claim content can never change the expression
// structure. A referenced claim the caller does not carry fails closed.
func SubstituteClaims(policy string, claims map[string]any) (string, error) {
	var substErr error
	out := claimRef.ReplaceAllStringFunc(policy, func(ref string) string {
		name := strings.TrimPrefix(ref, "@claims.")
		value, ok := claims[name]
		if !ok {
			if substErr == nil {
				substErr = httperror.Forbiddenf("access policy references the claim %q, which the request does not carry", name)
			}
			return ref
		}
		lit, err := claimLiteral(value)
		if err != nil {
			if substErr == nil {
				substErr = err
			}
			return ref
		}
		return lit
	})
	if substErr != nil {
		return "", substErr
	}
	return out, nil
}

// claimLiteral renders a claim value as a filter-grammar literal.
func claimLiteral(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'", nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", httperror.Forbiddenf("claim value of type %T cannot appear in an access policy", value)
	}
}
