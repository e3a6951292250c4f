package rbac

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

const wildcard = "*"

var (
	// ErrCycle is returned when a role write would introduce an inheritance
	// cycle. Cycles are rejected at write time; resolution assumes a DAG.
	ErrCycle = errors.New("role inheritance cycle detected")
	// ErrUnknownParent is returned when a role references a parent that does
	// not exist in the graph.
	ErrUnknownParent = errors.New("unknown parent role")
	// ErrInvalidPermission is returned for permission strings not shaped as
	// resource:action.
	ErrInvalidPermission = errors.New("invalid permission format")
)

// Condition restricts a permission to requests whose context carries equal
// values for every listed key.
type Condition map[string]string

// Permission grants actions on resources via a resource:action pattern where
// either segment may be the wildcard "*". An attached Condition must evaluate
// true against the request context for the grant to apply.
type Permission struct {
	Pattern    string
	Conditions Condition
}

// Role is a named permission set with optional parent roles. Effective
// permissions are the union of the role's own grants and all ancestors'.
type Role struct {
	Name        string
	Description string
	Permissions []Permission
	Parents     []string
}

// Decision is returned by [Engine.Check].
type Decision struct {
	Allowed bool
	Reason  string
}

// Engine resolves role names to effective permissions and evaluates
// permission checks. Role writes validate the inheritance graph; reads never
// mutate state and are safe for concurrent use.
type Engine struct {
	mu    sync.RWMutex
	roles map[string]Role
}

// NewEngine returns an empty engine.
func NewEngine() *Engine {
	return &Engine{roles: make(map[string]Role)}
}

// ParsePermission validates and normalizes a resource:action string.
func ParsePermission(s string) (Permission, error) {
	resource, action, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found || resource == "" || action == "" {
		return Permission{}, fmt.Errorf("%w: %q", ErrInvalidPermission, s)
	}
	return Permission{Pattern: resource + ":" + action}, nil
}

// Load replaces the entire role set after validating every permission string
// and the acyclicity of the inheritance graph.
func (e *Engine) Load(roles []Role) error {
	next := make(map[string]Role, len(roles))
	for _, role := range roles {
		if role.Name == "" {
			return errors.New("role name required")
		}
		if err := validatePermissions(role.Permissions); err != nil {
			return fmt.Errorf("role %q: %w", role.Name, err)
		}
		next[role.Name] = role
	}

	if err := validateGraph(next); err != nil {
		return err
	}

	e.mu.Lock()
	e.roles = next
	e.mu.Unlock()
	return nil
}

// Upsert adds or replaces a single role. The write is rejected if a parent is
// unknown or the resulting graph would contain a cycle.
func (e *Engine) Upsert(role Role) error {
	if role.Name == "" {
		return errors.New("role name required")
	}
	if err := validatePermissions(role.Permissions); err != nil {
		return fmt.Errorf("role %q: %w", role.Name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]Role, len(e.roles)+1)
	for name, r := range e.roles {
		next[name] = r
	}
	next[role.Name] = role

	if err := validateGraph(next); err != nil {
		return err
	}

	e.roles = next
	return nil
}

// Delete removes a role. Roles inheriting from it keep the dangling parent
// reference, which resolution skips.
func (e *Engine) Delete(name string) {
	e.mu.Lock()
	delete(e.roles, name)
	e.mu.Unlock()
}

// Role returns the named role.
func (e *Engine) Role(name string) (Role, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	role, ok := e.roles[name]
	return role, ok
}

// Roles returns all roles sorted by name.
func (e *Engine) Roles() []Role {
	e.mu.RLock()
	out := make([]Role, 0, len(e.roles))
	for _, role := range e.roles {
		out = append(out, role)
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resolve walks the inheritance graph from each named role through all
// ancestors and unions their permissions. Unknown role names are skipped.
// The graph is assumed acyclic; writes enforce that.
func (e *Engine) Resolve(roleNames []string) []Permission {
	e.mu.RLock()
	defer e.mu.RUnlock()

	seen := make(map[string]struct{})
	dedupe := make(map[string]struct{})
	var out []Permission

	var walk func(name string)
	walk = func(name string) {
		if _, done := seen[name]; done {
			return
		}
		seen[name] = struct{}{}

		role, ok := e.roles[name]
		if !ok {
			return
		}
		for _, perm := range role.Permissions {
			key := permKey(perm)
			if _, dup := dedupe[key]; dup {
				continue
			}
			dedupe[key] = struct{}{}
			out = append(out, perm)
		}
		for _, parent := range role.Parents {
			walk(parent)
		}
	}

	for _, name := range roleNames {
		walk(name)
	}

	sort.Slice(out, func(i, j int) bool { return permKey(out[i]) < permKey(out[j]) })
	return out
}

// Check matches resource:action against the held permissions. A permission
// carrying conditions only grants access when every condition key equals the
// corresponding request-context value. Check never mutates state.
func (e *Engine) Check(perms []Permission, resource, action string, reqCtx map[string]string) Decision {
	var conditionMiss bool

	for _, perm := range perms {
		if !matchPattern(perm.Pattern, resource, action) {
			continue
		}
		if !conditionsHold(perm.Conditions, reqCtx) {
			conditionMiss = true
			continue
		}
		return Decision{Allowed: true, Reason: "granted by " + perm.Pattern}
	}

	if conditionMiss {
		return Decision{Reason: "permission conditions not met"}
	}
	return Decision{Reason: "no matching permission"}
}

// PermissionStrings returns the unconditional permission patterns, suitable
// for embedding as a token claim snapshot. Conditional grants are excluded
// because they cannot be evaluated without request context.
func PermissionStrings(perms []Permission) []string {
	out := make([]string, 0, len(perms))
	for _, perm := range perms {
		if len(perm.Conditions) > 0 {
			continue
		}
		out = append(out, perm.Pattern)
	}
	return out
}

func matchPattern(pattern, resource, action string) bool {
	permResource, permAction, found := strings.Cut(pattern, ":")
	if !found {
		return false
	}
	return matchSegment(permResource, resource) && matchSegment(permAction, action)
}

func matchSegment(pattern, value string) bool {
	return pattern == wildcard || pattern == value
}

func conditionsHold(conds Condition, reqCtx map[string]string) bool {
	for key, want := range conds {
		if reqCtx[key] != want {
			return false
		}
	}
	return true
}

func validatePermissions(perms []Permission) error {
	for _, perm := range perms {
		if _, err := ParsePermission(perm.Pattern); err != nil {
			return err
		}
	}
	return nil
}

func permKey(perm Permission) string {
	if len(perm.Conditions) == 0 {
		return perm.Pattern
	}

	keys := make([]string, 0, len(perm.Conditions))
	for k := range perm.Conditions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(perm.Pattern)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(perm.Conditions[k])
	}
	return b.String()
}

func validateGraph(roles map[string]Role) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(roles))

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case gray:
			return fmt.Errorf("%w: via %q", ErrCycle, name)
		case black:
			return nil
		}
		color[name] = gray

		for _, parent := range roles[name].Parents {
			if _, ok := roles[parent]; !ok {
				return fmt.Errorf("%w: %q inherits %q", ErrUnknownParent, name, parent)
			}
			if err := visit(parent); err != nil {
				return err
			}
		}

		color[name] = black
		return nil
	}

	for name := range roles {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}
