package clavis

import (
	"context"
	"errors"
	"fmt"

	"github.com/clavisauth/clavis/rbac"
)

// CheckPermission evaluates whether userID may perform action on resource.
// reqCtx supplies values for conditional grants, e.g. {"owner_id": "u1"};
// it may be nil. The resolved permission set is cached per user.
func (e *Engine) CheckPermission(ctx context.Context, userID, resource, action string, reqCtx map[string]string) (rbac.Decision, error) {
	if err := e.checkOpen(); err != nil {
		return rbac.Decision{}, err
	}
	e.metrics.Inc(MetricPermissionChecks)

	perms, err := e.resolvePermissions(ctx, userID)
	if err != nil {
		return rbac.Decision{}, err
	}

	decision := e.rbac.Check(perms, resource, action, reqCtx)
	if !decision.Allowed {
		e.metrics.Inc(MetricPermissionDenied)
	}
	return decision, nil
}

// Authorize is CheckPermission folded to an error: nil on allow,
// [ErrPermissionDenied] otherwise. Denials are audited.
func (e *Engine) Authorize(ctx context.Context, userID, resource, action string, reqCtx map[string]string) error {
	decision, err := e.CheckPermission(ctx, userID, resource, action, reqCtx)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		e.emitAudit(ctx, EventPermissionDenied, userID, "", false, nil, map[string]string{
			"resource": resource,
			"action":   action,
			"reason":   decision.Reason,
		})
		return fmt.Errorf("%w: %s", ErrPermissionDenied, decision.Reason)
	}
	return nil
}

// UpsertRole creates or replaces a role definition, validating permission
// syntax and graph acyclicity, and writes through to the role store. Any
// user may be affected, so the whole permission cache is purged.
func (e *Engine) UpsertRole(ctx context.Context, role rbac.Role) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	if err := e.rbac.Upsert(role); err != nil {
		return err
	}
	if err := e.roleStore.SaveRole(ctx, role); err != nil {
		// The in-memory graph accepted the role; reload from the store so
		// both views agree again.
		e.reloadRoles(ctx)
		return ErrStoreUnavailable
	}

	e.permCache.Purge()
	e.emitAudit(ctx, EventRoleChange, "", "", true, nil, map[string]string{"role": role.Name})
	return nil
}

// DeleteRole removes a role definition.
func (e *Engine) DeleteRole(ctx context.Context, name string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	if _, ok := e.rbac.Role(name); !ok {
		return ErrRoleNotFound
	}

	e.rbac.Delete(name)
	if err := e.roleStore.DeleteRole(ctx, name); err != nil {
		e.reloadRoles(ctx)
		return ErrStoreUnavailable
	}

	e.permCache.Purge()
	e.emitAudit(ctx, EventRoleChange, "", "", true, nil, map[string]string{
		"role":    name,
		"deleted": "true",
	})
	return nil
}

// Roles lists all role definitions sorted by name.
func (e *Engine) Roles() []rbac.Role {
	return e.rbac.Roles()
}

// AssignRole grants a role to a user and invalidates their cached
// permissions so the change is visible on the next check.
func (e *Engine) AssignRole(ctx context.Context, userID, roleName string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if _, ok := e.rbac.Role(roleName); !ok {
		return ErrRoleNotFound
	}

	if err := e.users.AssignRole(ctx, userID, roleName); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return ErrStoreUnavailable
	}

	e.permCache.Invalidate(userID)
	e.emitAudit(ctx, EventRoleAssign, userID, "", true, nil, map[string]string{"role": roleName})
	return nil
}

// RevokeRole removes a role from a user.
func (e *Engine) RevokeRole(ctx context.Context, userID, roleName string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}

	if err := e.users.RevokeRole(ctx, userID, roleName); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrUserNotFound
		}
		return ErrStoreUnavailable
	}

	e.permCache.Invalidate(userID)
	e.emitAudit(ctx, EventRoleAssign, userID, "", true, nil, map[string]string{
		"role":    roleName,
		"revoked": "true",
	})
	return nil
}

func (e *Engine) reloadRoles(ctx context.Context) {
	defs, err := e.roleStore.Roles(ctx)
	if err != nil {
		e.log.WithError(err).Error("role reload failed")
		return
	}
	if err := e.rbac.Load(defs); err != nil {
		e.log.WithError(err).Error("role reload rejected")
		return
	}
	e.permCache.Purge()
}
