// Package rbac implements role-based access control: resource:action
// permission strings with per-segment wildcards, optional equality conditions
// evaluated against request context, role inheritance over a write-validated
// DAG, and an explicitly invalidated per-user resolution cache.
package rbac
