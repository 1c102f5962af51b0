// Package permission answers project-scoped questions about verified claims.
//
// An Evaluator is bound to one project at construction. Super-admins pass
// every check. Permissions match by exact string equality only: "doc:*"
// in a token grants "doc:*" and nothing else.
package permission

import (
	"slices"

	sserr "github.com/StricklySoft/authcenter-go/pkg/errors"
	"github.com/StricklySoft/authcenter-go/pkg/token"
)

// Evaluator is immutable and safe for concurrent use.
type Evaluator struct {
	project string
}

// NewEvaluator binds an Evaluator to project.
func NewEvaluator(project string) (*Evaluator, error) {
	if project == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "permission: project is required")
	}
	return &Evaluator{project: project}, nil
}

// Project returns the bound project identifier.
func (e *Evaluator) Project() string {
	return e.project
}

// HasPermission reports whether c grants permission in the bound project.
func (e *Evaluator) HasPermission(c *token.Claims, permission string) bool {
	if c == nil {
		return false
	}
	if c.SuperAdmin {
		return true
	}
	return slices.Contains(c.Permissions[e.project], permission)
}

// HasAllPermissions reports whether every permission is granted. It is
// true for an empty list when c is non-nil.
func (e *Evaluator) HasAllPermissions(c *token.Claims, permissions ...string) bool {
	if c == nil {
		return false
	}
	for _, p := range permissions {
		if !e.HasPermission(c, p) {
			return false
		}
	}
	return true
}

// HasAnyPermission reports whether at least one permission is granted.
func (e *Evaluator) HasAnyPermission(c *token.Claims, permissions ...string) bool {
	return slices.ContainsFunc(permissions, func(p string) bool {
		return e.HasPermission(c, p)
	})
}

// HasRole reports whether c holds role in the bound project.
func (e *Evaluator) HasRole(c *token.Claims, role string) bool {
	if c == nil {
		return false
	}
	if c.SuperAdmin {
		return true
	}
	held, ok := c.Roles[e.project]
	return ok && held == role
}

// Role returns the role held in the bound project.
func (e *Evaluator) Role(c *token.Claims) (string, bool) {
	return c.Role(e.project)
}

// Permissions returns the distinct permissions granted in the bound project,
// in token order. The result is never nil and never aliases c.
func (e *Evaluator) Permissions(c *token.Claims) []string {
	out := []string{}
	if c == nil {
		return out
	}
	for _, p := range c.Permissions[e.project] {
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}
