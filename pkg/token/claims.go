package token

import (
	"maps"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the verified payload of a token. It shares no memory with the
// key set or with any other Claims value.
type Claims struct {
	Subject   string
	Issuer    string
	Audience  []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	NotBefore time.Time

	Name    string
	Email   string
	Picture string

	// Roles maps a project identifier to the role held in it.
	Roles map[string]string

	// Permissions maps a project identifier to the permissions granted in it.
	Permissions map[string][]string

	// SuperAdmin bypasses every project-scoped check.
	SuperAdmin bool
}

// Role returns the role held in project.
func (c *Claims) Role(project string) (string, bool) {
	if c == nil {
		return "", false
	}
	r, ok := c.Roles[project]
	return r, ok
}

// ProjectPermissions returns a copy of the permissions granted in project.
func (c *Claims) ProjectPermissions(project string) []string {
	if c == nil {
		return nil
	}
	return slices.Clone(c.Permissions[project])
}

// Clone returns a deep copy.
func (c *Claims) Clone() *Claims {
	if c == nil {
		return nil
	}
	out := *c
	out.Audience = slices.Clone(c.Audience)
	out.Roles = maps.Clone(c.Roles)
	if c.Permissions != nil {
		out.Permissions = make(map[string][]string, len(c.Permissions))
		for project, perms := range c.Permissions {
			out.Permissions[project] = slices.Clone(perms)
		}
	}
	return &out
}

// payload is the wire form of the token body.
type payload struct {
	jwt.RegisteredClaims
	Name        string              `json:"name,omitempty"`
	Email       string              `json:"email,omitempty"`
	Picture     string              `json:"picture,omitempty"`
	Roles       map[string]string   `json:"roles,omitempty"`
	Permissions map[string][]string `json:"permissions,omitempty"`
	SuperAdmin  bool                `json:"super_admin,omitempty"`
}

func numericTime(d *jwt.NumericDate) time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time
}

func (p *payload) claims() *Claims {
	c := Claims{
		Subject:     p.Subject,
		Issuer:      p.Issuer,
		Audience:    p.Audience,
		IssuedAt:    numericTime(p.IssuedAt),
		ExpiresAt:   numericTime(p.ExpiresAt),
		NotBefore:   numericTime(p.NotBefore),
		Name:        p.Name,
		Email:       p.Email,
		Picture:     p.Picture,
		Roles:       p.Roles,
		Permissions: p.Permissions,
		SuperAdmin:  p.SuperAdmin,
	}
	return c.Clone()
}
