package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/authcenter-go/internal/testutil"
	sserr "github.com/StricklySoft/authcenter-go/pkg/errors"
	"github.com/StricklySoft/authcenter-go/pkg/token"
)

func newEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator("proj-1")
	require.NoError(t, err)
	return e
}

func member() *token.Claims {
	return &token.Claims{
		Subject: "user-1",
		Roles:   map[string]string{"proj-1": "editor", "proj-2": "owner"},
		Permissions: map[string][]string{
			"proj-1": {"doc:write", "doc:*", "doc:write"},
			"proj-2": {"doc:read"},
		},
	}
}

func TestNewEvaluator_RequiresProject(t *testing.T) {
	t.Parallel()
	_, err := NewEvaluator("")
	testutil.RequireErrorCode(t, err, sserr.CodeValidationRequired)

	e := newEvaluator(t)
	assert.Equal(t, "proj-1", e.Project())
}

func TestHasPermission(t *testing.T) {
	t.Parallel()
	e := newEvaluator(t)
	c := member()

	tests := []struct {
		name       string
		permission string
		want       bool
	}{
		{name: "granted", permission: "doc:write", want: true},
		{name: "literal wildcard string", permission: "doc:*", want: true},
		{name: "sibling action", permission: "doc:read", want: false},
		{name: "no wildcard expansion", permission: "doc:delete", want: false},
		{name: "prefix is not a match", permission: "doc", want: false},
		{name: "other project only", permission: "doc:read", want: false},
		{name: "empty", permission: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, e.HasPermission(c, tt.permission))
		})
	}
}

func TestHasPermission_SuperAdmin(t *testing.T) {
	t.Parallel()
	e := newEvaluator(t)

	for _, c := range []*token.Claims{
		{SuperAdmin: true},
		{SuperAdmin: true, Permissions: map[string][]string{"proj-1": {}}},
		{SuperAdmin: true, Permissions: map[string][]string{"proj-9": {"x:read"}}},
	} {
		assert.True(t, e.HasPermission(c, "anything:at-all"))
		assert.True(t, e.HasRole(c, "owner"))
	}
}

func TestHasPermission_NilClaims(t *testing.T) {
	t.Parallel()
	e := newEvaluator(t)
	assert.False(t, e.HasPermission(nil, "doc:write"))
	assert.False(t, e.HasAllPermissions(nil))
	assert.False(t, e.HasAnyPermission(nil, "doc:write"))
	assert.False(t, e.HasRole(nil, "editor"))
	_, ok := e.Role(nil)
	assert.False(t, ok)
	assert.Equal(t, []string{}, e.Permissions(nil))
}

func TestHasAllAndAnyPermissions(t *testing.T) {
	t.Parallel()
	e := newEvaluator(t)
	c := member()

	assert.True(t, e.HasAllPermissions(c))
	assert.True(t, e.HasAllPermissions(c, "doc:write", "doc:*"))
	assert.False(t, e.HasAllPermissions(c, "doc:write", "doc:read"))

	assert.False(t, e.HasAnyPermission(c))
	assert.True(t, e.HasAnyPermission(c, "doc:read", "doc:write"))
	assert.False(t, e.HasAnyPermission(c, "doc:read", "admin"))
}

func TestHasRole(t *testing.T) {
	t.Parallel()
	e := newEvaluator(t)
	c := member()

	assert.True(t, e.HasRole(c, "editor"))
	assert.False(t, e.HasRole(c, "owner"))
	assert.False(t, e.HasRole(&token.Claims{}, ""))
}

func TestRole(t *testing.T) {
	t.Parallel()
	e := newEvaluator(t)

	role, ok := e.Role(member())
	assert.True(t, ok)
	assert.Equal(t, "editor", role)

	_, ok = e.Role(&token.Claims{Roles: map[string]string{"proj-2": "owner"}})
	assert.False(t, ok)
}

func TestPermissions(t *testing.T) {
	t.Parallel()
	e := newEvaluator(t)
	c := member()

	perms := e.Permissions(c)
	assert.Equal(t, []string{"doc:write", "doc:*"}, perms)

	perms[0] = "changed"
	assert.Equal(t, "doc:write", c.Permissions["proj-1"][0])

	assert.Equal(t, []string{}, e.Permissions(&token.Claims{Subject: "nobody"}))
}
