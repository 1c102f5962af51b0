package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/authcenter-go/internal/testutil"
	sserr "github.com/StricklySoft/authcenter-go/pkg/errors"
)

type result struct {
	stdout string
	stderr string
	err    error
}

func run(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := cmd.ExecuteContext(t.Context())
	return result{stdout: out.String(), stderr: errOut.String(), err: err}
}

func authorityFlags(a *testutil.Authority) []string {
	return []string{"--jwks-url", a.URL(), "--project", "proj-1"}
}

func TestKeys_Text(t *testing.T) {
	a := testutil.NewAuthority(t)
	a.AddRSAKey(t, "rsa-1")
	a.AddKey(a.GenerateECKey(t, "ec-1"))

	r := run(t, "", append(authorityFlags(a), "keys")...)
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, a.URL())
	assert.Contains(t, r.stdout, "rsa-1")
	assert.Contains(t, r.stdout, "ec-1")
	assert.Contains(t, r.stdout, "KID")
}

func TestKeys_JSON(t *testing.T) {
	a := testutil.NewAuthority(t)
	a.AddRSAKey(t, "rsa-1")

	r := run(t, "", append(authorityFlags(a), "keys", "-o", "json")...)
	require.NoError(t, r.err)

	var view keysView
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &view))
	require.Len(t, view.Keys, 1)
	assert.Equal(t, "rsa-1", view.Keys[0].KeyID)
	assert.Equal(t, "RSA", view.Keys[0].KeyType)
	assert.False(t, view.FetchedAt.IsZero())
}

func TestKeys_AuthorityDown(t *testing.T) {
	a := testutil.NewAuthority(t)
	a.SetStatus(http.StatusBadGateway)

	r := run(t, "", append(authorityFlags(a), "keys")...)
	testutil.RequireErrorCode(t, r.err, sserr.CodeAuthenticationKeyFetch)
	assert.Equal(t, exitUnauthenticated, exitCode(r.err))
}

func TestVerify_FromArgument(t *testing.T) {
	a := testutil.NewAuthority(t)
	k := a.AddRSAKey(t, "k1")
	claims := a.Claims("user-1")
	claims["email"] = "user@example.com"
	claims["roles"] = map[string]any{"proj-1": "editor"}
	claims["permissions"] = map[string]any{"proj-1": []string{"doc:read"}}

	r := run(t, "", append(authorityFlags(a), "verify", a.Sign(t, k, claims))...)
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "user-1")
	assert.Contains(t, r.stdout, "user@example.com")
	assert.Contains(t, r.stdout, "editor")
	assert.Contains(t, r.stdout, "doc:read")
}

func TestVerify_FromStdinJSON(t *testing.T) {
	a := testutil.NewAuthority(t)
	k := a.AddRSAKey(t, "k1")
	claims := a.Claims("user-2")
	claims["permissions"] = map[string]any{"proj-1": []string{"a", "b", "a"}}

	r := run(t, a.Sign(t, k, claims)+"\n", append(authorityFlags(a), "verify", "-o", "json")...)
	require.NoError(t, r.err)

	var view claimsView
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &view))
	assert.Equal(t, "user-2", view.Subject)
	assert.Equal(t, "proj-1", view.Project)
	assert.Equal(t, []string{"a", "b"}, view.Permissions)
}

func TestVerify_Rejected(t *testing.T) {
	a := testutil.NewAuthority(t)
	a.AddRSAKey(t, "k1")
	other := a.GenerateRSAKey(t, "k1")

	r := run(t, "", append(authorityFlags(a), "verify", a.Sign(t, other, a.Claims("user-1")))...)
	testutil.RequireErrorCode(t, r.err, sserr.CodeAuthenticationSignature)
	assert.Equal(t, exitUnauthenticated, exitCode(r.err))
	assert.Empty(t, r.stdout)
}

func TestVerify_NoToken(t *testing.T) {
	a := testutil.NewAuthority(t)
	r := run(t, "", append(authorityFlags(a), "verify")...)
	testutil.RequireErrorCode(t, r.err, sserr.CodeValidationRequired)
	assert.Equal(t, 0, a.Fetches())
}

func TestVerify_IssuerFlag(t *testing.T) {
	a := testutil.NewAuthority(t)
	k := a.AddRSAKey(t, "k1")
	raw := a.Sign(t, k, a.Claims("user-1"))

	r := run(t, "", append(authorityFlags(a), "--issuer", "someone-else", "verify", raw)...)
	testutil.RequireErrorCode(t, r.err, sserr.CodeAuthenticationIssuer)
}

func TestCheck(t *testing.T) {
	a := testutil.NewAuthority(t)
	k := a.AddRSAKey(t, "k1")
	claims := a.Claims("user-1")
	claims["permissions"] = map[string]any{"proj-1": []string{"doc:read"}}
	raw := a.Sign(t, k, claims)

	t.Run("authorized", func(t *testing.T) {
		r := run(t, "", append(authorityFlags(a), "check", "-p", "doc:read", raw)...)
		require.NoError(t, r.err)
		assert.Contains(t, r.stdout, "authorized: user-1")
	})

	t.Run("forbidden", func(t *testing.T) {
		r := run(t, "", append(authorityFlags(a), "check", "-p", "doc:read", "-p", "doc:write", "-o", "json", raw)...)
		require.Error(t, r.err)
		assert.Equal(t, exitForbidden, exitCode(r.err))

		var view decisionView
		require.NoError(t, json.Unmarshal([]byte(r.stdout), &view))
		assert.False(t, view.Authorized)
		assert.Equal(t, "forbidden", view.Reason)
		assert.Equal(t, string(sserr.CodeAuthorizationDenied), view.Code)
		assert.Equal(t, []string{"doc:write"}, view.Missing)
		assert.NotEmpty(t, view.DecisionID)
	})

	t.Run("any of", func(t *testing.T) {
		r := run(t, "", append(authorityFlags(a), "check", "--any", "-p", "doc:read", "-p", "doc:write", raw)...)
		require.NoError(t, r.err)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		r := run(t, "", append(authorityFlags(a), "check", "-p", "doc:read", "not-a-token")...)
		require.Error(t, r.err)
		assert.Equal(t, exitUnauthenticated, exitCode(r.err))
		assert.Contains(t, r.stdout, "unauthenticated")
	})
}

func TestConfigFromFileAndFlags(t *testing.T) {
	a := testutil.NewAuthority(t)
	a.AddRSAKey(t, "k1")
	path := testutil.TempFile(t, "authcheck.yaml", "jwks_url: "+a.URL()+"\nproject_id: from-file\n")

	r := run(t, "", "--config", path, "keys")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "k1")

	o := &globalOptions{configFile: path, project: "from-flag"}
	cfg, err := o.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.ProjectID)
	assert.Equal(t, a.URL(), cfg.JWKSURL)
}

func TestMissingConfiguration(t *testing.T) {
	r := run(t, "", "--project", "p", "keys")
	testutil.RequireErrorCode(t, r.err, sserr.CodeValidationRequired)
	assert.Equal(t, exitError, exitCode(r.err))
}

func TestInvalidOutput(t *testing.T) {
	r := run(t, "", "--output", "xml", "keys")
	testutil.RequireErrorCode(t, r.err, sserr.CodeValidation)
}
