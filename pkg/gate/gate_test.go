package gate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/StricklySoft/authcenter-go/internal/testutil"
	sserr "github.com/StricklySoft/authcenter-go/pkg/errors"
	"github.com/StricklySoft/authcenter-go/pkg/permission"
	"github.com/StricklySoft/authcenter-go/pkg/token"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

// mockVerifier accepts the tokens in valid and rejects everything else
// with err, or with a signature error when err is nil.
type mockVerifier struct {
	valid map[string]*token.Claims
	err   error
	calls int
	mu    sync.Mutex
}

func (m *mockVerifier) Verify(_ context.Context, raw string) (*token.Claims, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if c, ok := m.valid[raw]; ok {
		return c, nil
	}
	if m.err != nil {
		return nil, m.err
	}
	return nil, sserr.New(sserr.CodeAuthenticationSignature, "token: signature is invalid")
}

type recordingObserver struct {
	mu      sync.Mutex
	reasons []Reason
}

func (o *recordingObserver) DecisionMade(r Reason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reasons = append(o.reasons, r)
}

func editorClaims() *token.Claims {
	return &token.Claims{
		Subject:     "user-42",
		Roles:       map[string]string{"proj-1": "editor"},
		Permissions: map[string][]string{"proj-1": {"doc:read", "doc:write"}},
	}
}

func newTestGate(t *testing.T, opts ...Option) (*Gate, *mockVerifier) {
	t.Helper()
	v := &mockVerifier{valid: map[string]*token.Claims{
		"editor-token": editorClaims(),
		"admin-token":  {Subject: "root", SuperAdmin: true},
	}}
	e, err := permission.NewEvaluator("proj-1")
	require.NoError(t, err)
	g, err := New(v, e, opts...)
	require.NoError(t, err)
	return g, v
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()
	e, err := permission.NewEvaluator("proj-1")
	require.NoError(t, err)

	_, err = New(nil, e)
	testutil.RequireErrorCode(t, err, sserr.CodeValidationRequired)

	_, err = New(&mockVerifier{}, nil)
	testutil.RequireErrorCode(t, err, sserr.CodeValidationRequired)
}

// ---------------------------------------------------------------------------
// RequireAuth / RequirePermission
// ---------------------------------------------------------------------------

func TestRequireAuth(t *testing.T) {
	t.Parallel()
	g, v := newTestGate(t)

	o := g.RequireAuth(context.Background(), "editor-token")
	require.True(t, o.Authorized())
	assert.Equal(t, "user-42", o.Claims.Subject)
	assert.Same(t, o.Claims, o.Caller())
	assert.NoError(t, o.Err())
	assert.Equal(t, http.StatusOK, o.HTTPStatus())

	o = g.RequireAuth(context.Background(), "garbage")
	assert.False(t, o.Authorized())
	assert.Equal(t, ReasonUnauthenticated, o.Reason)
	assert.Nil(t, o.Claims)
	assert.Nil(t, o.Caller())
	assert.NotEmpty(t, o.DecisionID)
	assert.Equal(t, http.StatusUnauthorized, o.HTTPStatus())

	err := o.Err()
	testutil.RequireErrorCode(t, err, sserr.CodeAuthentication)
	assert.True(t, sserr.HasCode(errorsCause(err), sserr.CodeAuthenticationSignature))

	o = g.RequireAuth(context.Background(), "")
	assert.Equal(t, ReasonUnauthenticated, o.Reason)
	assert.Equal(t, 2, v.calls, "empty token never reaches the verifier")
}

// errorsCause returns the cause of an *sserr.Error.
func errorsCause(err error) error {
	e, ok := sserr.AsError(err)
	if !ok {
		return nil
	}
	return e.Cause
}

func TestRequireAuth_EveryVerifierFailureIsUnauthenticated(t *testing.T) {
	t.Parallel()

	for _, code := range []sserr.Code{
		sserr.CodeAuthenticationExpired,
		sserr.CodeAuthenticationMalformed,
		sserr.CodeAuthenticationIssuer,
		sserr.CodeAuthenticationNoKey,
		sserr.CodeAuthenticationKeyFetch,
	} {
		e, err := permission.NewEvaluator("proj-1")
		require.NoError(t, err)
		g, err := New(&mockVerifier{err: sserr.New(code, "rejected")}, e)
		require.NoError(t, err)

		o := g.RequirePermission(context.Background(), "tok", "doc:read")
		assert.Equal(t, ReasonUnauthenticated, o.Reason, code)
		testutil.RequireErrorCode(t, o.Err(), sserr.CodeAuthentication)
	}
}

func TestRequirePermission(t *testing.T) {
	t.Parallel()
	g, _ := newTestGate(t)

	tests := []struct {
		name       string
		raw        string
		permission string
		want       Reason
	}{
		{name: "granted", raw: "editor-token", permission: "doc:write"},
		{name: "not granted", raw: "editor-token", permission: "doc:delete", want: ReasonForbidden},
		{name: "super admin", raw: "admin-token", permission: "doc:delete"},
		{name: "bad token", raw: "nope", permission: "doc:read", want: ReasonUnauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			o := g.RequirePermission(context.Background(), tt.raw, tt.permission)
			assert.Equal(t, tt.want, o.Reason)
		})
	}
}

func TestRequirePermissions_Forbidden(t *testing.T) {
	t.Parallel()
	g, _ := newTestGate(t)

	o := g.RequirePermissions(context.Background(), "editor-token", "doc:read", "doc:delete", "doc:share")
	require.Equal(t, ReasonForbidden, o.Reason)
	assert.Equal(t, []string{"doc:delete", "doc:share"}, o.Missing)
	assert.Nil(t, o.Claims, "only authorized outcomes carry claims")
	require.NotNil(t, o.Caller())
	assert.Equal(t, "user-42", o.Caller().Subject)
	assert.Equal(t, http.StatusForbidden, o.HTTPStatus())

	err := o.Err()
	testutil.RequireErrorCode(t, err, sserr.CodeAuthorizationDenied)
	assert.True(t, sserr.IsAuthorization(err))

	o = g.RequirePermissions(context.Background(), "editor-token")
	assert.True(t, o.Authorized())
}

// ---------------------------------------------------------------------------
// TryAuth
// ---------------------------------------------------------------------------

func TestTryAuth(t *testing.T) {
	t.Parallel()
	g, _ := newTestGate(t)

	claims, ok := g.TryAuth(context.Background(), "editor-token")
	require.True(t, ok)
	assert.Equal(t, "user-42", claims.Subject)

	claims, ok = g.TryAuth(context.Background(), "expired")
	assert.False(t, ok)
	assert.Nil(t, claims)

	_, ok = g.TryAuth(context.Background(), "")
	assert.False(t, ok)
}

// ---------------------------------------------------------------------------
// Logging and observation
// ---------------------------------------------------------------------------

func TestReject_LogsDecisionID(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zap.DebugLevel)
	obs := &recordingObserver{}
	g, _ := newTestGate(t, WithLogger(zap.New(core)), WithObserver(obs))

	o := g.RequirePermission(context.Background(), "editor-token", "doc:delete")
	g.RequireAuth(context.Background(), "editor-token")

	entries := logs.FilterMessage("gate: request rejected").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, o.DecisionID, fields["decision_id"])
	assert.Equal(t, "forbidden", fields["reason"])
	assert.Equal(t, "proj-1", fields["project"])

	assert.Equal(t, []Reason{ReasonForbidden, ""}, obs.reasons)
}

func TestOutcome_ZeroRejection(t *testing.T) {
	t.Parallel()
	o := Outcome{Reason: ReasonUnauthenticated}
	testutil.RequireErrorCode(t, o.Err(), sserr.CodeAuthentication)
}

func TestOutcome_ZeroValueIsUnauthenticated(t *testing.T) {
	t.Parallel()
	var o Outcome
	assert.False(t, o.Authorized())
	assert.Nil(t, o.Caller())
	assert.Equal(t, http.StatusUnauthorized, o.HTTPStatus())
	testutil.RequireErrorCode(t, o.Err(), sserr.CodeAuthentication)

	o = Outcome{Claims: &token.Claims{Subject: "forged"}}
	assert.False(t, o.Authorized(), "claims alone do not authorize")
	assert.Equal(t, http.StatusUnauthorized, o.HTTPStatus())

	rec := httptest.NewRecorder()
	writeRejection(rec, Outcome{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), sserr.CodeAuthentication.String())
}
