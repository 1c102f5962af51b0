// Package gate turns bearer tokens into authorization decisions.
//
// A Gate composes a token verifier with a permission evaluator and reports
// one of three outcomes: authorized, rejected as unauthenticated, or
// rejected as forbidden. Rejections are values, not errors; Outcome.Err
// converts them when a transport needs one. TryAuth is the silent variant
// for streaming connections, where a structured rejection cannot be
// delivered and the caller simply closes the channel.
//
// HTTP and gRPC adapters live in http.go and grpc.go.
package gate

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	sserr "github.com/StricklySoft/authcenter-go/pkg/errors"
	"github.com/StricklySoft/authcenter-go/pkg/permission"
	"github.com/StricklySoft/authcenter-go/pkg/token"
)

// Verifier verifies a raw token. *token.Verifier implements it.
type Verifier interface {
	Verify(ctx context.Context, raw string) (*token.Claims, error)
}

var _ Verifier = (*token.Verifier)(nil)

// Reason says why a request was rejected.
type Reason string

const (
	ReasonUnauthenticated Reason = "unauthenticated"
	ReasonForbidden       Reason = "forbidden"
)

// Outcome is the result of a gate check. Only the gate constructs
// authorized outcomes; any other value, including the zero Outcome, is a
// rejection. Claims is set only when the request is authorized.
type Outcome struct {
	Claims *token.Claims
	Reason Reason

	// DecisionID correlates a rejection with its log entry.
	DecisionID string

	// Missing lists the permissions that were not granted.
	Missing []string

	authorized bool
	caller     *token.Claims
	cause      error
}

// Authorized reports whether the request may proceed.
func (o Outcome) Authorized() bool {
	return o.authorized && o.Claims != nil
}

// Caller returns the verified claims of the caller, for authorized and
// forbidden outcomes alike. It is nil when the token was rejected.
func (o Outcome) Caller() *token.Claims {
	if o.Authorized() {
		return o.Claims
	}
	return o.caller
}

// Err returns nil for an authorized outcome. Otherwise it returns an
// *sserr.Error with CodeAuthentication or CodeAuthorizationDenied. The
// verifier's specific failure is kept as the cause and never changes the
// code.
func (o Outcome) Err() error {
	if o.Authorized() {
		return nil
	}
	switch o.Reason {
	case ReasonForbidden:
		return sserr.Forbidden("gate: permission denied").
			WithDetail("decision_id", o.DecisionID).
			WithDetail("missing", o.Missing)
	default:
		if o.cause == nil {
			return sserr.Unauthenticated("gate: authentication required").
				WithDetail("decision_id", o.DecisionID)
		}
		return sserr.Wrap(o.cause, sserr.CodeAuthentication, "gate: authentication required").
			WithDetail("decision_id", o.DecisionID)
	}
}

// HTTPStatus maps the outcome to 200, 401 or 403.
func (o Outcome) HTTPStatus() int {
	if o.Authorized() {
		return http.StatusOK
	}
	switch o.Reason {
	case ReasonForbidden:
		return http.StatusForbidden
	default:
		return http.StatusUnauthorized
	}
}

// Observer is notified of every decision. reason is empty when authorized.
type Observer interface {
	DecisionMade(reason Reason)
}

type nopObserver struct{}

func (nopObserver) DecisionMade(Reason) {}

// Gate is safe for concurrent use.
type Gate struct {
	verifier   Verifier
	evaluator  *permission.Evaluator
	extraction Extraction
	logger     *zap.Logger
	observer   Observer
}

// Option configures a Gate.
type Option func(*Gate)

func WithLogger(logger *zap.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithObserver(o Observer) Option {
	return func(g *Gate) {
		if o != nil {
			g.observer = o
		}
	}
}

// WithExtraction overrides the cookie and query parameter names used by
// the HTTP adapter.
func WithExtraction(ex Extraction) Option {
	return func(g *Gate) { g.extraction = ex }
}

// New returns a Gate. Both arguments are required.
func New(v Verifier, e *permission.Evaluator, opts ...Option) (*Gate, error) {
	if v == nil {
		return nil, sserr.New(sserr.CodeValidationRequired, "gate: verifier is required")
	}
	if e == nil {
		return nil, sserr.New(sserr.CodeValidationRequired, "gate: permission evaluator is required")
	}
	g := &Gate{
		verifier:   v,
		evaluator:  e,
		extraction: DefaultExtraction(),
		logger:     zap.NewNop(),
		observer:   nopObserver{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Evaluator returns the permission evaluator the gate checks against.
func (g *Gate) Evaluator() *permission.Evaluator {
	return g.evaluator
}

// RequireAuth verifies raw. Any verification failure, including an empty
// token, yields ReasonUnauthenticated.
func (g *Gate) RequireAuth(ctx context.Context, raw string) Outcome {
	claims, err := g.authenticate(ctx, raw)
	if err != nil {
		return g.reject(ReasonUnauthenticated, err, nil)
	}
	return g.allow(claims)
}

// RequirePermission verifies raw and checks that permission is granted in
// the evaluator's project.
func (g *Gate) RequirePermission(ctx context.Context, raw, permission string) Outcome {
	return g.RequirePermissions(ctx, raw, permission)
}

// RequirePermissions is RequirePermission for several permissions, all of
// which must be granted. With no permissions it behaves like RequireAuth.
func (g *Gate) RequirePermissions(ctx context.Context, raw string, permissions ...string) Outcome {
	claims, err := g.authenticate(ctx, raw)
	if err != nil {
		return g.reject(ReasonUnauthenticated, err, nil)
	}

	var missing []string
	for _, p := range permissions {
		if !g.evaluator.HasPermission(claims, p) {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		o := g.reject(ReasonForbidden, nil, missing)
		o.caller = claims
		return o
	}
	return g.allow(claims)
}

// TryAuth verifies raw and reports the claims, or false on any failure.
// It never returns an error.
func (g *Gate) TryAuth(ctx context.Context, raw string) (*token.Claims, bool) {
	o := g.RequireAuth(ctx, raw)
	return o.Claims, o.Authorized()
}

func (g *Gate) authenticate(ctx context.Context, raw string) (*token.Claims, error) {
	if raw == "" {
		return nil, sserr.Unauthenticated("gate: no bearer token presented")
	}
	return g.verifier.Verify(ctx, raw)
}

func (g *Gate) allow(claims *token.Claims) Outcome {
	g.observer.DecisionMade("")
	return Outcome{Claims: claims, authorized: claims != nil}
}

func (g *Gate) reject(reason Reason, cause error, missing []string) Outcome {
	id := uuid.NewString()
	g.observer.DecisionMade(reason)

	fields := []zap.Field{
		zap.String("decision_id", id),
		zap.String("reason", string(reason)),
		zap.String("project", g.evaluator.Project()),
	}
	if cause != nil {
		fields = append(fields, zap.String("code", sserr.GetCode(cause).String()), zap.Error(cause))
	}
	if len(missing) > 0 {
		fields = append(fields, zap.Strings("missing", missing))
	}
	g.logger.Debug("gate: request rejected", fields...)

	return Outcome{Reason: reason, DecisionID: id, Missing: missing, cause: cause}
}
