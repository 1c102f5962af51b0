package gate

import (
	"context"

	"github.com/StricklySoft/authcenter-go/pkg/token"
)

// contextKey is unexported so no other package can collide with it.
type contextKey int

const claimsKey contextKey = iota

// ContextWithClaims attaches verified claims to ctx.
func ContextWithClaims(ctx context.Context, claims *token.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// ClaimsFromContext returns the claims stored by the middleware or
// interceptors. It never returns non-nil claims with false.
func ClaimsFromContext(ctx context.Context) (*token.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*token.Claims)
	return claims, ok && claims != nil
}
