package gate

import (
	"encoding/json"
	"net/http"
	"strings"

	sserr "github.com/StricklySoft/authcenter-go/pkg/errors"
	"github.com/StricklySoft/authcenter-go/pkg/token"
)

const (
	// DefaultCookieName is the cookie the authority's web login sets.
	DefaultCookieName = "ac_access"

	// DefaultQueryParam carries the token for clients that cannot set
	// headers, such as browser WebSocket handshakes.
	DefaultQueryParam = "token"

	headerAuthorization = "Authorization"
	bearerPrefix        = "Bearer "
)

// Extraction names the fallback token locations. An empty name disables
// that location.
type Extraction struct {
	CookieName string
	QueryParam string
}

// DefaultExtraction returns the cookie and query parameter names the
// authority's clients use.
func DefaultExtraction() Extraction {
	return Extraction{CookieName: DefaultCookieName, QueryParam: DefaultQueryParam}
}

// ExtractBearerToken returns the token from an Authorization header value,
// or "" if it is not a bearer credential. The scheme is case-insensitive.
func ExtractBearerToken(header string) string {
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(header[len(bearerPrefix):])
}

// ExtractToken finds the token in r. The first location present wins:
// the Authorization bearer value, then the cookie, then the query
// parameter.
func ExtractToken(r *http.Request, ex Extraction) string {
	if raw := ExtractBearerToken(r.Header.Get(headerAuthorization)); raw != "" {
		return raw
	}
	if ex.CookieName != "" {
		if c, err := r.Cookie(ex.CookieName); err == nil && c.Value != "" {
			return c.Value
		}
	}
	if ex.QueryParam != "" {
		if raw := r.URL.Query().Get(ex.QueryParam); raw != "" {
			return raw
		}
	}
	return ""
}

// Middleware rejects requests without a valid token with 401 and stores
// the claims in the request context otherwise.
func (g *Gate) Middleware() func(http.Handler) http.Handler {
	return g.RequirePermissionMiddleware()
}

// RequirePermissionMiddleware is Middleware that also requires every
// listed permission, answering 403 when one is missing.
func (g *Gate) RequirePermissionMiddleware(permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			o := g.RequirePermissions(r.Context(), ExtractToken(r, g.extraction), permissions...)
			if !o.Authorized() {
				writeRejection(w, o)
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithClaims(r.Context(), o.Claims)))
		})
	}
}

// TryAuthRequest is TryAuth applied to the token found in r.
func (g *Gate) TryAuthRequest(r *http.Request) (*token.Claims, bool) {
	return g.TryAuth(r.Context(), ExtractToken(r, g.extraction))
}

type errorBody struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	DecisionID string `json:"decision_id,omitempty"`
}

// writeRejection writes the JSON error body. The verifier's failure detail
// stays in the log and is not sent to the client.
func writeRejection(w http.ResponseWriter, o Outcome) {
	body := errorBody{Error: "authentication required", Code: sserr.CodeAuthentication.String(), DecisionID: o.DecisionID}
	if o.Reason == ReasonForbidden {
		body.Error = "permission denied"
		body.Code = sserr.CodeAuthorizationDenied.String()
	} else {
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(o.HTTPStatus())
	_ = json.NewEncoder(w).Encode(body)
}
