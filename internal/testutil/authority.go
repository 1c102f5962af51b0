package testutil

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// DefaultIssuer is the iss value the fake authority puts in its tokens.
const DefaultIssuer = "auth-center"

// AuthorityKey is a signing key held by an Authority. Use and Alg are the
// values published in the JWK; tests may change them before AddKey.
type AuthorityKey struct {
	KID     string
	Alg     string
	Use     string
	Method  jwt.SigningMethod
	Private crypto.Signer
}

// JWK returns the public JWK representation of k.
func (k *AuthorityKey) JWK() map[string]any {
	entry := map[string]any{}
	if k.KID != "" {
		entry["kid"] = k.KID
	}
	if k.Alg != "" {
		entry["alg"] = k.Alg
	}
	if k.Use != "" {
		entry["use"] = k.Use
	}

	b64 := base64.RawURLEncoding.EncodeToString
	switch pub := k.Private.Public().(type) {
	case *rsa.PublicKey:
		entry["kty"] = "RSA"
		entry["n"] = b64(pub.N.Bytes())
		entry["e"] = b64(big.NewInt(int64(pub.E)).Bytes())
	case *ecdsa.PublicKey:
		size := (pub.Curve.Params().BitSize + 7) / 8
		entry["kty"] = "EC"
		entry["crv"] = pub.Curve.Params().Name
		entry["x"] = b64(pub.X.FillBytes(make([]byte, size)))
		entry["y"] = b64(pub.Y.FillBytes(make([]byte, size)))
	case ed25519.PublicKey:
		entry["kty"] = "OKP"
		entry["crv"] = "Ed25519"
		entry["x"] = b64(pub)
	}
	return entry
}

// Authority is an httptest server playing the identity authority: it
// publishes a JWKS document, counts fetches and signs tokens. Its key list
// and failure mode can be changed while tests run.
type Authority struct {
	Issuer string

	srv     *httptest.Server
	fetches atomic.Int64

	mu      sync.RWMutex
	entries []map[string]any
	status  int
	body    []byte
	delay   time.Duration
	gate    chan struct{}
}

// NewAuthority starts an authority with no keys. The server is closed
// when the test finishes.
func NewAuthority(t testing.TB) *Authority {
	t.Helper()
	a := &Authority{Issuer: DefaultIssuer}
	a.srv = httptest.NewServer(http.HandlerFunc(a.serveJWKS))
	t.Cleanup(a.srv.Close)
	return a
}

func (a *Authority) serveJWKS(w http.ResponseWriter, r *http.Request) {
	a.fetches.Add(1)

	a.mu.RLock()
	status, body, delay, gate := a.status, a.body, a.delay, a.gate
	doc, err := json.Marshal(map[string]any{"keys": a.entries})
	a.mu.RUnlock()

	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if body != nil {
		doc = body
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(doc)
}

// URL is the JWKS endpoint.
func (a *Authority) URL() string {
	return a.srv.URL + "/.well-known/jwks.json"
}

// Fetches returns how many JWKS requests the server has received.
func (a *Authority) Fetches() int {
	return int(a.fetches.Load())
}

// GenerateRSAKey creates an RS256 key without publishing it.
func (a *Authority) GenerateRSAKey(t testing.TB, kid string) *AuthorityKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "failed to generate RSA key")
	return &AuthorityKey{KID: kid, Alg: "RS256", Use: "sig", Method: jwt.SigningMethodRS256, Private: priv}
}

// GenerateECKey creates a P-256 ES256 key without publishing it.
func (a *Authority) GenerateECKey(t testing.TB, kid string) *AuthorityKey {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err, "failed to generate ECDSA key")
	return &AuthorityKey{KID: kid, Alg: "ES256", Use: "sig", Method: jwt.SigningMethodES256, Private: priv}
}

// GenerateEd25519Key creates an EdDSA key without publishing it.
func (a *Authority) GenerateEd25519Key(t testing.TB, kid string) *AuthorityKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err, "failed to generate Ed25519 key")
	return &AuthorityKey{KID: kid, Alg: "EdDSA", Use: "sig", Method: jwt.SigningMethodEdDSA, Private: priv}
}

// AddRSAKey generates and publishes an RS256 key.
func (a *Authority) AddRSAKey(t testing.TB, kid string) *AuthorityKey {
	t.Helper()
	k := a.GenerateRSAKey(t, kid)
	a.AddKey(k)
	return k
}

// AddKey appends k to the published key list.
func (a *Authority) AddKey(k *AuthorityKey) {
	a.AddRawJWK(k.JWK())
}

// AddRawJWK appends an arbitrary JWK entry, e.g. a symmetric or malformed key.
func (a *Authority) AddRawJWK(entry map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

// RemoveKey unpublishes every entry with the given kid.
func (a *Authority) RemoveKey(kid string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.entries[:0]
	for _, e := range a.entries {
		if e["kid"] != kid {
			kept = append(kept, e)
		}
	}
	a.entries = kept
}

// SetStatus makes the endpoint answer with status; 0 restores normal service.
func (a *Authority) SetStatus(status int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = status
}

// SetBody overrides the response body; nil restores the generated document.
func (a *Authority) SetBody(body []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.body = body
}

// SetDelay delays every response by d.
func (a *Authority) SetDelay(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delay = d
}

// Hold blocks responses until the returned release function is called.
func (a *Authority) Hold() (release func()) {
	gate := make(chan struct{})
	a.mu.Lock()
	a.gate = gate
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			a.gate = nil
			a.mu.Unlock()
			close(gate)
		})
	}
}

// Claims returns a valid claim set for subject: issued now, expiring in an
// hour, issued by a.Issuer.
func (a *Authority) Claims(subject string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"sub": subject,
		"iss": a.Issuer,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
}

// Sign signs claims with k. The kid header is set when k.KID is non-empty.
func (a *Authority) Sign(t testing.TB, k *AuthorityKey, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(k.Method, claims)
	if k.KID != "" {
		tok.Header["kid"] = k.KID
	}
	raw, err := tok.SignedString(k.Private)
	require.NoError(t, err, "failed to sign token")
	return raw
}

// SignWithKID signs claims with k but declares kid in the header.
func (a *Authority) SignWithKID(t testing.TB, k *AuthorityKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(k.Method, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	raw, err := tok.SignedString(k.Private)
	require.NoError(t, err, "failed to sign token")
	return raw
}

// SignHMAC produces an HS256 token, which a verifier must never accept.
func SignHMAC(t testing.TB, secret []byte, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	raw, err := tok.SignedString(secret)
	require.NoError(t, err, "failed to sign HMAC token")
	return raw
}

// SignNone produces an unsigned alg=none token.
func SignNone(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err, "failed to build unsigned token")
	return raw
}
