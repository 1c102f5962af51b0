package jwks

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/StricklySoft/authcenter-go/internal/testutil"
	sserr "github.com/StricklySoft/authcenter-go/pkg/errors"
)

type failingClient struct{ err error }

func (c failingClient) Do(*http.Request) (*http.Response, error) { return nil, c.err }

func TestHTTPFetcher_Fetch_ParsesAllKeyTypes(t *testing.T) {
	t.Parallel()
	authority := testutil.NewAuthority(t)
	authority.AddRSAKey(t, "rsa-1")
	authority.AddKey(authority.GenerateECKey(t, "ec-1"))
	authority.AddKey(authority.GenerateEd25519Key(t, "ed-1"))

	keys, err := NewHTTPFetcher().Fetch(context.Background(), authority.URL())
	require.NoError(t, err)
	require.Len(t, keys, 3)
	assert.Equal(t, []string{"RSA", "EC", "OKP"}, []string{keys[0].KeyType, keys[1].KeyType, keys[2].KeyType})
	assert.Equal(t, 1, authority.Fetches())
}

func TestNewHTTPFetcher_NilOptionsKeepDefaults(t *testing.T) {
	t.Parallel()
	authority := testutil.NewAuthority(t)
	authority.AddRSAKey(t, "rsa-1")

	f := NewHTTPFetcher(WithHTTPClient(nil), WithFetcherLogger(nil), WithFetcherTracer(nil))
	keys, err := f.Fetch(context.Background(), authority.URL())
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestHTTPFetcher_Fetch_LogsSkippedKeys(t *testing.T) {
	t.Parallel()
	authority := testutil.NewAuthority(t)
	authority.AddRawJWK(map[string]any{"kty": "oct", "kid": "hmac", "k": "c2VjcmV0"})
	authority.AddRSAKey(t, "rsa-1")

	core, logs := observer.New(zap.WarnLevel)
	keys, err := NewHTTPFetcher(WithFetcherLogger(zap.New(core))).Fetch(context.Background(), authority.URL())
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	entries := logs.FilterMessage("jwks: skipped unusable keys").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].ContextMap()["skipped"])
}

func TestHTTPFetcher_Fetch_Failures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		setup func(a *testutil.Authority)
	}{
		{"server error", func(a *testutil.Authority) { a.SetStatus(http.StatusInternalServerError) }},
		{"not found", func(a *testutil.Authority) { a.SetStatus(http.StatusNotFound) }},
		{"malformed body", func(a *testutil.Authority) { a.SetBody([]byte("<html>")) }},
		{"missing keys member", func(a *testutil.Authority) { a.SetBody([]byte(`{"issuer":"x"}`)) }},
		{"no usable keys", func(a *testutil.Authority) {
			a.AddRawJWK(map[string]any{"kty": "oct", "k": "c2VjcmV0"})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			authority := testutil.NewAuthority(t)
			tt.setup(authority)

			_, err := NewHTTPFetcher().Fetch(context.Background(), authority.URL())
			testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationKeyFetch)
			e, _ := sserr.AsError(err)
			assert.Equal(t, authority.URL(), e.Details["jwks_url"])
		})
	}
}

func TestHTTPFetcher_Fetch_TransportError(t *testing.T) {
	t.Parallel()
	dialErr := errors.New("connection refused")
	_, err := NewHTTPFetcher(WithHTTPClient(failingClient{err: dialErr})).
		Fetch(context.Background(), "https://auth.invalid/jwks")

	testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationKeyFetch)
	assert.ErrorIs(t, err, dialErr)
}

func TestHTTPFetcher_Fetch_Timeout(t *testing.T) {
	t.Parallel()
	authority := testutil.NewAuthority(t)
	authority.AddRSAKey(t, "k1")
	authority.SetDelay(200 * time.Millisecond)

	_, err := NewHTTPFetcher(WithFetchTimeout(20*time.Millisecond)).Fetch(context.Background(), authority.URL())
	testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationKeyFetch)
}

func TestHTTPFetcher_Fetch_RecordsSpan(t *testing.T) {
	t.Parallel()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	authority := testutil.NewAuthority(t)
	authority.AddRSAKey(t, "k1")
	fetcher := NewHTTPFetcher(WithFetcherTracer(tp.Tracer(tracerName)))

	_, err := fetcher.Fetch(context.Background(), authority.URL())
	require.NoError(t, err)

	authority.SetStatus(http.StatusBadGateway)
	_, err = fetcher.Fetch(context.Background(), authority.URL())
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "jwks.Fetch", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.Int("jwks.key_count", 1))
	assert.Contains(t, spans[1].Attributes(), attribute.Int("http.status_code", http.StatusBadGateway))
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
