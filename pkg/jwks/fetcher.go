package jwks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	sserr "github.com/StricklySoft/authcenter-go/pkg/errors"
)

const tracerName = "github.com/StricklySoft/authcenter-go/pkg/jwks"

const (
	// DefaultFetchTimeout bounds a single key set request when the fetcher
	// builds its own HTTP client.
	DefaultFetchTimeout = 10 * time.Second

	maxDocumentSize = 1 << 20
)

// Fetcher retrieves the signing keys published at url.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]SigningKey, error)
}

// HTTPClient is the subset of *http.Client used by HTTPFetcher.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

var _ HTTPClient = (*http.Client)(nil)

// HTTPFetcher downloads a key set with a single GET and no retries. The
// response body is capped at 1 MiB.
type HTTPFetcher struct {
	client HTTPClient
	tracer trace.Tracer
	logger *zap.Logger
}

var _ Fetcher = (*HTTPFetcher)(nil)

// FetcherOption configures an HTTPFetcher.
type FetcherOption func(*HTTPFetcher)

// WithHTTPClient replaces the default client. The caller is then
// responsible for its timeout.
func WithHTTPClient(client HTTPClient) FetcherOption {
	return func(f *HTTPFetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithFetchTimeout sets the timeout of the default client.
func WithFetchTimeout(d time.Duration) FetcherOption {
	return func(f *HTTPFetcher) {
		f.client = &http.Client{Timeout: d}
	}
}

func WithFetcherLogger(logger *zap.Logger) FetcherOption {
	return func(f *HTTPFetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

func WithFetcherTracer(tracer trace.Tracer) FetcherOption {
	return func(f *HTTPFetcher) {
		if tracer != nil {
			f.tracer = tracer
		}
	}
}

// NewHTTPFetcher returns a fetcher using an *http.Client with
// DefaultFetchTimeout unless configured otherwise.
func NewHTTPFetcher(opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client: &http.Client{Timeout: DefaultFetchTimeout},
		tracer: otel.Tracer(tracerName),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch performs the request. Every failure, including a document with no
// usable keys, is returned as sserr.CodeAuthenticationKeyFetch.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]SigningKey, error) {
	ctx, span := startSpan(ctx, f.tracer, "jwks.Fetch")
	defer span.End()

	keys, err := f.fetch(ctx, url, span)
	if err != nil {
		finishSpan(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("jwks.key_count", len(keys)))
	return keys, nil
}

func (f *HTTPFetcher) fetch(ctx context.Context, url string, span trace.Span) ([]SigningKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, keyFetchError(err, url, "jwks: failed to create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, keyFetchError(err, url, "jwks: request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, keyFetchError(fmt.Errorf("unexpected status %d", resp.StatusCode), url,
			"jwks: endpoint returned a non-success status")
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, keyFetchError(err, url, "jwks: failed to read response")
	}

	keys, skipped, err := ParseSet(body)
	if err != nil {
		return nil, keyFetchError(err, url, "jwks: response is not a usable key set")
	}
	if skipped > 0 {
		f.logger.Warn("jwks: skipped unusable keys",
			zap.String("jwks_url", url),
			zap.Int("skipped", skipped),
			zap.Int("usable", len(keys)))
	}
	return keys, nil
}

func keyFetchError(err error, url, message string) *sserr.Error {
	return sserr.Wrap(err, sserr.CodeAuthenticationKeyFetch, message).WithDetail("jwks_url", url)
}

func startSpan(ctx context.Context, tracer trace.Tracer, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

func finishSpan(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
