package authcenter

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	sserr "github.com/StricklySoft/authcenter-go/pkg/errors"
	"github.com/StricklySoft/authcenter-go/pkg/gate"
	"github.com/StricklySoft/authcenter-go/pkg/jwks"
	"github.com/StricklySoft/authcenter-go/pkg/metrics"
	"github.com/StricklySoft/authcenter-go/pkg/permission"
	"github.com/StricklySoft/authcenter-go/pkg/snapshot/minio"
	"github.com/StricklySoft/authcenter-go/pkg/snapshot/postgres"
	"github.com/StricklySoft/authcenter-go/pkg/snapshot/redis"
	"github.com/StricklySoft/authcenter-go/pkg/token"
)

const tracerName = "github.com/StricklySoft/authcenter-go/pkg/authcenter"

// Backend is a snapshot store that can report its own health.
type Backend interface {
	jwks.Snapshotter
	Health(ctx context.Context) error
}

var (
	_ Backend = (*redis.Store)(nil)
	_ Backend = (*postgres.Store)(nil)
	_ Backend = (*minio.Store)(nil)
)

// Client holds the verification components for one project. It is safe for
// concurrent use; all request paths go through the Gate or Verify.
type Client struct {
	cfg       Config
	keys      *jwks.Store
	verifier  *token.Verifier
	evaluator *permission.Evaluator
	gate      *gate.Gate
	metrics   *metrics.Collector
	backend   Backend
	closer    func() error

	logger *zap.Logger
	tracer trace.Tracer

	mu    sync.RWMutex
	state State
	start *startCall
}

// startCall is one in-flight Start. Concurrent callers wait on done and
// share err.
type startCall struct {
	done chan struct{}
	err  error
}

type options struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	httpClient jwks.HTTPClient
	tracer     trace.Tracer
	backend    Backend
	clock      func() time.Time
}

// Option configures New.
type Option func(*options)

// WithLogger sets the logger handed to every component. The default
// discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRegisterer enables Prometheus metrics registered on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithHTTPClient replaces the client used to fetch the key set.
func WithHTTPClient(c jwks.HTTPClient) Option {
	return func(o *options) { o.httpClient = c }
}

// WithTracer sets the tracer used by the fetcher, the verifier and Start.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithBackend uses b for snapshots instead of opening the backend named by
// Config.Snapshot. The Client does not close b.
func WithBackend(b Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithClock overrides the time source of the key store and the verifier.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// New validates cfg, opens the configured snapshot backend and assembles
// the components. No network request is made to the authority; call Start
// to load keys eagerly.
//
// Error codes returned:
//   - sserr.CodeValidation, sserr.CodeValidationRequired: invalid configuration
//   - sserr.CodeUnavailableDependency: the snapshot backend is unreachable
//   - sserr.CodeInternalConfiguration: metrics could not be registered
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{logger: zap.NewNop(), tracer: otel.Tracer(tracerName)}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With(zap.String("project", cfg.ProjectID))

	c := &Client{
		cfg:     cfg,
		logger:  logger,
		tracer:  o.tracer,
		state:   StateCreated,
		backend: o.backend,
		closer:  func() error { return nil },
	}
	if c.backend == nil {
		backend, closer, err := openBackend(ctx, cfg.Snapshot)
		if err != nil {
			return nil, err
		}
		c.backend, c.closer = backend, closer
	}
	if err := c.assemble(cfg, o, logger); err != nil {
		_ = c.closer()
		return nil, err
	}

	logger.Debug("authcenter: client created",
		zap.String("jwks_url", cfg.JWKSURL),
		zap.String("issuer", cfg.Issuer),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.String("snapshot_driver", string(cfg.Snapshot.Driver)),
	)
	return c, nil
}

func (c *Client) assemble(cfg Config, o options, logger *zap.Logger) error {
	if o.registerer != nil {
		collector, err := metrics.NewCollector(o.registerer)
		if err != nil {
			return err
		}
		c.metrics = collector
	}

	fetcherOpts := []jwks.FetcherOption{
		jwks.WithFetchTimeout(cfg.FetchTimeout),
		jwks.WithFetcherLogger(logger),
		jwks.WithFetcherTracer(o.tracer),
	}
	if o.httpClient != nil {
		fetcherOpts = append(fetcherOpts, jwks.WithHTTPClient(o.httpClient))
	}

	storeOpts := []jwks.StoreOption{jwks.WithLogger(logger)}
	verifierOpts := []token.Option{token.WithLogger(logger), token.WithTracer(o.tracer)}
	gateOpts := []gate.Option{gate.WithLogger(logger), gate.WithExtraction(cfg.Extraction())}
	if c.backend != nil {
		storeOpts = append(storeOpts, jwks.WithSnapshotter(c.backend))
	}
	if c.metrics != nil {
		storeOpts = append(storeOpts, jwks.WithObserver(c.metrics))
		verifierOpts = append(verifierOpts, token.WithObserver(c.metrics))
		gateOpts = append(gateOpts, gate.WithObserver(c.metrics))
	}
	if o.clock != nil {
		storeOpts = append(storeOpts, jwks.WithClock(o.clock))
		verifierOpts = append(verifierOpts, token.WithClock(o.clock))
	}

	keys, err := jwks.NewStore(jwks.StoreConfig{URL: cfg.JWKSURL, TTL: cfg.CacheTTL},
		jwks.NewHTTPFetcher(fetcherOpts...), storeOpts...)
	if err != nil {
		return err
	}
	verifier, err := token.NewVerifier(keys, cfg.TokenConfig(), verifierOpts...)
	if err != nil {
		return err
	}
	evaluator, err := permission.NewEvaluator(cfg.ProjectID)
	if err != nil {
		return err
	}
	g, err := gate.New(verifier, evaluator, gateOpts...)
	if err != nil {
		return err
	}

	c.keys, c.verifier, c.evaluator, c.gate = keys, verifier, evaluator, g
	return nil
}

// openBackend opens the store named by cfg.Driver. For DriverNone it
// returns a nil Backend.
func openBackend(ctx context.Context, cfg SnapshotConfig) (Backend, func() error, error) {
	switch cfg.Driver {
	case DriverRedis:
		s, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case DriverPostgres:
		s, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { s.Close(); return nil }, nil
	case DriverMinIO:
		s, err := minio.New(ctx, cfg.MinIO)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { return nil }, nil
	default:
		return nil, func() error { return nil }, nil
	}
}

func (c *Client) Config() Config                   { return c.cfg }
func (c *Client) Keys() *jwks.Store                { return c.keys }
func (c *Client) Verifier() *token.Verifier        { return c.verifier }
func (c *Client) Evaluator() *permission.Evaluator { return c.evaluator }
func (c *Client) Gate() *gate.Gate                 { return c.gate }

// Metrics returns the collector, or nil when WithRegisterer was not given.
func (c *Client) Metrics() *metrics.Collector { return c.metrics }

// Verify validates a raw token. See token.Verifier.Verify.
func (c *Client) Verify(ctx context.Context, raw string) (*token.Claims, error) {
	return c.verifier.Verify(ctx, raw)
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transitionLocked(to)
}

func (c *Client) transitionLocked(to State) error {
	if !ValidTransition(c.state, to) {
		return sserr.Newf(sserr.CodeUnavailable,
			"authcenter: invalid state transition from %q to %q", c.state, to)
	}
	c.logger.Debug("authcenter: state changed",
		zap.String("old_state", string(c.state)),
		zap.String("new_state", string(to)),
	)
	c.state = to
	return nil
}

// Start loads the key set so the first request does not wait for the
// authority. A failure leaves the Client in StateFailed but usable; the
// next request retries the fetch. Start on a ready Client is a no-op, and
// a Start issued while another is running waits for that one's result.
// Closing the Client during Start makes Start fail with
// sserr.CodeUnavailable.
func (c *Client) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return sserr.Wrap(err, sserr.CodeTimeout, "authcenter: start canceled before execution")
	}

	call, leader, err := c.beginStart()
	if err != nil || call == nil {
		return err
	}
	if !leader {
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return sserr.Wrap(ctx.Err(), sserr.CodeTimeout, "authcenter: canceled while waiting for start")
		}
	}

	ctx, span := c.tracer.Start(ctx, "authcenter.Start",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("authcenter.project", c.cfg.ProjectID)),
	)
	defer span.End()

	set, err := c.keys.Get(ctx)
	if err != nil {
		c.logger.Warn("authcenter: initial key load failed", zap.Error(err))
		err = c.finishStart(call, StateFailed, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := c.finishStart(call, StateReady, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	c.logger.Info("authcenter: client ready",
		zap.Int("keys", set.Len()),
		zap.Time("fetched_at", set.FetchedAt()),
	)
	span.SetStatus(codes.Ok, "")
	return nil
}

// beginStart moves the Client to StateStarting and returns the new call
// with leader set. If a Start is already running it returns that call
// instead; a ready Client returns a nil call.
func (c *Client) beginStart() (*startCall, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateReady:
		return nil, false, nil
	case StateStarting:
		return c.start, false, nil
	}
	if err := c.transitionLocked(StateStarting); err != nil {
		return nil, false, err
	}
	c.start = &startCall{done: make(chan struct{})}
	return c.start, true, nil
}

// finishStart records the result of call and releases its waiters. A
// Client closed in the meantime stays closed.
func (c *Client) finishStart(call *startCall, to State, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if terr := c.transitionLocked(to); terr != nil && err == nil {
		err = sserr.Newf(sserr.CodeUnavailable, "authcenter: client %s while starting", c.state)
	}
	call.err = err
	close(call.done)
	return err
}

// Health reports whether the Client can verify tokens right now: it must
// not be closed, must hold at least one key and its snapshot backend, if
// any, must respond.
func (c *Client) Health(ctx context.Context) error {
	state := c.State()
	if state == StateClosing || state == StateClosed {
		return sserr.Newf(sserr.CodeUnavailable, "authcenter: client is %s", state)
	}
	if c.keys.Current().Len() == 0 {
		return sserr.New(sserr.CodeUnavailable, "authcenter: no signing keys loaded")
	}
	if c.backend != nil {
		if err := c.backend.Health(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the snapshot backend opened by New. Calling Close more
// than once is safe.
func (c *Client) Close() error {
	if err := c.setState(StateClosing); err != nil {
		if c.State() == StateClosed {
			return nil
		}
		return err
	}
	err := c.closer()
	_ = c.setState(StateClosed)
	if err != nil {
		c.logger.Warn("authcenter: failed to close snapshot backend", zap.Error(err))
		return sserr.Wrap(err, sserr.CodeInternalStorage, "authcenter: failed to close snapshot backend")
	}
	c.logger.Debug("authcenter: client closed")
	return nil
}
