package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/authcenter-go/pkg/errors"
	"github.com/StricklySoft/authcenter-go/pkg/jwks"
)

const tracerName = "github.com/StricklySoft/authcenter-go/pkg/snapshot/redis"

// Cmdable is the subset of go-redis the store uses. *redis.Client
// satisfies it.
type Cmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

var (
	_ Cmdable          = (*redis.Client)(nil)
	_ jwks.Snapshotter = (*Store)(nil)
)

// Store is a jwks.Snapshotter backed by Redis. It is safe for concurrent
// use.
type Store struct {
	cmd        Cmdable
	prefix     string
	expiration time.Duration
	tracer     trace.Tracer
}

// New connects to Redis and verifies the connection with a ping.
//
// Error codes returned:
//   - sserr.CodeValidation: invalid configuration
//   - sserr.CodeUnavailableDependency: Redis is unreachable
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts *redis.Options
	if cfg.URI != "" {
		var err error
		if opts, err = redis.ParseURL(cfg.URI); err != nil {
			return nil, sserr.Wrap(err, sserr.CodeValidation, "redis: failed to parse connection URI")
		}
	} else {
		opts = &redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password.Value(),
			DB:       cfg.DB,
		}
		if cfg.TLSEnabled {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
	}
	opts.DialTimeout = cfg.DialTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "redis: failed to connect to server")
	}
	return NewFromClient(client, cfg), nil
}

// NewFromClient wraps an existing client. cfg is not validated; empty
// KeyPrefix falls back to DefaultKeyPrefix.
func NewFromClient(cmd Cmdable, cfg Config) *Store {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{
		cmd:        cmd,
		prefix:     prefix,
		expiration: cfg.Expiration,
		tracer:     otel.Tracer(tracerName),
	}
}

// Key returns the Redis key holding the snapshot for jwksURL.
func (s *Store) Key(jwksURL string) string {
	return s.prefix + jwks.SnapshotKey(jwksURL)
}

// LoadSnapshot implements jwks.Snapshotter.
func (s *Store) LoadSnapshot(ctx context.Context, jwksURL string) ([]byte, error) {
	key := s.Key(jwksURL)
	ctx, span := s.startSpan(ctx, "Get", "GET "+key)
	data, err := s.cmd.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		finishSpan(span, nil)
		return nil, sserr.NotFoundf("redis: no snapshot for %s", jwksURL)
	}
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "redis: failed to load snapshot")
	}
	return data, nil
}

// SaveSnapshot implements jwks.Snapshotter.
func (s *Store) SaveSnapshot(ctx context.Context, jwksURL string, doc []byte) error {
	key := s.Key(jwksURL)
	ctx, span := s.startSpan(ctx, "Set", "SET "+key)
	err := s.cmd.Set(ctx, key, doc, s.expiration).Err()
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "redis: failed to save snapshot")
	}
	return nil
}

// Health pings Redis, applying DefaultHealthTimeout when ctx has no
// deadline.
func (s *Store) Health(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}
	ctx, span := s.startSpan(ctx, "Ping", "PING")
	err := s.cmd.Ping(ctx).Err()
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "redis: health check failed")
	}
	return nil
}

func (s *Store) Close() error {
	return s.cmd.Close()
}

func (s *Store) startSpan(ctx context.Context, op, statement string) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "redis."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.statement", statement),
	)
	return ctx, span
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// wrapError classifies deadline errors as timeouts and everything else as
// a storage failure.
func wrapError(err error, message string) *sserr.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return sserr.Wrap(err, sserr.CodeTimeout, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalStorage, message)
}
