package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/authcenter-go/pkg/errors"
	"github.com/StricklySoft/authcenter-go/pkg/jwks"
)

const tracerName = "github.com/StricklySoft/authcenter-go/pkg/snapshot/postgres"

// Pool is the subset of pgxpool the store uses. *pgxpool.Pool and
// pgxmock pools satisfy it.
type Pool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

var (
	_ Pool             = (*pgxpool.Pool)(nil)
	_ jwks.Snapshotter = (*Store)(nil)
)

// Store is a jwks.Snapshotter backed by PostgreSQL. It is safe for
// concurrent use.
type Store struct {
	pool   Pool
	table  string
	tracer trace.Tracer

	schemaSQL string
	loadSQL   string
	saveSQL   string
}

// New opens a connection pool, verifies it and, when cfg.AutoMigrate is
// set, creates the snapshot table.
//
// Error codes returned:
//   - sserr.CodeValidation, sserr.CodeValidationRequired: invalid configuration
//   - sserr.CodeUnavailableDependency: PostgreSQL is unreachable
//   - sserr.CodeInternalStorage: the table could not be created
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN.Value())
	if err != nil {
		return nil, sserr.New(sserr.CodeValidation, "postgres: failed to parse DSN")
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "postgres: failed to create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "postgres: failed to connect to server")
	}

	s := NewFromPool(pool, cfg.Table)
	if cfg.AutoMigrate {
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewFromPool wraps an existing pool. table must already be a valid name;
// empty means DefaultTable.
func NewFromPool(pool Pool, table string) *Store {
	if table == "" {
		table = DefaultTable
	}
	ident := pgx.Identifier(strings.Split(table, ".")).Sanitize()
	return &Store{
		pool:   pool,
		table:  table,
		tracer: otel.Tracer(tracerName),
		schemaSQL: fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	url_hash   TEXT PRIMARY KEY,
	jwks_url   TEXT NOT NULL,
	document   JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, ident),
		loadSQL: fmt.Sprintf(`SELECT document FROM %s WHERE url_hash = $1`, ident),
		saveSQL: fmt.Sprintf(`INSERT INTO %s (url_hash, jwks_url, document, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (url_hash) DO UPDATE
SET jwks_url = EXCLUDED.jwks_url, document = EXCLUDED.document, updated_at = now()`, ident),
	}
}

// EnsureSchema creates the snapshot table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "EnsureSchema", s.schemaSQL)
	_, err := s.pool.Exec(ctx, s.schemaSQL)
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "postgres: failed to create snapshot table")
	}
	return nil
}

// LoadSnapshot implements jwks.Snapshotter.
func (s *Store) LoadSnapshot(ctx context.Context, jwksURL string) ([]byte, error) {
	ctx, span := s.startSpan(ctx, "LoadSnapshot", s.loadSQL)
	var doc []byte
	err := s.pool.QueryRow(ctx, s.loadSQL, jwks.SnapshotKey(jwksURL)).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		finishSpan(span, nil)
		return nil, sserr.NotFoundf("postgres: no snapshot for %s", jwksURL)
	}
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "postgres: failed to load snapshot")
	}
	return doc, nil
}

// SaveSnapshot implements jwks.Snapshotter. The row is upserted.
func (s *Store) SaveSnapshot(ctx context.Context, jwksURL string, doc []byte) error {
	ctx, span := s.startSpan(ctx, "SaveSnapshot", s.saveSQL)
	_, err := s.pool.Exec(ctx, s.saveSQL, jwks.SnapshotKey(jwksURL), jwksURL, doc)
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "postgres: failed to save snapshot")
	}
	return nil
}

// Health pings the database, applying DefaultHealthTimeout when ctx has no
// deadline.
func (s *Store) Health(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}
	ctx, span := s.startSpan(ctx, "Ping", "SELECT 1")
	err := s.pool.Ping(ctx)
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "postgres: health check failed")
	}
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) startSpan(ctx context.Context, op, statement string) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "postgres."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", s.table),
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

// wrapError classifies deadline and cancellation errors as timeouts and
// everything else, including *pgconn.PgError, as a storage failure. The
// SQLSTATE is kept as a detail.
func wrapError(err error, message string) *sserr.Error {
	var wrapped *sserr.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		wrapped = sserr.Wrap(err, sserr.CodeTimeout, message)
	} else {
		wrapped = sserr.Wrap(err, sserr.CodeInternalStorage, message)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		wrapped = wrapped.WithDetail("sqlstate", pgErr.Code)
	}
	return wrapped
}
