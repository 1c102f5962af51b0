package minio

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/authcenter-go/pkg/errors"
	"github.com/StricklySoft/authcenter-go/pkg/jwks"
)

const tracerName = "github.com/StricklySoft/authcenter-go/pkg/snapshot/minio"

// maxSnapshotSize caps how much of a stored object LoadSnapshot reads.
const maxSnapshotSize = 4 << 20

// ObjectStore is the subset of the minio-go client the store uses.
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

var (
	_ ObjectStore      = (*minio.Client)(nil)
	_ jwks.Snapshotter = (*Store)(nil)
)

// Store is a jwks.Snapshotter backed by an S3 bucket. It is safe for
// concurrent use.
type Store struct {
	objects ObjectStore
	bucket  string
	prefix  string
	region  string
	tracer  trace.Tracer
}

// New creates a minio-go client and checks the bucket. With
// cfg.CreateBucket set a missing bucket is created; otherwise it is an
// error.
//
// Error codes returned:
//   - sserr.CodeValidation, sserr.CodeValidationRequired: invalid configuration
//   - sserr.CodeUnavailableDependency: the server is unreachable
//   - sserr.CodeNotFound: the bucket does not exist
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey.Value(), ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation, "minio: failed to create client")
	}

	s := NewFromStore(client, cfg)
	exists, err := client.BucketExists(ctx, s.bucket)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "minio: failed to connect to server")
	}
	if !exists {
		if !cfg.CreateBucket {
			return nil, sserr.NotFoundf("minio: bucket %q does not exist", s.bucket)
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewFromStore wraps an existing client. cfg is not validated; empty fields
// fall back to their defaults.
func NewFromStore(objects ObjectStore, cfg Config) *Store {
	s := &Store{
		objects: objects,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		region:  cfg.Region,
		tracer:  otel.Tracer(tracerName),
	}
	if s.bucket == "" {
		s.bucket = DefaultBucket
	}
	if s.prefix == "" {
		s.prefix = DefaultPrefix
	}
	if s.region == "" {
		s.region = DefaultRegion
	}
	return s
}

// ObjectName returns the object holding the snapshot for jwksURL.
func (s *Store) ObjectName(jwksURL string) string {
	return s.prefix + jwks.SnapshotKey(jwksURL) + ".json"
}

// EnsureBucket creates the bucket if it does not exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
	ctx, span := s.startSpan(ctx, "MakeBucket", "MAKE "+s.bucket)
	exists, err := s.objects.BucketExists(ctx, s.bucket)
	if err == nil && !exists {
		err = s.objects.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
		if code := minio.ToErrorResponse(err).Code; code == "BucketAlreadyOwnedByYou" || code == "BucketAlreadyExists" {
			err = nil
		}
	}
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "minio: failed to create bucket")
	}
	return nil
}

// LoadSnapshot implements jwks.Snapshotter.
func (s *Store) LoadSnapshot(ctx context.Context, jwksURL string) ([]byte, error) {
	name := s.ObjectName(jwksURL)
	ctx, span := s.startSpan(ctx, "GetObject", "GET "+s.bucket+"/"+name)

	data, err := s.read(ctx, name)
	if isNoSuchKey(err) {
		finishSpan(span, nil)
		return nil, sserr.NotFoundf("minio: no snapshot for %s", jwksURL)
	}
	finishSpan(span, err)
	if err != nil {
		return nil, wrapError(err, "minio: failed to load snapshot")
	}
	return data, nil
}

// read fetches an object. minio-go defers the request to the first Read, so
// a missing object surfaces from ReadAll rather than GetObject.
func (s *Store) read(ctx context.Context, name string) ([]byte, error) {
	obj, err := s.objects.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()
	return io.ReadAll(io.LimitReader(obj, maxSnapshotSize))
}

// SaveSnapshot implements jwks.Snapshotter.
func (s *Store) SaveSnapshot(ctx context.Context, jwksURL string, doc []byte) error {
	name := s.ObjectName(jwksURL)
	ctx, span := s.startSpan(ctx, "PutObject", "PUT "+s.bucket+"/"+name)
	_, err := s.objects.PutObject(ctx, s.bucket, name, bytes.NewReader(doc), int64(len(doc)),
		minio.PutObjectOptions{
			ContentType:  "application/json",
			UserMetadata: map[string]string{"jwks-url": jwksURL},
		})
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "minio: failed to save snapshot")
	}
	return nil
}

// Health checks that the bucket is reachable, applying DefaultHealthTimeout
// when ctx has no deadline.
func (s *Store) Health(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}
	ctx, span := s.startSpan(ctx, "BucketExists", "HEAD "+s.bucket)
	exists, err := s.objects.BucketExists(ctx, s.bucket)
	if err == nil && !exists {
		err = sserr.NotFoundf("minio: bucket %q does not exist", s.bucket)
	}
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "minio: health check failed")
	}
	return nil
}

func (s *Store) startSpan(ctx context.Context, op, statement string) (context.Context, trace.Span) {
	ctx, span := s.tracer.Start(ctx, "minio."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "minio"),
		attribute.String("db.name", s.bucket),
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

func isNoSuchKey(err error) bool {
	return err != nil && minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func wrapError(err error, message string) *sserr.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return sserr.Wrap(err, sserr.CodeTimeout, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalStorage, message)
}
