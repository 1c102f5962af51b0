// Package token verifies bearer tokens issued by the identity authority
// against its published signing keys.
//
// Verification never trusts the token before its signature is checked:
// the header and payload are first decoded into fixed structures, and only
// rejections are decided on that unverified data (an algorithm outside the
// allow-list, an expired token, a foreign issuer). Acceptance always goes
// through signature verification with a key selected from the key store.
package token

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	sserr "github.com/StricklySoft/authcenter-go/pkg/errors"
	"github.com/StricklySoft/authcenter-go/pkg/jwks"
)

const tracerName = "github.com/StricklySoft/authcenter-go/pkg/token"

// KeySource supplies signing keys. *jwks.Store implements it.
type KeySource interface {
	Get(ctx context.Context) (*jwks.KeySet, error)
	ForceRefresh(ctx context.Context) (*jwks.KeySet, error)
}

var _ KeySource = (*jwks.Store)(nil)

// Observer receives one call per verification. code is empty on success.
type Observer interface {
	VerificationCompleted(code sserr.Code, d time.Duration)
	ForcedRefresh(recovered bool)
}

type nopObserver struct{}

func (nopObserver) VerificationCompleted(sserr.Code, time.Duration) {}
func (nopObserver) ForcedRefresh(bool)                              {}

// Verifier checks tokens against a KeySource. It is safe for concurrent use.
type Verifier struct {
	keys    KeySource
	cfg     Config
	allowed map[string]bool
	parser  *jwt.Parser

	tracer   trace.Tracer
	logger   *zap.Logger
	observer Observer
	now      func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

func WithTracer(tracer trace.Tracer) Option {
	return func(v *Verifier) {
		if tracer != nil {
			v.tracer = tracer
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

func WithObserver(o Observer) Option {
	return func(v *Verifier) {
		if o != nil {
			v.observer = o
		}
	}
}

// WithClock replaces time.Now for exp and nbf checks, for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier validates cfg and returns a Verifier reading keys from keys.
func NewVerifier(keys KeySource, cfg Config, opts ...Option) (*Verifier, error) {
	if keys == nil {
		return nil, sserr.New(sserr.CodeValidationRequired, "token: key source is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	v := &Verifier{
		keys:     keys,
		cfg:      cfg,
		allowed:  make(map[string]bool, len(cfg.Algorithms)),
		tracer:   otel.Tracer(tracerName),
		logger:   zap.NewNop(),
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	for _, alg := range cfg.Algorithms {
		v.allowed[alg] = true
	}
	v.parser = jwt.NewParser(
		jwt.WithValidMethods(cfg.Algorithms),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.ClockSkew),
		jwt.WithTimeFunc(v.now),
	)
	return v, nil
}

// header is the part of the JOSE header the verifier looks at.
type header struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

// Verify checks raw and returns its claims. Failures are *sserr.Error with
// one of the AUTH codes:
//
//   - CodeAuthenticationMalformed: not a decodable token, or no exp claim
//   - CodeAuthenticationSignature: algorithm not allowed, key mismatch or bad signature
//   - CodeAuthenticationExpired: exp in the past or nbf in the future
//   - CodeAuthenticationIssuer: iss differs from the configured issuer
//   - CodeAuthenticationKeyFetch: no key set could be obtained
//   - CodeAuthenticationNoKey: no key matches, even after one forced refresh
//
// At most one regular fetch and one forced refresh happen per call.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	ctx, span := v.tracer.Start(ctx, "token.Verify")
	defer span.End()

	started := v.now()
	claims, err := v.verify(ctx, raw, span)
	v.observer.VerificationCompleted(sserr.GetCode(err), v.now().Sub(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		v.logger.Debug("token: verification failed",
			zap.String("code", sserr.GetCode(err).String()),
			zap.Error(err))
		return nil, err
	}
	span.SetAttributes(attribute.String("token.subject", claims.Subject))
	return claims, nil
}

func (v *Verifier) verify(ctx context.Context, raw string, span trace.Span) (*Claims, error) {
	if raw == "" {
		return nil, sserr.New(sserr.CodeAuthenticationMalformed, "token: token must not be empty")
	}
	if len(raw) > v.cfg.MaxTokenSize {
		return nil, sserr.Newf(sserr.CodeAuthenticationMalformed,
			"token: token exceeds %d bytes", v.cfg.MaxTokenSize)
	}

	hdr, unverified, err := v.decode(raw)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("token.alg", hdr.Alg),
		attribute.String("token.kid", hdr.Kid),
	)

	if !v.allowed[hdr.Alg] {
		return nil, sserr.Newf(sserr.CodeAuthenticationSignature,
			"token: algorithm %q is not accepted", hdr.Alg)
	}
	if err := v.precheck(unverified); err != nil {
		return nil, err
	}

	key, err := v.selectKey(ctx, hdr.Kid, span)
	if err != nil {
		return nil, err
	}
	if key.Algorithm != "" && key.Algorithm != hdr.Alg {
		return nil, sserr.Newf(sserr.CodeAuthenticationSignature,
			"token: key %q only verifies %s, token uses %s", key.KeyID, key.Algorithm, hdr.Alg)
	}

	var verified payload
	_, err = v.parser.ParseWithClaims(raw, &verified, func(*jwt.Token) (any, error) {
		return key.Public, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return verified.claims(), nil
}

// decode parses header and payload without verifying anything.
func (v *Verifier) decode(raw string) (header, *payload, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return header{}, nil, sserr.New(sserr.CodeAuthenticationMalformed,
			"token: token must have three segments")
	}

	var hdr header
	if err := v.decodeSegment(parts[0], &hdr); err != nil {
		return header{}, nil, sserr.Wrap(err, sserr.CodeAuthenticationMalformed, "token: header is not decodable")
	}
	if hdr.Alg == "" {
		return header{}, nil, sserr.New(sserr.CodeAuthenticationMalformed, "token: header has no alg")
	}

	var p payload
	if err := v.decodeSegment(parts[1], &p); err != nil {
		return header{}, nil, sserr.Wrap(err, sserr.CodeAuthenticationMalformed, "token: payload is not decodable")
	}
	return hdr, &p, nil
}

func (v *Verifier) decodeSegment(seg string, dst any) error {
	b, err := v.parser.DecodeSegment(seg)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

// precheck rejects on unverified claims. It only ever rejects, so trusting
// unverified data here cannot let a forged token through, and an expired
// token is reported as expired whatever its signature.
func (v *Verifier) precheck(p *payload) error {
	now := v.now()
	if p.ExpiresAt == nil {
		return sserr.New(sserr.CodeAuthenticationMalformed, "token: token has no exp claim")
	}
	if now.After(p.ExpiresAt.Add(v.cfg.ClockSkew)) {
		return sserr.New(sserr.CodeAuthenticationExpired, "token: token has expired").
			WithDetail("expired_at", p.ExpiresAt.Time)
	}
	if p.NotBefore != nil && now.Add(v.cfg.ClockSkew).Before(p.NotBefore.Time) {
		return sserr.New(sserr.CodeAuthenticationExpired, "token: token is not valid yet")
	}
	if p.Issuer != v.cfg.Issuer {
		return sserr.Newf(sserr.CodeAuthenticationIssuer, "token: issuer %q is not trusted", p.Issuer)
	}
	return nil
}

// selectKey applies the key selection policy, forcing one refresh when the
// token names a kid the current set does not contain.
func (v *Verifier) selectKey(ctx context.Context, kid string, span trace.Span) (jwks.SigningKey, error) {
	set, err := v.keys.Get(ctx)
	if err != nil {
		return jwks.SigningKey{}, keyFetchFailed(err)
	}
	if key, ok := set.Select(kid); ok {
		return key, nil
	}

	if kid != "" {
		span.SetAttributes(attribute.Bool("token.forced_refresh", true))
		set, err = v.keys.ForceRefresh(ctx)
		if err != nil {
			v.observer.ForcedRefresh(false)
			return jwks.SigningKey{}, keyFetchFailed(err)
		}
		key, ok := set.Select(kid)
		v.observer.ForcedRefresh(ok)
		if ok {
			v.logger.Info("token: picked up rotated signing key", zap.String("kid", kid))
			return key, nil
		}
	}

	return jwks.SigningKey{}, sserr.New(sserr.CodeAuthenticationNoKey,
		"token: no signing key matches the token").WithDetail("kid", kid)
}

func keyFetchFailed(err error) error {
	if sserr.HasCode(err, sserr.CodeAuthenticationKeyFetch) {
		return err
	}
	return sserr.Wrap(err, sserr.CodeAuthenticationKeyFetch, "token: signing keys are unavailable")
}
