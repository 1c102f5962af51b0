// Package authcenter wires the key store, token verifier, permission
// evaluator and authorization gate for one project into a Client.
//
//	cfg, err := authcenter.LoadConfig("authcenter.yaml", ".env")
//	if err != nil {
//	    return err
//	}
//	client, err := authcenter.New(ctx, cfg, authcenter.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	router.Use(client.Gate().Middleware())
//
// Configuration is read from environment variables prefixed AUTHCENTER_,
// for example AUTHCENTER_JWKS_URL and AUTHCENTER_SNAPSHOT_REDIS_ADDR.
package authcenter

import (
	"net/url"
	"time"

	"github.com/StricklySoft/authcenter-go/pkg/config"
	sserr "github.com/StricklySoft/authcenter-go/pkg/errors"
	"github.com/StricklySoft/authcenter-go/pkg/gate"
	"github.com/StricklySoft/authcenter-go/pkg/snapshot/minio"
	"github.com/StricklySoft/authcenter-go/pkg/snapshot/postgres"
	"github.com/StricklySoft/authcenter-go/pkg/snapshot/redis"
	"github.com/StricklySoft/authcenter-go/pkg/token"
)

// EnvPrefix is prepended to every configuration variable.
const EnvPrefix = "AUTHCENTER"

const (
	DefaultIssuer       = "auth-center"
	DefaultCacheTTL     = 5 * time.Minute
	DefaultFetchTimeout = 10 * time.Second
)

// Driver selects where key set snapshots are persisted.
type Driver string

const (
	DriverNone     Driver = "none"
	DriverRedis    Driver = "redis"
	DriverPostgres Driver = "postgres"
	DriverMinIO    Driver = "minio"
)

// SnapshotConfig selects and configures the snapshot backend. Only the
// section matching Driver is used.
type SnapshotConfig struct {
	Driver   Driver          `yaml:"driver" json:"driver" env:"DRIVER" envDefault:"none"`
	Redis    redis.Config    `yaml:"redis" json:"redis" env:"REDIS"`
	Postgres postgres.Config `yaml:"postgres" json:"postgres" env:"POSTGRES"`
	MinIO    minio.Config    `yaml:"minio" json:"minio" env:"MINIO"`
}

// Config is everything a resource server needs to verify and authorize
// requests for one project.
type Config struct {
	// JWKSURL is the authority's published key set.
	JWKSURL string `yaml:"jwks_url" json:"jwks_url" env:"JWKS_URL" required:"true"`

	// ProjectID scopes role and permission lookups in token claims.
	ProjectID string `yaml:"project_id" json:"project_id" env:"PROJECT_ID" required:"true"`

	Issuer       string        `yaml:"issuer" json:"issuer" env:"ISSUER" envDefault:"auth-center"`
	CacheTTL     time.Duration `yaml:"cache_ttl" json:"cache_ttl" env:"CACHE_TTL" envDefault:"5m"`
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout" env:"FETCH_TIMEOUT" envDefault:"10s"`
	ClockSkew    time.Duration `yaml:"clock_skew" json:"clock_skew" env:"CLOCK_SKEW"`

	// Algorithms restricts accepted JWS algorithms. Empty accepts every
	// supported asymmetric algorithm.
	Algorithms []string `yaml:"algorithms" json:"algorithms" env:"ALGORITHMS"`

	CookieName string `yaml:"cookie_name" json:"cookie_name" env:"COOKIE_NAME" envDefault:"ac_access"`
	QueryParam string `yaml:"query_param" json:"query_param" env:"QUERY_PARAM" envDefault:"token"`

	Snapshot SnapshotConfig `yaml:"snapshot" json:"snapshot" env:"SNAPSHOT"`
}

// LoadConfig reads Config from an optional YAML or JSON file, an optional
// dotenv file and AUTHCENTER_* environment variables, in that order of
// precedence. Empty paths are skipped.
func LoadConfig(file, dotenv string) (Config, error) {
	var cfg Config
	err := config.New().
		WithEnvPrefix(EnvPrefix).
		WithFile(file).
		WithDotEnv(dotenv).
		Load(&cfg)
	return cfg, err
}

// Validate applies defaults to zero fields and checks the result. The
// snapshot backend section is validated when its driver is selected.
func (c *Config) Validate() error {
	if c.JWKSURL == "" {
		return sserr.New(sserr.CodeValidationRequired, "authcenter: JWKS URL is required")
	}
	u, err := url.Parse(c.JWKSURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return sserr.Newf(sserr.CodeValidation, "authcenter: JWKS URL must be an absolute http(s) URL, got %q", c.JWKSURL)
	}
	if c.ProjectID == "" {
		return sserr.New(sserr.CodeValidationRequired, "authcenter: project ID is required")
	}

	if c.Issuer == "" {
		c.Issuer = DefaultIssuer
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.CacheTTL < 0 {
		return sserr.Newf(sserr.CodeValidation, "authcenter: cache TTL must be positive, got %s", c.CacheTTL)
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.FetchTimeout < 0 {
		return sserr.Newf(sserr.CodeValidation, "authcenter: fetch timeout must be positive, got %s", c.FetchTimeout)
	}
	if c.ClockSkew < 0 {
		return sserr.Newf(sserr.CodeValidation, "authcenter: clock skew must not be negative, got %s", c.ClockSkew)
	}
	if c.CookieName == "" {
		c.CookieName = gate.DefaultCookieName
	}
	if c.QueryParam == "" {
		c.QueryParam = gate.DefaultQueryParam
	}
	if err := c.TokenConfig().Validate(); err != nil {
		return err
	}

	switch c.Snapshot.Driver {
	case "", DriverNone:
		c.Snapshot.Driver = DriverNone
	case DriverRedis:
		return c.Snapshot.Redis.Validate()
	case DriverPostgres:
		return c.Snapshot.Postgres.Validate()
	case DriverMinIO:
		return c.Snapshot.MinIO.Validate()
	default:
		return sserr.Newf(sserr.CodeValidation,
			"authcenter: unknown snapshot driver %q (use none, redis, postgres or minio)", c.Snapshot.Driver)
	}
	return nil
}

// TokenConfig returns the verification policy derived from c.
func (c Config) TokenConfig() token.Config {
	return token.Config{
		Issuer:     c.Issuer,
		Algorithms: c.Algorithms,
		ClockSkew:  c.ClockSkew,
	}
}

// Extraction returns where the gate looks for tokens besides the
// Authorization header.
func (c Config) Extraction() gate.Extraction {
	return gate.Extraction{CookieName: c.CookieName, QueryParam: c.QueryParam}
}
