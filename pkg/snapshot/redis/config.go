// Package redis stores JWKS snapshots in Redis.
//
// Each JWKS URL maps to one string key holding the snapshot document. Keys
// expire after Config.Expiration so a decommissioned authority does not
// leave snapshots behind forever.
//
//	store, err := redis.New(ctx, redis.Config{Addr: "localhost:6379"})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//	keys, err := jwks.NewStore(cfg, fetcher, jwks.WithSnapshotter(store))
package redis

import (
	"net/url"
	"time"

	"github.com/StricklySoft/authcenter-go/pkg/config"
	sserr "github.com/StricklySoft/authcenter-go/pkg/errors"
)

const (
	DefaultAddr        = "localhost:6379"
	DefaultKeyPrefix   = "authcenter:jwks:"
	DefaultExpiration  = 7 * 24 * time.Hour
	DefaultDialTimeout = 5 * time.Second

	// DefaultHealthTimeout bounds Health when the context has no deadline.
	DefaultHealthTimeout = 5 * time.Second
)

// Config holds the Redis connection settings. URI, when set, takes
// precedence over Addr, Password and DB.
type Config struct {
	// URI is a redis:// or rediss:// connection string.
	URI string `yaml:"uri" json:"uri" env:"URI"`

	Addr     string        `yaml:"addr" json:"addr" env:"ADDR" envDefault:"localhost:6379"`
	Password config.Secret `yaml:"password" json:"-" env:"PASSWORD"`
	DB       int           `yaml:"db" json:"db" env:"DB"`

	TLSEnabled bool `yaml:"tls_enabled" json:"tls_enabled" env:"TLS_ENABLED"`

	// KeyPrefix is prepended to every snapshot key.
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix" env:"KEY_PREFIX" envDefault:"authcenter:jwks:"`

	// Expiration is the TTL set on saved snapshots. Zero keeps them forever.
	Expiration time.Duration `yaml:"expiration" json:"expiration" env:"EXPIRATION" envDefault:"168h"`

	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout" env:"DIAL_TIMEOUT" envDefault:"5s"`
}

// Validate checks the configuration and fills zero-valued defaults that
// have no zero meaning (Addr, KeyPrefix, DialTimeout).
func (c *Config) Validate() error {
	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return sserr.Wrap(err, sserr.CodeValidation, "redis: invalid URI")
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return sserr.Newf(sserr.CodeValidation,
				"redis: URI scheme must be redis or rediss, got %q", u.Scheme)
		}
	}
	if c.DB < 0 {
		return sserr.Newf(sserr.CodeValidation, "redis: DB must not be negative, got %d", c.DB)
	}
	if c.Expiration < 0 {
		return sserr.Newf(sserr.CodeValidation, "redis: expiration must not be negative, got %s", c.Expiration)
	}
	if c.DialTimeout < 0 {
		return sserr.Newf(sserr.CodeValidation, "redis: dial timeout must not be negative, got %s", c.DialTimeout)
	}

	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	return nil
}
