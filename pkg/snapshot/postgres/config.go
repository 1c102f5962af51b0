// Package postgres stores JWKS snapshots in a PostgreSQL table.
//
// One row per JWKS URL, keyed by the URL's SHA-256. The document column is
// JSONB so operators can inspect stored key sets with SQL:
//
//	SELECT jwks_url, document->>'fetched_at' FROM jwks_snapshots;
package postgres

import (
	"net/url"
	"strings"
	"time"

	"github.com/StricklySoft/authcenter-go/pkg/config"
	sserr "github.com/StricklySoft/authcenter-go/pkg/errors"
)

const (
	DefaultTable          = "jwks_snapshots"
	DefaultMaxConns       = 4
	DefaultConnectTimeout = 10 * time.Second

	// DefaultHealthTimeout bounds Health when the context has no deadline.
	DefaultHealthTimeout = 5 * time.Second
)

// Config holds the PostgreSQL connection settings.
type Config struct {
	// DSN is a postgres:// connection URI. It usually carries a password.
	DSN config.Secret `yaml:"dsn" json:"-" env:"DSN"`

	// Table may be schema-qualified, e.g. "auth.jwks_snapshots".
	Table string `yaml:"table" json:"table" env:"TABLE" envDefault:"jwks_snapshots"`

	MaxConns       int32         `yaml:"max_conns" json:"max_conns" env:"MAX_CONNS" envDefault:"4"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout" env:"CONNECT_TIMEOUT" envDefault:"10s"`

	// AutoMigrate creates the table on New when it does not exist.
	AutoMigrate bool `yaml:"auto_migrate" json:"auto_migrate" env:"AUTO_MIGRATE" envDefault:"true"`
}

// Validate checks the configuration and applies defaults to zero fields.
func (c *Config) Validate() error {
	if c.DSN.Value() == "" {
		return sserr.New(sserr.CodeValidationRequired, "postgres: DSN is required")
	}
	u, err := url.Parse(c.DSN.Value())
	if err != nil {
		return sserr.New(sserr.CodeValidation, "postgres: DSN is not a valid URI")
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return sserr.Newf(sserr.CodeValidation,
			"postgres: DSN scheme must be postgres or postgresql, got %q", u.Scheme)
	}

	if c.Table == "" {
		c.Table = DefaultTable
	}
	if !validTable(c.Table) {
		return sserr.Newf(sserr.CodeValidation, "postgres: invalid table name %q", c.Table)
	}
	if c.MaxConns < 0 {
		return sserr.Newf(sserr.CodeValidation, "postgres: max conns must not be negative, got %d", c.MaxConns)
	}
	if c.MaxConns == 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.ConnectTimeout < 0 {
		return sserr.Newf(sserr.CodeValidation,
			"postgres: connect timeout must not be negative, got %s", c.ConnectTimeout)
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	return nil
}

// validTable accepts name or schema.name made of letters, digits and
// underscores, not starting with a digit.
func validTable(table string) bool {
	parts := strings.Split(table, ".")
	if len(parts) > 2 {
		return false
	}
	for _, p := range parts {
		if p == "" || (p[0] >= '0' && p[0] <= '9') {
			return false
		}
		for _, r := range p {
			if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
				return false
			}
		}
	}
	return true
}
