// Package minio stores JWKS snapshots as objects in a MinIO or other
// S3-compatible bucket.
//
// Each JWKS URL maps to the object Prefix + SnapshotKey(url) + ".json".
package minio

import (
	"strings"
	"time"

	"github.com/StricklySoft/authcenter-go/pkg/config"
	sserr "github.com/StricklySoft/authcenter-go/pkg/errors"
)

const (
	DefaultEndpoint = "localhost:9000"
	DefaultRegion   = "us-east-1"
	DefaultBucket   = "authcenter"
	DefaultPrefix   = "jwks/"

	// DefaultHealthTimeout bounds Health when the context has no deadline.
	DefaultHealthTimeout = 5 * time.Second
)

// Config holds the object storage settings.
type Config struct {
	Endpoint  string        `yaml:"endpoint" json:"endpoint" env:"ENDPOINT" envDefault:"localhost:9000"`
	AccessKey string        `yaml:"access_key" json:"access_key" env:"ACCESS_KEY"`
	SecretKey config.Secret `yaml:"secret_key" json:"-" env:"SECRET_KEY"`
	Region    string        `yaml:"region" json:"region" env:"REGION" envDefault:"us-east-1"`
	UseSSL    bool          `yaml:"use_ssl" json:"use_ssl" env:"USE_SSL"`

	Bucket string `yaml:"bucket" json:"bucket" env:"BUCKET" envDefault:"authcenter"`
	Prefix string `yaml:"prefix" json:"prefix" env:"PREFIX" envDefault:"jwks/"`

	// CreateBucket makes the bucket on New when it does not exist.
	CreateBucket bool `yaml:"create_bucket" json:"create_bucket" env:"CREATE_BUCKET"`
}

// Validate checks the configuration and applies defaults to zero fields.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	if strings.Contains(c.Endpoint, "://") {
		return sserr.Newf(sserr.CodeValidation,
			"minio: endpoint must be host:port without a scheme, got %q", c.Endpoint)
	}
	if c.AccessKey == "" {
		return sserr.New(sserr.CodeValidationRequired, "minio: access key is required")
	}
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.Bucket == "" {
		c.Bucket = DefaultBucket
	}
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if strings.HasPrefix(c.Prefix, "/") {
		return sserr.Newf(sserr.CodeValidation, "minio: prefix must not start with '/', got %q", c.Prefix)
	}
	return nil
}
