package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/authcenter-go/internal/testutil"
	sserr "github.com/StricklySoft/authcenter-go/pkg/errors"
)

type keyStoreConfig struct {
	URL        string        `env:"JWKS_URL" yaml:"jwks_url" json:"jwks_url" required:"true"`
	TTL        time.Duration `env:"CACHE_TTL" envDefault:"5m" yaml:"cache_ttl" json:"cache_ttl"`
	Algorithms []string      `env:"ALGORITHMS" envDefault:"RS256,ES256" yaml:"algorithms" json:"algorithms"`
	Strict     bool          `env:"STRICT" envDefault:"true" yaml:"strict" json:"strict"`
	MaxBytes   int32         `env:"MAX_BYTES" envDefault:"8192" yaml:"max_bytes" json:"max_bytes"`
	Backend    backendConfig `env:"BACKEND" yaml:"backend" json:"backend"`
}

type backendConfig struct {
	Addr string `env:"ADDR" envDefault:"localhost:6379" yaml:"addr" json:"addr"`
	Key  string `env:"KEY" yaml:"key" json:"key" required:"true"`
}

type checkedConfig struct {
	Issuer string `env:"ISSUER"`
}

func (c *checkedConfig) Validate() error {
	if c.Issuer == "" {
		return errors.New("issuer must be set")
	}
	return nil
}

type structuredCheckConfig struct {
	TTL time.Duration `env:"TTL"`
}

func (c *structuredCheckConfig) Validate() error {
	if c.TTL < 0 {
		return sserr.New(sserr.CodeValidation, "ttl must not be negative")
	}
	return nil
}

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestLoader_Load_RejectsNonStructPointer(t *testing.T) {
	t.Parallel()
	var s string
	for _, target := range []any{nil, keyStoreConfig{}, &s, (*keyStoreConfig)(nil)} {
		testutil.RequireErrorCode(t, New().WithLookup(env(nil)).Load(target), sserr.CodeInternalConfiguration)
	}
}

func TestLoader_Load_DefaultsOnly(t *testing.T) {
	t.Parallel()
	var cfg keyStoreConfig
	err := New().WithLookup(env(map[string]string{
		"JWKS_URL":    "https://auth.example.com/.well-known/jwks.json",
		"BACKEND_KEY": "jwks",
	})).Load(&cfg)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.TTL)
	assert.Equal(t, []string{"RS256", "ES256"}, cfg.Algorithms)
	assert.True(t, cfg.Strict)
	assert.Equal(t, int32(8192), cfg.MaxBytes)
	assert.Equal(t, "localhost:6379", cfg.Backend.Addr)
}

func TestLoader_Load_PriorityOrder(t *testing.T) {
	t.Parallel()
	yamlPath := testutil.TempFile(t, "cfg.yaml", `
jwks_url: https://file.example.com/jwks
cache_ttl: 1m
backend:
  addr: file:6379
  key: from-file
`)
	dotenvPath := testutil.TempFile(t, ".env", "APP_CACHE_TTL=2m\nAPP_BACKEND_ADDR=dotenv:6379\n")

	var cfg keyStoreConfig
	err := New().
		WithEnvPrefix("app").
		WithFile(yamlPath).
		WithDotEnv(dotenvPath).
		WithLookup(env(map[string]string{"APP_CACHE_TTL": "3m"})).
		Load(&cfg)
	require.NoError(t, err)

	assert.Equal(t, "https://file.example.com/jwks", cfg.URL)
	assert.Equal(t, 3*time.Minute, cfg.TTL, "process env wins over dotenv")
	assert.Equal(t, "dotenv:6379", cfg.Backend.Addr, "dotenv wins over file")
	assert.Equal(t, "from-file", cfg.Backend.Key)
}

func TestLoader_Load_JSONFile(t *testing.T) {
	t.Parallel()
	path := testutil.TempFile(t, "cfg.json", `{"jwks_url":"https://json.example.com/jwks","algorithms":["EdDSA"],"backend":{"key":"k"}}`)

	var cfg keyStoreConfig
	require.NoError(t, New().WithFile(path).WithLookup(env(nil)).Load(&cfg))
	assert.Equal(t, []string{"EdDSA"}, cfg.Algorithms)
}

func TestLoader_Load_MissingFilesAreOptional(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	var cfg keyStoreConfig
	err := New().
		WithFile(filepath.Join(dir, "absent.yaml")).
		WithDotEnv(filepath.Join(dir, "absent.env")).
		WithLookup(env(map[string]string{"JWKS_URL": "u", "BACKEND_KEY": "k"})).
		Load(&cfg)
	require.NoError(t, err)
}

func TestLoader_Load_FileErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		loader *Loader
	}{
		{"unsupported extension", New().WithFile(testutil.TempFile(t, "cfg.toml", "a = 1"))},
		{"invalid yaml", New().WithFile(testutil.TempFile(t, "bad.yaml", "jwks_url: [unclosed"))},
		{"invalid json", New().WithFile(testutil.TempFile(t, "bad.json", "{"))},
		{"file traversal", New().WithFile("../etc/cfg.yaml")},
		{"dotenv traversal", New().WithDotEnv("../.env")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var cfg keyStoreConfig
			testutil.RequireErrorCode(t, tt.loader.WithLookup(env(nil)).Load(&cfg), sserr.CodeInternalConfiguration)
		})
	}
}

func TestLoader_Load_InvalidEnvValues(t *testing.T) {
	t.Parallel()
	for key, val := range map[string]string{
		"CACHE_TTL": "soon",
		"STRICT":    "maybe",
		"MAX_BYTES": "lots",
	} {
		t.Run(key, func(t *testing.T) {
			t.Parallel()
			var cfg keyStoreConfig
			err := New().WithLookup(env(map[string]string{
				"JWKS_URL": "u", "BACKEND_KEY": "k", key: val,
			})).Load(&cfg)
			testutil.RequireErrorCode(t, err, sserr.CodeInternalConfiguration)
		})
	}
}

func TestLoader_Load_SliceTrimsEmptyParts(t *testing.T) {
	t.Parallel()
	var cfg keyStoreConfig
	err := New().WithLookup(env(map[string]string{
		"JWKS_URL": "u", "BACKEND_KEY": "k", "ALGORITHMS": " RS256 , ,PS256,",
	})).Load(&cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"RS256", "PS256"}, cfg.Algorithms)
}

func TestLoader_Load_RequiredReportsNestedPath(t *testing.T) {
	t.Parallel()
	var cfg keyStoreConfig
	err := New().WithLookup(env(map[string]string{"JWKS_URL": "u"})).Load(&cfg)
	testutil.RequireErrorCode(t, err, sserr.CodeValidationRequired)
	assert.Contains(t, err.Error(), "Backend.Key")
}

func TestLoader_Load_Validator(t *testing.T) {
	t.Parallel()

	var plain checkedConfig
	testutil.RequireErrorCode(t, New().WithLookup(env(nil)).Load(&plain), sserr.CodeValidation)

	var ok checkedConfig
	require.NoError(t, New().WithLookup(env(map[string]string{"ISSUER": "auth-center"})).Load(&ok))

	var structured structuredCheckConfig
	err := New().WithLookup(env(map[string]string{"TTL": "-1s"})).Load(&structured)
	testutil.RequireErrorCode(t, err, sserr.CodeValidation)
	assert.Contains(t, err.Error(), "ttl must not be negative")
}

func TestMustLoad(t *testing.T) {
	t.Parallel()
	cfg := MustLoad[checkedConfig](New().WithLookup(env(map[string]string{"ISSUER": "x"})))
	assert.Equal(t, "x", cfg.Issuer)

	assert.Panics(t, func() {
		MustLoad[checkedConfig](New().WithLookup(env(nil)))
	})
}
