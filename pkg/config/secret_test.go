package config

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecret_Redacted(t *testing.T) {
	t.Parallel()
	s := Secret("hunter2")

	assert.Equal(t, "hunter2", s.Value())
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%#v", s))

	out, err := json.Marshal(struct{ Password Secret }{Password: s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Password":"[REDACTED]"}`, string(out))
}

func TestSecret_LoadedFromEnv(t *testing.T) {
	t.Parallel()
	var cfg struct {
		Password Secret `env:"PASSWORD"`
	}
	err := New().WithEnvPrefix("APP").WithLookup(env(map[string]string{"APP_PASSWORD": "s3cret"})).Load(&cfg)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Password.Value())
}
