package token

import (
	"slices"
	"strings"
	"time"

	sserr "github.com/StricklySoft/authcenter-go/pkg/errors"
)

const (
	// DefaultIssuer is the iss value the authority puts in its tokens.
	DefaultIssuer = "auth-center"

	// DefaultMaxTokenSize caps the length of a raw token in bytes.
	DefaultMaxTokenSize = 8192
)

// asymmetricAlgorithms are the only JWS algorithms a Verifier can be
// configured to accept.
var asymmetricAlgorithms = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

// DefaultAlgorithms returns every supported asymmetric algorithm.
func DefaultAlgorithms() []string {
	return slices.Clone(asymmetricAlgorithms)
}

// Config holds the fixed verification policy.
type Config struct {
	// Issuer must equal the token's iss claim exactly.
	Issuer string

	// Algorithms is the allow-list of JWS algorithms. Empty means
	// DefaultAlgorithms. Symmetric algorithms and "none" are rejected by
	// Validate.
	Algorithms []string

	// ClockSkew is tolerated on exp and nbf. Zero means none.
	ClockSkew time.Duration

	// MaxTokenSize is the longest raw token accepted, in bytes. Zero means
	// DefaultMaxTokenSize.
	MaxTokenSize int
}

func (c Config) withDefaults() Config {
	if len(c.Algorithms) == 0 {
		c.Algorithms = DefaultAlgorithms()
	}
	if c.MaxTokenSize == 0 {
		c.MaxTokenSize = DefaultMaxTokenSize
	}
	return c
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.Issuer == "" {
		return sserr.New(sserr.CodeValidationRequired, "token: issuer is required")
	}
	for _, alg := range c.Algorithms {
		if strings.HasPrefix(strings.ToUpper(alg), "HS") || strings.EqualFold(alg, "none") {
			return sserr.Newf(sserr.CodeValidation,
				"token: algorithm %q is not asymmetric and can never be accepted", alg)
		}
		if !slices.Contains(asymmetricAlgorithms, alg) {
			return sserr.Newf(sserr.CodeValidation, "token: unsupported algorithm %q", alg)
		}
	}
	if c.ClockSkew < 0 {
		return sserr.Newf(sserr.CodeValidation, "token: clock skew must not be negative, got %s", c.ClockSkew)
	}
	if c.MaxTokenSize < 0 {
		return sserr.Newf(sserr.CodeValidation, "token: max token size must not be negative, got %d", c.MaxTokenSize)
	}
	return nil
}
