package session

import (
	"strings"
	"time"
)

// Config defines token verification parameters.
//
// At least one of SecretKeyHex or PublicKeyHex must be set. When SecretKeyHex is set,
// the public key is derived from it and PublicKeyHex is ignored.
type Config struct {
	// Issuer is the required value of the "iss" claim.
	Issuer string

	// AccessTokenTTL is used only when issuing tokens.
	AccessTokenTTL time.Duration

	// ClockSkew is the tolerated clock difference during validation.
	ClockSkew time.Duration

	SecretKeyHex string
	PublicKeyHex string
}

// DefaultConfig returns defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		Issuer:         "tuthub",
		AccessTokenTTL: 15 * time.Minute,
		ClockSkew:      30 * time.Second,
	}
}

// Validate checks invariants and returns ErrConfig on violation.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Issuer) == "" {
		return ErrConfig
	}
	if c.AccessTokenTTL <= 0 || c.ClockSkew < 0 {
		return ErrConfig
	}
	if strings.TrimSpace(c.SecretKeyHex) == "" && strings.TrimSpace(c.PublicKeyHex) == "" {
		return ErrConfig
	}
	return nil
}
