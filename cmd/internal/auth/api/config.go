package authapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// ErrConfig is returned for invalid configuration.
var ErrConfig = errors.New("invalid auth api config")

// Config controls the /me HTTP surface.
type Config struct {
	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	TrustProxy   bool  `env:"ITL_AUTH_TRUST_PROXY,default=false"`
	MaxBodyBytes int64 `env:"ITL_AUTH_MAX_BODY_BYTES,default=65536"`

	// EmitSetCookie also sends restore's changed cookies as Set-Cookie headers.
	EmitSetCookie bool `env:"ITL_AUTH_EMIT_SET_COOKIE,default=true"`

	// Per-IP request limits. A zero max disables the limit.
	RestoreRateMax       int           `env:"ITL_AUTH_RESTORE_RATE_MAX,default=60"`
	RestoreRateWindow    time.Duration `env:"ITL_AUTH_RESTORE_RATE_WINDOW,default=1m"`
	CredentialRateMax    int           `env:"ITL_AUTH_CREDENTIAL_RATE_MAX,default=20"`
	CredentialRateWindow time.Duration `env:"ITL_AUTH_CREDENTIAL_RATE_WINDOW,default=1m"`
}

// DefaultConfig returns the built-in policy.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:         64 << 10,
		EmitSetCookie:        true,
		RestoreRateMax:       60,
		RestoreRateWindow:    time.Minute,
		CredentialRateMax:    20,
		CredentialRateWindow: time.Minute,
	}
}

// LoadConfigFromEnv loads and validates Config.
func LoadConfigFromEnv(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c Config) Validate() error {
	switch {
	case c.MaxBodyBytes <= 0:
		return fmt.Errorf("%w: max body bytes must be positive", ErrConfig)
	case c.RestoreRateMax < 0 || c.CredentialRateMax < 0:
		return fmt.Errorf("%w: rate limits must be >= 0", ErrConfig)
	case c.RestoreRateMax > 0 && c.RestoreRateWindow <= 0:
		return fmt.Errorf("%w: restore rate window must be positive", ErrConfig)
	case c.CredentialRateMax > 0 && c.CredentialRateWindow <= 0:
		return fmt.Errorf("%w: credential rate window must be positive", ErrConfig)
	}
	return nil
}
