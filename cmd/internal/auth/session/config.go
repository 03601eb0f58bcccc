package session

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds the cookie and policy constants used by the restore gate and
// access control. It is passed to both at construction.
type Config struct {
	// SessionCookie and EvidenceCookie name the sk and ek cookies.
	SessionCookie  string `env:"ITL_SESSION_COOKIE,default=sk"`
	EvidenceCookie string `env:"ITL_EVIDENCE_COOKIE,default=ek"`

	// SessionCookieMaxAge is the sk lifetime. The ek is a browser-session cookie.
	SessionCookieMaxAge time.Duration `env:"ITL_SESSION_COOKIE_MAX_AGE,default=8760h"`

	CookiePath     string `env:"ITL_COOKIE_PATH,default=/"`
	CookieDomain   string `env:"ITL_COOKIE_DOMAIN"`
	CookieSameSite string `env:"ITL_COOKIE_SAMESITE"`

	// ForceSecure sets the Secure attribute even when the caller does not ask.
	ForceSecure bool `env:"ITL_COOKIE_FORCE_SECURE,default=false"`

	// KeyBytes is the entropy of minted sk and ek values.
	KeyBytes int `env:"ITL_SESSION_KEY_BYTES,default=24"`

	// PrivateAccessWindow bounds how long after an attachment private access holds.
	PrivateAccessWindow time.Duration `env:"ITL_PRIVATE_ACCESS_WINDOW,default=15m"`

	// Evidence submission limits.
	MaxSignals     int `env:"ITL_EVIDENCE_MAX_SIGNALS,default=32"`
	MaxSignalValue int `env:"ITL_EVIDENCE_MAX_VALUE_LEN,default=512"`
}

// DefaultConfig returns the built-in policy.
func DefaultConfig() Config {
	return Config{
		SessionCookie:       "sk",
		EvidenceCookie:      "ek",
		SessionCookieMaxAge: 365 * 24 * time.Hour,
		CookiePath:          "/",
		KeyBytes:            24,
		PrivateAccessWindow: 15 * time.Minute,
		MaxSignals:          32,
		MaxSignalValue:      512,
	}
}

// LoadConfigFromEnv loads and validates Config.
//
// Optional:
//   - ITL_SESSION_COOKIE, ITL_EVIDENCE_COOKIE
//   - ITL_SESSION_COOKIE_MAX_AGE, ITL_PRIVATE_ACCESS_WINDOW (Go durations)
//   - ITL_COOKIE_PATH, ITL_COOKIE_DOMAIN, ITL_COOKIE_SAMESITE, ITL_COOKIE_FORCE_SECURE
//   - ITL_SESSION_KEY_BYTES (16..64)
//   - ITL_EVIDENCE_MAX_SIGNALS, ITL_EVIDENCE_MAX_VALUE_LEN
//
// Returns an error wrapping ErrConfig if configuration is invalid.
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

// Validate checks invariants between fields.
func (c Config) Validate() error {
	switch {
	case c.SessionCookie == "" || c.EvidenceCookie == "":
		return fmt.Errorf("%w: cookie names must be set", ErrConfig)
	case c.SessionCookie == c.EvidenceCookie:
		return fmt.Errorf("%w: session and evidence cookies must differ", ErrConfig)
	case c.SessionCookieMaxAge <= 0:
		return fmt.Errorf("%w: session cookie max age must be positive", ErrConfig)
	case c.PrivateAccessWindow <= 0:
		return fmt.Errorf("%w: private access window must be positive", ErrConfig)
	case c.KeyBytes < 16 || c.KeyBytes > 64:
		return fmt.Errorf("%w: key bytes out of range [16..64]", ErrConfig)
	case c.MaxSignals <= 0 || c.MaxSignalValue <= 0:
		return fmt.Errorf("%w: evidence limits must be positive", ErrConfig)
	}
	switch c.CookieSameSite {
	case "", "Strict", "Lax", "None":
	default:
		return fmt.Errorf("%w: unsupported SameSite %q", ErrConfig, c.CookieSameSite)
	}
	return nil
}
