package access

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/sullivanpt/in-true-life-1/cmd/identity"
)

// DefaultReservedNames is the built-in denylist.
var DefaultReservedNames = []string{"profane"}

// Config holds access-control policy that is not shared with the gate.
type Config struct {
	// ReservedNames extends DefaultReservedNames.
	ReservedNames []string `env:"ITL_ACCESS_RESERVED_NAMES"`
	// ReservedNamesFile is an optional YAML file: `reserved: [a, b]`.
	ReservedNamesFile string `env:"ITL_ACCESS_RESERVED_NAMES_FILE"`

	// CredentialScheme selects how passwords are sealed: plaintext or argon2id.
	CredentialScheme string `env:"ITL_CREDENTIAL_SCHEME,default=plaintext"`

	// PasswordFailMax failures within PasswordFailWindow throttle a user.
	PasswordFailMax    int           `env:"ITL_AUTH_PASSWORD_FAIL_MAX,default=5"`
	PasswordFailWindow time.Duration `env:"ITL_AUTH_PASSWORD_FAIL_WINDOW,default=15m"`
}

type reservedFile struct {
	Reserved []string `yaml:"reserved"`
}

// LoadConfigFromEnv reads Config and validates it.
func LoadConfigFromEnv(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.CredentialScheme)) {
	case identity.SchemePlaintext, identity.SchemeArgon2id:
	default:
		return Config{}, fmt.Errorf("%w: unknown credential scheme %q", ErrConfig, cfg.CredentialScheme)
	}
	if cfg.PasswordFailMax < 0 {
		return Config{}, fmt.Errorf("%w: password fail max must be >= 0", ErrConfig)
	}
	if cfg.PasswordFailMax > 0 && cfg.PasswordFailWindow <= 0 {
		return Config{}, fmt.Errorf("%w: password fail window must be positive", ErrConfig)
	}
	return cfg, nil
}

// Reserved returns the full denylist: defaults, env and file.
func (c Config) Reserved() ([]string, error) {
	out := append([]string{}, DefaultReservedNames...)
	for _, n := range c.ReservedNames {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	if c.ReservedNamesFile == "" {
		return out, nil
	}

	b, err := os.ReadFile(c.ReservedNamesFile)
	if err != nil {
		return nil, fmt.Errorf("%w: reserved names file: %v", ErrConfig, err)
	}
	var f reservedFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%w: reserved names file: %v", ErrConfig, err)
	}
	for _, n := range f.Reserved {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out, nil
}
