package password

import (
	"context"
	"fmt"
	"runtime"

	"github.com/sethvargo/go-envconfig"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy controls password validation and anti-DoS boundaries.
type Policy struct {
	MinLength int
	MaxLength int
	// If true, enable an extra, minimal weak-pattern rejection.
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns the baseline used when no overrides are set.
func DefaultConfig() Config {
	// Parallelism follows the host but stays within [1..4] for containers.
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above; safe conversion.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      8,
			MaxLength:      256,
			RejectVeryWeak: false,
		},
	}
}

// envOverrides mirrors the env surface. Zero values mean "keep default".
type envOverrides struct {
	MinLen         int    `env:"ITL_PASSWORD_MIN_LEN"`
	MaxLen         int    `env:"ITL_PASSWORD_MAX_LEN"`
	RejectVeryWeak *bool  `env:"ITL_PASSWORD_REJECT_VERY_WEAK,noinit"`
	MemoryKiB      uint32 `env:"ITL_ARGON2_MEMORY_KIB"`
	Iterations     uint32 `env:"ITL_ARGON2_ITERATIONS"`
	Parallelism    uint32 `env:"ITL_ARGON2_PARALLELISM"`
	SaltLen        uint32 `env:"ITL_ARGON2_SALT_LEN"`
	KeyLen         uint32 `env:"ITL_ARGON2_KEY_LEN"`
}

// FromEnv loads config from environment variables on top of DefaultConfig.
//
// Env surface:
//   - ITL_PASSWORD_MIN_LEN, ITL_PASSWORD_MAX_LEN
//   - ITL_PASSWORD_REJECT_VERY_WEAK (true/false)
//   - ITL_ARGON2_MEMORY_KIB, ITL_ARGON2_ITERATIONS, ITL_ARGON2_PARALLELISM
//   - ITL_ARGON2_SALT_LEN, ITL_ARGON2_KEY_LEN
func FromEnv(ctx context.Context) (Config, error) {
	var env envOverrides
	if err := envconfig.Process(ctx, &env); err != nil {
		return Config{}, fmt.Errorf("password config: %w", err)
	}
	return applyOverrides(DefaultConfig(), env)
}

func applyOverrides(cfg Config, env envOverrides) (Config, error) {
	if env.MinLen != 0 {
		if err := inRange("ITL_PASSWORD_MIN_LEN", env.MinLen, 1, 1024); err != nil {
			return Config{}, err
		}
		cfg.Policy.MinLength = env.MinLen
	}
	if env.MaxLen != 0 {
		if err := inRange("ITL_PASSWORD_MAX_LEN", env.MaxLen, 1, 4096); err != nil {
			return Config{}, err
		}
		cfg.Policy.MaxLength = env.MaxLen
	}
	if env.RejectVeryWeak != nil {
		cfg.Policy.RejectVeryWeak = *env.RejectVeryWeak
	}

	if env.MemoryKiB != 0 {
		if err := inRange("ITL_ARGON2_MEMORY_KIB", int(env.MemoryKiB), 8*1024, 1024*1024); err != nil {
			return Config{}, err
		}
		cfg.Params.MemoryKiB = env.MemoryKiB
	}
	if env.Iterations != 0 {
		if err := inRange("ITL_ARGON2_ITERATIONS", int(env.Iterations), 1, 20); err != nil {
			return Config{}, err
		}
		cfg.Params.Iterations = env.Iterations
	}
	if env.Parallelism != 0 {
		if err := inRange("ITL_ARGON2_PARALLELISM", int(env.Parallelism), 1, 64); err != nil {
			return Config{}, err
		}
		cfg.Params.Parallelism = uint8(env.Parallelism) // #nosec G115 -- bounded to [1..64] above.
	}
	if env.SaltLen != 0 {
		if err := inRange("ITL_ARGON2_SALT_LEN", int(env.SaltLen), 8, 64); err != nil {
			return Config{}, err
		}
		cfg.Params.SaltLength = env.SaltLen
	}
	if env.KeyLen != 0 {
		if err := inRange("ITL_ARGON2_KEY_LEN", int(env.KeyLen), 16, 64); err != nil {
			return Config{}, err
		}
		cfg.Params.KeyLength = env.KeyLen
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength,
			cfg.Policy.MaxLength,
		)
	}

	return cfg, nil
}

func inRange(key string, v, minVal, maxVal int) error {
	if v < minVal || v > maxVal {
		return fmt.Errorf("%s: out of range [%d..%d]", key, minVal, maxVal)
	}
	return nil
}
