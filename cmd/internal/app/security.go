package app

import (
	"errors"
	"fmt"

	"github.com/sullivanpt/in-true-life-1/cmd/security/token"
)

const minTokenHMACKeyBytes = 32

// ValidateSecurityConfig enforces the startup security policy. Session and
// evidence keys are stored as digests; under ITL_REQUIRE_TOKEN_HMAC those
// digests must be keyed.
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	// Measured in bytes: the key is used raw.
	if _, err := token.HMACKeyFromEnv(minTokenHMACKeyBytes); err != nil {
		if errors.Is(err, token.ErrHMACKeyTooShort) {
			return fmt.Errorf("security policy: ITL_REQUIRE_TOKEN_HMAC=true: %w (min %d bytes)", err, minTokenHMACKeyBytes)
		}
		return fmt.Errorf("security policy: ITL_REQUIRE_TOKEN_HMAC=true: %w", err)
	}

	if !token.HasherFromEnv().HMAC() {
		return errors.New("security policy: ITL_REQUIRE_TOKEN_HMAC=true but key hasher is not in HMAC mode")
	}

	return nil
}
