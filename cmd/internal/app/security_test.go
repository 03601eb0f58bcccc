package app

import (
	"errors"
	"strings"
	"testing"

	"github.com/sullivanpt/in-true-life-1/cmd/security/token"
)

func TestValidateSecurityConfig(t *testing.T) {
	t.Setenv(token.HMACEnvKey, "")
	if err := ValidateSecurityConfig(Config{}); err != nil {
		t.Fatalf("policy off should pass: %v", err)
	}

	cfg := Config{RequireTokenHMAC: true}
	if err := ValidateSecurityConfig(cfg); !errors.Is(err, token.ErrHMACKeyMissing) {
		t.Fatalf("expected ErrHMACKeyMissing, got %v", err)
	}

	t.Setenv(token.HMACEnvKey, "short")
	err := ValidateSecurityConfig(cfg)
	if !errors.Is(err, token.ErrHMACKeyTooShort) || !strings.Contains(err.Error(), "min 32 bytes") {
		t.Fatalf("expected ErrHMACKeyTooShort with minimum, got %v", err)
	}

	t.Setenv(token.HMACEnvKey, strings.Repeat("k", 32))
	if err := ValidateSecurityConfig(cfg); err != nil {
		t.Fatalf("32 byte key should pass: %v", err)
	}
}
