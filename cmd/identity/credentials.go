package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sullivanpt/in-true-life-1/cmd/security/password"
)

// Credential scheme names accepted by SchemeByName.
const (
	SchemePlaintext = "plaintext"
	SchemeArgon2id  = "argon2id"
)

// ErrUnknownScheme is returned by SchemeByName for unsupported names.
var ErrUnknownScheme = errors.New("identity: unknown credential scheme")

// CredentialScheme turns a submitted secret into stored credential material
// and checks secrets against it. The access layer delegates all password
// handling here.
type CredentialScheme interface {
	Name() string
	Seal(secret string) (string, error)
	Verify(stored, secret string) (bool, error)
}

// PlaintextScheme stores the secret as-is and compares with ==.
//
// Known gap: no hashing, no salt, and the comparison is not constant-time.
// It exists for prototyping parity only; select argon2id for real deployments.
type PlaintextScheme struct{}

func (PlaintextScheme) Name() string { return SchemePlaintext }

func (PlaintextScheme) Seal(secret string) (string, error) {
	if secret == "" {
		return "", OpError{Op: "identity.Seal", Kind: ErrInvalidInput, Msg: "empty secret"}
	}
	return secret, nil
}

func (PlaintextScheme) Verify(stored, secret string) (bool, error) {
	return stored != "" && stored == secret, nil
}

// Argon2idScheme hashes with Argon2id via security/password.
type Argon2idScheme struct {
	cfg password.Config
}

// NewArgon2idScheme wraps an explicit password config.
func NewArgon2idScheme(cfg password.Config) Argon2idScheme {
	return Argon2idScheme{cfg: cfg}
}

func (Argon2idScheme) Name() string { return SchemeArgon2id }

func (s Argon2idScheme) Seal(secret string) (string, error) {
	enc, err := s.cfg.Hash(secret)
	if err != nil {
		switch {
		case errors.Is(err, password.ErrPasswordTooShort),
			errors.Is(err, password.ErrPasswordTooLong),
			errors.Is(err, password.ErrWeakPassword):
			return "", OpError{Op: "identity.Seal", Kind: ErrInvalidInput, Msg: err.Error()}
		default:
			return "", err
		}
	}
	return enc, nil
}

func (s Argon2idScheme) Verify(stored, secret string) (bool, error) {
	if stored == "" {
		return false, nil
	}
	ok, err := s.cfg.Verify(stored, secret)
	if errors.Is(err, password.ErrInvalidHash) {
		// Material sealed by another scheme never matches.
		return false, nil
	}
	return ok, err
}

// SchemeByName resolves a configured scheme. Argon2id parameters come from
// the ITL_ARGON2_* / ITL_PASSWORD_* environment.
func SchemeByName(ctx context.Context, name string) (CredentialScheme, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", SchemePlaintext:
		return PlaintextScheme{}, nil
	case SchemeArgon2id:
		cfg, err := password.FromEnv(ctx)
		if err != nil {
			return nil, err
		}
		return NewArgon2idScheme(cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, name)
	}
}
