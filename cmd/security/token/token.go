package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

const (
	// HMACEnvKey is the env var name for the key-hashing HMAC secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	HMACEnvKey = "ITL_TOKEN_HMAC_KEY"

	// DefaultKeyBytes is the entropy of session and evidence keys.
	DefaultKeyBytes = 24

	trackerLen = 10
)

// trackerEncoding is lowercase base32 without padding, readable in logs.
var trackerEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

// NewOpaque returns nBytes of crypto randomness, base64url encoded without
// padding. It is used for session keys and evidence keys.
func NewOpaque(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = DefaultKeyBytes
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewTracker returns a short random label used in public display names
// ("s-<tracker>", "u-<tracker>"). It is not a secret.
func NewTracker() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	return trackerEncoding.EncodeToString(b)[:trackerLen], nil
}

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// HMACKeyFromEnv returns the trimmed ITL_TOKEN_HMAC_KEY bytes. It fails with
// ErrHMACKeyMissing or, below minBytes, ErrHMACKeyTooShort.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return b, nil
}

// HMACEnabled reports whether the env key is present (non-empty after trim).
func HMACEnabled() bool {
	return strings.TrimSpace(os.Getenv(HMACEnvKey)) != ""
}

// Hasher turns secret keys into the lookup digest stored server-side.
// The plain session key is never persisted.
type Hasher struct {
	key []byte
}

// NewHasher returns an HMAC hasher when key is non-empty, SHA-256 otherwise.
func NewHasher(key []byte) Hasher {
	return Hasher{key: key}
}

// HasherFromEnv builds a Hasher from ITL_TOKEN_HMAC_KEY.
func HasherFromEnv() Hasher {
	key := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if key == "" {
		return Hasher{}
	}
	return Hasher{key: []byte(key)}
}

// HMAC reports whether the hasher is keyed.
func (h Hasher) HMAC() bool { return len(h.key) > 0 }

// Hash returns the 64-char hex digest of secret.
func (h Hasher) Hash(secret string) string {
	if len(h.key) == 0 {
		return HashSHA256Hex(secret)
	}
	return HashHMACSHA256Hex(secret, h.key)
}
