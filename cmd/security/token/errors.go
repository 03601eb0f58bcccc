package token

import "errors"

// ErrHMACKeyMissing means ITL_TOKEN_HMAC_KEY is unset or blank. Session and
// evidence keys then hash with plain SHA-256.
var ErrHMACKeyMissing = errors.New("token: " + HMACEnvKey + " is not set")

// ErrHMACKeyTooShort means ITL_TOKEN_HMAC_KEY is set but shorter than the
// caller's minimum.
var ErrHMACKeyTooShort = errors.New("token: " + HMACEnvKey + " is too short")

// ErrEntropy wraps a failure to read randomness for a new key or tracker.
var ErrEntropy = errors.New("token: read randomness")
