// Package token mints the opaque secrets handed to clients and hashes them
// for storage.
//
// Session keys are looked up by digest: SHA-256 by default, HMAC-SHA256 when
// ITL_TOKEN_HMAC_KEY is set. Startup policy may require the HMAC mode.
package token
