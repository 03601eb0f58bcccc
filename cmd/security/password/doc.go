// Package password implements the optional Argon2id credential scheme.
//
// Hashes use the PHC string format and verification treats stored hashes as
// untrusted input, refusing parameters far above the configured maxima.
package password
