package password

import "errors"

var (
	// ErrPasswordTooShort and ErrPasswordTooLong report length policy failures.
	ErrPasswordTooShort = errors.New("password: too short")
	ErrPasswordTooLong  = errors.New("password: too long")
	// ErrWeakPassword reports a weak-pattern rejection.
	ErrWeakPassword = errors.New("password: too weak")
	// ErrInvalidHash reports stored material that is not a usable argon2id hash.
	ErrInvalidHash = errors.New("password: invalid hash")
)
