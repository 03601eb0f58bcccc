package access

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformed: a required field is missing or has the wrong shape.
	ErrMalformed = errors.New("malformed request")
	// ErrNameRejected: the proposed user name is INVALID or RESERVED.
	ErrNameRejected = errors.New("name rejected")
	// ErrNameTaken: the proposed user name already exists.
	ErrNameTaken = errors.New("name taken")
	// ErrAlreadyAttached: the session already has a user.
	ErrAlreadyAttached = errors.New("session already attached")
	// ErrBadCredentials: unknown user, bad token or wrong password.
	ErrBadCredentials = errors.New("bad credentials")
	// ErrNoUser: the session has no user attached.
	ErrNoUser = errors.New("no user on session")
	// ErrNotAuthorized: the user is attached but private access is not held.
	ErrNotAuthorized = errors.New("private access not held")
	// ErrDanglingUser: the session references a user that does not exist.
	ErrDanglingUser = errors.New("session references missing user")
	// ErrThrottled: too many recent credential failures.
	ErrThrottled = errors.New("too many attempts")
	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid access config")
)

// NameError carries the reason a proposed name was rejected.
type NameError struct {
	Check NameCheck
}

func (e NameError) Error() string { return fmt.Sprintf("%v: %s", ErrNameRejected, e.Check) }

func (e NameError) Unwrap() error { return ErrNameRejected }

// ThrottleError carries how long the caller should wait.
type ThrottleError struct {
	RetryAfter time.Duration
}

func (e ThrottleError) Error() string {
	return fmt.Sprintf("%v: retry after %s", ErrThrottled, e.RetryAfter)
}

func (e ThrottleError) Unwrap() error { return ErrThrottled }
