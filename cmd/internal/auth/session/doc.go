// Package session defines the Session record (a device or browser, never a
// person) and the configuration shared by the restore gate and access control.
//
// A Session owns two secrets. The session key (sk) is long-lived, stored only
// as a digest, and never rotated. The evidence key (ek) is short-lived and is
// reissued whenever the evidence ledger records a change.
package session
