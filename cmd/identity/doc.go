// Package identity defines the User record, its error kinds, and the
// pluggable credential schemes used to check passwords.
//
// A User is a verified person, independent of any device. It carries a
// back-reference to the session currently authenticated as that user.
package identity
