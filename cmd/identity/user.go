package identity

import (
	"slices"
	"time"
)

// DisabledForget marks a user scrubbed by the forget operation.
const DisabledForget = "forget"

// User is a verified person. Session is the id of the session most recently
// attached to this user, or "" after logout.
type User struct {
	ID         string    `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	Credential string    `json:"-" db:"credential"`
	Session    string    `json:"session,omitempty" db:"session_id"`
	Disabled   string    `json:"disabled,omitempty" db:"disabled"`
	Tags       []string  `json:"tags" db:"tags"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

// HasCredential reports whether a password strategy is available.
func (u User) HasCredential() bool { return u.Credential != "" && u.Disabled == "" }

// Clone returns a copy that shares no slices with u.
func (u User) Clone() User {
	u.Tags = slices.Clone(u.Tags)
	return u
}

// Public is the view of a user safe to return to its own session.
type Public struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// Public returns the client-facing projection.
func (u User) Public() Public {
	tags := u.Tags
	if tags == nil {
		tags = []string{}
	}
	return Public{ID: u.ID, Name: u.Name, Tags: tags}
}

// Scrubbed returns the record left behind by forget: same id, a throwaway
// name, no credential, no session, disabled.
func (u User) Scrubbed(name string) User {
	return User{
		ID:        u.ID,
		Name:      name,
		Disabled:  DisabledForget,
		Tags:      []string{},
		CreatedAt: u.CreatedAt,
	}
}
