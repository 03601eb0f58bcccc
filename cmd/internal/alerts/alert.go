// Package alerts is the per-session inbox: system notices addressed to one
// session or broadcast to every session, with read tracking through the
// session's "seen" setting.
package alerts

import (
	"time"
)

// Alert kinds raised by the auth subsystem.
const (
	KindSignedInElsewhere = "signed_in_elsewhere"
	KindNotice            = "notice"
)

// Alert is one inbox entry. ToSession is "" when Broadcast is set.
type Alert struct {
	ID          string    `json:"id" db:"id"`
	Kind        string    `json:"kind" db:"kind"`
	FromSession string    `json:"fromSession,omitempty" db:"from_session"`
	ToSession   string    `json:"toSession,omitempty" db:"to_session"`
	Broadcast   bool      `json:"broadcast" db:"broadcast"`
	Text        string    `json:"text" db:"text"`
	CreatedAt   time.Time `json:"ts" db:"created_at"`
}

// For reports whether a is addressed to sessionID.
func (a Alert) For(sessionID string) bool {
	return a.Broadcast || (sessionID != "" && a.ToSession == sessionID)
}
