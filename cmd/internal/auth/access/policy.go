package access

import (
	"time"

	"github.com/sullivanpt/in-true-life-1/cmd/identity"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/evidence"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/session"
)

// HasPrivateAccess reports whether a request presenting ek on sess may read
// user's private data at now. All of the following must hold:
//
//   - user.Session names sess (no login elsewhere since)
//   - the newest keyed evidence record was written for user
//   - that record is no older than window
//   - ek is the key stored in that record
func HasPrivateAccess(sess session.Session, user identity.User, ek string, now time.Time, window time.Duration) bool {
	if sess.ID == "" || user.ID == "" || user.Session != sess.ID {
		return false
	}
	rec, ok := sess.Evidence.LastKeyed()
	if !ok || rec.User != user.ID {
		return false
	}
	if now.Sub(rec.TS) > window {
		return false
	}
	if ek == "" || ek == evidence.MissingKey {
		return false
	}
	return ek == rec.EK
}
