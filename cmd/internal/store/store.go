// Package store is the repository behind sessions, users and alerts.
//
// Every mutation that the original read-modify-write flow left racy is a
// single atomic operation here: session creation with its seed evidence,
// compare-and-append of evidence, and attach/detach of the session<->user
// pair. MemoryStore serializes with one mutex; PostgresStore uses
// transactions with row locks.
package store

import (
	"context"

	"github.com/sullivanpt/in-true-life-1/cmd/identity"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/alerts"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/evidence"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/session"
)

// Decider inspects the locked ledger and returns the record to append, if any.
type Decider func(evidence.Ledger) (evidence.Record, bool, error)

// Marker builds the attachment record from the locked ledger.
type Marker func(evidence.Ledger) evidence.Record

// Store is the full repository surface. Consumers depend on narrower
// interfaces declared next to them.
type Store interface {
	CreateSession(ctx context.Context, s session.Session) error
	SessionByKey(ctx context.Context, keyHash string) (session.Session, error)
	SessionByID(ctx context.Context, id string) (session.Session, error)
	AppendEvidenceIfChanged(ctx context.Context, sessionID string, decide Decider) (evidence.Record, bool, error)
	AppendActivity(ctx context.Context, sessionID string, a session.Activity) error
	AppendLogin(ctx context.Context, sessionID string, l session.Login) error
	MergeSettings(ctx context.Context, sessionID string, patch session.Settings) (session.Settings, error)
	ClearSettings(ctx context.Context, sessionID string) error

	CreateUser(ctx context.Context, u identity.User) error
	UserByID(ctx context.Context, id string) (identity.User, error)
	UserByName(ctx context.Context, name string) (identity.User, error)
	UserNameExists(ctx context.Context, name string) (bool, error)
	ReplaceUser(ctx context.Context, u identity.User) error

	Attach(ctx context.Context, sessionID, userID string, mark Marker) (previousSession string, err error)
	Detach(ctx context.Context, sessionID, userID string) error

	PostAlert(ctx context.Context, a alerts.Alert) error
	AlertsFor(ctx context.Context, sessionID string, limit int) ([]alerts.Alert, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// DefaultAlertLimit caps AlertsFor when limit <= 0.
const DefaultAlertLimit = 50

func userNotFound(op string) error {
	return identity.NotFoundError{Op: op, Resource: "user"}
}
