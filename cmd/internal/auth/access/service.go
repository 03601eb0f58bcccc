// Package access links sessions to users and decides when a session holds
// private access to its user. It also implements the user lifecycle built on
// those two primitives: create, password login, logout, lock and forget.
package access

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sullivanpt/in-true-life-1/cmd/identity"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/alerts"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/audit"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/evidence"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/logintoken"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/session"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/clock"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/metrics"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/store"
)

// Store is the persistence access control needs.
type Store interface {
	UserByID(ctx context.Context, id string) (identity.User, error)
	UserByName(ctx context.Context, name string) (identity.User, error)
	UserNameExists(ctx context.Context, name string) (bool, error)
	CreateUser(ctx context.Context, u identity.User) error
	ReplaceUser(ctx context.Context, u identity.User) error

	Attach(ctx context.Context, sessionID, userID string, mark store.Marker) (string, error)
	Detach(ctx context.Context, sessionID, userID string) error

	AppendActivity(ctx context.Context, sessionID string, a session.Activity) error
	AppendLogin(ctx context.Context, sessionID string, l session.Login) error
	MergeSettings(ctx context.Context, sessionID string, patch session.Settings) (session.Settings, error)
	ClearSettings(ctx context.Context, sessionID string) error
}

// Notifier posts alerts. *alerts.Service satisfies it.
type Notifier interface {
	Post(ctx context.Context, a alerts.Alert) (alerts.Alert, error)
}

// Options are the optional collaborators.
type Options struct {
	Scheme   identity.CredentialScheme
	Tokens   logintoken.Codec
	Clock    clock.Clock
	Audit    audit.Sink
	Metrics  *metrics.Metrics
	Log      *slog.Logger
	Alerts   Notifier
	Throttle *FailureWindow
}

// Service implements access control over a Store.
type Service struct {
	window   session.Config
	reserved map[string]struct{}

	store    Store
	scheme   identity.CredentialScheme
	tokens   logintoken.Codec
	clock    clock.Clock
	audit    audit.Sink
	metrics  *metrics.Metrics
	log      *slog.Logger
	alerts   Notifier
	throttle *FailureWindow
}

// New builds a Service. sessCfg supplies the private access window.
func New(sessCfg session.Config, cfg Config, st Store, opts Options) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("access: nil store")
	}
	if sessCfg.PrivateAccessWindow <= 0 {
		return nil, fmt.Errorf("%w: private access window must be positive", ErrConfig)
	}
	reserved, err := cfg.Reserved()
	if err != nil {
		return nil, err
	}

	s := &Service{
		window:   sessCfg,
		reserved: make(map[string]struct{}, len(reserved)),
		store:    st,
		scheme:   opts.Scheme,
		tokens:   opts.Tokens,
		clock:    opts.Clock,
		audit:    opts.Audit,
		metrics:  opts.Metrics,
		log:      opts.Log,
		alerts:   opts.Alerts,
		throttle: opts.Throttle,
	}
	for _, n := range reserved {
		s.reserved[identity.NormalizeName(n)] = struct{}{}
	}
	if s.scheme == nil {
		s.scheme = identity.PlaintextScheme{}
	}
	if s.tokens == nil {
		s.tokens = logintoken.Plain{}
	}
	if s.clock == nil {
		s.clock = clock.System{}
	}
	if s.audit == nil {
		s.audit = audit.Nop{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s, nil
}

// Caller is the verified session behind a request and what it presented.
type Caller struct {
	Session     session.Session
	EvidenceKey string
	IP          string
	UserAgent   string
}

func (c Caller) event(action string, userID string) audit.Event {
	return audit.Event{
		Action:      action,
		SessionID:   c.Session.ID,
		SessionName: c.Session.Name,
		UserID:      userID,
		IP:          c.IP,
		UserAgent:   c.UserAgent,
	}
}

// UserOnSession resolves the user attached to c.Session. ok is false when
// none is attached. A reference to a missing user is ErrDanglingUser.
func (s *Service) UserOnSession(ctx context.Context, c Caller) (u identity.User, ok bool, err error) {
	if c.Session.User == "" {
		return identity.User{}, false, nil
	}
	u, err = s.store.UserByID(ctx, c.Session.User)
	if identity.IsNotFound(err) {
		s.log.ErrorContext(ctx, "auth.user.dangling", "session", c.Session.Name)
		return identity.User{}, false, fmt.Errorf("%w: session %s", ErrDanglingUser, c.Session.Name)
	}
	if err != nil {
		return identity.User{}, false, err
	}
	return u, true, nil
}

// Authorized applies HasPrivateAccess with the configured window and clock.
func (s *Service) Authorized(c Caller, u identity.User) bool {
	ok := HasPrivateAccess(c.Session, u, c.EvidenceKey, s.clock.Now(), s.window.PrivateAccessWindow)
	s.metrics.PrivateAccess(ok)
	return ok
}

// Attach links c.Session and u, recording the attachment as evidence bound to
// the session's current evidence key. When u was attached elsewhere, that
// session receives a signed_in_elsewhere alert.
func (s *Service) Attach(ctx context.Context, c Caller, u identity.User) error {
	now := s.clock.Now()
	prev, err := s.store.Attach(ctx, c.Session.ID, u.ID, func(l evidence.Ledger) evidence.Record {
		return evidence.Attachment(l, u.ID, now)
	})
	if err != nil {
		return err
	}

	ev := c.event(audit.UserAttached, u.ID)
	ev.TS = now
	s.audit.Record(ctx, ev)

	if prev != "" && s.alerts != nil {
		_, err := s.alerts.Post(ctx, alerts.Alert{
			Kind:        alerts.KindSignedInElsewhere,
			FromSession: c.Session.ID,
			ToSession:   prev,
			Text:        u.Name + " signed in on another device",
		})
		if err != nil {
			// The attach already happened; a lost alert is not fatal.
			s.log.WarnContext(ctx, "auth.attach.alert.fail", "session", c.Session.Name, "err", err)
		}
	}
	return nil
}

// Detach unlinks c.Session and u. Detaching a pair that is not linked is a no-op.
func (s *Service) Detach(ctx context.Context, c Caller, u identity.User) error {
	if err := s.store.Detach(ctx, c.Session.ID, u.ID); err != nil {
		return err
	}
	ev := c.event(audit.UserDetached, u.ID)
	ev.TS = s.clock.Now()
	s.audit.Record(ctx, ev)
	return nil
}

func (s *Service) record(ctx context.Context, c Caller, action, userID string, meta map[string]any) {
	ev := c.event(action, userID)
	ev.TS = s.clock.Now()
	ev.Meta = meta
	s.audit.Record(ctx, ev)
}
