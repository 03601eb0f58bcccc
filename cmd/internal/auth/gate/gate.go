// Package gate implements session restore: it maps the cookies a client
// presents onto a Session, creating one when needed, and decides which
// cookies the client must be sent back.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/sullivanpt/in-true-life-1/cmd/internal/audit"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/cookie"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/evidence"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/session"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/clock"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/metrics"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/reqlog"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/store"
	"github.com/sullivanpt/in-true-life-1/cmd/security/token"
)

// ErrUnauthorized is returned by Verify when the session key is absent or unknown.
var ErrUnauthorized = errors.New("unauthorized")

// Store is the persistence the gate needs.
type Store interface {
	CreateSession(ctx context.Context, s session.Session) error
	SessionByKey(ctx context.Context, keyHash string) (session.Session, error)
	AppendEvidenceIfChanged(ctx context.Context, sessionID string, decide store.Decider) (evidence.Record, bool, error)
}

// Options are the optional collaborators. Zero values are usable.
type Options struct {
	Hasher  token.Hasher
	Clock   clock.Clock
	Audit   audit.Sink
	Metrics *metrics.Metrics
	Log     *slog.Logger

	// NewKey mints sk and ek values. Defaults to token.NewOpaque(cfg.KeyBytes).
	NewKey evidence.KeyFunc
}

// Gate runs the restore protocol.
type Gate struct {
	cfg     session.Config
	store   Store
	hasher  token.Hasher
	clock   clock.Clock
	audit   audit.Sink
	metrics *metrics.Metrics
	log     *slog.Logger
	newKey  evidence.KeyFunc
}

// New validates cfg and builds a Gate.
func New(cfg session.Config, st Store, opts Options) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("gate: nil store")
	}
	g := &Gate{
		cfg:     cfg,
		store:   st,
		hasher:  opts.Hasher,
		clock:   opts.Clock,
		audit:   opts.Audit,
		metrics: opts.Metrics,
		log:     opts.Log,
		newKey:  opts.NewKey,
	}
	if g.clock == nil {
		g.clock = clock.System{}
	}
	if g.audit == nil {
		g.audit = audit.Nop{}
	}
	if g.log == nil {
		g.log = slog.Default()
	}
	if g.newKey == nil {
		n := cfg.KeyBytes
		g.newKey = func() (string, error) { return token.NewOpaque(n) }
	}
	return g, nil
}

// Config returns the gate's policy.
func (g *Gate) Config() session.Config { return g.cfg }

// Request is what the client presented.
type Request struct {
	SessionKey  string
	EvidenceKey string
	Signals     evidence.Signals
	// Secure requests the Secure cookie attribute.
	Secure bool
	// IP and UserAgent are recorded in audit events only.
	IP        string
	UserAgent string
}

// Result tells the caller what to send back.
type Result struct {
	Session session.Session

	// Created is true when no existing session matched.
	Created        bool
	NewSessionKey  bool
	NewEvidenceKey bool

	// SessionKey and EvidenceKey are the values now current for the client.
	SessionKey  string
	EvidenceKey string

	// Cookie is a Cookie request header carrying the current keys.
	Cookie string
	// SetCookie holds Set-Cookie values for the keys that changed only.
	SetCookie []string
}

// Restore looks up the session for req.SessionKey, creating one if it is
// absent or unknown. For an existing session the evidence ledger is updated
// atomically and the ek rotated when anything differs.
func (g *Gate) Restore(ctx context.Context, req Request) (Result, error) {
	if req.SessionKey != "" {
		s, err := g.store.SessionByKey(ctx, g.hasher.Hash(req.SessionKey))
		switch {
		case err == nil:
			return g.restore(ctx, s, req)
		case !errors.Is(err, session.ErrSessionNotFound):
			return Result{}, err
		}
	}
	return g.create(ctx, req)
}

func (g *Gate) create(ctx context.Context, req Request) (Result, error) {
	now := g.clock.Now()

	sk, err := g.newKey()
	if err != nil {
		return Result{}, fmt.Errorf("gate: mint session key: %w", err)
	}
	ek, err := g.newKey()
	if err != nil {
		return Result{}, fmt.Errorf("gate: mint evidence key: %w", err)
	}
	tracker, err := token.NewTracker()
	if err != nil {
		return Result{}, fmt.Errorf("gate: tracker: %w", err)
	}

	s := session.Session{
		ID:        "s-" + uuid.NewString(),
		Name:      "s-" + tracker,
		KeyHash:   g.hasher.Hash(sk),
		Tags:      []string{},
		Settings:  session.Settings{},
		Evidence:  evidence.Ledger{evidence.Seed(ek, req.Signals, now)},
		CreatedAt: now,
	}
	if err := g.store.CreateSession(ctx, s); err != nil {
		return Result{}, err
	}

	reqlog.SessionName(ctx, s.Name)
	g.metrics.Restore(metrics.RestoreCreated)
	g.audit.Record(ctx, audit.Event{
		TS:          now,
		Action:      audit.SessionCreated,
		SessionID:   s.ID,
		SessionName: s.Name,
		IP:          req.IP,
		UserAgent:   req.UserAgent,
	})
	g.log.DebugContext(ctx, "auth.restore.create", "session", s.Name)

	res := Result{
		Session:        s,
		Created:        true,
		NewSessionKey:  true,
		NewEvidenceKey: true,
		SessionKey:     sk,
		EvidenceKey:    ek,
	}
	return g.cookies(res, req.Secure)
}

func (g *Gate) restore(ctx context.Context, s session.Session, req Request) (Result, error) {
	now := g.clock.Now()
	reqlog.SessionName(ctx, s.Name)

	rec, appended, err := g.store.AppendEvidenceIfChanged(ctx, s.ID, func(l evidence.Ledger) (evidence.Record, bool, error) {
		return evidence.Next(l, req.EvidenceKey, req.Signals, now, g.newKey)
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Session:     s,
		SessionKey:  req.SessionKey,
		EvidenceKey: req.EvidenceKey,
	}
	if appended {
		res.Session.Evidence = append(res.Session.Evidence, rec)
		res.EvidenceKey = rec.EK
		res.NewEvidenceKey = true

		g.metrics.Restore(metrics.RestoreRotated)
		g.audit.Record(ctx, audit.Event{
			TS:          now,
			Action:      audit.EvidenceRotated,
			SessionID:   s.ID,
			SessionName: s.Name,
			UserID:      s.User,
			IP:          req.IP,
			UserAgent:   req.UserAgent,
			Meta:        changedKeys(rec.Signals),
		})
		g.log.DebugContext(ctx, "auth.restore.rotate", "session", s.Name, "changed", len(rec.Signals))
	} else {
		g.metrics.Restore(metrics.RestoreUnchanged)
	}
	return g.cookies(res, req.Secure)
}

func (g *Gate) cookies(res Result, secure bool) (Result, error) {
	base := cookie.Options{
		Path:     g.cfg.CookiePath,
		Domain:   g.cfg.CookieDomain,
		HTTPOnly: true,
		Secure:   secure || g.cfg.ForceSecure,
		SameSite: g.cfg.CookieSameSite,
		Now:      g.clock.Now(),
	}

	skOpts := base
	skOpts.MaxAge = g.cfg.SessionCookieMaxAge
	sk, err := cookie.Serialize(g.cfg.SessionCookie, res.SessionKey, skOpts)
	if err != nil {
		return Result{}, err
	}
	ek, err := cookie.Serialize(g.cfg.EvidenceCookie, res.EvidenceKey, base)
	if err != nil {
		return Result{}, err
	}

	res.Cookie = cookie.JoinPairs(sk, ek)
	if res.NewSessionKey {
		res.SetCookie = append(res.SetCookie, sk)
	}
	if res.NewEvidenceKey {
		res.SetCookie = append(res.SetCookie, ek)
	}
	return res, nil
}

// Verify resolves a presented session key without touching evidence.
func (g *Gate) Verify(ctx context.Context, sessionKey string) (session.Session, error) {
	if sessionKey == "" {
		return session.Session{}, ErrUnauthorized
	}
	s, err := g.store.SessionByKey(ctx, g.hasher.Hash(sessionKey))
	if errors.Is(err, session.ErrSessionNotFound) {
		return session.Session{}, ErrUnauthorized
	}
	if err != nil {
		return session.Session{}, err
	}
	reqlog.SessionName(ctx, s.Name)
	return s, nil
}

// changedKeys lists which signals moved. Values stay out of the audit trail.
func changedKeys(sig evidence.Signals) map[string]any {
	if len(sig) == 0 {
		return nil
	}
	return map[string]any{"changed": slices.Sorted(maps.Keys(sig))}
}
