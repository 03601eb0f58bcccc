package store

import (
	"context"
	"maps"
	"sync"

	"github.com/sullivanpt/in-true-life-1/cmd/identity"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/alerts"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/evidence"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/session"
)

// MemoryStore keeps everything in process memory. It is the default when no
// database is configured. Reads return deep copies.
type MemoryStore struct {
	mu sync.Mutex

	sessions map[string]*session.Session
	byKey    map[string]string

	users  map[string]*identity.User
	byName map[string]string

	alerts []alerts.Alert
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*session.Session),
		byKey:    make(map[string]string),
		users:    make(map[string]*identity.User),
		byName:   make(map[string]string),
	}
}

func (m *MemoryStore) CreateSession(ctx context.Context, s session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.sessions[s.ID]; dup {
		return identity.ConflictError{Op: "store.CreateSession", Field: "id"}
	}
	if _, dup := m.byKey[s.KeyHash]; dup {
		return identity.ConflictError{Op: "store.CreateSession", Field: "session_key"}
	}
	cp := s.Clone()
	m.sessions[s.ID] = &cp
	m.byKey[s.KeyHash] = s.ID
	return nil
}

func (m *MemoryStore) SessionByKey(ctx context.Context, keyHash string) (session.Session, error) {
	if err := ctx.Err(); err != nil {
		return session.Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byKey[keyHash]
	if !ok || keyHash == "" {
		return session.Session{}, session.ErrSessionNotFound
	}
	return m.sessions[id].Clone(), nil
}

func (m *MemoryStore) SessionByID(ctx context.Context, id string) (session.Session, error) {
	if err := ctx.Err(); err != nil {
		return session.Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return session.Session{}, session.ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) AppendEvidenceIfChanged(ctx context.Context, sessionID string, decide Decider) (evidence.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return evidence.Record{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return evidence.Record{}, false, session.ErrSessionNotFound
	}
	rec, appended, err := decide(s.Evidence.Clone())
	if err != nil || !appended {
		return evidence.Record{}, false, err
	}
	s.Evidence = append(s.Evidence, evidence.Ledger{rec}.Clone()...)
	return rec, true, nil
}

func (m *MemoryStore) AppendActivity(ctx context.Context, sessionID string, a session.Activity) error {
	return m.withSession(ctx, sessionID, func(s *session.Session) error {
		a.Detail = maps.Clone(a.Detail)
		s.Activity = append(s.Activity, a)
		return nil
	})
}

func (m *MemoryStore) AppendLogin(ctx context.Context, sessionID string, l session.Login) error {
	return m.withSession(ctx, sessionID, func(s *session.Session) error {
		s.Logins = append(s.Logins, l)
		return nil
	})
}

func (m *MemoryStore) MergeSettings(ctx context.Context, sessionID string, patch session.Settings) (session.Settings, error) {
	var out session.Settings
	err := m.withSession(ctx, sessionID, func(s *session.Session) error {
		if s.Settings == nil {
			s.Settings = make(session.Settings, len(patch))
		}
		maps.Copy(s.Settings, patch)
		out = maps.Clone(s.Settings)
		return nil
	})
	return out, err
}

func (m *MemoryStore) ClearSettings(ctx context.Context, sessionID string) error {
	return m.withSession(ctx, sessionID, func(s *session.Session) error {
		s.Settings = session.Settings{}
		return nil
	})
}

func (m *MemoryStore) CreateUser(ctx context.Context, u identity.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.users[u.ID]; dup {
		return identity.ConflictError{Op: "store.CreateUser", Field: "id"}
	}
	if _, dup := m.byName[u.Name]; dup {
		return identity.ConflictError{Op: "store.CreateUser", Field: "name"}
	}
	cp := u.Clone()
	m.users[u.ID] = &cp
	m.byName[u.Name] = u.ID
	return nil
}

func (m *MemoryStore) UserByID(ctx context.Context, id string) (identity.User, error) {
	if err := ctx.Err(); err != nil {
		return identity.User{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return identity.User{}, userNotFound("store.UserByID")
	}
	return u.Clone(), nil
}

func (m *MemoryStore) UserByName(ctx context.Context, name string) (identity.User, error) {
	if err := ctx.Err(); err != nil {
		return identity.User{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byName[name]
	if !ok {
		return identity.User{}, userNotFound("store.UserByName")
	}
	return m.users[id].Clone(), nil
}

func (m *MemoryStore) UserNameExists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.byName[name]
	return ok, nil
}

func (m *MemoryStore) ReplaceUser(ctx context.Context, u identity.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.users[u.ID]
	if !ok {
		return userNotFound("store.ReplaceUser")
	}
	if other, taken := m.byName[u.Name]; taken && other != u.ID {
		return identity.ConflictError{Op: "store.ReplaceUser", Field: "name"}
	}
	delete(m.byName, old.Name)
	cp := u.Clone()
	m.users[u.ID] = &cp
	m.byName[u.Name] = u.ID
	return nil
}

func (m *MemoryStore) Attach(ctx context.Context, sessionID, userID string, mark Marker) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return "", session.ErrSessionNotFound
	}
	u, ok := m.users[userID]
	if !ok {
		return "", userNotFound("store.Attach")
	}

	prev := u.Session
	if prev == sessionID {
		prev = ""
	}
	rec := mark(s.Evidence.Clone())
	s.Evidence = append(s.Evidence, evidence.Ledger{rec}.Clone()...)
	s.User = userID
	u.Session = sessionID
	return prev, nil
}

func (m *MemoryStore) Detach(ctx context.Context, sessionID, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[sessionID]; ok && s.User == userID {
		s.User = ""
	}
	if u, ok := m.users[userID]; ok && u.Session == sessionID {
		u.Session = ""
	}
	return nil
}

func (m *MemoryStore) PostAlert(ctx context.Context, a alerts.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.alerts = append(m.alerts, a)
	return nil
}

// AlertsFor returns the newest alerts addressed to sessionID, newest first.
func (m *MemoryStore) AlertsFor(ctx context.Context, sessionID string, limit int) ([]alerts.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultAlertLimit
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]alerts.Alert, 0, min(limit, len(m.alerts)))
	for i := len(m.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		if m.alerts[i].For(sessionID) {
			out = append(out, m.alerts[i])
		}
	}
	return out, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (m *MemoryStore) Close(_ context.Context) error { return nil }

func (m *MemoryStore) withSession(ctx context.Context, sessionID string, fn func(*session.Session) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return session.ErrSessionNotFound
	}
	return fn(s)
}
