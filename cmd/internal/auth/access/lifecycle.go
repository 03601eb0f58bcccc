package access

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sullivanpt/in-true-life-1/cmd/identity"
	"github.com/sullivanpt/in-true-life-1/cmd/identity/ids"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/audit"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/logintoken"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/session"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/reqlog"
	"github.com/sullivanpt/in-true-life-1/cmd/security/token"
)

// MaxPreferredNameLen bounds the "name" setting.
const MaxPreferredNameLen = 64

// Create registers a new user named by the new-password token and attaches
// it to the caller's session.
func (s *Service) Create(ctx context.Context, c Caller, tok, secret string) (identity.Public, error) {
	if _, ok, err := s.UserOnSession(ctx, c); err != nil {
		return identity.Public{}, err
	} else if ok {
		return identity.Public{}, ErrAlreadyAttached
	}
	if tok == "" || secret == "" {
		return identity.Public{}, fmt.Errorf("%w: token and password are required", ErrMalformed)
	}

	now := s.clock.Now()
	name, err := s.tokens.Verify(tok, logintoken.PurposeNewPassword, c.Session.ID, now)
	if err != nil {
		return identity.Public{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	name = identity.NormalizeName(name)

	switch check, err := s.CheckNewUserName(ctx, name); {
	case err != nil:
		return identity.Public{}, err
	case check == NameExists:
		return identity.Public{}, ErrNameTaken
	case check != NameOK:
		return identity.Public{}, NameError{Check: check}
	}

	cred, err := s.scheme.Seal(secret)
	if identity.IsInvalidInput(err) {
		return identity.Public{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err != nil {
		return identity.Public{}, err
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return identity.Public{}, err
	}
	u := identity.User{ID: id, Name: name, Credential: cred, Tags: []string{}, CreatedAt: now}
	if err := s.store.CreateUser(ctx, u); err != nil {
		if identity.IsConflict(err, "name") {
			return identity.Public{}, ErrNameTaken
		}
		return identity.Public{}, err
	}
	s.record(ctx, c, audit.UserCreated, u.ID, nil)

	if err := s.Attach(ctx, c, u); err != nil {
		return identity.Public{}, err
	}
	if err := s.store.AppendActivity(ctx, c.Session.ID, session.Activity{TS: now, Action: session.ActionCreate, User: u.ID}); err != nil {
		return identity.Public{}, err
	}
	reqlog.Set(ctx, "user", u.ID)
	return u.Public(), nil
}

// Password verifies a credential for the user bound by the password token and
// attaches that user to the caller's session. The user need not be the one
// currently attached.
func (s *Service) Password(ctx context.Context, c Caller, tok, secret string) (identity.User, error) {
	if tok == "" || secret == "" {
		return identity.User{}, ErrBadCredentials
	}
	now := s.clock.Now()
	userID, err := s.tokens.Verify(tok, logintoken.PurposePassword, c.Session.ID, now)
	if err != nil {
		return identity.User{}, ErrBadCredentials
	}
	if blocked, retry := s.throttle.Blocked(userID, now); blocked {
		s.record(ctx, c, audit.PasswordThrottle, userID, nil)
		return identity.User{}, ThrottleError{RetryAfter: retry}
	}

	u, err := s.store.UserByID(ctx, userID)
	if identity.IsNotFound(err) {
		return identity.User{}, ErrBadCredentials
	}
	if err != nil {
		return identity.User{}, err
	}
	if err := s.verifySecret(ctx, c, u, secret, now); err != nil {
		return identity.User{}, err
	}

	if err := s.Attach(ctx, c, u); err != nil {
		return identity.User{}, err
	}
	if err := s.store.AppendActivity(ctx, c.Session.ID, session.Activity{TS: now, Action: session.ActionLogin, User: u.ID}); err != nil {
		return identity.User{}, err
	}
	reqlog.Set(ctx, "user", u.ID)
	return u, nil
}

// verifySecret checks secret against u's credential and keeps the failure
// window current.
func (s *Service) verifySecret(ctx context.Context, c Caller, u identity.User, secret string, now time.Time) error {
	if !u.HasCredential() {
		s.record(ctx, c, audit.PasswordFailed, u.ID, map[string]any{"reason": "no_credential"})
		return ErrBadCredentials
	}
	ok, err := s.scheme.Verify(u.Credential, secret)
	if err != nil {
		return err
	}
	if !ok {
		s.throttle.Fail(u.ID, now)
		s.record(ctx, c, audit.PasswordFailed, u.ID, nil)
		s.log.WarnContext(ctx, "auth.password.fail", "session", c.Session.Name)
		return ErrBadCredentials
	}
	s.throttle.Reset(u.ID)
	return nil
}

// Logout detaches the caller's user, records a login marker and clears the
// session settings. Without a user it does nothing.
func (s *Service) Logout(ctx context.Context, c Caller) error {
	u, ok, err := s.UserOnSession(ctx, c)
	if err != nil || !ok {
		return err
	}
	if err := s.Detach(ctx, c, u); err != nil {
		return err
	}
	now := s.clock.Now()
	if err := s.store.AppendActivity(ctx, c.Session.ID, session.Activity{TS: now, Action: session.ActionLogout, User: u.ID}); err != nil {
		return err
	}
	if err := s.store.AppendLogin(ctx, c.Session.ID, session.Login{TS: now}); err != nil {
		return err
	}
	return s.store.ClearSettings(ctx, c.Session.ID)
}

// Lock records a login marker for the attached, authorized user and keeps
// the attachment. Private access then lapses with its window.
func (s *Service) Lock(ctx context.Context, c Caller) error {
	u, ok, err := s.UserOnSession(ctx, c)
	if err != nil || !ok {
		return err
	}
	if !s.Authorized(c, u) {
		return nil
	}
	now := s.clock.Now()
	if err := s.store.AppendLogin(ctx, c.Session.ID, session.Login{TS: now, User: u.ID}); err != nil {
		return err
	}
	s.record(ctx, c, audit.UserLocked, u.ID, nil)
	return nil
}

// Forget verifies the caller's password, detaches the user and scrubs the
// user record in place: the id survives, the name becomes "u-<tracker>" and
// the credential is gone. body is kept in the activity log without the
// password.
func (s *Service) Forget(ctx context.Context, c Caller, secret string, body map[string]any) error {
	u, ok, err := s.UserOnSession(ctx, c)
	if err != nil || !ok {
		return err
	}
	now := s.clock.Now()
	if blocked, retry := s.throttle.Blocked(u.ID, now); blocked {
		s.record(ctx, c, audit.PasswordThrottle, u.ID, nil)
		return ThrottleError{RetryAfter: retry}
	}
	if err := s.verifySecret(ctx, c, u, secret, now); err != nil {
		return err
	}

	if err := s.Detach(ctx, c, u); err != nil {
		return err
	}
	tracker, err := token.NewTracker()
	if err != nil {
		return err
	}
	if err := s.store.ReplaceUser(ctx, u.Scrubbed("u-"+tracker)); err != nil {
		return err
	}

	detail := maps.Clone(body)
	delete(detail, "password")
	if err := s.store.AppendActivity(ctx, c.Session.ID, session.Activity{TS: now, Action: session.ActionForget, User: u.ID, Detail: detail}); err != nil {
		return err
	}
	if err := s.store.AppendLogin(ctx, c.Session.ID, session.Login{TS: now}); err != nil {
		return err
	}
	if err := s.store.ClearSettings(ctx, c.Session.ID); err != nil {
		return err
	}
	s.record(ctx, c, audit.UserForgotten, u.ID, nil)
	return nil
}

// TokenGrant is a strategy token the client must hand back.
type TokenGrant struct {
	Token string `json:"token"`
}

// StrategyUser is the public part of the user a strategy applies to.
type StrategyUser struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// Strategies lists the ways a user can authenticate.
type Strategies struct {
	Exists      bool         `json:"exists"`
	Reason      NameCheck    `json:"reason,omitempty"`
	User        StrategyUser `json:"user"`
	Password    *TokenGrant  `json:"password,omitempty"`
	NewPassword *TokenGrant  `json:"newPassword,omitempty"`
}

// Strategies describes how name (or the attached user when name is empty)
// can authenticate. Unknown names report why they cannot be registered, or
// offer a new-password token when they can.
func (s *Service) Strategies(ctx context.Context, c Caller, name string) (Strategies, error) {
	name = identity.NormalizeName(name)

	var (
		u      identity.User
		exists bool
	)
	if name != "" {
		found, err := s.store.UserByName(ctx, name)
		switch {
		case err == nil:
			u, exists = found, true
		case identity.IsNotFound(err):
		default:
			return Strategies{}, err
		}
	} else {
		found, ok, err := s.UserOnSession(ctx, c)
		if err != nil {
			return Strategies{}, err
		}
		u, exists = found, ok
	}

	now := s.clock.Now()
	out := Strategies{Exists: exists}
	if exists {
		out.User = StrategyUser{ID: u.ID, Name: u.Name}
		if u.HasCredential() {
			tok, err := s.tokens.Issue(logintoken.PurposePassword, u.ID, c.Session.ID, now)
			if err != nil {
				return Strategies{}, err
			}
			out.Password = &TokenGrant{Token: tok}
		}
		return out, nil
	}

	out.User = StrategyUser{Name: name}
	reason, err := s.CheckNewUserName(ctx, name)
	if err != nil {
		return Strategies{}, err
	}
	out.Reason = reason
	if reason == NameOK {
		tok, err := s.tokens.Issue(logintoken.PurposeNewPassword, name, c.Session.ID, now)
		if err != nil {
			return Strategies{}, err
		}
		out.NewPassword = &TokenGrant{Token: tok}
	}
	return out, nil
}

// ReloadView is what a client needs after a full page load.
type ReloadView struct {
	Session    session.View     `json:"session"`
	User       *identity.Public `json:"user,omitempty"`
	Authorized bool             `json:"authorized"`
	Settings   session.Settings `json:"settings"`
}

// Reload summarizes the caller's session, user and access state.
func (s *Service) Reload(ctx context.Context, c Caller) (ReloadView, error) {
	view := c.Session.View()
	out := ReloadView{Session: view, Settings: view.Settings}

	u, ok, err := s.UserOnSession(ctx, c)
	if err != nil {
		return ReloadView{}, err
	}
	if ok {
		p := u.Public()
		out.User = &p
		out.Authorized = s.Authorized(c, u)
	}
	return out, nil
}

// Private returns the attached user when the caller holds private access.
func (s *Service) Private(ctx context.Context, c Caller) (identity.Public, error) {
	u, ok, err := s.UserOnSession(ctx, c)
	if err != nil {
		return identity.Public{}, err
	}
	if !ok {
		return identity.Public{}, ErrNoUser
	}
	if !s.Authorized(c, u) {
		return identity.Public{}, ErrNotAuthorized
	}
	return u.Public(), nil
}

// SettingsPatch is a partial settings update. Nil fields are left alone.
type SettingsPatch struct {
	Cookies *bool   `json:"cookies,omitempty"`
	Name    *string `json:"name,omitempty"`
	Seen    *int64  `json:"seen,omitempty"`
}

func (p SettingsPatch) settings() (session.Settings, error) {
	out := session.Settings{}
	if p.Cookies != nil {
		out[session.SettingCookies] = *p.Cookies
	}
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if utf8.RuneCountInString(name) > MaxPreferredNameLen {
			return nil, fmt.Errorf("%w: name too long", ErrMalformed)
		}
		out[session.SettingName] = name
	}
	if p.Seen != nil {
		if *p.Seen < 0 {
			return nil, fmt.Errorf("%w: seen must be >= 0", ErrMalformed)
		}
		out[session.SettingSeen] = *p.Seen
	}
	return out, nil
}

// SaveSettings merges p into the caller's session settings and records the
// change in the activity log.
func (s *Service) SaveSettings(ctx context.Context, c Caller, p SettingsPatch) (session.Settings, error) {
	patch, err := p.settings()
	if err != nil {
		return nil, err
	}
	if len(patch) == 0 {
		return c.Session.View().Settings, nil
	}
	merged, err := s.store.MergeSettings(ctx, c.Session.ID, patch)
	if err != nil {
		return nil, err
	}
	act := session.Activity{TS: s.clock.Now(), Action: session.ActionSettings, User: c.Session.User, Detail: maps.Clone(patch)}
	if err := s.store.AppendActivity(ctx, c.Session.ID, act); err != nil {
		return nil, err
	}
	return merged, nil
}

// IsClientError reports whether err is one of the caller-caused conditions
// above rather than a server fault.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrMalformed, ErrNameRejected, ErrNameTaken, ErrAlreadyAttached,
		ErrBadCredentials, ErrNoUser, ErrNotAuthorized, ErrThrottled,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
