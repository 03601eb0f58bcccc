package session

import (
	"maps"
	"slices"
	"time"

	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/evidence"
)

// Well-known settings keys.
const (
	SettingCookies = "cookies"
	SettingName    = "name"
	SettingSeen    = "seen"
)

// Activity actions recorded on a session.
const (
	ActionCreate   = "create"
	ActionLogin    = "login"
	ActionLogout   = "logout"
	ActionLock     = "lock"
	ActionForget   = "forget"
	ActionSettings = "settings"
)

// Settings are session-scoped preferences (cookie consent, preferred name,
// last-seen alert time).
type Settings map[string]any

// Activity is one user-triggered action. The log is append-only.
type Activity struct {
	TS     time.Time      `json:"ts"`
	Action string         `json:"action"`
	User   string         `json:"user,omitempty"`
	Detail map[string]any `json:"detail,omitempty"`
}

// Login is a login-history marker. User is set when a lock recorded it.
type Login struct {
	TS   time.Time `json:"ts"`
	User string    `json:"user,omitempty"`
}

// Session is the device-identity record.
type Session struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	KeyHash string `json:"-"`

	Tags     []string `json:"tags"`
	Settings Settings `json:"settings"`

	// User is the attached user id, or "".
	User string `json:"user,omitempty"`

	Evidence evidence.Ledger `json:"-"`
	Activity []Activity      `json:"-"`
	Logins   []Login         `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
}

// Clone returns a deep copy so callers never alias store state.
func (s Session) Clone() Session {
	s.Tags = slices.Clone(s.Tags)
	s.Settings = maps.Clone(s.Settings)
	s.Evidence = s.Evidence.Clone()
	if s.Activity != nil {
		act := make([]Activity, len(s.Activity))
		for i, a := range s.Activity {
			act[i] = a
			act[i].Detail = maps.Clone(a.Detail)
		}
		s.Activity = act
	}
	s.Logins = slices.Clone(s.Logins)
	return s
}

// SeenAt returns the last-seen alert time from settings, or zero.
func (s Session) SeenAt() time.Time {
	switch v := s.Settings[SettingSeen].(type) {
	case float64:
		return time.UnixMilli(int64(v)).UTC()
	case int64:
		return time.UnixMilli(v).UTC()
	case int:
		return time.UnixMilli(int64(v)).UTC()
	default:
		return time.Time{}
	}
}

// View is the reload payload for a session.
type View struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Tags     []string `json:"tags"`
	Settings Settings `json:"settings"`
}

// View projects the non-secret fields.
func (s Session) View() View {
	tags := s.Tags
	if tags == nil {
		tags = []string{}
	}
	settings := s.Settings
	if settings == nil {
		settings = Settings{}
	}
	return View{ID: s.ID, Name: s.Name, Tags: tags, Settings: settings}
}
