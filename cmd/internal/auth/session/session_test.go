package session

import (
	"testing"
	"time"

	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/evidence"
)

func TestSession_CloneIsDeep(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	s := Session{
		ID:       "s-1",
		Tags:     []string{"a"},
		Settings: Settings{SettingCookies: true},
		Evidence: evidence.Ledger{evidence.Seed("ek", evidence.Signals{"ip": "1"}, now)},
		Activity: []Activity{{TS: now, Action: ActionSettings, Detail: map[string]any{"k": "v"}}},
		Logins:   []Login{{TS: now}},
	}

	c := s.Clone()
	c.Tags[0] = "b"
	c.Settings[SettingCookies] = false
	c.Evidence[0].Signals["ip"] = "2"
	c.Activity[0].Detail["k"] = "w"
	c.Logins[0].User = "u"

	if s.Tags[0] != "a" || s.Settings[SettingCookies] != true || s.Evidence[0].Signals["ip"] != "1" ||
		s.Activity[0].Detail["k"] != "v" || s.Logins[0].User != "" {
		t.Fatalf("clone aliases original: %+v", s)
	}
}

func TestSession_SeenAtAndView(t *testing.T) {
	t.Parallel()

	ms := int64(1_700_000_000_000)
	s := Session{ID: "s-1", Name: "s-abc", Settings: Settings{SettingSeen: float64(ms)}}
	if got := s.SeenAt(); got.UnixMilli() != ms {
		t.Fatalf("SeenAt()=%v", got)
	}
	if !(Session{}).SeenAt().IsZero() {
		t.Fatalf("SeenAt() must be zero without setting")
	}

	v := (Session{ID: "s-2"}).View()
	if v.Tags == nil || v.Settings == nil {
		t.Fatalf("View must not expose nil collections: %+v", v)
	}
}
