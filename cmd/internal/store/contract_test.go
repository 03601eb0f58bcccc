package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sullivanpt/in-true-life-1/cmd/identity"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/alerts"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/evidence"
	"github.com/sullivanpt/in-true-life-1/cmd/internal/auth/session"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestSession(id, keyHash string) session.Session {
	return session.Session{
		ID:        id,
		Name:      "s-" + id,
		KeyHash:   keyHash,
		Tags:      []string{},
		Settings:  session.Settings{},
		Evidence:  evidence.Ledger{evidence.Seed("ek-1", evidence.Signals{"ua": "firefox"}, t0)},
		Activity:  []session.Activity{{TS: t0, Action: session.ActionCreate}},
		CreatedAt: t0,
	}
}

func newTestUser(id, name string) identity.User {
	return identity.User{ID: id, Name: name, Credential: "plaintext$pw", Tags: []string{}, CreatedAt: t0}
}

func markAt(now time.Time, userID string) Marker {
	return func(l evidence.Ledger) evidence.Record { return evidence.Attachment(l, userID, now) }
}

// runStoreContract exercises behavior every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndLookupSession", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		if err := st.CreateSession(ctx, newTestSession("a", "hash-a")); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		got, err := st.SessionByKey(ctx, "hash-a")
		if err != nil {
			t.Fatalf("SessionByKey: %v", err)
		}
		if got.ID != "a" || got.Name != "s-a" {
			t.Fatalf("unexpected session: %+v", got)
		}
		if len(got.Evidence) != 1 || got.Evidence[0].EK != "ek-1" || got.Evidence[0].Signals["ua"] != "firefox" {
			t.Fatalf("seed evidence not stored: %+v", got.Evidence)
		}
		if len(got.Activity) != 1 || got.Activity[0].Action != session.ActionCreate {
			t.Fatalf("activity not stored: %+v", got.Activity)
		}

		if _, err := st.SessionByKey(ctx, "nope"); !errors.Is(err, session.ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
		if _, err := st.SessionByKey(ctx, ""); !errors.Is(err, session.ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound for empty key, got %v", err)
		}
		if _, err := st.SessionByID(ctx, "nope"); !errors.Is(err, session.ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("DuplicateKeyHashConflicts", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		if err := st.CreateSession(ctx, newTestSession("a", "dup")); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		err := st.CreateSession(ctx, newTestSession("b", "dup"))
		if !identity.IsConflict(err, "session_key") {
			t.Fatalf("expected session_key conflict, got %v", err)
		}
	})

	t.Run("AppendEvidenceIfChanged", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		if err := st.CreateSession(ctx, newTestSession("a", "h")); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}

		rec, ok, err := st.AppendEvidenceIfChanged(ctx, "a", func(l evidence.Ledger) (evidence.Record, bool, error) {
			if len(l) != 1 {
				t.Fatalf("decider saw %d records", len(l))
			}
			return evidence.Record{}, false, nil
		})
		if err != nil || ok || rec.EK != "" {
			t.Fatalf("expected no append, got rec=%+v ok=%v err=%v", rec, ok, err)
		}

		_, ok, err = st.AppendEvidenceIfChanged(ctx, "a", func(l evidence.Ledger) (evidence.Record, bool, error) {
			return evidence.Record{TS: t0.Add(time.Minute), EK: "ek-2", Signals: evidence.Signals{"ua": "chrome"}}, true, nil
		})
		if err != nil || !ok {
			t.Fatalf("expected append, ok=%v err=%v", ok, err)
		}

		got, err := st.SessionByID(ctx, "a")
		if err != nil {
			t.Fatalf("SessionByID: %v", err)
		}
		if got.Evidence.CurrentKey() != "ek-2" || got.Evidence.Current()["ua"] != "chrome" {
			t.Fatalf("unexpected ledger: %+v", got.Evidence)
		}

		boom := errors.New("boom")
		if _, _, err := st.AppendEvidenceIfChanged(ctx, "a", func(evidence.Ledger) (evidence.Record, bool, error) {
			return evidence.Record{}, false, boom
		}); !errors.Is(err, boom) {
			t.Fatalf("expected decider error, got %v", err)
		}

		if _, _, err := st.AppendEvidenceIfChanged(ctx, "missing", func(evidence.Ledger) (evidence.Record, bool, error) {
			return evidence.Record{}, true, nil
		}); !errors.Is(err, session.ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("SettingsMergeAndClear", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		if err := st.CreateSession(ctx, newTestSession("a", "h")); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}

		if _, err := st.MergeSettings(ctx, "a", session.Settings{"cookies": true}); err != nil {
			t.Fatalf("MergeSettings: %v", err)
		}
		out, err := st.MergeSettings(ctx, "a", session.Settings{"name": "Pat"})
		if err != nil {
			t.Fatalf("MergeSettings: %v", err)
		}
		if out["cookies"] != true || out["name"] != "Pat" {
			t.Fatalf("unexpected merge result: %+v", out)
		}

		if err := st.ClearSettings(ctx, "a"); err != nil {
			t.Fatalf("ClearSettings: %v", err)
		}
		got, _ := st.SessionByID(ctx, "a")
		if len(got.Settings) != 0 {
			t.Fatalf("expected cleared settings, got %+v", got.Settings)
		}
	})

	t.Run("UsersUniqueByName", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		if err := st.CreateUser(ctx, newTestUser("u1", "alice")); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		if err := st.CreateUser(ctx, newTestUser("u2", "alice")); !identity.IsConflict(err, "name") {
			t.Fatalf("expected name conflict, got %v", err)
		}
		if _, err := st.UserByName(ctx, "Alice"); !identity.IsNotFound(err) {
			t.Fatalf("names are case-sensitive, got %v", err)
		}
		if ok, err := st.UserNameExists(ctx, "alice"); err != nil || !ok {
			t.Fatalf("UserNameExists(alice) = %v, %v", ok, err)
		}
		if ok, _ := st.UserNameExists(ctx, "bob"); ok {
			t.Fatalf("UserNameExists(bob) = true")
		}
		u, err := st.UserByName(ctx, "alice")
		if err != nil || u.ID != "u1" {
			t.Fatalf("UserByName: %+v %v", u, err)
		}
	})

	t.Run("ReplaceUserFreesOldName", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		u := newTestUser("u1", "alice")
		if err := st.CreateUser(ctx, u); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
		if err := st.ReplaceUser(ctx, u.Scrubbed("u-tracker")); err != nil {
			t.Fatalf("ReplaceUser: %v", err)
		}
		if err := st.CreateUser(ctx, newTestUser("u2", "alice")); err != nil {
			t.Fatalf("name should be free after scrub: %v", err)
		}
		got, err := st.UserByID(ctx, "u1")
		if err != nil {
			t.Fatalf("UserByID: %v", err)
		}
		if got.Disabled != identity.DisabledForget || got.Credential != "" || got.HasCredential() {
			t.Fatalf("unexpected scrubbed user: %+v", got)
		}
		if err := st.ReplaceUser(ctx, newTestUser("nope", "x")); !identity.IsNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("AttachMovesUserAndDetachIsGuarded", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		for _, s := range []session.Session{newTestSession("a", "ha"), newTestSession("b", "hb")} {
			if err := st.CreateSession(ctx, s); err != nil {
				t.Fatalf("CreateSession: %v", err)
			}
		}
		if err := st.CreateUser(ctx, newTestUser("u1", "alice")); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}

		prev, err := st.Attach(ctx, "a", "u1", markAt(t0, "u1"))
		if err != nil || prev != "" {
			t.Fatalf("Attach a: prev=%q err=%v", prev, err)
		}
		prev, err = st.Attach(ctx, "b", "u1", markAt(t0, "u1"))
		if err != nil || prev != "a" {
			t.Fatalf("Attach b: prev=%q err=%v", prev, err)
		}

		u, _ := st.UserByID(ctx, "u1")
		if u.Session != "b" {
			t.Fatalf("user.session = %q, want b", u.Session)
		}
		b, _ := st.SessionByID(ctx, "b")
		rec, ok := b.Evidence.LastKeyed()
		if !ok || rec.User != "u1" || rec.EK != "ek-1" || b.User != "u1" {
			t.Fatalf("attachment record missing: %+v user=%q", b.Evidence, b.User)
		}

		// Stale session "a" still names u1, but detaching it must not touch u1.session.
		if err := st.Detach(ctx, "a", "u1"); err != nil {
			t.Fatalf("Detach a: %v", err)
		}
		u, _ = st.UserByID(ctx, "u1")
		if u.Session != "b" {
			t.Fatalf("detach of stale session cleared user.session")
		}
		a, _ := st.SessionByID(ctx, "a")
		if a.User != "" {
			t.Fatalf("session a still attached: %q", a.User)
		}

		if err := st.Detach(ctx, "b", "u1"); err != nil {
			t.Fatalf("Detach b: %v", err)
		}
		if err := st.Detach(ctx, "b", "u1"); err != nil {
			t.Fatalf("Detach is idempotent: %v", err)
		}
		u, _ = st.UserByID(ctx, "u1")
		if u.Session != "" {
			t.Fatalf("user.session = %q after detach", u.Session)
		}

		if _, err := st.Attach(ctx, "a", "ghost", markAt(t0, "ghost")); !identity.IsNotFound(err) {
			t.Fatalf("expected user not found, got %v", err)
		}
	})

	t.Run("ConcurrentEvidenceAppends", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		if err := st.CreateSession(ctx, newTestSession("a", "h")); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}

		const n = 24
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ek := fmt.Sprintf("ek-c%d", i)
				_, ok, err := st.AppendEvidenceIfChanged(ctx, "a", func(l evidence.Ledger) (evidence.Record, bool, error) {
					return evidence.Record{TS: t0.Add(time.Duration(i) * time.Second), EK: ek, Signals: evidence.Signals{"ip": ek}}, true, nil
				})
				if err == nil && !ok {
					err = fmt.Errorf("%s: not appended", ek)
				}
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("AppendEvidenceIfChanged: %v", err)
			}
		}

		got, err := st.SessionByID(ctx, "a")
		if err != nil {
			t.Fatalf("SessionByID: %v", err)
		}
		if len(got.Evidence) != n+1 {
			t.Fatalf("ledger has %d records, want %d", len(got.Evidence), n+1)
		}
		seen := map[string]bool{}
		for _, rec := range got.Evidence {
			if seen[rec.EK] {
				t.Fatalf("ek %q recorded twice", rec.EK)
			}
			seen[rec.EK] = true
		}
	})

	t.Run("ConcurrentIdenticalChangeAppendsOnce", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		if err := st.CreateSession(ctx, newTestSession("a", "h")); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}

		const n = 24
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			appended int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, ok, err := st.AppendEvidenceIfChanged(ctx, "a", func(l evidence.Ledger) (evidence.Record, bool, error) {
					if l.Current()["ip"] == "9.9.9.9" {
						return evidence.Record{}, false, nil
					}
					return evidence.Record{TS: t0.Add(time.Minute), EK: fmt.Sprintf("ek-c%d", i), Signals: evidence.Signals{"ip": "9.9.9.9"}}, true, nil
				})
				if err != nil {
					t.Errorf("AppendEvidenceIfChanged: %v", err)
					return
				}
				if ok {
					mu.Lock()
					appended++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		if appended != 1 {
			t.Fatalf("appended %d times, want 1", appended)
		}
		got, _ := st.SessionByID(ctx, "a")
		if len(got.Evidence) != 2 {
			t.Fatalf("ledger has %d records, want 2", len(got.Evidence))
		}
	})

	t.Run("ConcurrentCreateUserSameName", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		const n = 24
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- st.CreateUser(ctx, newTestUser(fmt.Sprintf("u%d", i), "alice"))
			}(i)
		}
		wg.Wait()
		close(errs)

		created := 0
		for err := range errs {
			switch {
			case err == nil:
				created++
			case identity.IsConflict(err, "name"):
			default:
				t.Fatalf("expected name conflict, got %v", err)
			}
		}
		if created != 1 {
			t.Fatalf("%d users created with the same name, want 1", created)
		}
		if _, err := st.UserByName(ctx, "alice"); err != nil {
			t.Fatalf("UserByName: %v", err)
		}
	})

	t.Run("ConcurrentAttachHandsOffOnce", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		const n = 16
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("s%d", i)
			if err := st.CreateSession(ctx, newTestSession(id, "h-"+id)); err != nil {
				t.Fatalf("CreateSession: %v", err)
			}
		}
		if err := st.CreateUser(ctx, newTestUser("u1", "alice")); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}

		var wg sync.WaitGroup
		prevs := make(chan string, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				prev, err := st.Attach(ctx, id, "u1", markAt(t0, "u1"))
				if err != nil {
					t.Errorf("Attach %s: %v", id, err)
					return
				}
				prevs <- prev
			}(fmt.Sprintf("s%d", i))
		}
		wg.Wait()
		close(prevs)

		fresh := 0
		handed := map[string]bool{}
		for prev := range prevs {
			if prev == "" {
				fresh++
				continue
			}
			if handed[prev] {
				t.Fatalf("session %s handed off twice", prev)
			}
			handed[prev] = true
		}
		if fresh != 1 || len(handed) != n-1 {
			t.Fatalf("fresh=%d handed=%d, want 1 and %d", fresh, len(handed), n-1)
		}

		u, err := st.UserByID(ctx, "u1")
		if err != nil {
			t.Fatalf("UserByID: %v", err)
		}
		if u.Session == "" || handed[u.Session] {
			t.Fatalf("user.session = %q was handed off or empty", u.Session)
		}
	})

	t.Run("ActivityAndLogins", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()
		if err := st.CreateSession(ctx, newTestSession("a", "h")); err != nil {
			t.Fatalf("CreateSession: %v", err)
		}
		if err := st.AppendActivity(ctx, "a", session.Activity{TS: t0, Action: session.ActionForget, Detail: map[string]any{"reason": "x"}}); err != nil {
			t.Fatalf("AppendActivity: %v", err)
		}
		if err := st.AppendLogin(ctx, "a", session.Login{TS: t0, User: "u1"}); err != nil {
			t.Fatalf("AppendLogin: %v", err)
		}
		got, _ := st.SessionByID(ctx, "a")
		if len(got.Activity) != 2 || got.Activity[1].Detail["reason"] != "x" {
			t.Fatalf("unexpected activity: %+v", got.Activity)
		}
		if len(got.Logins) != 1 || got.Logins[0].User != "u1" {
			t.Fatalf("unexpected logins: %+v", got.Logins)
		}
		if err := st.AppendLogin(ctx, "missing", session.Login{TS: t0}); !errors.Is(err, session.ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("AlertsAddressing", func(t *testing.T) {
		st := newStore(t)
		ctx := context.Background()

		posts := []alerts.Alert{
			{ID: "1", Kind: alerts.KindNotice, Broadcast: true, Text: "hello all", CreatedAt: t0},
			{ID: "2", Kind: alerts.KindSignedInElsewhere, FromSession: "b", ToSession: "a", CreatedAt: t0.Add(time.Second)},
			{ID: "3", Kind: alerts.KindNotice, ToSession: "c", CreatedAt: t0.Add(2 * time.Second)},
		}
		for _, a := range posts {
			if err := st.PostAlert(ctx, a); err != nil {
				t.Fatalf("PostAlert: %v", err)
			}
		}
		got, err := st.AlertsFor(ctx, "a", 0)
		if err != nil {
			t.Fatalf("AlertsFor: %v", err)
		}
		if len(got) != 2 || got[0].ID != "2" || got[1].ID != "1" {
			t.Fatalf("unexpected alerts: %+v", got)
		}
		got, _ = st.AlertsFor(ctx, "a", 1)
		if len(got) != 1 {
			t.Fatalf("limit not applied: %d", len(got))
		}
	})
}
