package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/sullivanpt/in-true-life-1/cmd/security/password"
)

func TestPlaintextScheme(t *testing.T) {
	t.Parallel()

	var s PlaintextScheme
	stored, err := s.Seal("hunter2")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if ok, _ := s.Verify(stored, "hunter2"); !ok {
		t.Fatalf("expected match")
	}
	if ok, _ := s.Verify(stored, "hunter3"); ok {
		t.Fatalf("expected mismatch")
	}
	if ok, _ := s.Verify("", ""); ok {
		t.Fatalf("empty stored credential must never match")
	}
	if _, err := s.Seal(""); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestArgon2idScheme(t *testing.T) {
	t.Parallel()

	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	s := NewArgon2idScheme(cfg)

	stored, err := s.Seal("correct horse battery")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if stored == "correct horse battery" {
		t.Fatalf("secret stored in clear")
	}
	if ok, err := s.Verify(stored, "correct horse battery"); err != nil || !ok {
		t.Fatalf("Verify ok=%v err=%v", ok, err)
	}
	if ok, _ := s.Verify(stored, "wrong"); ok {
		t.Fatalf("expected mismatch")
	}
	if ok, err := s.Verify("plain-legacy", "plain-legacy"); ok || err != nil {
		t.Fatalf("foreign material must not verify: ok=%v err=%v", ok, err)
	}
	if _, err := s.Seal("short"); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input for short password, got %v", err)
	}
}

func TestSchemeByName(t *testing.T) {
	ctx := context.Background()

	s, err := SchemeByName(ctx, "")
	if err != nil || s.Name() != SchemePlaintext {
		t.Fatalf("default scheme=%v err=%v", s, err)
	}
	s, err = SchemeByName(ctx, "Argon2id")
	if err != nil || s.Name() != SchemeArgon2id {
		t.Fatalf("argon2id scheme=%v err=%v", s, err)
	}
	if _, err := SchemeByName(ctx, "rot13"); !errors.Is(err, ErrUnknownScheme) {
		t.Fatalf("expected ErrUnknownScheme, got %v", err)
	}
}

func TestErrors(t *testing.T) {
	t.Parallel()

	err := error(ConflictError{Op: "store.CreateUser", Field: "name"})
	if !IsConflict(err) || !IsConflict(err, "name") || IsConflict(err, "session_key") {
		t.Fatalf("IsConflict mismatch for %v", err)
	}
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("ConflictError must unwrap to ErrConflict")
	}
	if !IsNotFound(NotFoundError{Op: "store.UserByID", Resource: "user"}) {
		t.Fatalf("NotFoundError must unwrap to ErrNotFound")
	}
	if got := (OpError{Op: "x", Kind: ErrInvalidInput, Msg: "m"}).Error(); got != "x: invalid_input: m" {
		t.Fatalf("OpError.Error()=%q", got)
	}
}

func TestUserProjections(t *testing.T) {
	t.Parallel()

	u := User{ID: "01H", Name: "alice", Credential: "pw", Session: "s-1", Tags: []string{"a"}}
	if !u.HasCredential() {
		t.Fatalf("expected credential")
	}
	p := u.Public()
	if p.ID != "01H" || p.Name != "alice" || len(p.Tags) != 1 {
		t.Fatalf("Public()=%+v", p)
	}
	if (User{}).Public().Tags == nil {
		t.Fatalf("Public tags must be non-nil")
	}

	s := u.Scrubbed("u-xyz")
	if s.ID != u.ID || s.Name != "u-xyz" || s.Credential != "" || s.Session != "" || s.Disabled != DisabledForget {
		t.Fatalf("Scrubbed()=%+v", s)
	}
	if s.HasCredential() {
		t.Fatalf("scrubbed user must not offer a password strategy")
	}

	c := u.Clone()
	c.Tags[0] = "b"
	if u.Tags[0] != "a" {
		t.Fatalf("Clone shares tags")
	}
}

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"  alice ": "alice",
		"Alice":    "Alice",
		"a\x00b":   "",
		"":         "",
	}
	for in, want := range cases {
		if got := NormalizeName(in); got != want {
			t.Fatalf("NormalizeName(%q)=%q want=%q", in, got, want)
		}
	}
}
