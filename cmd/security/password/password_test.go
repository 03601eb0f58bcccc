package password

import (
	"errors"
	"strings"
	"testing"
)

// cheap keeps argon2 fast in tests.
func cheap() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func TestHashAndVerify(t *testing.T) {
	cfg := cheap()

	h, err := cfg.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(h, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected encoding: %s", h)
	}

	ok, err := cfg.Verify(h, "correct horse battery staple")
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}
	ok, err = cfg.Verify(h, "incorrect horse")
	if err != nil || ok {
		t.Fatalf("expected mismatch, got ok=%v err=%v", ok, err)
	}
}

func TestHash_SaltsDiffer(t *testing.T) {
	cfg := cheap()
	a, _ := cfg.Hash("same secret twice")
	b, _ := cfg.Hash("same secret twice")
	if a == b {
		t.Fatalf("two hashes of the same secret must differ")
	}
}

func TestVerify_InvalidHash(t *testing.T) {
	cfg := cheap()

	for _, enc := range []string{
		"not-a-hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=16$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5a2V5a2V5a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!$a2V5a2V5a2V5a2V5a2V5",
	} {
		ok, err := cfg.Verify(enc, "whatever")
		if !errors.Is(err, ErrInvalidHash) || ok {
			t.Fatalf("Verify(%q): ok=%v err=%v; want ErrInvalidHash", enc, ok, err)
		}
	}
}

func TestVerify_RejectsExcessiveCost(t *testing.T) {
	strong := cheap()
	strong.Params.Iterations = 5
	h, err := strong.Hash("a perfectly fine secret")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	if _, err := cheap().Verify(h, "a perfectly fine secret"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("expected ErrInvalidHash for a hash beyond 2x cost, got %v", err)
	}
}

func TestValidate_Length(t *testing.T) {
	cfg := cheap()
	cfg.Policy.MinLength = 12
	cfg.Policy.MaxLength = 16

	if err := cfg.Validate("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	if err := cfg.Validate("this password is definitely too long"); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}
	// Runes, not bytes.
	if err := cfg.Validate("ééééééééééééé"); err != nil {
		t.Fatalf("expected 13 runes to pass, got %v", err)
	}
}

func TestValidate_WeakPatterns(t *testing.T) {
	cfg := cheap()
	cfg.Policy.RejectVeryWeak = true
	cfg.Policy.MinLength = 4

	weak := []string{"password", "Qwerty123", "aaaaaaaa", "abababab", "xyzxyzxyz", "11112222", "12345678", "hgfedcba", "ABCDEFG", "      "}
	for _, pw := range weak {
		if err := cfg.Validate(pw); !errors.Is(err, ErrWeakPassword) {
			t.Fatalf("Validate(%q): expected ErrWeakPassword, got %v", pw, err)
		}
	}

	fine := []string{"a-very-ok-pass", "quiet fox at dawn", "123456789012", "abcd1234"}
	for _, pw := range fine {
		if err := cfg.Validate(pw); err != nil {
			t.Fatalf("Validate(%q): expected ok, got %v", pw, err)
		}
	}

	cfg.Policy.RejectVeryWeak = false
	if err := cfg.Validate("password"); err != nil {
		t.Fatalf("weak rules off: expected ok, got %v", err)
	}
}
