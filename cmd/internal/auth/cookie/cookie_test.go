package cookie

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSerialize(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	cases := []struct {
		name  string
		key   string
		value any
		opts  Options
		want  string
	}{
		{
			name:  "session key with max age",
			key:   "sk",
			value: "abc-DEF_123",
			opts:  Options{MaxAge: 365 * 24 * time.Hour, HTTPOnly: true, Now: now},
			want:  "sk=abc-DEF_123; Max-Age=31536000; Path=/; Expires=Sat, 02 Jan 2027 03:04:05 GMT; HttpOnly",
		},
		{
			name:  "browser session cookie",
			key:   "ek",
			value: "xyz",
			opts:  Options{HTTPOnly: true, Secure: true},
			want:  "ek=xyz; Path=/; HttpOnly; Secure",
		},
		{
			name:  "structured value is tagged",
			key:   "prefs",
			value: map[string]bool{"cookies": true},
			opts:  Options{Path: "/me"},
			want:  "prefs=j%3A%7B%22cookies%22%3Atrue%7D; Path=/me",
		},
		{
			name:  "encodes like encodeURIComponent",
			key:   "v",
			value: "a b+c/d=e!*'()~",
			want:  "v=a%20b%2Bc%2Fd%3De!*'()~; Path=/",
		},
		{
			name:  "domain precedes path",
			key:   "sk",
			value: "k",
			opts:  Options{Domain: "example.com", SameSite: "Lax"},
			want:  "sk=k; Domain=example.com; Path=/; SameSite=Lax",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Serialize(tc.key, tc.value, tc.opts)
			if err != nil {
				t.Fatalf("Serialize: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Serialize()=%q want=%q", got, tc.want)
			}
		})
	}
}

func TestSerialize_Rejects(t *testing.T) {
	t.Parallel()

	if _, err := Serialize("bad name", "v", Options{}); err != ErrInvalidName {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
	if _, err := Serialize("ok", "v", Options{Path: "/a;b"}); err == nil {
		t.Fatalf("expected error for path with semicolon")
	}
}

func TestPairAndJoin(t *testing.T) {
	t.Parallel()

	sk := "sk=one; Max-Age=10; Path=/; HttpOnly"
	ek := "ek=two; Path=/; HttpOnly"

	if got := Pair(sk); got != "sk=one" {
		t.Fatalf("Pair()=%q", got)
	}
	if got := JoinPairs(sk, "", ek); got != "sk=one; ek=two" {
		t.Fatalf("JoinPairs()=%q", got)
	}
}

func TestParseAndDecode(t *testing.T) {
	t.Parallel()

	got := Parse(`sk=a%2Bb; ek="q"; sk=ignored; junk; prefs=j%3A%7B%22x%22%3A1%7D`)
	if got["sk"] != "a+b" {
		t.Fatalf("sk=%q", got["sk"])
	}
	if got["ek"] != "q" {
		t.Fatalf("ek=%q", got["ek"])
	}

	v, ok := Decode(got["prefs"])
	if !ok {
		t.Fatalf("Decode failed")
	}
	m, isMap := v.(map[string]any)
	if !isMap || m["x"] != float64(1) {
		t.Fatalf("decoded=%#v", v)
	}

	if _, ok := Decode("j:{broken"); ok {
		t.Fatalf("expected decode failure for invalid json")
	}
	if v, ok := Decode("plain"); !ok || v != "plain" {
		t.Fatalf("plain decode=%v ok=%v", v, ok)
	}
}

func TestAppendAndFromRequest(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	Append(rr.Header(), "sk=1; Path=/", "", "ek=2; Path=/")
	if got := rr.Header().Values("Set-Cookie"); len(got) != 2 {
		t.Fatalf("expected 2 Set-Cookie values, got %v", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Cookie", "sk=k%2Fv; ek=+")
	if got := FromRequest(req, "sk"); got != "k/v" {
		t.Fatalf("FromRequest(sk)=%q", got)
	}
	if got := FromRequest(req, "ek"); got != "+" {
		t.Fatalf("FromRequest(ek)=%q", got)
	}
	if got := FromRequest(req, "missing"); got != "" {
		t.Fatalf("FromRequest(missing)=%q", got)
	}
}

func TestSerialize_RoundTripsThroughParse(t *testing.T) {
	t.Parallel()

	value := "k/+= ?&"
	sc, err := Serialize("sk", value, Options{})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if strings.ContainsAny(Pair(sc)[3:], " ;") {
		t.Fatalf("pair not escaped: %q", sc)
	}
	if got := Parse(Pair(sc))["sk"]; got != value {
		t.Fatalf("round trip=%q want=%q", got, value)
	}
}
