package cookie

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// jsonPrefix tags structured values so plain strings and JSON stay unambiguous.
const jsonPrefix = "j:"

var (
	// ErrInvalidName is returned for names that are not valid cookie tokens.
	ErrInvalidName = errors.New("cookie: invalid name")

	// ErrInvalidAttr is returned when Path or Domain contain forbidden characters.
	ErrInvalidAttr = errors.New("cookie: invalid attribute")
)

// Options controls the attributes emitted by Serialize.
type Options struct {
	// MaxAge is the cookie lifetime. Zero means a browser-session cookie.
	MaxAge time.Duration

	// Path defaults to "/".
	Path   string
	Domain string

	HTTPOnly bool
	Secure   bool

	// SameSite is emitted verbatim when set: "Strict", "Lax" or "None".
	SameSite string

	// Now anchors Expires. Zero uses the current time.
	Now time.Time
}

// Serialize renders a Set-Cookie header value.
//
// String values are used as-is; any other value is JSON encoded and tagged
// with "j:". Attribute order is Max-Age, Domain, Path, Expires, HttpOnly,
// Secure, SameSite.
func Serialize(name string, value any, opts Options) (string, error) {
	if !validName(name) {
		return "", ErrInvalidName
	}

	raw, err := encodeValue(value)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('=')
	b.WriteString(escape(raw))

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	if opts.MaxAge > 0 {
		b.WriteString("; Max-Age=")
		b.WriteString(strconv.FormatInt(int64(opts.MaxAge/time.Second), 10))
	}
	if opts.Domain != "" {
		if !validAttr(opts.Domain) {
			return "", fmt.Errorf("%w: domain", ErrInvalidAttr)
		}
		b.WriteString("; Domain=")
		b.WriteString(opts.Domain)
	}

	path := opts.Path
	if path == "" {
		path = "/"
	}
	if !validAttr(path) {
		return "", fmt.Errorf("%w: path", ErrInvalidAttr)
	}
	b.WriteString("; Path=")
	b.WriteString(path)

	if opts.MaxAge > 0 {
		b.WriteString("; Expires=")
		b.WriteString(now.Add(opts.MaxAge).UTC().Format(http.TimeFormat))
	}

	if opts.HTTPOnly {
		b.WriteString("; HttpOnly")
	}
	if opts.Secure {
		b.WriteString("; Secure")
	}
	if opts.SameSite != "" {
		b.WriteString("; SameSite=")
		b.WriteString(opts.SameSite)
	}

	return b.String(), nil
}

// Pair returns the "name=value" part of a Set-Cookie value, suitable for a
// Cookie request header.
func Pair(setCookie string) string {
	if i := strings.IndexByte(setCookie, ';'); i >= 0 {
		return setCookie[:i]
	}
	return setCookie
}

// JoinPairs builds a Cookie header value from Set-Cookie values.
func JoinPairs(setCookies ...string) string {
	pairs := make([]string, 0, len(setCookies))
	for _, sc := range setCookies {
		if sc == "" {
			continue
		}
		pairs = append(pairs, Pair(sc))
	}
	return strings.Join(pairs, "; ")
}

// Append adds Set-Cookie values to h without replacing earlier ones.
func Append(h http.Header, values ...string) {
	for _, v := range values {
		if v != "" {
			h.Add("Set-Cookie", v)
		}
	}
}

// Parse reads a Cookie header into name/value pairs. Values are unescaped;
// the first occurrence of a name wins.
func Parse(header string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		eq := strings.IndexByte(part, '=')
		if eq <= 0 {
			continue
		}
		name := strings.TrimSpace(part[:eq])
		if _, seen := out[name]; seen {
			continue
		}
		val := strings.TrimSpace(part[eq+1:])
		if len(val) >= 2 && val[0] == '"' && val[len(val)-1] == '"' {
			val = val[1 : len(val)-1]
		}
		if dec, err := url.PathUnescape(val); err == nil {
			val = dec
		}
		out[name] = val
	}
	return out
}

// FromRequest returns the unescaped value of the named cookie, or "".
func FromRequest(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	if dec, err := url.PathUnescape(c.Value); err == nil {
		return dec
	}
	return c.Value
}

// Decode reverses the "j:" tagging. Untagged values come back as strings.
// ok is false when a tagged value holds invalid JSON.
func Decode(value string) (any, bool) {
	if !strings.HasPrefix(value, jsonPrefix) {
		return value, true
	}
	var v any
	if err := json.Unmarshal([]byte(value[len(jsonPrefix):]), &v); err != nil {
		return nil, false
	}
	return v, true
}

func encodeValue(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case nil:
		return jsonPrefix + "null", nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("cookie: encode value: %w", err)
		}
		return jsonPrefix + string(b), nil
	}
}

// escape percent-encodes like encodeURIComponent.
func escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte("0123456789ABCDEF"[c>>4])
		b.WriteByte("0123456789ABCDEF"[c&15])
	}
	return b.String()
}

func unreserved(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}

// validName reports whether s is an RFC 7230 token.
func validName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c <= 0x20 || c >= 0x7f {
			return false
		}
		if strings.IndexByte("()<>@,;:\\\"/[]?={}", c) >= 0 {
			return false
		}
	}
	return true
}

func validAttr(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 || c == 0x7f || c == ';' {
			return false
		}
	}
	return true
}
