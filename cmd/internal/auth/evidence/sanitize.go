package evidence

import (
	"encoding/json"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Limits bounds what a client may submit as signals.
type Limits struct {
	MaxKeys     int
	MaxKeyLen   int
	MaxValueLen int
}

// DefaultLimits are applied when a zero Limits is passed to Sanitize.
var DefaultLimits = Limits{MaxKeys: 32, MaxKeyLen: 64, MaxValueLen: 512}

// reserved keys collide with record fields and are never accepted as signals.
var reserved = map[string]struct{}{"ts": {}, "ek": {}, "user": {}}

// Sanitize turns a decoded JSON body into Signals. Only scalar values are
// kept. Oversized keys or values are dropped, and keys beyond MaxKeys are
// discarded in lexical order so the result is deterministic.
func Sanitize(body map[string]any, lim Limits) Signals {
	if lim.MaxKeys <= 0 {
		lim.MaxKeys = DefaultLimits.MaxKeys
	}
	if lim.MaxKeyLen <= 0 {
		lim.MaxKeyLen = DefaultLimits.MaxKeyLen
	}
	if lim.MaxValueLen <= 0 {
		lim.MaxValueLen = DefaultLimits.MaxValueLen
	}

	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make(Signals)
	for _, k := range keys {
		if len(out) >= lim.MaxKeys {
			break
		}
		name := strings.TrimSpace(k)
		if name == "" || len(name) > lim.MaxKeyLen {
			continue
		}
		if _, bad := reserved[name]; bad {
			continue
		}
		v, ok := scalar(body[k])
		if !ok || len(v) > lim.MaxValueLen || !utf8.ValidString(v) {
			continue
		}
		out[name] = v
	}
	return out
}

func scalar(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case json.Number:
		return x.String(), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	default:
		return "", false
	}
}
