package identity

import (
	"strings"
	"unicode"
)

// NormalizeName trims surrounding whitespace and rejects control characters.
// Comparison stays case-sensitive: "Alice" and "alice" are distinct names.
func NormalizeName(s string) string {
	s = strings.TrimSpace(s)
	if strings.IndexFunc(s, unicode.IsControl) >= 0 {
		return ""
	}
	return s
}
