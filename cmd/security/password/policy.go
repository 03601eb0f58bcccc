package password

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Validate checks the length policy and, when enabled, the weak-pattern
// rules. Lengths count runes.
func (c Config) Validate(password string) error {
	n := utf8.RuneCountInString(password)
	switch {
	case n < c.Policy.MinLength:
		return ErrPasswordTooShort
	case n > c.Policy.MaxLength:
		return ErrPasswordTooLong
	case c.Policy.RejectVeryWeak && isWeak(password):
		return ErrWeakPassword
	}
	return nil
}

// commonPasswords is a short deny list; anything smarter belongs upstream.
var commonPasswords = map[string]struct{}{
	"password": {}, "password1": {}, "password123": {}, "letmein": {},
	"iloveyou": {}, "qwerty": {}, "qwerty123": {}, "qwertyuiop": {},
	"welcome": {}, "welcome1": {}, "changeme": {}, "trustno1": {},
}

var weakRules = []func([]rune) bool{
	repeatsUnit,
	shortDigitsOnly,
	sequential,
}

func isWeak(pw string) bool {
	s := strings.TrimSpace(pw)
	if s == "" {
		return true
	}
	if _, ok := commonPasswords[strings.ToLower(s)]; ok {
		return true
	}
	rs := []rune(s)
	for _, weak := range weakRules {
		if weak(rs) {
			return true
		}
	}
	return false
}

// repeatsUnit matches strings made of one short unit repeated: "aaaa",
// "abab", "xyzxyz".
func repeatsUnit(rs []rune) bool {
	for unit := 1; unit <= 3 && unit < len(rs); unit++ {
		if len(rs)%unit != 0 {
			continue
		}
		same := true
		for i := unit; i < len(rs); i++ {
			if rs[i] != rs[i-unit] {
				same = false
				break
			}
		}
		if same {
			return true
		}
	}
	return false
}

// shortDigitsOnly matches PIN-like input under 12 digits.
func shortDigitsOnly(rs []rune) bool {
	if len(rs) >= 12 {
		return false
	}
	for _, r := range rs {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// sequential matches runs that step by +1 or -1 throughout, such as
// "12345678" or "hgfedcba".
func sequential(rs []rune) bool {
	if len(rs) < 4 {
		return false
	}
	step := unicode.ToLower(rs[1]) - unicode.ToLower(rs[0])
	if step != 1 && step != -1 {
		return false
	}
	for i := 2; i < len(rs); i++ {
		if unicode.ToLower(rs[i])-unicode.ToLower(rs[i-1]) != step {
			return false
		}
	}
	return true
}
