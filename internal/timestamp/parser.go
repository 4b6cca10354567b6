// Package timestamp recognizes the timestamp tokens that transcription models emit
// (HH:MM:SS(.mmm), MM:SS, bracketed clocks and decimal seconds) and parses
// transcript lines of the form "[00:01:02] Speaker: text".
package timestamp

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Family identifies which token format matched.
type Family int

const (
	FamilyHMS Family = iota + 1
	FamilyMS
	FamilyDecimal
)

func (f Family) String() string {
	switch f {
	case FamilyHMS:
		return "hh:mm:ss"
	case FamilyMS:
		return "mm:ss"
	case FamilyDecimal:
		return "seconds"
	}
	return "unknown"
}

// Token is one recognized timestamp.
type Token struct {
	Raw     string
	Seconds float64
	Family  Family
}

var (
	clockPattern   = regexp.MustCompile(`\d+(?::\d+)+(?:\.\d+|,\d{3})?`)
	decimalPattern = regexp.MustCompile(`(?:^\s*|[\[(]\s*)(\d+\.\d+)|(\d+\.\d+)\s*(?:s\b|[\])])`)
)

// ExtractLast returns the last recognizable timestamp in text. Lines are scanned from
// the end; within a line clock tokens take priority over decimal seconds. The boolean
// is false when text holds no valid token at all, which is distinct from a zero value.
func ExtractLast(text string) (Token, bool) {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if tok, ok := lastInLine(lines[i]); ok {
			return tok, true
		}
	}
	return Token{}, false
}

// ExtractLastSeconds is ExtractLast without the token details.
func ExtractLastSeconds(text string) (float64, bool) {
	tok, ok := ExtractLast(text)
	return tok.Seconds, ok
}

// ExtractFirst returns the first recognizable timestamp in text.
func ExtractFirst(text string) (Token, bool) {
	for _, line := range strings.Split(text, "\n") {
		if tok, ok := firstInLine(line); ok {
			return tok, true
		}
	}
	return Token{}, false
}

func lastInLine(line string) (Token, bool) {
	toks := lineTokens(line)
	if len(toks) == 0 {
		return Token{}, false
	}
	return toks[len(toks)-1], true
}

func firstInLine(line string) (Token, bool) {
	toks := lineTokens(line)
	if len(toks) == 0 {
		return Token{}, false
	}
	return toks[0], true
}

// lineTokens returns the valid tokens of the highest priority family present in line,
// in order of appearance.
func lineTokens(line string) []Token {
	if toks, ok := leadingTokens(line); ok {
		return toks
	}

	var clocks []Token
	for _, raw := range clockPattern.FindAllString(line, -1) {
		if tok, ok := ParseToken(raw); ok {
			clocks = append(clocks, tok)
		}
	}
	if len(clocks) > 0 {
		return clocks
	}

	var decimals []Token
	for _, m := range decimalPattern.FindAllStringSubmatch(line, -1) {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		if tok, ok := ParseToken(raw); ok {
			decimals = append(decimals, tok)
		}
	}
	return decimals
}

// ParseToken parses a single timestamp token. Surrounding brackets and a trailing "s"
// are tolerated. Tokens with out-of-range minute or second fields are rejected.
func ParseToken(raw string) (Token, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimPrefix(s, "(")
	s = strings.TrimSuffix(s, "]")
	s = strings.TrimSuffix(s, ")")
	s = strings.TrimSpace(s)
	if s == "" {
		return Token{}, false
	}

	if !strings.Contains(s, ":") {
		s = strings.TrimSuffix(s, "s")
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
			return Token{}, false
		}
		return Token{Raw: raw, Seconds: v, Family: FamilyDecimal}, true
	}

	whole, frac := s, 0.0
	if i := strings.IndexAny(s, ".,"); i >= 0 {
		digits := s[i+1:]
		if digits == "" || !allDigits(digits) {
			return Token{}, false
		}
		f, err := strconv.ParseFloat("0."+digits, 64)
		if err != nil {
			return Token{}, false
		}
		whole, frac = s[:i], f
	}

	parts := strings.Split(whole, ":")
	nums := make([]int, len(parts))
	for i, p := range parts {
		if p == "" || len(p) > 3 || !allDigits(p) {
			return Token{}, false
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return Token{}, false
		}
		nums[i] = n
	}

	switch len(nums) {
	case 3:
		h, m, sec := nums[0], nums[1], nums[2]
		if len(parts[2]) != 2 || len(parts[1]) > 2 || m >= 60 || sec >= 60 {
			return Token{}, false
		}
		return Token{Raw: raw, Seconds: float64(h*3600+m*60+sec) + frac, Family: FamilyHMS}, true
	case 2:
		m, sec := nums[0], nums[1]
		if len(parts[1]) != 2 || sec >= 60 {
			return Token{}, false
		}
		return Token{Raw: raw, Seconds: float64(m*60+sec) + frac, Family: FamilyMS}, true
	}
	return Token{}, false
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
