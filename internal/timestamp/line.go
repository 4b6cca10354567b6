package timestamp

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Line is one logical transcript line. Body is the offset in Raw where the text after
// the leading timestamp begins.
type Line struct {
	Start   float64
	End     float64
	HasEnd  bool
	Speaker string
	Text    string
	Raw     string
	Body    int
}

const (
	atom      = `\d+(?::\d+)+(?:\.\d+|,\d{3})?|\d+(?:\.\d+)?`
	dotAtom   = `\d+(?::\d+)+(?:\.\d+|,\d{3})?|\d+\.\d+`
	rangeSep  = `(?:-->|->|–|—|-|to)`
	nameAtom  = `[\p{L}][\p{L}\p{N} ._'’-]{0,39}?`
	leadTrail = `\s*(?:[-–—:|]\s*)?`
)

var (
	bracketedPrefix = regexp.MustCompile(`^\s*(?:[-*]\s+)?[\[(]\s*(` + atom + `)\s*s?\s*(?:` + rangeSep + `\s*(` + atom + `)\s*s?\s*)?[\])]` + leadTrail)
	barePrefix      = regexp.MustCompile(`^\s*(?:[-*]\s+)?(` + dotAtom + `)s?(?:\s*` + rangeSep + `\s*(` + dotAtom + `)s?)?(?:\s*[-–—:|]\s*|\s+|$)`)
	speakerFirst    = regexp.MustCompile(`^\s*(?:\*\*)?(` + nameAtom + `)(?:\*\*)?\s*[\[(]\s*(` + atom + `)\s*s?\s*(?:` + rangeSep + `\s*(` + atom + `)\s*s?\s*)?[\])]\s*:?\s*(.*)$`)
	speakerTag      = regexp.MustCompile(`^(?:\*\*)?(` + nameAtom + `)(?:\*\*)?\s*:(?:\*\*)?(?:\s+(.*)|$)`)
)

// prefix is the leading timestamp of a line as matched, before validation of the end.
type prefix struct {
	start   Token
	end     string
	speaker string // set when the name precedes the timestamp
	body    int
}

func matchPrefix(raw string) (prefix, bool) {
	if m := speakerFirst.FindStringSubmatchIndex(raw); m != nil && validName(raw[m[2]:m[3]]) {
		if st, ok := ParseToken(raw[m[4]:m[5]]); ok {
			p := prefix{start: st, speaker: cleanSpeaker(raw[m[2]:m[3]]), body: m[8]}
			if m[6] >= 0 {
				p.end = raw[m[6]:m[7]]
			}
			return p, true
		}
	}

	for _, re := range []*regexp.Regexp{bracketedPrefix, barePrefix} {
		loc := re.FindStringSubmatchIndex(raw)
		if loc == nil {
			continue
		}
		st, ok := ParseToken(raw[loc[2]:loc[3]])
		if !ok {
			continue
		}
		p := prefix{start: st, body: loc[1]}
		if loc[4] >= 0 {
			p.end = raw[loc[4]:loc[5]]
		}
		return p, true
	}
	return prefix{}, false
}

// endToken is the range end when it parses and does not precede the start.
func (p prefix) endToken() (Token, bool) {
	if p.end == "" {
		return Token{}, false
	}
	et, ok := ParseToken(p.end)
	if !ok || et.Seconds < p.start.Seconds {
		return Token{}, false
	}
	return et, true
}

// ParseLine parses "[start - end] Speaker: text" and its common variants. It returns
// false when the line carries no valid leading timestamp.
func ParseLine(raw string) (Line, bool) {
	p, ok := matchPrefix(raw)
	if !ok {
		return Line{}, false
	}
	l := Line{Start: p.start.Seconds, Raw: raw, Body: p.body}
	if et, ok := p.endToken(); ok {
		l.End, l.HasEnd = et.Seconds, true
	}
	if p.speaker != "" {
		l.Speaker, l.Text = p.speaker, strings.TrimSpace(raw[p.body:])
	} else {
		l.Speaker, l.Text = SplitSpeaker(raw[p.body:])
	}
	return l, true
}

// leadingTokens returns the start token of a line and its range end when present.
func leadingTokens(raw string) ([]Token, bool) {
	p, ok := matchPrefix(raw)
	if !ok {
		return nil, false
	}
	toks := []Token{p.start}
	if et, ok := p.endToken(); ok {
		toks = append(toks, et)
	}
	return toks, true
}

// WithSpeaker inserts a "Speaker: " tag after the leading timestamp, leaving the
// timestamp text untouched. Lines that already name a speaker are returned as is.
func (l Line) WithSpeaker(speaker string) string {
	if speaker == "" || l.Speaker != "" || l.Body > len(l.Raw) {
		return l.Raw
	}
	head, rest := l.Raw[:l.Body], strings.TrimLeft(l.Raw[l.Body:], " \t")
	if head != "" && !strings.HasSuffix(head, " ") && !strings.HasSuffix(head, "\t") {
		head += " "
	}
	return head + speaker + ": " + rest
}

// SplitSpeaker separates a leading "Name:" tag from the text.
func SplitSpeaker(s string) (speaker, text string) {
	s = strings.TrimSpace(s)
	m := speakerTag.FindStringSubmatch(s)
	if m == nil || !validName(m[1]) {
		return "", s
	}
	return cleanSpeaker(m[1]), strings.TrimSpace(m[2])
}

// validName rejects tags that read like a clause ("So here's the thing: ...").
func validName(s string) bool {
	return len(strings.Fields(cleanSpeaker(s))) <= 3
}

func cleanSpeaker(s string) string {
	return strings.TrimSpace(strings.Trim(s, "*"))
}

// Format renders seconds as HH:MM:SS, truncating fractions.
func Format(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

// FormatVTT renders seconds as HH:MM:SS.mmm.
func FormatVTT(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	return fmt.Sprintf("%02d:%02d:%02d.%03d", ms/3600000, (ms/60000)%60, (ms/1000)%60, ms%1000)
}

// FormatLine writes a line back in the canonical "[HH:MM:SS] Speaker: text" form.
func FormatLine(start float64, speaker, text string) string {
	if speaker == "" {
		return fmt.Sprintf("[%s] %s", Format(start), text)
	}
	return fmt.Sprintf("[%s] %s: %s", Format(start), speaker, text)
}
