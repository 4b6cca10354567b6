// Package stitch merges the raw segments of one transcription run into a single
// transcript, trimming the content a model repeats at each continuation boundary.
package stitch

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/nikhilbhutani/castscribe/internal/models"
	"github.com/nikhilbhutani/castscribe/internal/timestamp"
)

const DefaultOverlapTolerance = 10.0

// restateWindow is how far before the previous end a segment may start and still be
// read as restating the tail rather than restarting.
const restateWindow = 60.0

const (
	ReasonNoTimestamps = "segment has no timestamps"
	ReasonGap          = "gap after previous segment"
	ReasonRestart      = "segment restarts before previous end"
)

// SeamAnomaly marks a boundary where no reliable overlap point was found. The segment
// was appended unchanged.
type SeamAnomaly struct {
	Boundary  int     `json:"boundary"`
	PrevEnd   float64 `json:"prev_end"`
	NextStart float64 `json:"next_start"`
	Reason    string  `json:"reason"`
}

func (a SeamAnomaly) String() string {
	return fmt.Sprintf("seam %d: %s (prev end %s, next start %s)",
		a.Boundary, a.Reason, timestamp.Format(a.PrevEnd), timestamp.Format(a.NextStart))
}

type Transcript struct {
	Text         string        `json:"text"`
	SegmentCount int           `json:"segment_count"`
	Anomalies    []SeamAnomaly `json:"anomalies,omitempty"`
	DroppedLines int           `json:"dropped_lines"`
	EndSeconds   float64       `json:"end_seconds"`
}

type entry struct {
	raw     string
	timed   bool
	start   float64
	last    float64
	speaker string
	norm    string
}

// Builder stitches segments incrementally so a caller can re-evaluate coverage after
// every append without re-stitching from scratch.
type Builder struct {
	tolerance   float64
	entries     []entry
	segments    int
	anomalies   []SeamAnomaly
	dropped     int
	lastSpeaker string
}

func NewBuilder(overlapTolerance float64) *Builder {
	if overlapTolerance <= 0 {
		overlapTolerance = DefaultOverlapTolerance
	}
	return &Builder{tolerance: overlapTolerance}
}

// Stitch merges segments in order.
func Stitch(segments []models.TranscriptSegment, overlapTolerance float64) Transcript {
	b := NewBuilder(overlapTolerance)
	for _, seg := range segments {
		b.Append(seg)
	}
	return b.Transcript()
}

// Append adds one segment and returns how many of its lines were kept, plus the seam
// anomaly for its boundary if there was one.
func (b *Builder) Append(seg models.TranscriptSegment) (int, *SeamAnomaly) {
	incoming := parse(seg.Text)
	b.segments++

	if b.segments == 1 {
		b.push(incoming)
		return len(incoming), nil
	}

	cutoff, prevEnd, hasPrev := b.tail()
	first, hasFirst := firstTimed(incoming)

	var anomaly *SeamAnomaly
	switch {
	case !hasFirst:
		anomaly = &SeamAnomaly{Reason: ReasonNoTimestamps}
	case !hasPrev:
		// nothing timed yet to align against
	case first.start > cutoff:
		if first.start-prevEnd > b.tolerance {
			anomaly = &SeamAnomaly{Reason: ReasonGap}
		}
	case b.restatesTail(incoming, first.start, prevEnd):
		incoming = b.dropOverlap(incoming, cutoff)
	default:
		anomaly = &SeamAnomaly{Reason: ReasonRestart}
	}

	if anomaly != nil {
		anomaly.Boundary = b.segments - 1
		anomaly.PrevEnd = prevEnd
		if hasFirst {
			anomaly.NextStart = first.start
		}
		b.anomalies = append(b.anomalies, *anomaly)
		b.push(incoming)
		return len(incoming), anomaly
	}

	incoming = b.dropRepeatedContent(incoming, prevEnd)
	b.carrySpeaker(incoming)
	b.push(incoming)
	return len(incoming), nil
}

// Clone returns an independent copy, so a segment can be tried and discarded.
func (b *Builder) Clone() *Builder {
	c := *b
	c.entries = append([]entry(nil), b.entries...)
	c.anomalies = append([]SeamAnomaly(nil), b.anomalies...)
	return &c
}

// Text returns the stitched text so far.
func (b *Builder) Text() string {
	lines := make([]string, len(b.entries))
	for i, e := range b.entries {
		lines[i] = e.raw
	}
	return strings.Join(lines, "\n")
}

func (b *Builder) Transcript() Transcript {
	_, end, _ := b.tail()
	return Transcript{
		Text:         b.Text(),
		SegmentCount: b.segments,
		Anomalies:    append([]SeamAnomaly(nil), b.anomalies...),
		DroppedLines: b.dropped,
		EndSeconds:   end,
	}
}

// tail returns the start and last timestamp of the final timed line.
func (b *Builder) tail() (start, last float64, ok bool) {
	for i := len(b.entries) - 1; i >= 0; i-- {
		if b.entries[i].timed {
			return b.entries[i].start, b.entries[i].last, true
		}
	}
	return 0, 0, false
}

func (b *Builder) hasTimestampNear(ts float64) bool {
	for i := len(b.entries) - 1; i >= 0; i-- {
		e := b.entries[i]
		if !e.timed {
			continue
		}
		if abs(e.start-ts) <= b.tolerance || abs(e.last-ts) <= b.tolerance {
			return true
		}
		if e.last < ts-b.tolerance {
			return false
		}
	}
	return false
}

// restatesTail reports whether a segment that starts at or before the last accumulated
// line is repeating the tail: a short rewind, or any of its lines up to prevEnd landing
// on an accumulated timestamp.
func (b *Builder) restatesTail(in []entry, start, prevEnd float64) bool {
	if prevEnd-start <= restateWindow {
		return true
	}
	for _, e := range in {
		if !e.timed {
			continue
		}
		if e.start > prevEnd+b.tolerance {
			break
		}
		if b.hasTimestampNear(e.start) {
			return true
		}
	}
	return false
}

// dropOverlap removes timed lines at or before cutoff together with the untimed lines
// that continue them.
func (b *Builder) dropOverlap(in []entry, cutoff float64) []entry {
	out := make([]entry, 0, len(in))
	dropping := false
	for _, e := range in {
		if e.timed {
			dropping = e.start <= cutoff
		}
		if dropping {
			b.dropped++
			continue
		}
		out = append(out, e)
	}
	return out
}

// dropRepeatedContent removes leading lines whose text repeats a line from the
// accumulator's trailing window even though their timestamps drifted forward.
func (b *Builder) dropRepeatedContent(in []entry, prevEnd float64) []entry {
	recent := make(map[string]bool)
	for i := len(b.entries) - 1; i >= 0; i-- {
		e := b.entries[i]
		if e.timed && e.last < prevEnd-b.tolerance {
			break
		}
		if e.norm != "" {
			recent[e.norm] = true
		}
	}

	n := 0
	for n < len(in) && in[n].timed && in[n].norm != "" && recent[in[n].norm] {
		n++
	}
	b.dropped += n
	return in[n:]
}

func (b *Builder) carrySpeaker(in []entry) {
	if b.lastSpeaker == "" {
		return
	}
	for i := range in {
		if !in[i].timed {
			continue
		}
		if in[i].speaker == "" {
			l, _ := timestamp.ParseLine(in[i].raw)
			in[i].raw = l.WithSpeaker(b.lastSpeaker)
			in[i].speaker = b.lastSpeaker
		}
		return
	}
}

func (b *Builder) push(in []entry) {
	for _, e := range in {
		if e.speaker != "" {
			b.lastSpeaker = e.speaker
		}
		b.entries = append(b.entries, e)
	}
}

func parse(text string) []entry {
	var out []entry
	for _, raw := range strings.Split(text, "\n") {
		raw = strings.TrimRight(raw, " \t\r")
		if strings.TrimSpace(raw) == "" {
			continue
		}
		l, ok := timestamp.ParseLine(raw)
		if !ok {
			out = append(out, entry{raw: raw, norm: normalize(raw)})
			continue
		}
		last := l.Start
		if l.HasEnd {
			last = l.End
		}
		out = append(out, entry{raw: raw, timed: true, start: l.Start, last: last, speaker: l.Speaker, norm: normalize(l.Text)})
	}
	return out
}

func firstTimed(in []entry) (entry, bool) {
	for _, e := range in {
		if e.timed {
			return e, true
		}
	}
	return entry{}, false
}

func normalize(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
