// Package caption turns a stitched transcript into timed caption cues.
package caption

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nikhilbhutani/castscribe/internal/models"
	"github.com/nikhilbhutani/castscribe/internal/timestamp"
)

const (
	DefaultMaxCueDuration = 7.0
	// DefaultWordsPerSecond estimates how long the final line is spoken for.
	DefaultWordsPerSecond = 2.5
	DefaultMinCueDuration = 1.0
)

type Cue struct {
	ID      string  `json:"id"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker,omitempty"`
	Text    string  `json:"text"`
}

// Note is a transcript line that could not be timed. After is the number of cues that
// precede it.
type Note struct {
	After int    `json:"after"`
	Text  string `json:"text"`
}

type Track struct {
	Title       string    `json:"title"`
	ShowID      string    `json:"show_id"`
	EpisodeID   string    `json:"episode_id"`
	Duration    float64   `json:"duration"`
	GeneratedAt time.Time `json:"generated_at"`
	Cues        []Cue     `json:"cues"`
	Notes       []Note    `json:"notes,omitempty"`
}

type Config struct {
	MaxCueDuration float64
	WordsPerSecond float64
	MinCueDuration float64
}

type Converter struct {
	cfg Config
	now func() time.Time
}

type Option func(*Converter)

func WithClock(now func() time.Time) Option {
	return func(c *Converter) { c.now = now }
}

func NewConverter(cfg Config, opts ...Option) *Converter {
	if cfg.MaxCueDuration <= 0 {
		cfg.MaxCueDuration = DefaultMaxCueDuration
	}
	if cfg.WordsPerSecond <= 0 {
		cfg.WordsPerSecond = DefaultWordsPerSecond
	}
	if cfg.MinCueDuration <= 0 {
		cfg.MinCueDuration = DefaultMinCueDuration
	}
	if cfg.MinCueDuration > cfg.MaxCueDuration {
		cfg.MinCueDuration = cfg.MaxCueDuration
	}
	c := &Converter{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type timedLine struct {
	timestamp.Line
	seq   int
	notes []string
}

type span struct {
	start, end float64
	speaker    string
	text       string
	notes      []string
}

// Convert builds a caption track. Untimed lines become notes; nothing is dropped.
func (c *Converter) Convert(text string, meta models.RecordingMetadata) *Track {
	t := &Track{
		Title:       meta.Title,
		ShowID:      meta.ShowID,
		EpisodeID:   meta.EpisodeID,
		Duration:    meta.DurationSeconds,
		GeneratedAt: c.now().UTC(),
	}

	var (
		timed   []timedLine
		pending []string
	)
	for _, raw := range strings.Split(text, "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		l, ok := timestamp.ParseLine(raw)
		if !ok {
			pending = append(pending, raw)
			continue
		}
		timed = append(timed, timedLine{Line: l, seq: len(timed), notes: pending})
		pending = nil
	}

	// Restarted seams can leave lines out of order.
	sort.SliceStable(timed, func(i, j int) bool { return timed[i].Start < timed[j].Start })

	for _, s := range c.spans(timed, meta.DurationSeconds) {
		for _, n := range s.notes {
			t.Notes = append(t.Notes, Note{After: len(t.Cues), Text: n})
		}
		if s.text == "" {
			continue
		}
		t.Cues = append(t.Cues, c.split(s)...)
	}
	for _, n := range pending {
		t.Notes = append(t.Notes, Note{After: len(t.Cues), Text: n})
	}

	for i := range t.Cues {
		t.Cues[i].ID = strconv.Itoa(i + 1)
	}
	return t
}

// spans assigns an end to every timed line. Lines sharing a start divide the span up
// to the next distinct start between them.
func (c *Converter) spans(timed []timedLine, duration float64) []span {
	var out []span
	for i := 0; i < len(timed); {
		j := i + 1
		for j < len(timed) && sameTime(timed[j].Start, timed[i].Start) {
			j++
		}
		group := timed[i:j]
		start := group[0].Start

		var end float64
		if j < len(timed) {
			end = timed[j].Start
			if e, ok := explicitEnd(group); ok && e < end {
				end = e
			}
		} else {
			end = c.finalEnd(group, duration)
		}

		step := (end - start) / float64(len(group))
		for k, l := range group {
			s := span{
				start:   start + float64(k)*step,
				end:     start + float64(k+1)*step,
				speaker: l.Speaker,
				text:    l.Text,
				notes:   l.notes,
			}
			if s.text == "" {
				s.notes = append(s.notes, l.Raw)
			}
			out = append(out, s)
		}
		i = j
	}
	return out
}

func (c *Converter) finalEnd(group []timedLine, duration float64) float64 {
	start := group[0].Start
	if e, ok := explicitEnd(group); ok && e > start {
		return e
	}
	words := 0
	for _, l := range group {
		words += len(strings.Fields(l.Text))
	}
	d := math.Max(float64(words)/c.cfg.WordsPerSecond, c.cfg.MinCueDuration*float64(len(group)))
	end := start + d
	if duration > start && end > duration {
		end = duration
	}
	return end
}

// split breaks a span longer than MaxCueDuration into evenly timed pieces, dividing the
// words between them. No piece exceeds MaxCueDuration.
func (c *Converter) split(s span) []Cue {
	d := s.end - s.start
	if d <= c.cfg.MaxCueDuration {
		return []Cue{{Start: s.start, End: s.end, Speaker: s.speaker, Text: s.text}}
	}

	words := strings.Fields(s.text)
	n := int(math.Ceil(d / c.cfg.MaxCueDuration))
	if n > len(words) {
		n = len(words)
	}
	step := d / float64(n)
	cues := make([]Cue, 0, n)
	for i := 0; i < n; i++ {
		start := s.start + float64(i)*step
		end := math.Min(start+step, start+c.cfg.MaxCueDuration)
		cues = append(cues, Cue{
			Start:   start,
			End:     end,
			Speaker: s.speaker,
			Text:    strings.Join(words[i*len(words)/n:(i+1)*len(words)/n], " "),
		})
	}
	return cues
}

// explicitEnd is the latest range end in the group, present only when every line has one.
func explicitEnd(group []timedLine) (float64, bool) {
	var end float64
	for _, l := range group {
		if !l.HasEnd || l.End <= l.Start {
			return 0, false
		}
		end = math.Max(end, l.End)
	}
	return end, true
}

func sameTime(a, b float64) bool {
	return math.Abs(a-b) < 0.0005
}
