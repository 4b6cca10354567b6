package caption

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nikhilbhutani/castscribe/internal/timestamp"
)

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// WriteVTT renders the track as a WebVTT document.
func (t *Track) WriteVTT(w io.Writer) error {
	bw := bufio.NewWriter(w)

	fmt.Fprint(bw, "WEBVTT\n\nNOTE\n")
	meta := [][2]string{
		{"title", t.Title},
		{"show", t.ShowID},
		{"episode", t.EpisodeID},
		{"duration", timestamp.Format(t.Duration)},
		{"generated", t.GeneratedAt.Format(time.RFC3339)},
	}
	for _, kv := range meta {
		if kv[1] == "" {
			continue
		}
		fmt.Fprintf(bw, "%s: %s\n", kv[0], noteText(kv[1]))
	}

	notes := t.Notes
	for i, cue := range t.Cues {
		for len(notes) > 0 && notes[0].After <= i {
			fmt.Fprintf(bw, "\nNOTE %s\n", noteText(notes[0].Text))
			notes = notes[1:]
		}
		fmt.Fprintf(bw, "\n%s\n%s --> %s\n%s\n", cue.ID, timestamp.FormatVTT(cue.Start), timestamp.FormatVTT(cue.End), payload(cue))
	}
	for _, n := range notes {
		fmt.Fprintf(bw, "\nNOTE %s\n", noteText(n.Text))
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write vtt: %w", err)
	}
	return nil
}

// VTT returns the rendered document.
func (t *Track) VTT() string {
	var b strings.Builder
	_ = t.WriteVTT(&b)
	return b.String()
}

func payload(c Cue) string {
	text := escaper.Replace(c.Text)
	if c.Speaker == "" {
		return text
	}
	return "<v " + escaper.Replace(c.Speaker) + ">" + text + "</v>"
}

// noteText keeps a note on one line and free of the cue timing arrow.
func noteText(s string) string {
	for strings.Contains(s, "-->") {
		s = strings.ReplaceAll(s, "-->", "->")
	}
	return strings.Join(strings.Fields(s), " ")
}
