// Package transcribe adapts speech-to-text and chat model backends to the
// continuation.Capability interface.
package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nikhilbhutani/castscribe/internal/continuation"
	"github.com/nikhilbhutani/castscribe/internal/llm"
	"github.com/nikhilbhutani/castscribe/internal/timestamp"
	"github.com/nikhilbhutani/castscribe/pkg/tokenizer"
)

// whisperPromptTokens is the prompt budget Whisper reads; anything earlier is ignored.
const whisperPromptTokens = 200

type AudioClient interface {
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
}

// Slicer cuts the audio so a continuation starts where the transcript stopped.
type Slicer interface {
	Slice(ctx context.Context, src string, from float64) (string, error)
}

// Whisper transcribes with an OpenAI-compatible audio endpoint. Continuations upload only
// the remaining audio and shift the returned timings back onto the full recording.
type Whisper struct {
	clients func(ctx context.Context) AudioClient
	slicer  Slicer
	model   string
	logger  *slog.Logger
}

func NewWhisper(clients *llm.OpenAIClients, slicer Slicer, model string) *Whisper {
	return NewWhisperWith(func(ctx context.Context) AudioClient { return clients.For(ctx) }, slicer, model)
}

func NewWhisperWith(clients func(ctx context.Context) AudioClient, slicer Slicer, model string) *Whisper {
	if model == "" {
		model = openai.Whisper1
	}
	return &Whisper{clients: clients, slicer: slicer, model: model, logger: slog.Default()}
}

func (w *Whisper) Request(ctx context.Context, req continuation.Request) (string, error) {
	path := req.Metadata.AudioRef
	if path == "" {
		return "", fmt.Errorf("whisper: recording %s has no audio", req.Metadata.EpisodeID)
	}
	offset := 0.0
	if req.FromSeconds > 0 {
		sliced, err := w.slicer.Slice(ctx, path, req.FromSeconds)
		if err != nil {
			return "", err
		}
		defer os.Remove(sliced)
		path, offset = sliced, req.FromSeconds
	}

	resp, err := w.clients(ctx).CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: path,
		Prompt:   whisperPrompt(req),
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription: %w", err)
	}

	w.logger.Debug("whisper transcription",
		"episode_id", req.Metadata.EpisodeID,
		"attempt", req.Attempt,
		"segments", len(resp.Segments),
		"audio_seconds", resp.Duration,
		"cost_usd", llm.CalculateTranscriptionCost(w.model, resp.Duration),
	)
	return formatSegments(resp, offset, defaultSpeaker(req.Metadata.SpeakerHints)), nil
}

// formatSegments renders verbose_json segments as canonical transcript lines.
func formatSegments(resp openai.AudioResponse, offset float64, speaker string) string {
	var lines []string
	for _, seg := range resp.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		lines = append(lines, timestamp.FormatLine(offset+seg.Start, speaker, text))
	}
	if len(lines) == 0 && strings.TrimSpace(resp.Text) != "" {
		lines = append(lines, timestamp.FormatLine(offset, speaker, strings.TrimSpace(resp.Text)))
	}
	return strings.Join(lines, "\n")
}

// whisperPrompt carries the previous words forward, without timestamps, so spelling and
// style stay consistent across the seam.
func whisperPrompt(req continuation.Request) string {
	var words []string
	for _, raw := range strings.Split(req.TrailingExcerpt, "\n") {
		if l, ok := timestamp.ParseLine(raw); ok {
			words = append(words, l.Text)
		} else if s := strings.TrimSpace(raw); s != "" {
			words = append(words, s)
		}
	}
	if len(words) == 0 {
		return req.Metadata.Title
	}
	return tokenizer.TailLines(strings.Join(words, " "), whisperPromptTokens)
}

// defaultSpeaker labels lines when the recording has a single known speaker. Whisper does
// not diarize.
func defaultSpeaker(hints []string) string {
	if len(hints) == 1 {
		return hints[0]
	}
	return ""
}
