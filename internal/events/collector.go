// Package events records what each processing component did during a run. Components
// receive a Collector explicitly instead of being wrapped.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	ComponentCoverage     = "coverage"
	ComponentContinuation = "continuation"
	ComponentStitch       = "stitch"
	ComponentCaption      = "caption"
	ComponentQuota        = "quota"
	ComponentStorage      = "storage"
	ComponentEngine       = "engine"
)

type Event struct {
	Component string
	Action    string
	Duration  time.Duration
	Err       error
	Attrs     map[string]any
	At        time.Time
}

type Collector interface {
	Record(ctx context.Context, e Event)
}

// Discard drops every event.
var Discard Collector = discard{}

type discard struct{}

func (discard) Record(context.Context, Event) {}

// Recorder keeps events in memory. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Record(_ context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events match component and action. An empty action matches all.
func (r *Recorder) Count(component, action string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Component == component && (action == "" || e.Action == action) {
			n++
		}
	}
	return n
}

// LogCollector writes events through slog at debug level, errors at warn.
type LogCollector struct {
	Logger *slog.Logger
}

func (l LogCollector) Record(ctx context.Context, e Event) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	args := []any{"component", e.Component, "action", e.Action, "duration_ms", e.Duration.Milliseconds()}
	for k, v := range e.Attrs {
		args = append(args, k, v)
	}
	if e.Err != nil {
		logger.WarnContext(ctx, "component event", append(args, "error", e.Err)...)
		return
	}
	logger.DebugContext(ctx, "component event", args...)
}

// Multi fans events out to several collectors.
func Multi(cs ...Collector) Collector {
	return multi(cs)
}

type multi []Collector

func (m multi) Record(ctx context.Context, e Event) {
	for _, c := range m {
		c.Record(ctx, e)
	}
}

// Track returns a func that records the event with its elapsed duration.
func Track(ctx context.Context, c Collector, component, action string) func(err error, attrs map[string]any) {
	start := time.Now()
	return func(err error, attrs map[string]any) {
		c.Record(ctx, Event{Component: component, Action: action, Duration: time.Since(start), Err: err, Attrs: attrs, At: start})
	}
}
