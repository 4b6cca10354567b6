package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderTrack(t *testing.T) {
	rec := NewRecorder()
	ctx := context.Background()

	done := Track(ctx, rec, ComponentContinuation, "request")
	done(errors.New("boom"), map[string]any{"attempt": 1})
	Track(ctx, rec, ComponentCoverage, "analyze")(nil, nil)

	evs := rec.Events()
	require.Len(t, evs, 2)
	assert.Equal(t, ComponentContinuation, evs[0].Component)
	assert.EqualError(t, evs[0].Err, "boom")
	assert.Equal(t, 1, evs[0].Attrs["attempt"])
	assert.False(t, evs[1].At.IsZero())
	assert.Equal(t, 1, rec.Count(ComponentCoverage, ""))
	assert.Equal(t, 0, rec.Count(ComponentCoverage, "other"))
}

func TestMultiAndConcurrency(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	c := Multi(a, b, Discard, LogCollector{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Record(context.Background(), Event{Component: ComponentStitch, Action: "append"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, a.Count(ComponentStitch, "append"))
	assert.Equal(t, 20, b.Count(ComponentStitch, "append"))
}
