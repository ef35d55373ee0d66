package orchestrator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-intel/internal/model"
)

func TestBus_PublishSubscribe(t *testing.T) {
	t.Parallel()
	b := NewBus(2)
	ch, cancel := b.Subscribe()

	sink := b.Sink()
	sink(model.Event{Kind: model.EventAnalysisStarted})
	sink(model.Event{Kind: model.EventAnalysisProgress})
	sink(model.Event{Kind: model.EventAnalysisComplete})

	assert.Equal(t, model.EventAnalysisStarted, (<-ch).Kind)
	assert.Equal(t, model.EventAnalysisProgress, (<-ch).Kind)
	assert.Equal(t, int64(1), b.Dropped())

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	// Publishing without subscribers is a no-op.
	b.Publish(model.Event{Kind: model.EventAnalysisError})
	assert.Equal(t, int64(1), b.Dropped())
}

func TestBus_ConcurrentSubscribers(t *testing.T) {
	t.Parallel()
	b := NewBus(0)
	const n = 8

	var wg sync.WaitGroup
	counts := make([]int, n)
	cancels := make([]func(), n)
	for i := range n {
		ch, cancel := b.Subscribe()
		cancels[i] = cancel
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range ch {
				counts[i]++
			}
		}()
	}
	for range 100 {
		b.Publish(model.Event{Kind: model.EventScrapingProgress})
	}
	for _, c := range cancels {
		c()
	}
	wg.Wait()
	for i := range n {
		assert.Equal(t, 100, counts[i])
	}
}

func TestFanIn(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	f := newFanIn(rec.sink, []string{"technical", "seo"})

	tech := f.task("technical")
	seo := f.task("seo")
	tech(model.Event{Kind: "technical_progress", Current: 1, Total: 2})
	seo(model.Event{Kind: "seo_complete"})
	tech(model.Event{Kind: "technical_progress", Current: 1, Total: 4})
	tech(model.Event{Kind: "technical_complete"})

	evs := rec.all()
	require.Len(t, evs, 4)
	want := []struct{ task, global float64 }{
		{50, 25},
		{100, 75},
		{25, 75},
		{100, 100},
	}
	for i, w := range want {
		require.NotNil(t, evs[i].TaskProgress, i)
		require.NotNil(t, evs[i].GlobalProgress, i)
		assert.InDelta(t, w.task, float64(*evs[i].TaskProgress), 0.001, i)
		assert.InDelta(t, w.global, float64(*evs[i].GlobalProgress), 0.001, i)
	}
}

func TestSink_NilSafe(t *testing.T) {
	t.Parallel()
	var s Sink
	assert.NotPanics(t, func() { s.emit(model.Event{}) })
}
