package monitoring

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-intel/internal/model"
)

type fakeStats struct {
	stats *model.Statistics
	err   error
	calls atomic.Int32
}

func (f *fakeStats) Statistics(_ context.Context, _ *int64) (*model.Statistics, error) {
	f.calls.Add(1)
	return f.stats, f.err
}

type fakeBreakers map[string]string

func (f fakeBreakers) States() map[string]string { return f }

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()
	m := NewMetrics()

	m.ObserveFetch("ok")
	m.ObserveFetch("ok")
	m.ObserveFetch("timeout")
	m.IncPages()
	m.ObserveStage("scrape", "success", 2*time.Second)
	m.ObserveStage("scrape", "failure", time.Second)
	m.ObserveEvent(model.EventScrapingProgress)
	m.ObserveEvent(model.EventAnalysisProgress)

	assert.InDelta(t, 2, testutil.ToFloat64(m.fetches.WithLabelValues("ok")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.fetches.WithLabelValues("timeout")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.pages), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.stages.WithLabelValues("scrape", "failure")), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(m.events.WithLabelValues("progress")), 1e-9)
	assert.Equal(t, 1, testutil.CollectAndCount(m.stageDuration))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveFetch("ok")
		m.IncPages()
		m.ObserveStage("probe", "success", time.Second)
		m.ObserveEvent(model.EventAnalysisStarted)
		m.SetCorpus(&model.Statistics{Total: 3})
	})
}

func TestCollector(t *testing.T) {
	t.Parallel()
	src := &fakeStats{stats: &model.Statistics{Total: 4, WithEmail: 2}}
	c := NewCollector(src, fakeBreakers{"a.example": "open"})

	snap, err := c.Collect(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Stats.Total)
	assert.Equal(t, "open", snap.Breakers["a.example"])
	assert.False(t, snap.CollectedAt.IsZero())

	src.err = errors.New("db locked")
	_, err = c.Collect(context.Background(), nil)
	require.Error(t, err)
}

func TestRefresher_SetsGauges(t *testing.T) {
	t.Parallel()
	sec := 42.5
	src := &fakeStats{stats: &model.Statistics{Total: 7, ScrapedCompanies: 3, AvgSecurityScore: &sec}}
	m := NewMetrics()
	r := NewRefresher(NewCollector(src, nil), m, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()
	r.Run(ctx)

	assert.GreaterOrEqual(t, src.calls.Load(), int32(2))
	assert.InDelta(t, 7, testutil.ToFloat64(m.corpus.WithLabelValues("companies")), 1e-9)
	assert.InDelta(t, 3, testutil.ToFloat64(m.corpus.WithLabelValues("scraped")), 1e-9)
	assert.InDelta(t, 42.5, testutil.ToFloat64(m.corpus.WithLabelValues("avg_security_score")), 1e-9)
}
