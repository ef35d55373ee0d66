package model

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloatMarshal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   float64
		want string
	}{
		{1.5, "1.5"},
		{0, "0"},
		{math.NaN(), "null"},
		{math.Inf(1), "null"},
		{math.Inf(-1), "null"},
	}

	for _, tt := range tests {
		b, err := json.Marshal(Float(tt.in))
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(b))
	}
}

func TestFloatUnmarshalNull(t *testing.T) {
	t.Parallel()

	var f Float
	require.NoError(t, json.Unmarshal([]byte("null"), &f))
	assert.True(t, math.IsNaN(float64(f)))

	require.NoError(t, json.Unmarshal([]byte("42.25"), &f))
	assert.Equal(t, Float(42.25), f)
}

func TestMarshalSafe_NestedNonFinite(t *testing.T) {
	t.Parallel()

	payload := map[string]any{
		"a": math.NaN(),
		"b": []any{1.0, math.Inf(1), map[string]any{"c": math.Inf(-1), "d": "x"}},
		"e": map[string]float64{"f": math.NaN(), "g": 2},
		"h": []float64{math.NaN(), 3},
	}

	b, err := MarshalSafe(payload)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Nil(t, got["a"])
	inner := got["b"].([]any)
	assert.Equal(t, 1.0, inner[0])
	assert.Nil(t, inner[1])
	assert.Nil(t, inner[2].(map[string]any)["c"])
	assert.Equal(t, "x", inner[2].(map[string]any)["d"])
	assert.Nil(t, got["e"].(map[string]any)["f"])
	assert.Equal(t, 2.0, got["e"].(map[string]any)["g"])
	assert.Equal(t, []any{nil, 3.0}, got["h"])
}

func TestMarshalSafe_StructPointer(t *testing.T) {
	t.Parallel()

	nan := math.NaN()
	r := &SEOReport{
		Score:      40,
		Lighthouse: &LighthouseScores{SEO: &nan, Performance: Finite(0.8)},
	}
	b, err := MarshalSafe(r)
	require.NoError(t, err)

	var got SEOReport
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, 40, got.Score)
	require.NotNil(t, got.Lighthouse)
	assert.Nil(t, got.Lighthouse.SEO)
	require.NotNil(t, got.Lighthouse.Performance)
	assert.InDelta(t, 0.8, *got.Lighthouse.Performance, 1e-9)
}

func TestEventJSON(t *testing.T) {
	t.Parallel()

	nan := Float(math.NaN())
	ev := Event{Kind: EventScrapingProgress, Current: 2, Total: 0, Percentage: &nan}
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"percentage":null`)
	assert.Contains(t, string(b), `"event":"scraping_progress"`)
}

func TestEventKindPhase(t *testing.T) {
	t.Parallel()

	assert.Equal(t, EventKind("osint_complete"), Kind(PrefixOSINT, PhaseComplete))
	assert.Equal(t, PhaseProgress, EventScrapingProgress.Phase())
	assert.True(t, EventAnalysisError.Terminal())
	assert.True(t, EventAnalysisStopped.Terminal())
	assert.False(t, EventAnalysisStarted.Terminal())
}

func TestPercent(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Percent(1, 0))
	p := Percent(1, 4)
	require.NotNil(t, p)
	assert.InDelta(t, 25.0, float64(*p), 1e-9)
}

func TestJobStateDone(t *testing.T) {
	t.Parallel()

	assert.True(t, JobSuccess.Done())
	assert.True(t, JobFailure.Done())
	assert.False(t, JobProgress.Done())
	assert.False(t, JobPending.Done())
}
