package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-intel/internal/model"
	"github.com/sells-group/prospect-intel/internal/orchestrator"
	"github.com/sells-group/prospect-intel/internal/resilience"
)

func TestFormatEvent(t *testing.T) {
	pct := model.Float(42.5)
	line := formatEvent(model.Event{
		Kind:       model.EventScrapingProgress,
		Company:    "Acme",
		Percentage: &pct,
		Message:    "page 3/7",
	})
	assert.True(t, strings.HasPrefix(line, "scraping_progress"))
	assert.Contains(t, line, "42.5%")
	assert.Contains(t, line, "Acme: page 3/7")

	line = formatEvent(model.Event{
		Kind:      model.EventAnalysisError,
		ErrorKind: model.ErrKindFetch,
		Error:     "dial tcp: timeout",
	})
	assert.Contains(t, line, "[fetch] dial tcp: timeout")
	assert.NotContains(t, line, "%")
}

func TestEventPrinter_JSON(t *testing.T) {
	var buf bytes.Buffer
	p := &eventPrinter{out: &buf, asJSON: true}
	p.sink(model.Event{Kind: model.EventAnalysisStarted, Total: 3})
	assert.Contains(t, buf.String(), `"event":"analysis_started"`)
	assert.Contains(t, buf.String(), `"total":3`)
}

func TestRecordFailures(t *testing.T) {
	outcomes := []orchestrator.Outcome{
		{CompanyID: 2, Name: "Beta", Stage: orchestrator.StageFailed, Err: &orchestrator.StageError{
			Stage: orchestrator.StageScraping, CompanyID: 2, Kind: model.ErrKindFetch,
			Err: resilience.NewTransientError(errors.New("503"), 503),
		}},
		{CompanyID: 1, Name: "Acme", Stage: orchestrator.StageDone},
		{CompanyID: 3, Name: "Gamma", Stage: orchestrator.StageFailed, Err: &orchestrator.StageError{
			Stage: orchestrator.StageProbing, CompanyID: 3, Kind: model.ErrKindTool, Err: errors.New("nmap missing"),
		}},
	}

	log := recordFailures(outcomes)
	require.Equal(t, 2, log.Len())
	assert.Equal(t, []int64{2}, log.Retryable())

	var buf bytes.Buffer
	formatBatch(&buf, &orchestrator.BatchResult{AnalysisID: 7, Status: model.AnalysisPartial, Rows: 3, Saved: 3, Completed: 1, Failed: 2}, log)
	out := buf.String()
	assert.Contains(t, out, "Analysis:")
	assert.Contains(t, out, "partial")
	assert.Contains(t, out, "nmap missing")
	assert.Contains(t, out, "yes")
}

func TestSplitAndTrim(t *testing.T) {
	assert.Equal(t, []string{"technical", "seo"}, splitAndTrim(" technical, ,seo ,"))
	assert.Nil(t, splitAndTrim(""))
}

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, raw := range []string{"0", "-3", "abc", ""} {
		_, err := parseID(raw)
		require.Error(t, err, raw)
		assert.Equal(t, exitBadInput, exitCode(err))
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	got := truncate("Société Générale de Plomberie", 10)
	assert.LessOrEqual(t, len([]rune(got)), 10)
	assert.True(t, strings.HasPrefix(got, "Société"))
}

func TestCapsString(t *testing.T) {
	assert.Equal(t, "-", capsString(model.TokenCaps{}))
	assert.Equal(t, "companies,stats", capsString(model.TokenCaps{ReadCompanies: true, ReadStats: true}))
}
