package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-intel/internal/broker"
	"github.com/sells-group/prospect-intel/internal/model"
)

func TestWorker_ExecuteScrape(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	b := broker.NewMemory()
	o := newTestOrchestrator(t, st, acmeSite(), &fakeProber{}, Options{})
	id := saveCompany(t, st, model.CompanyInput{Name: "Acme", Website: acme})

	job, err := b.Enqueue(ctx, model.JobScrape, CompanyPayload(id, nil))
	require.NoError(t, err)
	claimed, err := b.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	rec := &recorder{}
	w := &Worker{Broker: b, Orch: o, Name: "w1", Poll: 10 * time.Millisecond, Sink: rec.sink}
	final := w.Execute(ctx, claimed)
	assert.Equal(t, model.JobSuccess, final.State)

	got, err := b.State(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobSuccess, got.State)
	assert.InDelta(t, 100, float64(got.Meta.Progress), 0.001)
	out, ok := got.Meta.Result.(Outcome)
	require.True(t, ok)
	assert.Equal(t, StageDone, out.Stage)

	for _, ev := range rec.all() {
		assert.Equal(t, job.ID, ev.JobID)
	}
	assert.Contains(t, rec.kinds(), model.EventScrapingComplete)
}

func TestWorker_ExecuteFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := broker.NewMemory()
	o := newTestOrchestrator(t, newTestStore(t), acmeSite(), &fakeProber{}, Options{})
	w := &Worker{Broker: b, Orch: o, Name: "w1"}

	tests := []struct {
		name    string
		kind    model.JobKind
		payload map[string]any
		want    model.ErrorKind
	}{
		{"missing company", model.JobScrape, map[string]any{"company_id": 999}, model.ErrKindStore},
		{"no payload", model.JobProbe, nil, model.ErrKindInput},
		{"bad probe", model.JobProbe, map[string]any{"company_id": "1", "probes": "nmap"}, model.ErrKindInput},
		{"no path", model.JobAnalyze, map[string]any{}, model.ErrKindInput},
		{"unknown kind", model.JobKind("export"), nil, model.ErrKindInput},
	}
	for _, tt := range tests {
		job, err := b.Enqueue(ctx, tt.kind, tt.payload)
		require.NoError(t, err)
		claimed, err := b.Claim(ctx, "w1")
		require.NoError(t, err)

		st := w.Execute(ctx, claimed)
		assert.Equal(t, model.JobFailure, st.State, tt.name)
		assert.Equal(t, tt.want, st.Meta.ErrorKind, tt.name)
		assert.NotEmpty(t, st.Meta.Error, tt.name)

		got, err := b.State(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobFailure, got.State, tt.name)
	}
}

func TestWorker_Revoke(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newTestStore(t)
	b := broker.NewMemory()
	o := newTestOrchestrator(t, st, acmeSite(), &fakeProber{delay: 5 * time.Second}, Options{SkipScrape: true})
	id := saveCompany(t, st, model.CompanyInput{Name: "Acme", Website: acme})

	job, err := b.Enqueue(ctx, model.JobProbe, CompanyPayload(id, []model.ProbeKind{model.ProbeTechnical}))
	require.NoError(t, err)
	claimed, err := b.Claim(ctx, "w1")
	require.NoError(t, err)

	w := &Worker{Broker: b, Orch: o, Registry: NewRegistry(nil), Name: "w1", Poll: 10 * time.Millisecond}
	done := make(chan model.JobState, 1)
	go func() { done <- w.Execute(ctx, claimed) }()

	require.Eventually(t, func() bool { return len(w.Registry.Active()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, b.Revoke(ctx, job.ID))

	select {
	case final := <-done:
		assert.Equal(t, model.JobRevoked, final.State)
		assert.Equal(t, model.ErrKindCancelled, final.Meta.ErrorKind)
	case <-time.After(3 * time.Second):
		t.Fatal("job not stopped after revocation")
	}
	got, err := b.State(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobRevoked, got.State)
}

func TestWorker_Run(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	b := broker.NewMemory()
	o := newTestOrchestrator(t, st, acmeSite(), &fakeProber{}, Options{})
	ids := []int64{
		saveCompany(t, st, model.CompanyInput{Name: "Acme", Website: acme}),
		saveCompany(t, st, model.CompanyInput{Name: "Sans Site"}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var jobs []string
	for _, id := range ids {
		job, err := b.Enqueue(ctx, model.JobProbe, CompanyPayload(id, []model.ProbeKind{model.ProbeSEO}))
		require.NoError(t, err)
		jobs = append(jobs, job.ID)
	}

	w := &Worker{Broker: b, Orch: o, Name: "w1", Poll: 10 * time.Millisecond, Concurrency: 2}
	stopped := make(chan error, 1)
	go func() { stopped <- w.Run(ctx) }()

	for _, id := range jobs {
		st, err := broker.Wait(ctx, b, id, 10*time.Millisecond, nil)
		require.NoError(t, err)
		require.True(t, st.State.Done())
	}
	first, err := b.State(ctx, jobs[0])
	require.NoError(t, err)
	assert.Equal(t, model.JobSuccess, first.State)
	second, err := b.State(ctx, jobs[1])
	require.NoError(t, err)
	assert.Equal(t, model.JobFailure, second.State)
	assert.Equal(t, model.ErrKindInput, second.Meta.ErrorKind)

	cancel()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestProgressWriter_Throttle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := broker.NewMemory()
	job, err := b.Enqueue(ctx, model.JobAnalyze, nil)
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	pw := &progressWriter{b: b, id: job.ID, now: func() time.Time { return now }}

	pw.write(model.Event{Kind: model.EventAnalysisProgress, Percentage: model.Percent(1, 10), Message: "first"})
	pw.write(model.Event{Kind: model.EventAnalysisProgress, Percentage: model.Percent(2, 10), Message: "throttled"})
	st, err := b.State(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", st.Meta.Message)
	assert.InDelta(t, 20, float64(pw.progress()), 0.001)

	pw.write(model.Event{Kind: model.EventAnalysisError, Message: "boom"})
	st, err = b.State(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "boom", st.Meta.Message)
	require.NotNil(t, st.Meta.Last)
	assert.Equal(t, model.EventAnalysisError, st.Meta.Last.Kind)

	pw.final(ctx, model.JobState{State: model.JobSuccess})
	pw.write(model.Event{Kind: model.EventAnalysisComplete, Message: "late"})
	st, err = b.State(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobSuccess, st.State)
}

func TestPayloadInt(t *testing.T) {
	t.Parallel()
	for _, v := range []any{7, int64(7), float64(7), json.Number("7"), " 7 "} {
		n, err := payloadInt(map[string]any{"company_id": v}, "company_id")
		require.NoError(t, err)
		assert.Equal(t, int64(7), n)
	}
	for _, v := range []any{nil, "seven", json.Number("7.5"), true} {
		_, err := payloadInt(map[string]any{"company_id": v}, "company_id")
		assert.Equal(t, model.ErrKindInput, Classify(err))
	}
}

func TestPayloadStrings(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"seo", "osint"}, payloadStrings(map[string]any{"p": []any{"seo", 3, "osint"}}, "p"))
	assert.Equal(t, []string{"seo", "osint"}, payloadStrings(map[string]any{"p": "seo, osint,"}, "p"))
	assert.Nil(t, payloadStrings(map[string]any{}, "p"))
}
