package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/prospect-intel/internal/broker"
	"github.com/sells-group/prospect-intel/internal/model"
)

// progressEvery throttles PROGRESS writes to the broker. Terminal events
// are always written.
const progressEvery = 200 * time.Millisecond

// AnalyzePayload builds the payload of an analyze job.
func AnalyzePayload(path string) map[string]any {
	return map[string]any{"path": path}
}

// CompanyPayload builds the payload of a scrape or probe job.
func CompanyPayload(companyID int64, probes []model.ProbeKind) map[string]any {
	p := map[string]any{"company_id": companyID}
	if len(probes) > 0 {
		names := make([]string, len(probes))
		for i, k := range probes {
			names[i] = string(k)
		}
		p["probes"] = names
	}
	return p
}

// Worker claims jobs from the broker and runs them through the
// orchestrator, publishing their state as they progress.
type Worker struct {
	Broker      broker.Broker
	Orch        *Orchestrator
	Registry    *Registry
	Name        string
	Poll        time.Duration
	Concurrency int
	// Sink, when set, also receives every job event.
	Sink Sink
}

// Run claims and executes jobs until ctx is done, then waits for the
// running ones to finish.
func (w *Worker) Run(ctx context.Context) error {
	if w.Poll <= 0 {
		w.Poll = 500 * time.Millisecond
	}
	if w.Concurrency <= 0 {
		w.Concurrency = 1
	}
	if w.Registry == nil {
		w.Registry = NewRegistry(w.Sink)
	}
	log := zap.L().With(zap.String("worker", w.Name))
	log.Info("orchestrator: worker started", zap.Int("concurrency", w.Concurrency))

	sem := semaphore.NewWeighted(int64(w.Concurrency))
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			log.Info("orchestrator: worker stopping")
			return nil
		}
		job, err := w.Broker.Claim(ctx, w.Name)
		if err != nil || job == nil {
			sem.Release(1)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("orchestrator: claim failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				log.Info("orchestrator: worker stopping")
				return nil
			case <-time.After(w.Poll):
			}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			w.Execute(ctx, job)
		}()
	}
}

// Execute runs one claimed job and writes its final state.
func (w *Worker) Execute(ctx context.Context, job *model.Job) model.JobState {
	if w.Registry == nil {
		w.Registry = NewRegistry(w.Sink)
	}
	log := zap.L().With(zap.String("job_id", job.ID), zap.String("kind", string(job.Kind)))
	log.Info("orchestrator: job started")

	_, jctx, done := w.Registry.Start(ctx, job.ID, string(job.Kind))
	defer done()

	pw := &progressWriter{b: w.Broker, id: job.ID, now: time.Now}
	sink := w.Registry.Observe(job.ID, func(ev model.Event) {
		ev.JobID = job.ID
		pw.write(ev)
		w.Sink.emit(ev)
	})

	watchCtx, stopWatch := context.WithCancel(jctx)
	defer stopWatch()
	go w.watchRevocation(watchCtx, job.ID)

	result, err := w.dispatch(jctx, job, sink)

	st := model.JobState{State: model.JobSuccess}
	switch kind := Classify(err); {
	case err == nil:
		st.Meta = model.JobMeta{Progress: 100, Message: "Done", Result: result}
	case kind == model.ErrKindCancelled:
		st.State = model.JobRevoked
		st.Meta = model.JobMeta{Progress: pw.progress(), Message: "Stopped", ErrorKind: kind}
	default:
		st.State = model.JobFailure
		st.Meta = model.JobMeta{Progress: pw.progress(), ErrorKind: kind, Error: err.Error(), Result: result}
	}
	pw.final(context.WithoutCancel(ctx), st)

	log.Info("orchestrator: job finished", zap.String("state", string(st.State)), zap.String("error_kind", string(st.Meta.ErrorKind)))
	return st
}

func (w *Worker) dispatch(ctx context.Context, job *model.Job, sink Sink) (any, error) {
	switch job.Kind {
	case model.JobAnalyze:
		path, err := payloadString(job.Payload, "path")
		if err != nil {
			return nil, err
		}
		return w.Orch.RunBatch(ctx, path, sink)
	case model.JobScrape:
		id, err := payloadInt(job.Payload, "company_id")
		if err != nil {
			return nil, err
		}
		return outcomeResult(w.Orch.Scrape(ctx, id, sink))
	case model.JobProbe:
		id, err := payloadInt(job.Payload, "company_id")
		if err != nil {
			return nil, err
		}
		kinds, err := ParseProbes(payloadStrings(job.Payload, "probes"))
		if err != nil {
			return nil, err
		}
		return outcomeResult(w.Orch.Probe(ctx, id, kinds, sink))
	}
	return nil, inputErr(eris.Errorf("orchestrator: unknown job kind %q", job.Kind))
}

func outcomeResult(out Outcome) (any, error) {
	if out.Err != nil {
		return out, out.Err
	}
	return out, nil
}

// watchRevocation stops the job when its broker state turns REVOKED.
func (w *Worker) watchRevocation(ctx context.Context, id string) {
	ticker := time.NewTicker(w.pollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		st, err := w.Broker.State(ctx, id)
		if err != nil {
			continue
		}
		if st.State == model.JobRevoked {
			w.Registry.Stop(id)
			return
		}
	}
}

func (w *Worker) pollInterval() time.Duration {
	if w.Poll <= 0 {
		return 500 * time.Millisecond
	}
	return w.Poll
}

// progressWriter mirrors job events into PROGRESS states.
type progressWriter struct {
	b   broker.Broker
	id  string
	now func() time.Time

	mu     sync.Mutex
	last   time.Time
	pct    model.Float
	closed bool
}

func (p *progressWriter) write(ev model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	switch {
	case ev.GlobalProgress != nil:
		p.pct = *ev.GlobalProgress
	case ev.Percentage != nil && ev.Kind.Phase() != model.PhaseComplete:
		p.pct = *ev.Percentage
	}
	now := p.now()
	if !ev.Kind.Terminal() && now.Sub(p.last) < progressEvery {
		return
	}
	p.last = now

	last := ev
	st := model.JobState{
		State: model.JobProgress,
		Meta:  model.JobMeta{Progress: p.pct, Message: ev.Message, ErrorKind: ev.ErrorKind, Error: ev.Error, Last: &last},
	}
	if err := p.b.SetState(context.Background(), p.id, st); err != nil {
		zap.L().Warn("orchestrator: publish progress", zap.String("job_id", p.id), zap.Error(err))
	}
}

func (p *progressWriter) progress() model.Float {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pct
}

// final writes the terminal state; later events are ignored.
func (p *progressWriter) final(ctx context.Context, st model.JobState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if err := p.b.SetState(ctx, p.id, st); err != nil {
		zap.L().Error("orchestrator: publish final state", zap.String("job_id", p.id), zap.Error(err))
	}
}

func inputErr(err error) *StageError {
	return &StageError{Stage: StagePending, Kind: model.ErrKindInput, Err: err}
}

// payloadInt reads an integer field. Payloads decoded from JSON carry
// numbers as float64 or json.Number.
func payloadInt(p map[string]any, key string) (int64, error) {
	switch v := p[key].(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, inputErr(eris.Wrapf(err, "orchestrator: payload %s", key))
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, inputErr(eris.Wrapf(err, "orchestrator: payload %s", key))
		}
		return n, nil
	case nil:
		return 0, inputErr(eris.Errorf("orchestrator: payload %s missing", key))
	}
	return 0, inputErr(eris.Errorf("orchestrator: payload %s has type %T", key, p[key]))
}

func payloadString(p map[string]any, key string) (string, error) {
	s, _ := p[key].(string)
	if strings.TrimSpace(s) == "" {
		return "", inputErr(eris.Errorf("orchestrator: payload %s missing", key))
	}
	return s, nil
}

// payloadStrings reads a list field given as a JSON array or a comma
// separated string.
func payloadStrings(p map[string]any, key string) []string {
	var out []string
	switch v := p[key].(type) {
	case []string:
		out = v
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
