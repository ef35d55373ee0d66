package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/sells-group/prospect-intel/internal/ingest"
	"github.com/sells-group/prospect-intel/internal/model"
	"github.com/sells-group/prospect-intel/internal/probe"
)

// BatchResult summarizes one spreadsheet analysis.
type BatchResult struct {
	AnalysisID int64                `json:"analysis_id"`
	Status     model.AnalysisStatus `json:"status"`
	Rows       int                  `json:"rows"`
	Saved      int                  `json:"saved"`
	Duplicates int                  `json:"duplicates"`
	Completed  int                  `json:"completed"`
	Failed     int                  `json:"failed"`
	Warnings   []model.RowWarning   `json:"warnings,omitempty"`
	Outcomes   []Outcome            `json:"outcomes"`
	Duration   float64              `json:"duration"`
}

// RunBatch ingests a spreadsheet, saves its rows as companies and runs
// every stage for each of them on the worker pool. Per-company failures
// are recorded in the result; the returned error is reserved for bad
// input, cancellation and infrastructure failures.
func (o *Orchestrator) RunBatch(ctx context.Context, path string, sink Sink) (*BatchResult, error) {
	start := o.d.Now()
	name := filepath.Base(path)
	log := zap.L().With(zap.String("file", name))

	b, err := ingest.ReadFile(ctx, path)
	if err != nil {
		o.emit(sink, model.Event{
			Kind:      model.EventAnalysisError,
			Message:   "Cannot read " + name,
			ErrorKind: model.ErrKindInput,
			Error:     err.Error(),
		})
		return nil, &StageError{Stage: StagePending, Kind: model.ErrKindInput, Err: err}
	}

	params := map[string]any{
		"max_workers": o.opts.Workers,
		"probes":      o.opts.Probes,
		"skip_scrape": o.opts.SkipScrape,
		"skip_probes": o.opts.SkipProbes,
	}
	analysisID, err := o.d.Store.CreateAnalysis(ctx, name, b.Total, params)
	if err != nil {
		return nil, o.abort(sink, &InfraError{Err: eris.Wrap(err, "orchestrator: create analysis")})
	}

	res := &BatchResult{AnalysisID: analysisID, Rows: b.Total}
	for _, w := range b.Warnings {
		res.Warnings = append(res.Warnings, model.RowWarning{
			Row:     w.Line,
			Field:   w.Field,
			Message: w.Message,
			Skipped: w.Skipped,
		})
	}

	o.emit(sink, model.Event{
		Kind:    model.EventAnalysisStarted,
		Total:   len(b.Rows),
		Message: fmt.Sprintf("Analyzing %d companies from %s", len(b.Rows), name),
	})
	log.Info("orchestrator: batch started",
		zap.Int64("analysis_id", analysisID),
		zap.Int("rows", b.Total),
		zap.Int("companies", len(b.Rows)),
		zap.Int("warnings", len(res.Warnings)),
	)

	ids, err := o.saveRows(ctx, analysisID, b, res)
	if errors.Is(err, context.Canceled) {
		o.finish(ctx, res, model.AnalysisCancelled, start)
		return res, err
	}
	if err != nil {
		o.finish(ctx, res, model.AnalysisFailed, start)
		return res, o.abort(sink, err)
	}

	bctx, cancelBatch := context.WithCancelCause(ctx)
	defer cancelBatch(nil)

	res.Outcomes = make([]Outcome, len(ids))
	sem := semaphore.NewWeighted(int64(o.opts.Workers))
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		done int
	)
	for i, id := range ids {
		if err := sem.Acquire(bctx, 1); err != nil {
			res.Outcomes[i] = Outcome{CompanyID: id, Stage: StagePending}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			out := o.Process(bctx, id, sink)
			if out.Err != nil && out.Err.Kind == model.ErrKindStore && o.storeDown(ctx, analysisID) {
				out.Err.Kind = model.ErrKindInfrastructure
				cancelBatch(&InfraError{Err: out.Err})
			}

			mu.Lock()
			res.Outcomes[i] = out
			done++
			current := done
			mu.Unlock()

			ev := model.Event{
				Kind:       model.EventAnalysisProgress,
				CompanyID:  out.CompanyID,
				Company:    out.Name,
				Current:    current,
				Total:      len(ids),
				Percentage: model.Percent(current, len(ids)),
				Message:    fmt.Sprintf("%s: %s", out.Name, out.Stage),
			}
			if out.Err != nil {
				ev.ErrorKind = out.Err.Kind
				ev.Error = out.Err.Err.Error()
			}
			o.emit(sink, ev)
		}()
	}
	wg.Wait()

	for _, out := range res.Outcomes {
		switch {
		case out.Stage == StageDone:
			res.Completed++
		case out.Err != nil:
			res.Failed++
		}
	}

	var infra *InfraError
	cause := context.Cause(bctx)
	switch {
	case errors.As(cause, &infra):
		o.finish(ctx, res, model.AnalysisFailed, start)
		return res, o.abort(sink, infra)
	case ctx.Err() != nil:
		o.finish(ctx, res, model.AnalysisCancelled, start)
		log.Info("orchestrator: batch cancelled", zap.Int("completed", res.Completed))
		return res, ctx.Err()
	}

	o.finish(ctx, res, batchStatus(res), start)
	o.emit(sink, model.Event{
		Kind:       model.EventAnalysisComplete,
		Current:    len(ids),
		Total:      len(ids),
		Percentage: model.Percent(1, 1),
		Message:    fmt.Sprintf("%d completed, %d failed, %d duplicates", res.Completed, res.Failed, res.Duplicates),
	})
	o.publishCorpus(ctx)
	log.Info("orchestrator: batch finished",
		zap.String("status", string(res.Status)),
		zap.Int("completed", res.Completed),
		zap.Int("failed", res.Failed),
		zap.Float64("duration", res.Duration),
	)
	return res, nil
}

// Import ingests a spreadsheet and saves its rows as companies without
// running any stage. The analysis is recorded as completed.
func (o *Orchestrator) Import(ctx context.Context, path string) (*BatchResult, error) {
	start := o.d.Now()
	name := filepath.Base(path)

	b, err := ingest.ReadFile(ctx, path)
	if err != nil {
		return nil, &StageError{Stage: StagePending, Kind: model.ErrKindInput, Err: err}
	}
	analysisID, err := o.d.Store.CreateAnalysis(ctx, name, b.Total, map[string]any{"import_only": true})
	if err != nil {
		return nil, &InfraError{Err: eris.Wrap(err, "orchestrator: create analysis")}
	}

	res := &BatchResult{AnalysisID: analysisID, Rows: b.Total}
	for _, w := range b.Warnings {
		res.Warnings = append(res.Warnings, model.RowWarning{Row: w.Line, Field: w.Field, Message: w.Message, Skipped: w.Skipped})
	}
	if _, err := o.saveRows(ctx, analysisID, b, res); err != nil {
		status := model.AnalysisFailed
		if errors.Is(err, context.Canceled) {
			status = model.AnalysisCancelled
		}
		o.finish(ctx, res, status, start)
		return res, err
	}
	o.finish(ctx, res, model.AnalysisCompleted, start)
	o.publishCorpus(ctx)
	zap.L().Info("orchestrator: import finished",
		zap.String("file", name),
		zap.Int64("analysis_id", analysisID),
		zap.Int("saved", res.Saved),
		zap.Int("duplicates", res.Duplicates),
	)
	return res, nil
}

// saveRows stores the batch rows and returns the distinct company ids in
// row order. A failed save is a row warning unless the store itself is
// down.
func (o *Orchestrator) saveRows(ctx context.Context, analysisID int64, b *ingest.Batch, res *BatchResult) ([]int64, error) {
	seen := make(map[int64]bool, len(b.Rows))
	ids := make([]int64, 0, len(b.Rows))
	for _, row := range b.Rows {
		if err := ctx.Err(); err != nil {
			return ids, err
		}
		id, created, err := o.d.Store.SaveCompany(ctx, &analysisID, row.Input, true)
		if err != nil {
			if o.storeDown(ctx, analysisID) {
				return ids, &InfraError{Err: eris.Wrap(err, "orchestrator: save company")}
			}
			zap.L().Warn("orchestrator: row not saved", zap.Int("row", row.Line), zap.Error(err))
			res.Warnings = append(res.Warnings, model.RowWarning{Row: row.Line, Message: err.Error(), Skipped: true})
			continue
		}
		if !created {
			res.Duplicates++
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	res.Saved = len(ids)
	return ids, nil
}

// storeDown probes the store with a cheap read to tell a failing row from
// an unreachable store.
func (o *Orchestrator) storeDown(ctx context.Context, analysisID int64) bool {
	if ctx.Err() != nil {
		return false
	}
	_, err := o.d.Store.GetAnalysis(ctx, analysisID)
	return err != nil
}

// batchStatus is completed when every company finished, partial when
// some did, and failed when none did.
func batchStatus(res *BatchResult) model.AnalysisStatus {
	switch {
	case res.Failed == 0:
		return model.AnalysisCompleted
	case res.Completed > 0:
		return model.AnalysisPartial
	default:
		return model.AnalysisFailed
	}
}

// finish records the final status. It runs even when ctx is cancelled.
func (o *Orchestrator) finish(ctx context.Context, res *BatchResult, status model.AnalysisStatus, start time.Time) {
	res.Status = status
	res.Duration = o.d.Now().Sub(start).Seconds()
	err := o.d.Store.FinishAnalysis(context.WithoutCancel(ctx), res.AnalysisID, status, res.Duration, nil, res.Warnings)
	if err != nil {
		zap.L().Error("orchestrator: finish analysis",
			zap.Int64("analysis_id", res.AnalysisID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) abort(sink Sink, err error) error {
	o.emit(sink, model.Event{
		Kind:      model.EventAnalysisError,
		Message:   "Analysis aborted",
		ErrorKind: Classify(err),
		Error:     err.Error(),
	})
	zap.L().Error("orchestrator: batch aborted", zap.Error(err))
	return err
}

func (o *Orchestrator) publishCorpus(ctx context.Context) {
	stats, err := o.d.Store.Statistics(ctx, nil)
	if err != nil {
		zap.L().Warn("orchestrator: statistics unavailable", zap.Error(err))
		return
	}
	o.d.Metrics.SetCorpus(stats)
}

// Scrape runs the scraping stage alone for a stored company, then
// rescores it.
func (o *Orchestrator) Scrape(ctx context.Context, companyID int64, sink Sink) Outcome {
	return o.single(ctx, companyID, StageScraping, func(ctx context.Context, c *model.Company) error {
		_, err := o.scrape(ctx, c, sink)
		return err
	})
}

// Probe runs the given probes alone for a stored company, then rescores
// it. Empty kinds means the configured probes.
func (o *Orchestrator) Probe(ctx context.Context, companyID int64, kinds []model.ProbeKind, sink Sink) Outcome {
	if len(kinds) == 0 {
		kinds = o.opts.Probes
	}
	return o.single(ctx, companyID, StageProbing, func(ctx context.Context, c *model.Company) error {
		return o.probe(ctx, c, kinds, probe.Known{}, sink)
	})
}

func (o *Orchestrator) single(ctx context.Context, companyID int64, s Stage, fn func(context.Context, *model.Company) error) Outcome {
	start := o.d.Now()
	c, err := o.d.Store.GetCompany(ctx, companyID)
	if err != nil {
		return Outcome{CompanyID: companyID, Stage: StageFailed, Err: stageErr(StagePending, companyID, err)}
	}
	out := Outcome{CompanyID: c.ID, Name: c.Name}
	if c.Website == "" {
		out.Stage = StageFailed
		out.Err = &StageError{Stage: s, CompanyID: c.ID, Kind: model.ErrKindInput, Err: errors.New("company has no website")}
		return out
	}

	steps := []struct {
		stage Stage
		fn    func(context.Context) error
	}{
		{s, func(ctx context.Context) error { return fn(ctx, c) }},
		{StageScoring, func(ctx context.Context) error {
			opp, err := o.score(ctx, c.ID)
			if err == nil {
				out.Opportunity = &opp
			}
			return err
		}},
	}
	for _, st := range steps {
		if err := o.stage(ctx, c.ID, st.stage, st.fn); err != nil {
			out.Stage = StageFailed
			out.Err = err
			out.Duration = o.d.Now().Sub(start)
			return out
		}
	}
	out.Stage = StageDone
	out.Duration = o.d.Now().Sub(start)
	return out
}
