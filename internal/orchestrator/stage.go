package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/sells-group/prospect-intel/internal/fetcher"
	"github.com/sells-group/prospect-intel/internal/ingest"
	"github.com/sells-group/prospect-intel/internal/model"
	"github.com/sells-group/prospect-intel/internal/probe"
)

// Stage is the position of a company in the per-company state machine.
type Stage string

const (
	StagePending   Stage = "pending"
	StageAnalyzing Stage = "analyzing"
	StageScraping  Stage = "scraping"
	StageProbing   Stage = "probing"
	StageScoring   Stage = "scoring"
	StageDone      Stage = "done"
	StageFailed    Stage = "failed"
)

// StageError annotates a failure with the stage and company it hit.
type StageError struct {
	Stage     Stage
	CompanyID int64
	Kind      model.ErrorKind
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("orchestrator: %s company %d: %s: %v", e.Stage, e.CompanyID, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// InfraError marks a failure of shared infrastructure (store or broker
// unreachable). It aborts the whole batch.
type InfraError struct {
	Err error
}

func (e *InfraError) Error() string { return "infrastructure: " + e.Err.Error() }

func (e *InfraError) Unwrap() error { return e.Err }

// Classify maps an error onto the failure taxonomy.
func Classify(err error) model.ErrorKind {
	var (
		se    *StageError
		infra *InfraError
		fe    *fetcher.FetchError
		te    *probe.ToolError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &se):
		return se.Kind
	case errors.Is(err, context.Canceled):
		return model.ErrKindCancelled
	case errors.As(err, &infra):
		return model.ErrKindInfrastructure
	case errors.As(err, &fe), errors.Is(err, context.DeadlineExceeded):
		return model.ErrKindFetch
	case errors.As(err, &te):
		return model.ErrKindTool
	case errors.Is(err, ingest.ErrNoNameColumn), errors.Is(err, fetcher.ErrNotSiteURL):
		return model.ErrKindInput
	}
	return model.ErrKindStore
}

// stageErr wraps err for stage s, classifying it unless it already
// carries a kind.
func stageErr(s Stage, companyID int64, err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	return &StageError{Stage: s, CompanyID: companyID, Kind: Classify(err), Err: err}
}
