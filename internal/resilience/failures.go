package resilience

import (
	"slices"
	"sync"
	"time"

	"github.com/sells-group/prospect-intel/internal/model"
)

// Failure records a company whose stage failed during a batch, so it can
// be reported and retried later.
type Failure struct {
	CompanyID int64           `json:"company_id"`
	Company   string          `json:"entreprise"`
	Stage     string          `json:"stage"`
	Kind      model.ErrorKind `json:"error_kind"`
	Error     string          `json:"error"`
	Transient bool            `json:"transient"`
	At        time.Time       `json:"at"`
}

// FailureLog collects failures from concurrent workers.
type FailureLog struct {
	mu      sync.Mutex
	entries []Failure
}

// Record appends a failure. The transient flag is derived from err.
func (l *FailureLog) Record(companyID int64, company, stage string, kind model.ErrorKind, err error) {
	if err == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Failure{
		CompanyID: companyID,
		Company:   company,
		Stage:     stage,
		Kind:      kind,
		Error:     err.Error(),
		Transient: IsTransient(err),
		At:        time.Now().UTC(),
	})
}

// Len returns the number of recorded failures.
func (l *FailureLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Entries returns the failures ordered by company id then stage.
func (l *FailureLog) Entries() []Failure {
	l.mu.Lock()
	out := slices.Clone(l.entries)
	l.mu.Unlock()
	slices.SortStableFunc(out, func(a, b Failure) int {
		if a.CompanyID != b.CompanyID {
			if a.CompanyID < b.CompanyID {
				return -1
			}
			return 1
		}
		switch {
		case a.Stage < b.Stage:
			return -1
		case a.Stage > b.Stage:
			return 1
		}
		return 0
	})
	return out
}

// Retryable returns the ids of companies with at least one transient
// failure.
func (l *FailureLog) Retryable() []int64 {
	var ids []int64
	for _, f := range l.Entries() {
		if f.Transient && !slices.Contains(ids, f.CompanyID) {
			ids = append(ids, f.CompanyID)
		}
	}
	return ids
}
