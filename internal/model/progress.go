package model

import (
	"strings"
	"time"
)

// EventKind names a progress event. Kinds are built from a stage prefix
// and a phase suffix, e.g. "scraping_progress".
type EventKind string

// Stage prefixes of progress events.
const (
	PrefixAnalysis  = "analysis"
	PrefixScraping  = "scraping"
	PrefixOSINT     = "osint"
	PrefixPentest   = "pentest"
	PrefixSEO       = "seo"
	PrefixTechnical = "technical"
)

// Phase suffixes of progress events.
const (
	PhaseStarted  = "started"
	PhaseProgress = "progress"
	PhaseComplete = "complete"
	PhaseError    = "error"
	PhaseStopped  = "stopped"
)

const (
	EventAnalysisStarted  EventKind = "analysis_started"
	EventAnalysisProgress EventKind = "analysis_progress"
	EventAnalysisComplete EventKind = "analysis_complete"
	EventAnalysisError    EventKind = "analysis_error"
	EventAnalysisStopped  EventKind = "analysis_stopped"
	EventScrapingStarted  EventKind = "scraping_started"
	EventScrapingProgress EventKind = "scraping_progress"
	EventScrapingComplete EventKind = "scraping_complete"
	EventScrapingError    EventKind = "scraping_error"
)

// Kind builds an event kind from a prefix and a phase.
func Kind(prefix, phase string) EventKind {
	return EventKind(prefix + "_" + phase)
}

// ProbePrefix returns the event prefix of a probe kind.
func ProbePrefix(p ProbeKind) string {
	return string(p)
}

// Phase returns the phase suffix of the kind.
func (k EventKind) Phase() string {
	s := string(k)
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Terminal reports whether the kind ends a unit of work.
func (k EventKind) Terminal() bool {
	switch k.Phase() {
	case PhaseComplete, PhaseError, PhaseStopped:
		return true
	}
	return false
}

// Event is a typed progress event. Payload fields are flat; the only
// nested value is Counters.
type Event struct {
	Kind           EventKind `json:"event"`
	JobID          string    `json:"job_id,omitempty"`
	CompanyID      int64     `json:"company_id,omitempty"`
	Company        string    `json:"entreprise,omitempty"`
	URL            string    `json:"url,omitempty"`
	Current        int       `json:"current"`
	Total          int       `json:"total"`
	Percentage     *Float    `json:"percentage,omitempty"`
	Message        string    `json:"message,omitempty"`
	Counters       *Counters `json:"counters,omitempty"`
	ErrorKind      ErrorKind `json:"error_kind,omitempty"`
	Error          string    `json:"error,omitempty"`
	GlobalProgress *Float    `json:"global_progress,omitempty"`
	TaskProgress   *Float    `json:"task_progress,omitempty"`
	Time           time.Time `json:"time"`
}

// Percent computes current/total as a percentage, or nil when total is 0.
func Percent(current, total int) *Float {
	if total <= 0 {
		return nil
	}
	f := Float(float64(current) / float64(total) * 100)
	return &f
}

// JobStateName is the broker state of a background job.
type JobStateName string

const (
	JobPending  JobStateName = "PENDING"
	JobProgress JobStateName = "PROGRESS"
	JobSuccess  JobStateName = "SUCCESS"
	JobFailure  JobStateName = "FAILURE"
	JobRevoked  JobStateName = "REVOKED"
)

// Done reports whether the state is final.
func (s JobStateName) Done() bool {
	return s == JobSuccess || s == JobFailure || s == JobRevoked
}

// JobMeta is the metadata attached to a job state.
type JobMeta struct {
	Progress  Float     `json:"progress"`
	Message   string    `json:"message,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	Last      *Event    `json:"last_event,omitempty"`
	Result    any       `json:"result,omitempty"`
}

// JobState is the serialized {state, meta} tuple kept by the broker.
type JobState struct {
	State     JobStateName `json:"state"`
	Meta      JobMeta      `json:"meta"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// JobKind identifies the work a background job performs.
type JobKind string

const (
	JobAnalyze JobKind = "analyze"
	JobScrape  JobKind = "scrape"
	JobProbe   JobKind = "probe"
)

// Job is a unit of background work queued on the broker.
type Job struct {
	ID        string         `json:"id"`
	Kind      JobKind        `json:"kind"`
	Payload   map[string]any `json:"payload"`
	State     JobState       `json:"state"`
	Worker    string         `json:"worker,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
