package model

import "time"

// AnalysisStatus is the lifecycle state of a batch ingestion.
type AnalysisStatus string

const (
	AnalysisPending   AnalysisStatus = "pending"
	AnalysisRunning   AnalysisStatus = "running"
	AnalysisCompleted AnalysisStatus = "completed"
	AnalysisPartial   AnalysisStatus = "partial"
	AnalysisFailed    AnalysisStatus = "failed"
	AnalysisCancelled AnalysisStatus = "cancelled"
)

// Analysis represents one spreadsheet ingestion.
type Analysis struct {
	ID             int64          `json:"id"`
	Filename       string         `json:"filename"`
	OutputFilename *string        `json:"output_filename,omitempty"`
	TotalRows      int            `json:"total_rows"`
	Parameters     map[string]any `json:"parameters,omitempty"`
	Status         AnalysisStatus `json:"status"`
	Duration       float64        `json:"duration"`
	Warnings       []RowWarning   `json:"warnings,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// RowWarning is an input problem attached to a spreadsheet row.
type RowWarning struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Skipped bool   `json:"skipped"`
}
