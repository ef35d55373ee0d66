package model

// ErrorKind classifies failures surfaced in progress events and job state.
type ErrorKind string

const (
	ErrKindInput          ErrorKind = "input"
	ErrKindFetch          ErrorKind = "fetch"
	ErrKindTool           ErrorKind = "tool"
	ErrKindStore          ErrorKind = "store"
	ErrKindCancelled      ErrorKind = "cancelled"
	ErrKindInfrastructure ErrorKind = "infrastructure"
)

// Fatal reports whether errors of this kind abort a whole batch.
func (k ErrorKind) Fatal() bool {
	return k == ErrKindInfrastructure
}
