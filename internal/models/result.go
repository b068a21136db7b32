package models

import "time"

type ResultStatus string

const (
	ResultSuccess   ResultStatus = "success"
	ResultFailure   ResultStatus = "failure"
	ResultNoHistory ResultStatus = "no_history"
)

// Result is the outcome of one unit. Table is set only for ResultSuccess,
// Error only for the other statuses.
type Result struct {
	Unit       Unit
	Status     ResultStatus
	Table      *Table
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time

	// Source is the history entry a replayed result was loaded from.
	Source *HistoryEntry
}

func Succeeded(unit Unit, table *Table, started, finished time.Time) *Result {
	return &Result{
		Unit:       unit,
		Status:     ResultSuccess,
		Table:      table,
		StartedAt:  started,
		FinishedAt: finished,
	}
}

func Failed(unit Unit, msg string, started, finished time.Time) *Result {
	return &Result{
		Unit:       unit,
		Status:     ResultFailure,
		Error:      msg,
		StartedAt:  started,
		FinishedAt: finished,
	}
}

func (r *Result) Name() string {
	return r.Unit.Name
}

func (r *Result) OK() bool {
	return r.Status == ResultSuccess
}

func (r *Result) Elapsed() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
