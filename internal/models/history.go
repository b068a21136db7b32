package models

import "time"

// HistoryEntry is one row of the query history ledger.
type HistoryEntry struct {
	ID           int64
	Timestamp    time.Time
	Name         string
	Preset       string
	Query        string
	SnapshotPath string // empty when the run failed or the snapshot could not be written
	Preview      string
}

func (e *HistoryEntry) HasSnapshot() bool {
	return e.SnapshotPath != ""
}
