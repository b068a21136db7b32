package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mpataki/datasling/internal/models"
)

var ErrNoHistory = errors.New("no history available")

// Replay loads the newest live snapshot for each name instead of querying
// the backend. Names are handled one at a time, in order, without
// duplicates. A replayed result is archived again as a fresh entry.
func (o *Orchestrator) Replay(ctx context.Context, names []string, ns Binder) []*models.Result {
	seen := make(map[string]bool, len(names))
	var results []*models.Result

	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		if err := ctx.Err(); err != nil {
			results = append(results, o.absent(name, fmt.Sprintf("replay cancelled: %v", err)))
			continue
		}
		results = append(results, o.replayOne(name, ns))
	}
	return results
}

func (o *Orchestrator) replayOne(name string, ns Binder) *models.Result {
	started := o.now()

	entry, err := o.store.MostRecent(name)
	if err != nil {
		o.logger.Warn("failed to read history", zap.String("name", name), zap.Error(err))
		return o.absent(name, fmt.Sprintf("failed to read history: %v", err))
	}
	if entry == nil {
		o.logger.Warn("no historic data found", zap.String("name", name))
		return o.absent(name, ErrNoHistory.Error())
	}

	tbl, err := o.store.LoadSnapshot(entry.SnapshotPath)
	if err != nil {
		o.logger.Warn("failed to load snapshot", zap.String("name", name),
			zap.String("path", entry.SnapshotPath), zap.Error(err))
		return o.absent(name, fmt.Sprintf("%s: %v", ErrNoHistory, err))
	}

	unit := models.Unit{Name: name, Preset: entry.Preset, Text: entry.Query}
	if ns != nil {
		ns.Bind(name, tbl)
	}
	o.archive(unit, tbl)

	res := models.Succeeded(unit, tbl, started, o.now())
	res.Source = entry
	return res
}

func (o *Orchestrator) absent(name, msg string) *models.Result {
	now := o.now()
	return &models.Result{
		Unit:       models.Unit{Name: name},
		Status:     models.ResultNoHistory,
		Error:      msg,
		StartedAt:  now,
		FinishedAt: now,
	}
}
