package orchestrator

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Progress tracks start and finish times of the units in a batch. Workers
// write their own slot; readers take consistent snapshots at any time.
type Progress struct {
	mu       sync.RWMutex
	names    []string
	started  []time.Time
	finished []time.Time
}

func NewProgress(names []string) *Progress {
	return &Progress{
		names:    append([]string(nil), names...),
		started:  make([]time.Time, len(names)),
		finished: make([]time.Time, len(names)),
	}
}

func (p *Progress) Total() int {
	return len(p.names)
}

func (p *Progress) start(i int, t time.Time) {
	p.mu.Lock()
	p.started[i] = t
	p.mu.Unlock()
}

func (p *Progress) finish(i int, t time.Time) {
	p.mu.Lock()
	p.finished[i] = t
	p.mu.Unlock()
}

// UnitProgress is the elapsed time of one unit, final once Done.
type UnitProgress struct {
	Name    string
	Elapsed time.Duration
	Done    bool
}

// Snapshot is a point-in-time view of a batch, in unit order.
type Snapshot struct {
	Pending   []string
	Running   []UnitProgress
	Completed []UnitProgress
}

// Snapshot computes elapsed times relative to now for units still running.
func (p *Progress) Snapshot(now time.Time) Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var s Snapshot
	for i, name := range p.names {
		switch {
		case p.started[i].IsZero():
			s.Pending = append(s.Pending, name)
		case p.finished[i].IsZero():
			s.Running = append(s.Running, UnitProgress{Name: name, Elapsed: now.Sub(p.started[i])})
		default:
			s.Completed = append(s.Completed, UnitProgress{Name: name, Elapsed: p.finished[i].Sub(p.started[i]), Done: true})
		}
	}
	return s
}

func (s Snapshot) Finished() bool {
	return len(s.Pending) == 0 && len(s.Running) == 0
}

// String renders the status line, e.g.
// "Running: 'a': 1.20s; Completed: 'b': 0.31s (done)".
func (s Snapshot) String() string {
	var parts []string
	if len(s.Running) > 0 {
		parts = append(parts, "Running: "+joinProgress(s.Running))
	}
	if len(s.Completed) > 0 {
		parts = append(parts, "Completed: "+joinProgress(s.Completed))
	}
	if len(s.Pending) > 0 {
		parts = append(parts, fmt.Sprintf("Queued: %d", len(s.Pending)))
	}
	return strings.Join(parts, "; ")
}

func joinProgress(units []UnitProgress) string {
	items := make([]string, len(units))
	for i, u := range units {
		items[i] = fmt.Sprintf("'%s': %.2fs", u.Name, u.Elapsed.Seconds())
		if u.Done {
			items[i] += " (done)"
		}
	}
	return strings.Join(items, ", ")
}
