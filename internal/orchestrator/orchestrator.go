package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mpataki/datasling/internal/backend"
	"github.com/mpataki/datasling/internal/models"
)

// Store is the part of the history ledger the orchestrator needs.
type Store interface {
	Append(name, preset, query string, tbl *models.Table) (string, error)
	MostRecent(name string) (*models.HistoryEntry, error)
	LoadSnapshot(path string) (*models.Table, error)
}

// Binder receives every successfully loaded result.
type Binder interface {
	Bind(name string, tbl *models.Table)
}

// Reporter displays a running batch. Report must return once done is closed.
type Reporter interface {
	Report(ctx context.Context, p *Progress, done <-chan struct{})
}

type Orchestrator struct {
	backend     backend.Backend
	store       Store
	logger      *zap.Logger
	reporter    Reporter
	now         func() time.Time
	concurrency int
}

type Option func(*Orchestrator)

func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithReporter(r Reporter) Option {
	return func(o *Orchestrator) { o.reporter = r }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithConcurrency bounds the number of queries in flight. Zero or less
// starts every query at once.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.concurrency = n }
}

func New(b backend.Backend, store Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend: b,
		store:   store,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Batch is a set of units executing concurrently.
type Batch struct {
	progress *Progress
	results  []*models.Result
	done     chan struct{}
}

func (b *Batch) Progress() *Progress {
	return b.progress
}

// Done is closed once every unit has finished.
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the batch finishes and returns one result per unit,
// sorted by name.
func (b *Batch) Wait() []*models.Result {
	<-b.done
	return b.results
}

// Start dispatches one goroutine per unit and returns immediately.
func (o *Orchestrator) Start(ctx context.Context, units []models.Unit) *Batch {
	names := make([]string, len(units))
	for i, u := range units {
		names[i] = u.Name
	}

	b := &Batch{
		progress: NewProgress(names),
		results:  make([]*models.Result, len(units)),
		done:     make(chan struct{}),
	}

	var g errgroup.Group
	if o.concurrency > 0 {
		g.SetLimit(o.concurrency)
	}

	go func() {
		for i, u := range units {
			g.Go(func() error {
				b.results[i] = o.run(ctx, i, u, b.progress)
				return nil
			})
		}
		g.Wait()

		sort.SliceStable(b.results, func(i, j int) bool {
			return b.results[i].Name() < b.results[j].Name()
		})
		close(b.done)
	}()

	return b
}

// run executes a single unit. Backend errors and panics become a failed
// result for this unit only.
func (o *Orchestrator) run(ctx context.Context, i int, u models.Unit, p *Progress) (res *models.Result) {
	started := o.now()
	p.start(i, started)

	defer func() {
		if r := recover(); r != nil {
			finished := o.now()
			p.finish(i, finished)
			o.logger.Error("backend panicked", zap.String("name", u.Name), zap.Any("panic", r))
			res = models.Failed(u, fmt.Sprintf("backend panic: %v", r), started, finished)
		}
	}()

	tbl, err := o.backend.Execute(ctx, u.Preset, u.Text)
	finished := o.now()
	p.finish(i, finished)

	if err != nil {
		o.logger.Debug("query failed", zap.String("name", u.Name), zap.String("preset", u.Preset), zap.Error(err))
		return models.Failed(u, err.Error(), started, finished)
	}
	if tbl == nil {
		tbl = &models.Table{}
	}
	o.logger.Debug("query finished", zap.String("name", u.Name), zap.Int("rows", tbl.Len()),
		zap.Duration("elapsed", finished.Sub(started)))
	return models.Succeeded(u, tbl, started, finished)
}

// Execute runs units concurrently, shows progress through the reporter,
// then binds each success into ns and archives every result.
func (o *Orchestrator) Execute(ctx context.Context, units []models.Unit, ns Binder) []*models.Result {
	batch := o.Start(ctx, units)
	if o.reporter != nil {
		o.reporter.Report(ctx, batch.Progress(), batch.Done())
	}
	results := batch.Wait()
	o.record(results, ns)
	return results
}

func (o *Orchestrator) record(results []*models.Result, ns Binder) {
	for _, r := range results {
		if !r.OK() {
			o.archive(r.Unit, nil)
			continue
		}
		if ns != nil {
			ns.Bind(r.Name(), r.Table)
		}
		o.archive(r.Unit, r.Table)
	}
}

// archive appends to history. Failures are logged: the result stays usable
// in this session but cannot be replayed later.
func (o *Orchestrator) archive(u models.Unit, tbl *models.Table) {
	if o.store == nil {
		return
	}
	if _, err := o.store.Append(u.Name, u.Preset, u.Text, tbl); err != nil {
		o.logger.Warn("failed to archive result", zap.String("name", u.Name), zap.Error(err))
	}
}
