package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mpataki/datasling/internal/models"
	"github.com/mpataki/datasling/internal/storage"
)

// fakeBackend answers queries from a script keyed by query text.
type fakeBackend struct {
	mu      sync.Mutex
	delay   map[string]time.Duration
	fail    map[string]error
	panics  map[string]bool
	calls   []string
	active  int32
	maxSeen int32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		delay:  map[string]time.Duration{},
		fail:   map[string]error{},
		panics: map[string]bool{},
	}
}

func (f *fakeBackend) Execute(ctx context.Context, preset, query string) (*models.Table, error) {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		old := atomic.LoadInt32(&f.maxSeen)
		if n <= old || atomic.CompareAndSwapInt32(&f.maxSeen, old, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, query)
	delay, err, panics := f.delay[query], f.fail[query], f.panics[query]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if panics {
		panic("driver exploded")
	}
	if err != nil {
		return nil, err
	}
	return &models.Table{
		Columns: []string{"preset", "query"},
		Rows:    [][]string{{preset, query}},
	}, nil
}

func newStore(t *testing.T) *storage.Storage {
	t.Helper()
	dir := t.TempDir()
	s, err := storage.New(filepath.Join(dir, "history.db"), filepath.Join(dir, "snapshots"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func unit(name, preset, query string) models.Unit {
	return models.Unit{Name: name, Preset: preset, Text: query}
}

func resultNames(results []*models.Result) []string {
	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.Name()
	}
	return names
}

func TestExecute_OneResultPerUnitSortedByName(t *testing.T) {
	defer verifyNone(t)

	b := newFakeBackend()
	b.delay["SELECT 1"] = 30 * time.Millisecond
	store := newStore(t)
	ns := models.NewNamespace()

	o := New(b, store)
	results := o.Execute(context.Background(), []models.Unit{
		unit("zeta", "p", "SELECT 1"),
		unit("alpha", "p", "SELECT 2"),
		unit("mid", "q", "SELECT 3"),
	}, ns)

	require.Len(t, results, 3)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, resultNames(results))
	for _, r := range results {
		assert.True(t, r.OK(), r.Name())
		assert.False(t, r.FinishedAt.Before(r.StartedAt))
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, ns.Names())

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestExecute_RunsConcurrently(t *testing.T) {
	defer verifyNone(t)

	b := newFakeBackend()
	units := make([]models.Unit, 4)
	for i := range units {
		q := fmt.Sprintf("SELECT %d", i)
		b.delay[q] = 100 * time.Millisecond
		units[i] = unit(fmt.Sprintf("df%d", i), "p", q)
	}

	start := time.Now()
	results := New(b, newStore(t)).Execute(context.Background(), units, nil)
	elapsed := time.Since(start)

	assert.Len(t, results, 4)
	assert.Equal(t, int32(4), atomic.LoadInt32(&b.maxSeen))
	assert.Less(t, elapsed, 350*time.Millisecond)
}

func TestExecute_ConcurrencyLimit(t *testing.T) {
	defer verifyNone(t)

	b := newFakeBackend()
	units := make([]models.Unit, 6)
	for i := range units {
		q := fmt.Sprintf("SELECT %d", i)
		b.delay[q] = 20 * time.Millisecond
		units[i] = unit(fmt.Sprintf("df%d", i), "p", q)
	}

	results := New(b, newStore(t), WithConcurrency(2)).Execute(context.Background(), units, nil)
	assert.Len(t, results, 6)
	assert.LessOrEqual(t, atomic.LoadInt32(&b.maxSeen), int32(2))
}

func TestExecute_FailureIsIsolatedAndArchivedWithoutSnapshot(t *testing.T) {
	defer verifyNone(t)

	b := newFakeBackend()
	b.fail["SELEC * FORM t"] = errors.New(`syntax error near "SELEC"`)
	store := newStore(t)
	ns := models.NewNamespace()

	results := New(b, store).Execute(context.Background(), []models.Unit{
		unit("bad", "p", "SELEC * FORM t"),
		unit("good", "p", "SELECT 1"),
	}, ns)

	require.Len(t, results, 2)
	bad, good := results[0], results[1]
	assert.Equal(t, models.ResultFailure, bad.Status)
	assert.Contains(t, bad.Error, "syntax error")
	assert.Nil(t, bad.Table)
	assert.True(t, good.OK())

	_, bound := ns.Get("bad")
	assert.False(t, bound)
	_, bound = ns.Get("good")
	assert.True(t, bound)

	entries, err := store.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	byName := map[string]*models.HistoryEntry{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	assert.False(t, byName["bad"].HasSnapshot())
	assert.True(t, byName["good"].HasSnapshot())
}

func TestExecute_PanicBecomesFailure(t *testing.T) {
	defer verifyNone(t)

	b := newFakeBackend()
	b.panics["boom"] = true

	results := New(b, newStore(t)).Execute(context.Background(), []models.Unit{
		unit("a", "p", "boom"),
		unit("b", "p", "SELECT 1"),
	}, nil)

	require.Len(t, results, 2)
	assert.Equal(t, models.ResultFailure, results[0].Status)
	assert.Contains(t, results[0].Error, "driver exploded")
	assert.True(t, results[1].OK())
}

func TestExecute_Empty(t *testing.T) {
	defer verifyNone(t)

	results := New(newFakeBackend(), newStore(t)).Execute(context.Background(), nil, nil)
	assert.Empty(t, results)
}

type recordingReporter struct {
	snapshots []Snapshot
}

func (r *recordingReporter) Report(ctx context.Context, p *Progress, done <-chan struct{}) {
	r.snapshots = append(r.snapshots, p.Snapshot(time.Now()))
	<-done
	r.snapshots = append(r.snapshots, p.Snapshot(time.Now()))
}

func TestExecute_ReporterSeesFinalProgress(t *testing.T) {
	defer verifyNone(t)

	b := newFakeBackend()
	b.delay["slow"] = 50 * time.Millisecond
	rep := &recordingReporter{}

	New(b, newStore(t), WithReporter(rep)).Execute(context.Background(), []models.Unit{
		unit("df1", "p", "slow"),
		unit("df2", "p", "SELECT 1"),
	}, nil)

	require.Len(t, rep.snapshots, 2)
	final := rep.snapshots[1]
	assert.True(t, final.Finished())
	require.Len(t, final.Completed, 2)
	assert.Equal(t, "df1", final.Completed[0].Name)
	assert.GreaterOrEqual(t, final.Completed[0].Elapsed, 50*time.Millisecond)
}

func TestReplay_LoadsNewestSnapshotAndArchivesAgain(t *testing.T) {
	defer verifyNone(t)

	store := newStore(t)
	_, err := store.Append("df1", "p", "SELECT 1", &models.Table{Columns: []string{"v"}, Rows: [][]string{{"old"}}})
	require.NoError(t, err)
	_, err = store.Append("df1", "p", "SELECT 1", &models.Table{Columns: []string{"v"}, Rows: [][]string{{"new"}}})
	require.NoError(t, err)

	b := newFakeBackend()
	ns := models.NewNamespace()
	results := New(b, store).Replay(context.Background(), []string{"df1", "df1"}, ns)

	require.Len(t, results, 1)
	r := results[0]
	assert.True(t, r.OK())
	require.NotNil(t, r.Source)
	assert.Equal(t, [][]string{{"new"}}, r.Table.Rows)
	assert.Empty(t, b.calls, "replay must not query the backend")

	tbl, ok := ns.Get("df1")
	require.True(t, ok)
	assert.Equal(t, [][]string{{"new"}}, tbl.Rows)

	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestReplay_NoHistory(t *testing.T) {
	defer verifyNone(t)

	ns := models.NewNamespace()
	results := New(newFakeBackend(), newStore(t)).Replay(context.Background(), []string{"never_ran"}, ns)

	require.Len(t, results, 1)
	assert.Equal(t, models.ResultNoHistory, results[0].Status)
	assert.Equal(t, ErrNoHistory.Error(), results[0].Error)
	assert.Equal(t, 0, ns.Len())
}

func TestReplay_IsStableAcrossRepeats(t *testing.T) {
	defer verifyNone(t)

	store := newStore(t)
	want := &models.Table{Columns: []string{"a", "b"}, Rows: [][]string{{"1", "x, y"}, {"2", `"q"`}}}
	_, err := store.Append("df", "p", "SELECT", want)
	require.NoError(t, err)

	o := New(newFakeBackend(), store)
	first := o.Replay(context.Background(), []string{"df"}, nil)
	second := o.Replay(context.Background(), []string{"df"}, nil)

	require.True(t, first[0].OK())
	require.True(t, second[0].OK())
	assert.Equal(t, want, first[0].Table)
	assert.Equal(t, first[0].Table, second[0].Table)
}

func TestReplay_AfterExecute(t *testing.T) {
	defer verifyNone(t)

	store := newStore(t)
	b := newFakeBackend()
	o := New(b, store)

	o.Execute(context.Background(), []models.Unit{unit("df1", "warehouse", "SELECT 1")}, nil)
	results := o.Replay(context.Background(), []string{"df1"}, nil)

	require.Len(t, results, 1)
	require.True(t, results[0].OK())
	assert.Equal(t, "warehouse", results[0].Unit.Preset)
	assert.Equal(t, [][]string{{"warehouse", "SELECT 1"}}, results[0].Table.Rows)
	assert.Len(t, b.calls, 1)
}

// verifyNone ignores the opener goroutine of stores closed by t.Cleanup,
// which runs after deferred checks.
func verifyNone(t *testing.T) {
	goleak.VerifyNone(t, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}
