package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/datasling/internal/config"
	"github.com/mpataki/datasling/internal/models"
	"github.com/mpataki/datasling/internal/sqlfile"
)

type stubBackend struct {
	calls int
	fail  map[string]string
}

func (b *stubBackend) Execute(ctx context.Context, preset, query string) (*models.Table, error) {
	b.calls++
	if msg, ok := b.fail[strings.TrimSpace(query)]; ok {
		return nil, errors.New(msg)
	}
	return &models.Table{Columns: []string{"preset", "query"}, Rows: [][]string{{preset, strings.TrimSpace(query)}}}, nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newSession(t *testing.T, b *stubBackend, historic bool, paths ...string) (*Session, *bytes.Buffer) {
	t.Helper()
	cfg := &config.Config{
		DataDir:          filepath.Join(t.TempDir(), "data"),
		PreviewRows:      5,
		HistoryLimit:     10,
		ProgressInterval: 10 * time.Millisecond,
	}
	var out bytes.Buffer
	s, err := Open(cfg, nil, Options{Paths: paths, Historic: historic, Out: &out, Backend: b})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, &out
}

func TestProcess_ExecutesAndBinds(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.sql", "df1@preset::p\nSELECT 1\n\ndf2@preset::p\nSELECT 2\n")

	b := &stubBackend{}
	s, out := newSession(t, b, false, dir)
	require.NoError(t, s.Process(context.Background()))

	assert.Equal(t, []string{"df1", "df2"}, s.Namespace().Names())
	assert.Equal(t, 2, b.calls)
	assert.Contains(t, out.String(), "Processing 1 file(s)")
	assert.Contains(t, out.String(), "Loaded df1 (preset: p")
	assert.Contains(t, out.String(), "2 loaded, 0 failed")
}

func TestProcess_BadQueryDoesNotStopBatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.sql", "bad@preset::p\nSELEC * FORM t\n\ngood@preset::p\nSELECT 1\n")

	b := &stubBackend{fail: map[string]string{"SELEC * FORM t": "syntax error"}}
	s, out := newSession(t, b, false, dir)
	require.NoError(t, s.Process(context.Background()))

	assert.Equal(t, []string{"good"}, s.Namespace().Names())
	assert.Contains(t, out.String(), "Failed to load bad")
	assert.Contains(t, out.String(), "syntax error")
}

func TestProcess_ConflictsAbortBeforeExecution(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.sql", "df1@preset::p\nSELECT 1\n")
	writeFile(t, dir, "b.sql", "df1@preset::q\nSELECT 2\n")

	b := &stubBackend{}
	s, _ := newSession(t, b, false, dir)
	err := s.Process(context.Background())

	var conflict *sqlfile.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Len(t, conflict.Conflicts, 2)
	assert.Equal(t, 0, b.calls)
}

func TestProcess_NoFiles(t *testing.T) {
	s, _ := newSession(t, &stubBackend{}, false, t.TempDir())
	assert.ErrorIs(t, s.Process(context.Background()), ErrNoFiles)
}

func TestProcess_ParseError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "empty.sql", "-- nothing here\n")

	s, _ := newSession(t, &stubBackend{}, false, dir)
	err := s.Process(context.Background())
	assert.ErrorIs(t, err, sqlfile.ErrNoQueries)
}

func TestProcess_HistoricReplaysWithoutBackend(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.sql", "df1@preset::p\nSELECT 1\n")
	writeFile(t, dir, "b.sql", "df1@preset::p\nSELECT 1\n\nnever@preset::p\nSELECT 9\n")

	b := &stubBackend{}
	s, out := newSession(t, b, false, filepath.Join(dir, "a.sql"))
	require.NoError(t, s.Process(context.Background()))
	require.Equal(t, 1, b.calls)

	s.opts = Options{Paths: []string{dir}, Historic: true, Out: out, Backend: b}
	out.Reset()
	require.NoError(t, s.Process(context.Background()), "historic mode skips the conflict check")

	assert.Equal(t, 1, b.calls)
	assert.Contains(t, out.String(), "Loaded historic df1")
	assert.Contains(t, out.String(), "no historic data found for never")
}

func TestShellUtilities(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.sql", "df1@preset::p\nSELECT 1\n")

	b := &stubBackend{}
	s, out := newSession(t, b, false, dir)
	ctx := context.Background()
	require.NoError(t, s.Process(ctx))

	require.NoError(t, s.runtime.Eval(ctx, "run()"))
	assert.Equal(t, 2, b.calls)

	out.Reset()
	require.NoError(t, s.runtime.Eval(ctx, "history(1)"))
	assert.Contains(t, out.String(), "History Entry 1")
	assert.NotContains(t, out.String(), "History Entry 2")

	out.Reset()
	require.NoError(t, s.runtime.Eval(ctx, `historic("df1")`))
	assert.Contains(t, out.String(), "Loaded historic df1")
	assert.Equal(t, 2, b.calls)

	require.NoError(t, s.runtime.Eval(ctx, "clear_history()"))
	n, err := s.store.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	out.Reset()
	require.NoError(t, s.runtime.Eval(ctx, "df1.rows[1][2]"))
	assert.Equal(t, "SELECT 1\n", out.String())
}
