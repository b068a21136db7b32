package tui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mpataki/datasling/internal/models"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleResult() *models.Result {
	tbl := &models.Table{Columns: []string{"id"}, Rows: [][]string{{"1"}, {"2"}, {"3"}}}
	return models.Succeeded(models.Unit{Name: "df1", Preset: "warehouse"}, tbl, t0, t0.Add(1230*time.Millisecond))
}

func TestRenderResult_Success(t *testing.T) {
	out := RenderResult(sampleResult(), 2)
	assert.Contains(t, out, "Loaded df1 (preset: warehouse, 1.23s, 3 rows):")
	assert.Contains(t, out, "... 1 more row(s)")
	assert.Contains(t, out, "[3 rows x 1 columns]")
}

func TestRenderResult_Failure(t *testing.T) {
	r := models.Failed(models.Unit{Name: "bad"}, `near "SELEC": syntax error`, t0, t0.Add(120*time.Millisecond))
	assert.Equal(t, `Failed to load bad (120ms): near "SELEC": syntax error`, RenderResult(r, 10))
}

func TestRenderResult_NoHistory(t *testing.T) {
	r := &models.Result{Unit: models.Unit{Name: "gone"}, Status: models.ResultNoHistory, Error: "no history available"}
	assert.Equal(t, "Warning: no historic data found for gone (no history available)", RenderResult(r, 10))
}

func TestRenderResult_Historic(t *testing.T) {
	r := sampleResult()
	r.Source = &models.HistoryEntry{Timestamp: t0}
	assert.Contains(t, RenderResult(r, 10), "Loaded historic df1 (preset: warehouse, from ")
}

func TestWriteResults_Summary(t *testing.T) {
	var buf bytes.Buffer
	WriteResults(&buf, []*models.Result{
		sampleResult(),
		models.Failed(models.Unit{Name: "bad"}, "boom", t0, t0),
	}, 10)
	out := buf.String()
	assert.True(t, strings.Index(out, "Loaded df1") < strings.Index(out, "Failed to load bad"))
	assert.Contains(t, out, "1 loaded, 1 failed")
}

func TestRenderHistory(t *testing.T) {
	entries := []*models.HistoryEntry{
		{ID: 1, Timestamp: t0, Name: "df1", Preset: "p", Query: "SELECT 1\nFROM t", Preview: "preview", SnapshotPath: "/tmp/a.csv"},
		{ID: 2, Timestamp: t0.Add(time.Minute), Name: "bad", Preset: "p", Query: "SELEC"},
	}
	out := RenderHistory(entries, t0.Add(time.Hour))

	assert.Contains(t, out, "History Entry 1")
	assert.Contains(t, out, "History Entry 2")
	assert.Contains(t, out, "1 hour ago")
	assert.Contains(t, out, "    SELECT 1\n    FROM t")
	assert.Contains(t, out, "Snapshot: /tmp/a.csv")
	assert.Contains(t, out, "Snapshot: not saved")
	assert.True(t, strings.Index(out, "Name: df1") < strings.Index(out, "Name: bad"))
}

func TestRenderHistory_Empty(t *testing.T) {
	assert.Equal(t, "(no history yet)", RenderHistory(nil, t0))
}

func TestRenderRowCount(t *testing.T) {
	assert.Equal(t, "0 rows", RenderRowCount(nil))
	assert.Equal(t, "1 row", RenderRowCount(&models.Table{Rows: [][]string{{"a"}}}))
	assert.Equal(t, "1,204 rows", RenderRowCount(&models.Table{Rows: make([][]string, 1204)}))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{500 * time.Millisecond, "500ms"},
		{1230 * time.Millisecond, "1.23s"},
		{90 * time.Second, "1m30s"},
		{2*time.Hour + 5*time.Minute, "2h5m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d))
	}
}
