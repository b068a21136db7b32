package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mpataki/datasling/internal/models"
)

// RenderResult formats one result for the terminal. Successful results
// include a preview of their first previewRows rows.
func RenderResult(r *models.Result, previewRows int) string {
	switch r.Status {
	case models.ResultSuccess:
		var header string
		if r.Source != nil {
			header = fmt.Sprintf("Loaded historic %s (preset: %s, from %s, %s):",
				r.Name(), r.Unit.Preset, r.Source.Timestamp.Local().Format("2006-01-02 15:04:05"), RenderRowCount(r.Table))
		} else {
			header = fmt.Sprintf("Loaded %s (preset: %s, %s, %s):",
				r.Name(), r.Unit.Preset, formatDuration(r.Elapsed()), RenderRowCount(r.Table))
		}
		return statusComplete.Render(header) + "\n" + r.Table.Preview(previewRows)

	case models.ResultNoHistory:
		return statusWarn.Render(fmt.Sprintf("Warning: no historic data found for %s (%s)", r.Name(), r.Error))

	default:
		return statusFailed.Render(fmt.Sprintf("Failed to load %s (%s): %s",
			r.Name(), formatDuration(r.Elapsed()), r.Error))
	}
}

// WriteResults prints every result separated by blank lines, then a one
// line summary.
func WriteResults(w io.Writer, results []*models.Result, previewRows int) {
	var ok, failed int
	for _, r := range results {
		fmt.Fprintln(w, RenderResult(r, previewRows))
		fmt.Fprintln(w)
		if r.OK() {
			ok++
		} else {
			failed++
		}
	}
	summary := fmt.Sprintf("%d loaded, %d failed", ok, failed)
	if failed > 0 {
		fmt.Fprintln(w, statusFailed.Render(summary))
		return
	}
	fmt.Fprintln(w, dimStyle.Render(summary))
}

// RenderHistory lists entries in the order given, numbering from 1.
func RenderHistory(entries []*models.HistoryEntry, now time.Time) string {
	if len(entries) == 0 {
		return dimStyle.Render("(no history yet)")
	}

	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n")
		}
		ts := e.Timestamp.Local()
		fmt.Fprintf(&b, "%s %s\n",
			titleStyle.Render(fmt.Sprintf("History Entry %d", i+1)),
			dimStyle.Render(fmt.Sprintf("(%s, %s)", ts.Format("2006-01-02 15:04:05"), humanize.RelTime(e.Timestamp, now, "ago", "from now"))))
		fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("Name:"), contentStyle.Render(e.Name))
		fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("Preset:"), contentStyle.Render(e.Preset))
		fmt.Fprintf(&b, "  %s\n%s\n", labelStyle.Render("Query:"), indent(e.Query, "    "))
		if e.Preview != "" {
			fmt.Fprintf(&b, "  %s\n%s\n", labelStyle.Render("Preview:"), indent(e.Preview, "    "))
		}
		if e.HasSnapshot() {
			fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("Snapshot:"), e.SnapshotPath)
		} else {
			fmt.Fprintf(&b, "  %s %s\n", labelStyle.Render("Snapshot:"), statusFailed.Render("not saved"))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderRowCount gives a readable size for a table, e.g. "1,204 rows".
func RenderRowCount(tbl *models.Table) string {
	n := tbl.Len()
	if n == 1 {
		return "1 row"
	}
	return humanize.Comma(int64(n)) + " rows"
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

// InfoText is the quick reference shown by info() and at shell start.
func InfoText() string {
	var b strings.Builder
	b.WriteString(Title("datasling") + "\n\n")
	b.WriteString(contentStyle.Render("Write named queries in .sql files:") + "\n\n")
	b.WriteString("  -- monthly revenue\n")
	b.WriteString("  revenue@preset::warehouse\n")
	b.WriteString("  SELECT month, SUM(amount) FROM sales GROUP BY month;\n\n")
	b.WriteString(contentStyle.Render("Each loaded result is bound to its name in the shell.") + "\n\n")
	rows := [][2]string{
		{"run()", "re-run every query in the loaded files"},
		{"historic(\"a\", \"b\")", "reload results from history (no args: all names)"},
		{"history(n)", "show the n most recent history entries (default 10)"},
		{"clear_history()", "delete every history entry"},
		{"show(name, n)", "preview the first n rows of a result"},
		{"names()", "list the names bound in this session"},
		{"info()", "show this help"},
		{"exit", "leave the shell (or Ctrl-D)"},
	}
	for _, r := range rows {
		fmt.Fprintf(&b, "  %-22s %s\n", r[0], dimStyle.Render(r[1]))
	}
	return b.String()
}
