package models

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Table is a tabular query result. Every cell is kept in its textual form.
type Table struct {
	Columns []string
	Rows    [][]string
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Preview renders the first n rows. A footer notes how many rows were left out.
func (t *Table) Preview(n int) string {
	if t == nil {
		return ""
	}
	rows := t.Rows
	if n >= 0 && len(rows) > n {
		rows = rows[:n]
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(t.Columns...).
		Rows(rows...)

	out := tbl.String()
	if hidden := len(t.Rows) - len(rows); hidden > 0 {
		out += fmt.Sprintf("\n... %d more row(s)", hidden)
	}
	return out + fmt.Sprintf("\n[%d rows x %d columns]", len(t.Rows), len(t.Columns))
}

func (t *Table) String() string {
	return t.Preview(10)
}
