package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/mpataki/datasling/internal/orchestrator"
)

type tickMsg time.Time

type batchDoneMsg struct{}

// progressModel redraws the batch status on every tick until the batch's
// done channel closes.
type progressModel struct {
	progress *orchestrator.Progress
	done     <-chan struct{}
	spinner  spinner.Model
	interval time.Duration
	now      func() time.Time

	snap     orchestrator.Snapshot
	finished bool
}

func newProgressModel(p *orchestrator.Progress, done <-chan struct{}, interval time.Duration) progressModel {
	return progressModel{
		progress: p,
		done:     done,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(statusRunning)),
		interval: interval,
		now:      time.Now,
	}
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.tickCmd(), m.waitDone)
}

func (m progressModel) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m progressModel) waitDone() tea.Msg {
	<-m.done
	return batchDoneMsg{}
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if m.finished {
			return m, nil
		}
		m.snap = m.progress.Snapshot(m.now())
		return m, m.tickCmd()

	case batchDoneMsg:
		m.snap = m.progress.Snapshot(m.now())
		m.finished = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m progressModel) View() string {
	var b strings.Builder
	for _, u := range m.snap.Running {
		fmt.Fprintf(&b, "%s %-20s %s\n", m.spinner.View(), truncate(u.Name, 20), statusRunning.Render(formatDuration(u.Elapsed)+"..."))
	}
	for _, u := range m.snap.Completed {
		fmt.Fprintf(&b, "%s %-20s %s\n", statusComplete.Render("✓"), truncate(u.Name, 20), dimStyle.Render(formatDuration(u.Elapsed)))
	}
	for _, name := range m.snap.Pending {
		fmt.Fprintf(&b, "%s %-20s %s\n", statusPending.Render("○"), truncate(name, 20), dimStyle.Render("queued"))
	}
	return b.String()
}

// ProgressReporter draws a live, per-query status block on a terminal.
type ProgressReporter struct {
	out      io.Writer
	interval time.Duration
	logger   *zap.Logger
}

func NewProgressReporter(out io.Writer, interval time.Duration, logger *zap.Logger) *ProgressReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressReporter{out: out, interval: interval, logger: logger}
}

func (r *ProgressReporter) Report(ctx context.Context, p *orchestrator.Progress, done <-chan struct{}) {
	model := newProgressModel(p, done, r.interval)
	prog := tea.NewProgram(model,
		tea.WithContext(ctx),
		tea.WithInput(nil),
		tea.WithOutput(r.out),
	)
	if _, err := prog.Run(); err != nil {
		// The display is gone but the batch keeps running; callers wait on it.
		if !errors.Is(err, tea.ErrInterrupted) && !errors.Is(err, tea.ErrProgramKilled) {
			r.logger.Warn("progress display failed", zap.Error(err))
		}
	}
}
