package tui

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"

	"github.com/mpataki/datasling/internal/orchestrator"
)

// LineReporter rewrites a single status line in place. It suits terminals
// without cursor control and is readable when captured to a file.
type LineReporter struct {
	out      io.Writer
	interval time.Duration
	now      func() time.Time
}

func NewLineReporter(out io.Writer, interval time.Duration) *LineReporter {
	return &LineReporter{out: out, interval: interval, now: time.Now}
}

func (r *LineReporter) Report(ctx context.Context, p *orchestrator.Progress, done <-chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			fmt.Fprintf(r.out, "\r%s\n", p.Snapshot(r.now()))
			return
		case <-ticker.C:
			fmt.Fprintf(r.out, "\r%s", p.Snapshot(r.now()))
		}
	}
}

// NewReporter picks the live display for terminals and the line reporter
// for everything else.
func NewReporter(out *os.File, interval time.Duration, logger *zap.Logger) orchestrator.Reporter {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()) {
		return NewProgressReporter(out, interval, logger)
	}
	return NewLineReporter(out, interval)
}
