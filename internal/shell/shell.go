package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/peterh/liner"
	"go.uber.org/zap"
)

const prompt = "datasling> "

// Evaluator runs one line of shell input.
type Evaluator interface {
	Eval(ctx context.Context, line string) error
	Completions(prefix string) []string
}

// LineReader is the subset of *liner.State the loop reads from.
type LineReader interface {
	Prompt(p string) (string, error)
	AppendHistory(item string)
}

type Shell struct {
	eval        Evaluator
	historyPath string
	out         io.Writer
	logger      *zap.Logger
}

func New(eval Evaluator, historyPath string, out io.Writer, logger *zap.Logger) *Shell {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Shell{eval: eval, historyPath: historyPath, out: out, logger: logger}
}

// Run reads lines from the terminal until exit, quit or EOF.
func (s *Shell) Run(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetWordCompleter(s.complete)
	s.loadHistory(line)
	defer s.saveHistory(line)

	return s.Loop(ctx, line)
}

// Loop drives the read-eval-print cycle. Evaluation errors are printed and
// the loop continues.
func (s *Shell) Loop(ctx context.Context, r LineReader) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		input, err := r.Prompt(prompt)
		if errors.Is(err, liner.ErrPromptAborted) {
			fmt.Fprintln(s.out, "(use exit or Ctrl-D to leave)")
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(s.out)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		r.AppendHistory(input)

		switch input {
		case "exit", "quit", "exit()", "quit()":
			return nil
		}

		if err := s.eval.Eval(ctx, input); err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
}

// complete finishes the identifier under the cursor.
func (s *Shell) complete(line string, pos int) (head string, completions []string, tail string) {
	if pos > len(line) {
		pos = len(line)
	}
	start := pos
	for start > 0 {
		c := rune(line[start-1])
		if c != '_' && !unicode.IsLetter(c) && !unicode.IsDigit(c) {
			break
		}
		start--
	}
	return line[:start], s.eval.Completions(line[start:pos]), line[pos:]
}

func (s *Shell) loadHistory(line *liner.State) {
	if s.historyPath == "" {
		return
	}
	f, err := os.Open(s.historyPath)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Debug("failed to open shell history", zap.String("path", s.historyPath), zap.Error(err))
		}
		return
	}
	defer f.Close()
	if _, err := line.ReadHistory(f); err != nil {
		s.logger.Debug("failed to read shell history", zap.Error(err))
	}
}

func (s *Shell) saveHistory(line *liner.State) {
	if s.historyPath == "" {
		return
	}
	f, err := os.Create(s.historyPath)
	if err != nil {
		s.logger.Warn("failed to save shell history", zap.String("path", s.historyPath), zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := line.WriteHistory(f); err != nil {
		s.logger.Warn("failed to write shell history", zap.Error(err))
	}
}
