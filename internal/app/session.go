package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mpataki/datasling/internal/backend"
	"github.com/mpataki/datasling/internal/config"
	"github.com/mpataki/datasling/internal/lua"
	"github.com/mpataki/datasling/internal/models"
	"github.com/mpataki/datasling/internal/orchestrator"
	"github.com/mpataki/datasling/internal/shell"
	"github.com/mpataki/datasling/internal/sqlfile"
	"github.com/mpataki/datasling/internal/storage"
	"github.com/mpataki/datasling/internal/tui"
)

var ErrNoFiles = errors.New("no .sql files found")

type Options struct {
	// Paths are the CLI arguments: files or directories. Empty means the
	// working directory.
	Paths    []string
	Historic bool
	Out      io.Writer
	Reporter orchestrator.Reporter

	// Backend replaces the preset-driven SQL backend.
	Backend backend.Backend
}

// Session wires the store, backend, engine and shell namespace for one
// invocation.
type Session struct {
	cfg    *config.Config
	logger *zap.Logger
	out    io.Writer
	opts   Options
	now    func() time.Time

	store   *storage.Storage
	backend backend.Backend
	orch    *orchestrator.Orchestrator
	ns      *models.Namespace
	runtime *lua.Runtime
}

func Open(cfg *config.Config, logger *zap.Logger, opts Options) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	store, err := storage.New(cfg.DBPath(), cfg.SnapshotDir(),
		storage.WithLogger(logger.Named("storage")),
		storage.WithPreviewRows(cfg.PreviewRows))
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}

	b := opts.Backend
	if b == nil {
		presets, err := backend.LoadPresets(cfg.PresetsFile)
		if err != nil {
			store.Close()
			return nil, err
		}
		b = backend.NewSQL(presets, logger.Named("backend"))
	}

	s := &Session{
		cfg:     cfg,
		logger:  logger,
		out:     opts.Out,
		opts:    opts,
		now:     time.Now,
		store:   store,
		backend: b,
		ns:      models.NewNamespace(),
	}
	s.orch = orchestrator.New(b, store,
		orchestrator.WithLogger(logger.Named("orchestrator")),
		orchestrator.WithReporter(opts.Reporter),
		orchestrator.WithConcurrency(cfg.Concurrency))
	s.runtime = lua.NewRuntime(s.ns, s.out,
		lua.WithAPI(s),
		lua.WithLogger(logger.Named("lua")),
		lua.WithPreviewRows(cfg.PreviewRows),
		lua.WithHistoryLimit(cfg.HistoryLimit))
	return s, nil
}

func (s *Session) Close() error {
	s.runtime.Close()
	if c, ok := s.backend.(io.Closer); ok {
		if err := c.Close(); err != nil {
			s.logger.Warn("failed to close backend", zap.Error(err))
		}
	}
	return s.store.Close()
}

func (s *Session) Namespace() *models.Namespace {
	return s.ns
}

// Process runs the initial batch: discover, parse, check conflicts, then
// execute or replay depending on the session mode.
func (s *Session) Process(ctx context.Context) error {
	return s.process(ctx, s.opts.Historic)
}

func (s *Session) process(ctx context.Context, historic bool) error {
	files, err := s.load()
	if err != nil {
		return err
	}

	if !historic {
		if conflicts := sqlfile.DetectConflicts(files); len(conflicts) > 0 {
			return &sqlfile.ConflictError{Conflicts: conflicts}
		}
	}

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	fmt.Fprintln(s.out, tui.Title(fmt.Sprintf("Processing %d file(s): %s", len(paths), strings.Join(paths, ", "))))

	units := sqlfile.Flatten(files)
	var results []*models.Result
	if historic {
		results = s.orch.Replay(ctx, models.UnitNames(units), s.runtime)
	} else {
		results = s.orch.Execute(ctx, units, s.runtime)
	}
	tui.WriteResults(s.out, results, s.cfg.PreviewRows)
	return nil
}

func (s *Session) load() ([]sqlfile.FileUnits, error) {
	paths, err := sqlfile.Discover(s.opts.Paths)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, ErrNoFiles
	}
	s.logger.Debug("discovered sql files", zap.Strings("paths", paths))
	return sqlfile.LoadAll(paths)
}

// Shell hands the namespace to the interactive prompt.
func (s *Session) Shell(ctx context.Context) error {
	fmt.Fprint(s.out, s.Info())
	fmt.Fprintf(s.out, "\nLoaded: %s\n\n", strings.Join(s.ns.Names(), ", "))
	sh := shell.New(s.runtime, s.cfg.ShellHistoryPath(), s.out, s.logger.Named("shell"))
	return sh.Run(ctx)
}

// Rerun re-reads the files and executes every query again.
func (s *Session) Rerun(ctx context.Context) error {
	return s.process(ctx, false)
}

// Replay reloads names from history. No names means every name in the
// loaded files.
func (s *Session) Replay(ctx context.Context, names []string) error {
	if len(names) == 0 {
		files, err := s.load()
		if err != nil {
			return err
		}
		names = models.UnitNames(sqlfile.Flatten(files))
	}
	results := s.orch.Replay(ctx, names, s.runtime)
	tui.WriteResults(s.out, results, s.cfg.PreviewRows)
	return nil
}

func (s *Session) ShowHistory(limit int) error {
	entries, err := s.store.List(limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, tui.RenderHistory(entries, s.now()))
	return nil
}

func (s *Session) ClearHistory() error {
	return s.store.Clear()
}

func (s *Session) Info() string {
	return tui.InfoText()
}
