package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mpataki/datasling/internal/app"
	"github.com/mpataki/datasling/internal/config"
	"github.com/mpataki/datasling/internal/sqlfile"
	"github.com/mpataki/datasling/internal/tui"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		var conflict *sqlfile.ConflictError
		if errors.As(err, &conflict) {
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, "Rename the duplicates or pass --historic to replay saved results.")
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

// cli holds state shared by every command.
type cli struct {
	v       *viper.Viper
	vErr    error
	verbose bool
	logger  *zap.Logger
}

func newRootCommand() *cobra.Command {
	c := &cli{logger: zap.NewNop()}
	var historic, noShell bool

	rootCmd := &cobra.Command{
		Use:   "datasling [--historic] [<sql_file_or_directory>...]",
		Short: "Run named SQL queries concurrently and explore the results",
		Long: `datasling loads named queries from .sql files, runs them concurrently
against their database presets, archives every result and opens an
interactive shell where each result is bound to its name.

A query starts with a directive line naming it and its preset:

  revenue@preset::warehouse
  SELECT month, SUM(amount) FROM sales GROUP BY month;

With no arguments the .sql files in the current directory are used.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = c.logger.Sync()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runRoot(cmd.Context(), args, historic, noShell)
		},
	}

	rootCmd.Flags().BoolVar(&historic, "historic", false, "load the latest saved results instead of querying")
	rootCmd.Flags().BoolVar(&noShell, "no-shell", false, "exit after loading instead of opening the shell")

	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")
	pf.String("data-dir", "", "directory for history and snapshots (default ~/.datasling)")
	pf.String("presets", "", "database preset file (default ~/.rgwfuncsrc)")
	pf.Int("concurrency", 0, "maximum queries in flight (0 = unlimited)")

	v, err := config.NewViper()
	if err != nil {
		v, c.vErr = viper.New(), err
	}
	_ = v.BindPFlag("data_dir", pf.Lookup("data-dir"))
	_ = v.BindPFlag("presets_file", pf.Lookup("presets"))
	_ = v.BindPFlag("concurrency", pf.Lookup("concurrency"))
	c.v = v

	rootCmd.AddCommand(c.newHistoryCommand())
	rootCmd.AddCommand(c.newClearHistoryCommand())
	rootCmd.AddCommand(c.newPresetsCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func (c *cli) init() error {
	if c.vErr != nil {
		return fmt.Errorf("failed to resolve defaults: %w", c.vErr)
	}

	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if c.verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	c.logger = logger
	return nil
}

func (c *cli) config() (*config.Config, error) {
	cfg, err := config.Load(c.v)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	c.logger.Debug("loaded config",
		zap.String("data_dir", cfg.DataDir),
		zap.String("presets_file", cfg.PresetsFile),
		zap.Int("concurrency", cfg.Concurrency))
	return cfg, nil
}

func (c *cli) runRoot(ctx context.Context, args []string, historic, noShell bool) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}

	session, err := app.Open(cfg, c.logger, app.Options{
		Paths:    args,
		Historic: historic,
		Out:      os.Stdout,
		Reporter: tui.NewReporter(os.Stdout, cfg.ProgressInterval, c.logger),
	})
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Process(ctx); err != nil {
		return err
	}
	if noShell {
		return nil
	}
	return session.Shell(ctx)
}
