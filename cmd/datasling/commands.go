package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mpataki/datasling/internal/backend"
	"github.com/mpataki/datasling/internal/storage"
	"github.com/mpataki/datasling/internal/tui"
)

func (c *cli) openStore() (*storage.Storage, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, err
	}
	return storage.New(cfg.DBPath(), cfg.SnapshotDir(),
		storage.WithLogger(c.logger.Named("storage")),
		storage.WithPreviewRows(cfg.PreviewRows))
}

func (c *cli) newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent query history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tui.RenderHistory(entries, time.Now()))
			return nil
		},
	}
	cmd.Flags().IntP("limit", "n", 10, "number of entries to show")
	return cmd
}

func (c *cli) newClearHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-history",
		Short: "Delete every history entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := c.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Clear(); err != nil {
				return err
			}
			c.logger.Info("history cleared")
			fmt.Fprintln(cmd.OutOrStdout(), "History cleared.")
			return nil
		},
	}
}

func (c *cli) newPresetsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List database presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.config()
			if err != nil {
				return err
			}
			presets, err := backend.LoadPresets(cfg.PresetsFile)
			if err != nil {
				return err
			}
			if len(presets) == 0 {
				c.logger.Warn("no presets found", zap.String("path", cfg.PresetsFile))
				fmt.Fprintf(cmd.OutOrStdout(), "No presets in %s\n", cfg.PresetsFile)
				return nil
			}

			rows := make([][]string, 0, len(presets))
			for _, name := range presets.Names() {
				p := presets[name]
				rows = append(rows, []string{p.Name, p.DBType, presetTarget(p)})
			}
			t := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("name", "db_type", "target").
				Rows(rows...)
			fmt.Fprintln(cmd.OutOrStdout(), t.String())
			return nil
		},
	}
}

// presetTarget describes where a preset points without its credentials.
func presetTarget(p backend.Preset) string {
	switch {
	case p.Path != "":
		return p.Path
	case p.Host != "":
		target := p.Host
		if p.Port != 0 {
			target += ":" + strconv.Itoa(p.Port)
		}
		if p.Database != "" {
			target += "/" + p.Database
		}
		return target
	case p.DSN != "":
		return "(dsn)"
	default:
		return p.Database
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "datasling %s\n", version)
		},
	}
}
