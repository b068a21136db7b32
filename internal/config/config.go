package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvPrefix      = "DATASLING"
	configFileName = "config.yaml"

	defaultPreviewRows      = 10
	defaultHistoryLimit     = 10
	defaultProgressInterval = 100 * time.Millisecond
)

type Config struct {
	DataDir          string        `mapstructure:"data_dir"`
	PresetsFile      string        `mapstructure:"presets_file"`
	PreviewRows      int           `mapstructure:"preview_rows"`
	Concurrency      int           `mapstructure:"concurrency"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
	HistoryLimit     int           `mapstructure:"history_limit"`
}

// NewViper returns a viper instance with defaults and DATASLING_* env
// lookups. Flags may be bound to it before Load.
func NewViper() (*viper.Viper, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetDefault("data_dir", filepath.Join(homeDir, ".datasling"))
	v.SetDefault("presets_file", filepath.Join(homeDir, ".rgwfuncsrc"))
	v.SetDefault("preview_rows", defaultPreviewRows)
	v.SetDefault("concurrency", 0)
	v.SetDefault("progress_interval", defaultProgressInterval.String())
	v.SetDefault("history_limit", defaultHistoryLimit)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v, nil
}

// Load resolves the configuration. A config.yaml inside the data directory
// is merged when present; flags and env still take precedence.
func Load(v *viper.Viper) (*Config, error) {
	// Snapshot paths are stored as given, so the data dir must not depend
	// on the working directory.
	dataDir, err := filepath.Abs(expandHome(v.GetString("data_dir")))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data dir: %w", err)
	}
	cfgFile := filepath.Join(dataDir, configFileName)
	if _, err := os.Stat(cfgFile); err == nil {
		v.SetConfigFile(cfgFile)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", cfgFile, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	c.DataDir = dataDir
	c.PresetsFile = expandHome(c.PresetsFile)
	if c.PreviewRows <= 0 {
		c.PreviewRows = defaultPreviewRows
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = defaultHistoryLimit
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = defaultProgressInterval
	}
	return c, nil
}

// New loads the configuration from defaults, env and the optional file.
func New() (*Config, error) {
	v, err := NewViper()
	if err != nil {
		return nil, err
	}
	return Load(v)
}

func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(c.SnapshotDir(), 0755); err != nil {
		return err
	}
	return nil
}

func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

func (c *Config) SnapshotDir() string {
	return filepath.Join(c.DataDir, "snapshots")
}

func (c *Config) ShellHistoryPath() string {
	return filepath.Join(c.DataDir, "shell_history")
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
}
