package backend

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Preset describes one database connection. The file format follows the
// ~/.rgwfuncsrc layout; since JSON is valid YAML both encodings load.
type Preset struct {
	Name     string `yaml:"name"`
	DBType   string `yaml:"db_type"`
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Database string `yaml:"database,omitempty"`
	Path     string `yaml:"path,omitempty"`
	DSN      string `yaml:"dsn,omitempty"`
}

type presetFile struct {
	Presets []Preset `yaml:"db_presets"`
}

// Presets indexes presets by name.
type Presets map[string]Preset

// LoadPresets reads a preset file. A missing file yields an empty set so the
// tool still starts; every query then fails with ErrUnknownPreset.
func LoadPresets(path string) (Presets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Presets{}, nil
		}
		return nil, fmt.Errorf("failed to read presets: %w", err)
	}
	return ParsePresets(data)
}

func ParsePresets(data []byte) (Presets, error) {
	var file presetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse presets: %w", err)
	}

	presets := make(Presets, len(file.Presets))
	for i, p := range file.Presets {
		if p.Name == "" {
			return nil, fmt.Errorf("preset #%d has no name", i+1)
		}
		if _, dup := presets[p.Name]; dup {
			return nil, fmt.Errorf("preset %q defined twice", p.Name)
		}
		presets[p.Name] = p
	}
	return presets, nil
}

// Names returns the preset names in sorted order.
func (p Presets) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
