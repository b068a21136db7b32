package sqlfile

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/mpataki/datasling/internal/models"
)

// ErrNoQueries is wrapped by ParseError.
var ErrNoQueries = errors.New("no valid SQL queries found")

// ParseError reports a file that yielded no usable query.
type ParseError struct {
	Path string
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return ErrNoQueries.Error()
	}
	return fmt.Sprintf("%s in %s", ErrNoQueries, e.Path)
}

func (e *ParseError) Unwrap() error {
	return ErrNoQueries
}

var (
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	directive    = regexp.MustCompile(`^(\w+)@preset::(\w+)`)
)

// Parse splits file content into query units.
//
// A directive line "name@preset::preset_name" opens a unit. Following
// non-blank lines are its body until a blank line, a "--" comment line or the
// next directive. Units whose body is empty are dropped.
func Parse(content string) ([]models.Unit, error) {
	content = blockComment.ReplaceAllString(content, "")

	var (
		units  []models.Unit
		name   string
		preset string
		body   []string
	)

	flush := func() {
		if name != "" && len(body) > 0 {
			units = append(units, models.Unit{
				Name:   name,
				Preset: preset,
				Text:   strings.Join(body, "\n"),
			})
		}
		body = nil
	}

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, " \t\r")
		trimmed := strings.TrimSpace(line)

		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			// A directive with no body yet keeps waiting for one.
			if len(body) > 0 {
				flush()
				name, preset = "", ""
			}
			continue
		}

		if m := directive.FindStringSubmatch(line); m != nil {
			flush()
			name, preset = m[1], m[2]
			continue
		}

		if name != "" {
			body = append(body, line)
		}
	}
	flush()

	if len(units) == 0 {
		return nil, &ParseError{}
	}
	return units, nil
}

// ParseFile reads and parses one file, stamping each unit with its path.
func ParseFile(path string) ([]models.Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	units, err := Parse(string(data))
	if err != nil {
		return nil, &ParseError{Path: path}
	}

	for i := range units {
		units[i].SourceFile = path
	}
	return units, nil
}

// FileUnits groups the units parsed from one file.
type FileUnits struct {
	Path  string
	Units []models.Unit
}

// LoadAll parses every path in order. The first failure aborts.
func LoadAll(paths []string) ([]FileUnits, error) {
	files := make([]FileUnits, 0, len(paths))
	for _, path := range paths {
		units, err := ParseFile(path)
		if err != nil {
			return nil, err
		}
		files = append(files, FileUnits{Path: path, Units: units})
	}
	return files, nil
}

// Flatten concatenates the units of all files, keeping file order.
func Flatten(files []FileUnits) []models.Unit {
	var units []models.Unit
	for _, f := range files {
		units = append(units, f.Units...)
	}
	return units
}
