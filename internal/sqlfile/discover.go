package sqlfile

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const Extension = ".sql"

func isSQLFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), Extension)
}

// Discover resolves CLI arguments into a sorted list of .sql files.
// With no arguments the working directory is scanned (not recursively).
// Directory arguments are walked recursively; arguments that do not exist or
// are not .sql files are skipped.
func Discover(args []string) ([]string, error) {
	if len(args) == 0 {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		return scanDir(cwd)
	}

	seen := make(map[string]bool)
	var files []string
	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}

		if !info.IsDir() {
			if isSQLFile(arg) {
				add(arg)
			}
			continue
		}

		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isSQLFile(d.Name()) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Strings(files)
	return files, nil
}

func scanDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !isSQLFile(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}

	sort.Strings(files)
	return files, nil
}
