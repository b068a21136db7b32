package sqlfile

import (
	"fmt"
	"sort"
	"strings"
)

// Conflicts maps a file path to the sorted names it shares with another
// definition.
type Conflicts map[string][]string

// DetectConflicts finds names defined more than once across files. Each
// defining file is reported. A name repeated inside one file is reported
// against that file as well.
func DetectConflicts(files []FileUnits) Conflicts {
	definedIn := make(map[string][]string)
	counts := make(map[string]int)

	for _, f := range files {
		for _, u := range f.Units {
			counts[u.Name]++
			paths := definedIn[u.Name]
			if len(paths) == 0 || paths[len(paths)-1] != f.Path {
				definedIn[u.Name] = append(paths, f.Path)
			}
		}
	}

	sets := make(map[string]map[string]bool)
	for name, paths := range definedIn {
		if counts[name] < 2 {
			continue
		}
		for _, p := range paths {
			if sets[p] == nil {
				sets[p] = make(map[string]bool)
			}
			sets[p][name] = true
		}
	}

	conflicts := make(Conflicts, len(sets))
	for path, names := range sets {
		list := make([]string, 0, len(names))
		for n := range names {
			list = append(list, n)
		}
		sort.Strings(list)
		conflicts[path] = list
	}
	return conflicts
}

// Files returns the conflicting file paths in sorted order.
func (c Conflicts) Files() []string {
	files := make([]string, 0, len(c))
	for f := range c {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// ConflictError is returned when names collide outside historic mode.
type ConflictError struct {
	Conflicts Conflicts
}

func (e *ConflictError) Error() string {
	var b strings.Builder
	b.WriteString("conflicting query names found:")
	for _, f := range e.Conflicts.Files() {
		fmt.Fprintf(&b, "\n  %s: %s", f, strings.Join(e.Conflicts[f], ", "))
	}
	return b.String()
}
