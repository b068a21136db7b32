package models

// Unit is one named query parsed from a .sql file.
type Unit struct {
	Name       string
	Preset     string
	Text       string
	SourceFile string
}

// UnitNames returns the names of units in order, without duplicates.
func UnitNames(units []Unit) []string {
	seen := make(map[string]bool, len(units))
	names := make([]string, 0, len(units))
	for _, u := range units {
		if seen[u.Name] {
			continue
		}
		seen[u.Name] = true
		names = append(names, u.Name)
	}
	return names
}
