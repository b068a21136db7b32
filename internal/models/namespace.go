package models

import (
	"sort"
	"sync"
)

// Namespace maps result names to loaded tables. Rebinding a name replaces
// the previous table.
type Namespace struct {
	mu     sync.RWMutex
	tables map[string]*Table
}

func NewNamespace() *Namespace {
	return &Namespace{tables: make(map[string]*Table)}
}

func (n *Namespace) Bind(name string, tbl *Table) {
	n.mu.Lock()
	n.tables[name] = tbl
	n.mu.Unlock()
}

func (n *Namespace) Get(name string) (*Table, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	tbl, ok := n.tables[name]
	return tbl, ok
}

// Names returns the bound names in sorted order.
func (n *Namespace) Names() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	names := make([]string, 0, len(n.tables))
	for name := range n.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (n *Namespace) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.tables)
}
