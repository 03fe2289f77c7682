package core

import (
	"sort"
	"strings"
)

// ExpansionSet holds the group ids whose children are shown.
// It is presentation state only and never affects merge results.
type ExpansionSet map[string]struct{}

// NewExpansionSet creates a set from the given group ids.
func NewExpansionSet(groupIDs ...string) ExpansionSet {
	s := make(ExpansionSet, len(groupIDs))
	for _, id := range groupIDs {
		if id != "" {
			s[id] = struct{}{}
		}
	}
	return s
}

// Has reports whether the group is expanded.
func (s ExpansionSet) Has(groupID string) bool {
	_, ok := s[groupID]
	return ok
}

// Toggle flips a group's state and reports whether it is now expanded.
func (s ExpansionSet) Toggle(groupID string) bool {
	if _, ok := s[groupID]; ok {
		delete(s, groupID)
		return false
	}
	s[groupID] = struct{}{}
	return true
}

// IDs returns the expanded group ids, sorted.
func (s ExpansionSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns an independent copy.
func (s ExpansionSet) Clone() ExpansionSet {
	c := make(ExpansionSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// ExpandAll returns a set containing every parent group in the hierarchy.
func ExpandAll(h *Hierarchy) ExpansionSet {
	s := make(ExpansionSet)
	for _, n := range h.TopLevel() {
		if n.IsParent {
			s[n.GroupID] = struct{}{}
		}
	}
	return s
}

// ParseExpansion reads "all", "none" or a comma separated list of group ids.
// Unknown ids are kept; they simply never match a row.
func ParseExpansion(h *Hierarchy, raw string) ExpansionSet {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(raw) {
	case "all":
		return ExpandAll(h)
	case "", "none":
		return NewExpansionSet()
	}

	var ids []string
	for _, id := range strings.Split(raw, ",") {
		ids = append(ids, strings.TrimSpace(id))
	}
	return NewExpansionSet(ids...)
}

// Row is one display line of the flattened table.
type Row struct {
	Node
	Depth      int  // 0 for top-level, 1 for absorbed duplicates
	Expandable bool // Parent with children
	Expanded   bool
	DupeCount  int // Number of absorbed duplicates, shown on the status chip
}

// Flatten produces the display order: each top-level record, followed by its
// children when its group is expanded.
func Flatten(h *Hierarchy, expanded ExpansionSet) []Row {
	top := h.TopLevel()
	rows := make([]Row, 0, len(top))
	for _, n := range top {
		open := n.IsParent && expanded.Has(n.GroupID)
		rows = append(rows, Row{
			Node:       n,
			Expandable: n.IsParent,
			Expanded:   open,
			DupeCount:  len(n.ChildIDs),
		})
		if !open {
			continue
		}
		for _, c := range h.Children(n.ID) {
			rows = append(rows, Row{Node: c, Depth: 1})
		}
	}
	return rows
}
