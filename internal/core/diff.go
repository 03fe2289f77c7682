package core

import (
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
)

// DiffKind classifies a token run in a cell diff.
type DiffKind string

const (
	DiffUnchanged DiffKind = "unchanged"
	DiffAdded     DiffKind = "added"
	DiffRemoved   DiffKind = "removed"
)

// DiffPart is a run of consecutive tokens sharing one classification.
type DiffPart struct {
	Kind  DiffKind `json:"kind"`
	Value string   `json:"value"`
}

// DiffWords aligns old and new at word granularity. Words, whitespace runs
// and individual punctuation marks are the units; replaced spans are
// reported as removed followed by added.
func DiffWords(oldText, newText string) []DiffPart {
	a := tokenizeWords(oldText)
	b := tokenizeWords(newText)

	m := difflib.NewMatcherWithJunk(a, b, false, nil)

	var parts []DiffPart
	emit := func(kind DiffKind, tokens []string) {
		if len(tokens) == 0 {
			return
		}
		value := strings.Join(tokens, "")
		if n := len(parts); n > 0 && parts[n-1].Kind == kind {
			parts[n-1].Value += value
			return
		}
		parts = append(parts, DiffPart{Kind: kind, Value: value})
	}

	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'e':
			emit(DiffUnchanged, a[op.I1:op.I2])
		case 'd':
			emit(DiffRemoved, a[op.I1:op.I2])
		case 'i':
			emit(DiffAdded, b[op.J1:op.J2])
		case 'r':
			emit(DiffRemoved, a[op.I1:op.I2])
			emit(DiffAdded, b[op.J1:op.J2])
		}
	}
	return parts
}

// HasChanges reports whether any part is added or removed.
func HasChanges(parts []DiffPart) bool {
	for _, p := range parts {
		if p.Kind != DiffUnchanged {
			return true
		}
	}
	return false
}

func tokenizeWords(s string) []string {
	var tokens []string
	runes := []rune(s)
	for i := 0; i < len(runes); {
		r := runes[i]
		j := i + 1
		switch {
		case isWordRune(r):
			for j < len(runes) && isWordRune(runes[j]) {
				j++
			}
		case unicode.IsSpace(r):
			for j < len(runes) && unicode.IsSpace(runes[j]) {
				j++
			}
		}
		tokens = append(tokens, string(runes[i:j]))
		i = j
	}
	return tokens
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

// Cell is the rendered content of one table cell.
// Exactly one of Value or Diff is meaningful: Diff is set only for a
// deduped record whose merged value differs from its original.
type Cell struct {
	Column string     `json:"column"`
	Value  string     `json:"value"`
	Diff   []DiffPart `json:"diff,omitempty"`
}

// RenderCell decides what a cell shows for a record.
func RenderCell(n Node, column string) Cell {
	if n.Status != StatusDeduped {
		return Cell{Column: column, Value: FormatValue(n.OriginalData[column])}
	}

	original, merged := n.OriginalData[column], n.MergedData[column]
	if valuesEqual(original, merged) {
		return Cell{Column: column, Value: FormatValue(merged)}
	}

	mergedText := FormatValue(merged)
	return Cell{
		Column: column,
		Value:  mergedText,
		Diff:   DiffWords(FormatValue(original), mergedText),
	}
}

// RenderRow renders every column of a row in column order.
func RenderRow(n Node, columns []string) []Cell {
	cells := make([]Cell, len(columns))
	for i, col := range columns {
		cells[i] = RenderCell(n, col)
	}
	return cells
}

// valuesEqual compares by rendered form; a value present on one side only
// is a difference even if it renders empty.
func valuesEqual(a, b any) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return FormatValue(a) == FormatValue(b)
}
