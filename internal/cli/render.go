package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/JonMunkholm/dedupeit/internal/core"
)

// Palette shared by the styled theme.
var (
	colorPrimary = lipgloss.Color("#7C3AED")
	colorMuted   = lipgloss.Color("#6C7086")
	colorSuccess = lipgloss.Color("#A6E3A1")
	colorWarning = lipgloss.Color("#F9E2AF")
	colorError   = lipgloss.Color("#F38BA8")
	colorBorder  = lipgloss.Color("#45475A")
	colorInfo    = lipgloss.Color("#06B6D4")
)

// theme holds the styles used to print a dataset. A plain theme marks diffs
// with [-removed-] and {+added+} instead of colour.
type theme struct {
	plain   bool
	title   lipgloss.Style
	header  lipgloss.Style
	cell    lipgloss.Style
	muted   lipgloss.Style
	added   lipgloss.Style
	removed lipgloss.Style
	border  lipgloss.Style
	chips   map[core.Status]lipgloss.Style
}

func newTheme(plain bool) theme {
	if plain {
		none := lipgloss.NewStyle()
		return theme{
			plain:   true,
			title:   none,
			header:  none.Padding(0, 1),
			cell:    none.Padding(0, 1),
			muted:   none,
			added:   none,
			removed: none,
			border:  none,
			chips:   map[core.Status]lipgloss.Style{},
		}
	}

	chip := lipgloss.NewStyle().Bold(true)
	return theme{
		title:   lipgloss.NewStyle().Bold(true).Foreground(colorPrimary),
		header:  lipgloss.NewStyle().Bold(true).Padding(0, 1),
		cell:    lipgloss.NewStyle().Padding(0, 1),
		muted:   lipgloss.NewStyle().Foreground(colorMuted),
		added:   lipgloss.NewStyle().Foreground(colorSuccess),
		removed: lipgloss.NewStyle().Foreground(colorError).Strikethrough(true),
		border:  lipgloss.NewStyle().Foreground(colorBorder),
		chips: map[core.Status]lipgloss.Style{
			core.StatusProcessing: chip.Foreground(colorInfo),
			core.StatusUnique:     chip.Foreground(colorSuccess),
			core.StatusDeduped:    chip.Foreground(colorWarning),
			core.StatusRemoved:    chip.Foreground(colorMuted),
			core.StatusFailed:     chip.Foreground(colorError),
		},
	}
}

// renderDiff prints a word diff in the theme's notation.
func (t theme) renderDiff(parts []core.DiffPart) string {
	var b strings.Builder
	for _, p := range parts {
		switch p.Kind {
		case core.DiffRemoved:
			if t.plain {
				b.WriteString("[-" + p.Value + "-]")
			} else {
				b.WriteString(t.removed.Render(p.Value))
			}
		case core.DiffAdded:
			if t.plain {
				b.WriteString("{+" + p.Value + "+}")
			} else {
				b.WriteString(t.added.Render(p.Value))
			}
		default:
			b.WriteString(p.Value)
		}
	}
	return b.String()
}

func (t theme) renderCell(c core.Cell) string {
	if len(c.Diff) > 0 {
		return t.renderDiff(c.Diff)
	}
	return c.Value
}

// statusChip labels a row; parents show how many duplicates they absorbed.
func (t theme) statusChip(row core.Row) string {
	label := string(row.Status)
	if row.IsParent {
		label = fmt.Sprintf("%s +%d", label, row.DupeCount)
	}
	if style, ok := t.chips[row.Status]; ok {
		return style.Render(label)
	}
	return label
}

// treeMarker shows expandable state and nesting in the first column.
func treeMarker(row core.Row) string {
	switch {
	case row.Depth > 0:
		return "  └"
	case row.Expandable && row.Expanded:
		return "▾"
	case row.Expandable:
		return "▸"
	default:
		return ""
	}
}

// renderTable prints the flattened dataset for the given expansion state.
func renderTable(ds *core.Dataset, expanded core.ExpansionSet, t theme) string {
	headers := append([]string{"", "status"}, ds.Columns...)

	rows := core.Flatten(ds.Hierarchy, expanded)
	data := make([][]string, len(rows))
	for i, row := range rows {
		line := make([]string, 0, len(headers))
		line = append(line, treeMarker(row), t.statusChip(row))
		for _, c := range core.RenderRow(row.Node, ds.Columns) {
			line = append(line, t.renderCell(c))
		}
		data[i] = line
	}

	border := lipgloss.RoundedBorder()
	if t.plain {
		border = lipgloss.ASCIIBorder()
	}

	tbl := table.New().
		Border(border).
		BorderStyle(t.border).
		Headers(headers...).
		Rows(data...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return t.header
			}
			return t.cell
		})
	return tbl.String()
}

// renderSummary prints the before/after headline.
func renderSummary(ds *core.Dataset, t theme) string {
	s := core.Summarize(ds.Hierarchy)

	var b strings.Builder
	b.WriteString(t.title.Render("Deduplication summary"))
	b.WriteString("\n")
	fmt.Fprintf(&b, "  Original records:     %d\n", s.OriginalCount)
	fmt.Fprintf(&b, "  After deduplication:  %d\n", s.DeduplicatedCount)
	fmt.Fprintf(&b, "  Reduction:            %.1f%%\n", s.ReductionPercent)
	fmt.Fprintf(&b, "  Duplicate groups:     %d\n", ds.Groups)
	b.WriteString(t.muted.Render(fmt.Sprintf("  Dataset %s finished in %s", ds.ID, ds.Duration(ds.FinishedAt).Round(time.Millisecond))))
	b.WriteString("\n")
	return b.String()
}
