package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Column defines a table column. Right aligns the cell text, for amounts.
type Column struct {
	Title string
	Width int
	Right bool
}

// Row is a slice of cell values.
type Row []string

// Table renders a lipgloss-styled table.
type Table struct {
	Columns []Column
	Rows    []Row
	SelIdx  int // selected row index (-1 = none)
}

// NewTable creates a new table.
func NewTable(cols []Column) *Table {
	return &Table{Columns: cols, SelIdx: -1}
}

// AddRow appends a row.
func (t *Table) AddRow(r Row) {
	t.Rows = append(t.Rows, r)
}

// Render returns the full table as a string. Cells are padded by display
// width so addresses and multi-byte marks line up.
func (t *Table) Render() string {
	var sb strings.Builder

	headerStyle := lipgloss.NewStyle().Foreground(ColorHighlight).Bold(true)
	cellStyle := lipgloss.NewStyle().Foreground(ColorValue)
	dimStyle := lipgloss.NewStyle().Foreground(ColorMeta)

	cells := make([]string, len(t.Columns))

	for j, col := range t.Columns {
		cells[j] = headerStyle.Render(fit(col.Title, col.Width, col.Right))
	}
	sb.WriteString(strings.Join(cells, " ") + "\n")

	for j, col := range t.Columns {
		cells[j] = dimStyle.Render(strings.Repeat("─", col.Width))
	}
	sb.WriteString(strings.Join(cells, " ") + "\n")

	for i, row := range t.Rows {
		style := cellStyle
		if i == t.SelIdx {
			style = StyleSelected
		}
		for j, col := range t.Columns {
			val := ""
			if j < len(row) {
				val = row[j]
			}
			cells[j] = style.Render(fit(val, col.Width, col.Right))
		}
		sb.WriteString(strings.Join(cells, " ") + "\n")
	}

	return sb.String()
}

// fit pads or truncates s to exactly width display columns. Truncated text
// ends in "…".
func fit(s string, width int, right bool) string {
	if width <= 0 {
		return ""
	}
	w := lipgloss.Width(s)
	if w > width {
		runes := []rune(s)
		for lipgloss.Width(string(runes)) > width-1 && len(runes) > 0 {
			runes = runes[:len(runes)-1]
		}
		s = string(runes) + "…"
		w = lipgloss.Width(s)
	}
	gap := strings.Repeat(" ", width-w)
	if right {
		return gap + s
	}
	return s + gap
}

// KeyValueBlock renders a set of key-value pairs in a bordered box.
func KeyValueBlock(title string, pairs [][2]string) string {
	var sb strings.Builder
	if title != "" {
		sb.WriteString(StyleTitle.Render(title))
		sb.WriteString("\n")
	}
	for _, p := range pairs {
		key := StyleMeta.Render(fmt.Sprintf("%-20s", p[0]+":"))
		sb.WriteString("  " + key + " " + StyleValue.Render(p[1]) + "\n")
	}
	return StyleBorder.Render(sb.String())
}
