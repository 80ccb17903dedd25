package display

import (
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Alignment represents column alignment options
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// BorderStyle defines table border characters
type BorderStyle struct {
	Corner     string
	Horizontal string
	Vertical   string
}

var (
	ASCIIBorderStyle   = BorderStyle{Corner: "+", Horizontal: "-", Vertical: "|"}
	LineBorderStyle    = BorderStyle{Corner: "┼", Horizontal: "─", Vertical: "│"}
)

// Table renders rows as a bordered, width-limited table.
type Table struct {
	headers    []string
	rows       [][]string
	alignments map[int]Alignment
	border     BorderStyle
	maxWidth   int
	colors     *Colors
}

// NewTable creates a table limited to the terminal width.
func NewTable(colors *Colors, headers ...string) *Table {
	return &Table{
		headers:    headers,
		alignments: make(map[int]Alignment),
		border:     ASCIIBorderStyle,
		maxWidth:   getTerminalWidth(),
		colors:     colors,
	}
}

// AddRow adds a row; missing cells render empty.
func (t *Table) AddRow(cells ...string) *Table {
	t.rows = append(t.rows, cells)
	return t
}

func (t *Table) SetColumnAlignment(column int, a Alignment) *Table {
	t.alignments[column] = a
	return t
}

func (t *Table) SetBorder(b BorderStyle) *Table {
	t.border = b
	return t
}

// SetMaxWidth caps the rendered width. Zero disables the cap.
func (t *Table) SetMaxWidth(w int) *Table {
	t.maxWidth = w
	return t
}

// Render returns the table as a string.
func (t *Table) Render() string {
	widths := t.columnWidths()
	var b strings.Builder

	sep := t.separator(widths)
	b.WriteString(sep)
	b.WriteString(t.renderRow(t.headers, widths, true))
	b.WriteString(sep)
	for _, row := range t.rows {
		b.WriteString(t.renderRow(row, widths, false))
	}
	b.WriteString(sep)
	return b.String()
}

// RenderTo writes the table to w.
func (t *Table) RenderTo(w io.Writer) {
	io.WriteString(w, t.Render())
}

func (t *Table) columnWidths() []int {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if n := utf8.RuneCountInString(row[i]); n > widths[i] {
				widths[i] = n
			}
		}
	}
	if t.maxWidth <= 0 {
		return widths
	}

	// Shrink the widest column until the table fits or nothing can shrink.
	for total(widths) > t.maxWidth {
		widest := 0
		for i, w := range widths {
			if w > widths[widest] {
				widest = i
			}
		}
		if widths[widest] <= 8 {
			break
		}
		widths[widest]--
	}
	return widths
}

func total(widths []int) int {
	sum := 1
	for _, w := range widths {
		sum += w + 3
	}
	return sum
}

func (t *Table) separator(widths []int) string {
	var b strings.Builder
	b.WriteString(t.border.Corner)
	for _, w := range widths {
		b.WriteString(strings.Repeat(t.border.Horizontal, w+2))
		b.WriteString(t.border.Corner)
	}
	b.WriteString("\n")
	return b.String()
}

func (t *Table) renderRow(row []string, widths []int, header bool) string {
	var b strings.Builder
	b.WriteString(t.border.Vertical)
	for i, w := range widths {
		var cell string
		if i < len(row) {
			cell = row[i]
		}
		cell = truncate(cell, w)
		pad := strings.Repeat(" ", w-utf8.RuneCountInString(cell))
		if header {
			cell = t.colors.Paint(StyleHeading, cell)
		}
		b.WriteString(" ")
		if t.alignments[i] == AlignRight {
			b.WriteString(pad + cell)
		} else {
			b.WriteString(cell + pad)
		}
		b.WriteString(" ")
		b.WriteString(t.border.Vertical)
	}
	b.WriteString("\n")
	return b.String()
}

func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	runes := []rune(s)
	if width > 3 {
		return string(runes[:width-3]) + "..."
	}
	return string(runes[:width])
}

func getTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 120
	}
	return width
}
