// pkg/output/table.go

package output

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// TableWriter provides a fluent interface for building and displaying tables
type TableWriter struct {
	w       io.Writer
	styles  Styles
	headers []string
	rows    [][]string
}

// NewTableTo creates a new table writer that outputs to the specified writer
func NewTableTo(w io.Writer, styles Styles) *TableWriter {
	return &TableWriter{w: w, styles: styles}
}

// WithHeaders sets the column headers for the table
func (t *TableWriter) WithHeaders(headers ...string) *TableWriter {
	t.headers = headers
	return t
}

// AddRow adds a row of data to the table
func (t *TableWriter) AddRow(values ...string) *TableWriter {
	t.rows = append(t.rows, values)
	return t
}

// Render outputs the table to the writer. Cell widths are measured without
// escape sequences, so pre-coloured cells stay aligned.
func (t *TableWriter) Render() error {
	header := lipgloss.NewStyle().Bold(t.styles.color).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(t.headers...).
		Rows(t.rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})

	_, err := fmt.Fprintln(t.w, tbl.Render())
	return err
}
