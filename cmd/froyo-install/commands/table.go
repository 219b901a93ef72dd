package commands

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	cellStyle     = lipgloss.NewStyle().PaddingRight(2)
	indentedStyle = cellStyle.PaddingLeft(2)
)

// newTable returns a borderless table. With indent set the first column is
// shifted right, for tables nested under a heading.
func newTable(indent bool, headers ...string) *table.Table {
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderColumn(false).
		BorderHeader(false).
		StyleFunc(func(_, col int) lipgloss.Style {
			if indent && col == 0 {
				return indentedStyle
			}
			return cellStyle
		})
	if len(headers) > 0 {
		t.Headers(headers...)
	}
	return t
}

func renderTable(out io.Writer, t *table.Table) error {
	_, err := fmt.Fprintln(out, t.Render())
	return err
}
