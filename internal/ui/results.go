package ui

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/framescope/framescope/internal/frame"
	"github.com/framescope/framescope/pkg/searcher"
)

// ResultTable renders a page of search results.
type ResultTable struct {
	out    io.Writer
	styles Styles
}

// NewResultTable creates a table renderer.
func NewResultTable(out io.Writer, noColor bool) *ResultTable {
	return &ResultTable{out: out, styles: GetStyles(noColor)}
}

// Render prints one row per frame followed by a paging footer. Selected
// frames are marked with *.
func (t *ResultTable) Render(res *searcher.SearchResult) error {
	if len(res.Frames) == 0 {
		_, err := fmt.Fprintln(t.out, t.styles.Dim.Render("No frames found."))
		return err
	}

	offset := (res.Page - 1) * res.PerPage
	rows := make([][]string, 0, len(res.Frames))
	for i, f := range res.Frames {
		mark := ""
		if f.Selected {
			mark = "*"
		}
		rows = append(rows, []string{
			strconv.Itoa(offset + i + 1),
			mark,
			f.Key,
			fmt.Sprintf("%.4f", f.FinalScore),
			details(f),
			f.Keyframe.FramePath,
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(t.styles.Border).
		Headers("#", "", "FRAME", "SCORE", "MODALITIES", "PATH").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return t.styles.Header.Padding(0, 1)
			case col == 1:
				return t.styles.Selected.Padding(0, 1)
			case col == 3:
				return t.styles.Score.Padding(0, 1)
			case col == 4:
				return t.styles.Label.Padding(0, 1)
			default:
				return lipgloss.NewStyle().Padding(0, 1)
			}
		})

	if _, err := fmt.Fprintln(t.out, tbl.Render()); err != nil {
		return err
	}
	footer := fmt.Sprintf("page %d • %d per page • %d candidates", res.Page, res.PerPage, res.Total)
	if res.HasMore {
		footer += " • more available"
	}
	_, err := fmt.Fprintln(t.out, t.styles.Dim.Render(footer))
	return err
}

// details lists "modality=raw" for each modality that scored the frame.
func details(f *frame.Frame) string {
	var parts []string
	for _, m := range frame.Modalities() {
		if c, ok := f.Score.Details[m]; ok {
			parts = append(parts, fmt.Sprintf("%s=%.3f", m, c.Score))
		}
	}
	return strings.Join(parts, " ")
}
