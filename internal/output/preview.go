package output

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/jmylchreest/chatcrawler/pkg/tabular"
)

// PreviewOptions controls the terminal rendering of a table.
type PreviewOptions struct {
	// MaxRows limits rendered rows; zero renders all of them.
	MaxRows int
	// MaxCellWidth wraps cells wider than this; zero disables wrapping.
	MaxCellWidth int
}

// DefaultPreviewOptions returns the preview settings used by the CLI.
func DefaultPreviewOptions() PreviewOptions {
	return PreviewOptions{MaxRows: 20, MaxCellWidth: 40}
}

// Preview renders t as a rounded box table. A table without headers renders
// a single notice line.
func Preview(w io.Writer, t tabular.Table, opts PreviewOptions) error {
	if len(t.Headers) == 0 {
		_, err := fmt.Fprintln(w, "(no tabular output)")
		return err
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.SetOutputMirror(w)

	header := make(table.Row, len(t.Headers))
	for i, h := range t.Headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	if opts.MaxCellWidth > 0 {
		configs := make([]table.ColumnConfig, len(t.Headers))
		for i := range t.Headers {
			configs[i] = table.ColumnConfig{
				Number:           i + 1,
				WidthMax:         opts.MaxCellWidth,
				WidthMaxEnforcer: text.WrapSoft,
			}
		}
		tw.SetColumnConfigs(configs)
	}

	rows := t.Rows
	if opts.MaxRows > 0 && len(rows) > opts.MaxRows {
		rows = rows[:opts.MaxRows]
	}
	for _, r := range rows {
		row := make(table.Row, len(r))
		for i, cell := range r {
			row[i] = cell
		}
		tw.AppendRow(row)
	}

	if hidden := len(t.Rows) - len(rows); hidden > 0 {
		tw.AppendFooter(table.Row{fmt.Sprintf("… %d more rows", hidden)})
	} else {
		tw.SetCaption("%d rows", len(t.Rows))
	}

	tw.Render()
	return nil
}
