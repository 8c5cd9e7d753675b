package main

import (
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/dan-strohschein/sqlbatch/batch"
)

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	if len(header) > 0 {
		table.SetHeader(header)
	}
	return table
}

func renderTable(w io.Writer, header []string, data [][]string) {
	table := newTable(w, header)
	table.AppendBulk(data)
	table.Render()
}

// rowCells renders the current row for display.
func rowCells(row batch.Row, n int) ([]string, error) {
	cells := make([]string, n)
	for i := range cells {
		s, err := batch.GetAt(row, i, "NULL")
		if err != nil {
			return nil, err
		}
		cells[i] = s
	}
	return cells, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
