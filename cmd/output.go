package cmd

import (
	"io"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

var (
	headerStyle  = color.New(color.Bold, color.FgCyan)
	successStyle = color.New(color.FgGreen)
	warningStyle = color.New(color.FgYellow)
	errorStyle   = color.New(color.FgRed)
	pathStyle    = color.New(color.FgHiGreen)
)

// printTable renders rows with left-aligned, single-space padded cells.
func printTable(w io.Writer, headers []string, rows [][]string) error {
	table := tablewriter.NewTable(w)
	table.Configure(func(c *tablewriter.Config) {
		c.Header.Alignment.Global = tw.AlignLeft
		c.Row.Alignment.Global = tw.AlignLeft
		c.Header.Padding.Global = tw.Padding{Left: " ", Right: " "}
		c.Row.Padding.Global = tw.Padding{Left: " ", Right: " "}
	})
	table.Header(headers)
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}
