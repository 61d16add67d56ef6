package main

import (
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/born-ml/vpuc/compiler"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeader(header)
	return table
}

func dataNames(ds []*compiler.Data) string {
	names := make([]string, len(ds))
	for i, d := range ds {
		names[i] = d.Name()
	}
	return strings.Join(names, ", ")
}

// writeStageTable prints one row per stage in model order.
func writeStageTable(w io.Writer, m *compiler.Model) {
	table := newTable(w, "Stage", "Type", "Origin", "Inputs", "Outputs")
	for _, s := range m.Stages() {
		table.Append([]string{s.Name(), string(s.Type()), s.Origin(), dataNames(s.Inputs()), dataNames(s.Outputs())})
	}
	table.Render()
}

// writeLayerTable prints the lowered layers followed by the ones that were not.
func writeLayerTable(w io.Writer, report *compiler.Report) {
	table := newTable(w, "Layer", "Type", "Status", "Message")
	for _, name := range report.Supported {
		table.Append([]string{name, "", "supported", ""})
	}
	for _, d := range report.Unsupported {
		table.Append([]string{d.Layer, d.Type, d.Reason.String(), d.Message})
	}
	table.Render()
}
