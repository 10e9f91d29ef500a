package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/dagu-org/rangeload/internal/core"
	"github.com/dagu-org/rangeload/internal/loader"
	"github.com/dagu-org/rangeload/internal/rangesched"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
)

// Result status labels.
const (
	statusLoaded    = "loaded"
	statusDuplicate = "duplicate"
	statusFailed    = "failed"
)

// palette colors status labels and counts. The zero value prints plain text.
type palette struct {
	enabled bool
}

func (p palette) paint(s string, attr color.Attribute) string {
	if !p.enabled {
		return s
	}
	c := color.New(attr)
	c.EnableColor()
	return c.Sprint(s)
}

func (p palette) status(s string) string {
	switch s {
	case statusLoaded:
		return p.paint(s, color.FgGreen)
	case statusDuplicate:
		return p.paint(s, color.FgYellow)
	case statusFailed:
		return p.paint(s, color.FgRed)
	default:
		return s
	}
}

var instanceHeader = table.Row{
	"#",
	"Instance",
	"Identity",
}

func renderInstances(insts []core.Instance) string {
	t := table.NewWriter()
	t.AppendHeader(instanceHeader)
	for i, inst := range insts {
		t.AppendRow(table.Row{i + 1, inst.Value, inst.Identity})
	}
	return t.Render()
}

var resultHeader = table.Row{
	"Identity",
	"Status",
	"Rows",
	"Batches",
	"Duration",
	"Error",
}

func resultRow(p palette, res *loader.Result) table.Row {
	status := statusLoaded
	if res.Duplicate {
		status = statusDuplicate
	}
	return table.Row{
		res.Identity,
		p.status(status),
		res.RowsLoaded,
		res.Batches,
		res.Duration().Round(time.Millisecond),
		"",
	}
}

func renderResult(p palette, res *loader.Result) string {
	t := table.NewWriter()
	t.AppendHeader(resultHeader)
	t.AppendRow(resultRow(p, res))
	return t.Render()
}

func renderReport(p palette, report *rangesched.BackfillReport) string {
	t := table.NewWriter()
	t.AppendHeader(resultHeader)
	for _, res := range report.Loaded {
		t.AppendRow(resultRow(p, res))
	}
	for _, id := range report.Duplicates {
		t.AppendRow(table.Row{id, p.status(statusDuplicate), "", "", "", ""})
	}
	for _, err := range report.Failed {
		var instErr *rangesched.InstanceError
		if errors.As(err, &instErr) {
			t.AppendRow(table.Row{instErr.Instance.Identity, p.status(statusFailed), "", "", "", instErr.Err.Error()})
		}
	}
	// Footer cells are upper-cased by the table style, which would break
	// escape sequences, so counts stay plain.
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d missing", len(report.Missing)),
		fmt.Sprintf("%d loaded", len(report.Loaded)),
		fmt.Sprintf("%d duplicate", len(report.Duplicates)),
		fmt.Sprintf("%d failed", len(report.Failed)),
		fmt.Sprintf("%d deferred", report.Deferred),
	})
	return t.Render()
}
