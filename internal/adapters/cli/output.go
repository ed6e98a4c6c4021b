package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
)

// Format selects how command results are printed.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates a --format value. An empty value picks table output
// on a terminal and JSON otherwise.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	case "":
		if isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()) {
			return FormatTable, nil
		}

		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown format %q (want table, json or yaml)", s)
	}
}

// Table is the tabular rendering of a result.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Tabler is implemented by results that have a table rendering. Results
// without one print as plain text in table mode.
type Tabler interface {
	Table() Table
}

// Printer writes results in one format.
type Printer struct {
	w      io.Writer
	format Format
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer, format Format) *Printer {
	return &Printer{w: w, format: format}
}

// Print renders v. In table mode v must be a Tabler or a fmt.Stringer.
func (p *Printer) Print(v any) error {
	switch p.format {
	case FormatJSON:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")

		return enc.Encode(v)
	case FormatYAML:
		data, err := yaml.MarshalWithOptions(v, yaml.Indent(2), yaml.IndentSequence(false))
		if err != nil {
			return err
		}

		_, err = p.w.Write(data)

		return err
	}

	switch t := v.(type) {
	case Tabler:
		return p.table(t.Table())
	case fmt.Stringer:
		_, err := fmt.Fprintln(p.w, t.String())
		return err
	default:
		_, err := fmt.Fprintln(p.w, v)
		return err
	}
}

func (p *Printer) table(data Table) error {
	table := tablewriter.NewTable(p.w)

	if len(data.Headers) > 0 {
		headers := make([]any, len(data.Headers))
		for i, h := range data.Headers {
			headers[i] = h
		}

		table.Header(headers...)
	}

	for _, row := range data.Rows {
		cells := make([]any, len(row))
		for i, c := range row {
			cells[i] = c
		}

		if err := table.Append(cells...); err != nil {
			return err
		}
	}

	return table.Render()
}
