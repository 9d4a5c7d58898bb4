// Package format provides consistent CLI output across aegis commands:
// JSON for scripting, tables for humans, and colored run summaries.
package format

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
)

// OutputMode defines the output format for CLI commands.
type OutputMode string

const (
	// ModeJSON outputs data as JSON.
	ModeJSON OutputMode = "json"
	// ModeTable outputs data as an aligned text table.
	ModeTable OutputMode = "table"
)

// Formatter provides consistent output formatting across CLI commands.
type Formatter interface {
	// PrintJSON outputs data as JSON to stdout.
	PrintJSON(data any) error

	// PrintTable outputs data as an aligned table to stdout.
	PrintTable(headers []string, rows [][]string) error

	// PrintMessage outputs a plain message to stdout unless quiet mode.
	PrintMessage(message string) error

	// PrintError outputs an error to stderr, or structured JSON in JSON
	// mode, with suggestions when any apply.
	PrintError(err error, suggestions []string) error

	// PrintRunSummary renders the outcome of a workflow run.
	PrintRunSummary(summary RunSummary) error
}

type formatter struct {
	stdout io.Writer
	stderr io.Writer
	mode   OutputMode
	quiet  bool
	color  bool
}

// New creates a Formatter.
func New(stdout, stderr io.Writer, mode OutputMode, quiet, useColor bool) Formatter {
	return &formatter{
		stdout: stdout,
		stderr: stderr,
		mode:   mode,
		quiet:  quiet,
		color:  useColor,
	}
}

func (f *formatter) PrintJSON(data any) error {
	enc := json.NewEncoder(f.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func (f *formatter) PrintTable(headers []string, rows [][]string) error {
	if f.mode == ModeJSON {
		items := make([]map[string]string, 0, len(rows))
		for _, row := range rows {
			item := make(map[string]string, len(headers))
			for i, header := range headers {
				if i < len(row) {
					item[strings.ToLower(header)] = row[i]
				}
			}
			items = append(items, item)
		}
		return f.PrintJSON(items)
	}

	w := tabwriter.NewWriter(f.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}

func (f *formatter) PrintMessage(message string) error {
	if f.quiet {
		return nil
	}
	if f.mode == ModeJSON {
		return f.PrintJSON(map[string]any{"message": message})
	}
	_, err := fmt.Fprintln(f.stdout, message)
	return err
}

func (f *formatter) PrintError(err error, suggestions []string) error {
	if f.mode == ModeJSON {
		return f.PrintJSON(map[string]any{
			"success":     false,
			"error":       err.Error(),
			"suggestions": suggestions,
		})
	}

	msg := "Error: " + err.Error()
	if f.color {
		msg = color.RedString(msg)
	}
	fmt.Fprintln(f.stderr, msg)

	for _, s := range suggestions {
		fmt.Fprintln(f.stderr, "  → "+s)
	}
	return nil
}
