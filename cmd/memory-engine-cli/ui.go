// Package main provides UI utilities for the memory engine CLI.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// UI provides user-friendly output utilities. In JSON mode all decorated
// output is suppressed so stdout stays machine-readable.
type UI struct {
	progress *mpb.Progress
	noColor  bool
	jsonMode bool
}

// NewUI creates a new UI instance.
func NewUI(jsonMode, noColor bool) *UI {
	var progress *mpb.Progress
	if !jsonMode {
		progress = mpb.New(mpb.WithWidth(64))
	}
	return &UI{
		progress: progress,
		noColor:  noColor,
		jsonMode: jsonMode,
	}
}

// Close shuts down the progress renderer. When output is piped the bars
// cannot render and Wait may hang, so shut down without waiting.
func (ui *UI) Close() {
	if ui.progress == nil {
		return
	}
	if isTerminal() {
		ui.progress.Wait()
	} else {
		ui.progress.Shutdown()
	}
}

// Success prints a success message.
func (ui *UI) Success(format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	if ui.noColor {
		fmt.Printf("✓ %s\n", fmt.Sprintf(format, args...))
	} else {
		color.New(color.FgGreen).Printf("✓ %s\n", fmt.Sprintf(format, args...))
	}
}

// Error prints an error message to stderr.
func (ui *UI) Error(format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	if ui.noColor {
		fmt.Fprintf(os.Stderr, "✗ %s\n", fmt.Sprintf(format, args...))
	} else {
		color.New(color.FgRed).Fprintf(os.Stderr, "✗ %s\n", fmt.Sprintf(format, args...))
	}
}

// Warning prints a warning message.
func (ui *UI) Warning(format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	if ui.noColor {
		fmt.Printf("⚠ %s\n", fmt.Sprintf(format, args...))
	} else {
		color.New(color.FgYellow).Printf("⚠ %s\n", fmt.Sprintf(format, args...))
	}
}

// Info prints an info message.
func (ui *UI) Info(format string, args ...interface{}) {
	if ui.jsonMode {
		return
	}
	if ui.noColor {
		fmt.Printf("ℹ %s\n", fmt.Sprintf(format, args...))
	} else {
		color.New(color.FgCyan).Printf("ℹ %s\n", fmt.Sprintf(format, args...))
	}
}

// ProgressBar creates a progress bar for a known item count.
func (ui *UI) ProgressBar(name string, total int64) *mpb.Bar {
	if ui.progress == nil || ui.jsonMode {
		return nil
	}

	return ui.progress.AddBar(total,
		mpb.PrependDecorators(
			decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DSyncSpaceR}),
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WC{W: 5}),
			decor.OnComplete(
				decor.Elapsed(decor.ET_STYLE_GO, decor.WC{W: 12}),
				" done",
			),
		),
	)
}

// Table prints a formatted table with padded columns.
func (ui *UI) Table(headers []string, rows [][]string) {
	if ui.jsonMode || len(headers) == 0 {
		return
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow := func(cells []string) {
		parts := make([]string, len(headers))
		for i := range headers {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
		}
		fmt.Println(strings.Join(parts, "  "))
	}

	if ui.noColor {
		printRow(headers)
	} else {
		headerParts := make([]string, len(headers))
		for i, h := range headers {
			headerParts[i] = fmt.Sprintf("%-*s", widths[i], h)
		}
		color.New(color.FgCyan, color.Bold).Println(strings.Join(headerParts, "  "))
	}

	sep := make([]string, len(headers))
	for i := range headers {
		sep[i] = strings.Repeat("-", widths[i])
	}
	fmt.Println(strings.Join(sep, "  "))

	for _, row := range rows {
		printRow(row)
	}
}

// KeyValue prints an indented key-value pair.
func (ui *UI) KeyValue(key string, value interface{}) {
	if ui.jsonMode {
		return
	}
	if ui.noColor {
		fmt.Printf("  %s: %v\n", key, value)
	} else {
		color.New(color.FgYellow).Printf("  %s: ", key)
		fmt.Printf("%v\n", value)
	}
}

// truncateText shortens text for table display.
func truncateText(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// formatTime renders a timestamp for display.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// isTerminal checks if stdout is a terminal.
func isTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
