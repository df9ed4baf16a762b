package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
)

var (
	// https://github.com/muesli/termenv/blob/master/ansicolors.go
	red       = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	green     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	yellow    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	cyan      = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray      = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	labelText = lipgloss.NewStyle().Foreground(lipgloss.Color("248")).Width(10)
)

func printJSON(w io.Writer, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printField(w io.Writer, label string, value any) {
	fmt.Fprintf(w, "  %s %v\n", labelText.Render(label+":"), value)
}

// formatBytes renders "1.2 MiB (1,234,567 bytes)".
func formatBytes(n int64) string {
	n = max(n, 0)
	return fmt.Sprintf("%s (%s bytes)", humanize.IBytes(uint64(n)), humanize.Comma(n))
}

func formatRate(count float64, unit string, secs float64) string {
	if secs <= 0 {
		return "-"
	}
	return fmt.Sprintf("%s %s/s", humanize.CommafWithDigits(count/secs, 1), unit)
}
