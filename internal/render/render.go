// Package render formats NAS data for the terminal.
package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
)

var (
	purple = lipgloss.Color("99")
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	yellow = lipgloss.Color("214")
	dim    = lipgloss.Color("243")
	faint  = lipgloss.Color("238")
)

var (
	accentStyle  = lipgloss.NewStyle().Foreground(purple)
	successStyle = lipgloss.NewStyle().Foreground(green)
	errorStyle   = lipgloss.NewStyle().Foreground(red)
	warnStyle    = lipgloss.NewStyle().Foreground(yellow)
	mutedStyle   = lipgloss.NewStyle().Foreground(dim)
	titleStyle   = lipgloss.NewStyle().Foreground(purple).Bold(true)
)

// SuccessMsg renders a single success line.
func SuccessMsg(format string, a ...any) string {
	return successStyle.Render("✓") + " " + fmt.Sprintf(format, a...)
}

// ErrorMsg renders a single failure line.
func ErrorMsg(format string, a ...any) string {
	return errorStyle.Render("✗") + " " + fmt.Sprintf(format, a...)
}

// InfoMsg renders a single informational line.
func InfoMsg(format string, a ...any) string {
	return accentStyle.Render("●") + " " + fmt.Sprintf(format, a...)
}

type pair struct {
	key   string
	value string
}

func kv(key, value string) pair {
	return pair{key: key, value: value}
}

// keyValues renders aligned "key:  value" lines.
func keyValues(indent string, pairs ...pair) string {
	maxLen := 0
	for _, p := range pairs {
		if len(p.key) > maxLen {
			maxLen = len(p.key)
		}
	}

	var sb strings.Builder
	for _, p := range pairs {
		label := fmt.Sprintf("%-*s", maxLen+1, p.key+":")
		sb.WriteString(indent + mutedStyle.Render(label) + " " + p.value + "\n")
	}
	return sb.String()
}

// grid renders a table with rounded borders and striped rows.
func grid(headers []string, rows [][]string) string {
	headerStyle := lipgloss.NewStyle().
		Foreground(purple).
		Bold(true).
		Padding(0, 1)

	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	oddStyle := cellStyle.Foreground(dim)
	evenStyle := cellStyle

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(faint)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row%2 == 0:
				return evenStyle
			default:
				return oddStyle
			}
		}).
		Headers(headers...).
		Rows(rows...)

	return t.String()
}

// Kilobytes formats a decimal kilobyte string from the NAS API in binary
// units. Unparseable input is returned unchanged.
func Kilobytes(s string) string {
	kb, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return s
	}
	return humanize.IBytes(kb * 1024)
}

// UsedPercent returns used/total as a percentage, or -1 when either value is
// missing or total is zero.
func UsedPercent(used, total string) float64 {
	u, err := strconv.ParseFloat(strings.TrimSpace(used), 64)
	if err != nil {
		return -1
	}
	t, err := strconv.ParseFloat(strings.TrimSpace(total), 64)
	if err != nil || t == 0 {
		return -1
	}
	return u / t * 100
}
