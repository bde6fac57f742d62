package report

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Marker kinds of per-case status lines.
type Marker int

const (
	MarkerOK Marker = iota
	MarkerWarn
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
)

func (m Marker) label() string {
	if m == MarkerOK {
		return "[✓]"
	}
	return "[!]"
}

// StatusLine formats a per-case line such as "[✓] Saved LCTSC-S1-001".
// The marker is styled when colorize is set.
func StatusLine(m Marker, message string, colorize bool) string {
	marker := m.label()
	if colorize {
		style := okStyle
		if m == MarkerWarn {
			style = warnStyle
		}
		marker = style.Render(marker)
	}
	return fmt.Sprintf("%s %s", marker, message)
}
