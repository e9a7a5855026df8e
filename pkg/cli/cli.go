// Package cli provides the terminal styling shared by the voicegear
// binaries.
package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/hitony/voicegear/pkg/conversation"
)

// Theme defines the color scheme for terminal output.
type Theme struct {
	Primary lipgloss.Color // Main accent color
	Dim     lipgloss.Color // Dimmed/help text color
	Alert   lipgloss.Color // Error highlight color
}

// DefaultTheme is the default bright green theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Dim:     lipgloss.Color("#6e7681"),
	Alert:   lipgloss.Color("#ff5f5f"),
}

// Styles holds all styles derived from a theme.
type Styles struct {
	Title lipgloss.Style
	Label lipgloss.Style
	Dim   lipgloss.Style
	Alert lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title: lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Label: lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Dim:   lipgloss.NewStyle().Foreground(t.Dim),
		Alert: lipgloss.NewStyle().Bold(true).Foreground(t.Alert),
	}
}

// Banner renders a labeled key/value startup block.
func (s Styles) Banner(title string, rows [][2]string) string {
	var b strings.Builder
	b.WriteString(s.Title.Render(title))
	b.WriteByte('\n')
	width := 0
	for _, r := range rows {
		if len(r[0]) > width {
			width = len(r[0])
		}
	}
	for _, r := range rows {
		b.WriteString(s.Dim.Render(fmt.Sprintf("  %-*s  ", width, r[0])))
		b.WriteString(r[1])
		b.WriteByte('\n')
	}
	return b.String()
}

// StatusLine renders one conversation snapshot as a single line.
func (s Styles) StatusLine(snap *conversation.Session) string {
	if snap == nil {
		return s.Dim.Render("no session")
	}
	state := s.Label.Render(snap.State.String())
	if snap.State == conversation.StateError {
		state = s.Alert.Render(snap.State.String())
	}
	line := state
	if snap.ID != "" {
		line += s.Dim.Render(" session=") + snap.ID
	}
	if snap.BinDropped > 0 {
		line += s.Dim.Render(" rejected=") + fmt.Sprint(snap.BinDropped)
	}
	return line
}
