package ui

import "github.com/charmbracelet/lipgloss"

// ANSI 256 palette. One accent color, grays for chrome.
const (
	ColorAccent   = "39"  // #00AFFF
	ColorGray     = "245" // labels
	ColorDarkGray = "238" // borders and separators
	ColorRed      = "196"
	ColorYellow   = "220"
)

// Styles holds the lipgloss styles used by the TUI and status output.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Dim     lipgloss.Style
	Active  lipgloss.Style
	Border  lipgloss.Style
	Panel   lipgloss.Style
	Speed   lipgloss.Style
	Label   lipgloss.Style
}

// DefaultStyles returns the colored styles.
func DefaultStyles() Styles {
	fg := func(c string) lipgloss.Style { return lipgloss.NewStyle().Foreground(lipgloss.Color(c)) }
	return Styles{
		Header:  fg(ColorAccent).Bold(true),
		Success: fg(ColorAccent),
		Warning: fg(ColorYellow),
		Error:   fg(ColorRed),
		Dim:     fg(ColorDarkGray),
		Active:  fg(ColorAccent).Bold(true),
		Border:  fg(ColorDarkGray),
		Panel: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(ColorDarkGray)).
			Padding(0, 1),
		Speed: fg(ColorGray),
		Label: fg(ColorGray),
	}
}

// NoColorStyles returns styles that render text unchanged.
func NoColorStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Header:  plain,
		Success: plain,
		Warning: plain,
		Error:   plain,
		Dim:     plain,
		Active:  plain,
		Border:  plain,
		Panel:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1),
		Speed:   plain,
		Label:   plain,
	}
}

// GetStyles picks the style set for the color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}
