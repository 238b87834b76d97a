package tui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#C89A3A"))
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	selectStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#1E1E1E")).Background(lipgloss.Color("#C89A3A"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	goodStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#52C41A"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FAAD14"))
	footerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	panelStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
	levelOnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#52C41A"))
)

func stateStyle(state string) lipgloss.Style {
	switch state {
	case "recording":
		return errorStyle.Bold(true)
	case "paused", "processing":
		return warnStyle
	case "completed":
		return goodStyle
	default:
		return mutedStyle
	}
}

func scoreStyle(score float64) lipgloss.Style {
	switch {
	case score >= 75:
		return goodStyle
	case score >= 50:
		return warnStyle
	default:
		return errorStyle
	}
}
