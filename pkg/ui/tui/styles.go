package tui

import (
	"github.com/charmbracelet/lipgloss"

	"socialdash/pkg/models"
)

var (
	accent   = lipgloss.Color("#00C2FF")
	magenta  = lipgloss.Color("#E040FB")
	green    = lipgloss.Color("#39FF14")
	yellow   = lipgloss.Color("#FFD400")
	orange   = lipgloss.Color("#FF6700")
	red      = lipgloss.Color("#FF3B30")
	dimWhite = lipgloss.Color("#B0B0B0")

	titleStyle = lipgloss.NewStyle().
			Background(magenta).
			Foreground(lipgloss.Color("#0A0E27")).
			Bold(true).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(accent).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(dimWhite).
			Faint(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(red)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			Padding(1, 0, 0, 1)
)

// statusStyle colors a job status
func statusStyle(s models.JobStatus) lipgloss.Style {
	switch s {
	case models.StatusSucceeded:
		return lipgloss.NewStyle().Foreground(green).Bold(true)
	case models.StatusFailed:
		return lipgloss.NewStyle().Foreground(red).Bold(true)
	case models.StatusTimeout:
		return lipgloss.NewStyle().Foreground(orange).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(yellow)
	}
}
