package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/djh00t/steve/internal/registry"
)

// Border styles
var (
	StyleFocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62"))

	StyleUnfocusedBorder = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))
)

// Status styles
var (
	StyleStatusAssigned = lipgloss.NewStyle().
				Foreground(lipgloss.Color("yellow")).
				Bold(true)

	StyleStatusComplete = lipgloss.NewStyle().
				Foreground(lipgloss.Color("green")).
				Bold(true)

	StyleStatusFailed = lipgloss.NewStyle().
				Foreground(lipgloss.Color("red")).
				Bold(true)

	StyleStatusCancelled = lipgloss.NewStyle().
				Foreground(lipgloss.Color("magenta"))

	StyleStatusPending = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240"))
)

// UI element styles
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	StyleHelp = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// statusStyle maps a task status to its display style.
func statusStyle(s registry.Status) lipgloss.Style {
	switch s {
	case registry.StatusAssigned:
		return StyleStatusAssigned
	case registry.StatusCompleted:
		return StyleStatusComplete
	case registry.StatusFailed:
		return StyleStatusFailed
	case registry.StatusCancelled:
		return StyleStatusCancelled
	default:
		return StyleStatusPending
	}
}
