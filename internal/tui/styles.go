package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/foreman/internal/pipeline"
)

var (
	// Colors - all colors meet WCAG AA contrast (4.5:1) on dark surfaces
	primaryColor = lipgloss.Color("#A78BFA") // Purple
	warningColor = lipgloss.Color("#F59E0B") // Amber
	errorColor   = lipgloss.Color("#F87171") // Red
	mutedColor   = lipgloss.Color("#9CA3AF") // Gray
	textColor    = lipgloss.Color("#F9FAFB") // Light text
	borderColor  = lipgloss.Color("#6B7280") // Gray

	statusColors = map[pipeline.Status]lipgloss.Color{
		pipeline.StatusPending:            lipgloss.Color("#9CA3AF"), // Gray
		pipeline.StatusRunning:            lipgloss.Color("#10B981"), // Green
		pipeline.StatusAwaitingEscalation: lipgloss.Color("#F59E0B"), // Amber
		pipeline.StatusCompleted:          lipgloss.Color("#A78BFA"), // Purple
		pipeline.StatusAborted:            lipgloss.Color("#F87171"), // Red
	}

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(mutedColor)

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(textColor).
			Background(lipgloss.Color("#374151"))

	detailBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor).
			Padding(0, 1)
)

// statusStyle returns the badge style for a pipeline status.
func statusStyle(s pipeline.Status) lipgloss.Style {
	color, ok := statusColors[s]
	if !ok {
		color = mutedColor
	}
	return lipgloss.NewStyle().Foreground(color).Bold(true)
}

// statusIcon is the single-cell marker shown before a status.
func statusIcon(s pipeline.Status) string {
	switch s {
	case pipeline.StatusRunning:
		return "●"
	case pipeline.StatusAwaitingEscalation:
		return "!"
	case pipeline.StatusCompleted:
		return "✓"
	case pipeline.StatusAborted:
		return "✗"
	default:
		return "○"
	}
}
