package main

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	faintStyle = lipgloss.NewStyle().Faint(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	outcomeStyles = map[string]lipgloss.Style{
		"proposed":   lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		"accepted":   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		"superseded": lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		"reversed":   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}

	episodeStyles = map[string]lipgloss.Style{
		"medication":   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		"diagnostic":   lipgloss.NewStyle().Foreground(lipgloss.Color("63")),
		"plan-change":  lipgloss.NewStyle().Foreground(lipgloss.Color("75")),
		"travel":       lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		"state-change": lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
	}
)

func outcomeBadge(outcome string) string {
	if style, ok := outcomeStyles[outcome]; ok {
		return style.Render(outcome)
	}
	return outcome
}

func episodeBadge(episodeType string) string {
	if style, ok := episodeStyles[episodeType]; ok {
		return style.Render(episodeType)
	}
	return episodeType
}
