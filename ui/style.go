package ui

import (
	"github.com/charmbracelet/lipgloss"
)

const (
	ColorSuccess = "#22c55e"
	ColorFailure = "#ef4444"
	ColorWarning = "#eab308"
)

// Colorize applies the given color to the text using lipgloss.
// color is a "#rrggbb" string, as stored on profiles. An empty color leaves
// the text unstyled.
func Colorize(text string, color string) string {
	if color == "" {
		return text
	}

	style := lipgloss.NewStyle().Foreground(lipgloss.Color(color))

	return style.Render(text)
}

func Success(text string) string { return Colorize(text, ColorSuccess) }
func Failure(text string) string { return Colorize(text, ColorFailure) }
func Warning(text string) string { return Colorize(text, ColorWarning) }
