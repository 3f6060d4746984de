package tui

import "github.com/charmbracelet/lipgloss"

var (
	accent   = lipgloss.Color("#d16ba5")
	offWhite = lipgloss.Color("#f8f7f4")
	dim      = lipgloss.Color("#7a7a7a")
	red      = lipgloss.Color("#e5484d")
	green    = lipgloss.Color("#46a758")

	statusBarStyle = lipgloss.NewStyle().
			Background(accent).
			Foreground(offWhite).
			Bold(true).
			Padding(0, 1)

	badgeStyle = lipgloss.NewStyle().
			Foreground(accent).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1)

	avatarStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 2)

	listeningStyle = avatarStyle.BorderForeground(green)

	chatStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(dim).
			Padding(0, 1)

	userStyle      = lipgloss.NewStyle().Foreground(offWhite).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(accent)
	barsStyle      = lipgloss.NewStyle().Foreground(green)
	errorStyle     = lipgloss.NewStyle().Foreground(red)
	hintStyle      = lipgloss.NewStyle().Foreground(dim)
)
