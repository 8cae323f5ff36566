// Package tui provides the shared palette and styles for the huddle chat TUI.
package tui

import (
	"log/slog"

	"github.com/charmbracelet/lipgloss"

	"github.com/huddle-chat/huddle/client/internal/conn"
)

// Colors.
var (
	ColorPrimary   = lipgloss.Color("#0EA5E9") // sky
	ColorSecondary = lipgloss.Color("#6366F1") // indigo
	ColorAccent    = lipgloss.Color("#F59E0B") // amber

	ColorSuccess = lipgloss.Color("#10B981") // emerald
	ColorWarning = lipgloss.Color("#F59E0B") // amber
	ColorError   = lipgloss.Color("#EF4444") // red
	ColorMuted   = lipgloss.Color("#6B7280") // gray-500
	ColorText    = lipgloss.Color("#E5E7EB") // gray-200
	ColorSubtle  = lipgloss.Color("#9CA3AF") // gray-400
	ColorAgent   = lipgloss.Color("#A78BFA") // violet-400
)

var (
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorPrimary)

	Subtitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorSecondary)

	Description = lipgloss.NewStyle().
			Foreground(ColorSubtle)

	Dimmed = lipgloss.NewStyle().
		Foreground(ColorMuted)

	Success = lipgloss.NewStyle().
		Foreground(ColorSuccess)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	// Help is the key hint bar.
	Help = lipgloss.NewStyle().
		Foreground(ColorMuted)

	// Panel is a rounded border around the transcript.
	Panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorMuted).
		Padding(0, 1)

	// Sender name styles.
	SelfName = lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true)
	OtherName = lipgloss.NewStyle().
			Foreground(ColorText).
			Bold(true)
	AgentName = lipgloss.NewStyle().
			Foreground(ColorAgent).
			Bold(true)

	// AgentNotice renders the agent's turn status line.
	AgentNotice = lipgloss.NewStyle().
			Foreground(ColorAgent).
			Italic(true)
)

// NoticeLevel is the lowest log level shown on the status line.
const NoticeLevel = slog.LevelWarn

// StatusDot returns a colored dot for a connection state.
func StatusDot(s conn.State) string {
	return dotStyle(s).Render("●")
}

// StatusText returns a colored label for a connection state.
func StatusText(s conn.State) string {
	return dotStyle(s).Render(s.String())
}

func dotStyle(s conn.State) lipgloss.Style {
	switch s {
	case conn.Connected:
		return Success
	case conn.Connecting, conn.Disconnected:
		return WarningStyle
	case conn.Failed:
		return ErrorStyle
	default:
		return Dimmed
	}
}

// LogLevelStyle returns a style for a log level.
func LogLevelStyle(level slog.Level) lipgloss.Style {
	switch {
	case level >= slog.LevelError:
		return ErrorStyle
	case level >= slog.LevelWarn:
		return WarningStyle
	case level >= slog.LevelInfo:
		return Success
	default:
		return Dimmed
	}
}
