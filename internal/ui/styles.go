package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	ColorPrimary   = lipgloss.Color("135") // Purple
	ColorSuccess   = lipgloss.Color("35")  // Green
	ColorWarning   = lipgloss.Color("214") // Gold/yellow
	ColorError     = lipgloss.Color("196") // Red
	ColorDim       = lipgloss.Color("241") // Gray
	ColorAccent    = lipgloss.Color("43")  // Teal
	ColorHighlight = lipgloss.Color("183") // Light purple
)

const (
	SymbolPrompt = "❯"
	SymbolBullet = "●"
	SymbolArrow  = "▸"
	SymbolCheck  = "✓"
	SymbolCross  = "✗"
	SymbolKey    = "⚿"
)

var (
	PromptStyle = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true)

	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorDim).
			Width(12)

	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	KeyStyle = lipgloss.NewStyle().
			Foreground(ColorHighlight).
			Bold(true)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorError)

	SelectorCursor = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true)

	SelectorItemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	SelectorDim = lipgloss.NewStyle().
			Foreground(ColorDim)

	SelectorActive = lipgloss.NewStyle().
			Foreground(ColorHighlight).
			Bold(true)

	TitleStyle = lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true)

	HelpStyle = lipgloss.NewStyle().
			Foreground(ColorDim)
)

// Field renders one "label  value" line of command output.
func Field(label, value string) string {
	return LabelStyle.Render(label) + " " + ValueStyle.Render(value)
}

// Success renders a check-marked line.
func Success(format string, args ...any) string {
	return SuccessStyle.Render(SymbolCheck + " " + fmt.Sprintf(format, args...))
}

// Failure renders a crossed line.
func Failure(format string, args ...any) string {
	return ErrorStyle.Render(SymbolCross + " " + fmt.Sprintf(format, args...))
}
