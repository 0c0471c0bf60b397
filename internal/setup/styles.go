package setup

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/yolodolo42/solsign/internal/ui"
)

var (
	borderColor = lipgloss.Color("62") // Purple

	// Box style for welcome/complete screens
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(borderColor).
			Padding(1, 2)

	TitleStyle = ui.TitleStyle

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(ui.ColorDim)

	SuccessStyle = ui.SuccessStyle

	DimStyle = lipgloss.NewStyle().
			Foreground(ui.ColorDim)

	ErrorStyle = ui.ErrorStyle

	HelpStyle = ui.HelpStyle

	SpinnerStyle = lipgloss.NewStyle().
			Foreground(ui.ColorPrimary)
)
