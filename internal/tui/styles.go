package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/chaz8081/calliope-connect/internal/connection"
)

// Calliope palette.
var (
	colorYellow    = lipgloss.Color("#FEC800")
	colorGreen     = lipgloss.Color("#00D266")
	colorGray      = lipgloss.Color("#4F5B68")
	colorGrayLight = lipgloss.Color("#A3A9AF")
	colorRed       = lipgloss.Color("#E5006A")
	colorBlue      = lipgloss.Color("#00C8C6")
	colorWhite     = lipgloss.Color("#FFFFFF")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorWhite).
			Background(colorGray).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().Foreground(colorGrayLight)
	valueStyle = lipgloss.NewStyle().Foreground(colorWhite)
	helpStyle  = lipgloss.NewStyle().Foreground(colorGray)

	ledOnStyle     = lipgloss.NewStyle().Foreground(colorRed)
	ledOffStyle    = lipgloss.NewStyle().Foreground(colorGray)
	ledCursorStyle = lipgloss.NewStyle().Reverse(true)

	matrixBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorGrayLight).
			Padding(0, 1)

	buttonStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 2)

	alertStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(colorRed).
			Foreground(colorWhite).
			Padding(0, 1)

	deviceStyle       = lipgloss.NewStyle().Foreground(colorGrayLight)
	activeDeviceStyle = lipgloss.NewStyle().Bold(true).Foreground(colorBlue)
)

// buttonColors returns foreground and background for a button state.
func buttonColors(b connection.ButtonState) (fg, bg lipgloss.Color) {
	switch b {
	case connection.ButtonReadyToPlay:
		return colorWhite, colorGreen
	case connection.ButtonWrongProgram, connection.ButtonNotFoundRetry:
		return colorWhite, colorRed
	case connection.ButtonConnecting, connection.ButtonTestingMode, connection.ButtonSearching:
		return colorGray, colorYellow
	case connection.ButtonReadyToConnect:
		return colorWhite, colorBlue
	default:
		return colorWhite, colorGray
	}
}

func collapseColor(c connection.CollapseState) lipgloss.Color {
	switch c {
	case connection.CollapseConnected:
		return colorGreen
	case connection.CollapseConnecting:
		return colorYellow
	default:
		return colorRed
	}
}
