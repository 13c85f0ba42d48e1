// Package tui is the terminal front end for the connection panel: a LED
// grid to enter the pattern a Calliope mini shows, a connect button, the
// list of boards in range and any pending alert.
package tui

import (
	"fmt"
	"log/slog"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/chaz8081/calliope-connect/internal/calliope"
	"github.com/chaz8081/calliope-connect/internal/connection"
	"github.com/chaz8081/calliope-connect/internal/matrix"
)

// Panel is the part of connection.Panel the model drives.
type Panel interface {
	View() connection.View
	Expand()
	Collapse()
	SetMatrix(m matrix.Matrix)
	SelectDevice(friendly string)
	Connect()
	ResetBoard()
	ChangeProfile(sender any, profile calliope.Profile)
	DismissAlert()
}

// ViewMsg carries a new panel view into the program.
type ViewMsg connection.View

var buttonLabels = map[connection.ButtonState]string{
	connection.ButtonInitialized:         "Search for Calliope",
	connection.ButtonWaitingForBluetooth: "Turn on Bluetooth",
	connection.ButtonSearching:           "Searching...",
	connection.ButtonNotFoundRetry:       "Not found, retry",
	connection.ButtonReadyToConnect:      "Connect",
	connection.ButtonConnecting:          "Connecting...",
	connection.ButtonTestingMode:         "Checking program...",
	connection.ButtonReadyToPlay:         "Ready to play",
	connection.ButtonWrongProgram:        "Wrong program",
}

// Model is the bubbletea model for the connection panel.
type Model struct {
	panel    Panel
	profiles []calliope.Profile

	view      connection.View
	cursorRow int
	cursorCol int
	// selected indexes view.Devices, -1 when the matrix picks the board.
	selected int

	width    int
	quitting bool
}

// New creates a model showing the panel's current view. profiles are the
// profiles "p" cycles through.
func New(panel Panel, profiles ...calliope.Profile) Model {
	return Model{
		panel:     panel,
		profiles:  profiles,
		view:      panel.View(),
		cursorRow: matrix.Size / 2,
		cursorCol: matrix.Size / 2,
		selected:  -1,
	}
}

// Run starts the program on the terminal and blocks until the user quits.
func Run(panel *connection.Panel, profiles ...calliope.Profile) error {
	prog := tea.NewProgram(New(panel, profiles...), tea.WithAltScreen())
	unsubscribe := panel.Subscribe(func(v connection.View) {
		prog.Send(ViewMsg(v))
	})
	defer unsubscribe()

	if _, err := prog.Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case ViewMsg:
		m.view = connection.View(msg)
		if m.selected >= len(m.view.Devices) {
			m.selected = -1
		}
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "up", "k":
		m.cursorRow = max(m.cursorRow-1, 0)
	case "down", "j":
		m.cursorRow = min(m.cursorRow+1, matrix.Size-1)
	case "left", "h":
		m.cursorCol = max(m.cursorCol-1, 0)
	case "right", "l":
		m.cursorCol = min(m.cursorCol+1, matrix.Size-1)

	case " ":
		if !m.view.MatrixEditable {
			return m, nil
		}
		mat := m.view.Matrix
		mat.Toggle(m.cursorRow, m.cursorCol)
		m.view.Matrix = mat
		m.selected = -1
		m.panel.SetMatrix(mat)

	case "tab":
		if n := len(m.view.Devices); n > 0 && m.view.MatrixEditable {
			m.selected = (m.selected + 1) % n
			m.panel.SelectDevice(m.view.Devices[m.selected])
		}

	case "enter", "c":
		m.panel.Connect()

	case "r":
		m.panel.ResetBoard()

	case "e":
		if m.view.Expanded {
			m.view.Expanded = false
			m.panel.Collapse()
		} else {
			m.view.Expanded = true
			m.panel.Expand()
		}

	case "p":
		if next := m.nextProfile(); next != nil {
			slog.Debug("[Panel] profile selected", "profile", next.Name())
			m.panel.ChangeProfile(nil, next)
		}

	case "x", "esc":
		if m.view.Alert != nil {
			m.view.Alert = nil
			m.panel.DismissAlert()
		}
	}
	return m, nil
}

// nextProfile returns the profile after the active one, nil if there is
// nothing to switch to.
func (m Model) nextProfile() calliope.Profile {
	if len(m.profiles) < 2 {
		return nil
	}
	for i, p := range m.profiles {
		if p.Name() == m.view.Profile {
			return m.profiles[(i+1)%len(m.profiles)]
		}
	}
	return m.profiles[0]
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Calliope mini"))
	b.WriteString("  ")
	b.WriteString(m.renderIndicator())
	b.WriteString("\n\n")

	if m.view.Expanded {
		b.WriteString(m.renderStatus())
		b.WriteString("\n\n")
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			matrixBoxStyle.Render(m.renderMatrix()),
			"  ",
			m.renderDevices(),
		))
		b.WriteString("\n\n")
		b.WriteString(m.renderButton())
		b.WriteString("\n")
	}

	if a := m.view.Alert; a != nil {
		b.WriteString("\n")
		b.WriteString(alertStyle.Render(a.Title + "\n\n" + a.Message + "\n\n" + helpStyle.Render("x: dismiss")))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m Model) renderIndicator() string {
	c := m.view.Collapse
	return lipgloss.NewStyle().Foreground(collapseColor(c)).Render("● " + c.String())
}

func (m Model) renderStatus() string {
	device := "-"
	if m.view.Device != "" {
		device = m.view.Device
		if m.view.Found {
			device += " (" + m.view.DeviceState.String() + ")"
		}
	}
	rows := [][2]string{
		{"Profile", m.view.Profile},
		{"Discovery", m.view.Discovery.String()},
		{"Device", device},
	}
	if m.view.Mode != "" {
		rows = append(rows, [2]string{"Mode", m.view.Mode})
	}
	lines := make([]string, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, labelStyle.Render(fmt.Sprintf("%-10s", r[0]))+" "+valueStyle.Render(r[1]))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderMatrix() string {
	lines := make([]string, matrix.Size)
	for row := 0; row < matrix.Size; row++ {
		cells := make([]string, matrix.Size)
		for col := 0; col < matrix.Size; col++ {
			style, glyph := ledOffStyle, "·"
			if m.view.Matrix[row][col] {
				style, glyph = ledOnStyle, "●"
			}
			if m.view.MatrixEditable && row == m.cursorRow && col == m.cursorCol {
				style = style.Inherit(ledCursorStyle)
			}
			cells[col] = style.Render(glyph)
		}
		lines[row] = strings.Join(cells, " ")
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderDevices() string {
	if len(m.view.Devices) == 0 {
		return deviceStyle.Render("no boards in range")
	}
	lines := []string{labelStyle.Render("In range")}
	for _, name := range m.view.Devices {
		if name == m.view.Device {
			lines = append(lines, activeDeviceStyle.Render("> "+name))
		} else {
			lines = append(lines, deviceStyle.Render("  "+name))
		}
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderButton() string {
	fg, bg := buttonColors(m.view.Button)
	label, ok := buttonLabels[m.view.Button]
	if !ok {
		label = m.view.Button.String()
	}
	return buttonStyle.Foreground(fg).Background(bg).Render(label)
}

func (m Model) renderHelp() string {
	if !m.view.Expanded {
		return helpStyle.Render("e: expand • q: quit")
	}
	return helpStyle.Render("arrows: move • space: toggle LED • tab: next board • enter: connect • r: reset • p: profile • e: collapse • q: quit")
}
