package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/calliope-connect/internal/calliope"
	"github.com/chaz8081/calliope-connect/internal/connection"
	"github.com/chaz8081/calliope-connect/internal/matrix"
)

type fakePanel struct {
	view     connection.View
	calls    []string
	matrices []matrix.Matrix
	selected []string
	profiles []string
}

func (f *fakePanel) View() connection.View { return f.view }
func (f *fakePanel) Expand()               { f.calls = append(f.calls, "expand") }
func (f *fakePanel) Collapse()             { f.calls = append(f.calls, "collapse") }
func (f *fakePanel) Connect()              { f.calls = append(f.calls, "connect") }
func (f *fakePanel) ResetBoard()           { f.calls = append(f.calls, "reset") }
func (f *fakePanel) DismissAlert()         { f.calls = append(f.calls, "dismiss") }

func (f *fakePanel) SetMatrix(m matrix.Matrix) {
	f.calls = append(f.calls, "matrix")
	f.matrices = append(f.matrices, m)
}

func (f *fakePanel) SelectDevice(friendly string) {
	f.calls = append(f.calls, "select")
	f.selected = append(f.selected, friendly)
}

func (f *fakePanel) ChangeProfile(sender any, p calliope.Profile) {
	f.calls = append(f.calls, "profile")
	f.profiles = append(f.profiles, p.Name())
}

func key(k string) tea.KeyMsg {
	switch k {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "space":
		return tea.KeyMsg{Type: tea.KeySpace}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "left":
		return tea.KeyMsg{Type: tea.KeyLeft}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
}

func apply(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	got, ok := next.(Model)
	require.True(t, ok, "Update returned %T, want Model", next)
	return got
}

func press(t *testing.T, m Model, keys ...string) Model {
	t.Helper()
	for _, k := range keys {
		m = apply(t, m, key(k))
	}
	return m
}

func editableView() connection.View {
	return connection.View{
		Expanded:       true,
		MatrixEditable: true,
		Profile:        "playground",
		Button:         connection.ButtonInitialized,
	}
}

func TestNewShowsPanelView(t *testing.T) {
	fp := &fakePanel{view: connection.View{Button: connection.ButtonSearching, Expanded: true}}
	m := New(fp)
	assert.Contains(t, m.View(), "Searching...")
}

func TestSpaceTogglesLEDUnderCursor(t *testing.T) {
	fp := &fakePanel{view: editableView()}
	m := New(fp)

	m = press(t, m, "up", "left", "space")

	require.Len(t, fp.matrices, 1)
	var want matrix.Matrix
	want[1][1] = true
	assert.Equal(t, want, fp.matrices[0])
	assert.Equal(t, want, m.view.Matrix)

	press(t, m, "space")
	require.Len(t, fp.matrices, 2)
	assert.True(t, fp.matrices[1].IsEmpty())
}

func TestCursorStaysOnGrid(t *testing.T) {
	m := New(&fakePanel{view: editableView()})
	m = press(t, m, "k", "k", "k", "k", "k", "h", "h", "h", "h")
	assert.Equal(t, 0, m.cursorRow)
	assert.Equal(t, 0, m.cursorCol)

	m = press(t, m, "j", "j", "j", "j", "j", "j", "l", "l", "l", "l", "l", "l")
	assert.Equal(t, matrix.Size-1, m.cursorRow)
	assert.Equal(t, matrix.Size-1, m.cursorCol)
}

func TestMatrixLockedWhileConnecting(t *testing.T) {
	v := editableView()
	v.MatrixEditable = false
	v.Button = connection.ButtonConnecting
	fp := &fakePanel{view: v}

	press(t, New(fp), "space", "tab")
	assert.Empty(t, fp.calls)
}

func TestButtons(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"enter", "connect"},
		{"c", "connect"},
		{"r", "reset"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			fp := &fakePanel{view: editableView()}
			press(t, New(fp), tt.key)
			assert.Equal(t, []string{tt.want}, fp.calls)
		})
	}
}

func TestExpandToggles(t *testing.T) {
	fp := &fakePanel{}
	m := New(fp)
	assert.Contains(t, m.View(), "e: expand")

	m = press(t, m, "e")
	assert.True(t, m.view.Expanded)
	m = press(t, m, "e")
	assert.False(t, m.view.Expanded)
	assert.Equal(t, []string{"expand", "collapse"}, fp.calls)
}

func TestTabCyclesDevices(t *testing.T) {
	v := editableView()
	v.Devices = []string{"abc", "zuzut"}
	fp := &fakePanel{view: v}

	press(t, New(fp), "tab", "tab", "tab")
	assert.Equal(t, []string{"abc", "zuzut", "abc"}, fp.selected)
}

func TestViewMsgResetsStaleSelection(t *testing.T) {
	v := editableView()
	v.Devices = []string{"abc", "zuzut"}
	m := New(&fakePanel{view: v})
	m = press(t, m, "tab", "tab")
	require.Equal(t, 1, m.selected)

	v.Devices = []string{"abc"}
	m = apply(t, m, ViewMsg(v))
	assert.Equal(t, -1, m.selected)
}

func TestProfileCycles(t *testing.T) {
	fp := &fakePanel{view: editableView()}
	m := New(fp, calliope.PlaygroundProfile{}, calliope.FlashableProfile{})

	press(t, m, "p")
	assert.Equal(t, []string{"flashable"}, fp.profiles)

	m = apply(t, m, ViewMsg(connection.View{Profile: "flashable"}))
	press(t, m, "p")
	assert.Equal(t, []string{"flashable", "playground"}, fp.profiles)
}

func TestProfileNeedsAlternative(t *testing.T) {
	fp := &fakePanel{view: editableView()}
	press(t, New(fp, calliope.PlaygroundProfile{}), "p")
	assert.Empty(t, fp.profiles)
}

func TestAlertDismiss(t *testing.T) {
	v := editableView()
	v.Alert = &connection.Alert{Title: "Remove paired device", Message: "ignore it", PairingConflict: true}
	fp := &fakePanel{view: v}
	m := New(fp)
	assert.Contains(t, m.View(), "Remove paired device")

	m = press(t, m, "esc")
	assert.Nil(t, m.view.Alert)
	assert.NotContains(t, m.View(), "Remove paired device")

	press(t, m, "x")
	assert.Equal(t, []string{"dismiss"}, fp.calls, "dismiss only while an alert is shown")
}

func TestViewRendersState(t *testing.T) {
	mat, err := matrix.FromFriendly("zuzut")
	require.NoError(t, err)

	v := connection.View{
		Expanded:    true,
		Button:      connection.ButtonReadyToPlay,
		Collapse:    connection.CollapseConnected,
		Matrix:      mat,
		Profile:     "playground",
		Discovery:   calliope.DiscoveryConnected,
		Device:      "zuzut",
		Found:       true,
		DeviceState: calliope.DeviceUsageReady,
		Mode:        "pairing",
		Devices:     []string{"zuzut"},
	}
	m := apply(t, New(&fakePanel{}), ViewMsg(v))
	out := m.View()

	assert.Contains(t, out, "Ready to play")
	assert.Contains(t, out, "connected")
	assert.Contains(t, out, "zuzut (usageReady)")
	assert.Contains(t, out, "> zuzut")
	assert.Contains(t, out, "playground")
	assert.Contains(t, out, "pairing")
}

func TestQuit(t *testing.T) {
	m := New(&fakePanel{})
	next, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Empty(t, next.View())
}
