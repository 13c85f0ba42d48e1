package connection

import (
	"fmt"

	"github.com/chaz8081/calliope-connect/internal/calliope"
	"github.com/chaz8081/calliope-connect/internal/matrix"
)

// ButtonState is what the connect button shows.
type ButtonState int

const (
	ButtonInitialized ButtonState = iota
	ButtonWaitingForBluetooth
	ButtonSearching
	ButtonNotFoundRetry
	ButtonReadyToConnect
	ButtonConnecting
	ButtonTestingMode
	ButtonReadyToPlay
	ButtonWrongProgram
)

var buttonNames = [...]string{
	ButtonInitialized:         "initialized",
	ButtonWaitingForBluetooth: "waitingForBluetooth",
	ButtonSearching:           "searching",
	ButtonNotFoundRetry:       "notFoundRetry",
	ButtonReadyToConnect:      "readyToConnect",
	ButtonConnecting:          "connecting",
	ButtonTestingMode:         "testingMode",
	ButtonReadyToPlay:         "readyToPlay",
	ButtonWrongProgram:        "wrongProgram",
}

func (b ButtonState) String() string {
	if b >= 0 && int(b) < len(buttonNames) {
		return buttonNames[b]
	}
	return fmt.Sprintf("ButtonState(%d)", int(b))
}

// CollapseState is what the collapsed panel indicator shows.
type CollapseState int

const (
	CollapseDisconnected CollapseState = iota
	CollapseConnecting
	CollapseConnected
)

func (c CollapseState) String() string {
	switch c {
	case CollapseDisconnected:
		return "disconnected"
	case CollapseConnecting:
		return "connecting"
	case CollapseConnected:
		return "connected"
	default:
		return fmt.Sprintf("CollapseState(%d)", int(c))
	}
}

// Alert is an error message waiting to be dismissed.
type Alert struct {
	Title   string
	Message string
	// PairingConflict is set when the host must forget the board first.
	PairingConflict bool
}

const (
	pairingConflictTitle   = "Remove paired device"
	pairingConflictMessage = "This Calliope can not be connected until you go to the bluetooth settings of your device and \"ignore\" it."
	pairingRemovedMessage  = "The stale pairing was removed. Try connecting again."
	errorTitle             = "Error"
	errorMessage           = "Encountered an error discovering or connecting calliope:"
)

// View is a snapshot of everything a front end renders.
type View struct {
	Button         ButtonState
	Collapse       CollapseState
	Matrix         matrix.Matrix
	MatrixEditable bool
	Expanded       bool

	Profile   string
	Discovery calliope.DiscoveryState
	// Device is the friendly name the panel connects to, empty if the
	// matrix does not spell one.
	Device string
	// DeviceState is only meaningful when Found is set.
	DeviceState calliope.DeviceState
	Found       bool
	// Mode is the firmware mode the evaluated board reported, empty if
	// unknown.
	Mode string
	// Devices lists the friendly names discovered so far, sorted.
	Devices []string

	Alert *Alert
}

// reconnectPhase tracks the automatic reconnect after a board reset.
type reconnectPhase int

const (
	reconnectIdle reconnectPhase = iota
	// reconnectPending: the board is resetting, reconnect when it is back.
	reconnectPending
	// reconnectReconnecting: the reconnect is scheduled or running.
	reconnectReconnecting
)

func (p reconnectPhase) String() string {
	switch p {
	case reconnectIdle:
		return "idle"
	case reconnectPending:
		return "pending"
	case reconnectReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("reconnectPhase(%d)", int(p))
	}
}

// nextReconnectPhase advances the reconnect phase on a device notification.
// connect is true exactly when a reconnect has to be scheduled.
func nextReconnectPhase(phase reconnectPhase, s calliope.DeviceState) (next reconnectPhase, connect bool) {
	switch s {
	case calliope.DeviceWillReset:
		return reconnectPending, false
	case calliope.DeviceDiscovered:
		if phase == reconnectPending {
			return reconnectReconnecting, true
		}
	case calliope.DeviceConnected:
		return reconnectIdle, false
	}
	return phase, false
}

// deviceView fills the button, collapse indicator and matrix editability
// for a device matching the matrix.
func deviceView(v *View, s calliope.DeviceState, phase reconnectPhase) {
	switch s {
	case calliope.DeviceWrongMode, calliope.DeviceDiscovered:
		if phase != reconnectIdle {
			v.Collapse = CollapseConnecting
		} else {
			v.Collapse = CollapseDisconnected
		}
	case calliope.DeviceUsageReady:
		v.Collapse = CollapseConnected
	default:
		v.Collapse = CollapseConnecting
	}

	switch s {
	case calliope.DeviceDiscovered:
		v.MatrixEditable = phase == reconnectIdle
		if phase == reconnectIdle {
			v.Button = ButtonReadyToConnect
		} else {
			v.Button = ButtonTestingMode
		}
	case calliope.DeviceConnecting:
		v.MatrixEditable = false
		v.Button = ButtonConnecting
	case calliope.DeviceConnected, calliope.DeviceEvaluateMode, calliope.DeviceWillReset:
		v.MatrixEditable = false
		v.Button = ButtonTestingMode
	case calliope.DeviceUsageReady:
		v.MatrixEditable = true
		v.Button = ButtonReadyToPlay
	case calliope.DeviceWrongMode:
		v.MatrixEditable = true
		v.Button = ButtonWrongProgram
	}
}
