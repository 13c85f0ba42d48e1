package calliope

import "fmt"

// DeviceState is the lifecycle state of a single board.
type DeviceState int

const (
	DeviceDiscovered DeviceState = iota
	DeviceConnecting
	DeviceConnected
	DeviceEvaluateMode
	DeviceUsageReady
	DeviceWrongMode
	DeviceWillReset
)

var deviceStateNames = [...]string{
	DeviceDiscovered:   "discovered",
	DeviceConnecting:   "connecting",
	DeviceConnected:    "connected",
	DeviceEvaluateMode: "evaluateMode",
	DeviceUsageReady:   "usageReady",
	DeviceWrongMode:    "wrongMode",
	DeviceWillReset:    "willReset",
}

func (s DeviceState) String() string {
	if s >= 0 && int(s) < len(deviceStateNames) {
		return deviceStateNames[s]
	}
	return fmt.Sprintf("DeviceState(%d)", int(s))
}

// Connectable reports whether a connect may be started from s.
func (s DeviceState) Connectable() bool {
	return s == DeviceDiscovered || s == DeviceWillReset
}

type deviceEvent int

const (
	deviceConnectStarted deviceEvent = iota
	deviceConnectSucceeded
	deviceConnectFailed
	deviceEvaluationStarted
	deviceModeMatched
	deviceModeMismatched
	deviceEvaluationFailed
	deviceResetRequested
	deviceReappeared
	deviceDisconnected
)

var deviceEventNames = [...]string{
	deviceConnectStarted:    "connectStarted",
	deviceConnectSucceeded:  "connectSucceeded",
	deviceConnectFailed:     "connectFailed",
	deviceEvaluationStarted: "evaluationStarted",
	deviceModeMatched:       "modeMatched",
	deviceModeMismatched:    "modeMismatched",
	deviceEvaluationFailed:  "evaluationFailed",
	deviceResetRequested:    "resetRequested",
	deviceReappeared:        "reappeared",
	deviceDisconnected:      "disconnected",
}

func (e deviceEvent) String() string {
	if e >= 0 && int(e) < len(deviceEventNames) {
		return deviceEventNames[e]
	}
	return fmt.Sprintf("deviceEvent(%d)", int(e))
}

// nextDeviceState is the device transition table. ok is false when ev is
// not accepted in s.
func nextDeviceState(s DeviceState, ev deviceEvent) (next DeviceState, ok bool) {
	switch ev {
	case deviceConnectStarted:
		if s.Connectable() {
			return DeviceConnecting, true
		}
	case deviceConnectSucceeded:
		if s == DeviceConnecting {
			return DeviceConnected, true
		}
	case deviceConnectFailed:
		if s == DeviceConnecting {
			return DeviceDiscovered, true
		}
	case deviceEvaluationStarted:
		if s == DeviceConnected {
			return DeviceEvaluateMode, true
		}
	case deviceModeMatched:
		if s == DeviceEvaluateMode {
			return DeviceUsageReady, true
		}
	case deviceModeMismatched:
		if s == DeviceEvaluateMode {
			return DeviceWrongMode, true
		}
	case deviceEvaluationFailed:
		if s == DeviceEvaluateMode {
			return DeviceConnected, true
		}
	case deviceResetRequested:
		if s == DeviceWrongMode || s == DeviceUsageReady {
			return DeviceWillReset, true
		}
	case deviceReappeared:
		if s == DeviceWillReset {
			return DeviceDiscovered, true
		}
	case deviceDisconnected:
		switch s {
		case DeviceConnecting, DeviceConnected, DeviceEvaluateMode, DeviceUsageReady, DeviceWrongMode:
			return DeviceDiscovered, true
		}
	}
	return s, false
}

// DiscoveryState is the lifecycle state of the discovery coordinator.
type DiscoveryState int

const (
	DiscoveryInitialized DiscoveryState = iota
	DiscoveryWaitingForBluetooth
	DiscoveryDiscovering
	DiscoveryDiscovered
	DiscoveryDiscoveredAll
	DiscoveryConnecting
	DiscoveryConnected
)

var discoveryStateNames = [...]string{
	DiscoveryInitialized:         "initialized",
	DiscoveryWaitingForBluetooth: "discoveryWaitingForBluetooth",
	DiscoveryDiscovering:         "discovering",
	DiscoveryDiscovered:          "discovered",
	DiscoveryDiscoveredAll:       "discoveredAll",
	DiscoveryConnecting:          "connecting",
	DiscoveryConnected:           "connected",
}

func (s DiscoveryState) String() string {
	if s >= 0 && int(s) < len(discoveryStateNames) {
		return discoveryStateNames[s]
	}
	return fmt.Sprintf("DiscoveryState(%d)", int(s))
}

// Scanning reports whether a scan (or the wait for the radio) is running.
func (s DiscoveryState) Scanning() bool {
	return s == DiscoveryWaitingForBluetooth || s == DiscoveryDiscovering || s == DiscoveryDiscovered
}

type discoveryEvent int

const (
	discoveryScanStarted discoveryEvent = iota
	discoveryRadioUnavailable
	discoveryDeviceFound
	discoveryScanWindowElapsed
	discoveryStopRequested
	discoveryConnectRequested
	discoveryConnectSucceeded
	discoveryConnectFailed
	discoveryDisconnected
	discoveryResetDisconnect
)

var discoveryEventNames = [...]string{
	discoveryScanStarted:       "scanStarted",
	discoveryRadioUnavailable:  "radioUnavailable",
	discoveryDeviceFound:       "deviceFound",
	discoveryScanWindowElapsed: "scanWindowElapsed",
	discoveryStopRequested:     "stopRequested",
	discoveryConnectRequested:  "connectRequested",
	discoveryConnectSucceeded:  "connectSucceeded",
	discoveryConnectFailed:     "connectFailed",
	discoveryDisconnected:      "disconnected",
	discoveryResetDisconnect:   "resetDisconnect",
}

func (e discoveryEvent) String() string {
	if e >= 0 && int(e) < len(discoveryEventNames) {
		return discoveryEventNames[e]
	}
	return fmt.Sprintf("discoveryEvent(%d)", int(e))
}

// nextDiscoveryState is the coordinator transition table. ok is false when
// ev is not accepted in s.
func nextDiscoveryState(s DiscoveryState, ev discoveryEvent) (next DiscoveryState, ok bool) {
	switch ev {
	case discoveryScanStarted:
		switch s {
		case DiscoveryInitialized, DiscoveryDiscoveredAll, DiscoveryWaitingForBluetooth:
			return DiscoveryDiscovering, true
		}
	case discoveryRadioUnavailable:
		switch s {
		case DiscoveryInitialized, DiscoveryDiscoveredAll, DiscoveryDiscovering, DiscoveryDiscovered:
			return DiscoveryWaitingForBluetooth, true
		}
	case discoveryDeviceFound:
		if s == DiscoveryDiscovering || s == DiscoveryDiscovered {
			return DiscoveryDiscovered, true
		}
	case discoveryScanWindowElapsed:
		if s == DiscoveryDiscovering || s == DiscoveryDiscovered {
			return DiscoveryDiscoveredAll, true
		}
	case discoveryStopRequested:
		switch s {
		case DiscoveryDiscovering, DiscoveryWaitingForBluetooth:
			return DiscoveryInitialized, true
		case DiscoveryDiscovered:
			return DiscoveryDiscoveredAll, true
		}
	case discoveryConnectRequested:
		switch s {
		case DiscoveryInitialized, DiscoveryDiscovering, DiscoveryDiscovered, DiscoveryDiscoveredAll:
			return DiscoveryConnecting, true
		}
	case discoveryConnectSucceeded:
		if s == DiscoveryConnecting {
			return DiscoveryConnected, true
		}
	case discoveryConnectFailed:
		if s == DiscoveryConnecting {
			return DiscoveryDiscoveredAll, true
		}
	case discoveryDisconnected:
		if s == DiscoveryConnected {
			return DiscoveryDiscoveredAll, true
		}
	case discoveryResetDisconnect:
		if s == DiscoveryConnected {
			return DiscoveryDiscovering, true
		}
	}
	return s, false
}
