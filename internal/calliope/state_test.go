package calliope

import "testing"

func TestNextDeviceState(t *testing.T) {
	tests := []struct {
		from DeviceState
		ev   deviceEvent
		want DeviceState
		ok   bool
	}{
		{DeviceDiscovered, deviceConnectStarted, DeviceConnecting, true},
		{DeviceWillReset, deviceConnectStarted, DeviceConnecting, true},
		{DeviceConnected, deviceConnectStarted, DeviceConnected, false},
		{DeviceUsageReady, deviceConnectStarted, DeviceUsageReady, false},
		{DeviceConnecting, deviceConnectSucceeded, DeviceConnected, true},
		{DeviceConnecting, deviceConnectFailed, DeviceDiscovered, true},
		{DeviceDiscovered, deviceConnectFailed, DeviceDiscovered, false},
		{DeviceConnected, deviceEvaluationStarted, DeviceEvaluateMode, true},
		{DeviceUsageReady, deviceEvaluationStarted, DeviceUsageReady, false},
		{DeviceEvaluateMode, deviceModeMatched, DeviceUsageReady, true},
		{DeviceEvaluateMode, deviceModeMismatched, DeviceWrongMode, true},
		{DeviceEvaluateMode, deviceEvaluationFailed, DeviceConnected, true},
		{DeviceConnected, deviceModeMatched, DeviceConnected, false},
		{DeviceWrongMode, deviceResetRequested, DeviceWillReset, true},
		{DeviceUsageReady, deviceResetRequested, DeviceWillReset, true},
		{DeviceConnected, deviceResetRequested, DeviceConnected, false},
		{DeviceWillReset, deviceReappeared, DeviceDiscovered, true},
		{DeviceDiscovered, deviceReappeared, DeviceDiscovered, false},
		{DeviceConnecting, deviceDisconnected, DeviceDiscovered, true},
		{DeviceEvaluateMode, deviceDisconnected, DeviceDiscovered, true},
		{DeviceUsageReady, deviceDisconnected, DeviceDiscovered, true},
		{DeviceWrongMode, deviceDisconnected, DeviceDiscovered, true},
		{DeviceWillReset, deviceDisconnected, DeviceWillReset, false},
		{DeviceDiscovered, deviceDisconnected, DeviceDiscovered, false},
	}
	for _, tt := range tests {
		got, ok := nextDeviceState(tt.from, tt.ev)
		if got != tt.want || ok != tt.ok {
			t.Errorf("nextDeviceState(%v, %v) = (%v, %v), want (%v, %v)", tt.from, tt.ev, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNextDiscoveryState(t *testing.T) {
	tests := []struct {
		from DiscoveryState
		ev   discoveryEvent
		want DiscoveryState
		ok   bool
	}{
		{DiscoveryInitialized, discoveryScanStarted, DiscoveryDiscovering, true},
		{DiscoveryDiscoveredAll, discoveryScanStarted, DiscoveryDiscovering, true},
		{DiscoveryWaitingForBluetooth, discoveryScanStarted, DiscoveryDiscovering, true},
		{DiscoveryConnected, discoveryScanStarted, DiscoveryConnected, false},
		{DiscoveryInitialized, discoveryRadioUnavailable, DiscoveryWaitingForBluetooth, true},
		{DiscoveryDiscovering, discoveryRadioUnavailable, DiscoveryWaitingForBluetooth, true},
		{DiscoveryConnecting, discoveryRadioUnavailable, DiscoveryConnecting, false},
		{DiscoveryDiscovering, discoveryDeviceFound, DiscoveryDiscovered, true},
		{DiscoveryDiscovered, discoveryDeviceFound, DiscoveryDiscovered, true},
		{DiscoveryDiscoveredAll, discoveryDeviceFound, DiscoveryDiscoveredAll, false},
		{DiscoveryDiscovering, discoveryScanWindowElapsed, DiscoveryDiscoveredAll, true},
		{DiscoveryDiscovered, discoveryScanWindowElapsed, DiscoveryDiscoveredAll, true},
		{DiscoveryDiscovering, discoveryStopRequested, DiscoveryInitialized, true},
		{DiscoveryWaitingForBluetooth, discoveryStopRequested, DiscoveryInitialized, true},
		{DiscoveryDiscovered, discoveryStopRequested, DiscoveryDiscoveredAll, true},
		{DiscoveryConnected, discoveryStopRequested, DiscoveryConnected, false},
		{DiscoveryInitialized, discoveryStopRequested, DiscoveryInitialized, false},
		{DiscoveryDiscovered, discoveryConnectRequested, DiscoveryConnecting, true},
		{DiscoveryDiscoveredAll, discoveryConnectRequested, DiscoveryConnecting, true},
		{DiscoveryWaitingForBluetooth, discoveryConnectRequested, DiscoveryWaitingForBluetooth, false},
		{DiscoveryConnecting, discoveryConnectRequested, DiscoveryConnecting, false},
		{DiscoveryConnected, discoveryConnectRequested, DiscoveryConnected, false},
		{DiscoveryConnecting, discoveryConnectSucceeded, DiscoveryConnected, true},
		{DiscoveryConnecting, discoveryConnectFailed, DiscoveryDiscoveredAll, true},
		{DiscoveryConnected, discoveryDisconnected, DiscoveryDiscoveredAll, true},
		{DiscoveryConnecting, discoveryDisconnected, DiscoveryConnecting, false},
		{DiscoveryConnected, discoveryResetDisconnect, DiscoveryDiscovering, true},
		{DiscoveryDiscoveredAll, discoveryResetDisconnect, DiscoveryDiscoveredAll, false},
	}
	for _, tt := range tests {
		got, ok := nextDiscoveryState(tt.from, tt.ev)
		if got != tt.want || ok != tt.ok {
			t.Errorf("nextDiscoveryState(%v, %v) = (%v, %v), want (%v, %v)", tt.from, tt.ev, got, ok, tt.want, tt.ok)
		}
	}
}

func TestConnectedOnlyReachableThroughConnecting(t *testing.T) {
	all := []DiscoveryState{
		DiscoveryInitialized, DiscoveryWaitingForBluetooth, DiscoveryDiscovering,
		DiscoveryDiscovered, DiscoveryDiscoveredAll, DiscoveryConnecting, DiscoveryConnected,
	}
	for _, s := range all {
		for ev := discoveryScanStarted; ev <= discoveryResetDisconnect; ev++ {
			next, ok := nextDiscoveryState(s, ev)
			if ok && next == DiscoveryConnected && (s != DiscoveryConnecting || ev != discoveryConnectSucceeded) {
				t.Errorf("nextDiscoveryState(%v, %v) reaches connected", s, ev)
			}
		}
	}
}

func TestStateStrings(t *testing.T) {
	if got := DiscoveryWaitingForBluetooth.String(); got != "discoveryWaitingForBluetooth" {
		t.Errorf("String() = %q", got)
	}
	if got := DeviceEvaluateMode.String(); got != "evaluateMode" {
		t.Errorf("String() = %q", got)
	}
	if got := DeviceState(42).String(); got != "DeviceState(42)" {
		t.Errorf("String() = %q", got)
	}
}
