package ble

import "testing"

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"E95D93B0-251D-470A-A062-FA1922DFA9A8", DFUControlServiceUUID},
		{" e95d93b0-251d-470a-a062-fa1922dfa9a8 ", DFUControlServiceUUID},
		{"180A", "0000180a-0000-1000-8000-00805f9b34fb"},
		{"not-a-uuid", "not-a-uuid"},
	}
	for _, tt := range tests {
		if got := NormalizeUUID(tt.in); got != tt.want {
			t.Errorf("NormalizeUUID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHasService(t *testing.T) {
	services := []string{"E95DD91D-251D-470A-A062-FA1922DFA9A8", "0000180a-0000-1000-8000-00805f9b34fb"}

	if !HasService(services, LEDServiceUUID) {
		t.Error("HasService(LED) = false, want true")
	}
	if !HasService(services, "180a") {
		t.Error("HasService(180a) = false, want true")
	}
	if HasService(services, ButtonServiceUUID) {
		t.Error("HasService(Button) = true, want false")
	}
	if HasService(nil, LEDServiceUUID) {
		t.Error("HasService(nil) = true, want false")
	}
}

func TestMockConnectionDiscoversKnownServicesOnly(t *testing.T) {
	conn := newMockConnection(PartialFlashingServiceUUID)
	if _, err := conn.DiscoverCharacteristic(PartialFlashingServiceUUID, PartialFlashingCharUUID); err != nil {
		t.Errorf("DiscoverCharacteristic(partial flashing) error = %v", err)
	}
	if _, err := conn.DiscoverCharacteristic(DFUControlServiceUUID, DFUControlCharUUID); err == nil {
		t.Error("DiscoverCharacteristic(DFU control) expected error")
	}
}
