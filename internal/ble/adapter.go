// Package ble provides the Bluetooth Low Energy transport used to talk to
// Calliope mini boards: adapter, connection and characteristic abstractions,
// the Calliope GATT UUIDs, and classification of transport errors.
package ble

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Calliope mini / micro:bit GATT UUIDs.
const (
	// DFU control service, present in every firmware that can reboot into
	// Bluetooth pairing mode.
	DFUControlServiceUUID = "e95d93b0-251d-470a-a062-fa1922dfa9a8"
	DFUControlCharUUID    = "e95d93b1-251d-470a-a062-fa1922dfa9a8"

	// Partial flashing service; its characteristic answers status queries
	// and accepts reset-into-mode commands.
	PartialFlashingServiceUUID = "e97dd91d-251d-470a-a062-fa1922dfa9a8"
	PartialFlashingCharUUID    = "e97d3b10-251d-470a-a062-fa1922dfa9a8"

	// Services exposed while the board runs the Bluetooth "playground" program.
	LEDServiceUUID           = "e95dd91d-251d-470a-a062-fa1922dfa9a8"
	ButtonServiceUUID        = "e95d9882-251d-470a-a062-fa1922dfa9a8"
	AccelerometerServiceUUID = "e95d0753-251d-470a-a062-fa1922dfa9a8"
	EventServiceUUID         = "e95d93af-251d-470a-a062-fa1922dfa9a8"
	UARTServiceUUID          = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
)

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Read returns the current value of the characteristic.
	Read() ([]byte, error)
	// Write sends data to the characteristic.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Advertisement is a single scan observation of a peripheral.
type Advertisement struct {
	Name    string
	Address string
	RSSI    int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// Services lists the UUIDs of all primary services of the peripheral.
	Services(ctx context.Context) ([]string, error)
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter. An error wrapping
	// ErrRadioUnavailable means the radio exists but is switched off.
	Enable() error
	// Scan reports every advertisement to onFound until ctx is cancelled.
	// Only one scan may run at a time.
	Scan(ctx context.Context, onFound func(Advertisement)) error
	// Connect establishes a connection to the peripheral with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}

// RadioWatcher reports radio power changes. Implementations call onChange
// with the current power state first and then on every change until ctx is
// cancelled.
type RadioWatcher interface {
	WatchRadio(ctx context.Context, onChange func(powered bool)) error
}

// HasService reports whether services contains the UUID want. Comparison is
// case-insensitive and accepts 16-bit short forms of Bluetooth SIG UUIDs.
func HasService(services []string, want string) bool {
	w := NormalizeUUID(want)
	for _, s := range services {
		if NormalizeUUID(s) == w {
			return true
		}
	}
	return false
}

// NormalizeUUID returns the canonical lower-case 128-bit form of a UUID
// string. 16-bit short UUIDs are expanded with the Bluetooth base UUID.
// Unparseable input is returned lower-cased.
func NormalizeUUID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) == 4 {
		s = "0000" + s + "-0000-1000-8000-00805f9b34fb"
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return s
	}
	return u.String()
}
