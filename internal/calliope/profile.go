package calliope

import (
	"fmt"

	"github.com/chaz8081/calliope-connect/internal/ble"
	"github.com/chaz8081/calliope-connect/internal/ble/protocol"
)

// Firmware is what mode evaluation learned about a connected board.
type Firmware struct {
	Services []string
	// Status is nil when the board has no partial flashing service or did
	// not answer the status query.
	Status *protocol.Status
}

// Profile decides whether the firmware a board runs is usable for a given
// purpose. A Discovery evaluates every connected board with its profile.
type Profile interface {
	Name() string
	Accepts(fw Firmware) bool
}

// FlashableProfile accepts boards that can receive a new program over the
// air: they must expose the DFU control or the partial flashing service.
type FlashableProfile struct{}

func (FlashableProfile) Name() string { return "flashable" }

func (FlashableProfile) Accepts(fw Firmware) bool {
	return ble.HasService(fw.Services, ble.DFUControlServiceUUID) ||
		ble.HasService(fw.Services, ble.PartialFlashingServiceUUID)
}

// PlaygroundProfile accepts boards running the Bluetooth program that
// exposes LEDs, buttons, accelerometer and events. A board whose status
// reports a running user program is rejected even if it exposes them.
type PlaygroundProfile struct{}

func (PlaygroundProfile) Name() string { return "playground" }

var playgroundServices = []string{
	ble.LEDServiceUUID,
	ble.ButtonServiceUUID,
	ble.AccelerometerServiceUUID,
	ble.EventServiceUUID,
}

func (PlaygroundProfile) Accepts(fw Firmware) bool {
	for _, svc := range playgroundServices {
		if !ble.HasService(fw.Services, svc) {
			return false
		}
	}
	return fw.Status == nil || fw.Status.Mode == protocol.ModePairing
}

// ProfileByName returns the profile registered under name.
func ProfileByName(name string) (Profile, error) {
	switch name {
	case "flashable":
		return FlashableProfile{}, nil
	case "playground":
		return PlaygroundProfile{}, nil
	default:
		return nil, fmt.Errorf("calliope: unknown profile %q", name)
	}
}
