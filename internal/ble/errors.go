package ble

import (
	"errors"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
)

// ErrRadioUnavailable is returned (wrapped) when the Bluetooth radio is
// switched off or not yet ready. It is transient.
var ErrRadioUnavailable = errors.New("ble: radio unavailable")

// CodePeerRemovedPairingInformation is the CoreBluetooth error code for a
// peripheral that dropped its bond while the host still keeps one. The user
// has to forget the device in the system Bluetooth settings.
const CodePeerRemovedPairingInformation = 14

// PeripheralError is a transport failure carrying the vendor error code of
// the underlying Bluetooth stack.
type PeripheralError struct {
	Code int
	Err  error
}

func (e *PeripheralError) Error() string {
	return fmt.Sprintf("ble: peripheral error %d: %v", e.Code, e.Err)
}

func (e *PeripheralError) Unwrap() error { return e.Err }

// PeripheralErrorCode returns the vendor code of the first PeripheralError
// in err's chain, or 0.
func PeripheralErrorCode(err error) int {
	var pe *PeripheralError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return 0
}

// bluezAuthErrors are the BlueZ D-Bus error names reported when a bond is
// stale on one side.
var bluezAuthErrors = map[string]bool{
	"org.bluez.Error.AuthenticationFailed":   true,
	"org.bluez.Error.AuthenticationRejected": true,
	"org.bluez.Error.AuthenticationCanceled": true,
}

// classifyError maps stack specific failures onto PeripheralError so the
// pairing conflict case is recognizable independent of the platform.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var pe *PeripheralError
	if errors.As(err, &pe) {
		return err
	}
	if bluezAuthErrors[dbusErrorName(err)] {
		return &PeripheralError{Code: CodePeerRemovedPairingInformation, Err: err}
	}
	// CoreBluetooth only surfaces the localized description through tinygo.
	if strings.Contains(strings.ToLower(err.Error()), "peer removed pairing information") {
		return &PeripheralError{Code: CodePeerRemovedPairingInformation, Err: err}
	}
	return err
}

// dbusErrorName returns the D-Bus error name in err's chain, if any.
func dbusErrorName(err error) string {
	var value dbus.Error
	if errors.As(err, &value) {
		return value.Name
	}
	var ptr *dbus.Error
	if errors.As(err, &ptr) && ptr != nil {
		return ptr.Name
	}
	return ""
}
