package calliope

import (
	"errors"
	"fmt"

	"github.com/chaz8081/calliope-connect/internal/ble"
)

var (
	// ErrInvalidState is returned when a command is not allowed in the
	// current state of the coordinator or device.
	ErrInvalidState = errors.New("calliope: invalid state")
	// ErrUnknownDevice is returned for devices owned by another coordinator.
	ErrUnknownDevice = errors.New("calliope: device not owned by this discovery")
	// ErrRetired is returned by commands issued after GiveUpResponsibility.
	ErrRetired = errors.New("calliope: discovery gave up responsibility")
	// ErrPairingConflict matches errors of KindPairingConflict via errors.Is.
	ErrPairingConflict = errors.New("calliope: device must be removed from the system bluetooth settings")
)

// Kind classifies errors delivered to error listeners.
type Kind int

const (
	KindConnectionFailed Kind = iota
	KindPairingConflict
	KindEvaluationFailed
	KindResetFailed
	KindScanFailed
	KindAdapterFailed
)

func (k Kind) String() string {
	switch k {
	case KindConnectionFailed:
		return "connection failed"
	case KindPairingConflict:
		return "pairing conflict"
	case KindEvaluationFailed:
		return "mode evaluation failed"
	case KindResetFailed:
		return "reset failed"
	case KindScanFailed:
		return "scan failed"
	case KindAdapterFailed:
		return "adapter failed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the error type delivered to error listeners.
type Error struct {
	Kind   Kind
	Device string // friendly name, empty for coordinator level failures
	Err    error
}

func (e *Error) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("calliope: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("calliope: %s (%s): %v", e.Kind, e.Device, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrPairingConflict) match pairing conflicts.
func (e *Error) Is(target error) bool {
	return target == ErrPairingConflict && e.Kind == KindPairingConflict
}

// Recoverable reports whether the state machines recover on their own or
// with user action. Only a missing Bluetooth stack is fatal.
func (e *Error) Recoverable() bool {
	return e.Kind != KindAdapterFailed
}

// classifyConnectError wraps a failed connect attempt, recognizing the
// vendor code for a stale bond.
func classifyConnectError(device string, err error) *Error {
	kind := KindConnectionFailed
	if ble.PeripheralErrorCode(err) == ble.CodePeerRemovedPairingInformation {
		kind = KindPairingConflict
	}
	return &Error{Kind: kind, Device: device, Err: err}
}
