// Package protocol implements the command frames of the micro:bit / Calliope
// mini partial flashing service and the DFU control reset byte.
package protocol

import (
	"errors"
	"fmt"
)

// Command is the first byte of every partial flashing frame.
type Command byte

const (
	CommandStatus Command = 0xEE
	CommandReset  Command = 0xFF
)

// Mode is the firmware mode a board reports or is reset into.
type Mode byte

const (
	// ModePairing is the Bluetooth pairing mode (the "program 5" state),
	// in which all Calliope services are exposed.
	ModePairing Mode = 0x00
	// ModeApplication means a user program is running.
	ModeApplication Mode = 0x01
)

func (m Mode) String() string {
	switch m {
	case ModePairing:
		return "pairing"
	case ModeApplication:
		return "application"
	default:
		return fmt.Sprintf("mode(0x%02x)", byte(m))
	}
}

// DFUControlReset is written to the DFU control characteristic to reboot
// the board into Bluetooth pairing mode.
const DFUControlReset byte = 0x01

// Status is the decoded answer to a status query.
type Status struct {
	Version byte
	Mode    Mode
}

// MarshalStatusRequest encodes a status query.
func MarshalStatusRequest() []byte {
	return []byte{byte(CommandStatus)}
}

// MarshalReset encodes a command that reboots the board into mode.
func MarshalReset(mode Mode) []byte {
	return []byte{byte(CommandReset), byte(mode)}
}

// MarshalStatus encodes the board's answer to a status query.
func MarshalStatus(st Status) []byte {
	return []byte{byte(CommandStatus), st.Version, byte(st.Mode)}
}

// ErrNotStatus is returned for notifications that are not status answers.
var ErrNotStatus = errors.New("protocol: not a status frame")

// UnmarshalStatus decodes a status notification:
//
//	byte 0: 0xEE
//	byte 1: partial flashing protocol version
//	byte 2: current mode
func UnmarshalStatus(data []byte) (Status, error) {
	if len(data) == 0 || Command(data[0]) != CommandStatus {
		return Status{}, ErrNotStatus
	}
	if len(data) < 3 {
		return Status{}, fmt.Errorf("protocol: status frame too short: %d bytes", len(data))
	}
	mode := Mode(data[2])
	if mode != ModePairing && mode != ModeApplication {
		return Status{}, fmt.Errorf("protocol: unknown mode 0x%02x", data[2])
	}
	return Status{Version: data[1], Mode: mode}, nil
}
