package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestMarshalStatusRequest(t *testing.T) {
	got := MarshalStatusRequest()
	want := []byte{0xEE}
	if !bytes.Equal(got, want) {
		t.Errorf("MarshalStatusRequest() = %x, want %x", got, want)
	}
}

func TestMarshalReset(t *testing.T) {
	tests := []struct {
		mode Mode
		want []byte
	}{
		{ModePairing, []byte{0xFF, 0x00}},
		{ModeApplication, []byte{0xFF, 0x01}},
	}
	for _, tt := range tests {
		got := MarshalReset(tt.mode)
		if !bytes.Equal(got, tt.want) {
			t.Errorf("MarshalReset(%v) = %x, want %x", tt.mode, got, tt.want)
		}
	}
}

func TestUnmarshalStatus(t *testing.T) {
	st, err := UnmarshalStatus([]byte{0xEE, 0x01, 0x01})
	if err != nil {
		t.Fatalf("UnmarshalStatus() error = %v", err)
	}
	if st.Version != 1 {
		t.Errorf("Version = %d, want 1", st.Version)
	}
	if st.Mode != ModeApplication {
		t.Errorf("Mode = %v, want %v", st.Mode, ModeApplication)
	}
}

func TestUnmarshalStatusPairingMode(t *testing.T) {
	st, err := UnmarshalStatus([]byte{0xEE, 0x02, 0x00})
	if err != nil {
		t.Fatalf("UnmarshalStatus() error = %v", err)
	}
	if st.Mode != ModePairing {
		t.Errorf("Mode = %v, want %v", st.Mode, ModePairing)
	}
}

func TestUnmarshalStatusRejectsOtherFrames(t *testing.T) {
	_, err := UnmarshalStatus([]byte{0x00, 0x01, 0x02})
	if !errors.Is(err, ErrNotStatus) {
		t.Errorf("UnmarshalStatus(region info) error = %v, want ErrNotStatus", err)
	}

	_, err = UnmarshalStatus(nil)
	if !errors.Is(err, ErrNotStatus) {
		t.Errorf("UnmarshalStatus(nil) error = %v, want ErrNotStatus", err)
	}
}

func TestUnmarshalStatusTruncated(t *testing.T) {
	if _, err := UnmarshalStatus([]byte{0xEE, 0x01}); err == nil {
		t.Error("UnmarshalStatus() should fail on a 2-byte frame")
	}
}

func TestUnmarshalStatusUnknownMode(t *testing.T) {
	if _, err := UnmarshalStatus([]byte{0xEE, 0x01, 0x07}); err == nil {
		t.Error("UnmarshalStatus() should reject an unknown mode")
	}
}

func TestModeString(t *testing.T) {
	if ModePairing.String() != "pairing" {
		t.Errorf("ModePairing.String() = %q", ModePairing.String())
	}
	if Mode(0x09).String() != "mode(0x09)" {
		t.Errorf("Mode(0x09).String() = %q", Mode(0x09).String())
	}
}

func TestMarshalStatusRoundTrip(t *testing.T) {
	want := Status{Version: 3, Mode: ModePairing}
	got, err := UnmarshalStatus(MarshalStatus(want))
	if err != nil {
		t.Fatalf("UnmarshalStatus() error = %v", err)
	}
	if got != want {
		t.Errorf("UnmarshalStatus(MarshalStatus(%+v)) = %+v", want, got)
	}
}
