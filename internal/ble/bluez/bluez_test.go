package bluez

import (
	"testing"

	"github.com/godbus/dbus/v5"
)

func TestDeviceObjectPath(t *testing.T) {
	got := deviceObjectPath(adapterObjectPath("hci0"), "aa:bb:cc:dd:ee:ff")
	want := dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")
	if got != want {
		t.Errorf("deviceObjectPath() = %q, want %q", got, want)
	}
}

func TestAddressFromPath(t *testing.T) {
	adapter := adapterObjectPath("hci1")
	if got := addressFromPath(adapter, "/org/bluez/hci1/dev_AA_BB_CC_DD_EE_FF"); got != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("addressFromPath() = %q", got)
	}
	if got := addressFromPath(adapter, "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"); got != "" {
		t.Errorf("addressFromPath(other adapter) = %q, want empty", got)
	}
}

func propsSignal(path dbus.ObjectPath, iface string, props map[string]dbus.Variant) *dbus.Signal {
	return &dbus.Signal{
		Path: path,
		Name: propsIface + "." + propsMember,
		Body: []interface{}{iface, props, []string{}},
	}
}

func TestPoweredFromSignal(t *testing.T) {
	adapter := adapterObjectPath("hci0")

	tests := []struct {
		name        string
		sig         *dbus.Signal
		wantPowered bool
		wantChanged bool
	}{
		{
			name:        "powered on",
			sig:         propsSignal(adapter, adapterIface, map[string]dbus.Variant{"Powered": dbus.MakeVariant(true)}),
			wantPowered: true,
			wantChanged: true,
		},
		{
			name:        "powered off",
			sig:         propsSignal(adapter, adapterIface, map[string]dbus.Variant{"Powered": dbus.MakeVariant(false)}),
			wantChanged: true,
		},
		{
			name: "other property",
			sig:  propsSignal(adapter, adapterIface, map[string]dbus.Variant{"Discovering": dbus.MakeVariant(true)}),
		},
		{
			name: "device interface",
			sig:  propsSignal(adapter+"/dev_AA_BB_CC_DD_EE_FF", deviceIface, map[string]dbus.Variant{"Powered": dbus.MakeVariant(true)}),
		},
		{
			name: "other adapter",
			sig:  propsSignal(adapterObjectPath("hci1"), adapterIface, map[string]dbus.Variant{"Powered": dbus.MakeVariant(true)}),
		},
		{
			name: "nil",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			powered, changed := poweredFromSignal(tt.sig, adapter)
			if powered != tt.wantPowered || changed != tt.wantChanged {
				t.Errorf("poweredFromSignal() = (%v, %v), want (%v, %v)", powered, changed, tt.wantPowered, tt.wantChanged)
			}
		})
	}
}
