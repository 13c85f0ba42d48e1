// Package bluez talks to the BlueZ daemon over the system D-Bus for the
// things tinygo's adapter does not cover: watching the radio power state
// and removing stale pairings.
package bluez

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	busName      = "org.bluez"
	adapterIface = "org.bluez.Adapter1"
	deviceIface  = "org.bluez.Device1"
	propsIface   = "org.freedesktop.DBus.Properties"
	propsMember  = "PropertiesChanged"

	// DefaultAdapter is the adapter id used when none is configured.
	DefaultAdapter = "hci0"
)

// Client wraps a system D-Bus connection for one BlueZ adapter.
type Client struct {
	conn        *dbus.Conn
	adapterPath dbus.ObjectPath
}

// New connects to the system bus and checks that BlueZ is running.
func New(adapterID string) (*Client, error) {
	if adapterID == "" {
		adapterID = DefaultAdapter
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluez: connect to system bus: %w", err)
	}

	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bluez: list bus names: %w", err)
	}
	found := false
	for _, n := range names {
		if n == busName {
			found = true
			break
		}
	}
	if !found {
		conn.Close()
		return nil, fmt.Errorf("bluez: %s not found on system bus, is bluetooth.service running?", busName)
	}
	return &Client{conn: conn, adapterPath: adapterObjectPath(adapterID)}, nil
}

// Close releases the D-Bus connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func adapterObjectPath(adapterID string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + adapterID)
}

// deviceObjectPath converts "AA:BB:CC:DD:EE:FF" to
// "<adapter>/dev_AA_BB_CC_DD_EE_FF".
func deviceObjectPath(adapter dbus.ObjectPath, addr string) dbus.ObjectPath {
	escaped := strings.ReplaceAll(strings.ToUpper(addr), ":", "_")
	return dbus.ObjectPath(string(adapter) + "/dev_" + escaped)
}

// addressFromPath extracts the MAC address from a device object path.
func addressFromPath(adapter dbus.ObjectPath, path dbus.ObjectPath) string {
	prefix := string(adapter) + "/dev_"
	s := string(path)
	if !strings.HasPrefix(s, prefix) {
		return ""
	}
	return strings.ReplaceAll(s[len(prefix):], "_", ":")
}

func (c *Client) getBool(path dbus.ObjectPath, iface, prop string) (bool, error) {
	var v dbus.Variant
	obj := c.conn.Object(busName, path)
	if err := obj.Call(propsIface+".Get", 0, iface, prop).Store(&v); err != nil {
		return false, fmt.Errorf("bluez: get %s.%s: %w", iface, prop, err)
	}
	val, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("bluez: property %s is not bool", prop)
	}
	return val, nil
}

// AdapterPowered reports whether the adapter's radio is on.
func (c *Client) AdapterPowered() (bool, error) {
	return c.getBool(c.adapterPath, adapterIface, "Powered")
}

// DevicePaired reports whether BlueZ keeps a bond for addr.
func (c *Client) DevicePaired(addr string) (bool, error) {
	return c.getBool(deviceObjectPath(c.adapterPath, addr), deviceIface, "Paired")
}

// ForgetDevice removes the device and its pairing from BlueZ. It is the
// equivalent of "forget this device" in the system Bluetooth settings.
func (c *Client) ForgetDevice(addr string) error {
	path := deviceObjectPath(c.adapterPath, addr)
	obj := c.conn.Object(busName, c.adapterPath)
	if err := obj.Call(adapterIface+".RemoveDevice", 0, path).Err; err != nil {
		return fmt.Errorf("bluez: remove device %s: %w", addr, err)
	}
	slog.Info("[BLE] removed stale pairing", "address", addr)
	return nil
}

// ResolvePairingConflict implements the connection panel's pairing resolver.
func (c *Client) ResolvePairingConflict(addr string) error {
	return c.ForgetDevice(addr)
}

// WatchRadio reports the adapter power state now and on every change until
// ctx is cancelled.
func (c *Client) WatchRadio(ctx context.Context, onChange func(powered bool)) error {
	rule := []dbus.MatchOption{
		dbus.WithMatchObjectPath(c.adapterPath),
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember(propsMember),
	}
	if err := c.conn.AddMatchSignal(rule...); err != nil {
		return fmt.Errorf("bluez: subscribe to adapter properties: %w", err)
	}
	defer func() {
		if err := c.conn.RemoveMatchSignal(rule...); err != nil {
			slog.Debug("[BLE] remove match", "error", err)
		}
	}()

	ch := make(chan *dbus.Signal, 16)
	c.conn.Signal(ch)
	defer c.conn.RemoveSignal(ch)

	powered, err := c.AdapterPowered()
	if err != nil {
		return err
	}
	onChange(powered)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-ch:
			if !ok {
				return fmt.Errorf("bluez: signal channel closed")
			}
			if p, changed := poweredFromSignal(sig, c.adapterPath); changed && p != powered {
				powered = p
				slog.Debug("[BLE] adapter power changed", "powered", powered)
				onChange(powered)
			}
		}
	}
}

// poweredFromSignal extracts the adapter's Powered property from a
// PropertiesChanged signal. changed is false for unrelated signals.
func poweredFromSignal(sig *dbus.Signal, adapter dbus.ObjectPath) (powered, changed bool) {
	if sig == nil || sig.Path != adapter || sig.Name != propsIface+"."+propsMember || len(sig.Body) < 2 {
		return false, false
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != adapterIface {
		return false, false
	}
	props, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return false, false
	}
	v, ok := props["Powered"]
	if !ok {
		return false, false
	}
	powered, ok = v.Value().(bool)
	return powered, ok
}
