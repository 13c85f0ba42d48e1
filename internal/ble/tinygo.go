package ble

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"
)

// readBufferSize bounds a single characteristic read (max ATT value length).
const readBufferSize = 512

// TinyGoAdapter wraps tinygo-org/bluetooth (CoreBluetooth on macOS, BlueZ on
// Linux). On macOS peripheral addresses are CoreBluetooth UUIDs rather than
// MAC addresses; callers treat both as opaque strings.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*tinyGoConnection // keyed by peripheral address
	enabled     bool
}

// NewTinyGoAdapter creates a BLE adapter on the platform default radio.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*tinyGoConnection),
	}
}

func (a *TinyGoAdapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enabled {
		return nil
	}

	if err := a.adapter.Enable(); err != nil {
		if isPoweredOff(err) {
			return fmt.Errorf("%w: %v", ErrRadioUnavailable, err)
		}
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	// tinygo fires this adapter-level handler (connected=false) when a
	// peripheral drops; route it to the matching connection.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[id]
		delete(a.connections, id)
		a.mu.Unlock()
		if ok {
			conn.fireDisconnect()
		}
	})

	a.enabled = true
	return nil
}

// isPoweredOff reports whether an Enable failure means the radio is merely
// switched off, which the discovery layer waits out.
func isPoweredOff(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "powered off") ||
		strings.Contains(msg, "poweredoff") ||
		strings.Contains(msg, "not powered") ||
		strings.Contains(msg, "not ready")
}

func (a *TinyGoAdapter) Scan(ctx context.Context, onFound func(Advertisement)) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if err := a.adapter.StopScan(); err != nil {
				slog.Debug("[BLE] stop scan", "error", err)
			}
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if ctx.Err() != nil {
			return
		}
		onFound(Advertisement{
			Name:    result.LocalName(),
			Address: result.Address.String(),
			RSSI:    int(result.RSSI),
		})
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		if isPoweredOff(err) {
			return fmt.Errorf("%w: %v", ErrRadioUnavailable, err)
		}
		return fmt.Errorf("ble: scan: %w", classifyError(err))
	}
	return nil
}

func (a *TinyGoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(address)

	// tinygo's Connect blocks with its own timeout; ctx only bounds our wait.
	device, err := awaitConnect(ctx, func() (bluetooth.Device, error) {
		return a.adapter.Connect(addr, bluetooth.ConnectionParams{})
	}, func(device bluetooth.Device) {
		slog.Info("[BLE] dropping connection that completed after the wait ended", "address", address)
		if err := device.Disconnect(); err != nil {
			slog.Debug("[BLE] disconnect", "address", address, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("ble: connect to %s: %w", address, classifyError(err))
	}

	conn := &tinyGoConnection{device: device}
	a.mu.Lock()
	a.connections[device.Address.String()] = conn
	a.mu.Unlock()
	return conn, nil
}

// awaitConnect runs connect in the background and waits for it or ctx. A
// connect that still succeeds after ctx is done is handed to drop: a linked
// board stops advertising and could not be found again.
func awaitConnect[T any](ctx context.Context, connect func() (T, error), drop func(T)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := connect()
		ch <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				drop(r.v)
			}
		}()
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoConnection struct {
	device bluetooth.Device

	mu           sync.Mutex
	disconnectCb func()
	services     []bluetooth.DeviceService
}

func (c *tinyGoConnection) discoverServices() ([]bluetooth.DeviceService, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.services != nil {
		return c.services, nil
	}
	svcs, err := c.device.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", classifyError(err))
	}
	c.services = svcs
	return svcs, nil
}

func (c *tinyGoConnection) Services(ctx context.Context) ([]string, error) {
	type result struct {
		svcs []bluetooth.DeviceService
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		svcs, err := c.discoverServices()
		ch <- result{svcs, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("ble: discover services: %w", ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		uuids := make([]string, 0, len(r.svcs))
		for _, s := range r.svcs {
			uuids = append(uuids, s.UUID().String())
		}
		return uuids, nil
	}
}

func (c *tinyGoConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	charUUIDParsed, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}

	svcs, err := c.discoverServices()
	if err != nil {
		return nil, err
	}
	for _, svc := range svcs {
		if svc.UUID() != svcUUID {
			continue
		}
		chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{charUUIDParsed})
		if err != nil {
			return nil, fmt.Errorf("ble: discover characteristics: %w", classifyError(err))
		}
		if len(chars) == 0 {
			return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
		}
		return &tinyGoCharacteristic{char: chars[0]}, nil
	}
	return nil, fmt.Errorf("ble: service %s not found", serviceUUID)
}

func (c *tinyGoConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *tinyGoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *tinyGoConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinyGoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *tinyGoCharacteristic) Read() ([]byte, error) {
	buf := make([]byte, readBufferSize)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, classifyError(err)
	}
	return buf[:n], nil
}

func (c *tinyGoCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return classifyError(err)
}

func (c *tinyGoCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		cp := make([]byte, len(buf))
		copy(cp, buf)
		cb(cp)
	})
}
