package calliope

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/calliope-connect/internal/ble"
	"github.com/chaz8081/calliope-connect/internal/ble/protocol"
	"github.com/chaz8081/calliope-connect/internal/dispatch"
)

// statusQueryTimeout bounds the wait for the partial flashing status answer.
// Boards running old firmware never answer.
const statusQueryTimeout = 2 * time.Second

// Device is a board found by a Discovery. Its state changes only on the
// owning Discovery's queue.
type Device struct {
	owner    *Discovery
	name     string
	friendly string

	mu       sync.Mutex
	address  string
	state    DeviceState
	firmware *Firmware
	conn     ble.Connection

	updates dispatch.Listeners[DeviceState]
	errs    dispatch.Listeners[error]
}

func newDevice(owner *Discovery, adv ble.Advertisement, friendly string) *Device {
	return &Device{
		owner:    owner,
		name:     adv.Name,
		friendly: friendly,
		address:  adv.Address,
		state:    DeviceDiscovered,
	}
}

// Name returns the advertised local name.
func (d *Device) Name() string { return d.name }

// FriendlyName returns the name encoded by the board's LED pattern.
func (d *Device) FriendlyName() string { return d.friendly }

// Address returns the last seen peripheral address.
func (d *Device) Address() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.address
}

// State returns a snapshot of the device state.
func (d *Device) State() DeviceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Firmware returns what the last mode evaluation found.
func (d *Device) Firmware() (Firmware, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.firmware == nil {
		return Firmware{}, false
	}
	return *d.firmware, true
}

func (d *Device) String() string {
	return fmt.Sprintf("%s [%s] (%s)", d.friendly, d.Address(), d.State())
}

// Subscribe registers fn for state changes. fn runs on the Bluetooth queue.
func (d *Device) Subscribe(fn func(DeviceState)) (unsubscribe func()) {
	return d.updates.Add(fn)
}

// SubscribeErrors registers fn for evaluation and reset failures. fn runs
// on the Bluetooth queue.
func (d *Device) SubscribeErrors(fn func(error)) (unsubscribe func()) {
	return d.errs.Add(fn)
}

// EvaluateMode checks which firmware the board runs. It is only valid in
// DeviceConnected; the result arrives as a state change to usageReady or
// wrongMode.
func (d *Device) EvaluateMode() error {
	if d.owner.retired.Load() {
		return ErrRetired
	}
	if s := d.State(); s != DeviceConnected {
		return fmt.Errorf("%w: evaluate mode of %s in %s", ErrInvalidState, d.friendly, s)
	}
	d.owner.queue.Async(func() { d.owner.evaluate(d) })
	return nil
}

// ResetIntoBluetoothMode reboots the board into Bluetooth pairing mode. It
// is valid in wrongMode and usageReady. The device moves to willReset and
// comes back as discovered once the board advertises again.
func (d *Device) ResetIntoBluetoothMode() error {
	if d.owner.retired.Load() {
		return ErrRetired
	}
	if s := d.State(); s != DeviceWrongMode && s != DeviceUsageReady {
		return fmt.Errorf("%w: reset %s in %s", ErrInvalidState, d.friendly, s)
	}
	d.owner.queue.Async(func() { d.owner.reset(d) })
	return nil
}

// fire applies ev and notifies listeners. mutate runs under d.mu together
// with the state change, only if ev is accepted. Queue only.
func (d *Device) fire(ev deviceEvent, mutate func()) bool {
	d.mu.Lock()
	prev := d.state
	next, ok := nextDeviceState(prev, ev)
	if !ok {
		d.mu.Unlock()
		slog.Debug("[Device] event ignored", "device", d.friendly, "state", prev, "event", ev)
		return false
	}
	d.state = next
	if mutate != nil {
		mutate()
	}
	d.mu.Unlock()

	slog.Debug("[Device] state", "device", d.friendly, "from", prev, "event", ev, "to", next)
	d.updates.Emit(next)
	return true
}

func (d *Device) connection() ble.Connection {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn
}

func (d *Device) setConnection(conn ble.Connection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conn = conn
}

func (d *Device) setAddress(addr string) {
	if addr == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.address = addr
}

func (d *Device) closeListeners() {
	d.updates.Close()
	d.errs.Close()
}

// readFirmware lists the board's services and, when available, asks the
// partial flashing service for the current mode.
func readFirmware(ctx context.Context, conn ble.Connection) (Firmware, error) {
	services, err := conn.Services(ctx)
	if err != nil {
		return Firmware{}, fmt.Errorf("ble: list services: %w", err)
	}
	fw := Firmware{Services: services}

	if ble.HasService(services, ble.PartialFlashingServiceUUID) {
		qctx, cancel := context.WithTimeout(ctx, statusQueryTimeout)
		defer cancel()
		st, err := queryStatus(qctx, conn)
		if err != nil {
			slog.Debug("[Device] status query failed", "error", err)
		} else {
			fw.Status = &st
		}
	}
	return fw, nil
}

func queryStatus(ctx context.Context, conn ble.Connection) (protocol.Status, error) {
	char, err := conn.DiscoverCharacteristic(ble.PartialFlashingServiceUUID, ble.PartialFlashingCharUUID)
	if err != nil {
		return protocol.Status{}, err
	}

	statusCh := make(chan protocol.Status, 1)
	if err := char.Subscribe(func(data []byte) {
		st, err := protocol.UnmarshalStatus(data)
		if err != nil {
			return
		}
		select {
		case statusCh <- st:
		default:
		}
	}); err != nil {
		return protocol.Status{}, fmt.Errorf("ble: subscribe to partial flashing: %w", err)
	}

	if err := char.Write(protocol.MarshalStatusRequest()); err != nil {
		return protocol.Status{}, fmt.Errorf("ble: write status request: %w", err)
	}

	select {
	case st := <-statusCh:
		return st, nil
	case <-ctx.Done():
		return protocol.Status{}, fmt.Errorf("ble: waiting for status: %w", ctx.Err())
	}
}

// writeReset asks the board to reboot into pairing mode, preferring the
// partial flashing command over the DFU control byte.
func writeReset(conn ble.Connection) error {
	if char, err := conn.DiscoverCharacteristic(ble.PartialFlashingServiceUUID, ble.PartialFlashingCharUUID); err == nil {
		if err := char.Write(protocol.MarshalReset(protocol.ModePairing)); err != nil {
			return fmt.Errorf("ble: write reset: %w", err)
		}
		return nil
	}

	char, err := conn.DiscoverCharacteristic(ble.DFUControlServiceUUID, ble.DFUControlCharUUID)
	if err != nil {
		return fmt.Errorf("ble: board offers no reset characteristic: %w", err)
	}
	if err := char.Write([]byte{protocol.DFUControlReset}); err != nil {
		return fmt.Errorf("ble: write DFU control: %w", err)
	}
	return nil
}
