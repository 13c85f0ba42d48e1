// Package calliope coordinates discovery of and connection to Calliope mini
// boards. A Discovery scans for boards, keeps one Device per friendly name,
// connects to one of them at a time and evaluates which firmware it runs.
//
// All state of a Discovery and its devices changes on a single serial queue.
// Commands may be called from any goroutine; they return immediately and
// their effect is reported to listeners, which run on that queue.
package calliope

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/chaz8081/calliope-connect/internal/ble"
	"github.com/chaz8081/calliope-connect/internal/dispatch"
	"github.com/chaz8081/calliope-connect/internal/matrix"
)

const queueLabel = "bluetooth"

// advertisedPrefixes are the local name prefixes of boards we talk to.
var advertisedPrefixes = []string{"calliope", "bbc micro:bit"}

// Discovery is the discovery-and-connection coordinator.
type Discovery struct {
	id      string
	adapter ble.Adapter
	profile Profile
	opts    Options
	queue   *dispatch.Queue
	retired atomic.Bool

	mu        sync.Mutex
	state     DiscoveryState
	devices   map[string]*Device // keyed by friendly name
	connected *Device

	// Owned by the queue goroutine.
	scanGen       uint64
	starting      bool
	scanCancel    context.CancelFunc
	windowCancel  func() bool
	radioCancel   context.CancelFunc
	pollCancel    func() bool
	attempt       uint64
	connectCancel context.CancelFunc
	connecting    *Device

	updates dispatch.Listeners[DiscoveryState]
	errs    dispatch.Listeners[error]
}

// NewDiscovery creates a coordinator in state initialized. Boards that
// connect are evaluated with profile.
func NewDiscovery(adapter ble.Adapter, profile Profile, opts Options) *Discovery {
	c := &Discovery{
		id:      uuid.NewString(),
		adapter: adapter,
		profile: profile,
		opts:    opts.withDefaults(),
		queue:   dispatch.NewQueue(queueLabel),
		devices: make(map[string]*Device),
	}
	slog.Debug("[Discovery] created", "id", c.id, "profile", profile.Name())
	return c
}

// ID identifies this coordinator in logs.
func (c *Discovery) ID() string { return c.id }

// Profile returns the profile used for mode evaluation.
func (c *Discovery) Profile() Profile { return c.profile }

// State returns a snapshot of the coordinator state.
func (c *Discovery) State() DiscoveryState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Devices returns a snapshot of the discovered devices by friendly name.
func (c *Discovery) Devices() map[string]*Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*Device, len(c.devices))
	for k, v := range c.devices {
		out[k] = v
	}
	return out
}

// Device returns the discovered device with the given friendly name.
func (c *Discovery) Device(friendly string) (*Device, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.devices[strings.ToLower(friendly)]
	return d, ok
}

// ConnectedDevice returns the active device, or nil unless connected.
func (c *Discovery) ConnectedDevice() *Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Subscribe registers fn for state changes. fn also fires, with an
// unchanged state, whenever another device is found.
func (c *Discovery) Subscribe(fn func(DiscoveryState)) (unsubscribe func()) {
	return c.updates.Add(fn)
}

// SubscribeErrors registers fn for scan and connection failures. Errors
// are *Error values.
func (c *Discovery) SubscribeErrors(fn func(error)) (unsubscribe func()) {
	return c.errs.Add(fn)
}

// StartDiscovery begins scanning. It is a no-op while scanning, connecting
// or connected. The set of discovered devices is cleared.
func (c *Discovery) StartDiscovery() {
	c.queue.Async(c.startDiscovery)
}

// StopDiscovery halts scanning. It is safe in every state.
func (c *Discovery) StopDiscovery() {
	c.queue.Async(func() {
		if c.retired.Load() {
			return
		}
		c.stopScan()
		c.fire(discoveryStopRequested, nil)
	})
}

// Connect connects to d, which must be in state discovered or willReset and
// belong to this coordinator. Rejected calls change nothing.
func (c *Discovery) Connect(d *Device) error {
	if c.retired.Load() {
		return ErrRetired
	}
	if d == nil || d.owner != c {
		return ErrUnknownDevice
	}
	if s := d.State(); !s.Connectable() {
		return fmt.Errorf("%w: connect to %s in %s", ErrInvalidState, d.friendly, s)
	}
	if s := c.State(); !c.acceptsConnect(s) {
		return fmt.Errorf("%w: connect while %s", ErrInvalidState, s)
	}
	c.queue.Async(func() { c.connect(d) })
	return nil
}

// Disconnect tears down the active connection or connection attempt, if any.
func (c *Discovery) Disconnect() {
	c.queue.Async(c.disconnect)
}

// GiveUpResponsibility retires the coordinator before another one takes
// over. When it returns, no listener of the coordinator or its devices will
// be called again. Scans, timers and the connection are torn down.
func (c *Discovery) GiveUpResponsibility() {
	if !c.retired.CompareAndSwap(false, true) {
		return
	}
	c.updates.Close()
	c.errs.Close()

	c.mu.Lock()
	devices := make([]*Device, 0, len(c.devices)+1)
	for _, d := range c.devices {
		devices = append(devices, d)
	}
	if c.connected != nil {
		devices = append(devices, c.connected)
	}
	c.mu.Unlock()
	for _, d := range devices {
		d.closeListeners()
	}

	c.queue.Async(func() {
		c.stopScan()
		c.attempt++
		if c.connectCancel != nil {
			c.connectCancel()
			c.connectCancel = nil
		}
		if d := c.ConnectedDevice(); d != nil {
			if conn := d.connection(); conn != nil {
				go disconnectQuietly(conn)
			}
		}
		c.queue.Close()
	})
	slog.Info("[Discovery] gave up responsibility", "id", c.id)
}

func (c *Discovery) acceptsConnect(s DiscoveryState) bool {
	_, ok := nextDiscoveryState(s, discoveryConnectRequested)
	return ok
}

// fire applies ev and notifies listeners. mutate runs under c.mu together
// with the state change, only if ev is accepted. Queue only.
func (c *Discovery) fire(ev discoveryEvent, mutate func()) bool {
	c.mu.Lock()
	prev := c.state
	next, ok := nextDiscoveryState(prev, ev)
	if !ok {
		c.mu.Unlock()
		slog.Debug("[Discovery] event ignored", "state", prev, "event", ev)
		return false
	}
	c.state = next
	if mutate != nil {
		mutate()
	}
	c.mu.Unlock()

	if prev != next {
		slog.Debug("[Discovery] state", "from", prev, "event", ev, "to", next)
	}
	c.updates.Emit(next)
	return true
}

func (c *Discovery) emitError(err *Error) {
	slog.Warn("[Discovery] error", "kind", err.Kind, "device", err.Device, "error", err.Err)
	c.errs.Emit(err)
}

// --- scanning ---

func (c *Discovery) startDiscovery() {
	if c.retired.Load() || c.starting {
		return
	}
	switch s := c.State(); s {
	case DiscoveryInitialized, DiscoveryDiscoveredAll:
	default:
		slog.Debug("[Discovery] start ignored", "state", s)
		return
	}

	c.mu.Lock()
	old := c.devices
	c.devices = make(map[string]*Device)
	c.mu.Unlock()
	for _, d := range old {
		d.closeListeners()
	}

	slog.Info("[Discovery] starting discovery", "id", c.id)
	c.enableAndScan()
}

// enableAndScan powers the adapter off the queue and continues with scan.
func (c *Discovery) enableAndScan() {
	c.stopScan()
	gen := c.scanGen
	c.starting = true
	go func() {
		err := c.adapter.Enable()
		c.queue.Async(func() { c.enabled(gen, err) })
	}()
}

func (c *Discovery) enabled(gen uint64, err error) {
	if c.retired.Load() || gen != c.scanGen {
		return
	}
	c.starting = false
	if err != nil {
		if errors.Is(err, ble.ErrRadioUnavailable) {
			slog.Info("[Discovery] waiting for bluetooth", "error", err)
			c.fire(discoveryRadioUnavailable, nil)
			c.waitForRadio()
			return
		}
		c.emitError(&Error{Kind: KindAdapterFailed, Err: err})
		return
	}
	c.scan(gen)
}

func (c *Discovery) scan(gen uint64) {
	c.fire(discoveryScanStarted, nil)

	ctx, cancel := context.WithCancel(context.Background())
	c.scanCancel = cancel
	go func() {
		err := c.adapter.Scan(ctx, func(adv ble.Advertisement) {
			c.queue.Async(func() { c.handleAdvertisement(gen, adv) })
		})
		if err != nil {
			c.queue.Async(func() { c.scanFailed(gen, err) })
		}
	}()

	c.windowCancel = c.queue.AsyncAfter(c.opts.ScanTimeout, func() {
		if c.retired.Load() || gen != c.scanGen {
			return
		}
		slog.Debug("[Discovery] scan window elapsed")
		c.stopScan()
		c.fire(discoveryScanWindowElapsed, nil)
	})
}

func (c *Discovery) scanFailed(gen uint64, err error) {
	if c.retired.Load() || gen != c.scanGen {
		return
	}
	c.stopScan()
	if errors.Is(err, ble.ErrRadioUnavailable) {
		c.fire(discoveryRadioUnavailable, nil)
		c.waitForRadio()
		return
	}
	c.fire(discoveryScanWindowElapsed, nil)
	c.emitError(&Error{Kind: KindScanFailed, Err: err})
}

// stopScan cancels the scan, the scan window, the radio wait and any
// pending enable. Queue only.
func (c *Discovery) stopScan() {
	c.scanGen++
	c.starting = false
	if c.scanCancel != nil {
		c.scanCancel()
		c.scanCancel = nil
	}
	if c.windowCancel != nil {
		c.windowCancel()
		c.windowCancel = nil
	}
	if c.radioCancel != nil {
		c.radioCancel()
		c.radioCancel = nil
	}
	if c.pollCancel != nil {
		c.pollCancel()
		c.pollCancel = nil
	}
}

func (c *Discovery) waitForRadio() {
	gen := c.scanGen
	if c.opts.RadioWatcher == nil {
		c.pollRadio(gen)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.radioCancel = cancel
	watcher := c.opts.RadioWatcher
	go func() {
		err := watcher.WatchRadio(ctx, func(powered bool) {
			if powered {
				c.queue.Async(func() { c.radioPowered(gen) })
			}
		})
		if err != nil && ctx.Err() == nil {
			slog.Warn("[Discovery] radio watcher failed, polling instead", "error", err)
			c.queue.Async(func() {
				if gen == c.scanGen {
					c.pollRadio(gen)
				}
			})
		}
	}()
}

func (c *Discovery) pollRadio(gen uint64) {
	c.pollCancel = c.queue.AsyncAfter(c.opts.RadioPollInterval, func() { c.radioPowered(gen) })
}

func (c *Discovery) radioPowered(gen uint64) {
	if c.retired.Load() || gen != c.scanGen || c.State() != DiscoveryWaitingForBluetooth {
		return
	}
	c.enableAndScan()
}

func isCalliopeName(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range advertisedPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

func (c *Discovery) handleAdvertisement(gen uint64, adv ble.Advertisement) {
	if c.retired.Load() || gen != c.scanGen || !isCalliopeName(adv.Name) {
		return
	}
	friendly, ok := matrix.FriendlyFromAdvertisedName(adv.Name)
	if !ok {
		return
	}

	c.mu.Lock()
	d, exists := c.devices[friendly]
	if !exists {
		d = newDevice(c, adv, friendly)
		c.devices[friendly] = d
	}
	c.mu.Unlock()

	if exists {
		d.setAddress(adv.Address)
		if d.fire(deviceReappeared, nil) {
			slog.Info("[Discovery] board is back after reset", "device", friendly, "address", adv.Address)
			c.fire(discoveryDeviceFound, nil)
		}
		return
	}

	slog.Info("[Discovery] found board", "device", friendly, "name", adv.Name, "address", adv.Address, "rssi", adv.RSSI)
	c.fire(discoveryDeviceFound, nil)
}

// --- connection ---

func (c *Discovery) connect(d *Device) {
	if c.retired.Load() {
		return
	}
	if s := d.State(); !s.Connectable() {
		slog.Debug("[Discovery] connect dropped", "device", d.friendly, "state", s)
		return
	}
	if !c.acceptsConnect(c.State()) {
		slog.Debug("[Discovery] connect dropped", "state", c.State())
		return
	}

	c.stopScan()
	c.fire(discoveryConnectRequested, nil)
	d.fire(deviceConnectStarted, nil)

	c.attempt++
	attempt := c.attempt
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.ConnectTimeout)
	c.connectCancel = cancel
	c.connecting = d

	addr := d.Address()
	slog.Info("[Discovery] connecting", "device", d.friendly, "address", addr)
	go func() {
		conn, err := c.adapter.Connect(ctx, addr)
		if !c.queue.Async(func() { c.connectDone(attempt, d, conn, err) }) && conn != nil {
			disconnectQuietly(conn)
		}
	}()
}

func (c *Discovery) connectDone(attempt uint64, d *Device, conn ble.Connection, err error) {
	if c.retired.Load() || attempt != c.attempt {
		if conn != nil {
			go disconnectQuietly(conn)
		}
		return
	}
	c.connectCancel()
	c.connectCancel = nil
	c.connecting = nil

	if err != nil {
		d.fire(deviceConnectFailed, nil)
		c.fire(discoveryConnectFailed, nil)
		c.emitError(classifyConnectError(d.friendly, err))
		return
	}

	slog.Info("[Discovery] connected", "device", d.friendly)
	d.fire(deviceConnectSucceeded, func() { d.conn = conn })
	c.fire(discoveryConnectSucceeded, func() { c.connected = d })
	conn.OnDisconnect(func() {
		c.queue.Async(func() { c.handleDisconnect(d, conn) })
	})
	c.evaluate(d)
}

func (c *Discovery) disconnect() {
	if c.retired.Load() {
		return
	}
	if c.connectCancel != nil {
		c.attempt++
		c.connectCancel()
		c.connectCancel = nil
		if d := c.connecting; d != nil {
			d.fire(deviceConnectFailed, nil)
		}
		c.connecting = nil
		c.fire(discoveryConnectFailed, nil)
	}

	d := c.ConnectedDevice()
	if d == nil {
		return
	}
	conn := d.connection()
	d.setConnection(nil)
	if conn != nil {
		go disconnectQuietly(conn)
	}

	// A resetting board only comes back through the rescan.
	if d.State() == DeviceWillReset {
		slog.Info("[Discovery] disconnecting resetting board, scanning for it", "device", d.friendly)
		c.fire(discoveryResetDisconnect, func() { c.connected = nil })
		c.enableAndScan()
		return
	}

	slog.Info("[Discovery] disconnecting", "device", d.friendly)
	d.fire(deviceDisconnected, nil)
	c.fire(discoveryDisconnected, func() { c.connected = nil })
}

func (c *Discovery) handleDisconnect(d *Device, conn ble.Connection) {
	if c.retired.Load() || c.ConnectedDevice() != d || d.connection() != conn {
		return
	}
	d.setConnection(nil)

	if d.State() == DeviceWillReset {
		slog.Info("[Discovery] board is resetting, scanning for it", "device", d.friendly)
		c.fire(discoveryResetDisconnect, func() { c.connected = nil })
		c.enableAndScan()
		return
	}

	slog.Warn("[Discovery] connection lost", "device", d.friendly)
	d.fire(deviceDisconnected, nil)
	c.fire(discoveryDisconnected, func() { c.connected = nil })
}

func disconnectQuietly(conn ble.Connection) {
	if err := conn.Disconnect(); err != nil {
		slog.Debug("[Discovery] disconnect", "error", err)
	}
}

// --- mode evaluation and reset ---

func (c *Discovery) evaluate(d *Device) {
	if c.retired.Load() {
		return
	}
	conn := d.connection()
	if conn == nil || !d.fire(deviceEvaluationStarted, nil) {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.EvaluateTimeout)
		defer cancel()
		fw, err := readFirmware(ctx, conn)
		c.queue.Async(func() { c.evaluationDone(d, conn, fw, err) })
	}()
}

func (c *Discovery) evaluationDone(d *Device, conn ble.Connection, fw Firmware, err error) {
	if c.retired.Load() || d.connection() != conn || d.State() != DeviceEvaluateMode {
		return
	}
	if err != nil {
		d.fire(deviceEvaluationFailed, nil)
		evalErr := &Error{Kind: KindEvaluationFailed, Device: d.friendly, Err: err}
		slog.Warn("[Device] mode evaluation failed", "device", d.friendly, "error", err)
		d.errs.Emit(evalErr)
		return
	}

	if c.profile.Accepts(fw) {
		slog.Info("[Device] ready", "device", d.friendly, "profile", c.profile.Name())
		d.fire(deviceModeMatched, func() { d.firmware = &fw })
		return
	}
	slog.Info("[Device] wrong mode", "device", d.friendly, "profile", c.profile.Name())
	d.fire(deviceModeMismatched, func() { d.firmware = &fw })
}

func (c *Discovery) reset(d *Device) {
	if c.retired.Load() {
		return
	}
	conn := d.connection()
	if conn == nil || !d.fire(deviceResetRequested, nil) {
		return
	}

	slog.Info("[Device] resetting into bluetooth mode", "device", d.friendly)
	go func() {
		if err := writeReset(conn); err != nil {
			c.queue.Async(func() { c.resetFailed(d, conn, err) })
		}
	}()
}

func (c *Discovery) resetFailed(d *Device, conn ble.Connection, err error) {
	if c.retired.Load() || d.connection() != conn {
		return
	}
	slog.Warn("[Device] reset failed", "device", d.friendly, "error", err)
	d.errs.Emit(&Error{Kind: KindResetFailed, Device: d.friendly, Err: err})

	// The board will not drop the link by itself; drop it so the device
	// goes through the rescan and can be reconnected.
	go disconnectQuietly(conn)
	c.handleDisconnect(d, conn)
}
