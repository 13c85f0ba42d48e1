// Package connection implements the connection panel: the front-end facing
// adapter that turns a LED pattern and a few buttons into discovery,
// connection, mode evaluation and reset of a Calliope mini, including the
// automatic reconnect after a reset.
package connection

import (
	"errors"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/chaz8081/calliope-connect/internal/calliope"
	"github.com/chaz8081/calliope-connect/internal/dispatch"
	"github.com/chaz8081/calliope-connect/internal/matrix"
)

// Factory builds a coordinator for a profile.
type Factory func(profile calliope.Profile) *calliope.Discovery

// PairingResolver removes a stale pairing with the board at address.
type PairingResolver interface {
	ResolvePairingConflict(address string) error
}

// Options configures a Panel.
type Options struct {
	// RestartDelay is the wait between a reset board reappearing and the
	// automatic reconnect.
	RestartDelay time.Duration

	// ForgetOnPairingConflict lets PairingResolver remove stale pairings.
	ForgetOnPairingConflict bool
	PairingResolver         PairingResolver
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{RestartDelay: 3 * time.Second}
}

// Panel drives one coordinator at a time. Intents may be called from any
// goroutine; they run on the panel's own queue, as do view listeners.
type Panel struct {
	newDiscovery Factory
	opts         Options
	queue        *dispatch.Queue
	views        dispatch.Listeners[View]

	mu   sync.Mutex
	view View

	// Owned by the queue goroutine.
	disc            *calliope.Discovery
	discUnsub       []func()
	watched         map[*calliope.Device]func()
	matrix          matrix.Matrix
	target          string
	expanded        bool
	alert           *Alert
	phase           reconnectPhase
	reconnectCancel func() bool
	lastChanger     any
}

// NewPanel creates a panel with a coordinator for profile.
func NewPanel(newDiscovery Factory, profile calliope.Profile, opts Options) *Panel {
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = DefaultOptions().RestartDelay
	}
	p := &Panel{
		newDiscovery: newDiscovery,
		opts:         opts,
		queue:        dispatch.NewQueue("panel"),
		watched:      make(map[*calliope.Device]func()),
	}
	p.queue.Sync(func() {
		p.setDiscovery(newDiscovery(profile))
		p.update()
	})
	return p
}

// View returns the current view.
func (p *Panel) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.view
}

// Subscribe registers fn for view changes.
func (p *Panel) Subscribe(fn func(View)) (unsubscribe func()) {
	return p.views.Add(fn)
}

// Close retires the coordinator and stops the panel.
func (p *Panel) Close() {
	p.queue.Sync(func() {
		p.cancelReconnect()
		p.dropDiscovery()
	})
	p.views.Close()
	p.queue.Close()
}

// Expand opens the panel and starts discovery if it never ran.
func (p *Panel) Expand() {
	p.queue.Async(func() {
		p.expanded = true
		if p.disc.State() == calliope.DiscoveryInitialized {
			p.disc.StartDiscovery()
		}
		p.update()
	})
}

// Collapse closes the panel and stops discovery.
func (p *Panel) Collapse() {
	p.queue.Async(func() {
		p.expanded = false
		p.disc.StopDiscovery()
		p.update()
	})
}

// SetMatrix changes the LED pattern. A manual change always disconnects.
func (p *Panel) SetMatrix(m matrix.Matrix) {
	p.queue.Async(func() {
		p.matrix = m
		p.target = ""
		p.dropReconnect()
		p.disc.Disconnect()
		p.update()
	})
}

// SelectDevice picks a board by friendly name, for names the matrix cannot
// spell. Like SetMatrix it disconnects.
func (p *Panel) SelectDevice(friendly string) {
	p.queue.Async(func() {
		friendly = strings.ToLower(friendly)
		if m, err := matrix.FromFriendly(friendly); err == nil {
			p.matrix = m
		}
		p.target = friendly
		p.dropReconnect()
		p.disc.Disconnect()
		p.update()
	})
}

// Connect starts discovery, connects to the board matching the matrix, or
// evaluates the mode again, depending on the state.
func (p *Panel) Connect() {
	p.queue.Async(p.connect)
}

// ResetBoard reboots the matched board into Bluetooth mode.
func (p *Panel) ResetBoard() {
	p.queue.Async(func() {
		d := p.currentDevice()
		if d == nil {
			return
		}
		p.watch(d)
		if err := d.ResetIntoBluetoothMode(); err != nil {
			slog.Warn("[Panel] reset rejected", "device", d.FriendlyName(), "error", err)
		}
	})
}

// ChangeProfile replaces the coordinator with one for profile. Repeated
// calls by the same sender are ignored; sender must be comparable.
func (p *Panel) ChangeProfile(sender any, profile calliope.Profile) {
	p.queue.Async(func() {
		if sender != nil && p.lastChanger == sender {
			return
		}
		p.lastChanger = sender
		slog.Info("[Panel] changing profile", "profile", profile.Name())
		p.cancelReconnect()
		p.phase = reconnectIdle
		p.dropDiscovery()
		p.setDiscovery(p.newDiscovery(profile))
		p.update()
	})
}

// DismissAlert clears the current alert.
func (p *Panel) DismissAlert() {
	p.queue.Async(func() {
		p.alert = nil
		p.update()
	})
}

// Discovery returns the current coordinator. It must not be called from a
// view listener.
func (p *Panel) Discovery() *calliope.Discovery {
	var d *calliope.Discovery
	p.queue.Sync(func() { d = p.disc })
	return d
}

func (p *Panel) setDiscovery(d *calliope.Discovery) {
	p.disc = d
	p.discUnsub = []func(){
		d.Subscribe(func(s calliope.DiscoveryState) {
			p.queue.Async(func() { p.discoveryChanged(d, s) })
		}),
		d.SubscribeErrors(func(err error) {
			p.queue.Async(func() { p.showError(d, err) })
		}),
	}
}

// dropDiscovery gives up the current coordinator. It runs on the panel
// queue, never inside a coordinator listener.
func (p *Panel) dropDiscovery() {
	if p.disc == nil {
		return
	}
	for _, unsub := range p.discUnsub {
		unsub()
	}
	p.discUnsub = nil
	for d, unsub := range p.watched {
		unsub()
		delete(p.watched, d)
	}
	p.disc.GiveUpResponsibility()
}

// watch subscribes to a device's updates and errors once.
func (p *Panel) watch(d *calliope.Device) {
	if _, ok := p.watched[d]; ok {
		return
	}
	disc := p.disc
	unsubState := d.Subscribe(func(s calliope.DeviceState) {
		p.queue.Async(func() { p.deviceChanged(disc, d, s) })
	})
	unsubErr := d.SubscribeErrors(func(err error) {
		p.queue.Async(func() { p.showError(disc, err) })
	})
	p.watched[d] = func() {
		unsubState()
		unsubErr()
	}
}

// currentDevice returns the discovered device the panel points at.
func (p *Panel) currentDevice() *calliope.Device {
	name := p.target
	if name == "" {
		var ok bool
		if name, ok = p.matrix.Friendly(); !ok {
			return nil
		}
	}
	d, ok := p.disc.Device(name)
	if !ok {
		return nil
	}
	return d
}

func (p *Panel) connect() {
	state := p.disc.State()
	d := p.currentDevice()
	if state == calliope.DiscoveryInitialized || d == nil && state == calliope.DiscoveryDiscoveredAll {
		p.disc.StartDiscovery()
		return
	}
	if d == nil {
		slog.Debug("[Panel] connect without matching device", "state", state)
		return
	}

	switch ds := d.State(); ds {
	case calliope.DeviceDiscovered, calliope.DeviceWillReset:
		p.watch(d)
		slog.Info("[Panel] connecting", "device", d.FriendlyName())
		if err := p.disc.Connect(d); err != nil {
			slog.Warn("[Panel] connect rejected", "device", d.FriendlyName(), "error", err)
		}
	case calliope.DeviceConnected:
		if err := d.EvaluateMode(); err != nil {
			slog.Warn("[Panel] evaluate rejected", "device", d.FriendlyName(), "error", err)
		}
	default:
		slog.Debug("[Panel] connect not possible", "state", state, "device", d.FriendlyName(), "deviceState", ds)
	}
}

func (p *Panel) discoveryChanged(d *calliope.Discovery, s calliope.DiscoveryState) {
	if d != p.disc {
		return
	}
	switch s {
	case calliope.DiscoveryConnecting:
		p.phase = reconnectIdle
	case calliope.DiscoveryConnected:
		p.adoptConnectedDevice()
	}
	p.update()
}

// adoptConnectedDevice points the matrix at the connected board, which
// differs from the matrix after an automatic reconnect.
func (p *Panel) adoptConnectedDevice() {
	connected := p.disc.ConnectedDevice()
	if connected == nil || connected == p.currentDevice() {
		return
	}
	p.watch(connected)
	friendly := connected.FriendlyName()
	if m, err := matrix.FromFriendly(friendly); err == nil {
		p.matrix = m
		p.target = ""
	} else {
		p.target = friendly
	}
}

func (p *Panel) deviceChanged(disc *calliope.Discovery, d *calliope.Device, s calliope.DeviceState) {
	if disc != p.disc {
		return
	}
	next, connect := nextReconnectPhase(p.phase, s)
	if next != p.phase {
		slog.Debug("[Panel] reconnect phase", "device", d.FriendlyName(), "from", p.phase, "to", next)
	}
	p.phase = next
	if connect {
		slog.Info("[Panel] board is back, reconnecting", "device", d.FriendlyName(), "delay", p.opts.RestartDelay)
		p.cancelReconnect()
		p.reconnectCancel = p.queue.AsyncAfter(p.opts.RestartDelay, func() {
			p.reconnectCancel = nil
			if disc == p.disc {
				p.connect()
			}
		})
	}
	p.update()
}

// dropReconnect forgets a pending reconnect after a reset; the user picked
// another board or wants the current one disconnected.
func (p *Panel) dropReconnect() {
	p.cancelReconnect()
	p.phase = reconnectIdle
}

func (p *Panel) cancelReconnect() {
	if p.reconnectCancel != nil {
		p.reconnectCancel()
		p.reconnectCancel = nil
	}
}

func (p *Panel) showError(disc *calliope.Discovery, err error) {
	if disc != p.disc {
		return
	}
	slog.Warn("[Panel] error", "error", err)

	if !errors.Is(err, calliope.ErrPairingConflict) {
		p.alert = &Alert{Title: errorTitle, Message: errorMessage + "\n" + err.Error()}
		p.update()
		return
	}

	alert := &Alert{Title: pairingConflictTitle, Message: pairingConflictMessage, PairingConflict: true}
	if p.opts.ForgetOnPairingConflict && p.opts.PairingResolver != nil {
		var cerr *calliope.Error
		if errors.As(err, &cerr) {
			if d, ok := p.disc.Device(cerr.Device); ok {
				if rerr := p.opts.PairingResolver.ResolvePairingConflict(d.Address()); rerr != nil {
					slog.Warn("[Panel] could not remove pairing", "device", cerr.Device, "error", rerr)
				} else {
					alert.Message = pairingRemovedMessage
				}
			}
		}
	}
	p.alert = alert
	p.update()
}

// update recomputes and publishes the view.
func (p *Panel) update() {
	state := p.disc.State()
	v := View{
		Matrix:    p.matrix,
		Expanded:  p.expanded,
		Profile:   p.disc.Profile().Name(),
		Discovery: state,
		Alert:     p.alert,
		Devices:   slices.Sorted(maps.Keys(p.disc.Devices())),
	}
	if name, ok := p.matrix.Friendly(); ok {
		v.Device = name
	}
	if p.target != "" {
		v.Device = p.target
	}

	d := p.currentDevice()
	if d != nil {
		v.Found = true
		v.DeviceState = d.State()
		if v.DeviceState == calliope.DeviceUsageReady || v.DeviceState == calliope.DeviceWrongMode {
			if fw, ok := d.Firmware(); ok && fw.Status != nil {
				v.Mode = fw.Status.Mode.String()
			}
		}
	}

	switch state {
	case calliope.DiscoveryInitialized:
		v.MatrixEditable = true
		v.Button = ButtonInitialized
	case calliope.DiscoveryWaitingForBluetooth:
		v.MatrixEditable = true
		v.Button = ButtonWaitingForBluetooth
	case calliope.DiscoveryDiscovering, calliope.DiscoveryDiscovered:
		if d != nil {
			deviceView(&v, v.DeviceState, p.phase)
		} else {
			v.MatrixEditable = true
			v.Button = ButtonSearching
		}
	case calliope.DiscoveryDiscoveredAll:
		if d != nil {
			deviceView(&v, v.DeviceState, p.phase)
		} else {
			v.MatrixEditable = true
			v.Button = ButtonNotFoundRetry
		}
	case calliope.DiscoveryConnecting:
		v.Button = ButtonConnecting
		v.Collapse = CollapseConnecting
	case calliope.DiscoveryConnected:
		if d != nil {
			deviceView(&v, v.DeviceState, p.phase)
		} else {
			v.Button = ButtonTestingMode
			v.Collapse = CollapseConnecting
		}
	}

	p.mu.Lock()
	p.view = v
	p.mu.Unlock()
	p.views.Emit(v)
}
