// Package bletest provides an in-memory ble.Adapter that simulates Calliope
// mini boards, for tests of code built on package ble.
package bletest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chaz8081/calliope-connect/internal/ble"
	"github.com/chaz8081/calliope-connect/internal/ble/protocol"
)

// Peripheral describes a simulated board.
type Peripheral struct {
	Name     string
	Address  string
	RSSI     int
	Services []string

	// Status is sent in answer to a partial flashing status query. A nil
	// Status leaves the query unanswered.
	Status *protocol.Status

	// ServicesErr fails service discovery on every connection.
	ServicesErr error

	// ConnectErr fails every connect attempt.
	ConnectErr error
	// ConnectHold, if non-nil, delays connect attempts until it is closed
	// or the attempt's context ends.
	ConnectHold chan struct{}

	// AfterReset replaces Services and Status once the board received a
	// reset command.
	AfterReset *Peripheral
	// ResetHold, if non-nil, keeps the link up after a reset command until
	// it is closed.
	ResetHold chan struct{}
}

func (p *Peripheral) advertisement() ble.Advertisement {
	return ble.Advertisement{Name: p.Name, Address: p.Address, RSSI: p.RSSI}
}

// Adapter is a simulated ble.Adapter. Advertisements of all peripherals are
// reported when a scan starts unless AutoAdvertise is false.
type Adapter struct {
	mu            sync.Mutex
	peripherals   []*Peripheral
	powered       bool
	enableErr     error
	autoAdvertise bool
	onFound       func(ble.Advertisement)
	scanStarts    int
	connects      map[string]int
	conns         map[string]*Connection
	scanning      chan struct{} // closed while a scan runs
}

// NewAdapter returns a powered adapter that sees the given peripherals.
func NewAdapter(peripherals ...*Peripheral) *Adapter {
	return &Adapter{
		peripherals:   peripherals,
		powered:       true,
		autoAdvertise: true,
		connects:      make(map[string]int),
		conns:         make(map[string]*Connection),
		scanning:      make(chan struct{}),
	}
}

// SetAutoAdvertise controls whether a starting scan reports all peripherals.
func (a *Adapter) SetAutoAdvertise(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.autoAdvertise = on
}

// SetPowered switches the simulated radio.
func (a *Adapter) SetPowered(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.powered = on
}

// SetEnableError makes Enable fail with err.
func (a *Adapter) SetEnableError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enableErr = err
}

// AddPeripheral makes p visible to subsequent scans.
func (a *Adapter) AddPeripheral(p *Peripheral) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.peripherals = append(a.peripherals, p)
}

func (a *Adapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.powered {
		return fmt.Errorf("bletest: enable: %w", ble.ErrRadioUnavailable)
	}
	return a.enableErr
}

func (a *Adapter) Scan(ctx context.Context, onFound func(ble.Advertisement)) error {
	a.mu.Lock()
	if !a.powered {
		a.mu.Unlock()
		return fmt.Errorf("bletest: scan: %w", ble.ErrRadioUnavailable)
	}
	// A scan that is still winding down is replaced.
	a.scanStarts++
	token := a.scanStarts
	a.onFound = onFound
	started := a.scanning
	var advs []ble.Advertisement
	if a.autoAdvertise {
		for _, p := range a.peripherals {
			advs = append(advs, p.advertisement())
		}
	}
	a.mu.Unlock()
	select {
	case <-started:
	default:
		close(started)
	}

	for _, adv := range advs {
		onFound(adv)
	}
	<-ctx.Done()

	a.mu.Lock()
	if a.scanStarts == token {
		a.onFound = nil
		a.scanning = make(chan struct{})
	}
	a.mu.Unlock()
	return nil
}

// Advertise reports the peripheral with address to a running scan. It
// returns false if no scan is running or the address is unknown.
func (a *Adapter) Advertise(address string) bool {
	a.mu.Lock()
	fn := a.onFound
	p := a.peripheral(address)
	a.mu.Unlock()
	if fn == nil || p == nil {
		return false
	}
	fn(p.advertisement())
	return true
}

// AdvertiseAs reports an arbitrary advertisement to a running scan.
func (a *Adapter) AdvertiseAs(adv ble.Advertisement) bool {
	a.mu.Lock()
	fn := a.onFound
	a.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(adv)
	return true
}

// WaitScanning blocks until a scan runs or timeout elapses.
func (a *Adapter) WaitScanning(timeout time.Duration) bool {
	a.mu.Lock()
	ch := a.scanning
	a.mu.Unlock()
	select {
	case <-ch:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Scanning reports whether a scan runs right now.
func (a *Adapter) Scanning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.onFound != nil
}

// ScanCount returns how many scans were started.
func (a *Adapter) ScanCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanStarts
}

func (a *Adapter) Connect(ctx context.Context, address string) (ble.Connection, error) {
	a.mu.Lock()
	p := a.peripheral(address)
	a.connects[address]++
	a.mu.Unlock()
	if p == nil {
		return nil, fmt.Errorf("bletest: no peripheral at %s", address)
	}

	if p.ConnectHold != nil {
		select {
		case <-p.ConnectHold:
		case <-ctx.Done():
			return nil, fmt.Errorf("bletest: connect %s: %w", address, ctx.Err())
		}
	}
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}

	conn := newConnection(a, p)
	a.mu.Lock()
	a.conns[address] = conn
	a.mu.Unlock()
	return conn, nil
}

// ConnectCount returns how many connect attempts were made to address.
func (a *Adapter) ConnectCount(address string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects[address]
}

// Connection returns the most recent connection to address.
func (a *Adapter) Connection(address string) *Connection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conns[address]
}

func (a *Adapter) peripheral(address string) *Peripheral {
	for _, p := range a.peripherals {
		if p.Address == address {
			return p
		}
	}
	return nil
}

// reset applies the peripheral's AfterReset description.
func (a *Adapter) reset(p *Peripheral) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if next := p.AfterReset; next != nil {
		p.Services = next.Services
		p.Status = next.Status
		p.AfterReset = next.AfterReset
	}
}

// Connection is a simulated ble.Connection.
type Connection struct {
	adapter *Adapter
	periph  *Peripheral

	mu           sync.Mutex
	services     []string
	status       *protocol.Status
	chars        map[string]*Characteristic
	onDisconnect func()
	disconnected bool
}

func newConnection(a *Adapter, p *Peripheral) *Connection {
	a.mu.Lock()
	services := append([]string(nil), p.Services...)
	status := p.Status
	a.mu.Unlock()

	c := &Connection{
		adapter:  a,
		periph:   p,
		services: services,
		status:   status,
		chars:    make(map[string]*Characteristic),
	}
	c.chars[ble.PartialFlashingCharUUID] = &Characteristic{onWrite: c.partialFlashingWrite}
	c.chars[ble.DFUControlCharUUID] = &Characteristic{onWrite: c.dfuControlWrite}
	return c
}

func (c *Connection) Services(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disconnected {
		return nil, errors.New("bletest: not connected")
	}
	if c.periph.ServicesErr != nil {
		return nil, c.periph.ServicesErr
	}
	return append([]string(nil), c.services...), nil
}

func (c *Connection) DiscoverCharacteristic(serviceUUID, charUUID string) (ble.Characteristic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disconnected {
		return nil, errors.New("bletest: not connected")
	}
	if !ble.HasService(c.services, serviceUUID) {
		return nil, fmt.Errorf("bletest: service %s not found", serviceUUID)
	}
	ch, ok := c.chars[ble.NormalizeUUID(charUUID)]
	if !ok {
		ch = &Characteristic{}
		c.chars[ble.NormalizeUUID(charUUID)] = ch
	}
	return ch, nil
}

// Disconnect ends the connection. The disconnect callback fires as it does
// for a link lost on the board side.
func (c *Connection) Disconnect() error {
	c.drop()
	return nil
}

func (c *Connection) OnDisconnect(callback func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = callback
}

// Disconnected reports whether the connection ended.
func (c *Connection) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// SimulateDisconnect drops the link as if the board went out of range.
func (c *Connection) SimulateDisconnect() {
	c.drop()
}

// Characteristic returns the simulated characteristic for charUUID, if it
// was discovered or is built in.
func (c *Connection) Characteristic(charUUID string) *Characteristic {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chars[ble.NormalizeUUID(charUUID)]
}

func (c *Connection) drop() {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return
	}
	c.disconnected = true
	cb := c.onDisconnect
	c.mu.Unlock()
	if cb != nil {
		go cb()
	}
}

func (c *Connection) partialFlashingWrite(ch *Characteristic, data []byte) {
	if len(data) == 0 {
		return
	}
	switch protocol.Command(data[0]) {
	case protocol.CommandStatus:
		c.mu.Lock()
		st := c.status
		c.mu.Unlock()
		if st != nil {
			go ch.Notify(protocol.MarshalStatus(*st))
		}
	case protocol.CommandReset:
		c.resetBoard()
	}
}

func (c *Connection) dfuControlWrite(_ *Characteristic, data []byte) {
	if len(data) == 1 && data[0] == protocol.DFUControlReset {
		c.resetBoard()
	}
}

func (c *Connection) resetBoard() {
	c.adapter.reset(c.periph)
	c.adapter.mu.Lock()
	hold := c.periph.ResetHold
	c.adapter.mu.Unlock()
	if hold == nil {
		c.drop()
		return
	}
	go func() {
		<-hold
		c.drop()
	}()
}

// Characteristic is a simulated ble.Characteristic that records writes.
type Characteristic struct {
	mu      sync.Mutex
	value   []byte
	writes  [][]byte
	notify  func([]byte)
	onWrite func(*Characteristic, []byte)
}

func (ch *Characteristic) Read() ([]byte, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([]byte(nil), ch.value...), nil
}

func (ch *Characteristic) Write(data []byte) error {
	cp := append([]byte(nil), data...)
	ch.mu.Lock()
	ch.writes = append(ch.writes, cp)
	onWrite := ch.onWrite
	ch.mu.Unlock()
	if onWrite != nil {
		onWrite(ch, cp)
	}
	return nil
}

func (ch *Characteristic) Subscribe(callback func([]byte)) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.notify = callback
	return nil
}

// SetValue sets what Read returns.
func (ch *Characteristic) SetValue(v []byte) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.value = append([]byte(nil), v...)
}

// Writes returns a copy of all data written so far.
func (ch *Characteristic) Writes() [][]byte {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	out := make([][]byte, len(ch.writes))
	copy(out, ch.writes)
	return out
}

// Notify delivers data to the subscriber, if any.
func (ch *Characteristic) Notify(data []byte) {
	ch.mu.Lock()
	cb := ch.notify
	ch.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// Board returns a peripheral advertising as "Calliope mini [friendly]" that
// runs the Bluetooth playground program.
func Board(friendly, address string) *Peripheral {
	return &Peripheral{
		Name:     "Calliope mini [" + friendly + "]",
		Address:  address,
		RSSI:     -50,
		Services: PlaygroundServices(),
		Status:   &protocol.Status{Version: 1, Mode: protocol.ModePairing},
	}
}

// PlaygroundServices are the services of a board in Bluetooth playground mode.
func PlaygroundServices() []string {
	return []string{
		ble.DFUControlServiceUUID,
		ble.PartialFlashingServiceUUID,
		ble.LEDServiceUUID,
		ble.ButtonServiceUUID,
		ble.AccelerometerServiceUUID,
		ble.EventServiceUUID,
	}
}

// ApplicationServices are the services of a board running a user program
// that only keeps the flashing services.
func ApplicationServices() []string {
	return []string{
		ble.DFUControlServiceUUID,
		ble.PartialFlashingServiceUUID,
	}
}

var (
	_ ble.Adapter        = (*Adapter)(nil)
	_ ble.Connection     = (*Connection)(nil)
	_ ble.Characteristic = (*Characteristic)(nil)
)
