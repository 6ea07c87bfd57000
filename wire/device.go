package wire

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/user/spark-bridge/ble"
	"github.com/user/spark-bridge/logger"
	"github.com/user/spark-bridge/wire/advertising"
)

// Device is one simulated BLE controller. It implements ble.Stack, so the
// same type plays the amplifier, the bridge and the app.
type Device struct {
	air      *Air
	addr     ble.Address
	distance float64

	mu          sync.Mutex
	name        string
	initialized bool
	poweredOff  bool
	maxConn     int
	clients     []*Client
	server      *Server
	scan        *scanSession

	adv    *Advertiser
	faults faults
}

var _ ble.Stack = (*Device)(nil)

// DeviceOption customizes a Device
type DeviceOption func(*Device)

// WithMaxConnections sets the outbound client pool size
func WithMaxConnections(n int) DeviceOption {
	return func(d *Device) { d.maxConn = n }
}

// WithDistance places the device n meters from everyone else (RSSI only)
func WithDistance(meters float64) DeviceOption {
	return func(d *Device) { d.distance = meters }
}

// NewDevice puts a powered-off device on the air. Call Init before use.
func NewDevice(air *Air, addr ble.Address, opts ...DeviceOption) (*Device, error) {
	d := &Device{
		air:      air,
		addr:     addr,
		distance: 1,
		maxConn:  DefaultMaxConnections,
	}
	d.adv = &Advertiser{dev: d}
	for _, opt := range opts {
		opt(d)
	}
	if err := air.attach(d); err != nil {
		return nil, errors.Wrapf(err, "wire: attach %s", addr)
	}
	return d, nil
}

// Address returns the device address
func (d *Device) Address() ble.Address {
	return d.addr
}

// Name returns the GAP device name
func (d *Device) Name() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.name
}

func (d *Device) tag() string {
	return fmt.Sprintf("%s Wire", shortAddr(d.addr))
}

// Init powers the controller on under the given GAP name
func (d *Device) Init(deviceName string) error {
	d.mu.Lock()
	d.name = deviceName
	d.initialized = true
	d.mu.Unlock()
	logger.Debug(d.tag(), "🔌 Initialized as %q", deviceName)
	return nil
}

func (d *Device) ready() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized || d.poweredOff {
		return ErrNotInitialized
	}
	return nil
}

// PowerOff drops every link (both roles) and stops advertising, as if the
// device was switched off. Peers see their links lost.
func (d *Device) PowerOff() {
	d.mu.Lock()
	d.poweredOff = true
	d.mu.Unlock()
	d.adv.Stop()
	_ = d.StopScan()

	d.mu.Lock()
	clients := append([]*Client(nil), d.clients...)
	server := d.server
	d.mu.Unlock()

	for _, c := range clients {
		c.linkLost(ErrLinkLost)
	}
	if server != nil {
		server.dropAll(ErrLinkLost)
	}
	logger.Info(d.tag(), "💤 Powered off")
}

// PowerOn resumes advertising if the device has a server
func (d *Device) PowerOn() error {
	logger.Info(d.tag(), "⚡ Powered on")
	d.mu.Lock()
	d.poweredOff = false
	hasServer := d.server != nil
	d.mu.Unlock()
	if !hasServer {
		return nil
	}
	return d.adv.Start()
}

// Close takes the device off the air
func (d *Device) Close() {
	d.PowerOff()
	d.air.detach(d.addr)
}

// advertisement is what an active scanner decodes from this device's
// advertising and scan response payloads
func (d *Device) advertisement() (ble.Advertisement, bool) {
	adv, rsp := d.adv.payloads()
	report, err := advertising.Parse(adv, rsp)
	if err != nil {
		logger.Warn(d.tag(), "unparseable advertisement: %v", err)
		return ble.Advertisement{}, false
	}
	return ble.Advertisement{
		Address:      d.addr,
		LocalName:    report.Name,
		ServiceUUIDs: report.Services,
		RSSI:         d.air.sim.GenerateRSSI(d.distance),
		Connectable:  true,
	}, true
}

// --- Peripheral ---

// CreateServer creates the GATT server; a device has at most one
func (d *Device) CreateServer(obs ble.ServerObserver) (ble.Server, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.server == nil {
		d.server = newServer(d)
	}
	d.server.setObserver(obs)
	return d.server, nil
}

// Advertising returns the device advertiser
func (d *Device) Advertising() ble.Advertiser {
	return d.adv
}

// Advertiser returns the concrete advertiser for test inspection
func (d *Device) Advertiser() *Advertiser {
	return d.adv
}

// Server returns the GATT server, nil until CreateServer
func (d *Device) Server() *Server {
	return d.gattServer()
}

func (d *Device) gattServer() *Server {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.server
}

// --- Central ---

// CreateClient allocates a client slot
func (d *Device) CreateClient(obs ble.ClientObserver) (ble.Client, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.clients) >= d.maxConn {
		return nil, ErrMaxConnections
	}
	c := newClient(d, obs)
	d.clients = append(d.clients, c)
	logger.Debug(d.tag(), "➕ Created client %d/%d", len(d.clients), d.maxConn)
	return c, nil
}

// ClientByAddress returns the client last linked to addr, connected or not
func (d *Device) ClientByAddress(addr ble.Address) ble.Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.clients {
		if c.PeerAddress() == addr {
			return c
		}
	}
	return nil
}

// DisconnectedClient returns an idle client slot, if any
func (d *Device) DisconnectedClient() ble.Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.clients {
		if c.State() == StateDisconnected {
			return c
		}
	}
	return nil
}

// DeleteClient disconnects (if needed) and frees a client slot
func (d *Device) DeleteClient(bc ble.Client) error {
	c, ok := bc.(*Client)
	if !ok || c.dev != d {
		return errors.New("wire: client does not belong to this device")
	}
	if c.IsConnected() {
		if err := c.Disconnect(); err != nil {
			return err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for i, cc := range d.clients {
		if cc == c {
			d.clients = append(d.clients[:i], d.clients[i+1:]...)
			c.markDeleted()
			logger.Debug(d.tag(), "➖ Deleted client (%d left)", len(d.clients))
			return nil
		}
	}
	return ble.ErrNotFound
}

// ClientCount returns the number of allocated client slots
func (d *Device) ClientCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients)
}

// MaxConnections returns the client pool capacity
func (d *Device) MaxConnections() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxConn
}

// --- Fault injection ---

type faults struct {
	mu              sync.Mutex
	failConnects    int
	hangConnects    bool
	failWriteAt     int
	writes          int
	rejectSubscribe bool
	failScan        bool
	failAdvertise   bool
}

// FailNextConnects makes the next n inbound connection attempts fail
func (d *Device) FailNextConnects(n int) {
	d.faults.mu.Lock()
	defer d.faults.mu.Unlock()
	d.faults.failConnects = n
}

// HangConnects makes inbound connection attempts stall until the
// initiator's deadline
func (d *Device) HangConnects(on bool) {
	d.faults.mu.Lock()
	defer d.faults.mu.Unlock()
	d.faults.hangConnects = on
}

// FailWriteNumber rejects the n-th characteristic write received from now
// on (1-based). Zero disables.
func (d *Device) FailWriteNumber(n int) {
	d.faults.mu.Lock()
	defer d.faults.mu.Unlock()
	d.faults.failWriteAt = n
	d.faults.writes = 0
}

// RejectSubscriptions makes CCCD writes on this device fail
func (d *Device) RejectSubscriptions(on bool) {
	d.faults.mu.Lock()
	defer d.faults.mu.Unlock()
	d.faults.rejectSubscribe = on
}

// FailScanStart makes StartScan on this device fail
func (d *Device) FailScanStart(on bool) {
	d.faults.mu.Lock()
	defer d.faults.mu.Unlock()
	d.faults.failScan = on
}

// FailAdvertising makes advertising start fail
func (d *Device) FailAdvertising(on bool) {
	d.faults.mu.Lock()
	defer d.faults.mu.Unlock()
	d.faults.failAdvertise = on
}

func (f *faults) takeConnect() (fail, hang bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failConnects > 0 {
		f.failConnects--
		return true, false
	}
	return false, f.hangConnects
}

func (f *faults) takeWrite() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	if f.failWriteAt > 0 && f.writes == f.failWriteAt {
		f.failWriteAt = 0
		return true
	}
	return false
}

func (f *faults) subscribeRejected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rejectSubscribe
}

func (f *faults) scanFails() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failScan
}

func (f *faults) advertiseFails() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failAdvertise
}

// --- Advertising ---

// Advertiser is the single advertising set of a device
type Advertiser struct {
	dev *Device

	mu           sync.Mutex
	name         string
	uuids        []ble.UUID
	scanResponse bool
	active       bool
	starts       int
	adv, rsp     []byte
}

var _ ble.Advertiser = (*Advertiser)(nil)

func (a *Advertiser) SetName(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.name = name
}

func (a *Advertiser) AddServiceUUID(id ble.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, u := range a.uuids {
		if u == id {
			return
		}
	}
	a.uuids = append(a.uuids, id)
}

func (a *Advertiser) SetScanResponse(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scanResponse = enabled
}

// Start begins (or keeps) advertising
func (a *Advertiser) Start() error {
	if err := a.dev.ready(); err != nil {
		return err
	}
	if a.dev.faults.advertiseFails() {
		return errors.New("wire: advertising rejected by controller")
	}
	fallback, tag := a.dev.Name(), a.dev.tag()
	a.mu.Lock()
	defer a.mu.Unlock()
	name := a.name
	if name == "" {
		name = fallback
	}
	adv, rsp, err := advertising.Build(name, a.uuids, a.scanResponse)
	if err != nil {
		return errors.Wrap(err, "wire: advertising data")
	}
	a.adv, a.rsp = adv, rsp
	a.active = true
	a.starts++
	logger.Trace(tag, "📡 Advertising % X / % X", adv, rsp)
	return nil
}

func (a *Advertiser) Stop() error {
	a.mu.Lock()
	was := a.active
	a.active = false
	a.mu.Unlock()
	if was {
		logger.Debug(a.dev.tag(), "📡 Stopped Advertising")
	}
	return nil
}

func (a *Advertiser) IsAdvertising() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Starts counts successful Start calls
func (a *Advertiser) Starts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.starts
}

// ScanResponse reports whether scan responses are enabled
func (a *Advertiser) ScanResponse() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanResponse
}

func (a *Advertiser) payloads() (adv, rsp []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.adv, a.rsp
}

// stopOnConnect mirrors controllers that stop advertising once a central
// connects
func (a *Advertiser) stopOnConnect() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = false
}

// --- Scanning ---

type scanSession struct {
	obs  ble.ScanObserver
	stop chan struct{}
	once sync.Once
}

func (s *scanSession) close() {
	s.once.Do(func() { close(s.stop) })
}

func (s *scanSession) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// StartScan reports each advertising device once per scan. Results and the
// scan-ended callback arrive on a separate goroutine.
func (d *Device) StartScan(duration time.Duration, obs ble.ScanObserver) error {
	if err := d.ready(); err != nil {
		return err
	}
	if d.faults.scanFails() {
		return errors.New("wire: scan rejected by controller")
	}

	d.mu.Lock()
	if d.scan != nil {
		d.mu.Unlock()
		return ble.ErrBusy
	}
	s := &scanSession{obs: obs, stop: make(chan struct{})}
	d.scan = s
	d.mu.Unlock()

	logger.Debug(d.tag(), "🔍 Scan started (duration=%v)", duration)
	go d.runScan(s, duration)
	return nil
}

// StopScan ends the current scan; results no longer arrive once it returns
func (d *Device) StopScan() error {
	d.mu.Lock()
	s := d.scan
	d.scan = nil
	d.mu.Unlock()
	if s != nil {
		s.close()
		logger.Debug(d.tag(), "🔍 Scan stopped")
	}
	return nil
}

// IsScanning reports whether a scan is running
func (d *Device) IsScanning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scan != nil
}

func (d *Device) runScan(s *scanSession, duration time.Duration) {
	var deadline <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		deadline = timer.C
	}

	seen := make(map[ble.Address]bool)
	wait := d.air.sim.DiscoveryDelay()
	for {
		select {
		case <-s.stop:
			return
		case <-deadline:
			d.mu.Lock()
			if d.scan == s {
				d.scan = nil
			}
			d.mu.Unlock()
			s.close()
			logger.Debug(d.tag(), "🔍 Scan ended after %v", duration)
			if s.obs != nil {
				s.obs.OnScanEnded()
			}
			return
		case <-time.After(wait):
		}

		for _, peer := range d.air.advertisers() {
			if peer == d || seen[peer.addr] {
				continue
			}
			if s.stopped() {
				return
			}
			seen[peer.addr] = true
			adv, ok := peer.advertisement()
			if !ok {
				continue
			}
			logger.Trace(d.tag(), "📻 Discovered %s %q rssi=%d", adv.Address, adv.LocalName, adv.RSSI)
			if s.obs != nil {
				s.obs.OnResult(adv)
			}
		}
		wait = d.air.sim.ScanInterval()
	}
}

func shortAddr(a ble.Address) string {
	s := string(a)
	if len(s) <= 8 {
		return s
	}
	return s[len(s)-8:]
}
