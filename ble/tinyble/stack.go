//go:build linux

// Package tinyble runs the bridge on a real BLE controller through
// tinygo.org/x/bluetooth (BlueZ on Linux).
package tinyble

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"tinygo.org/x/bluetooth"

	"github.com/user/spark-bridge/ble"
	"github.com/user/spark-bridge/logger"
)

// Options tune the hardware stack
type Options struct {
	// MaxConnections caps outbound clients; the controller limit applies too
	MaxConnections int
	// Watch lists the service UUIDs reported in scan results. The backend
	// only answers "does it advertise X", so unknown services are not listed.
	Watch []ble.UUID
}

// Stack implements ble.Stack on one adapter
type Stack struct {
	adapter *bluetooth.Adapter
	opts    Options

	mu       sync.Mutex
	enabled  bool
	name     string
	scanning bool
	scanGen  int
	seen     map[string]bluetooth.Address
	clients  []*Client
	server   *Server
	adv      *Advertiser
}

var _ ble.Stack = (*Stack)(nil)

// New wraps the default adapter
func New(opts Options) *Stack {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = 3
	}
	s := &Stack{
		adapter: bluetooth.DefaultAdapter,
		opts:    opts,
		seen:    make(map[string]bluetooth.Address),
	}
	s.adv = &Advertiser{stack: s}
	return s
}

// Init enables the adapter and routes link events. The device name becomes
// the adapter alias, which BlueZ uses as the advertised name.
func (s *Stack) Init(deviceName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled {
		return nil
	}
	if err := s.adapter.Enable(); err != nil {
		return errors.Wrap(err, "tinyble: enable adapter")
	}
	s.adapter.SetConnectHandler(s.onConnectEvent)
	s.name = deviceName
	s.enabled = true

	if err := setAlias(deviceName); err != nil {
		logger.Warn("TinyBLE", "could not set adapter alias: %v", err)
	}
	if addr, err := s.adapter.Address(); err == nil {
		logger.Info("TinyBLE", "✅ Adapter %s enabled as %q", addr.MAC.String(), deviceName)
	}
	return nil
}

// onConnectEvent fires for links in both roles; clients we own claim theirs
// first and the rest belong to the server
func (s *Stack) onConnectEvent(device bluetooth.Device, connected bool) {
	addr := ble.Address(device.Address.String())

	s.mu.Lock()
	var owner *Client
	for _, c := range s.clients {
		if c.PeerAddress() == addr {
			owner = c
			break
		}
	}
	server := s.server
	s.mu.Unlock()

	if owner != nil {
		if !connected {
			owner.linkLost(errors.New("tinyble: link lost"))
		}
		return
	}
	if server != nil {
		server.linkEvent(addr, connected)
	}
}

// --- Scanner ---

// StartScan runs discovery on a background goroutine. A zero duration scans
// until StopScan.
func (s *Stack) StartScan(duration time.Duration, obs ble.ScanObserver) error {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return errors.New("tinyble: adapter not enabled")
	}
	if s.scanning {
		s.mu.Unlock()
		return ble.ErrBusy
	}
	s.scanning = true
	s.scanGen++
	gen := s.scanGen
	s.mu.Unlock()

	var timedOut bool
	var timerMu sync.Mutex
	if duration > 0 {
		time.AfterFunc(duration, func() {
			s.mu.Lock()
			current := s.scanning && s.scanGen == gen
			s.mu.Unlock()
			if !current {
				return
			}
			timerMu.Lock()
			timedOut = true
			timerMu.Unlock()
			s.adapter.StopScan()
		})
	}

	errc := make(chan error, 1)
	go func() {
		err := s.adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
			s.mu.Lock()
			active := s.scanning && s.scanGen == gen
			if active {
				s.seen[result.Address.String()] = result.Address
			}
			s.mu.Unlock()
			if !active {
				return
			}
			if obs != nil {
				obs.OnResult(s.advertisement(result))
			}
		})

		s.mu.Lock()
		if s.scanGen == gen {
			s.scanning = false
		}
		s.mu.Unlock()

		select {
		case errc <- err:
		default:
		}
		if err != nil {
			logger.Warn("TinyBLE", "scan stopped: %v", err)
			return
		}
		timerMu.Lock()
		ended := timedOut
		timerMu.Unlock()
		if ended && obs != nil {
			obs.OnScanEnded()
		}
	}()

	// an immediate failure (adapter busy, powered off) surfaces here
	select {
	case err := <-errc:
		if err != nil {
			return errors.Wrap(err, "tinyble: start scan")
		}
	case <-time.After(50 * time.Millisecond):
	}
	logger.Debug("TinyBLE", "🔍 Scan started (duration=%v)", duration)
	return nil
}

func (s *Stack) advertisement(r bluetooth.ScanResult) ble.Advertisement {
	adv := ble.Advertisement{
		Address:     ble.Address(r.Address.String()),
		LocalName:   r.LocalName(),
		RSSI:        int(r.RSSI),
		Connectable: true,
	}
	for _, id := range s.opts.Watch {
		if r.HasServiceUUID(toUUID(id)) {
			adv.ServiceUUIDs = append(adv.ServiceUUIDs, id)
		}
	}
	return adv
}

// StopScan ends discovery; no more results are reported once it returns
func (s *Stack) StopScan() error {
	s.mu.Lock()
	was := s.scanning
	s.scanning = false
	s.mu.Unlock()
	if !was {
		return nil
	}
	if err := s.adapter.StopScan(); err != nil {
		return errors.Wrap(err, "tinyble: stop scan")
	}
	return nil
}

// IsScanning reports whether discovery is running
func (s *Stack) IsScanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanning
}

// --- Central ---

func (s *Stack) CreateClient(obs ble.ClientObserver) (ble.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) >= s.opts.MaxConnections {
		return nil, errors.Errorf("tinyble: %d clients in use", len(s.clients))
	}
	c := &Client{stack: s, obs: obs, timeout: 5 * time.Second}
	s.clients = append(s.clients, c)
	return c, nil
}

func (s *Stack) ClientByAddress(addr ble.Address) ble.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if c.PeerAddress() == addr {
			return c
		}
	}
	return nil
}

func (s *Stack) DisconnectedClient() ble.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		if !c.IsConnected() {
			return c
		}
	}
	return nil
}

func (s *Stack) DeleteClient(bc ble.Client) error {
	c, ok := bc.(*Client)
	if !ok {
		return errors.New("tinyble: foreign client")
	}
	c.Disconnect()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, have := range s.clients {
		if have == c {
			s.clients = append(s.clients[:i], s.clients[i+1:]...)
			return nil
		}
	}
	return ble.ErrNotFound
}

func (s *Stack) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Stack) MaxConnections() int { return s.opts.MaxConnections }

// resolve returns the controller address for a discovered peer
func (s *Stack) resolve(addr ble.Address) (bluetooth.Address, error) {
	s.mu.Lock()
	a, ok := s.seen[string(addr)]
	s.mu.Unlock()
	if ok {
		return a, nil
	}
	mac, err := bluetooth.ParseMAC(string(addr))
	if err != nil {
		return bluetooth.Address{}, errors.Wrapf(ble.ErrNotFound, "tinyble: %s", addr)
	}
	return bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}, nil
}

// --- Peripheral ---

func (s *Stack) CreateServer(obs ble.ServerObserver) (ble.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return nil, errors.New("tinyble: server already created")
	}
	s.server = &Server{stack: s, obs: obs, peers: make(map[ble.Address]bool)}
	return s.server, nil
}

func (s *Stack) Advertising() ble.Advertiser { return s.adv }

func toUUID(id ble.UUID) bluetooth.UUID {
	return bluetooth.NewUUID([16]byte(id))
}

func fromUUID(id bluetooth.UUID) ble.UUID {
	u, err := uuid.Parse(id.String())
	if err != nil {
		return ble.UUID{}
	}
	return u
}
