//go:build linux

package tinyble

import (
	"sync"

	"github.com/pkg/errors"
	"tinygo.org/x/bluetooth"

	"github.com/user/spark-bridge/ble"
	"github.com/user/spark-bridge/logger"
)

// Server is the adapter's GATT server. Services are registered with the
// controller when started.
type Server struct {
	stack *Stack
	obs   ble.ServerObserver

	mu    sync.Mutex
	peers map[ble.Address]bool
	last  ble.Address
}

var _ ble.Server = (*Server)(nil)

func (s *Server) CreateService(id ble.UUID) (ble.LocalService, error) {
	return &LocalService{server: s, id: id}, nil
}

func (s *Server) ConnectedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

func (s *Server) linkEvent(peer ble.Address, connected bool) {
	s.mu.Lock()
	if connected {
		s.peers[peer] = true
		s.last = peer
	} else {
		delete(s.peers, peer)
	}
	s.mu.Unlock()

	if connected {
		s.stack.adv.connected()
	}
	if s.obs == nil {
		return
	}
	if connected {
		s.obs.OnConnect(peer)
	} else {
		s.obs.OnDisconnect(peer)
	}
}

// writer guesses the peer behind a write; the backend does not report it
func (s *Server) writer() ble.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// LocalService collects characteristics until Start registers them
type LocalService struct {
	server *Server
	id     ble.UUID

	mu      sync.Mutex
	chars   []*LocalCharacteristic
	started bool
}

func (l *LocalService) UUID() ble.UUID { return l.id }

func (l *LocalService) CreateCharacteristic(id ble.UUID, props ble.Property, obs ble.CharacteristicObserver) (ble.LocalCharacteristic, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return nil, errors.New("tinyble: service already started")
	}
	c := &LocalCharacteristic{svc: l, id: id, props: props, obs: obs}
	l.chars = append(l.chars, c)
	return c, nil
}

func permissions(p ble.Property) bluetooth.CharacteristicPermissions {
	var perm bluetooth.CharacteristicPermissions
	if p.Has(ble.PropBroadcast) {
		perm |= bluetooth.CharacteristicBroadcastPermission
	}
	if p.Has(ble.PropRead) {
		perm |= bluetooth.CharacteristicReadPermission
	}
	if p.Has(ble.PropWriteWithoutResponse) {
		perm |= bluetooth.CharacteristicWriteWithoutResponsePermission
	}
	if p.Has(ble.PropWrite) {
		perm |= bluetooth.CharacteristicWritePermission
	}
	if p.Has(ble.PropNotify) {
		perm |= bluetooth.CharacteristicNotifyPermission
	}
	if p.Has(ble.PropIndicate) {
		perm |= bluetooth.CharacteristicIndicatePermission
	}
	return perm
}

// Start registers the service and its characteristics with the controller
func (l *LocalService) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return nil
	}

	configs := make([]bluetooth.CharacteristicConfig, 0, len(l.chars))
	for _, c := range l.chars {
		c := c
		configs = append(configs, bluetooth.CharacteristicConfig{
			Handle: &c.handle,
			UUID:   toUUID(c.id),
			Value:  c.Value(),
			Flags:  permissions(c.props),
			WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {
				c.receiveWrite(append([]byte(nil), value...))
			},
		})
	}
	err := l.server.stack.adapter.AddService(&bluetooth.Service{
		UUID:            toUUID(l.id),
		Characteristics: configs,
	})
	if err != nil {
		return errors.Wrapf(err, "tinyble: add service %s", l.id)
	}
	l.started = true
	logger.Info("TinyBLE", "📋 Service %s registered (%d characteristics)", l.id, len(configs))
	return nil
}

// LocalCharacteristic is one characteristic of a LocalService
type LocalCharacteristic struct {
	svc    *LocalService
	id     ble.UUID
	props  ble.Property
	obs    ble.CharacteristicObserver
	handle bluetooth.Characteristic

	mu    sync.Mutex
	value []byte
}

func (c *LocalCharacteristic) UUID() ble.UUID { return c.id }

func (c *LocalCharacteristic) Value() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.value...)
}

func (c *LocalCharacteristic) SetValue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = append([]byte(nil), data...)
}

// Notify writes the current value through the controller, which notifies
// every subscribed central
func (c *LocalCharacteristic) Notify() error {
	if !c.props.CanNotify() {
		return errors.Wrap(ble.ErrUnsupported, "tinyble: characteristic cannot notify")
	}
	if _, err := c.handle.Write(c.Value()); err != nil {
		return errors.Wrapf(err, "tinyble: notify %s", c.id)
	}
	return nil
}

func (c *LocalCharacteristic) receiveWrite(data []byte) {
	c.SetValue(data)
	if c.obs != nil {
		c.obs.OnWrite(c, c.svc.server.writer(), data)
	}
}

// Advertiser drives the adapter's default advertisement
type Advertiser struct {
	stack *Stack

	mu           sync.Mutex
	name         string
	services     []ble.UUID
	scanResponse bool
	active       bool
	configured   bool
}

func (a *Advertiser) SetName(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.name = name
	a.configured = false
}

func (a *Advertiser) AddServiceUUID(id ble.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, have := range a.services {
		if have == id {
			return
		}
	}
	a.services = append(a.services, id)
	a.configured = false
}

// SetScanResponse is recorded only; BlueZ decides what goes in the scan
// response
func (a *Advertiser) SetScanResponse(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scanResponse = enabled
}

// Start configures (once per change) and starts advertising. It is
// idempotent.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active {
		return nil
	}
	adv := a.stack.adapter.DefaultAdvertisement()
	if !a.configured {
		ids := make([]bluetooth.UUID, len(a.services))
		for i, id := range a.services {
			ids[i] = toUUID(id)
		}
		if err := adv.Configure(bluetooth.AdvertisementOptions{
			LocalName:    a.name,
			ServiceUUIDs: ids,
		}); err != nil {
			return errors.Wrap(err, "tinyble: configure advertisement")
		}
		a.configured = true
	}
	if err := adv.Start(); err != nil {
		return errors.Wrap(err, "tinyble: start advertising")
	}
	a.active = true
	return nil
}

func (a *Advertiser) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return nil
	}
	a.active = false
	return errors.Wrap(a.stack.adapter.DefaultAdvertisement().Stop(), "tinyble: stop advertising")
}

func (a *Advertiser) IsAdvertising() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// connected mirrors the controller, which stops advertising on connect
func (a *Advertiser) connected() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active = false
}
