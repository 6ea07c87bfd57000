package wire

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/user/spark-bridge/ble"
	"github.com/user/spark-bridge/logger"
	"github.com/user/spark-bridge/wire/att"
	"github.com/user/spark-bridge/wire/gatt"
)

// Server is the GATT server of a Device. It accepts any number of centrals.
type Server struct {
	dev *Device

	mu         sync.Mutex
	obs        ble.ServerObserver
	services   []*LocalService
	links      map[ble.Address]*Client
	nextHandle uint16
}

var _ ble.Server = (*Server)(nil)

func newServer(d *Device) *Server {
	return &Server{
		dev:        d,
		links:      make(map[ble.Address]*Client),
		nextHandle: 0x0001,
	}
}

func (s *Server) setObserver(obs ble.ServerObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs = obs
}

func (s *Server) observer() ble.ServerObserver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.obs
}

// CreateService adds a service; it is invisible to peers until Start
func (s *Server) CreateService(id ble.UUID) (ble.LocalService, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, svc := range s.services {
		if svc.uuid == id {
			return nil, errors.Errorf("wire: service %s already exists", id)
		}
	}
	svc := &LocalService{server: s, uuid: id, handle: s.allocHandle()}
	s.services = append(s.services, svc)
	logger.Info(s.dev.tag(), "📋 Added Service to GATT: %s", id)
	return svc, nil
}

// allocHandle must be called with s.mu held
func (s *Server) allocHandle() uint16 {
	h := s.nextHandle
	s.nextHandle++
	return h
}

// ConnectedCount returns the number of connected centrals
func (s *Server) ConnectedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

// Peers returns the addresses of the connected centrals
func (s *Server) Peers() []ble.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ble.Address, 0, len(s.links))
	for a := range s.links {
		out = append(out, a)
	}
	return out
}

func (s *Server) service(id ble.UUID) *LocalService {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, svc := range s.services {
		if svc.uuid == id && svc.isStarted() {
			return svc
		}
	}
	return nil
}

func (s *Server) link(peer ble.Address) *Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.links[peer]
}

func (s *Server) accept(peer ble.Address, c *Client) {
	s.mu.Lock()
	s.links[peer] = c
	obs := s.obs
	s.mu.Unlock()

	s.dev.adv.stopOnConnect()
	logger.Debug(s.dev.tag(), "🤝 Central %s connected", peer)
	if obs != nil {
		obs.OnConnect(peer)
	}
}

// drop forgets a central and its subscriptions
func (s *Server) drop(peer ble.Address) {
	s.mu.Lock()
	_, ok := s.links[peer]
	delete(s.links, peer)
	services := append([]*LocalService(nil), s.services...)
	obs := s.obs
	s.mu.Unlock()
	if !ok {
		return
	}

	for _, svc := range services {
		for _, ch := range svc.characteristicsSnapshot() {
			ch.cccd.Remove(string(peer))
		}
	}
	logger.Debug(s.dev.tag(), "👋 Central %s disconnected", peer)
	if obs != nil {
		obs.OnDisconnect(peer)
	}
}

// dropAll tears down every inbound link from the server side
func (s *Server) dropAll(reason error) {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.links))
	for _, c := range s.links {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.linkLost(reason)
	}
}

// Disconnect drops one central from the server side
func (s *Server) Disconnect(peer ble.Address) error {
	c := s.link(peer)
	if c == nil {
		return ble.ErrNotConnected
	}
	c.linkLost(ErrLinkLost)
	return nil
}

// LocalService is a service hosted by a Server
type LocalService struct {
	server *Server
	uuid   ble.UUID
	handle uint16

	mu      sync.Mutex
	chars   []*LocalCharacteristic
	started bool
}

var _ ble.LocalService = (*LocalService)(nil)

func (l *LocalService) UUID() ble.UUID { return l.uuid }

// CreateCharacteristic adds a characteristic; notifiable ones get a CCCD
func (l *LocalService) CreateCharacteristic(id ble.UUID, props ble.Property, obs ble.CharacteristicObserver) (ble.LocalCharacteristic, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return nil, errors.New("wire: service already started")
	}
	for _, ch := range l.chars {
		if ch.uuid == id {
			return nil, errors.Errorf("wire: characteristic %s already exists", id)
		}
	}

	l.server.mu.Lock()
	// declaration + value handle, plus the CCCD when notifiable
	decl := l.server.allocHandle()
	value := l.server.allocHandle()
	if props.CanNotify() {
		l.server.allocHandle()
	}
	l.server.mu.Unlock()

	ch := &LocalCharacteristic{
		svc:    l,
		uuid:   id,
		props:  props,
		obs:    obs,
		handle: value,
		cccd:   gatt.NewCCCDManager(),
	}
	l.chars = append(l.chars, ch)
	logger.Trace(l.server.dev.tag(), "   char %s decl=0x%04X value=0x%04X props=%s", id, decl, value, props)
	return ch, nil
}

// Start publishes the service to peers
func (l *LocalService) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = true
	return nil
}

func (l *LocalService) isStarted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started
}

func (l *LocalService) characteristic(id ble.UUID) *LocalCharacteristic {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ch := range l.chars {
		if ch.uuid == id {
			return ch
		}
	}
	return nil
}

func (l *LocalService) characteristicsSnapshot() []*LocalCharacteristic {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*LocalCharacteristic(nil), l.chars...)
}

// LocalCharacteristic is a characteristic hosted by a Server
type LocalCharacteristic struct {
	svc    *LocalService
	uuid   ble.UUID
	props  ble.Property
	obs    ble.CharacteristicObserver
	handle uint16
	cccd   *gatt.CCCDManager

	mu       sync.Mutex
	value    []byte
	notified int
}

var _ ble.LocalCharacteristic = (*LocalCharacteristic)(nil)

func (c *LocalCharacteristic) UUID() ble.UUID { return c.uuid }

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

// Subscribers returns the peers with notifications or indications enabled
func (c *LocalCharacteristic) Subscribers() []string {
	return c.cccd.Subscribers()
}

// Notified counts notifications handed to the air
func (c *LocalCharacteristic) Notified() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notified
}

// Notify pushes the current value to every subscribed central, in order,
// before returning. Lost packets are dropped silently.
func (c *LocalCharacteristic) Notify() error {
	if !c.props.CanNotify() {
		return errors.Wrap(ble.ErrUnsupported, "wire: characteristic cannot notify")
	}
	value := c.Value()
	server := c.svc.server
	sim := server.dev.air.sim

	for _, peer := range c.cccd.Subscribers() {
		client := server.link(ble.Address(peer))
		if client == nil {
			continue
		}
		c.mu.Lock()
		c.notified++
		c.mu.Unlock()
		if !sim.ShouldPacketSucceed() {
			logger.Trace(server.dev.tag(), "📉 Dropped notification to %s", peer)
			continue
		}
		if client.deliver(c.uuid, append([]byte(nil), value...)) {
			logger.Trace(server.dev.tag(), "📤 Sent notification to central %s (%d bytes)", peer, len(value))
		}
	}
	return nil
}

func (c *LocalCharacteristic) receiveWrite(peer ble.Address, data []byte) {
	c.SetValue(data)
	logger.Trace(c.svc.server.dev.tag(), "📥 Write from %s on %s (%d bytes)", peer, c.uuid, len(data))
	if c.obs != nil {
		c.obs.OnWrite(c, peer, append([]byte(nil), data...))
	}
}

func (c *LocalCharacteristic) writeCCCD(peer ble.Address, value []byte) error {
	if c.svc.server.dev.faults.subscribeRejected() {
		return att.NewError(att.ErrCCCDImproperlyConfigured, att.OpWriteRequest, c.handle+1)
	}
	state, err := c.cccd.SetSubscription(string(peer), value)
	if err != nil {
		return err
	}
	if state.NotifyEnabled || state.IndicateEnabled {
		logger.Trace(c.svc.server.dev.tag(), "🔔 Central %s subscribed to %s", peer, c.uuid)
	} else {
		logger.Trace(c.svc.server.dev.tag(), "🔕 Central %s unsubscribed from %s", peer, c.uuid)
	}
	if c.obs != nil {
		c.obs.OnSubscribe(c, peer, state.Value())
	}
	return nil
}
