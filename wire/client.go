package wire

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/user/spark-bridge/ble"
	"github.com/user/spark-bridge/logger"
	"github.com/user/spark-bridge/wire/att"
	"github.com/user/spark-bridge/wire/gatt"
)

// Client is one outbound link slot of a Device
type Client struct {
	dev *Device
	obs ble.ClientObserver

	mu       sync.Mutex
	state    ConnectionState
	peer     ble.Address
	remote   *Device
	params   ble.ConnParams
	timeout  time.Duration
	deleted  bool
	services map[ble.UUID]*remoteService
	subs     map[ble.UUID]func([]byte)
}

var _ ble.Client = (*Client)(nil)

func newClient(d *Device, obs ble.ClientObserver) *Client {
	return &Client{
		dev:     d,
		obs:     obs,
		params:  ble.DefaultConnParams(),
		timeout: DefaultConnectTimeout,
	}
}

// SetConnectionParams validates and stores the parameters used on connect
func (c *Client) SetConnectionParams(p ble.ConnParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params = p
	return nil
}

// ConnParams returns the parameters the client connects with
func (c *Client) ConnParams() ble.ConnParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

// SetConnectTimeout bounds Connect; zero means wait for the context only
func (c *Client) SetConnectTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

// State returns the link state
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// PeerAddress returns the address of the last peer, kept after disconnect
func (c *Client) PeerAddress() ble.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

func (c *Client) markDeleted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = true
}

// Connect links to target. The service cache survives when refreshServices
// is false and the peer is unchanged.
func (c *Client) Connect(ctx context.Context, target ble.Address, refreshServices bool) error {
	c.mu.Lock()
	if c.deleted {
		c.mu.Unlock()
		return ErrClientDeleted
	}
	switch c.state {
	case StateConnected:
		same := c.peer == target
		c.mu.Unlock()
		if same {
			return nil
		}
		return ble.ErrBusy
	case StateConnecting:
		c.mu.Unlock()
		return ble.ErrBusy
	}
	c.state = StateConnecting
	timeout := c.timeout
	c.mu.Unlock()

	fail := func(err error) error {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		logger.Debug(c.dev.tag(), "❌ Connect to %s failed: %v", target, err)
		return err
	}

	remote := c.dev.air.device(target)
	if remote == nil || !remote.adv.IsAdvertising() {
		return fail(errors.Wrapf(ble.ErrNotFound, "wire: %s not connectable", target))
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	failNow, hang := remote.faults.takeConnect()
	var delay <-chan time.Time
	if !hang {
		delay = time.After(c.dev.air.sim.ConnectionDelay())
	}
	select {
	case <-delay:
	case <-ctx.Done():
		return fail(errors.Wrapf(ble.ErrTimeout, "wire: connect to %s: %v", target, ctx.Err()))
	}

	if failNow || !c.dev.air.sim.ShouldConnectionSucceed() {
		return fail(errors.Wrapf(ErrConnectionFailed, "wire: %s", target))
	}
	server := remote.gattServer()
	if server == nil {
		return fail(errors.Wrapf(ble.ErrNotFound, "wire: %s has no GATT server", target))
	}

	c.mu.Lock()
	if refreshServices || c.services == nil || c.peer != target {
		c.services = make(map[ble.UUID]*remoteService)
	}
	c.subs = make(map[ble.UUID]func([]byte))
	c.peer = target
	c.remote = remote
	c.state = StateConnected
	c.mu.Unlock()

	server.accept(c.dev.addr, c)
	logger.Debug(c.dev.tag(), "🔗 Connected to %s (%s)", target, c.ConnParams())
	if c.obs != nil {
		c.obs.OnConnect(c)
	}
	return nil
}

// Disconnect drops the link; the peer sees it go away
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return nil
	}
	remote := c.remote
	c.state = StateDisconnected
	c.remote = nil
	c.subs = nil
	c.mu.Unlock()

	if server := remote.gattServer(); server != nil {
		server.drop(c.dev.addr)
	}
	logger.Debug(c.dev.tag(), "🔌 Disconnected from %s", remote.addr)
	if c.obs != nil {
		c.obs.OnDisconnect(c, nil)
	}
	return nil
}

// linkLost is the remote side (or the air) tearing the link down
func (c *Client) linkLost(reason error) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	remote := c.remote
	c.state = StateDisconnected
	c.remote = nil
	c.subs = nil
	c.mu.Unlock()

	if server := remote.gattServer(); server != nil {
		server.drop(c.dev.addr)
	}
	logger.Debug(c.dev.tag(), "💔 Link to %s lost: %v", remote.addr, reason)
	if c.obs != nil {
		c.obs.OnDisconnect(c, reason)
	}
}

// link returns the remote device while connected
func (c *Client) link() (*Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.remote == nil {
		return nil, ble.ErrNotConnected
	}
	return c.remote, nil
}

// Service resolves a primary service on the peer, using the cache when warm
func (c *Client) Service(ctx context.Context, id ble.UUID) (ble.RemoteService, error) {
	remote, err := c.link()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if rs, ok := c.services[id]; ok {
		c.mu.Unlock()
		return rs, nil
	}
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	server := remote.gattServer()
	if server == nil {
		return nil, errors.Wrapf(ble.ErrNotFound, "wire: service %s", id)
	}
	svc := server.service(id)
	if svc == nil {
		return nil, errors.Wrapf(ble.ErrNotFound, "wire: service %s", id)
	}

	rs := &remoteService{client: c, local: svc}
	c.mu.Lock()
	if c.services != nil {
		c.services[id] = rs
	}
	c.mu.Unlock()
	logger.Trace(c.dev.tag(), "🔎 Discovered service %s on %s", id, remote.addr)
	return rs, nil
}

func (c *Client) subscribe(id ble.UUID, fn func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return ble.ErrNotConnected
	}
	c.subs[id] = fn
	return nil
}

// deliver hands a notification to the registered callback
func (c *Client) deliver(id ble.UUID, data []byte) bool {
	c.mu.Lock()
	fn := c.subs[id]
	c.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(data)
	return true
}

type remoteService struct {
	client *Client
	local  *LocalService
}

func (s *remoteService) UUID() ble.UUID { return s.local.uuid }

func (s *remoteService) Characteristic(id ble.UUID) (ble.RemoteCharacteristic, error) {
	ch := s.local.characteristic(id)
	if ch == nil {
		return nil, errors.Wrapf(ble.ErrNotFound, "wire: characteristic %s", id)
	}
	return &remoteCharacteristic{client: s.client, local: ch}, nil
}

type remoteCharacteristic struct {
	client *Client
	local  *LocalCharacteristic
}

func (r *remoteCharacteristic) UUID() ble.UUID           { return r.local.uuid }
func (r *remoteCharacteristic) Properties() ble.Property { return r.local.props }

func (r *remoteCharacteristic) Descriptor(id ble.UUID) (ble.RemoteDescriptor, error) {
	if id != ble.CCCDUUID || !r.local.props.CanNotify() {
		return nil, errors.Wrapf(ble.ErrNotFound, "wire: descriptor %s", id)
	}
	return &remoteDescriptor{char: r}, nil
}

// WriteValue delivers data to the peer characteristic. Acknowledged writes
// survive packet loss through retries; unacknowledged ones may vanish.
func (r *remoteCharacteristic) WriteValue(ctx context.Context, data []byte, withResponse bool) error {
	remote, err := r.client.link()
	if err != nil {
		return err
	}
	op := uint8(att.OpWriteCommand)
	if withResponse {
		op = att.OpWriteRequest
		if !r.local.props.Has(ble.PropWrite) {
			return errors.Wrap(ble.ErrUnsupported, "wire: write with response")
		}
	} else if !r.local.props.Has(ble.PropWriteWithoutResponse) {
		return errors.Wrap(ble.ErrUnsupported, "wire: write without response")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if remote.faults.takeWrite() {
		return att.NewError(att.ErrWriteRequestRejected, op, r.local.handle)
	}

	sim := r.client.dev.air.sim
	delivered := sim.ShouldPacketSucceed()
	if withResponse {
		for retry := 0; !delivered && retry < sim.Config().MaxRetries; retry++ {
			time.Sleep(sim.RetryDelay())
			delivered = sim.ShouldPacketSucceed()
		}
		if !delivered {
			return errors.Wrapf(ble.ErrTimeout, "wire: write to %s lost", r.local.uuid)
		}
	} else if !delivered {
		logger.Trace(r.client.dev.tag(), "📉 Dropped write command (%d bytes)", len(data))
		return nil
	}

	r.local.receiveWrite(r.client.dev.addr, data)
	return nil
}

// Subscribe registers fn and enables the CCCD if it is not enabled yet
func (r *remoteCharacteristic) Subscribe(notifications bool, fn func([]byte)) error {
	if _, err := r.client.link(); err != nil {
		return err
	}
	if !r.local.props.CanNotify() {
		return errors.Wrap(ble.ErrUnsupported, "wire: characteristic cannot notify")
	}
	if err := r.client.subscribe(r.local.uuid, fn); err != nil {
		return err
	}
	peer := r.client.dev.addr
	if st, ok := r.local.cccd.GetSubscription(string(peer)); ok && (st.NotifyEnabled || st.IndicateEnabled) {
		return nil
	}
	return r.local.writeCCCD(peer, gatt.EncodeCCCDValue(notifications, !notifications))
}

type remoteDescriptor struct {
	char *remoteCharacteristic
}

func (d *remoteDescriptor) UUID() ble.UUID { return ble.CCCDUUID }

func (d *remoteDescriptor) WriteValue(ctx context.Context, data []byte, withResponse bool) error {
	if _, err := d.char.client.link(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.char.local.writeCCCD(d.char.client.dev.addr, data)
}
