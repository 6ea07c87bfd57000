//go:build linux

package tinyble

import (
	"context"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"tinygo.org/x/bluetooth"

	"github.com/user/spark-bridge/ble"
	"github.com/user/spark-bridge/logger"
)

// Client is one outbound connection slot on the adapter
type Client struct {
	stack *Stack
	obs   ble.ClientObserver

	mu        sync.Mutex
	params    ble.ConnParams
	timeout   time.Duration
	peer      ble.Address
	device    bluetooth.Device
	connected bool
	services  map[ble.UUID]*remoteService
}

var _ ble.Client = (*Client)(nil)

func (c *Client) SetConnectionParams(p ble.ConnParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params = p
	return nil
}

func (c *Client) SetConnectTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) PeerAddress() ble.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

// objectPath is the BlueZ path of the connected peer
func (c *Client) objectPath() dbus.ObjectPath {
	c.mu.Lock()
	defer c.mu.Unlock()
	return devicePath(c.device.Address.MAC.String())
}

func (c *Client) connectionParams() bluetooth.ConnectionParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := bluetooth.ConnectionParams{
		ConnectionTimeout: bluetooth.NewDuration(c.timeout),
	}
	if c.params.IntervalMin > 0 {
		cp.MinInterval = bluetooth.NewDuration(c.params.IntervalMinDuration())
		cp.MaxInterval = bluetooth.NewDuration(c.params.IntervalMaxDuration())
		cp.Timeout = bluetooth.NewDuration(c.params.SupervisionTimeoutDuration())
	}
	return cp
}

// Connect links to target. BlueZ keeps the service database of bonded and
// recently seen peers, so refreshServices only decides whether our own
// handle cache survives.
func (c *Client) Connect(ctx context.Context, target ble.Address, refreshServices bool) error {
	if c.IsConnected() {
		if c.PeerAddress() == target {
			return nil
		}
		return ble.ErrBusy
	}
	addr, err := c.stack.resolve(target)
	if err != nil {
		return err
	}

	// claim the address first so the link event is routed to this client
	c.mu.Lock()
	timeout := c.timeout
	if c.peer != target {
		c.services = nil
	}
	c.peer = target
	c.mu.Unlock()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		dev bluetooth.Device
		err error
	}
	done := make(chan result, 1)
	params := c.connectionParams()
	go func() {
		dev, err := c.stack.adapter.Connect(addr, params)
		done <- result{dev, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		// a late success must not leak a link
		go func() {
			if late := <-done; late.err == nil {
				late.dev.Disconnect()
			}
		}()
		return errors.Wrapf(ble.ErrTimeout, "tinyble: connect to %s: %v", target, ctx.Err())
	}
	if res.err != nil {
		return errors.Wrapf(res.err, "tinyble: connect to %s", target)
	}

	c.mu.Lock()
	if refreshServices || c.services == nil {
		c.services = make(map[ble.UUID]*remoteService)
	}
	c.device = res.dev
	c.connected = true
	c.mu.Unlock()

	logger.Debug("TinyBLE", "🔗 Connected to %s", target)
	if c.obs != nil {
		c.obs.OnConnect(c)
	}
	return nil
}

func (c *Client) Disconnect() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	dev := c.device
	c.connected = false
	c.mu.Unlock()

	err := dev.Disconnect()
	if c.obs != nil {
		c.obs.OnDisconnect(c, nil)
	}
	return errors.Wrap(err, "tinyble: disconnect")
}

func (c *Client) linkLost(reason error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.mu.Unlock()
	logger.Debug("TinyBLE", "💔 Link to %s lost", c.PeerAddress())
	if c.obs != nil {
		c.obs.OnDisconnect(c, reason)
	}
}

// Service discovers a primary service, using the handle cache when warm
func (c *Client) Service(ctx context.Context, id ble.UUID) (ble.RemoteService, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, ble.ErrNotConnected
	}
	if svc, ok := c.services[id]; ok {
		c.mu.Unlock()
		return svc, nil
	}
	dev := c.device
	c.mu.Unlock()

	found, err := dev.DiscoverServices([]bluetooth.UUID{toUUID(id)})
	if err != nil {
		return nil, errors.Wrapf(err, "tinyble: discover %s", id)
	}
	if len(found) == 0 {
		return nil, errors.Wrapf(ble.ErrNotFound, "tinyble: service %s", id)
	}
	svc := &remoteService{client: c, id: id, svc: found[0], chars: make(map[ble.UUID]*remoteCharacteristic)}

	c.mu.Lock()
	c.services[id] = svc
	c.mu.Unlock()
	return svc, nil
}

type remoteService struct {
	client *Client
	id     ble.UUID
	svc    bluetooth.DeviceService

	mu    sync.Mutex
	chars map[ble.UUID]*remoteCharacteristic
}

func (s *remoteService) UUID() ble.UUID { return s.id }

func (s *remoteService) Characteristic(id ble.UUID) (ble.RemoteCharacteristic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.chars[id]; ok {
		return ch, nil
	}
	found, err := s.svc.DiscoverCharacteristics([]bluetooth.UUID{toUUID(id)})
	if err != nil {
		return nil, errors.Wrapf(err, "tinyble: discover %s", id)
	}
	if len(found) == 0 {
		return nil, errors.Wrapf(ble.ErrNotFound, "tinyble: characteristic %s", id)
	}
	dc := found[0]
	writer := &requestWriter{device: s.client.objectPath(), service: s.id, char: id}
	ch := &remoteCharacteristic{
		client:  s.client,
		id:      fromUUID(dc.UUID()),
		char:    dc,
		request: writer.write,
		command: func(p []byte) error {
			_, err := dc.WriteWithoutResponse(p)
			return err
		},
	}
	s.chars[id] = ch
	return ch, nil
}

type remoteCharacteristic struct {
	client *Client
	id     ble.UUID
	char   bluetooth.DeviceCharacteristic

	request func(ctx context.Context, p []byte) error
	command func(p []byte) error
}

func (r *remoteCharacteristic) UUID() ble.UUID { return r.id }

// Properties is not exposed by the backend; every operation is offered and
// the controller rejects what the peer does not support
func (r *remoteCharacteristic) Properties() ble.Property {
	return ble.PropRead | ble.PropWrite | ble.PropWriteWithoutResponse | ble.PropNotify
}

// Descriptor returns the CCCD only. BlueZ owns the CCCD and enables it as
// part of Subscribe.
func (r *remoteCharacteristic) Descriptor(id ble.UUID) (ble.RemoteDescriptor, error) {
	if id != ble.CCCDUUID {
		return nil, errors.Wrapf(ble.ErrUnsupported, "tinyble: descriptor %s", id)
	}
	return cccd{}, nil
}

func (r *remoteCharacteristic) WriteValue(ctx context.Context, data []byte, withResponse bool) error {
	if !r.client.IsConnected() {
		return ble.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var err error
	if withResponse {
		err = r.request(ctx, data)
	} else {
		err = r.command(data)
	}
	return errors.Wrapf(err, "tinyble: write %s", r.id)
}

func (r *remoteCharacteristic) Subscribe(notifications bool, fn func([]byte)) error {
	if !r.client.IsConnected() {
		return ble.ErrNotConnected
	}
	err := r.char.EnableNotifications(func(buf []byte) {
		// the stack reuses its buffer
		fn(append([]byte(nil), buf...))
	})
	return errors.Wrapf(err, "tinyble: subscribe %s", r.id)
}

// cccd stands in for the 0x2902 descriptor. BlueZ writes it inside
// EnableNotifications, so a failed enable surfaces from Subscribe.
type cccd struct{}

func (cccd) UUID() ble.UUID { return ble.CCCDUUID }

func (cccd) WriteValue(ctx context.Context, data []byte, withResponse bool) error {
	return ctx.Err()
}
