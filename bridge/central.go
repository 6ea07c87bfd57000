package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/user/spark-bridge/ble"
	"github.com/user/spark-bridge/logger"
	"github.com/user/spark-bridge/spark"
	"github.com/user/spark-bridge/wire/gatt"
)

// AmpConnParams are the link parameters requested from the amplifier:
// 15ms interval, no latency, 510ms supervision timeout. Safe for three
// concurrent clients.
var AmpConnParams = ble.ConnParams{
	IntervalMin:        12,
	IntervalMax:        12,
	SlaveLatency:       0,
	SupervisionTimeout: 51,
}

// CentralOptions tune the amplifier link
type CentralOptions struct {
	ConnectTimeout time.Duration
	Pacing         time.Duration
	MaxLinks       int
}

// CentralLink owns the client connection to the amplifier
type CentralLink struct {
	central ble.Central
	obs     ble.ClientObserver
	state   *State
	opts    CentralOptions

	mu        sync.Mutex
	client    ble.Client
	writeChar ble.RemoteCharacteristic

	// held for a whole batch so frames of two batches never interleave
	sendMu sync.Mutex
}

// NewCentralLink creates the link manager; obs is attached to new clients
func NewCentralLink(central ble.Central, obs ble.ClientObserver, state *State, opts CentralOptions) *CentralLink {
	return &CentralLink{
		central: central,
		obs:     obs,
		state:   state,
		opts:    opts,
	}
}

func (c *CentralLink) capacity() int {
	limit := c.central.MaxConnections()
	if c.opts.MaxLinks > 0 && c.opts.MaxLinks < limit {
		limit = c.opts.MaxLinks
	}
	return limit
}

// Connect links to the amplifier. A client that already knows the address
// reconnects without refreshing services; otherwise an idle or new client
// does a full connect. Nothing is retried here.
func (c *CentralLink) Connect(ctx context.Context, id DeviceIdentity) error {
	client := c.central.ClientByAddress(id.Address)
	if client != nil {
		if err := client.Connect(ctx, id.Address, false); err != nil {
			logger.Warn("Central", "❌ Reconnect to %s failed: %v", id.Address, err)
			c.state.AmpLinkDown()
			return connectError(ReasonReconnect, err)
		}
		logger.Info("Central", "🔗 Reconnected client to %s", id.Address)
	} else {
		client = c.central.DisconnectedClient()
	}

	if client == nil {
		if c.central.ClientCount() >= c.capacity() {
			logger.Warn("Central", "⚠️  Max clients reached - no more connections available")
			c.state.AmpLinkDown()
			return newError(KindCapacity, errors.Errorf("%d of %d clients in use", c.central.ClientCount(), c.capacity()))
		}

		var err error
		client, err = c.central.CreateClient(c.obs)
		if err != nil {
			c.state.AmpLinkDown()
			return newError(KindCapacity, err)
		}
		if err := client.SetConnectionParams(AmpConnParams); err != nil {
			logger.Warn("Central", "connection params rejected: %v", err)
		}
		client.SetConnectTimeout(c.opts.ConnectTimeout)

		if err := client.Connect(ctx, id.Address, true); err != nil {
			// a fresh client holds nothing worth keeping
			if derr := c.central.DeleteClient(client); derr != nil {
				logger.Debug("Central", "delete client: %v", derr)
			}
			logger.Warn("Central", "❌ Failed to connect to %s, deleted client: %v", id.Address, err)
			c.state.AmpLinkDown()
			return connectError(failReason(ctx, err), err)
		}
	}

	if !client.IsConnected() {
		if err := client.Connect(ctx, id.Address, true); err != nil {
			logger.Warn("Central", "❌ Failed to connect to %s: %v", id.Address, err)
			c.state.AmpLinkDown()
			return connectError(failReason(ctx, err), err)
		}
	}

	c.mu.Lock()
	c.client = client
	c.writeChar = nil
	c.mu.Unlock()

	c.state.AmpLinkUp(id)
	logger.Info("Central", "✅ Connected to: %s", client.PeerAddress())
	return nil
}

func failReason(ctx context.Context, err error) ConnectReason {
	if errors.Is(err, ble.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return ReasonTimeout
	}
	return ReasonFresh
}

// Client returns the current amplifier client, nil before Connect
func (c *CentralLink) Client() ble.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// Subscribe enables notifications on the amplifier and routes them to
// onNotify. A failed enable drops the link.
func (c *CentralLink) Subscribe(ctx context.Context, onNotify func([]byte)) error {
	client := c.Client()
	if client == nil || !client.IsConnected() {
		c.state.AmpLinkDown()
		return newError(KindSubscribe, ble.ErrNotConnected)
	}

	svc, err := client.Service(ctx, spark.ServiceUUID)
	if err != nil {
		logger.Warn("Central", "Service %s not found.", spark.ServiceUUID)
		return newError(KindServiceNotFound, err)
	}
	chr, err := svc.Characteristic(spark.NotifyCharUUID)
	if err != nil {
		logger.Warn("Central", "%s characteristic not found.", spark.NotifyCharUUID)
		return newError(KindCharacteristicNotFound, err)
	}
	if !chr.Properties().CanNotify() {
		logger.Warn("Central", "⚠️  %s cannot notify, skipping subscription", spark.NotifyCharUUID)
		return nil
	}

	fail := func(err error) error {
		logger.Warn("Central", "❌ Subscribe failed, disconnecting: %v", err)
		if derr := client.Disconnect(); derr != nil {
			logger.Debug("Central", "disconnect: %v", derr)
		}
		c.state.AmpLinkDown()
		return newError(KindSubscribe, err)
	}

	desc, err := chr.Descriptor(ble.CCCDUUID)
	if err != nil {
		return fail(err)
	}
	if err := desc.WriteValue(ctx, gatt.NotificationsOn(), true); err != nil {
		return fail(err)
	}
	if err := chr.Subscribe(true, onNotify); err != nil {
		return fail(err)
	}
	logger.Info("Central", "🔔 Notifications turned on for %s", spark.NotifyCharUUID)
	return nil
}

func (c *CentralLink) resolveWriteChar(ctx context.Context, client ble.Client) (ble.RemoteCharacteristic, error) {
	c.mu.Lock()
	wc := c.writeChar
	c.mu.Unlock()
	if wc != nil {
		return wc, nil
	}

	svc, err := client.Service(ctx, spark.ServiceUUID)
	if err != nil {
		return nil, newError(KindServiceNotFound, err)
	}
	wc, err = svc.Characteristic(spark.WriteCharUUID)
	if err != nil {
		return nil, newError(KindCharacteristicNotFound, err)
	}
	if !wc.Properties().CanWrite() {
		return nil, newError(KindWrite, errors.Wrap(ble.ErrUnsupported, "write characteristic"))
	}

	c.mu.Lock()
	c.writeChar = wc
	c.mu.Unlock()
	return wc, nil
}

// Send writes frames to the amplifier in order, pausing after each one. The
// first failure aborts the batch and drops the link; frames already written
// are not resent.
func (c *CentralLink) Send(ctx context.Context, frames [][]byte, requireAck bool) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	client := c.Client()
	if client == nil || !client.IsConnected() {
		c.state.AmpLinkDown()
		return newError(KindWrite, ble.ErrNotConnected)
	}
	wc, err := c.resolveWriteChar(ctx, client)
	if err != nil {
		return err
	}

	for i, frame := range frames {
		logger.Trace("Central", "📤 frame %d/%d: %s", i+1, len(frames), logger.Hex(frame))
		if err := wc.WriteValue(ctx, frame, requireAck); err != nil {
			logger.Warn("Central", "❌ There was an error with writing frame %d/%d: %v", i+1, len(frames), err)
			c.dropLink(client)
			return newError(KindWrite, errors.Wrapf(err, "frame %d of %d", i+1, len(frames)))
		}
		if c.opts.Pacing > 0 {
			select {
			case <-time.After(c.opts.Pacing):
			case <-ctx.Done():
				return newError(KindWrite, errors.Wrapf(ctx.Err(), "after frame %d of %d", i+1, len(frames)))
			}
		}
	}
	return nil
}

func (c *CentralLink) dropLink(client ble.Client) {
	if err := client.Disconnect(); err != nil {
		logger.Debug("Central", "disconnect: %v", err)
	}
	c.mu.Lock()
	c.writeChar = nil
	c.mu.Unlock()
	c.state.AmpLinkDown()
}

// LinkLost forgets cached handles after the stack reported a disconnect
func (c *CentralLink) LinkLost() {
	c.mu.Lock()
	c.writeChar = nil
	c.mu.Unlock()
	c.state.AmpLinkDown()
}

// Teardown disconnects and frees the amplifier client
func (c *CentralLink) Teardown() {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.writeChar = nil
	c.mu.Unlock()
	if client == nil {
		return
	}
	if err := client.Disconnect(); err != nil {
		logger.Debug("Central", "disconnect: %v", err)
	}
	if err := c.central.DeleteClient(client); err != nil {
		logger.Debug("Central", "delete client: %v", err)
	}
	c.state.AmpLinkDown()
}
