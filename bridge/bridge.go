// Package bridge keeps a Spark amplifier and the Spark app talking through
// this device: it is a central towards the amplifier and impersonates the
// amplifier as a peripheral towards the app.
package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/user/spark-bridge/ble"
	"github.com/user/spark-bridge/config"
	"github.com/user/spark-bridge/logger"
	"github.com/user/spark-bridge/spark"
	"github.com/user/spark-bridge/wire/att"
	"github.com/user/spark-bridge/wire/gatt"
)

// Decoder interprets protocol traffic on both legs
type Decoder interface {
	ProcessInboundMessage(data []byte) spark.ProcessResult
	ProcessAmpNotification(data []byte)
}

// Listener receives a state snapshot after every notable event
type Listener interface {
	BridgeEvent(name string, state *structpb.Struct)
}

// Option customizes a Bridge
type Option func(*Bridge)

// WithListener attaches an event listener
func WithListener(l Listener) Option {
	return func(b *Bridge) { b.listener = l }
}

// Bridge wires the scan controller, the amplifier link, the app server and
// the handshake sequencer together
type Bridge struct {
	cfg     config.Config
	stack   ble.Stack
	decoder Decoder

	state     *State
	scan      *ScanController
	central   *CentralLink
	server    *Server
	handshake *Handshake
	listener  Listener

	mu      sync.Mutex
	started bool
	closing bool
	rescan  chan struct{}
}

// New assembles a bridge on top of stack
func New(stack ble.Stack, decoder Decoder, cfg config.Config, opts ...Option) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if decoder == nil {
		decoder = spark.NewDecoder()
	}

	b := &Bridge{
		cfg:     cfg,
		stack:   stack,
		decoder: decoder,
		state:   NewState(),
		rescan:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.scan = NewScanController(stack, spark.ServiceUUID, scanObserver{b})
	b.central = NewCentralLink(stack, clientObserver{b}, b.state, CentralOptions{
		ConnectTimeout: cfg.ConnectTimeout,
		Pacing:         cfg.Pacing,
		MaxLinks:       cfg.MaxLinks,
	})
	b.server = NewServer(stack, ServerOptions{
		DeviceName: cfg.DeviceName,
		FrameSize:  cfg.FrameSize,
	})
	b.handshake = NewHandshake(b.state, b.server, cfg.NotifyDelay)
	return b, nil
}

// State returns the live bridge state
func (b *Bridge) State() *State { return b.state }

// Scan returns the scan controller
func (b *Bridge) Scan() *ScanController { return b.scan }

// Central returns the amplifier link manager
func (b *Bridge) Central() *CentralLink { return b.central }

// Server returns the app-facing server
func (b *Bridge) Server() *Server { return b.server }

// Start initializes the stack and publishes the server. Run calls it.
func (b *Bridge) Start() error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = true
	b.closing = false
	b.mu.Unlock()

	if err := b.stack.Init(b.cfg.DeviceName); err != nil {
		return errors.Wrap(err, "bridge: init stack")
	}
	if err := b.server.Start(serverObserver{b}, characteristicObserver{b}); err != nil {
		return err
	}
	b.emit("server-started")
	return nil
}

// Run keeps both legs alive until ctx is done: scan, connect and subscribe
// to the amplifier, and start over after any failure.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.Start(); err != nil {
		return err
	}
	b.startScan(ctx)

	for {
		select {
		case <-ctx.Done():
			b.Shutdown()
			return ctx.Err()

		case id := <-b.scan.Candidates():
			b.scan.Reset()
			if err := b.ConnectAmp(ctx, id); err != nil {
				logger.Warn("Bridge", "❌ Amp setup failed: %v", err)
				b.state.CandidateLost()
				b.retryLater(ctx)
			}

		case <-b.rescan:
			if !b.state.AmpConnected() {
				b.startScan(ctx)
			}
		}
	}
}

// ConnectAmp connects and subscribes to a discovered amplifier
func (b *Bridge) ConnectAmp(ctx context.Context, id DeviceIdentity) error {
	if err := b.central.Connect(ctx, id); err != nil {
		b.emit("amp-connect-failed")
		return err
	}
	if err := b.central.Subscribe(ctx, b.onAmpNotify); err != nil {
		b.emit("amp-subscribe-failed")
		return err
	}
	b.emit("amp-connected")
	return nil
}

// SendToAmp frames every message and writes them as one batch
func (b *Bridge) SendToAmp(ctx context.Context, msgs [][]byte, requireAck bool) error {
	frames := att.SplitAll(msgs, b.cfg.FrameSize)
	data := make([][]byte, len(frames))
	for i, f := range frames {
		data[i] = f.Data
	}
	if err := b.central.Send(ctx, data, requireAck); err != nil {
		b.emit("amp-write-failed")
		return err
	}
	return nil
}

// NotifyApp frames a message and notifies it to the app
func (b *Bridge) NotifyApp(msg []byte) error {
	return b.server.Notify(msg)
}

// Snapshot returns the state plus link counters as a struct
func (b *Bridge) Snapshot() *structpb.Struct {
	st := b.state.Snapshot().Struct()
	st.Fields["app_links"] = structpb.NewNumberValue(float64(b.server.ConnectedCount()))
	st.Fields["scan_state"] = structpb.NewStringValue(b.scan.State().String())
	return st
}

// Shutdown stops scanning and advertising and drops the amplifier link
func (b *Bridge) Shutdown() {
	b.mu.Lock()
	b.closing = true
	b.started = false
	b.mu.Unlock()

	b.scan.Stop()
	if err := b.server.StopAdvertising(); err != nil {
		logger.Debug("Bridge", "stop advertising: %v", err)
	}
	b.central.Teardown()
	b.emit("shutdown")
	logger.Info("Bridge", "👋 Bridge stopped")
}

func (b *Bridge) isClosing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closing
}

func (b *Bridge) startScan(ctx context.Context) {
	if err := b.scan.Start(b.cfg.ScanDuration); err != nil {
		b.retryLater(ctx)
		return
	}
	b.emit("scan-started")
}

// retryLater asks the run loop to rescan after the retry delay
func (b *Bridge) retryLater(ctx context.Context) {
	time.AfterFunc(b.cfg.RetryDelay, func() {
		if ctx.Err() != nil {
			return
		}
		b.requestRescan()
	})
}

func (b *Bridge) requestRescan() {
	select {
	case b.rescan <- struct{}{}:
	default:
	}
}

func (b *Bridge) emit(name string) {
	if b.listener == nil {
		return
	}
	b.listener.BridgeEvent(name, b.Snapshot())
}

// --- observer targets ---

func (b *Bridge) onScanResult(adv ble.Advertisement) {
	if id, ok := b.scan.HandleResult(adv); ok {
		b.state.CandidateFound(id)
		b.emit("amp-found")
	}
}

func (b *Bridge) onScanEnded() {
	b.scan.HandleScanEnded()
	if _, found := b.scan.Found(); !found && !b.isClosing() {
		// a timed scan ran out; try again after the retry delay
		time.AfterFunc(b.cfg.RetryDelay, b.requestRescan)
	}
}

func (b *Bridge) onAmpConnected(c ble.Client) {
	logger.Debug("Bridge", "🔗 Amp link up (%s)", c.PeerAddress())
}

func (b *Bridge) onAmpDisconnected(c ble.Client, reason error) {
	logger.Info("Bridge", "💔 Amp %s disconnected: %v", c.PeerAddress(), reason)
	b.central.LinkLost()
	b.state.CandidateLost()
	b.emit("amp-disconnected")

	if b.isClosing() || b.stack.IsScanning() {
		return
	}
	if err := b.scan.Start(b.cfg.ScanDuration); err != nil {
		logger.Warn("Bridge", "❌ Rescan failed: %v", err)
		time.AfterFunc(b.cfg.RetryDelay, b.requestRescan)
		return
	}
	b.emit("scan-started")
}

func (b *Bridge) onAmpNotify(data []byte) {
	logger.Trace("Bridge", "⬆️  amp notification %d bytes", len(data))
	b.decoder.ProcessAmpNotification(data)
}

func (b *Bridge) onAppConnected(peer ble.Address) {
	logger.Info("Bridge", "📱 App %s connected", peer)
	b.state.AppLinkUp(peer)
	b.emit("app-connected")
	// keep advertising so more apps can connect
	b.readvertise()
}

func (b *Bridge) onAppDisconnected(peer ble.Address) {
	logger.Info("Bridge", "📱 App %s disconnected", peer)
	b.state.AppLinkDown()
	b.emit("app-disconnected")
	if !b.isClosing() {
		b.readvertise()
	}
}

func (b *Bridge) readvertise() {
	if err := b.server.StartAdvertising(); err != nil {
		b.emit("advertise-failed")
	}
}

func (b *Bridge) onAppWrite(peer ble.Address, data []byte) {
	msg := append([]byte(nil), data...)
	logger.Trace("Bridge", "⬇️  app %s wrote %d bytes", peer, len(msg))
	if b.decoder.ProcessInboundMessage(msg) != spark.ResultSessionInitiating {
		return
	}
	step, err := b.handshake.Step()
	if err != nil {
		return
	}
	logger.Debug("Bridge", "🤝 handshake step %d sent to %s", step, peer)
	b.emit("handshake-step")
}

func (b *Bridge) onAppSubscribe(c ble.LocalCharacteristic, peer ble.Address, cccd uint16) {
	notify, indicate, _ := gatt.DecodeCCCDValue([]byte{byte(cccd), byte(cccd >> 8)})
	switch {
	case notify || indicate:
		logger.Info("Bridge", "🔔 App %s subscribed to %s (notify=%v indicate=%v)", peer, c.UUID(), notify, indicate)
	default:
		logger.Info("Bridge", "🔕 App %s unsubscribed from %s", peer, c.UUID())
	}
}
