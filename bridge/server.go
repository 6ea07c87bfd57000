package bridge

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/user/spark-bridge/ble"
	"github.com/user/spark-bridge/logger"
	"github.com/user/spark-bridge/spark"
	"github.com/user/spark-bridge/wire/att"
)

// ServerOptions tune the app-facing server
type ServerOptions struct {
	DeviceName string
	FrameSize  int
}

// Server impersonates the amplifier towards the app
type Server struct {
	periph ble.Peripheral
	opts   ServerOptions

	mu         sync.Mutex
	server     ble.Server
	writeChar  ble.LocalCharacteristic
	notifyChar ble.LocalCharacteristic

	// held for a whole message or burst so notifications never interleave
	notifyMu sync.Mutex
}

// NewServer creates the app-facing server; Start publishes it
func NewServer(periph ble.Peripheral, opts ServerOptions) *Server {
	if opts.FrameSize <= 0 {
		opts.FrameSize = att.DefaultFrameSize
	}
	if opts.DeviceName == "" {
		opts.DeviceName = spark.DefaultDeviceName
	}
	return &Server{periph: periph, opts: opts}
}

// Start builds the Spark service with placeholder values and starts
// advertising it
func (s *Server) Start(srvObs ble.ServerObserver, chrObs ble.CharacteristicObserver) error {
	logger.Info("Server", "Starting GATT server as %q", s.opts.DeviceName)

	server, err := s.periph.CreateServer(srvObs)
	if err != nil {
		return errors.Wrap(err, "bridge: create server")
	}
	svc, err := server.CreateService(spark.ServiceUUID)
	if err != nil {
		return errors.Wrap(err, "bridge: create service")
	}

	wc, err := svc.CreateCharacteristic(spark.WriteCharUUID,
		ble.PropRead|ble.PropWrite|ble.PropWriteWithoutResponse, chrObs)
	if err != nil {
		return errors.Wrap(err, "bridge: create write characteristic")
	}
	wc.SetValue(spark.Placeholder(spark.PlaceholderWrite))

	nc, err := svc.CreateCharacteristic(spark.NotifyCharUUID, ble.PropRead|ble.PropNotify, chrObs)
	if err != nil {
		return errors.Wrap(err, "bridge: create notify characteristic")
	}
	nc.SetValue(spark.Placeholder(spark.PlaceholderNotify))

	if err := svc.Start(); err != nil {
		return errors.Wrap(err, "bridge: start service")
	}

	s.mu.Lock()
	s.server = server
	s.writeChar = wc
	s.notifyChar = nc
	s.mu.Unlock()

	adv := s.periph.Advertising()
	adv.SetName(s.opts.DeviceName)
	adv.AddServiceUUID(spark.ServiceUUID)
	adv.SetScanResponse(true)
	return s.StartAdvertising()
}

// StartAdvertising (re)starts advertising; it is idempotent
func (s *Server) StartAdvertising() error {
	if err := s.periph.Advertising().Start(); err != nil {
		logger.Warn("Server", "❌ Failed to start advertising: %v", err)
		return errors.Wrap(err, "bridge: advertising")
	}
	logger.Debug("Server", "📡 Advertising %s", spark.ServiceUUID)
	return nil
}

// StopAdvertising stops advertising
func (s *Server) StopAdvertising() error {
	return s.periph.Advertising().Stop()
}

// ConnectedCount returns the number of connected apps
func (s *Server) ConnectedCount() int {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return 0
	}
	return server.ConnectedCount()
}

// Notify frames one message and emits it to subscribed apps
func (s *Server) Notify(msg []byte) error {
	return s.NotifyBurst([][]byte{msg}, 0)
}

// NotifyBurst emits several messages as one unit: no other notification can
// slip between them. delay is paused between consecutive frames.
func (s *Server) NotifyBurst(msgs [][]byte, delay time.Duration) error {
	s.mu.Lock()
	nc := s.notifyChar
	s.mu.Unlock()
	if nc == nil {
		return errors.New("bridge: server not started")
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	first := true
	for _, msg := range msgs {
		for _, frame := range att.Split(msg, s.opts.FrameSize) {
			if !first && delay > 0 {
				time.Sleep(delay)
			}
			first = false
			nc.SetValue(frame)
			if err := nc.Notify(); err != nil {
				return errors.Wrap(err, "bridge: notify")
			}
			logger.Trace("Server", "📤 notified %d bytes", len(frame))
		}
	}
	return nil
}
