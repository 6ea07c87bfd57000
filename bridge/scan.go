package bridge

import (
	"sync"
	"time"

	"github.com/user/spark-bridge/ble"
	"github.com/user/spark-bridge/logger"
)

// ScanState is the discovery state machine
type ScanState int

const (
	ScanIdle ScanState = iota
	ScanScanning
	ScanFound
)

func (s ScanState) String() string {
	switch s {
	case ScanIdle:
		return "idle"
	case ScanScanning:
		return "scanning"
	case ScanFound:
		return "found"
	default:
		return "unknown"
	}
}

// ScanController looks for the first device advertising the target service.
// A discovery cycle signals at most one candidate.
type ScanController struct {
	scanner ble.Scanner
	target  ble.UUID
	obs     ble.ScanObserver

	mu         sync.Mutex
	state      ScanState
	found      DeviceIdentity
	candidates chan DeviceIdentity
}

// NewScanController builds a controller. obs receives the raw scan events
// and is expected to call back into HandleResult and HandleScanEnded; nil
// wires the controller to itself.
func NewScanController(scanner ble.Scanner, target ble.UUID, obs ble.ScanObserver) *ScanController {
	s := &ScanController{
		scanner:    scanner,
		target:     target,
		candidates: make(chan DeviceIdentity, 1),
	}
	if obs == nil {
		obs = scanForward{s}
	}
	s.obs = obs
	return s
}

// Start begins a discovery cycle. A zero duration scans until a candidate
// shows up or Stop is called. Starting while already scanning is a no-op.
func (s *ScanController) Start(duration time.Duration) error {
	s.mu.Lock()
	if s.state == ScanScanning && s.scanner.IsScanning() {
		s.mu.Unlock()
		return nil
	}
	s.state = ScanScanning
	s.found = DeviceIdentity{}
	s.mu.Unlock()

	if err := s.scanner.StartScan(duration, s.obs); err != nil {
		s.mu.Lock()
		s.state = ScanIdle
		s.mu.Unlock()
		logger.Warn("Scan", "❌ Failed to start scan: %v", err)
		return newError(KindScanStart, err)
	}
	logger.Info("Scan", "🔍 Scan initiated")
	return nil
}

// Stop halts discovery. A candidate already signalled stays queued.
func (s *ScanController) Stop() {
	if err := s.scanner.StopScan(); err != nil {
		logger.Debug("Scan", "stop scan: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = ScanIdle
}

// Reset returns a Found controller to Idle once its candidate was consumed
func (s *ScanController) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == ScanFound {
		s.state = ScanIdle
	}
}

// State returns the current discovery state
func (s *ScanController) State() ScanState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Found returns the identity captured by the current cycle
func (s *ScanController) Found() (DeviceIdentity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.found, s.state == ScanFound
}

// Candidates delivers discovered amplifiers
func (s *ScanController) Candidates() <-chan DeviceIdentity {
	return s.candidates
}

// HandleResult processes one advertisement and reports whether it became the
// candidate of this cycle
func (s *ScanController) HandleResult(adv ble.Advertisement) (DeviceIdentity, bool) {
	if !adv.HasServiceUUID(s.target) {
		logger.Trace("Scan", "ignoring %s %q", adv.Address, adv.LocalName)
		return DeviceIdentity{}, false
	}

	s.mu.Lock()
	if s.state != ScanScanning {
		s.mu.Unlock()
		return DeviceIdentity{}, false
	}
	id := DeviceIdentity{Address: adv.Address, Name: adv.LocalName, RSSI: adv.RSSI}
	s.state = ScanFound
	s.found = id
	s.mu.Unlock()

	logger.Info("Scan", "🎸 Found Spark %s %q (rssi %d)", id.Address, id.Name, id.RSSI)
	if err := s.scanner.StopScan(); err != nil {
		logger.Debug("Scan", "stop scan: %v", err)
	}

	// keep only the freshest candidate queued
	select {
	case <-s.candidates:
	default:
	}
	select {
	case s.candidates <- id:
	default:
	}
	return id, true
}

// HandleScanEnded handles a timed scan running out
func (s *ScanController) HandleScanEnded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == ScanScanning {
		s.state = ScanIdle
		logger.Info("Scan", "Scan ended without finding a Spark")
	}
}

type scanForward struct{ s *ScanController }

func (f scanForward) OnResult(adv ble.Advertisement) { f.s.HandleResult(adv) }
func (f scanForward) OnScanEnded()                   { f.s.HandleScanEnded() }
