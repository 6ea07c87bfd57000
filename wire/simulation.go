package wire

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// SimulationConfig controls the realism of the simulated radio
type SimulationConfig struct {
	// Connection timing (in milliseconds)
	MinConnectionDelay    int     // Default: 30ms
	MaxConnectionDelay    int     // Default: 100ms
	ConnectionFailureRate float64 // Default: 0.016 (1.6% failure rate)

	// Discovery timing (in milliseconds)
	AdvertisingInterval int // Default: 100ms, also the rescan period of a running scan
	MinDiscoveryDelay   int // Default: 100ms
	MaxDiscoveryDelay   int // Default: 1000ms

	// Radio characteristics
	EnableRSSI   bool // Default: true
	BaseRSSI     int  // Default: -50 dBm (close range)
	RSSIVariance int  // Default: 10 dBm

	// Packet loss and reliability. Acknowledged writes are retried up to
	// MaxRetries times; notifications and unacknowledged writes are dropped.
	PacketLossRate float64 // Default: 0.015 (1.5% packet loss)
	MaxRetries     int     // Default: 3 retries
	RetryDelay     int     // Default: 50ms between retries

	// Deterministic mode for testing
	Deterministic bool  // Default: false
	Seed          int64 // Random seed when Deterministic=true
}

// DefaultSimulationConfig returns realistic radio parameters
func DefaultSimulationConfig() *SimulationConfig {
	return &SimulationConfig{
		MinConnectionDelay:    30,
		MaxConnectionDelay:    100,
		ConnectionFailureRate: 0.016,

		AdvertisingInterval: 100,
		MinDiscoveryDelay:   100,
		MaxDiscoveryDelay:   1000,

		EnableRSSI:   true,
		BaseRSSI:     -50,
		RSSIVariance: 10,

		PacketLossRate: 0.015,
		MaxRetries:     3,
		RetryDelay:     50,
	}
}

// PerfectSimulationConfig returns a lossless, instant config for tests
func PerfectSimulationConfig() *SimulationConfig {
	cfg := DefaultSimulationConfig()
	cfg.MinConnectionDelay = 0
	cfg.MaxConnectionDelay = 0
	cfg.ConnectionFailureRate = 0
	cfg.AdvertisingInterval = 5
	cfg.MinDiscoveryDelay = 0
	cfg.MaxDiscoveryDelay = 0
	cfg.PacketLossRate = 0
	cfg.RetryDelay = 0
	cfg.Deterministic = true
	return cfg
}

// Simulator rolls the dice for the air. Safe for concurrent use.
type Simulator struct {
	config *SimulationConfig
	mu     sync.Mutex
	rng    *rand.Rand
}

// NewSimulator creates a simulator; nil selects DefaultSimulationConfig
func NewSimulator(config *SimulationConfig) *Simulator {
	if config == nil {
		config = DefaultSimulationConfig()
	}

	seed := config.Seed
	if !config.Deterministic {
		seed = time.Now().UnixNano()
	}

	return &Simulator{
		config: config,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Config returns the active configuration
func (s *Simulator) Config() *SimulationConfig {
	return s.config
}

func (s *Simulator) float() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *Simulator) between(minMs, maxMs int) time.Duration {
	if maxMs <= minMs {
		return time.Duration(minMs) * time.Millisecond
	}
	s.mu.Lock()
	n := s.rng.Intn(maxMs - minMs)
	s.mu.Unlock()
	return time.Duration(minMs+n) * time.Millisecond
}

// ShouldConnectionSucceed returns true if a connection attempt should succeed
func (s *Simulator) ShouldConnectionSucceed() bool {
	return s.float() >= s.config.ConnectionFailureRate
}

// ConnectionDelay returns how long link establishment takes
func (s *Simulator) ConnectionDelay() time.Duration {
	return s.between(s.config.MinConnectionDelay, s.config.MaxConnectionDelay)
}

// DiscoveryDelay returns how long until a scan sees its first advertisement
func (s *Simulator) DiscoveryDelay() time.Duration {
	return s.between(s.config.MinDiscoveryDelay, s.config.MaxDiscoveryDelay)
}

// ScanInterval returns the period between advertising sweeps of a scan
func (s *Simulator) ScanInterval() time.Duration {
	if s.config.AdvertisingInterval <= 0 {
		return time.Millisecond
	}
	return time.Duration(s.config.AdvertisingInterval) * time.Millisecond
}

// ShouldPacketSucceed returns true if a packet crosses the air
func (s *Simulator) ShouldPacketSucceed() bool {
	return s.float() >= s.config.PacketLossRate
}

// RetryDelay returns the pause before retransmitting a lost packet
func (s *Simulator) RetryDelay() time.Duration {
	return time.Duration(s.config.RetryDelay) * time.Millisecond
}

// GenerateRSSI returns an RSSI for a device about distance meters away
func (s *Simulator) GenerateRSSI(distance float64) int {
	if !s.config.EnableRSSI || s.config.RSSIVariance <= 0 {
		return s.config.BaseRSSI
	}
	if distance < 1 {
		distance = 1
	}

	// ~20dB per decade of distance
	rssi := float64(s.config.BaseRSSI) - 20*math.Log10(distance)

	s.mu.Lock()
	variance := s.rng.Intn(s.config.RSSIVariance*2) - s.config.RSSIVariance
	s.mu.Unlock()
	rssi += float64(variance)

	if rssi < -100 {
		rssi = -100
	} else if rssi > -20 {
		rssi = -20
	}
	return int(rssi)
}

// ConnectionState represents the state of a client link
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
