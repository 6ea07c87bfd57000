package bridge

import (
	"sync"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/user/spark-bridge/ble"
	"github.com/user/spark-bridge/logger"
)

// DeviceIdentity is what discovery captured about the amplifier
type DeviceIdentity struct {
	Address ble.Address
	Name    string
	RSSI    int
}

// Snapshot is a point-in-time copy of the bridge state
type Snapshot struct {
	AmpConnected    bool
	AppConnected    bool
	CandidateFound  bool
	HandshakeCursor int
	Amp             DeviceIdentity
	App             ble.Address
}

// State holds the link flags and the handshake cursor. It is only changed
// through the named transitions below.
type State struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewState returns the all-down state
func NewState() *State {
	return &State{}
}

// NextStep advances a cyclic cursor over steps 1..n; 0 means "not started"
func NextStep(cur, n int) int {
	return cur%n + 1
}

// CandidateFound records a discovered amplifier
func (s *State) CandidateFound(id DeviceIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.CandidateFound = true
	s.snap.Amp = id
}

// CandidateLost clears the discovery flag so the next scan can find one
func (s *State) CandidateLost() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.CandidateFound = false
}

// AmpLinkUp marks the amplifier link confirmed by the stack
func (s *State) AmpLinkUp(id DeviceIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.AmpConnected = true
	s.snap.Amp = id
}

// AmpLinkDown marks the amplifier link lost
func (s *State) AmpLinkDown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.AmpConnected = false
}

// AppLinkUp marks an app connected
func (s *State) AppLinkUp(peer ble.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.AppConnected = true
	s.snap.App = peer
}

// AppLinkDown marks the app gone and resets the handshake cursor in the
// same step
func (s *State) AppLinkDown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.AppConnected = false
	s.snap.App = ""
	s.snap.HandshakeCursor = 0
}

// AdvanceCursor moves the handshake cursor to its next step and returns it
func (s *State) AdvanceCursor(steps int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.HandshakeCursor = NextStep(s.snap.HandshakeCursor, steps)
	return s.snap.HandshakeCursor
}

// Snapshot returns a copy of the state
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *State) AmpConnected() bool { return s.Snapshot().AmpConnected }
func (s *State) AppConnected() bool { return s.Snapshot().AppConnected }
func (s *State) Cursor() int        { return s.Snapshot().HandshakeCursor }

// Struct renders the snapshot for logs and the monitor
func (s Snapshot) Struct() *structpb.Struct {
	st, err := structpb.NewStruct(map[string]interface{}{
		"amp_connected":    s.AmpConnected,
		"app_connected":    s.AppConnected,
		"candidate_found":  s.CandidateFound,
		"handshake_cursor": s.HandshakeCursor,
		"amp_address":      string(s.Amp.Address),
		"amp_name":         s.Amp.Name,
		"amp_rssi":         s.Amp.RSSI,
		"app_address":      string(s.App),
	})
	if err != nil {
		logger.Warn("State", "snapshot encode failed: %v", err)
		return &structpb.Struct{Fields: map[string]*structpb.Value{}}
	}
	return st
}
