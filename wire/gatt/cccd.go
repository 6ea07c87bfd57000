package gatt

import (
	"encoding/binary"
	"sort"
	"sync"
)

// CCCD (Client Characteristic Configuration Descriptor) values
// These are written by clients to enable/disable notifications and indications
const (
	CCCDNotificationsDisabled = 0x0000
	CCCDNotificationsEnabled  = 0x0001
	CCCDIndicationsEnabled    = 0x0002
	CCCDBothEnabled           = 0x0003
)

// SubscriptionState is the CCCD state one peer configured on a characteristic
type SubscriptionState struct {
	Peer            string
	NotifyEnabled   bool
	IndicateEnabled bool
}

// Value returns the raw CCCD value for the state
func (s SubscriptionState) Value() uint16 {
	var v uint16
	if s.NotifyEnabled {
		v |= CCCDNotificationsEnabled
	}
	if s.IndicateEnabled {
		v |= CCCDIndicationsEnabled
	}
	return v
}

// CCCDManager tracks which connected peers subscribed to one characteristic.
// CCCD values are per connection: a peer that disconnects loses its
// subscription and has to write the descriptor again after reconnecting.
type CCCDManager struct {
	mu            sync.RWMutex
	subscriptions map[string]*SubscriptionState
}

// NewCCCDManager creates an empty CCCD manager
func NewCCCDManager() *CCCDManager {
	return &CCCDManager{
		subscriptions: make(map[string]*SubscriptionState),
	}
}

// SetSubscription applies a CCCD write (2 bytes, little-endian) from peer
// and returns the resulting state.
func (cm *CCCDManager) SetSubscription(peer string, cccdValue []byte) (SubscriptionState, error) {
	notify, indicate, err := DecodeCCCDValue(cccdValue)
	if err != nil {
		return SubscriptionState{}, err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	state := SubscriptionState{
		Peer:            peer,
		NotifyEnabled:   notify,
		IndicateEnabled: indicate,
	}
	if !notify && !indicate {
		delete(cm.subscriptions, peer)
		return state, nil
	}
	cm.subscriptions[peer] = &state
	return state, nil
}

// GetSubscription returns a copy of the state for peer
func (cm *CCCDManager) GetSubscription(peer string) (SubscriptionState, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	state, exists := cm.subscriptions[peer]
	if !exists {
		return SubscriptionState{}, false
	}
	return *state, true
}

// IsNotifyEnabled returns true if peer enabled notifications
func (cm *CCCDManager) IsNotifyEnabled(peer string) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	state, exists := cm.subscriptions[peer]
	return exists && state.NotifyEnabled
}

// Subscribers returns the peers with notifications or indications enabled, sorted
func (cm *CCCDManager) Subscribers() []string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	peers := make([]string, 0, len(cm.subscriptions))
	for peer := range cm.subscriptions {
		peers = append(peers, peer)
	}
	sort.Strings(peers)
	return peers
}

// Remove drops the subscription of peer (called when its connection closes)
func (cm *CCCDManager) Remove(peer string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	delete(cm.subscriptions, peer)
}

// Clear removes all subscriptions
func (cm *CCCDManager) Clear() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.subscriptions = make(map[string]*SubscriptionState)
}

// Count returns the number of active subscriptions
func (cm *CCCDManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.subscriptions)
}

// EncodeCCCDValue converts subscription flags to CCCD value bytes (little-endian)
func EncodeCCCDValue(notifyEnabled, indicateEnabled bool) []byte {
	state := SubscriptionState{NotifyEnabled: notifyEnabled, IndicateEnabled: indicateEnabled}
	cccdValue := make([]byte, 2)
	binary.LittleEndian.PutUint16(cccdValue, state.Value())
	return cccdValue
}

// NotificationsOn is the CCCD value a central writes to enable notifications (01 00)
func NotificationsOn() []byte {
	return EncodeCCCDValue(true, false)
}

// DecodeCCCDValue parses CCCD value bytes to notification/indication flags
func DecodeCCCDValue(cccdValue []byte) (notifyEnabled, indicateEnabled bool, err error) {
	if len(cccdValue) != 2 {
		return false, false, ErrInvalidAttributeValueLength
	}

	value := binary.LittleEndian.Uint16(cccdValue)
	notifyEnabled = (value & CCCDNotificationsEnabled) != 0
	indicateEnabled = (value & CCCDIndicationsEnabled) != 0

	return notifyEnabled, indicateEnabled, nil
}

// ErrInvalidAttributeValueLength is returned when CCCD value has incorrect length
var ErrInvalidAttributeValueLength = &Error{Code: 0x0D, Description: "Invalid Attribute Value Length"}

// Error represents a GATT error
type Error struct {
	Code        uint8
	Description string
}

func (e *Error) Error() string {
	return e.Description
}
