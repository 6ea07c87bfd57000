package gatt

import (
	"reflect"
	"testing"
)

func TestCCCDEncodeDecode(t *testing.T) {
	tests := []struct {
		name            string
		notifyEnabled   bool
		indicateEnabled bool
		expectedValue   uint16
	}{
		{"both disabled", false, false, CCCDNotificationsDisabled},
		{"notifications enabled", true, false, CCCDNotificationsEnabled},
		{"indications enabled", false, true, CCCDIndicationsEnabled},
		{"both enabled", true, true, CCCDBothEnabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cccdValue := EncodeCCCDValue(tt.notifyEnabled, tt.indicateEnabled)
			if len(cccdValue) != 2 {
				t.Fatalf("Expected CCCD value length 2, got %d", len(cccdValue))
			}

			value := uint16(cccdValue[0]) | (uint16(cccdValue[1]) << 8)
			if value != tt.expectedValue {
				t.Errorf("Expected CCCD value 0x%04X, got 0x%04X", tt.expectedValue, value)
			}

			notify, indicate, err := DecodeCCCDValue(cccdValue)
			if err != nil {
				t.Fatalf("DecodeCCCDValue failed: %v", err)
			}
			if notify != tt.notifyEnabled || indicate != tt.indicateEnabled {
				t.Errorf("Decode mismatch: notify=%v indicate=%v", notify, indicate)
			}
		})
	}
}

func TestNotificationsOn(t *testing.T) {
	if got := NotificationsOn(); !reflect.DeepEqual(got, []byte{0x01, 0x00}) {
		t.Errorf("NotificationsOn() = % X, want 01 00", got)
	}
}

func TestCCCDDecodeInvalidLength(t *testing.T) {
	for _, val := range [][]byte{{}, {0x01}, {0x01, 0x00, 0x00}} {
		if _, _, err := DecodeCCCDValue(val); err == nil {
			t.Errorf("Expected error for invalid CCCD value length %d", len(val))
		}
	}
}

func TestCCCDManagerPerPeer(t *testing.T) {
	cm := NewCCCDManager()

	state, err := cm.SetSubscription("app-1", EncodeCCCDValue(true, false))
	if err != nil {
		t.Fatalf("SetSubscription failed: %v", err)
	}
	if !state.NotifyEnabled || state.Peer != "app-1" {
		t.Errorf("unexpected state %+v", state)
	}
	cm.SetSubscription("app-2", EncodeCCCDValue(false, true))

	if !cm.IsNotifyEnabled("app-1") {
		t.Error("Expected notifications enabled for app-1")
	}
	if cm.IsNotifyEnabled("app-2") {
		t.Error("app-2 only enabled indications")
	}
	if got := cm.Subscribers(); !reflect.DeepEqual(got, []string{"app-1", "app-2"}) {
		t.Errorf("Subscribers() = %v", got)
	}

	cm.Remove("app-1")
	if _, ok := cm.GetSubscription("app-1"); ok {
		t.Error("Expected app-1 subscription to be removed")
	}

	if _, err := cm.SetSubscription("app-2", EncodeCCCDValue(false, false)); err != nil {
		t.Fatalf("SetSubscription failed: %v", err)
	}
	if cm.Count() != 0 {
		t.Errorf("Expected no subscriptions after disabling, got %d", cm.Count())
	}
}

func TestCCCDManagerRejectsBadWrite(t *testing.T) {
	cm := NewCCCDManager()
	if _, err := cm.SetSubscription("app", []byte{0x01}); err != ErrInvalidAttributeValueLength {
		t.Errorf("expected ErrInvalidAttributeValueLength, got %v", err)
	}
	if cm.Count() != 0 {
		t.Error("bad write must not create a subscription")
	}
}
