// Package spark holds the Spark amplifier identifiers, the canned handshake
// replies and a decoder for the block/chunk framing the app and amp exchange.
package spark

import "github.com/user/spark-bridge/ble"

// GATT identifiers exposed by the amplifier
var (
	ServiceUUID    = ble.UUID16(0xffc0)
	WriteCharUUID  = ble.UUID16(0xffc1)
	NotifyCharUUID = ble.UUID16(0xffc2)
)

// DefaultDeviceName is the name the app looks for when scanning
const DefaultDeviceName = "Spark 40 BLE"

// Characteristic seed values
const (
	PlaceholderWrite  = byte(0x77)
	PlaceholderNotify = byte(0x88)
	PlaceholderLength = 173
)

// Placeholder returns the initial value a characteristic is seeded with
func Placeholder(b byte) []byte {
	out := make([]byte, PlaceholderLength)
	for i := range out {
		out[i] = b
	}
	return out
}
