package ble

import (
	"encoding/binary"
	"strings"

	"github.com/google/uuid"
)

// UUID identifies services, characteristics and descriptors.
type UUID = uuid.UUID

// baseUUID is the Bluetooth Base UUID 00000000-0000-1000-8000-00805F9B34FB
var baseUUID = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// UUID16 expands a 16-bit assigned number into its full 128-bit form
func UUID16(short uint16) UUID {
	u := baseUUID
	binary.BigEndian.PutUint16(u[2:4], short)
	return u
}

// MustParseUUID parses either a full UUID or a 4-hex-digit short form ("ffc0")
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// ParseUUID parses either a full UUID or a 4-hex-digit short form ("ffc0")
func ParseUUID(s string) (UUID, error) {
	s = strings.TrimSpace(s)
	if len(s) == 4 {
		return uuid.Parse("0000" + s + "-0000-1000-8000-00805f9b34fb")
	}
	return uuid.Parse(s)
}

// Short returns the 16-bit alias of a UUID built on the Base UUID, if any
func Short(u UUID) (uint16, bool) {
	probe := u
	probe[2], probe[3] = 0, 0
	if probe != baseUUID {
		return 0, false
	}
	return binary.BigEndian.Uint16(u[2:4]), true
}

// Well-known descriptor identifiers
var (
	// CCCDUUID is the Client Characteristic Configuration Descriptor (0x2902)
	CCCDUUID = UUID16(0x2902)
)
