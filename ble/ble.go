// Package ble describes the BLE stack the bridge drives: discovery, the
// central (client) role towards the amplifier and the peripheral (server)
// role towards the app. Implementations live in ble/tinyble (hardware) and
// wire (in-memory simulation).
package ble

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Address identifies a remote device as reported by discovery
type Address string

func (a Address) String() string { return string(a) }

// Advertisement is one discovery result
type Advertisement struct {
	Address      Address
	LocalName    string
	ServiceUUIDs []UUID
	RSSI         int
	Connectable  bool
}

// HasServiceUUID reports whether the advertisement lists the service
func (a Advertisement) HasServiceUUID(id UUID) bool {
	for _, u := range a.ServiceUUIDs {
		if u == id {
			return true
		}
	}
	return false
}

// Property is the GATT characteristic properties bitmask
type Property uint8

const (
	PropBroadcast            Property = 0x01
	PropRead                 Property = 0x02
	PropWriteWithoutResponse Property = 0x04
	PropWrite                Property = 0x08
	PropNotify               Property = 0x10
	PropIndicate             Property = 0x20
)

// Has reports whether all bits of q are set
func (p Property) Has(q Property) bool { return p&q == q }

// CanNotify reports whether notifications or indications are supported
func (p Property) CanNotify() bool { return p&(PropNotify|PropIndicate) != 0 }

// CanWrite reports whether any kind of write is supported
func (p Property) CanWrite() bool { return p&(PropWrite|PropWriteWithoutResponse) != 0 }

func (p Property) String() string {
	var parts []string
	names := []struct {
		bit  Property
		name string
	}{
		{PropBroadcast, "broadcast"},
		{PropRead, "read"},
		{PropWriteWithoutResponse, "write-nr"},
		{PropWrite, "write"},
		{PropNotify, "notify"},
		{PropIndicate, "indicate"},
	}
	for _, n := range names {
		if p&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Stack errors
var (
	ErrNotFound     = errors.New("ble: attribute not found")
	ErrNotConnected = errors.New("ble: not connected")
	ErrTimeout      = errors.New("ble: operation timed out")
	ErrBusy         = errors.New("ble: stack busy")
	ErrUnsupported  = errors.New("ble: operation not supported")
)

// ScanObserver receives discovery results
type ScanObserver interface {
	OnResult(adv Advertisement)
	OnScanEnded()
}

// ClientObserver receives central-side link events
type ClientObserver interface {
	OnConnect(c Client)
	OnDisconnect(c Client, reason error)
}

// ServerObserver receives peripheral-side link events
type ServerObserver interface {
	OnConnect(peer Address)
	OnDisconnect(peer Address)
}

// CharacteristicObserver receives events on a local characteristic
type CharacteristicObserver interface {
	OnWrite(c LocalCharacteristic, peer Address, data []byte)
	OnSubscribe(c LocalCharacteristic, peer Address, cccd uint16)
}

// Scanner runs discovery. A zero duration scans until StopScan.
type Scanner interface {
	StartScan(duration time.Duration, obs ScanObserver) error
	StopScan() error
	IsScanning() bool
}

// Central owns the pool of outbound client handles
type Central interface {
	CreateClient(obs ClientObserver) (Client, error)
	ClientByAddress(addr Address) Client
	DisconnectedClient() Client
	DeleteClient(c Client) error
	ClientCount() int
	MaxConnections() int
}

// Client is one outbound connection slot
type Client interface {
	SetConnectionParams(p ConnParams) error
	SetConnectTimeout(d time.Duration)
	// Connect links to target. refreshServices=false lets a known peer reuse
	// its cached service database.
	Connect(ctx context.Context, target Address, refreshServices bool) error
	IsConnected() bool
	Disconnect() error
	PeerAddress() Address
	Service(ctx context.Context, id UUID) (RemoteService, error)
}

// RemoteService is a service discovered on the peer
type RemoteService interface {
	UUID() UUID
	Characteristic(id UUID) (RemoteCharacteristic, error)
}

// RemoteCharacteristic is a characteristic discovered on the peer
type RemoteCharacteristic interface {
	UUID() UUID
	Properties() Property
	Descriptor(id UUID) (RemoteDescriptor, error)
	WriteValue(ctx context.Context, data []byte, withResponse bool) error
	// Subscribe registers fn for notifications (or indications when
	// notifications is false).
	Subscribe(notifications bool, fn func(data []byte)) error
}

// RemoteDescriptor is a descriptor discovered on the peer
type RemoteDescriptor interface {
	UUID() UUID
	WriteValue(ctx context.Context, data []byte, withResponse bool) error
}

// Peripheral exposes the local GATT server and advertising
type Peripheral interface {
	CreateServer(obs ServerObserver) (Server, error)
	Advertising() Advertiser
}

// Server is the local GATT server
type Server interface {
	CreateService(id UUID) (LocalService, error)
	ConnectedCount() int
}

// LocalService is a service hosted by the local GATT server
type LocalService interface {
	UUID() UUID
	CreateCharacteristic(id UUID, props Property, obs CharacteristicObserver) (LocalCharacteristic, error)
	Start() error
}

// LocalCharacteristic is a characteristic hosted by the local GATT server
type LocalCharacteristic interface {
	UUID() UUID
	Value() []byte
	SetValue(data []byte)
	// Notify sends the current value to every subscribed peer. Delivery is
	// fire-and-forget.
	Notify() error
}

// Advertiser controls the single advertising set of the device
type Advertiser interface {
	SetName(name string)
	AddServiceUUID(id UUID)
	SetScanResponse(enabled bool)
	Start() error
	Stop() error
	IsAdvertising() bool
}

// Stack is everything the bridge consumes from a BLE implementation
type Stack interface {
	Init(deviceName string) error
	Scanner
	Central
	Peripheral
}
