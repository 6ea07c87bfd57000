package wire

import (
	"time"

	"github.com/pkg/errors"
)

// ConnectionRole is the role a device plays on one link
type ConnectionRole string

const (
	RoleCentral    ConnectionRole = "central"    // We initiated the connection
	RolePeripheral ConnectionRole = "peripheral" // They initiated the connection
)

// DefaultMaxConnections mirrors the usual controller limit of outbound links
const DefaultMaxConnections = 3

// DefaultConnectTimeout applies to clients that never call SetConnectTimeout
const DefaultConnectTimeout = 30 * time.Second

// Errors raised by the simulated air
var (
	ErrDuplicateAddress = errors.New("wire: address already on the air")
	ErrNotInitialized   = errors.New("wire: device not initialized")
	ErrConnectionFailed = errors.New("wire: connection failed")
	ErrLinkLost         = errors.New("wire: link lost")
	ErrClientDeleted    = errors.New("wire: client deleted")
	ErrMaxConnections   = errors.New("wire: max connections reached")
)
