package bridge

import "fmt"

// Kind classifies bridge failures
type Kind int

const (
	KindScanStart Kind = iota + 1
	KindConnect
	KindCapacity
	KindServiceNotFound
	KindCharacteristicNotFound
	KindSubscribe
	KindWrite
)

func (k Kind) String() string {
	switch k {
	case KindScanStart:
		return "scan start failure"
	case KindConnect:
		return "connect failure"
	case KindCapacity:
		return "capacity exceeded"
	case KindServiceNotFound:
		return "service not found"
	case KindCharacteristicNotFound:
		return "characteristic not found"
	case KindSubscribe:
		return "subscribe failure"
	case KindWrite:
		return "write failure"
	default:
		return "unknown failure"
	}
}

// ConnectReason tells which connect path failed
type ConnectReason int

const (
	ReasonNone ConnectReason = iota
	ReasonReconnect
	ReasonFresh
	ReasonTimeout
)

func (r ConnectReason) String() string {
	switch r {
	case ReasonReconnect:
		return "reconnect"
	case ReasonFresh:
		return "fresh"
	case ReasonTimeout:
		return "timeout"
	default:
		return ""
	}
}

// Error is returned by every bridge operation that can fail
type Error struct {
	Kind   Kind
	Reason ConnectReason
	Err    error
}

func (e *Error) Error() string {
	msg := "bridge: " + e.Kind.String()
	if e.Reason != ReasonNone {
		msg += fmt.Sprintf(" (%s)", e.Reason)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels of the same kind. A sentinel without a reason
// matches every reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == ReasonNone || t.Reason == e.Reason)
}

// Sentinels for errors.Is
var (
	ErrScanStart              = &Error{Kind: KindScanStart}
	ErrConnect                = &Error{Kind: KindConnect}
	ErrReconnect              = &Error{Kind: KindConnect, Reason: ReasonReconnect}
	ErrFreshConnect           = &Error{Kind: KindConnect, Reason: ReasonFresh}
	ErrConnectTimeout         = &Error{Kind: KindConnect, Reason: ReasonTimeout}
	ErrCapacity               = &Error{Kind: KindCapacity}
	ErrServiceNotFound        = &Error{Kind: KindServiceNotFound}
	ErrCharacteristicNotFound = &Error{Kind: KindCharacteristicNotFound}
	ErrSubscribe              = &Error{Kind: KindSubscribe}
	ErrWrite                  = &Error{Kind: KindWrite}
)

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func connectError(reason ConnectReason, err error) *Error {
	return &Error{Kind: KindConnect, Reason: reason, Err: err}
}
