package fleet

import (
	"errors"
	"fmt"

	"github.com/orca-control/orca-go/pkg/session"
	"github.com/orca-control/orca-go/pkg/tree"
)

// Fleet errors.
var (
	// ErrConfig is matched by every *ConfigError.
	ErrConfig = errors.New("invalid fleet configuration")

	// ErrClosed is returned after Cleanup.
	ErrClosed = errors.New("fleet closed")
)

// ConfigError reports a construction-time configuration problem. No camera
// link has been opened when it is returned.
type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fleet config %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("fleet config %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

func (e *ConfigError) Unwrap() error { return e.Err }

// DeviceError reports that a camera did not accept a write. Err is the
// session error (timeout, nack or protocol error).
type DeviceError struct {
	Camera string
	Path   string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("camera %s: set %q: %v", e.Camera, e.Path, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// ErrorKind classifies an error returned by Get or Set.
type ErrorKind uint8

const (
	KindNone ErrorKind = iota
	KindNotFound
	KindReadOnly
	KindInvalidValue
	KindDeviceTimeout
	KindDeviceRejected
	KindDeviceProtocol
	KindDevice
	KindConfig
	KindClosed
	KindInternal
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "NONE"
	case KindNotFound:
		return "NOT_FOUND"
	case KindReadOnly:
		return "READ_ONLY"
	case KindInvalidValue:
		return "INVALID_VALUE"
	case KindDeviceTimeout:
		return "DEVICE_TIMEOUT"
	case KindDeviceRejected:
		return "DEVICE_REJECTED"
	case KindDeviceProtocol:
		return "DEVICE_PROTOCOL"
	case KindDevice:
		return "DEVICE"
	case KindConfig:
		return "CONFIG"
	case KindClosed:
		return "CLOSED"
	default:
		return "INTERNAL"
	}
}

// IsDevice reports whether the kind is a device failure.
func (k ErrorKind) IsDevice() bool {
	switch k {
	case KindDeviceTimeout, KindDeviceRejected, KindDeviceProtocol, KindDevice:
		return true
	}
	return false
}

// Kind classifies err for an adapter that maps errors to responses.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrConfig):
		return KindConfig
	case errors.Is(err, ErrClosed):
		return KindClosed
	case errors.Is(err, tree.ErrNotFound):
		return KindNotFound
	case errors.Is(err, tree.ErrReadOnly):
		return KindReadOnly
	case errors.Is(err, tree.ErrInvalidValue):
		return KindInvalidValue
	case errors.Is(err, session.ErrTimeout):
		return KindDeviceTimeout
	case errors.Is(err, session.ErrNack):
		return KindDeviceRejected
	case errors.Is(err, session.ErrProtocol):
		return KindDeviceProtocol
	}
	var de *DeviceError
	if errors.As(err, &de) {
		return KindDevice
	}
	return KindInternal
}
