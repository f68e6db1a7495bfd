package device

import (
	"errors"
	"fmt"
)

// Domain errors for device orchestration. All are recoverable by the
// caller: a reconstruction loop can retry with fewer devices or abort
// without losing previously accumulated iterations.
var (
	// ErrNoDevices indicates no accelerator could be resolved.
	ErrNoDevices = errors.New("device: no devices available")

	// ErrTooManyDevices indicates the requested count exceeds what is present.
	ErrTooManyDevices = errors.New("device: requested device count exceeds available")

	// ErrAllocFailed indicates a device-resident buffer could not be allocated.
	ErrAllocFailed = errors.New("device: allocation failed")
)

// Error wraps a failure with the device and operation it occurred on.
type Error struct {
	Device  int
	Op      string
	Wrapped error
}

func (e *Error) Error() string {
	return fmt.Sprintf("device %d: %s: %v", e.Device, e.Op, e.Wrapped)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}
