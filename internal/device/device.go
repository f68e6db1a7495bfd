// Package device partitions list-mode projection work across parallel
// accelerators and reduces their partial volumes into one result. A Device
// is the minimal capability an accelerator must offer: allocate, transfer,
// launch, synchronize, free. The CPU implementation treats one worker-pool
// partition as one virtual device, preserving the same partition/reduce
// structure a multi-GPU build would use.
package device

import (
	"runtime"

	"github.com/hmalva/petproj/internal/geom"
	"github.com/hmalva/petproj/internal/projector"
	"github.com/hmalva/petproj/internal/tof"
)

// Device is one accelerator. Buffers allocated on a device live until Free;
// a launch runs asynchronously until Synchronize returns.
type Device interface {
	Name() string

	// AllocImage allocates a zeroed device-resident image accumulator.
	AllocImage(nvox int) (*projector.Accumulator, error)

	// TransferEvents copies the LOR slice [lo, hi) into device memory.
	TransferEvents(e *geom.Events, lo, hi int) (*geom.Events, error)

	// LaunchBackProject enqueues the traversal kernel over ev. Returns
	// immediately; completion and kernel errors surface in Synchronize.
	LaunchBackProject(g geom.Grid, acc *projector.Accumulator, ev *geom.Events, p tof.Params)

	// Synchronize blocks until all launches on this device complete.
	Synchronize() error

	// Free releases every allocation made on this device.
	Free()
}

// Available reports how many devices the host can provide. For the CPU
// target each device is a worker-pool partition, bounded by core count.
func Available() int {
	return runtime.NumCPU()
}

// Resolve maps a requested device count to a concrete one: zero or negative
// means all available. Requests beyond what is present are an error rather
// than a downstream launch failure.
func Resolve(requested int) (int, error) {
	avail := Available()
	if avail < 1 {
		return 0, ErrNoDevices
	}
	if requested <= 0 {
		return avail, nil
	}
	if requested > avail {
		return 0, ErrTooManyDevices
	}
	return requested, nil
}
