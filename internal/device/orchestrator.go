package device

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/blas/blas32"

	"github.com/hmalva/petproj/internal/geom"
	"github.com/hmalva/petproj/internal/projector"
	"github.com/hmalva/petproj/internal/tof"
)

// Options configures an orchestration run.
type Options struct {
	// Devices is the requested accelerator count; zero or negative uses
	// all available.
	Devices int

	// WorkersPerDevice is the launch-group width on each device.
	WorkersPerDevice int

	// MemoryBudget caps per-device allocations in bytes. Zero disables
	// the cap.
	MemoryBudget int64
}

// Orchestrator owns a set of devices and drives back-projection calls over
// them. Per-call device buffers never outlive the call.
type Orchestrator struct {
	devices []Device
}

// New resolves the device count and builds the device set.
func New(opts Options) (*Orchestrator, error) {
	n, err := Resolve(opts.Devices)
	if err != nil {
		return nil, err
	}
	devs := make([]Device, n)
	for i := range devs {
		devs[i] = NewCPU(i, opts.WorkersPerDevice, opts.MemoryBudget)
	}
	return &Orchestrator{devices: devs}, nil
}

// NewWithDevices builds an orchestrator over an explicit device set.
func NewWithDevices(devs []Device) (*Orchestrator, error) {
	if len(devs) == 0 {
		return nil, ErrNoDevices
	}
	return &Orchestrator{devices: devs}, nil
}

func (o *Orchestrator) NumDevices() int { return len(o.devices) }

// Progress sums per-device progress for devices that report it.
func (o *Orchestrator) Progress() (done, total int64) {
	type reporter interface{ Progress() (int64, int64) }
	for _, d := range o.devices {
		if r, ok := d.(reporter); ok {
			dd, tt := r.Progress()
			done += dd
			total += tt
		}
	}
	return done, total
}

// partition splits n LORs into one contiguous chunk per device: size
// n/ndev each, with the last chunk absorbing the remainder so no LOR is
// dropped regardless of divisibility.
func partition(n, ndev int) [][2]int {
	chunk := n / ndev
	parts := make([][2]int, ndev)
	for i := 0; i < ndev; i++ {
		lo := i * chunk
		hi := lo + chunk
		if i == ndev-1 {
			hi = n
		}
		parts[i] = [2]int{lo, hi}
	}
	return parts
}

// BackProject distributes events across the device set and accumulates the
// TOF-weighted back-projection of every LOR onto img, in place. img enters
// as the seed and leaves as seed plus the contribution of all events.
//
// Any allocation or validation failure releases every buffer acquired so
// far and returns a typed error; no partial result is written to img.
func (o *Orchestrator) BackProject(ctx context.Context, events *geom.Events, img []float32, g geom.Grid, p tof.Params) error {
	if err := g.Validate(); err != nil {
		return err
	}
	if err := events.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	nvox := g.NumVoxels()
	if len(img) != nvox {
		return fmt.Errorf("%w: image has %d voxels, grid wants %d",
			geom.ErrLengthMismatch, len(img), nvox)
	}
	ndev := len(o.devices)
	parts := partition(events.Len(), ndev)

	// Progress counters restart per call so a reused orchestrator does not
	// report stale totals from the previous one.
	type resetter interface{ ResetProgress() }
	for _, d := range o.devices {
		if r, ok := d.(resetter); ok {
			r.ResetProgress()
		}
	}

	accs := make([]*projector.Accumulator, ndev)
	freeAll := func() {
		for _, d := range o.devices {
			d.Free()
		}
	}

	// Per-device setup: allocate the accumulator, transfer the LOR slice,
	// launch. The caller's seed image participates in exactly one
	// accumulation stream, the last-indexed device; every other device
	// starts from zero so the seed is not double-counted in the reduction.
	for i, d := range o.devices {
		acc, err := d.AllocImage(nvox)
		if err != nil {
			// Devices launched so far must drain before their buffers are
			// released.
			o.synchronize(i)
			freeAll()
			return err
		}
		accs[i] = acc

		ev, err := d.TransferEvents(events, parts[i][0], parts[i][1])
		if err != nil {
			o.synchronize(i)
			freeAll()
			return err
		}

		if i == ndev-1 {
			acc.Seed(img)
		}

		if err := ctx.Err(); err != nil {
			// Devices launched so far run to completion; there is no
			// intra-kernel abort path.
			o.synchronize(i)
			freeAll()
			return err
		}
		d.LaunchBackProject(g, acc, ev, p)
	}

	if err := o.synchronize(ndev); err != nil {
		freeAll()
		return err
	}

	// Sequential cross-device reduction onto the primary device: merge each
	// non-primary partial image elementwise, then release it. Device counts
	// are small, a tree reduction buys nothing here.
	primary := blas32.Vector{N: nvox, Inc: 1, Data: accs[0].Data()}
	for i := 1; i < ndev; i++ {
		partial := blas32.Vector{N: nvox, Inc: 1, Data: accs[i].Data()}
		blas32.Axpy(1, partial, primary)
		accs[i] = nil
	}

	// Final image back to host-visible memory, then release everything.
	copy(img, accs[0].Data())
	freeAll()
	return nil
}

func (o *Orchestrator) synchronize(n int) error {
	var first error
	for i := 0; i < n; i++ {
		if err := o.devices[i].Synchronize(); err != nil && first == nil {
			first = &Error{Device: i, Op: "synchronize", Wrapped: err}
		}
	}
	return first
}
