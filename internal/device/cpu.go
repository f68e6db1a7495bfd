package device

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hmalva/petproj/internal/geom"
	"github.com/hmalva/petproj/internal/projector"
	"github.com/hmalva/petproj/internal/tof"
)

// launchBlock is the granularity of progress reporting inside one launch.
const launchBlock = 8192

// CPU is a virtual accelerator backed by a worker pool. Memory budgets are
// enforced in software so that the allocation-failure path of the
// orchestrator is a real, testable outcome instead of an OOM kill.
type CPU struct {
	id      int
	workers int
	budget  int64 // bytes, 0 = unlimited
	used    int64

	wg   sync.WaitGroup
	done atomic.Int64
	work atomic.Int64
}

// NewCPU creates device id with the given worker count per launch group.
func NewCPU(id, workers int, budget int64) *CPU {
	if workers < 1 {
		workers = 1
	}
	return &CPU{id: id, workers: workers, budget: budget}
}

func (c *CPU) Name() string {
	return fmt.Sprintf("cpu:%d (%d workers)", c.id, c.workers)
}

func (c *CPU) reserve(bytes int64) error {
	if c.budget > 0 && c.used+bytes > c.budget {
		return fmt.Errorf("%w: %d bytes requested, %d of %d in use",
			ErrAllocFailed, bytes, c.used, c.budget)
	}
	c.used += bytes
	return nil
}

func (c *CPU) AllocImage(nvox int) (*projector.Accumulator, error) {
	if err := c.reserve(int64(nvox) * 4); err != nil {
		return nil, &Error{Device: c.id, Op: "alloc image", Wrapped: err}
	}
	return projector.NewAccumulator(nvox), nil
}

func (c *CPU) TransferEvents(e *geom.Events, lo, hi int) (*geom.Events, error) {
	n := int64(hi - lo)
	// 3+3 coordinates, value, sigma, offset as float32, bin as int16.
	if err := c.reserve(n*9*4 + n*2); err != nil {
		return nil, &Error{Device: c.id, Op: "transfer events", Wrapped: err}
	}
	return e.Slice(lo, hi).Clone(), nil
}

func (c *CPU) LaunchBackProject(g geom.Grid, acc *projector.Accumulator, ev *geom.Events, p tof.Params) {
	c.work.Add(int64(ev.Len()))
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		n := ev.Len()
		for lo := 0; lo < n; lo += launchBlock {
			hi := lo + launchBlock
			if hi > n {
				hi = n
			}
			projector.BackProject(g, acc, ev.Slice(lo, hi), p, c.workers)
			c.done.Add(int64(hi - lo))
		}
	}()
}

func (c *CPU) Synchronize() error {
	c.wg.Wait()
	return nil
}

func (c *CPU) Free() {
	c.used = 0
}

// Progress reports LORs processed and enqueued on this device.
func (c *CPU) Progress() (done, total int64) {
	return c.done.Load(), c.work.Load()
}

// ResetProgress clears the counters at the start of a new call.
func (c *CPU) ResetProgress() {
	c.done.Store(0)
	c.work.Store(0)
}
