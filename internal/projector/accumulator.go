package projector

import (
	"math"
	"sync/atomic"
	"unsafe"
)

// Accumulator is a dense float32 volume that may be written by many kernel
// lanes at once. All concurrent mutation goes through Add, which is a CAS
// fetch-add on the bit pattern of the voxel; a plain read-modify-write would
// drop contributions when two LORs touch the same voxel. This is the CPU
// rendition of the hardware atomic add a GPU kernel would use.
type Accumulator struct {
	data []float32
}

// NewAccumulator returns a zeroed accumulator with n voxels.
func NewAccumulator(n int) *Accumulator {
	return &Accumulator{data: make([]float32, n)}
}

// Seed copies img into the accumulator. Must not race with Add.
func (a *Accumulator) Seed(img []float32) {
	copy(a.data, img)
}

// Add atomically adds v to voxel i.
func (a *Accumulator) Add(i int, v float32) {
	addr := (*uint32)(unsafe.Pointer(&a.data[i]))
	for {
		old := atomic.LoadUint32(addr)
		cur := math.Float32frombits(old)
		if atomic.CompareAndSwapUint32(addr, old, math.Float32bits(cur+v)) {
			return
		}
	}
}

// Data exposes the underlying volume. Only valid once all writers have been
// synchronized; used for the reduction and the final host copy.
func (a *Accumulator) Data() []float32 {
	return a.data
}

// Len returns the voxel count.
func (a *Accumulator) Len() int { return len(a.data) }
