package device

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/hmalva/petproj/internal/geom"
	"github.com/hmalva/petproj/internal/projector"
	"github.com/hmalva/petproj/internal/tof"
)

// randomEvents generates nlors LORs crossing the grid, endpoints on a
// cylinder around the volume, with deterministic values and TOF data.
func randomEvents(n int, seed int64, g geom.Grid) *geom.Events {
	rng := rand.New(rand.NewSource(seed))
	e := &geom.Events{
		Start:        make([]float32, 3*n),
		End:          make([]float32, 3*n),
		Values:       make([]float32, n),
		SigmaTOF:     make([]float32, n),
		CenterOffset: make([]float32, n),
		Bins:         make([]int16, n),
	}
	r := float64(g.VoxelSize[1]) * float64(g.Dim[1]) // radius past the FOV
	for i := 0; i < n; i++ {
		phi := 2 * math.Pi * rng.Float64()
		e.Start[3*i] = float32(rng.NormFloat64()) * g.VoxelSize[0]
		e.Start[3*i+1] = float32(r * math.Cos(phi))
		e.Start[3*i+2] = float32(r * math.Sin(phi))
		e.End[3*i] = float32(rng.NormFloat64()) * g.VoxelSize[0]
		e.End[3*i+1] = float32(-r * math.Cos(phi+0.3*rng.Float64()))
		e.End[3*i+2] = float32(-r * math.Sin(phi+0.3*rng.Float64()))
		e.Values[i] = float32(rng.Float64())
		e.SigmaTOF[i] = float32(3 + rng.Float64())
		e.CenterOffset[i] = float32(rng.NormFloat64())
		e.Bins[i] = int16(rng.Intn(7) - 3)
	}
	return e
}

func cpuSet(n, workers int) []Device {
	devs := make([]Device, n)
	for i := range devs {
		devs[i] = NewCPU(i, workers, 0)
	}
	return devs
}

// journalDevice records the order of lifecycle calls so specs can assert
// acquisition/release ordering on failure paths.
type journalDevice struct {
	id           int
	failAlloc    bool
	failTransfer bool
	calls        *[]string
}

func (d *journalDevice) record(op string) {
	*d.calls = append(*d.calls, fmt.Sprintf("%d:%s", d.id, op))
}

func (d *journalDevice) Name() string { return fmt.Sprintf("journal:%d", d.id) }

func (d *journalDevice) AllocImage(nvox int) (*projector.Accumulator, error) {
	if d.failAlloc {
		d.record("alloc-fail")
		return nil, &Error{Device: d.id, Op: "alloc image", Wrapped: ErrAllocFailed}
	}
	d.record("alloc")
	return projector.NewAccumulator(nvox), nil
}

func (d *journalDevice) TransferEvents(e *geom.Events, lo, hi int) (*geom.Events, error) {
	if d.failTransfer {
		d.record("transfer-fail")
		return nil, &Error{Device: d.id, Op: "transfer events", Wrapped: ErrAllocFailed}
	}
	d.record("transfer")
	return e.Slice(lo, hi).Clone(), nil
}

func (d *journalDevice) LaunchBackProject(g geom.Grid, acc *projector.Accumulator, ev *geom.Events, p tof.Params) {
	d.record("launch")
}

func (d *journalDevice) Synchronize() error {
	d.record("synchronize")
	return nil
}

func (d *journalDevice) Free() {
	d.record("free")
}

func callIndex(calls []string, want string) int {
	for i, c := range calls {
		if c == want {
			return i
		}
	}
	return -1
}

var _ = Describe("partition", func() {
	It("covers the whole range contiguously", func() {
		parts := partition(10, 3)
		Expect(parts).To(Equal([][2]int{{0, 3}, {3, 6}, {6, 10}}))
	})

	It("gives the remainder to the last device", func() {
		parts := partition(7, 4)
		Expect(parts[3]).To(Equal([2]int{3, 7}))
	})

	It("handles fewer LORs than devices", func() {
		parts := partition(2, 4)
		Expect(parts[3]).To(Equal([2]int{0, 2}))
		for i := 0; i < 3; i++ {
			Expect(parts[i][1] - parts[i][0]).To(BeZero())
		}
	})
})

var _ = Describe("Resolve", func() {
	It("uses all available devices for non-positive requests", func() {
		n, err := Resolve(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(Available()))

		n, err = Resolve(-1)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(Available()))
	})

	It("rejects requests beyond what is present", func() {
		_, err := Resolve(Available() + 1)
		Expect(err).To(MatchError(ErrTooManyDevices))
	})
})

var _ = Describe("Orchestrator.BackProject", func() {
	var (
		grid   geom.Grid
		params tof.Params
		ctx    context.Context
	)

	BeforeEach(func() {
		grid = geom.CenterGrid([3]int{6, 8, 6}, [3]float32{2, 1.5, 2})
		params = tof.Params{BinWidth: 4, Table: tof.NewTable()}
		ctx = context.Background()
	})

	project := func(devs []Device, e *geom.Events, seed []float32) []float32 {
		o, err := NewWithDevices(devs)
		Expect(err).NotTo(HaveOccurred())
		img := make([]float32, grid.NumVoxels())
		copy(img, seed)
		Expect(o.BackProject(ctx, e, img, grid, params)).To(Succeed())
		return img
	}

	It("produces the same image for 1, 2 and 4 devices", func() {
		e := randomEvents(333, 7, grid)
		seed := make([]float32, grid.NumVoxels())
		for i := range seed {
			seed[i] = float32(i%5) * 0.1
		}

		one := project(cpuSet(1, 2), e, seed)
		two := project(cpuSet(2, 2), e, seed)
		four := project(cpuSet(4, 2), e, seed)

		maxAbs := 0.0
		for _, v := range one {
			if a := math.Abs(float64(v)); a > maxAbs {
				maxAbs = a
			}
		}
		tol := 1e-4 * maxAbs
		for i := range one {
			Expect(float64(two[i])).To(BeNumerically("~", float64(one[i]), tol))
			Expect(float64(four[i])).To(BeNumerically("~", float64(one[i]), tol))
		}
	})

	It("adds the seed image exactly once", func() {
		e := randomEvents(50, 3, grid)
		zero := project(cpuSet(3, 2), e, nil)

		seed := make([]float32, grid.NumVoxels())
		for i := range seed {
			seed[i] = 2.5
		}
		seeded := project(cpuSet(3, 2), e, seed)

		for i := range zero {
			Expect(float64(seeded[i]-zero[i])).To(BeNumerically("~", 2.5, 1e-3))
		}
	})

	It("matches two summed runs against the duplicated list", func() {
		e := randomEvents(80, 11, grid)
		once := project(cpuSet(2, 4), e, nil)

		dup := &geom.Events{
			Start:        append(append([]float32{}, e.Start...), e.Start...),
			End:          append(append([]float32{}, e.End...), e.End...),
			Values:       append(append([]float32{}, e.Values...), e.Values...),
			SigmaTOF:     append(append([]float32{}, e.SigmaTOF...), e.SigmaTOF...),
			CenterOffset: append(append([]float32{}, e.CenterOffset...), e.CenterOffset...),
			Bins:         append(append([]int16{}, e.Bins...), e.Bins...),
		}
		twice := project(cpuSet(2, 4), dup, nil)

		for i := range once {
			Expect(float64(twice[i])).To(BeNumerically("~", 2*float64(once[i]), 1e-3+1e-4*math.Abs(float64(once[i]))))
		}
	})

	It("leaves no LOR behind when counts do not divide evenly", func() {
		// 1 axis-aligned LOR per device partition boundary corner case:
		// 5 identical LORs over 4 devices.
		start := geom.Vec3{grid.Origin[0], grid.Origin[1] - 3, grid.Origin[2]}
		end := geom.Vec3{grid.Origin[0], -grid.Origin[1] + 3, grid.Origin[2]}
		const n = 5
		e := &geom.Events{
			Start:        make([]float32, 3*n),
			End:          make([]float32, 3*n),
			Values:       make([]float32, n),
			SigmaTOF:     make([]float32, n),
			CenterOffset: make([]float32, n),
			Bins:         make([]int16, n),
		}
		for i := 0; i < n; i++ {
			copy(e.Start[3*i:], start[:])
			copy(e.End[3*i:], end[:])
			e.Values[i] = 1
			e.SigmaTOF[i] = 1e6
		}
		wide := tof.Params{BinWidth: 1e7, Table: params.Table}

		o, err := NewWithDevices(cpuSet(4, 1))
		Expect(err).NotTo(HaveOccurred())
		img := make([]float32, grid.NumVoxels())
		Expect(o.BackProject(ctx, e, img, grid, wide)).To(Succeed())

		var total float64
		for _, v := range img {
			total += float64(v)
		}
		// Each LOR deposits ~value*voxsize[1] per traversed voxel.
		want := float64(n) * float64(grid.Dim[1]) * float64(grid.VoxelSize[1])
		Expect(total).To(BeNumerically("~", want, 1e-2*want))
	})

	It("returns a typed error and releases buffers when allocation fails", func() {
		// Budget too small for the image accumulator on device 1.
		devs := []Device{NewCPU(0, 1, 0), NewCPU(1, 1, 16)}
		o, err := NewWithDevices(devs)
		Expect(err).NotTo(HaveOccurred())

		e := randomEvents(10, 1, grid)
		img := make([]float32, grid.NumVoxels())
		err = o.BackProject(ctx, e, img, grid, params)
		Expect(err).To(MatchError(ErrAllocFailed))

		var derr *Error
		Expect(errors.As(err, &derr)).To(BeTrue())
		Expect(derr.Device).To(Equal(1))

		// Seed image untouched on failure.
		for _, v := range img {
			Expect(v).To(BeZero())
		}
	})

	It("synchronizes in-flight launches before freeing on allocation failure", func() {
		var calls []string
		devs := []Device{
			&journalDevice{id: 0, calls: &calls},
			&journalDevice{id: 1, calls: &calls, failAlloc: true},
		}
		o, err := NewWithDevices(devs)
		Expect(err).NotTo(HaveOccurred())

		img := make([]float32, grid.NumVoxels())
		err = o.BackProject(ctx, randomEvents(6, 1, grid), img, grid, params)
		Expect(err).To(MatchError(ErrAllocFailed))

		// Device 0 launched; it must drain before its buffers go away.
		sync0 := callIndex(calls, "0:synchronize")
		free0 := callIndex(calls, "0:free")
		Expect(callIndex(calls, "0:launch")).To(BeNumerically(">=", 0))
		Expect(sync0).To(BeNumerically(">=", 0))
		Expect(free0).To(BeNumerically(">", sync0))
	})

	It("synchronizes in-flight launches before freeing on transfer failure", func() {
		var calls []string
		devs := []Device{
			&journalDevice{id: 0, calls: &calls},
			&journalDevice{id: 1, calls: &calls, failTransfer: true},
		}
		o, err := NewWithDevices(devs)
		Expect(err).NotTo(HaveOccurred())

		img := make([]float32, grid.NumVoxels())
		err = o.BackProject(ctx, randomEvents(6, 1, grid), img, grid, params)
		Expect(err).To(MatchError(ErrAllocFailed))

		sync0 := callIndex(calls, "0:synchronize")
		Expect(sync0).To(BeNumerically(">=", 0))
		Expect(callIndex(calls, "0:free")).To(BeNumerically(">", sync0))
	})

	It("restarts progress counters on each call", func() {
		o, err := NewWithDevices(cpuSet(2, 2))
		Expect(err).NotTo(HaveOccurred())

		e := randomEvents(40, 5, grid)
		img := make([]float32, grid.NumVoxels())
		Expect(o.BackProject(ctx, e, img, grid, params)).To(Succeed())

		img2 := make([]float32, grid.NumVoxels())
		Expect(o.BackProject(ctx, e, img2, grid, params)).To(Succeed())

		done, total := o.Progress()
		Expect(total).To(Equal(int64(e.Len())))
		Expect(done).To(Equal(int64(e.Len())))
	})

	It("rejects malformed inputs with descriptive errors", func() {
		o, err := NewWithDevices(cpuSet(1, 1))
		Expect(err).NotTo(HaveOccurred())

		bad := grid
		bad.VoxelSize[0] = -1
		img := make([]float32, grid.NumVoxels())
		Expect(o.BackProject(ctx, randomEvents(3, 1, grid), img, bad, params)).
			To(MatchError(geom.ErrBadGrid))

		deg := randomEvents(3, 2, grid)
		copy(deg.End[:3], deg.Start[:3])
		Expect(o.BackProject(ctx, deg, img, grid, params)).
			To(MatchError(geom.ErrDegenerateLOR))

		short := make([]float32, grid.NumVoxels()-1)
		Expect(o.BackProject(ctx, randomEvents(3, 1, grid), short, grid, params)).
			To(MatchError(geom.ErrLengthMismatch))
	})

	It("observes context cancellation between phases", func() {
		o, err := NewWithDevices(cpuSet(2, 1))
		Expect(err).NotTo(HaveOccurred())

		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		img := make([]float32, grid.NumVoxels())
		Expect(o.BackProject(cancelled, randomEvents(5, 1, grid), img, grid, params)).
			To(MatchError(context.Canceled))
	})
})
