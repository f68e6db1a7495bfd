package geom

import (
	"errors"
	"fmt"
)

// Domain errors for geometry validation.
var (
	// ErrBadGrid indicates non-positive voxel sizes or dimensions.
	ErrBadGrid = errors.New("geom: invalid grid (voxel size and dims must be positive)")

	// ErrDegenerateLOR indicates a line of response with coincident endpoints.
	ErrDegenerateLOR = errors.New("geom: degenerate LOR (start == end)")

	// ErrBadSigma indicates a non-positive TOF resolution.
	ErrBadSigma = errors.New("geom: sigma must be positive")

	// ErrLengthMismatch indicates list-mode arrays of inconsistent length.
	ErrLengthMismatch = errors.New("geom: list-mode array length mismatch")
)

// Vec3 is a world-space point or direction.
type Vec3 [3]float32

func (v Vec3) Sub(w Vec3) Vec3 { return Vec3{v[0] - w[0], v[1] - w[1], v[2] - w[2]} }
func (v Vec3) Add(w Vec3) Vec3 { return Vec3{v[0] + w[0], v[1] + w[1], v[2] + w[2]} }
func (v Vec3) Scale(s float32) Vec3 {
	return Vec3{v[0] * s, v[1] * s, v[2] * s}
}
func (v Vec3) Dot(w Vec3) float32 {
	return v[0]*w[0] + v[1]*w[1] + v[2]*w[2]
}

// Grid describes a dense 3D image volume. Origin is the world coordinate of
// the center of voxel (0,0,0); indexing is row-major with axis 0 slowest.
type Grid struct {
	Dim       [3]int
	VoxelSize [3]float32
	Origin    [3]float32
}

// Index returns the linear index of voxel (i0,i1,i2).
func (g Grid) Index(i0, i1, i2 int) int {
	return i0*g.Dim[1]*g.Dim[2] + i1*g.Dim[2] + i2
}

// NumVoxels returns the total voxel count.
func (g Grid) NumVoxels() int {
	return g.Dim[0] * g.Dim[1] * g.Dim[2]
}

func (g Grid) Validate() error {
	for a := 0; a < 3; a++ {
		if g.Dim[a] < 1 {
			return fmt.Errorf("%w: dim[%d] = %d", ErrBadGrid, a, g.Dim[a])
		}
		if g.VoxelSize[a] <= 0 {
			return fmt.Errorf("%w: voxel_size[%d] = %g", ErrBadGrid, a, g.VoxelSize[a])
		}
	}
	return nil
}

// CenterGrid returns a grid whose volume is centered on the world origin,
// the usual convention for scanner FOVs.
func CenterGrid(dim [3]int, voxelSize [3]float32) Grid {
	g := Grid{Dim: dim, VoxelSize: voxelSize}
	for a := 0; a < 3; a++ {
		g.Origin[a] = (-float32(dim[a])/2 + 0.5) * voxelSize[a]
	}
	return g
}

// Events holds list-mode LOR data in structure-of-arrays form so that
// contiguous sub-ranges slice cheaply when partitioned across devices.
// Start and End are flattened world coordinates of length 3n; the remaining
// arrays have length n.
type Events struct {
	Start        []float32
	End          []float32
	Values       []float32
	SigmaTOF     []float32
	CenterOffset []float32
	Bins         []int16
}

func (e *Events) Len() int { return len(e.Values) }

// StartPoint returns the start coordinate of LOR i.
func (e *Events) StartPoint(i int) Vec3 {
	return Vec3{e.Start[3*i], e.Start[3*i+1], e.Start[3*i+2]}
}

// EndPoint returns the end coordinate of LOR i.
func (e *Events) EndPoint(i int) Vec3 {
	return Vec3{e.End[3*i], e.End[3*i+1], e.End[3*i+2]}
}

// Slice returns a view of LORs [lo, hi). The backing arrays are shared;
// callers that need private storage must Clone the result.
func (e *Events) Slice(lo, hi int) *Events {
	return &Events{
		Start:        e.Start[3*lo : 3*hi],
		End:          e.End[3*lo : 3*hi],
		Values:       e.Values[lo:hi],
		SigmaTOF:     e.SigmaTOF[lo:hi],
		CenterOffset: e.CenterOffset[lo:hi],
		Bins:         e.Bins[lo:hi],
	}
}

// Clone returns a deep copy with freshly allocated arrays.
func (e *Events) Clone() *Events {
	c := &Events{
		Start:        make([]float32, len(e.Start)),
		End:          make([]float32, len(e.End)),
		Values:       make([]float32, len(e.Values)),
		SigmaTOF:     make([]float32, len(e.SigmaTOF)),
		CenterOffset: make([]float32, len(e.CenterOffset)),
		Bins:         make([]int16, len(e.Bins)),
	}
	copy(c.Start, e.Start)
	copy(c.End, e.End)
	copy(c.Values, e.Values)
	copy(c.SigmaTOF, e.SigmaTOF)
	copy(c.CenterOffset, e.CenterOffset)
	copy(c.Bins, e.Bins)
	return c
}

// Validate checks array lengths and per-LOR preconditions. Zero-value LORs
// are allowed to be degenerate since they are skipped by the projector.
func (e *Events) Validate() error {
	n := e.Len()
	if len(e.Start) != 3*n || len(e.End) != 3*n ||
		len(e.SigmaTOF) != n || len(e.CenterOffset) != n || len(e.Bins) != n {
		return ErrLengthMismatch
	}
	for i := 0; i < n; i++ {
		if e.Values[i] == 0 {
			continue
		}
		d := e.EndPoint(i).Sub(e.StartPoint(i))
		if d.Dot(d) == 0 {
			return fmt.Errorf("%w: LOR %d", ErrDegenerateLOR, i)
		}
		if e.SigmaTOF[i] <= 0 {
			return fmt.Errorf("%w: LOR %d has sigma %g", ErrBadSigma, i, e.SigmaTOF[i])
		}
	}
	return nil
}
