// Package tof implements time-of-flight bin weighting for list-mode PET
// projections. The Gaussian TOF kernel of one event is integrated over its
// assigned temporal bin using a fixed-resolution half-erf lookup table, the
// same fixed-precision substitute for the Gaussian CDF used by GPU
// implementations of Joseph-type projectors.
package tof

import "math"

const (
	// TableSize samples cover erf arguments in [TableMin, TableMax].
	TableSize = 6001
	TableMin  = -3.0
	TableMax  = 3.0

	tableStep    = 0.001
	invTableStep = 1.0 / tableStep

	sqrt2 = math.Sqrt2
)

// Table is an immutable sampling of 0.5*erf(x) on a uniform grid over
// [-3, 3] with step 0.001. It is shared read-only across all concurrent
// kernel lanes and all devices.
type Table struct {
	samples [TableSize]float32
}

// NewTable builds the lookup table. Built once per process; the result is
// safe for unsynchronized concurrent reads.
func NewTable() *Table {
	t := &Table{}
	for i := 0; i < TableSize; i++ {
		x := TableMin + float64(i)*tableStep
		t.samples[i] = float32(0.5 * math.Erf(x))
	}
	return t
}

// Lookup returns 0.5*erf(x) at table resolution. Arguments outside [-3, 3]
// saturate at the boundary samples (+-0.5 up to table precision).
func (t *Table) Lookup(x float32) float32 {
	if x <= TableMin {
		return t.samples[0]
	}
	if x >= TableMax {
		return t.samples[TableSize-1]
	}
	i := int((float64(x) - TableMin) * invTableStep)
	return t.samples[i]
}

// Params holds the TOF weighting configuration shared by all LORs of one
// projection call. Per-LOR sigma, center offset and bin index live in the
// list-mode event arrays.
type Params struct {
	// BinWidth is the temporal bin width converted to spatial units along
	// the LOR.
	BinWidth float32

	// NSigmas, when positive, truncates the kernel: voxels farther than
	// NSigmas*sigma + BinWidth/2 from the bin center weigh zero. Zero
	// disables truncation.
	NSigmas float32

	Table *Table
}

// BinWeight returns the fraction of the event's Gaussian TOF probability
// mass that falls inside its assigned bin, evaluated at signed ray distance
// dist from the LOR midpoint. The bin center sits at
// centerOffset + bin*BinWidth with half-width BinWidth/2; both edges are
// scaled to erf units by sqrt(2)*sigma before the table lookup.
func (p Params) BinWeight(dist, sigma, centerOffset float32, bin int16) float32 {
	center := centerOffset + float32(bin)*p.BinWidth
	half := 0.5 * p.BinWidth

	if p.NSigmas > 0 {
		d := dist - center
		if d < 0 {
			d = -d
		}
		if d > p.NSigmas*sigma+half {
			return 0
		}
	}

	s := 1 / (float32(sqrt2) * sigma)
	lo := (center - half - dist) * s
	hi := (center + half - dist) * s
	return p.Table.Lookup(hi) - p.Table.Lookup(lo)
}
