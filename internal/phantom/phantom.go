// Package phantom generates synthetic list-mode workloads: a regular
// polygon ring scanner and random coincidences between its crystals. Used
// by the CLI and benchmarks; real listmode decoding is upstream of this
// repository.
package phantom

import (
	"math"
	"math/rand"

	"github.com/hmalva/petproj/internal/geom"
)

// Scanner describes a cylindrical PET scanner: crystals evenly spaced on
// rings in the (0,1) plane, rings stacked along axis 2.
type Scanner struct {
	Radius      float32 // mm, crystal face to isocenter
	Crystals    int     // crystals per ring
	Rings       int
	RingSpacing float32 // mm between ring centers
}

// DefaultScanner mirrors the small demo geometry: 28 modules of 16
// crystals on a single-ring polygon.
func DefaultScanner() Scanner {
	return Scanner{Radius: 325, Crystals: 448, Rings: 1, RingSpacing: 4}
}

// CrystalPosition returns the world coordinate of crystal c on ring r.
func (s Scanner) CrystalPosition(r, c int) geom.Vec3 {
	phi := 2 * math.Pi * float64(c) / float64(s.Crystals)
	z := (float64(r) - float64(s.Rings-1)/2) * float64(s.RingSpacing)
	return geom.Vec3{
		float32(float64(s.Radius) * math.Cos(phi)),
		float32(float64(s.Radius) * math.Sin(phi)),
		float32(z),
	}
}

// TOF holds the acquisition TOF settings used when simulating events.
type TOF struct {
	NumBins  int     // odd, bin 0 centered on the midpoint
	SigmaTOF float32 // mm
}

// Events simulates n random coincidences: crystal pairs at least a quarter
// ring apart so every LOR crosses the field of view, unit values, and a
// random TOF bin assignment. Deterministic for a fixed seed.
func (s Scanner) Events(n int, t TOF, seed int64) *geom.Events {
	rng := rand.New(rand.NewSource(seed))
	e := &geom.Events{
		Start:        make([]float32, 3*n),
		End:          make([]float32, 3*n),
		Values:       make([]float32, n),
		SigmaTOF:     make([]float32, n),
		CenterOffset: make([]float32, n),
		Bins:         make([]int16, n),
	}

	half := t.NumBins / 2
	for i := 0; i < n; i++ {
		c0 := rng.Intn(s.Crystals)
		// Opposite side of the ring, jittered by up to a quarter ring.
		c1 := (c0 + s.Crystals/2 + rng.Intn(s.Crystals/4+1) - s.Crystals/8) % s.Crystals
		if c1 < 0 {
			c1 += s.Crystals
		}
		r0 := rng.Intn(s.Rings)
		r1 := rng.Intn(s.Rings)

		p0 := s.CrystalPosition(r0, c0)
		p1 := s.CrystalPosition(r1, c1)
		copy(e.Start[3*i:], p0[:])
		copy(e.End[3*i:], p1[:])

		e.Values[i] = 1
		e.SigmaTOF[i] = t.SigmaTOF
		if half > 0 {
			e.Bins[i] = int16(rng.Intn(2*half+1) - half)
		}
	}
	return e
}
