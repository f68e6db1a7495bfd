// Package projector implements the TOF-weighted Joseph back-projection
// kernel for list-mode PET data: each line of response steps through the
// image one voxel plane at a time along the axis it is most aligned with,
// splatting its value into the four transverse neighbors of every plane
// crossing, weighted by the bilinear remainder and by the overlap of the
// event's Gaussian TOF kernel with its assigned temporal bin.
package projector

import (
	"math"

	"github.com/hmalva/petproj/internal/geom"
	"github.com/hmalva/petproj/internal/tof"
)

// otherAxes maps a principal axis to the two transverse axes.
var otherAxes = [3][2]int{{1, 2}, {0, 2}, {0, 1}}

// backProjectLOR distributes value along one LOR into the accumulator.
// Zero-value LORs contribute nothing; degenerate LORs are rejected upstream
// by Events.Validate, the traversal assumes |end-start| > 0.
func backProjectLOR(g geom.Grid, acc *Accumulator, start, end geom.Vec3,
	value float32, p tof.Params, sigma, centerOffset float32, bin int16) {

	if value == 0 {
		return
	}

	d := end.Sub(start)
	dsq := geom.Vec3{d[0] * d[0], d[1] * d[1], d[2] * d[2]}
	sum := dsq[0] + dsq[1] + dsq[2]

	// Principal axis: largest squared direction cosine. Stepping one plane
	// per voxel along this axis guarantees no plane is skipped.
	dir := 0
	if dsq[1] > dsq[dir] {
		dir = 1
	}
	if dsq[2] > dsq[dir] {
		dir = 2
	}
	cosSq := dsq[dir] / sum

	// Path length traversed per plane step along an oblique ray.
	corr := g.VoxelSize[dir] / float32(math.Sqrt(float64(cosSq)))

	// Unit direction and midpoint are invariant across the plane loop.
	invNorm := 1 / float32(math.Sqrt(float64(sum)))
	u := d.Scale(invNorm)
	mid := start.Add(end).Scale(0.5)

	a1 := otherAxes[dir][0]
	a2 := otherAxes[dir][1]
	n1 := g.Dim[a1]
	n2 := g.Dim[a2]

	var idx [3]int
	for k := 0; k < g.Dim[dir]; k++ {
		// World coordinate of plane k along the principal axis, and the
		// parametric position of the ray crossing it.
		xPr := g.Origin[dir] + float32(k)*g.VoxelSize[dir]
		t := (xPr - start[dir]) / d[dir]

		c1 := start[a1] + t*d[a1]
		c2 := start[a2] + t*d[a2]

		f1 := float64((c1 - g.Origin[a1]) / g.VoxelSize[a1])
		f2 := float64((c2 - g.Origin[a2]) / g.VoxelSize[a2])
		i1 := int(math.Floor(f1))
		i2 := int(math.Floor(f2))
		w1 := float32(f1 - math.Floor(f1))
		w2 := float32(f2 - math.Floor(f2))

		// Representative voxel-center point for the TOF weight: exact along
		// the principal axis, interpolated in the transverse plane.
		var rep geom.Vec3
		rep[dir] = xPr
		rep[a1] = c1
		rep[a2] = c2
		dist := rep.Sub(mid).Dot(u)

		tw := p.BinWeight(dist, sigma, centerOffset, bin)
		if tw == 0 {
			continue
		}
		base := value * corr * tw

		idx[dir] = k

		// Bilinear splat into the four transverse neighbors. Out-of-bounds
		// neighbors are skipped, never clamped.
		if i1 >= 0 && i1 < n1 {
			idx[a1] = i1
			if i2 >= 0 && i2 < n2 {
				idx[a2] = i2
				acc.Add(g.Index(idx[0], idx[1], idx[2]), base*(1-w1)*(1-w2))
			}
			if i2+1 >= 0 && i2+1 < n2 {
				idx[a2] = i2 + 1
				acc.Add(g.Index(idx[0], idx[1], idx[2]), base*(1-w1)*w2)
			}
		}
		if i1+1 >= 0 && i1+1 < n1 {
			idx[a1] = i1 + 1
			if i2 >= 0 && i2 < n2 {
				idx[a2] = i2
				acc.Add(g.Index(idx[0], idx[1], idx[2]), base*w1*(1-w2))
			}
			if i2+1 >= 0 && i2+1 < n2 {
				idx[a2] = i2 + 1
				acc.Add(g.Index(idx[0], idx[1], idx[2]), base*w1*w2)
			}
		}
	}
}
