package geometry

import (
	"sort"

	"github.com/paulmach/orb"
)

// canonicalArea puts a multipolygon into a fixed vertex order: shells
// counter-clockwise and holes clockwise, every ring starting at its lowest
// vertex, holes and polygons sorted. Equal shapes then serialize identically
// whichever path (pass-through or union) produced them.
func canonicalArea(mp orb.MultiPolygon) orb.MultiPolygon {
	if len(mp) == 0 {
		return mp
	}
	out := make(orb.MultiPolygon, 0, len(mp))
	for _, p := range mp {
		if cp := canonicalPolygon(p); len(cp) > 0 {
			out = append(out, cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return lessRing(out[i][0], out[j][0]) })
	return out
}

func canonicalPolygon(p orb.Polygon) orb.Polygon {
	if len(p) == 0 {
		return nil
	}
	out := make(orb.Polygon, 0, len(p))
	out = append(out, canonicalRing(p[0], orb.CCW))
	holes := make([]orb.Ring, 0, len(p)-1)
	for _, h := range p[1:] {
		holes = append(holes, canonicalRing(h, orb.CW))
	}
	sort.SliceStable(holes, func(i, j int) bool { return lessRing(holes[i], holes[j]) })
	return append(out, holes...)
}

// canonicalRing returns a copy of r without repeated consecutive vertices,
// wound in the given direction and rotated to start at its lowest vertex.
func canonicalRing(r orb.Ring, winding orb.Orientation) orb.Ring {
	open := make([]orb.Point, 0, len(r))
	for _, pt := range r {
		if len(open) > 0 && open[len(open)-1] == pt {
			continue
		}
		open = append(open, pt)
	}
	if len(open) > 1 && open[0] == open[len(open)-1] {
		open = open[:len(open)-1]
	}
	if len(open) < 3 {
		return append(orb.Ring(nil), r...)
	}

	closed := append(orb.Ring(nil), open...)
	closed = append(closed, open[0])
	if o := closed.Orientation(); o != 0 && o != winding {
		for i, j := 0, len(open)-1; i < j; i, j = i+1, j-1 {
			open[i], open[j] = open[j], open[i]
		}
	}

	start := 0
	for i, pt := range open {
		if lessPoint(pt, open[start]) {
			start = i
		}
	}
	out := make(orb.Ring, 0, len(open)+1)
	out = append(out, open[start:]...)
	out = append(out, open[:start]...)
	return append(out, out[0])
}

func canonicalPoints(points orb.MultiPoint) orb.MultiPoint {
	sort.SliceStable(points, func(i, j int) bool { return lessPoint(points[i], points[j]) })
	return points
}

func lessPoint(a, b orb.Point) bool {
	if a[0] != b[0] {
		return a[0] < b[0]
	}
	return a[1] < b[1]
}

func lessRing(a, b orb.Ring) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return lessPoint(a[i], b[i])
		}
	}
	return len(a) < len(b)
}
