package geometry

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Intersects reports whether g shares at least one point with area,
// including touching boundaries.
func Intersects(area orb.MultiPolygon, g orb.Geometry) bool {
	if g == nil || len(area) == 0 || !area.Bound().Intersects(g.Bound()) {
		return false
	}

	switch g := g.(type) {
	case orb.Point:
		return planar.MultiPolygonContains(area, g)
	case orb.MultiPoint:
		for _, p := range g {
			if planar.MultiPolygonContains(area, p) {
				return true
			}
		}
	case orb.LineString:
		return lineIntersects(area, g)
	case orb.MultiLineString:
		for _, ls := range g {
			if lineIntersects(area, ls) {
				return true
			}
		}
	case orb.Ring:
		return Intersects(area, orb.Polygon{g})
	case orb.Polygon:
		for _, p := range area {
			if polygonsIntersect(p, g) {
				return true
			}
		}
	case orb.MultiPolygon:
		for _, q := range g {
			if Intersects(area, q) {
				return true
			}
		}
	case orb.Bound:
		return Intersects(area, g.ToPolygon())
	case orb.Collection:
		for _, sub := range g {
			if Intersects(area, sub) {
				return true
			}
		}
	}
	return false
}

func lineIntersects(area orb.MultiPolygon, ls orb.LineString) bool {
	for _, p := range ls {
		if planar.MultiPolygonContains(area, p) {
			return true
		}
	}
	for _, poly := range area {
		for _, ring := range poly {
			if pathsCross(ring, ls) {
				return true
			}
		}
	}
	return false
}

func polygonsIntersect(a, b orb.Polygon) bool {
	if len(a) == 0 || len(b) == 0 || !a.Bound().Intersects(b.Bound()) {
		return false
	}
	if len(b[0]) > 0 && planar.PolygonContains(a, b[0][0]) {
		return true
	}
	if len(a[0]) > 0 && planar.PolygonContains(b, a[0][0]) {
		return true
	}
	for _, ra := range a {
		for _, rb := range b {
			if pathsCross(ra, rb) {
				return true
			}
		}
	}
	return false
}

// pathsCross reports whether any segment of a touches any segment of b.
func pathsCross[A, B ~[]orb.Point](a A, b B) bool {
	for i := 1; i < len(a); i++ {
		sa := orb.Bound{Min: a[i-1], Max: a[i-1]}.Extend(a[i])
		for j := 1; j < len(b); j++ {
			sb := orb.Bound{Min: b[j-1], Max: b[j-1]}.Extend(b[j])
			if !sa.Intersects(sb) {
				continue
			}
			if segmentsIntersect(a[i-1], a[i], b[j-1], b[j]) {
				return true
			}
		}
	}
	return false
}

func segmentsIntersect(p1, p2, p3, p4 orb.Point) bool {
	d1 := orientation(p3, p4, p1)
	d2 := orientation(p3, p4, p2)
	d3 := orientation(p1, p2, p3)
	d4 := orientation(p1, p2, p4)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	switch {
	case d1 == 0 && onSegment(p3, p4, p1):
		return true
	case d2 == 0 && onSegment(p3, p4, p2):
		return true
	case d3 == 0 && onSegment(p1, p2, p3):
		return true
	case d4 == 0 && onSegment(p1, p2, p4):
		return true
	}
	return false
}

func orientation(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

// onSegment assumes p is collinear with a-b.
func onSegment(a, b, p orb.Point) bool {
	return p[0] >= min(a[0], b[0]) && p[0] <= max(a[0], b[0]) &&
		p[1] >= min(a[1], b[1]) && p[1] <= max(a[1], b[1])
}
