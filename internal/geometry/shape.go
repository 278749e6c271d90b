package geometry

import (
	"fmt"
	"math"

	"github.com/ctessum/geom"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"

	"github.com/couchcryptid/incident-enrichment-service/internal/domain"
)

// Statute miles per degree of latitude and per degree of longitude at the equator.
const (
	milesPerDegreeLat = 69.0
	milesPerDegreeLon = 69.172
)

// Polygons returns the polygonal parts of g in order.
func Polygons(g orb.Geometry) []orb.Polygon {
	switch g := g.(type) {
	case orb.Polygon:
		return []orb.Polygon{g}
	case orb.MultiPolygon:
		return append([]orb.Polygon(nil), g...)
	case orb.Bound:
		return []orb.Polygon{g.ToPolygon()}
	case orb.Collection:
		var out []orb.Polygon
		for _, sub := range g {
			out = append(out, Polygons(sub)...)
		}
		return out
	default:
		return nil
	}
}

// NonPolygonal returns g with its polygonal parts removed, or nil if nothing remains.
func NonPolygonal(g orb.Geometry) orb.Geometry {
	switch g := g.(type) {
	case orb.Polygon, orb.MultiPolygon, orb.Bound:
		return nil
	case orb.Collection:
		var rest orb.Collection
		for _, sub := range g {
			if r := NonPolygonal(sub); r != nil {
				rest = append(rest, r)
			}
		}
		switch len(rest) {
		case 0:
			return nil
		case 1:
			return rest[0]
		}
		return rest
	default:
		return g
	}
}

// SinglePoint returns the point when g is exactly one point.
func SinglePoint(g orb.Geometry) (orb.Point, bool) {
	switch g := g.(type) {
	case orb.Point:
		return g, true
	case orb.MultiPoint:
		if len(g) == 1 {
			return g[0], true
		}
	case orb.Collection:
		if len(g) == 1 {
			return SinglePoint(g[0])
		}
	}
	return orb.Point{}, false
}

// Round returns a copy of g with every coordinate rounded to decimals places.
func Round(g orb.Geometry, decimals int) orb.Geometry {
	return orb.Round(orb.Clone(g), int(math.Pow10(decimals)))
}

// RoundPolygon is Round for a polygon.
func RoundPolygon(p orb.Polygon, decimals int) orb.Polygon {
	return Round(p, decimals).(orb.Polygon)
}

// CountCoords returns the number of coordinate pairs in g.
func CountCoords(g orb.Geometry) int {
	switch g := g.(type) {
	case orb.Point:
		return 1
	case orb.MultiPoint:
		return len(g)
	case orb.LineString:
		return len(g)
	case orb.Ring:
		return len(g)
	case orb.MultiLineString:
		n := 0
		for _, ls := range g {
			n += len(ls)
		}
		return n
	case orb.Polygon:
		n := 0
		for _, r := range g {
			n += len(r)
		}
		return n
	case orb.MultiPolygon:
		n := 0
		for _, p := range g {
			n += CountCoords(p)
		}
		return n
	case orb.Collection:
		n := 0
		for _, sub := range g {
			n += CountCoords(sub)
		}
		return n
	case orb.Bound:
		return 5
	default:
		return 0
	}
}

// Simplify reduces p with a topology-preserving simplifier at the given
// tolerance in degrees.
func Simplify(p orb.Polygon, tolerance float64) (out orb.Polygon, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: simplify failed: %v", domain.ErrInvalidGeometry, r)
		}
	}()

	simplified, ok := ToCtessum(p).Simplify(tolerance).(geom.Polygon)
	if !ok {
		return nil, fmt.Errorf("%w: simplify returned non-polygon", domain.ErrInvalidGeometry)
	}
	for i, path := range simplified {
		ring := closeRing(path)
		if len(ring) < 4 {
			if i == 0 {
				return nil, fmt.Errorf("%w: simplify collapsed exterior ring", domain.ErrInvalidGeometry)
			}
			continue
		}
		out = append(out, ring)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: simplify produced no rings", domain.ErrInvalidGeometry)
	}
	return out, nil
}

// ForceSimplify applies Douglas-Peucker without topology preservation. It is
// meant for small pieces that must shrink at any cost.
func ForceSimplify(p orb.Polygon, tolerance float64) (orb.Polygon, error) {
	simplified, ok := simplify.DouglasPeucker(tolerance).Simplify(orb.Clone(p)).(orb.Polygon)
	if !ok {
		return nil, fmt.Errorf("%w: force simplify returned non-polygon", domain.ErrInvalidGeometry)
	}
	var out orb.Polygon
	for i, ring := range simplified {
		if len(ring) < 4 {
			if i == 0 {
				return nil, fmt.Errorf("%w: force simplify collapsed exterior ring", domain.ErrInvalidGeometry)
			}
			continue
		}
		out = append(out, ring)
	}
	return out, nil
}

// PadMiles grows b by miles in every direction, using the latitude at the
// centre of b for the longitude scale, and clamps to valid coordinates.
func PadMiles(b orb.Bound, miles float64) orb.Bound {
	dLat := miles / milesPerDegreeLat
	cos := math.Cos(b.Center().Lat() * math.Pi / 180)
	if cos < 0.01 {
		cos = 0.01
	}
	dLon := miles / (milesPerDegreeLon * cos)

	return orb.Bound{
		Min: orb.Point{math.Max(b.Min[0]-dLon, -180), math.Max(b.Min[1]-dLat, -90)},
		Max: orb.Point{math.Min(b.Max[0]+dLon, 180), math.Min(b.Max[1]+dLat, 90)},
	}
}
