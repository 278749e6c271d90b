package geometry

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"

	"github.com/couchcryptid/incident-enrichment-service/internal/domain"
)

// DiskSegments is the vertex count used for felt-radius disks.
const DiskSegments = 64

const bufferSegments = 32

// Disk returns a counter-clockwise polygon approximating the geodesic circle
// of radiusMeters around center. Every vertex lies exactly radiusMeters from
// center on the sphere. A disk that crosses the antimeridian comes back as
// two polygons, one on each side, with all longitudes in [-180, 180].
func Disk(center orb.Point, radiusMeters float64, segments int) orb.MultiPolygon {
	return SplitAntimeridian(disk(center, radiusMeters, segments))
}

// disk builds the ring with longitudes continuous around center, so they
// may run past ±180.
func disk(center orb.Point, radiusMeters float64, segments int) orb.Polygon {
	if segments < 4 {
		segments = 4
	}
	ring := make(orb.Ring, 0, segments+1)
	for i := 0; i < segments; i++ {
		bearing := -360 * float64(i) / float64(segments)
		ring = append(ring, geo.PointAtBearingAndDistance(center, bearing, radiusMeters))
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}

// SplitAntimeridian cuts a polygon whose longitudes run past ±180 at the
// antimeridian and shifts the overflow by 360 degrees. A polygon already
// inside [-180, 180] is returned unchanged.
func SplitAntimeridian(p orb.Polygon) orb.MultiPolygon {
	b := p.Bound()
	if b.Min[0] >= -180 && b.Max[0] <= 180 {
		return orb.MultiPolygon{p}
	}

	var out orb.MultiPolygon
	for _, shift := range []float64{-360, 0, 360} {
		window := orb.Bound{Min: orb.Point{-180 - shift, -90}, Max: orb.Point{180 - shift, 90}}
		if !window.Intersects(b) {
			continue
		}
		piece := clip.Polygon(window, p.Clone())
		if len(piece) == 0 || planar.Area(piece) == 0 {
			continue
		}
		for _, ring := range piece {
			for i := range ring {
				ring[i][0] = clampLon(ring[i][0] + shift)
			}
		}
		out = append(out, piece)
	}
	return out
}

// clampLon absorbs float error left over from shifting a clipped edge.
func clampLon(lon float64) float64 {
	return math.Max(-180, math.Min(180, lon))
}

// Buffer turns points and lines into polygons by buffering them radiusMeters
// on the ground. Polygonal input passes through. The pieces are unioned.
func Buffer(g orb.Geometry, radiusMeters float64) (orb.MultiPolygon, error) {
	if radiusMeters <= 0 {
		return nil, fmt.Errorf("%w: buffer radius must be positive", domain.ErrInvalidGeometry)
	}
	var pieces []orb.Polygon
	collectBufferPieces(g, radiusMeters, &pieces)
	if len(pieces) == 0 {
		return nil, fmt.Errorf("%w: nothing to buffer", domain.ErrInvalidGeometry)
	}
	return Union(pieces)
}

func collectBufferPieces(g orb.Geometry, r float64, out *[]orb.Polygon) {
	switch g := g.(type) {
	case orb.Point:
		*out = append(*out, Disk(g, r, bufferSegments)...)
	case orb.MultiPoint:
		for _, p := range g {
			*out = append(*out, Disk(p, r, bufferSegments)...)
		}
	case orb.LineString:
		for i, p := range g {
			*out = append(*out, Disk(p, r, bufferSegments)...)
			if i > 0 {
				if c, ok := corridor(g[i-1], p, r); ok {
					*out = append(*out, SplitAntimeridian(c)...)
				}
			}
		}
	case orb.MultiLineString:
		for _, ls := range g {
			collectBufferPieces(ls, r, out)
		}
	case orb.Polygon:
		*out = append(*out, g)
	case orb.MultiPolygon:
		*out = append(*out, g...)
	case orb.Collection:
		for _, sub := range g {
			collectBufferPieces(sub, r, out)
		}
	}
}

// corridor is the rectangle of half-width r around segment a-b. A segment
// that crosses the antimeridian is taken the short way round, so the
// rectangle may extend past ±180.
func corridor(a, b orb.Point, r float64) (orb.Polygon, bool) {
	if a == b {
		return nil, false
	}
	switch d := b[0] - a[0]; {
	case d > 180:
		b[0] -= 360
	case d < -180:
		b[0] += 360
	}
	bearing := geo.Bearing(a, b)
	aLeft := geo.PointAtBearingAndDistance(a, bearing-90, r)
	aRight := geo.PointAtBearingAndDistance(a, bearing+90, r)
	bLeft := geo.PointAtBearingAndDistance(b, bearing-90, r)
	bRight := geo.PointAtBearingAndDistance(b, bearing+90, r)
	return orb.Polygon{orb.Ring{aLeft, aRight, bRight, bLeft, aLeft}}, true
}
