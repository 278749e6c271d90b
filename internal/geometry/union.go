package geometry

import (
	"fmt"

	"github.com/ctessum/geom"
	"github.com/paulmach/orb"

	"github.com/couchcryptid/incident-enrichment-service/internal/domain"
)

// Union merges polygons into a single multipolygon with overlaps dissolved.
// A single polygon is returned as-is so its coordinates are untouched.
func Union(polys []orb.Polygon) (out orb.MultiPolygon, err error) {
	switch len(polys) {
	case 0:
		return nil, nil
	case 1:
		return orb.MultiPolygon{polys[0]}, nil
	}

	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: union failed: %v", domain.ErrInvalidGeometry, r)
		}
	}()

	var acc geom.Polygonal = ToCtessum(polys[0])
	for _, p := range polys[1:] {
		acc = acc.Union(ToCtessum(p))
	}
	if acc == nil {
		return nil, fmt.Errorf("%w: union produced no geometry", domain.ErrInvalidGeometry)
	}

	out = FromCtessum(acc)
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: union produced no geometry", domain.ErrInvalidGeometry)
	}
	return out, nil
}
