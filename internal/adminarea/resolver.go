// Package adminarea answers which administrative units a geometry overlaps,
// using an R-tree over boundary envelopes and an exact intersection check.
package adminarea

import (
	"sort"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/paulmach/orb"

	"github.com/couchcryptid/incident-enrichment-service/internal/domain"
	"github.com/couchcryptid/incident-enrichment-service/internal/geometry"
)

// probePad widens zero-area query envelopes (points, axis-aligned lines) so
// the R-tree overlap test sees them.
const probePad = 1e-9

// Boundary is one administrative unit from a boundary dataset.
type Boundary struct {
	Code string
	Name string
	Area orb.MultiPolygon
}

// indexed is what the R-tree stores. The embedded ctessum polygon holds every
// ring of the boundary and only serves the envelope.
type indexed struct {
	geom.Polygon
	area orb.MultiPolygon
	code string
	name string
}

// Resolver is read-only after construction and safe for concurrent use.
type Resolver struct {
	tree  *rtree.Rtree
	count int
}

// NewResolver indexes boundaries. Entries without a code or polygon are skipped.
func NewResolver(boundaries []Boundary) *Resolver {
	r := &Resolver{tree: rtree.NewTree(25, 50)}
	for _, b := range boundaries {
		if b.Code == "" || len(b.Area) == 0 {
			continue
		}
		r.tree.Insert(&indexed{
			Polygon: envelopeRings(b.Area),
			area:    b.Area,
			code:    b.Code,
			name:    b.Name,
		})
		r.count++
	}
	return r
}

// Len returns the number of indexed boundaries.
func (r *Resolver) Len() int {
	return r.count
}

// Resolve returns the areas whose polygons intersect g, ordered by code.
// A nil or empty geometry yields an empty result.
func (r *Resolver) Resolve(g orb.Geometry) []domain.AdminArea {
	out := []domain.AdminArea{}
	if g == nil || geometry.CountCoords(g) == 0 {
		return out
	}

	b := g.Bound()
	query := &geom.Bounds{
		Min: geom.Point{X: b.Min[0] - probePad, Y: b.Min[1] - probePad},
		Max: geom.Point{X: b.Max[0] + probePad, Y: b.Max[1] + probePad},
	}

	seen := make(map[string]struct{})
	for _, hit := range r.tree.SearchIntersect(query) {
		cand := hit.(*indexed)
		if _, dup := seen[cand.code]; dup {
			continue
		}
		if !geometry.Intersects(cand.area, g) {
			continue
		}
		seen[cand.code] = struct{}{}
		out = append(out, domain.AdminArea{Code: cand.code, Name: cand.name})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func envelopeRings(mp orb.MultiPolygon) geom.Polygon {
	var rings geom.Polygon
	for _, p := range mp {
		rings = append(rings, geometry.ToCtessum(p)...)
	}
	return rings
}
