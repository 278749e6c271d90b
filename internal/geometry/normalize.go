package geometry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/couchcryptid/incident-enrichment-service/internal/domain"
)

const maxNestingDepth = 32

// geometryTypes maps lower-cased GeoJSON geometry types to their canonical spelling.
var geometryTypes = map[string]string{
	"point":           "Point",
	"multipoint":      "MultiPoint",
	"linestring":      "LineString",
	"multilinestring": "MultiLineString",
	"polygon":         "Polygon",
	"multipolygon":    "MultiPolygon",
}

type envelope struct {
	Type       string            `json:"type"`
	Geometry   json.RawMessage   `json:"geometry"`
	Features   []json.RawMessage `json:"features"`
	Geometries []json.RawMessage `json:"geometries"`
}

// parts accumulates the primitive pieces of an input before reassembly.
type parts struct {
	polygons []orb.Polygon
	lines    orb.MultiLineString
	points   orb.MultiPoint
}

// Normalize parses GeoJSON text (a geometry, Feature, FeatureCollection, or
// GeometryCollection, to any nesting depth) into one canonical geometry.
// Polygonal members are unioned. Features with null geometry are skipped.
func Normalize(raw []byte) (orb.Geometry, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty input", domain.ErrInvalidGeometry)
	}
	var acc parts
	if err := acc.collectJSON(raw, 0); err != nil {
		return nil, err
	}
	return acc.assemble()
}

// NormalizeGeometry brings an in-memory geometry to canonical form.
func NormalizeGeometry(g orb.Geometry) (orb.Geometry, error) {
	var acc parts
	if err := acc.add(g); err != nil {
		return nil, err
	}
	return acc.assemble()
}

func (p *parts) collectJSON(raw []byte, depth int) error {
	if depth > maxNestingDepth {
		return fmt.Errorf("%w: nesting deeper than %d", domain.ErrInvalidGeometry, maxNestingDepth)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidGeometry, err)
	}

	kind := strings.ToLower(env.Type)
	switch kind {
	case "feature":
		if isNull(env.Geometry) {
			return nil
		}
		return p.collectJSON(env.Geometry, depth+1)
	case "featurecollection":
		for _, f := range env.Features {
			if err := p.collectJSON(f, depth+1); err != nil {
				return err
			}
		}
		return nil
	case "geometrycollection":
		for _, g := range env.Geometries {
			if err := p.collectJSON(g, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	canonical, ok := geometryTypes[kind]
	if !ok {
		return fmt.Errorf("%w: unsupported type %q", domain.ErrInvalidGeometry, env.Type)
	}
	if env.Type != canonical {
		fixed, err := retype(raw, canonical)
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrInvalidGeometry, err)
		}
		raw = fixed
	}

	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidGeometry, err)
	}
	return p.add(g.Geometry())
}

func (p *parts) add(g orb.Geometry) error {
	switch g := g.(type) {
	case nil:
		return nil
	case orb.Point:
		p.points = append(p.points, g)
	case orb.MultiPoint:
		p.points = append(p.points, g...)
	case orb.LineString:
		if len(g) < 2 {
			return fmt.Errorf("%w: linestring needs two positions", domain.ErrInvalidGeometry)
		}
		p.lines = append(p.lines, g)
	case orb.MultiLineString:
		for _, ls := range g {
			if err := p.add(ls); err != nil {
				return err
			}
		}
	case orb.Ring:
		return p.add(orb.Polygon{g})
	case orb.Polygon:
		poly, err := closePolygon(g)
		if err != nil {
			return err
		}
		if poly != nil {
			p.polygons = append(p.polygons, poly)
		}
	case orb.MultiPolygon:
		for _, poly := range g {
			if err := p.add(poly); err != nil {
				return err
			}
		}
	case orb.Bound:
		p.polygons = append(p.polygons, g.ToPolygon())
	case orb.Collection:
		for _, sub := range g {
			if err := p.add(sub); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: unsupported geometry %T", domain.ErrInvalidGeometry, g)
	}
	return nil
}

func (p *parts) assemble() (orb.Geometry, error) {
	area, err := Union(p.polygons)
	if err != nil {
		return nil, err
	}
	area = canonicalArea(area)
	points := canonicalPoints(dedupePoints(p.points, area))

	var out orb.Collection
	if len(area) > 0 {
		out = append(out, area)
	}
	if len(p.lines) > 0 {
		out = append(out, p.lines)
	}
	if len(points) > 0 {
		out = append(out, points)
	}

	switch len(out) {
	case 0:
		return nil, fmt.Errorf("%w: no coordinates", domain.ErrInvalidGeometry)
	case 1:
		return out[0], nil
	}
	return out, nil
}

// closePolygon closes open rings and rejects rings with fewer than three
// distinct positions. An empty polygon yields nil.
func closePolygon(poly orb.Polygon) (orb.Polygon, error) {
	if len(poly) == 0 {
		return nil, nil
	}
	out := make(orb.Polygon, 0, len(poly))
	for i, ring := range poly {
		if len(ring) == 0 {
			if i == 0 {
				return nil, nil
			}
			continue
		}
		if ring[0] != ring[len(ring)-1] {
			ring = append(append(orb.Ring(nil), ring...), ring[0])
		}
		if len(ring) < 4 {
			return nil, fmt.Errorf("%w: ring needs at least three distinct positions", domain.ErrInvalidGeometry)
		}
		out = append(out, ring)
	}
	return out, nil
}

// dedupePoints drops repeated points and points already covered by area.
func dedupePoints(points orb.MultiPoint, area orb.MultiPolygon) orb.MultiPoint {
	if len(points) == 0 {
		return nil
	}
	seen := make(map[orb.Point]struct{}, len(points))
	out := make(orb.MultiPoint, 0, len(points))
	for _, pt := range points {
		if _, dup := seen[pt]; dup {
			continue
		}
		seen[pt] = struct{}{}
		if len(area) > 0 && planar.MultiPolygonContains(area, pt) {
			continue
		}
		out = append(out, pt)
	}
	return out
}

func retype(raw []byte, canonical string) ([]byte, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	t, err := json.Marshal(canonical)
	if err != nil {
		return nil, err
	}
	m["type"] = t
	return json.Marshal(m)
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
