// Package geometry normalizes incident footprints and provides the planar and
// geodesic helpers the enrichment sources share.
//
// Geometries are modelled with github.com/paulmach/orb. Polygon boolean
// operations and topology-preserving simplification are delegated to
// github.com/ctessum/geom, which uses open rings (no repeated closing vertex);
// the converters in this package translate between the two conventions.
//
// Normalized geometries always take one of these shapes:
//
//	orb.MultiPolygon       polygonal input, overlaps unioned
//	orb.MultiLineString    linear input
//	orb.MultiPoint         point input, duplicates removed
//	orb.Collection         mixed input, in the order above
package geometry
