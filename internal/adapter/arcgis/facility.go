package arcgis

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"

	"github.com/couchcryptid/incident-enrichment-service/internal/domain"
	"github.com/couchcryptid/incident-enrichment-service/internal/geometry"
)

// DefaultFacilityLayerURL is the HIFLD hospitals layer.
const DefaultFacilityLayerURL = "https://services2.arcgis.com/FiaPA4ga0iQKduv3/arcgis/rest/services/Hospitals/FeatureServer/0"

const (
	initialRadiusMiles = 10
	maxRadiusMiles     = 200
	maxFacilities      = 25
)

var facilityFields = []string{"NAME", "CITY", "STATE", "BEDS", "TYPE", "WEBSITE", "LATITUDE", "LONGITUDE"}

// FacilityIndex finds hospitals around a geometry with an expanding
// envelope search. It implements domain.FacilityLocator.
type FacilityIndex struct {
	client   *Client
	layerURL string
	radii    []float64
	limit    int
	logger   *slog.Logger
}

// NewFacilityIndex creates a FacilityIndex over layerURL.
func NewFacilityIndex(client *Client, layerURL string, logger *slog.Logger) *FacilityIndex {
	return &FacilityIndex{
		client:   client,
		layerURL: layerURL,
		radii:    searchRadii(initialRadiusMiles, maxRadiusMiles),
		limit:    maxFacilities,
		logger:   logger,
	}
}

// searchRadii doubles from start and always ends with exactly maxMiles.
func searchRadii(start, maxMiles float64) []float64 {
	var out []float64
	for r := start; r < maxMiles; r *= 2 {
		out = append(out, r)
	}
	return append(out, maxMiles)
}

// FindNearby searches the envelope of g padded by each radius in turn and
// returns the first non-empty result, nearest first. Nothing within the
// largest radius yields an empty list.
func (f *FacilityIndex) FindNearby(ctx context.Context, g orb.Geometry) ([]domain.FacilityRecord, error) {
	if g == nil || geometry.CountCoords(g) == 0 {
		return nil, fmt.Errorf("%w: empty geometry", domain.ErrInvalidGeometry)
	}
	bound := g.Bound()

	for _, miles := range f.radii {
		features, err := f.client.QueryEnvelope(ctx, f.layerURL, geometry.PadMiles(bound, miles), facilityFields)
		if err != nil {
			return nil, fmt.Errorf("facility query at %.0f mi: %w", miles, err)
		}
		if len(features) == 0 {
			continue
		}

		records := make([]domain.FacilityRecord, 0, len(features))
		for _, feat := range features {
			records = append(records, toFacility(feat))
		}
		records = nearestFirst(records, searchOrigin(g), f.limit)
		f.logger.Debug("facilities found", "radius_miles", miles, "matched", len(features), "kept", len(records))
		return records, nil
	}

	f.logger.Debug("no facilities within search cap", "radius_miles", f.radii[len(f.radii)-1])
	return []domain.FacilityRecord{}, nil
}

// searchOrigin is the envelope centre of the largest polygonal part of g, or
// of g itself. Geometries split at the antimeridian span the whole globe, so
// their overall envelope centre is meaningless.
func searchOrigin(g orb.Geometry) orb.Point {
	var (
		best     orb.Polygon
		bestArea float64
	)
	for _, p := range geometry.Polygons(g) {
		if a := planar.Area(p); best == nil || a > bestArea {
			best, bestArea = p, a
		}
	}
	if best != nil {
		return best.Bound().Center()
	}
	return g.Bound().Center()
}

func toFacility(feat Feature) domain.FacilityRecord {
	rec := domain.FacilityRecord{
		Name:     feat.Text("NAME"),
		City:     feat.Text("CITY"),
		State:    feat.Text("STATE"),
		Category: feat.Text("TYPE"),
		Website:  feat.Text("WEBSITE"),
	}
	if rec.Name == "" {
		rec.Name = "Hospital"
	}
	if strings.EqualFold(rec.Website, "NOT AVAILABLE") {
		rec.Website = ""
	}
	if beds, ok := feat.Number("BEDS"); ok && beds > 0 {
		rec.Beds = int(math.Round(beds))
	}
	rec.Lat, _ = feat.Number("LATITUDE")
	rec.Lon, _ = feat.Number("LONGITUDE")
	return rec
}

// nearestFirst orders records by great-circle distance from origin, placing
// records without coordinates last, and keeps at most limit of them.
func nearestFirst(records []domain.FacilityRecord, origin orb.Point, limit int) []domain.FacilityRecord {
	dist := make(map[int]float64, len(records))
	idx := make([]int, len(records))
	for i, r := range records {
		idx[i] = i
		if r.Lat == 0 && r.Lon == 0 {
			dist[i] = math.Inf(1)
			continue
		}
		dist[i] = geo.Distance(origin, orb.Point{r.Lon, r.Lat})
	}
	sort.SliceStable(idx, func(a, b int) bool { return dist[idx[a]] < dist[idx[b]] })

	if len(idx) > limit {
		idx = idx[:limit]
	}
	out := make([]domain.FacilityRecord, len(idx))
	for i, j := range idx {
		out[i] = records[j]
	}
	return out
}
