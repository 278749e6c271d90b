package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/incident-enrichment-service/internal/adminarea"
	"github.com/couchcryptid/incident-enrichment-service/internal/domain"
	"github.com/couchcryptid/incident-enrichment-service/internal/geometry"
	"github.com/couchcryptid/incident-enrichment-service/internal/observability"
)

const floodPolygon = `{"type":"Polygon","coordinates":[[[-97.8,30.1],[-97.6,30.1],[-97.6,30.3],[-97.8,30.3],[-97.8,30.1]]]}`

// --- fakes ---

type fakeAdmin struct {
	areas []domain.AdminArea
	seen  orb.Geometry
}

func (f *fakeAdmin) Resolve(g orb.Geometry) []domain.AdminArea {
	f.seen = g
	out := make([]domain.AdminArea, len(f.areas))
	copy(out, f.areas)
	return out
}

type fakeNamer struct {
	names map[string]string
	err   error
}

func (f *fakeNamer) AreaName(_ context.Context, code string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.names[code], nil
}

type fakePopulation struct {
	est domain.PopulationEstimate
	err error

	mu   sync.Mutex
	seen orb.Geometry
}

func (f *fakePopulation) Estimate(_ context.Context, g orb.Geometry) (domain.PopulationEstimate, error) {
	f.mu.Lock()
	f.seen = g
	f.mu.Unlock()
	return f.est, f.err
}

func (f *fakePopulation) geometry() orb.Geometry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen
}

type fakeVulnerability struct {
	res domain.VulnerabilityResult
	err error
}

func (f *fakeVulnerability) Aggregate(context.Context, orb.Geometry) (domain.VulnerabilityResult, error) {
	return f.res, f.err
}

type fakeFacilities struct {
	records []domain.FacilityRecord
	err     error
	block   bool
}

func (f *fakeFacilities) FindNearby(ctx context.Context, _ orb.Geometry) ([]domain.FacilityRecord, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.records, f.err
}

// --- helpers ---

func healthySources() (Sources, *fakePopulation) {
	pop := &fakePopulation{est: domain.PopulationEstimate{Total: 12500, Parts: 1}}
	return Sources{
		Admin:         &fakeAdmin{areas: []domain.AdminArea{{Code: "48453", Name: "Travis"}}},
		Names:         &fakeNamer{names: map[string]string{"48453": "Travis County, Texas"}},
		Population:    pop,
		Vulnerability: &fakeVulnerability{res: domain.VulnerabilityResult{Percentile: 0.62, TotalPopulation: 11000, Samples: 4}},
		Facilities:    &fakeFacilities{records: []domain.FacilityRecord{{Name: "Dell Seton Medical Center", City: "Austin", State: "TX"}}},
	}, pop
}

func newTestBuilder(t *testing.T, sources Sources) (*Builder, *geometry.Registry) {
	t.Helper()
	fake := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	domain.SetClock(fake)
	t.Cleanup(func() { domain.SetClock(nil) })

	reg := geometry.NewRegistry()
	return NewBuilder(reg, sources, observability.NewMetricsForTesting(), slog.New(slog.DiscardHandler)), reg
}

func magnitude(m float64) *float64 { return &m }

func quake(id string, lon, lat, mag float64) domain.HazardReport {
	return domain.HazardReport{
		ID:         id,
		HazardType: domain.HazardSeismic,
		Severity:   domain.SeveritySevere,
		Timestamp:  time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC),
		Title:      fmt.Sprintf("M %.1f - test quake", mag),
		GeoJSON:    []byte(fmt.Sprintf(`{"type":"Point","coordinates":[%g,%g]}`, lon, lat)),
		Magnitude:  magnitude(mag),
	}
}

// --- tests ---

func TestFeltRadiusKm(t *testing.T) {
	tests := []struct {
		mag  float64
		want float64
	}{
		{mag: 6.0, want: 125.89},
		{mag: 5.0, want: 39.81},
		{mag: 4.0, want: 12.59},
		{mag: 3.6, want: 7.94},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("M%.1f", tt.mag), func(t *testing.T) {
			assert.InDelta(t, tt.want, FeltRadiusKm(tt.mag), 0.01)
		})
	}
}

func TestBuild_AllSourcesHealthy(t *testing.T) {
	sources, _ := healthySources()
	b, reg := newTestBuilder(t, sources)

	report := domain.HazardReport{
		ID:          "nws-1",
		HazardType:  domain.HazardWeather,
		Severity:    domain.SeveritySevere,
		Title:       "Flash Flood Warning",
		GeoJSON:     []byte(floodPolygon),
		EvidenceURL: "https://alerts.weather.gov/nws-1",
	}
	card, err := b.Build(context.Background(), report)
	require.NoError(t, err)

	assert.Equal(t, "nws-1", card.IncidentID)
	assert.Equal(t, domain.HazardWeather, card.HazardType)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), card.BuiltAt)

	_, ok := reg.Get(card.GeometryRef)
	assert.True(t, ok, "geometry ref must resolve in the registry")

	assert.Equal(t, domain.Known([]domain.AdminArea{{Code: "48453", Name: "Travis County, Texas"}}), card.AdminAreas)
	assert.Equal(t, domain.Known(12500.0), card.Population)
	assert.Equal(t, domain.StatusOK, card.Vulnerability.Status)
	assert.InDelta(t, 0.62, card.Vulnerability.Value.Percentile, 1e-9)
	require.Len(t, card.Facilities.Value, 1)
	assert.Equal(t, domain.StatusOK, card.Facilities.Status)
	assert.Empty(t, card.DegradedFields())
	require.Len(t, card.Sources, 1)
	assert.Equal(t, "https://alerts.weather.gov/nws-1", card.Sources[0].URL)
}

func TestBuild_SeismicPointBecomesFeltDisk(t *testing.T) {
	sources, pop := healthySources()
	b, reg := newTestBuilder(t, sources)

	epicentre := orb.Point{-117.6, 35.7}
	card, err := b.Build(context.Background(), quake("us7000abcd", epicentre[0], epicentre[1], 6.0))
	require.NoError(t, err)

	g, ok := reg.Get(card.GeometryRef)
	require.True(t, ok)
	mp, ok := g.(orb.MultiPolygon)
	require.True(t, ok, "expected multipolygon, got %T", g)
	require.Len(t, mp, 1)

	want := FeltRadiusKm(6.0) * 1000
	for _, p := range mp[0][0] {
		assert.InEpsilon(t, want, geo.Distance(epicentre, p), 0.01)
	}
	assert.InDelta(t, 125_900, want, 100)

	_, isPolygon := pop.geometry().(orb.MultiPolygon)
	assert.True(t, isPolygon, "sources must receive the shaped geometry")
}

func TestBuild_SeismicDiskAcrossAntimeridian(t *testing.T) {
	sources, _ := healthySources()
	sources.Admin = adminarea.NewResolver([]adminarea.Boundary{
		{Code: "east", Area: orb.MultiPolygon{{{{179, -19}, {180, -19}, {180, -17}, {179, -17}, {179, -19}}}}},
		{Code: "west", Area: orb.MultiPolygon{{{{-180, -19}, {-179, -19}, {-179, -17}, {-180, -17}, {-180, -19}}}}},
		{Code: "far", Area: orb.MultiPolygon{{{{0, -19}, {1, -19}, {1, -17}, {0, -17}, {0, -19}}}}},
	})
	b, reg := newTestBuilder(t, sources)

	card, err := b.Build(context.Background(), quake("us-tonga", 179.5, -18, 6.0))
	require.NoError(t, err)

	g, ok := reg.Get(card.GeometryRef)
	require.True(t, ok)
	mp, ok := g.(orb.MultiPolygon)
	require.True(t, ok, "expected multipolygon, got %T", g)
	require.Len(t, mp, 2, "disk is split at the antimeridian")

	bound := mp.Bound()
	assert.GreaterOrEqual(t, bound.Min[0], -180.0)
	assert.LessOrEqual(t, bound.Max[0], 180.0)

	codes := make([]string, 0, len(card.AdminAreas.Value))
	for _, a := range card.AdminAreas.Value {
		codes = append(codes, a.Code)
	}
	assert.Equal(t, []string{"east", "west"}, codes)
}

func TestBuild_SeismicMagnitudeFromTitle(t *testing.T) {
	sources, _ := healthySources()
	b, reg := newTestBuilder(t, sources)

	report := quake("us-title", 140.1, 36.2, 0)
	report.Magnitude = nil
	report.Title = "M 5.0 - 20 km NE of Tsukuba, Japan"

	card, err := b.Build(context.Background(), report)
	require.NoError(t, err)

	g, _ := reg.Get(card.GeometryRef)
	mp := g.(orb.MultiPolygon)
	assert.InEpsilon(t, FeltRadiusKm(5.0)*1000, geo.Distance(orb.Point{140.1, 36.2}, mp[0][0][0]), 0.01)
}

func TestBuild_NonSeismicPointKeepsPoint(t *testing.T) {
	sources, _ := healthySources()
	b, reg := newTestBuilder(t, sources)

	report := domain.HazardReport{
		ID:         "firms-1",
		HazardType: domain.HazardWildfire,
		GeoJSON:    []byte(`{"type":"Point","coordinates":[-120.5,38.9]}`),
	}
	card, err := b.Build(context.Background(), report)
	require.NoError(t, err)

	g, _ := reg.Get(card.GeometryRef)
	assert.Equal(t, orb.MultiPoint{{-120.5, 38.9}}, g)
}

func TestBuild_NoGeometryUsesFallbackPoint(t *testing.T) {
	sources, _ := healthySources()
	b, reg := newTestBuilder(t, sources)

	card, err := b.Build(context.Background(), domain.HazardReport{ID: "bare", HazardType: domain.HazardWeather})
	require.NoError(t, err)

	g, ok := reg.Get(card.GeometryRef)
	require.True(t, ok)
	assert.Equal(t, orb.MultiPoint{{0, 0}}, g)
	assert.Equal(t, domain.StatusOK, card.AdminAreas.Status)
}

func TestBuild_InvalidGeometryAborts(t *testing.T) {
	sources, _ := healthySources()
	b, reg := newTestBuilder(t, sources)

	_, err := b.Build(context.Background(), domain.HazardReport{
		ID:      "broken",
		GeoJSON: []byte(`{"type":"Polygon","coordinates":"nope"}`),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidGeometry)
	assert.Equal(t, 0, reg.Len())
}

func TestBuild_SourceFailuresDegradeFields(t *testing.T) {
	unavailable := fmt.Errorf("%w: test outage", domain.ErrSourceUnavailable)
	sources := Sources{
		Admin:         &fakeAdmin{},
		Population:    &fakePopulation{err: unavailable},
		Vulnerability: &fakeVulnerability{err: unavailable},
		Facilities:    &fakeFacilities{err: unavailable},
	}
	b, _ := newTestBuilder(t, sources)

	card, err := b.Build(context.Background(), domain.HazardReport{ID: "x", GeoJSON: []byte(floodPolygon)})
	require.NoError(t, err)

	assert.Equal(t, domain.Known([]domain.AdminArea{}), card.AdminAreas)
	assert.Equal(t, domain.StatusDefault, card.Population.Status)
	assert.Zero(t, card.Population.Value)
	assert.Contains(t, card.Population.Reason, "test outage")
	assert.Equal(t, domain.StatusDefault, card.Vulnerability.Status)
	assert.Equal(t, domain.NeutralPercentile, card.Vulnerability.Value.Percentile)
	assert.Equal(t, domain.StatusDefault, card.Facilities.Status)
	assert.NotNil(t, card.Facilities.Value)
	assert.Empty(t, card.Facilities.Value)
	assert.ElementsMatch(t, []string{"population_exposed", "vulnerability", "nearby_facilities"}, card.DegradedFields())
}

func TestBuild_PopulationFallsBackToVulnerabilityTracts(t *testing.T) {
	sources, _ := healthySources()
	sources.Population = &fakePopulation{err: errors.New("worldpop down")}
	b, _ := newTestBuilder(t, sources)

	card, err := b.Build(context.Background(), domain.HazardReport{ID: "x", GeoJSON: []byte(floodPolygon)})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusFallback, card.Population.Status)
	assert.InDelta(t, 11000, card.Population.Value, 1e-9)
	assert.Contains(t, card.Population.Reason, "worldpop down")
}

func TestBuild_PartialPopulation(t *testing.T) {
	sources, _ := healthySources()
	sources.Population = &fakePopulation{est: domain.PopulationEstimate{Total: 800, Parts: 3, FailedParts: 1}}
	b, _ := newTestBuilder(t, sources)

	card, err := b.Build(context.Background(), domain.HazardReport{ID: "x", GeoJSON: []byte(floodPolygon)})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPartial, card.Population.Status)
	assert.InDelta(t, 800, card.Population.Value, 1e-9)
	assert.Contains(t, card.Population.Reason, "1 of 3")
}

func TestBuild_NamerFailureKeepsDatasetName(t *testing.T) {
	sources, _ := healthySources()
	sources.Names = &fakeNamer{err: errors.New("census down")}
	b, _ := newTestBuilder(t, sources)

	card, err := b.Build(context.Background(), domain.HazardReport{ID: "x", GeoJSON: []byte(floodPolygon)})
	require.NoError(t, err)

	assert.Equal(t, domain.Known([]domain.AdminArea{{Code: "48453", Name: "Travis"}}), card.AdminAreas)
}

func TestBuild_UnconfiguredSourcesDefault(t *testing.T) {
	b, _ := newTestBuilder(t, Sources{})

	card, err := b.Build(context.Background(), domain.HazardReport{ID: "x", GeoJSON: []byte(floodPolygon)})
	require.NoError(t, err)

	assert.Len(t, card.DegradedFields(), 4)
	assert.Equal(t, errNotConfigured.Error(), card.Facilities.Reason)
}

func TestBuild_CancelledReturnsPartialCard(t *testing.T) {
	sources, _ := healthySources()
	sources.Facilities = &fakeFacilities{block: true}
	b, _ := newTestBuilder(t, sources)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	card, err := b.Build(ctx, domain.HazardReport{ID: "slow", GeoJSON: []byte(floodPolygon)})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Equal(t, "slow", card.IncidentID)
	assert.NotEmpty(t, card.GeometryRef)
	assert.Equal(t, domain.StatusDefault, card.Facilities.Status)
	assert.Equal(t, domain.StatusOK, card.AdminAreas.Status)
}

func TestBuild_SameGeometrySameRef(t *testing.T) {
	sources, _ := healthySources()
	b, reg := newTestBuilder(t, sources)

	c1, err := b.Build(context.Background(), quake("a", 10, 45, 5.5))
	require.NoError(t, err)
	c2, err := b.Build(context.Background(), quake("b", 10, 45, 5.5))
	require.NoError(t, err)

	assert.Equal(t, c1.GeometryRef, c2.GeometryRef)
	// epicentre point plus one disk
	assert.Equal(t, 2, reg.Len())
}
