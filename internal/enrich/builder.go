// Package enrich assembles incident cards from hazard reports.
package enrich

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/incident-enrichment-service/internal/domain"
	"github.com/couchcryptid/incident-enrichment-service/internal/geometry"
	"github.com/couchcryptid/incident-enrichment-service/internal/observability"
)

// FallbackGeoJSON is registered for reports that carry no geometry.
const FallbackGeoJSON = `{"type":"Point","coordinates":[0,0]}`

// nameLookups bounds concurrent area name requests per card.
const nameLookups = 4

var errNotConfigured = errors.New("source not configured")

// FeltRadiusKm is the empirical radius, in kilometres, over which an
// earthquake of magnitude mag is felt.
func FeltRadiusKm(mag float64) float64 {
	return math.Pow(10, 0.5*mag-1.8)
}

// Sources are the enrichment collaborators. A nil source leaves its card
// field at the documented default. Names is optional; without it admin areas
// keep the names from the boundary dataset.
type Sources struct {
	Admin         domain.AdminResolver
	Names         domain.AreaNamer
	Population    domain.PopulationEstimator
	Vulnerability domain.VulnerabilityIndex
	Facilities    domain.FacilityLocator
}

// Builder turns hazard reports into incident cards.
type Builder struct {
	registry domain.GeometryStore
	sources  Sources
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewBuilder creates a Builder that registers geometries in registry.
func NewBuilder(registry domain.GeometryStore, sources Sources, metrics *observability.Metrics, logger *slog.Logger) *Builder {
	return &Builder{
		registry: registry,
		sources:  sources,
		metrics:  metrics,
		logger:   logger,
	}
}

// Build enriches one report. Only an invalid report geometry is an error;
// every source failure degrades its own field. If ctx ends mid-build the
// card assembled so far is returned together with ctx.Err().
func (b *Builder) Build(ctx context.Context, report domain.HazardReport) (domain.IncidentCard, error) {
	start := time.Now()
	logger := b.logger.With("incident_id", report.ID)

	ref, g, err := b.registerGeometry(report)
	if err != nil {
		return domain.IncidentCard{}, fmt.Errorf("incident %s: %w", report.ID, err)
	}
	ref, g = b.shape(report, ref, g, logger)

	card := domain.NewIncidentCard(report, ref)
	logger = logger.With("geometry_ref", ref)

	var (
		admin    domain.Outcome[[]domain.AdminArea]
		popEst   domain.PopulationEstimate
		popErr   error
		vuln     domain.VulnerabilityResult
		vulnErr  error
		facility domain.Outcome[[]domain.FacilityRecord]
	)

	var eg errgroup.Group
	eg.Go(func() error {
		admin = b.adminAreas(ctx, g, logger)
		return nil
	})
	eg.Go(func() error {
		popEst, popErr = b.population(ctx, g)
		return nil
	})
	eg.Go(func() error {
		vuln, vulnErr = b.vulnerability(ctx, g)
		return nil
	})
	eg.Go(func() error {
		facility = b.facilities(ctx, g)
		return nil
	})
	_ = eg.Wait()

	card.AdminAreas = admin
	card.Facilities = facility
	if vulnErr != nil {
		card.Vulnerability = domain.Defaulted(domain.VulnerabilityResult{Percentile: domain.NeutralPercentile}, vulnErr)
	} else {
		card.Vulnerability = domain.Known(vuln)
	}
	card.Population = populationOutcome(popEst, popErr, vuln, vulnErr)

	b.record(card, logger, time.Since(start))

	if err := ctx.Err(); err != nil {
		return card, err
	}
	return card, nil
}

// registerGeometry stores the report geometry, or the fallback point when
// the report has none.
func (b *Builder) registerGeometry(report domain.HazardReport) (string, orb.Geometry, error) {
	raw := bytes.TrimSpace(report.GeoJSON)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte(FallbackGeoJSON)
	}

	key, err := b.registry.Register(raw)
	if err != nil {
		return "", nil, err
	}
	g, ok := b.registry.Get(key)
	if !ok {
		return "", nil, fmt.Errorf("%w: geometry %s vanished after registration", domain.ErrInvalidGeometry, key)
	}
	return key, g, nil
}

// shape replaces a seismic epicentre point with its felt-radius disk.
func (b *Builder) shape(report domain.HazardReport, ref string, g orb.Geometry, logger *slog.Logger) (string, orb.Geometry) {
	if !report.Seismic() {
		return ref, g
	}
	epicentre, ok := geometry.SinglePoint(g)
	if !ok {
		return ref, g
	}

	mag := report.EffectiveMagnitude()
	radiusKm := FeltRadiusKm(mag)
	disk := geometry.Disk(epicentre, radiusKm*1000, geometry.DiskSegments)

	key, err := b.registry.RegisterGeometry(disk)
	if err != nil {
		logger.Warn("felt radius disk rejected, keeping epicentre", "magnitude", mag, "error", err)
		return ref, g
	}
	shaped, ok := b.registry.Get(key)
	if !ok {
		return ref, g
	}
	logger.Debug("seismic geometry shaped", "magnitude", mag, "radius_km", radiusKm)
	return key, shaped
}

func (b *Builder) adminAreas(ctx context.Context, g orb.Geometry, logger *slog.Logger) domain.Outcome[[]domain.AdminArea] {
	if b.sources.Admin == nil {
		return domain.Defaulted([]domain.AdminArea{}, errNotConfigured)
	}
	areas := b.sources.Admin.Resolve(g)
	if areas == nil {
		areas = []domain.AdminArea{}
	}
	if b.sources.Names == nil || len(areas) == 0 {
		return domain.Known(areas)
	}

	var eg errgroup.Group
	eg.SetLimit(nameLookups)
	for i := range areas {
		eg.Go(func() error {
			name, err := b.sources.Names.AreaName(ctx, areas[i].Code)
			switch {
			case err != nil:
				logger.Debug("area name lookup failed, keeping dataset name", "code", areas[i].Code, "error", err)
			case name != "":
				areas[i].Name = name
			}
			return nil
		})
	}
	_ = eg.Wait()
	return domain.Known(areas)
}

func (b *Builder) population(ctx context.Context, g orb.Geometry) (domain.PopulationEstimate, error) {
	if b.sources.Population == nil {
		return domain.PopulationEstimate{}, errNotConfigured
	}
	return b.sources.Population.Estimate(ctx, g)
}

func (b *Builder) vulnerability(ctx context.Context, g orb.Geometry) (domain.VulnerabilityResult, error) {
	if b.sources.Vulnerability == nil {
		return domain.VulnerabilityResult{}, errNotConfigured
	}
	return b.sources.Vulnerability.Aggregate(ctx, g)
}

func (b *Builder) facilities(ctx context.Context, g orb.Geometry) domain.Outcome[[]domain.FacilityRecord] {
	if b.sources.Facilities == nil {
		return domain.Defaulted([]domain.FacilityRecord{}, errNotConfigured)
	}
	records, err := b.sources.Facilities.FindNearby(ctx, g)
	if err != nil {
		return domain.Defaulted([]domain.FacilityRecord{}, err)
	}
	if records == nil {
		records = []domain.FacilityRecord{}
	}
	return domain.Known(records)
}

// populationOutcome picks the population field. An estimate with failed
// parts is partial; with no estimate at all the vulnerability tracts'
// population stands in as a fallback.
func populationOutcome(est domain.PopulationEstimate, err error, vuln domain.VulnerabilityResult, vulnErr error) domain.Outcome[float64] {
	if err == nil {
		if est.FailedParts > 0 {
			return domain.Outcome[float64]{
				Value:  est.Total,
				Status: domain.StatusPartial,
				Reason: fmt.Sprintf("%d of %d parts could not be estimated", est.FailedParts, est.Parts),
			}
		}
		return domain.Known(est.Total)
	}
	if vulnErr == nil && vuln.TotalPopulation > 0 {
		return domain.Outcome[float64]{
			Value:  float64(vuln.TotalPopulation),
			Status: domain.StatusFallback,
			Reason: fmt.Sprintf("population estimate unavailable (%v), using vulnerability tract population", err),
		}
	}
	return domain.Defaulted(0.0, err)
}

func (b *Builder) record(card domain.IncidentCard, logger *slog.Logger, elapsed time.Duration) {
	fields := []struct {
		name   string
		status domain.OutcomeStatus
		reason string
	}{
		{"admin_areas", card.AdminAreas.Status, card.AdminAreas.Reason},
		{"population_exposed", card.Population.Status, card.Population.Reason},
		{"vulnerability", card.Vulnerability.Status, card.Vulnerability.Reason},
		{"nearby_facilities", card.Facilities.Status, card.Facilities.Reason},
	}
	for _, f := range fields {
		b.metrics.CardFieldStatus.WithLabelValues(f.name, string(f.status)).Inc()
		if f.status != domain.StatusOK && f.reason != errNotConfigured.Error() {
			logger.Warn("enrichment field degraded", "field", f.name, "status", f.status, "reason", f.reason)
		}
	}

	b.metrics.CardsBuilt.WithLabelValues(string(card.HazardType)).Inc()
	b.metrics.CardBuildDuration.Observe(elapsed.Seconds())
	if counter, ok := b.registry.(interface{ Len() int }); ok {
		b.metrics.GeometriesStored.Set(float64(counter.Len()))
	}
	logger.Info("incident card built",
		"type", card.HazardType,
		"admin_areas", len(card.AdminAreas.Value),
		"population", card.Population.Value,
		"degraded", card.DegradedFields(),
		"duration", elapsed,
	)
}
