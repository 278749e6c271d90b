// Package worldpop estimates population inside a geometry with the WorldPop
// zonal statistics API.
//
// The API takes the geometry in the query string and rejects long URLs, so
// each polygonal part walks a degrade ladder: the rounded polygon as is,
// then topology-preserving simplification, then grid tiling with the tile
// answers summed. See ladder.next for the transitions.
package worldpop

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/couchcryptid/incident-enrichment-service/internal/adapter/upstream"
	"github.com/couchcryptid/incident-enrichment-service/internal/domain"
	"github.com/couchcryptid/incident-enrichment-service/internal/geometry"
	"github.com/couchcryptid/incident-enrichment-service/internal/observability"
)

// Defaults for the public WorldPop service.
const (
	DefaultEndpoint     = "https://api.worldpop.org/v1/services/stats"
	DefaultDataset      = "wpgppop"
	DefaultYear         = 2020
	DefaultMaxURLLength = 7000
	DefaultConcurrency  = 4
)

const (
	roundDecimals   = 5
	targetMaxCoords = 8000
	bufferMeters    = 2000
)

var (
	simplifyTolerances = []float64{1e-5, 5e-4}
	tileCellSizes      = []float64{0.5, 0.1}
	forceFitTolerances = []float64{1e-3, 2e-3, 5e-3, 1e-2}
)

// Config selects the service endpoint and request limits.
type Config struct {
	Endpoint     string
	Dataset      string
	Year         int
	MaxURLLength int
	// Concurrency bounds in-flight requests across every estimate running
	// on one Estimator, whether they come from parts or tiles.
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = DefaultEndpoint
	}
	c.Endpoint = strings.TrimRight(c.Endpoint, "/")
	if c.Dataset == "" {
		c.Dataset = DefaultDataset
	}
	if c.Year == 0 {
		c.Year = DefaultYear
	}
	if c.MaxURLLength <= 0 {
		c.MaxURLLength = DefaultMaxURLLength
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	return c
}

// Estimator implements domain.PopulationEstimator.
type Estimator struct {
	http            *upstream.Client
	cfg             Config
	inflight        *semaphore.Weighted
	ladder          ladder
	forceFit        []float64
	roundDecimals   int
	targetMaxCoords int
	bufferMeters    float64
	metrics         *observability.Metrics
	logger          *slog.Logger
}

// NewEstimator creates an Estimator that sends requests through hc.
func NewEstimator(hc *upstream.Client, cfg Config, metrics *observability.Metrics, logger *slog.Logger) *Estimator {
	cfg = cfg.withDefaults()
	return &Estimator{
		http:            hc,
		cfg:             cfg,
		inflight:        semaphore.NewWeighted(int64(cfg.Concurrency)),
		ladder:          ladder{simplify: simplifyTolerances, tiles: tileCellSizes},
		forceFit:        forceFitTolerances,
		roundDecimals:   roundDecimals,
		targetMaxCoords: targetMaxCoords,
		bufferMeters:    bufferMeters,
		metrics:         metrics,
		logger:          logger,
	}
}

type partResult struct {
	value float64
	err   error
}

// Estimate sums the population of every polygonal part of g. Points and
// lines are buffered into polygons first. A part for which every rung of the
// ladder fails contributes zero and is counted in FailedParts; if every part
// fails the estimate is unknown and an error is returned.
func (e *Estimator) Estimate(ctx context.Context, g orb.Geometry) (domain.PopulationEstimate, error) {
	if g == nil || geometry.CountCoords(g) == 0 {
		return domain.PopulationEstimate{}, fmt.Errorf("%w: empty geometry", domain.ErrInvalidGeometry)
	}

	parts, err := e.prepare(g)
	if err != nil {
		return domain.PopulationEstimate{}, err
	}
	if len(parts) == 0 {
		return domain.PopulationEstimate{}, fmt.Errorf("%w: no polygonal area to estimate", domain.ErrInvalidGeometry)
	}

	results := make([]partResult, len(parts))
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(e.cfg.Concurrency)
	for i, part := range parts {
		eg.Go(func() error {
			v, err := e.estimatePart(ectx, part)
			results[i] = partResult{value: v, err: err}
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return domain.PopulationEstimate{}, err
	}

	est := domain.PopulationEstimate{Parts: len(parts)}
	var lastErr error
	for _, r := range results {
		if r.err != nil {
			est.FailedParts++
			lastErr = r.err
			continue
		}
		est.Total += r.value
	}
	if est.FailedParts == est.Parts {
		return est, fmt.Errorf("population unknown for all %d parts: %w", est.Parts, lastErr)
	}
	return est, nil
}

// estimatePart walks the ladder for one polygon.
func (e *Estimator) estimatePart(ctx context.Context, p orb.Polygon) (float64, error) {
	s := state{stage: stageDirect}
	var lastErr error

	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		v, o, err := e.attempt(ctx, p, s)
		e.logger.Debug("population attempt", "tier", s.String(), "outcome", o.String(), "error", err)
		if err != nil {
			lastErr = err
		}

		n := e.ladder.next(s, o)
		switch n.stage {
		case stageDone:
			e.metrics.PopulationStage.WithLabelValues(s.stage.String()).Inc()
			return v, nil
		case stageFailed:
			e.metrics.PopulationStage.WithLabelValues(stageFailed.String()).Inc()
			if lastErr == nil {
				lastErr = domain.ErrSourceUnavailable
			}
			return 0, fmt.Errorf("every population tier failed: %w", lastErr)
		}
		s = n
	}
}

// attempt runs a single rung.
func (e *Estimator) attempt(ctx context.Context, p orb.Polygon, s state) (float64, outcome, error) {
	switch s.stage {
	case stageDirect:
		return e.single(ctx, p)
	case stageSimplify:
		simplified, err := geometry.Simplify(p, e.ladder.simplify[s.level])
		if err != nil {
			return 0, outcomeError, err
		}
		return e.single(ctx, geometry.RoundPolygon(simplified, e.roundDecimals))
	case stageTile:
		return e.tilePass(ctx, p, e.ladder.tiles[s.level])
	default:
		return 0, outcomeError, fmt.Errorf("no attempt for state %s", s)
	}
}

// single sends p as one request if its URL fits.
func (e *Estimator) single(ctx context.Context, p orb.Polygon) (float64, outcome, error) {
	u, err := e.buildURL(p)
	if err != nil {
		return 0, outcomeError, err
	}
	if !e.fits(u) {
		return 0, outcomeNotFit, fmt.Errorf("%w: %d characters over a %d limit", domain.ErrURITooLong, len(u), e.cfg.MaxURLLength)
	}
	return e.fetch(ctx, u)
}

// prepare turns g into rounded, non-degenerate polygons. Non-polygonal
// parts are buffered and merged with the polygonal ones.
func (e *Estimator) prepare(g orb.Geometry) ([]orb.Polygon, error) {
	polys := geometry.Polygons(g)
	if rest := geometry.NonPolygonal(g); rest != nil {
		buffered, err := geometry.Buffer(rest, e.bufferMeters)
		if err != nil {
			return nil, fmt.Errorf("buffer non-polygonal parts: %w", err)
		}
		if len(polys) == 0 {
			polys = buffered
		} else {
			merged, err := geometry.Union(append(polys, buffered...))
			if err != nil {
				return nil, fmt.Errorf("merge buffered parts: %w", err)
			}
			polys = merged
		}
	}

	out := make([]orb.Polygon, 0, len(polys))
	for _, p := range polys {
		p = geometry.RoundPolygon(p, e.roundDecimals)
		if len(p) == 0 || len(p[0]) < 4 || math.Abs(planar.Area(p)) == 0 {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
