package arcgis

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/incident-enrichment-service/internal/domain"
	"github.com/couchcryptid/incident-enrichment-service/internal/geometry"
)

// DefaultSVILayerURL is the CDC/ATSDR SVI 2022 census tract layer.
const DefaultSVILayerURL = "https://services2.arcgis.com/FiaPA4ga0iQKduv3/arcgis/rest/services/CDC_SVI_2022_(Archive)/FeatureServer/2"

const (
	percentileField = "RPL_THEMES"
	populationField = "E_TOTPOP"
)

// Weighting selects how tract percentiles are averaged.
type Weighting string

const (
	WeightMean       Weighting = "mean"
	WeightPopulation Weighting = "population"
)

// SVIIndex aggregates social vulnerability over the tracts intersecting a
// geometry's envelope. It implements domain.VulnerabilityIndex.
type SVIIndex struct {
	client    *Client
	layerURL  string
	weighting Weighting
	logger    *slog.Logger
}

// NewSVIIndex creates an SVIIndex over layerURL.
func NewSVIIndex(client *Client, layerURL string, weighting Weighting, logger *slog.Logger) *SVIIndex {
	if weighting != WeightPopulation {
		weighting = WeightMean
	}
	return &SVIIndex{
		client:    client,
		layerURL:  layerURL,
		weighting: weighting,
		logger:    logger,
	}
}

// Aggregate returns the average percentile of the valid tract samples and
// the summed tract population. Percentiles outside [0,1] are discarded;
// with no valid sample left the result is domain.ErrNoIntersectingFeatures.
func (s *SVIIndex) Aggregate(ctx context.Context, g orb.Geometry) (domain.VulnerabilityResult, error) {
	if g == nil || geometry.CountCoords(g) == 0 {
		return domain.VulnerabilityResult{}, fmt.Errorf("%w: empty geometry", domain.ErrInvalidGeometry)
	}

	features, err := s.client.QueryEnvelope(ctx, s.layerURL, g.Bound(), []string{percentileField, populationField})
	if err != nil {
		return domain.VulnerabilityResult{}, fmt.Errorf("svi query: %w", err)
	}

	result, err := summarize(features, s.weighting)
	if err != nil {
		return domain.VulnerabilityResult{}, err
	}
	s.logger.Debug("svi aggregated",
		"features", len(features),
		"samples", result.Samples,
		"percentile", result.Percentile,
	)
	return result, nil
}

// summarize reads tracts that carry both a numeric percentile and a numeric
// population. Their population is summed even when the percentile is out of
// range; only the percentile sample is dropped.
func summarize(features []Feature, weighting Weighting) (domain.VulnerabilityResult, error) {
	var total int64
	percentiles := make([]float64, 0, len(features))
	weights := make([]float64, 0, len(features))

	for _, f := range features {
		pct, okPct := f.Number(percentileField)
		pop, okPop := f.Number(populationField)
		if !okPct || !okPop || math.IsNaN(pct) || math.IsNaN(pop) {
			continue
		}
		if pop < 0 {
			pop = 0
		}
		total += int64(math.Round(pop))

		if pct < 0 || pct > 1 {
			continue
		}
		percentiles = append(percentiles, pct)
		weights = append(weights, pop)
	}

	if len(percentiles) == 0 {
		return domain.VulnerabilityResult{}, fmt.Errorf("%w: %d features, none with a valid %s",
			domain.ErrNoIntersectingFeatures, len(features), percentileField)
	}

	var mean float64
	if weighting == WeightPopulation && floats.Sum(weights) > 0 {
		mean = stat.Mean(percentiles, weights)
	} else {
		mean = stat.Mean(percentiles, nil)
	}

	return domain.VulnerabilityResult{
		Percentile:      math.Min(math.Max(mean, 0), 1),
		TotalPopulation: total,
		Samples:         len(percentiles),
	}, nil
}
