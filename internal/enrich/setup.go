package enrich

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/couchcryptid/incident-enrichment-service/internal/adapter/arcgis"
	"github.com/couchcryptid/incident-enrichment-service/internal/adapter/census"
	"github.com/couchcryptid/incident-enrichment-service/internal/adapter/upstream"
	"github.com/couchcryptid/incident-enrichment-service/internal/adapter/worldpop"
	"github.com/couchcryptid/incident-enrichment-service/internal/adminarea"
	"github.com/couchcryptid/incident-enrichment-service/internal/config"
	"github.com/couchcryptid/incident-enrichment-service/internal/observability"
)

// NewSources builds the configured enrichment sources. Disabled sources stay
// nil. Only an unreadable boundary dataset is an error.
func NewSources(cfg config.Sources, metrics *observability.Metrics, logger *slog.Logger) (Sources, error) {
	var sources Sources

	if cfg.AdminBoundaryPath != "" {
		boundaries, err := adminarea.Load(cfg.AdminBoundaryPath, cfg.AdminCodeField, cfg.AdminNameField)
		if err != nil {
			return Sources{}, fmt.Errorf("admin boundaries: %w", err)
		}
		resolver := adminarea.NewResolver(boundaries)
		sources.Admin = resolver
		logger.Info("admin area resolver loaded", "path", cfg.AdminBoundaryPath, "boundaries", resolver.Len())
	} else {
		logger.Info("admin area resolver disabled")
	}

	hc := &http.Client{Timeout: cfg.UpstreamTimeout}
	retry := upstream.DefaultRetryPolicy()
	retry.MaxRetries = cfg.UpstreamMaxRetries
	client := func(source string) *upstream.Client {
		return upstream.New(source, hc, retry, metrics, logger)
	}

	if cfg.CensusEnabled {
		namer := census.NewClient(client("census"), cfg.CensusBaseURL, cfg.CensusAPIKey, logger)
		sources.Names = census.NewCachedNamer(namer, cfg.CensusCacheSize, metrics)
		logger.Info("census area names enabled", "cache_size", cfg.CensusCacheSize)
	}

	if cfg.WorldPopEnabled {
		sources.Population = worldpop.NewEstimator(client("worldpop"), worldpop.Config{
			Endpoint:     cfg.WorldPopURL,
			Dataset:      cfg.WorldPopDataset,
			Year:         cfg.WorldPopYear,
			MaxURLLength: cfg.WorldPopMaxURLLength,
			Concurrency:  cfg.WorldPopConcurrency,
		}, metrics, logger)
	} else {
		logger.Info("population estimates disabled")
	}

	if cfg.SVILayerURL != "" {
		sources.Vulnerability = arcgis.NewSVIIndex(arcgis.NewClient(client("svi")), cfg.SVILayerURL, arcgis.Weighting(cfg.SVIWeighting), logger)
	}
	if cfg.FacilityLayerURL != "" {
		sources.Facilities = arcgis.NewFacilityIndex(arcgis.NewClient(client("facilities")), cfg.FacilityLayerURL, logger)
	}

	return sources, nil
}
