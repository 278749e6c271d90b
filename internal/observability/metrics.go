package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "incident_enrich"

// Metrics holds the Prometheus counters, histograms, and gauges for the enrichment service.
type Metrics struct {
	MessagesConsumed prometheus.Counter
	MessagesProduced prometheus.Counter
	TransformErrors  prometheus.Counter
	PipelineRunning  prometheus.Gauge

	// Batch processing metrics.
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// Card building metrics.
	CardsBuilt        *prometheus.CounterVec // labels: hazard_type
	CardFieldStatus   *prometheus.CounterVec // labels: field={admin_areas,population,vulnerability,facilities}, status={ok,partial,fallback,default}
	CardBuildDuration prometheus.Histogram
	GeometriesStored  prometheus.Gauge

	// Upstream source metrics.
	UpstreamRequests *prometheus.CounterVec   // labels: source, status={<http code>,error,breaker_open}
	UpstreamDuration *prometheus.HistogramVec // labels: source
	PopulationStage  *prometheus.CounterVec   // labels: stage={direct,simplify,tile,failed}
	AreaNameCache    *prometheus.CounterVec   // labels: result={hit,miss}
}

func newMetrics() *Metrics {
	return &Metrics{
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "Total hazard report messages read from the source topic.",
		}),
		MessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_produced_total",
			Help:      "Total incident cards written to the sink topic.",
		}),
		TransformErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transform_errors_total",
			Help:      "Total reports that could not be turned into a card.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of messages per batch extracted from Kafka.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch extract-enrich-load cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		CardsBuilt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cards_built_total",
			Help:      "Incident cards built by hazard type.",
		}, []string{"hazard_type"}),
		CardFieldStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "card_field_status_total",
			Help:      "Enrichment field outcomes by field and status.",
		}, []string{"field", "status"}),
		CardBuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "card_build_duration_seconds",
			Help:      "Wall time to build one incident card.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		GeometriesStored: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geometries_stored",
			Help:      "Distinct canonical geometries held in the registry.",
		}),
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Requests to enrichment data sources by source and status.",
		}, []string{"source", "status"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Enrichment data source request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source"}),
		PopulationStage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "population_stage_total",
			Help:      "Population estimate parts by the ladder stage that produced them.",
		}, []string{"stage"}),
		AreaNameCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "area_name_cache_total",
			Help:      "Administrative area name cache lookups by result.",
		}, []string{"result"}),
	}
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.MessagesConsumed,
		m.MessagesProduced,
		m.TransformErrors,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.CardsBuilt,
		m.CardFieldStatus,
		m.CardBuildDuration,
		m.GeometriesStored,
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.PopulationStage,
		m.AreaNameCache,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
