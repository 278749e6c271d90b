package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	Sources Sources
}

// Sources configures the enrichment workers and the external data sources
// they call.
type Sources struct {
	Concurrency int           `envconfig:"ENRICH_CONCURRENCY" default:"4" validate:"min=1,max=64"`
	Timeout     time.Duration `envconfig:"ENRICH_TIMEOUT" default:"45s" validate:"gt=0"`

	// An empty boundary path disables area resolution. Empty layer URLs
	// disable the vulnerability and facility sources.
	AdminBoundaryPath string `envconfig:"ADMIN_BOUNDARY_PATH"`
	AdminCodeField    string `envconfig:"ADMIN_CODE_FIELD" default:"GEOID" validate:"required"`
	AdminNameField    string `envconfig:"ADMIN_NAME_FIELD" default:"NAME"`

	CensusEnabled   bool   `envconfig:"CENSUS_ENABLED" default:"false"`
	CensusBaseURL   string `envconfig:"CENSUS_BASE_URL" default:"https://api.census.gov/data/2023/acs/acs5" validate:"required,url"`
	CensusAPIKey    string `envconfig:"CENSUS_API_KEY"`
	CensusCacheSize int    `envconfig:"CENSUS_CACHE_SIZE" default:"1000" validate:"min=1"`

	WorldPopEnabled      bool   `envconfig:"WORLDPOP_ENABLED" default:"true"`
	WorldPopURL          string `envconfig:"WORLDPOP_URL" default:"https://api.worldpop.org/v1/services/stats" validate:"required,url"`
	WorldPopDataset      string `envconfig:"WORLDPOP_DATASET" default:"wpgppop" validate:"required"`
	WorldPopYear         int    `envconfig:"WORLDPOP_YEAR" default:"2020" validate:"min=2000,max=2030"`
	WorldPopMaxURLLength int    `envconfig:"WORLDPOP_MAX_URL_LENGTH" default:"7000" validate:"min=512"`
	WorldPopConcurrency  int    `envconfig:"WORLDPOP_CONCURRENCY" default:"4" validate:"min=1,max=32"`

	SVILayerURL      string `envconfig:"SVI_LAYER_URL" default:"https://services2.arcgis.com/FiaPA4ga0iQKduv3/arcgis/rest/services/CDC_SVI_2022_(Archive)/FeatureServer/2" validate:"omitempty,url"`
	SVIWeighting     string `envconfig:"SVI_WEIGHTING" default:"mean" validate:"oneof=mean population"`
	FacilityLayerURL string `envconfig:"FACILITY_LAYER_URL" default:"https://services2.arcgis.com/FiaPA4ga0iQKduv3/arcgis/rest/services/Hospitals/FeatureServer/0" validate:"omitempty,url"`

	UpstreamTimeout    time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"15s" validate:"gt=0"`
	UpstreamMaxRetries int           `envconfig:"UPSTREAM_MAX_RETRIES" default:"2" validate:"min=0,max=10"`
}

// Load reads configuration from environment variables, applying defaults where unset.
// A .env file in the working directory is loaded first when present; real
// environment variables take precedence over it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	sources, err := loadSources()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "raw-hazard-reports"),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "incident-cards"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "incident-enrichment"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,
		Sources:            sources,
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required")
	}

	return cfg, nil
}

// LoadSources reads only the enrichment source block. The offline tools use
// it without the Kafka settings.
func LoadSources() (Sources, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Sources{}, fmt.Errorf("load .env: %w", err)
	}
	return loadSources()
}

func loadSources() (Sources, error) {
	var s Sources
	if err := envconfig.Process("", &s); err != nil {
		return Sources{}, fmt.Errorf("invalid source config: %w", err)
	}
	if err := newValidator().Struct(s); err != nil {
		return Sources{}, fmt.Errorf("invalid source config: %w", describe(err))
	}
	return s, nil
}

// newValidator reports fields by their environment key.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("envconfig")
	})
	return v
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Errorf("%s fails %q", fe.Field(), fe.Tag()))
	}
	return errors.Join(msgs...)
}
