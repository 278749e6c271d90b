package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/couchcryptid/incident-enrichment-service/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/incident-enrichment-service/internal/adapter/kafka"
	"github.com/couchcryptid/incident-enrichment-service/internal/config"
	"github.com/couchcryptid/incident-enrichment-service/internal/enrich"
	"github.com/couchcryptid/incident-enrichment-service/internal/geometry"
	"github.com/couchcryptid/incident-enrichment-service/internal/observability"
	"github.com/couchcryptid/incident-enrichment-service/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	sources, err := enrich.NewSources(cfg.Sources, metrics, logger)
	if err != nil {
		logger.Error("failed to initialize enrichment sources", "error", err)
		os.Exit(1)
	}
	registry := geometry.NewRegistry()
	builder := enrich.NewBuilder(registry, sources, metrics, logger)

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)
	transformer := pipeline.NewTransformer(builder, cfg.Sources.Timeout, logger)

	p := pipeline.New(reader, transformer, writer, logger, metrics, cfg.BatchSize, cfg.Sources.Concurrency)

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, httpadapter.API{
		Builder:    builder,
		Geometries: registry,
		Timeout:    cfg.Sources.Timeout,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start enrichment pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}
