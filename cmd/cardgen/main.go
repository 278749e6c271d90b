// Command cardgen enriches a file of hazard reports offline and prints the
// resulting incident cards. Input is either a JSON array of hazard reports or
// a USGS earthquake GeoJSON summary feed. Sources are configured from the
// same environment variables as the service.
//
// Usage:
//
//	go run ./cmd/cardgen -in data/usgs_4.5_day.geojson -format markdown
//	go run ./cmd/cardgen -in reports.json -out cards.json -built-at 2024-04-27T06:00:00Z
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/incident-enrichment-service/internal/config"
	"github.com/couchcryptid/incident-enrichment-service/internal/domain"
	"github.com/couchcryptid/incident-enrichment-service/internal/enrich"
	"github.com/couchcryptid/incident-enrichment-service/internal/geometry"
	"github.com/couchcryptid/incident-enrichment-service/internal/observability"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	in := flag.String("in", "", "hazard reports: JSON array or USGS GeoJSON feed")
	out := flag.String("out", "", "output path (default stdout)")
	format := flag.String("format", "json", "output format: json or markdown")
	builtAt := flag.String("built-at", "", "fixed RFC3339 card build time for reproducible output")
	flag.Parse()

	if *in == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -in")
	}
	if *format != "json" && *format != "markdown" {
		return fmt.Errorf("unknown -format %q", *format)
	}
	if *builtAt != "" {
		at, err := time.Parse(time.RFC3339, *builtAt)
		if err != nil {
			return fmt.Errorf("invalid -built-at: %w", err)
		}
		domain.SetClock(clockwork.NewFakeClockAt(at))
		defer domain.SetClock(nil)
	}

	cfg, err := config.LoadSources()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(os.Stderr, os.Getenv("LOG_LEVEL"), "text")

	data, err := os.ReadFile(*in)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	reports, err := parseReports(data)
	if err != nil {
		return err
	}
	log.Printf("%s: %d reports", *in, len(reports))

	metrics := observability.NewMetrics()
	sources, err := enrich.NewSources(cfg, metrics, logger)
	if err != nil {
		return err
	}
	builder := enrich.NewBuilder(geometry.NewRegistry(), sources, metrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results := enrich.BuildAll(ctx, timeoutBuilder{builder, cfg.Timeout}, reports, cfg.Concurrency)

	cards := make([]domain.IncidentCard, 0, len(results))
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			log.Printf("%s: %v", r.Report.ID, r.Err)
			continue
		}
		cards = append(cards, r.Card)
	}

	w := io.Writer(os.Stdout)
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := writeCards(w, cards, *format); err != nil {
		return err
	}

	log.Printf("built %d cards, %d failed", len(cards), failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d reports failed", failed, len(reports))
	}
	return nil
}

// timeoutBuilder bounds each build and keeps the partial card when time runs out.
type timeoutBuilder struct {
	inner   *enrich.Builder
	timeout time.Duration
}

func (b timeoutBuilder) Build(ctx context.Context, report domain.HazardReport) (domain.IncidentCard, error) {
	buildCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	card, err := b.inner.Build(buildCtx, report)
	if err != nil && buildCtx.Err() != nil && ctx.Err() == nil {
		return card, nil
	}
	return card, err
}

// parseReports accepts a JSON array of hazard reports or a USGS feed object.
func parseReports(data []byte) ([]domain.HazardReport, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty input")
	}
	if trimmed[0] == '{' {
		return domain.ReportsFromUSGSFeed(trimmed)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("parse reports: %w", err)
	}
	reports := make([]domain.HazardReport, 0, len(items))
	for i, item := range items {
		r, err := domain.ParseHazardReport(item)
		if err != nil {
			return nil, fmt.Errorf("report %d: %w", i, err)
		}
		reports = append(reports, r)
	}
	return reports, nil
}

func writeCards(w io.Writer, cards []domain.IncidentCard, format string) error {
	if format == "markdown" {
		parts := make([]string, len(cards))
		for i, c := range cards {
			parts[i] = c.Markdown()
		}
		_, err := io.WriteString(w, strings.Join(parts, "\n---\n\n"))
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(cards)
}
