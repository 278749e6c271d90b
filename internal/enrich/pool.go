package enrich

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/incident-enrichment-service/internal/domain"
)

// CardBuilder builds one incident card. *Builder implements it.
type CardBuilder interface {
	Build(ctx context.Context, report domain.HazardReport) (domain.IncidentCard, error)
}

// BuildResult pairs a report with its card or build error.
type BuildResult struct {
	Report domain.HazardReport
	Card   domain.IncidentCard
	Err    error
}

// BuildAll builds a card for every report with at most limit builds in
// flight. Results are in report order. A failed build never stops the others.
func BuildAll(ctx context.Context, builder CardBuilder, reports []domain.HazardReport, limit int) []BuildResult {
	if limit < 1 {
		limit = 1
	}
	results := make([]BuildResult, len(reports))

	var eg errgroup.Group
	eg.SetLimit(limit)
	for i, report := range reports {
		eg.Go(func() error {
			card, err := builder.Build(ctx, report)
			results[i] = BuildResult{Report: report, Card: card, Err: err}
			return nil
		})
	}
	_ = eg.Wait()
	return results
}
