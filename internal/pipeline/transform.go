package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/incident-enrichment-service/internal/domain"
	"github.com/couchcryptid/incident-enrichment-service/internal/enrich"
)

// CardTransformer implements Transformer by parsing the message into a
// hazard report and enriching it into an incident card.
type CardTransformer struct {
	builder enrich.CardBuilder
	timeout time.Duration
	logger  *slog.Logger
}

// NewTransformer creates a CardTransformer. Each build is bounded by timeout;
// a non-positive timeout disables the bound.
func NewTransformer(builder enrich.CardBuilder, timeout time.Duration, logger *slog.Logger) *CardTransformer {
	return &CardTransformer{
		builder: builder,
		timeout: timeout,
		logger:  logger,
	}
}

// Transform parses and enriches one message. A build that runs out of time
// still yields its partially enriched card; cancellation of ctx itself is
// returned as an error.
func (t *CardTransformer) Transform(ctx context.Context, raw domain.RawEvent) (domain.IncidentCard, error) {
	report, err := domain.ParseRawEvent(raw)
	if err != nil {
		return domain.IncidentCard{}, err
	}

	buildCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	card, err := t.builder.Build(buildCtx, report)
	switch {
	case err == nil:
		return card, nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		t.logger.Warn("enrichment timed out, emitting partial card",
			"incident_id", report.ID,
			"timeout", t.timeout,
			"degraded", card.DegradedFields(),
		)
		return card, nil
	default:
		return domain.IncidentCard{}, fmt.Errorf("build card for %s: %w", report.ID, err)
	}
}
