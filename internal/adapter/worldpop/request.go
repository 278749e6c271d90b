package worldpop

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/incident-enrichment-service/internal/adapter/upstream"
	"github.com/couchcryptid/incident-enrichment-service/internal/domain"
)

const maxResponseBytes = 1 << 20

// populationKeys are tried in order at each level of the response.
var populationKeys = []string{"total_population", "population", "sum"}

// buildURL encodes p as a GeoJSON Feature in the geojson query parameter.
func (e *Estimator) buildURL(p orb.Polygon) (string, error) {
	feature := geojson.NewFeature(p)
	data, err := feature.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("encode feature: %w", err)
	}

	v := url.Values{}
	v.Set("dataset", e.cfg.Dataset)
	v.Set("year", strconv.Itoa(e.cfg.Year))
	v.Set("geojson", string(data))
	v.Set("runasync", "false")
	return e.cfg.Endpoint + "?" + v.Encode(), nil
}

// fits reports whether rawURL is within the configured length ceiling.
func (e *Estimator) fits(rawURL string) bool {
	return len(rawURL) <= e.cfg.MaxURLLength
}

// fetch issues one population request and classifies the result.
func (e *Estimator) fetch(ctx context.Context, rawURL string) (float64, outcome, error) {
	if err := e.inflight.Acquire(ctx, 1); err != nil {
		return 0, outcomeError, err
	}
	defer e.inflight.Release(1)

	resp, err := e.http.Get(ctx, rawURL)
	if err != nil {
		return 0, outcomeError, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusRequestURITooLong:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return 0, outcomeRejected, domain.ErrURITooLong
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, outcomeError, fmt.Errorf("%w: worldpop: %w", domain.ErrSourceUnavailable,
			&upstream.StatusError{Code: resp.StatusCode, Body: string(body)})
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, outcomeError, fmt.Errorf("%w: worldpop: read response: %w", domain.ErrSourceUnavailable, err)
	}
	total, err := parsePopulation(body)
	if err != nil {
		return 0, outcomeError, err
	}
	return total, outcomeOK, nil
}

// parsePopulation extracts the population total from any of the response
// shapes the service has used: a nested data object, top-level fields, or
// an array of per-feature results. Numeric strings are accepted.
func parsePopulation(body []byte) (float64, error) {
	var root any
	if err := json.Unmarshal(body, &root); err != nil {
		return 0, fmt.Errorf("%w: worldpop: decode response: %w", domain.ErrSourceUnavailable, err)
	}

	if n, ok := findPopulation(root); ok {
		if n < 0 {
			return 0, fmt.Errorf("%w: worldpop: negative population %g", domain.ErrSourceUnavailable, n)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: worldpop: no population field in response", domain.ErrSourceUnavailable)
}

func findPopulation(v any) (float64, bool) {
	switch v := v.(type) {
	case map[string]any:
		if data, ok := v["data"]; ok {
			if n, ok := findPopulation(data); ok {
				return n, true
			}
		}
		return pickNumber(v)
	case []any:
		for _, el := range v {
			if m, ok := el.(map[string]any); ok {
				if n, ok := pickNumber(m); ok {
					return n, true
				}
			}
		}
	}
	return 0, false
}

func pickNumber(m map[string]any) (float64, bool) {
	for _, key := range populationKeys {
		switch n := m[key].(type) {
		case float64:
			return n, true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}
