// Package census resolves county GEOIDs to display names with the Census
// Bureau data API.
package census

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/couchcryptid/incident-enrichment-service/internal/adapter/upstream"
	"github.com/couchcryptid/incident-enrichment-service/internal/domain"
)

// DefaultBaseURL is the ACS 5-year dataset, which carries NAME for every county.
const DefaultBaseURL = "https://api.census.gov/data/2023/acs/acs5"

// Client implements domain.AreaNamer.
type Client struct {
	http    *upstream.Client
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

// NewClient creates a census client. apiKey may be empty; the API serves a
// limited number of keyless requests per day.
func NewClient(hc *upstream.Client, baseURL, apiKey string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:    hc,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		logger:  logger,
	}
}

// AreaName returns the county name for a 5-digit GEOID, such as
// "Travis County, Texas" for 48453. A code the API does not know yields an
// empty name and no error.
func (c *Client) AreaName(ctx context.Context, code string) (string, error) {
	state, county, err := splitGEOID(code)
	if err != nil {
		return "", err
	}

	params := url.Values{
		"get": {"NAME"},
		"for": {"county:" + county},
		"in":  {"state:" + state},
	}
	if c.apiKey != "" {
		params.Set("key", c.apiKey)
	}

	resp, err := c.http.Get(ctx, c.baseURL+"?"+params.Encode())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		c.logger.Debug("census has no county", "code", code)
		return "", nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: census: %w", domain.ErrSourceUnavailable,
			&upstream.StatusError{Code: resp.StatusCode, Body: string(body)})
	}

	var rows [][]string
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return "", fmt.Errorf("%w: census: decode response: %w", domain.ErrSourceUnavailable, err)
	}
	if len(rows) < 2 || len(rows[1]) == 0 {
		return "", nil
	}
	return strings.TrimSpace(rows[1][0]), nil
}

// splitGEOID splits a county GEOID into its 2-digit state and 3-digit
// county FIPS parts.
func splitGEOID(code string) (state, county string, err error) {
	code = strings.TrimSpace(code)
	if len(code) != 5 || strings.Trim(code, "0123456789") != "" {
		return "", "", fmt.Errorf("census: %q is not a 5-digit county GEOID", code)
	}
	return code[:2], code[2:], nil
}
