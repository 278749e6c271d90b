// Package arcgis queries ArcGIS REST feature layers by envelope and builds
// the vulnerability and facility sources on top of them.
package arcgis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/incident-enrichment-service/internal/adapter/upstream"
	"github.com/couchcryptid/incident-enrichment-service/internal/domain"
)

const (
	defaultPageSize = 2000
	defaultMaxPages = 10
	wgs84           = 4326
)

// Feature is one row of a feature query. Geometry is never requested.
type Feature struct {
	Attributes map[string]any `json:"attributes"`
}

type queryResponse struct {
	Features              []Feature `json:"features"`
	ExceededTransferLimit bool      `json:"exceededTransferLimit"`
	Error                 *apiError `json:"error"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type envelope struct {
	XMin             float64          `json:"xmin"`
	YMin             float64          `json:"ymin"`
	XMax             float64          `json:"xmax"`
	YMax             float64          `json:"ymax"`
	SpatialReference spatialReference `json:"spatialReference"`
}

type spatialReference struct {
	WKID int `json:"wkid"`
}

// Client runs envelope-intersects queries against feature layers.
type Client struct {
	http     *upstream.Client
	pageSize int
	maxPages int
}

// NewClient creates a Client that sends requests through hc.
func NewClient(hc *upstream.Client) *Client {
	return &Client{
		http:     hc,
		pageSize: defaultPageSize,
		maxPages: defaultMaxPages,
	}
}

// QueryEnvelope returns the attributes of every feature in layerURL whose
// geometry intersects env. Pages are followed while the server reports
// exceededTransferLimit, up to a fixed page cap.
func (c *Client) QueryEnvelope(ctx context.Context, layerURL string, env orb.Bound, outFields []string) ([]Feature, error) {
	endpoint := strings.TrimRight(layerURL, "/") + "/query"

	var features []Feature
	for page := 0; page < c.maxPages; page++ {
		params, err := queryParams(env, outFields, page*c.pageSize, c.pageSize)
		if err != nil {
			return nil, err
		}

		var resp queryResponse
		if err := c.http.GetJSON(ctx, endpoint+"?"+params.Encode(), &resp); err != nil {
			return nil, err
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("%w: arcgis error %d: %s", domain.ErrSourceUnavailable, resp.Error.Code, resp.Error.Message)
		}

		features = append(features, resp.Features...)
		if !resp.ExceededTransferLimit || len(resp.Features) == 0 {
			break
		}
	}
	return features, nil
}

func queryParams(env orb.Bound, outFields []string, offset, count int) (url.Values, error) {
	geometry, err := json.Marshal(envelope{
		XMin:             env.Min.Lon(),
		YMin:             env.Min.Lat(),
		XMax:             env.Max.Lon(),
		YMax:             env.Max.Lat(),
		SpatialReference: spatialReference{WKID: wgs84},
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	v := url.Values{}
	v.Set("f", "json")
	v.Set("where", "1=1")
	v.Set("geometryType", "esriGeometryEnvelope")
	v.Set("geometry", string(geometry))
	v.Set("inSR", strconv.Itoa(wgs84))
	v.Set("spatialRel", "esriSpatialRelIntersects")
	v.Set("returnGeometry", "false")
	v.Set("outFields", strings.Join(outFields, ","))
	v.Set("resultRecordCount", strconv.Itoa(count))
	if offset > 0 {
		v.Set("resultOffset", strconv.Itoa(offset))
	}
	return v, nil
}

// Number reads a numeric attribute. Numeric strings are accepted.
func (f Feature) Number(key string) (float64, bool) {
	switch v := f.Attributes[key].(type) {
	case float64:
		return v, true
	case json.Number:
		n, err := v.Float64()
		return n, err == nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Text reads a text attribute, formatting numbers without decoration.
func (f Feature) Text(key string) string {
	switch v := f.Attributes[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
