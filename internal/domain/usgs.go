package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// usgsFeed is the subset of the USGS earthquake GeoJSON summary feed we read.
// https://earthquake.usgs.gov/earthquakes/feed/v1.0/geojson.php
type usgsFeed struct {
	Type     string        `json:"type"`
	Features []usgsFeature `json:"features"`
}

type usgsFeature struct {
	ID         string `json:"id"`
	Properties struct {
		Mag   *float64 `json:"mag"`
		Place string   `json:"place"`
		Time  int64    `json:"time"` // epoch milliseconds
		URL   string   `json:"url"`
		Title string   `json:"title"`
	} `json:"properties"`
	Geometry struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"` // lon, lat, depth
	} `json:"geometry"`
}

// ReportsFromUSGSFeed converts a USGS summary feed into hazard reports.
// Features without a usable epicentre are skipped.
func ReportsFromUSGSFeed(data []byte) ([]HazardReport, error) {
	var feed usgsFeed
	if err := json.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("parse usgs feed: %w", err)
	}
	if !strings.EqualFold(feed.Type, "FeatureCollection") {
		return nil, fmt.Errorf("parse usgs feed: unexpected type %q", feed.Type)
	}

	reports := make([]HazardReport, 0, len(feed.Features))
	for _, f := range feed.Features {
		if f.ID == "" || len(f.Geometry.Coordinates) < 2 {
			continue
		}
		lon, lat := f.Geometry.Coordinates[0], f.Geometry.Coordinates[1]
		point := fmt.Sprintf(`{"type":"Point","coordinates":[%g,%g]}`, lon, lat)

		r := HazardReport{
			ID:          f.ID,
			HazardType:  HazardSeismic,
			Severity:    SeverityUnknown,
			Timestamp:   time.UnixMilli(f.Properties.Time).UTC(),
			Title:       usgsTitle(f),
			Description: f.Properties.Place,
			GeoJSON:     json.RawMessage(point),
			EvidenceURL: f.Properties.URL,
			Magnitude:   f.Properties.Mag,
		}
		if r.Magnitude != nil {
			r.Severity = SeverityFromMagnitude(*r.Magnitude)
		}
		reports = append(reports, r)
	}
	return reports, nil
}

func usgsTitle(f usgsFeature) string {
	if f.Properties.Title != "" {
		return f.Properties.Title
	}
	if f.Properties.Mag == nil {
		return f.Properties.Place
	}
	return fmt.Sprintf("M%.1f — %s", *f.Properties.Mag, f.Properties.Place)
}
