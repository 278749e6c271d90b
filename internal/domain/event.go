package domain

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// RawEvent represents an unprocessed message from the source topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// HazardType is the normalized category of an incident.
type HazardType string

const (
	HazardSeismic  HazardType = "seismic"
	HazardWeather  HazardType = "weather"
	HazardTropical HazardType = "tropical"
	HazardWildfire HazardType = "wildfire"
	HazardUnknown  HazardType = "unknown"
)

// Severity is the normalized severity of an incident.
type Severity string

const (
	SeverityUnknown  Severity = "unknown"
	SeverityMinor    Severity = "minor"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
	SeverityExtreme  Severity = "extreme"
)

// DefaultMagnitude is assumed for seismic reports that carry no magnitude.
const DefaultMagnitude = 4.0

// HazardReport is an incident description as received from a feed.
type HazardReport struct {
	ID          string          `json:"id"`
	HazardType  HazardType      `json:"hazard_type"`
	Severity    Severity        `json:"severity"`
	Timestamp   time.Time       `json:"timestamp"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	GeoJSON     json.RawMessage `json:"geojson,omitempty"`
	EvidenceURL string          `json:"evidence_url,omitempty"`
	Magnitude   *float64        `json:"magnitude,omitempty"`
}

// Seismic reports whether the report describes an earthquake.
func (r HazardReport) Seismic() bool {
	return r.HazardType == HazardSeismic
}

// EffectiveMagnitude returns the reported magnitude, else one parsed from the
// title or description, else DefaultMagnitude.
func (r HazardReport) EffectiveMagnitude() float64 {
	if r.Magnitude != nil {
		return *r.Magnitude
	}
	if m, ok := parseMagnitudeText(r.Title); ok {
		return m
	}
	if m, ok := parseMagnitudeText(r.Description); ok {
		return m
	}
	return DefaultMagnitude
}

// NormalizeHazardType maps feed-specific labels onto the HazardType vocabulary.
func NormalizeHazardType(s string) HazardType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "seismic", "earthquake", "quake", "usgs.quake":
		return HazardSeismic
	case "weather", "alert", "storm", "severe_weather", "nws.alert":
		return HazardWeather
	case "tropical", "hurricane", "cyclone", "tropical_storm", "nhc.storm":
		return HazardTropical
	case "wildfire", "fire", "nasa.firms":
		return HazardWildfire
	default:
		return HazardUnknown
	}
}

// NormalizeSeverity lower-cases s and maps anything outside the known scale to unknown.
func NormalizeSeverity(s string) Severity {
	switch sev := Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case SeverityMinor, SeverityModerate, SeveritySevere, SeverityExtreme:
		return sev
	default:
		return SeverityUnknown
	}
}

// SeverityFromMagnitude classifies an earthquake by magnitude.
func SeverityFromMagnitude(m float64) Severity {
	switch {
	case m >= 7:
		return SeverityExtreme
	case m >= 6:
		return SeveritySevere
	case m >= 5:
		return SeverityModerate
	case m >= 4:
		return SeverityMinor
	default:
		return SeverityUnknown
	}
}
