package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	// magnitudeRe finds "M6.1", "M 6.1", or "Magnitude 6.1" in free text.
	magnitudeRe = regexp.MustCompile(`\b(?:M\s?|Magnitude\s+)(\d+(?:\.\d+)?)`)

	validate = validator.New(validator.WithRequiredStructEnabled())
)

// hazardReportPayload is the wire shape accepted from feeds. Type labels and
// severities are free text until normalized.
type hazardReportPayload struct {
	ID          string          `json:"id" validate:"max=256"`
	HazardType  string          `json:"hazard_type" validate:"max=64"`
	Type        string          `json:"type" validate:"max=64"`
	Severity    string          `json:"severity" validate:"max=32"`
	Timestamp   *time.Time      `json:"timestamp"`
	Title       string          `json:"title" validate:"max=1024"`
	Description string          `json:"description"`
	GeoJSON     json.RawMessage `json:"geojson"`
	EvidenceURL string          `json:"evidence_url" validate:"omitempty,url"`
	Magnitude   *float64        `json:"magnitude" validate:"omitempty,gte=-2,lte=10"`
}

// ParseRawEvent decodes a source-topic message into a HazardReport. The
// message key supplies the id and the message time supplies the timestamp
// when the payload omits them.
func ParseRawEvent(raw RawEvent) (HazardReport, error) {
	report, err := parseHazardReport(raw.Value)
	if err != nil {
		return HazardReport{}, err
	}
	if report.idGenerated && len(raw.Key) > 0 {
		report.ID = string(raw.Key)
	}
	if report.timestampDefaulted && !raw.Timestamp.IsZero() {
		report.Timestamp = raw.Timestamp.UTC()
	}
	return report.HazardReport, nil
}

type parsedReport struct {
	HazardReport
	idGenerated        bool
	timestampDefaulted bool
}

// ParseHazardReport decodes and validates a JSON hazard report, normalizing
// its type and severity and filling defaults for id and timestamp.
func ParseHazardReport(data []byte) (HazardReport, error) {
	p, err := parseHazardReport(data)
	if err != nil {
		return HazardReport{}, err
	}
	return p.HazardReport, nil
}

func parseHazardReport(data []byte) (parsedReport, error) {
	var p hazardReportPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return parsedReport{}, fmt.Errorf("parse hazard report: %w", err)
	}
	if err := validate.Struct(p); err != nil {
		return parsedReport{}, fmt.Errorf("validate hazard report: %w", err)
	}

	geo, err := unwrapGeoJSON(p.GeoJSON)
	if err != nil {
		return parsedReport{}, fmt.Errorf("parse hazard report geojson: %w", err)
	}

	label := p.HazardType
	if label == "" {
		label = p.Type
	}

	out := parsedReport{
		HazardReport: HazardReport{
			ID:          strings.TrimSpace(p.ID),
			HazardType:  NormalizeHazardType(label),
			Severity:    NormalizeSeverity(p.Severity),
			Title:       strings.TrimSpace(p.Title),
			Description: strings.TrimSpace(p.Description),
			GeoJSON:     geo,
			EvidenceURL: strings.TrimSpace(p.EvidenceURL),
			Magnitude:   p.Magnitude,
		},
	}

	if out.ID == "" {
		out.ID = uuid.NewString()
		out.idGenerated = true
	}
	if p.Timestamp != nil && !p.Timestamp.IsZero() {
		out.Timestamp = p.Timestamp.UTC()
	} else {
		out.Timestamp = now()
		out.timestampDefaulted = true
	}
	if out.Severity == SeverityUnknown && out.Seismic() {
		out.Severity = SeverityFromMagnitude(out.EffectiveMagnitude())
	}

	return out, nil
}

// unwrapGeoJSON accepts the geometry either inline or as a JSON string
// holding GeoJSON text. A JSON null yields nil.
func unwrapGeoJSON(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] != '"' {
		return json.RawMessage(trimmed), nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	return json.RawMessage(s), nil
}

// parseMagnitudeText extracts the first magnitude token from text.
func parseMagnitudeText(text string) (float64, bool) {
	m := magnitudeRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
