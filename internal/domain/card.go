package domain

import (
	"fmt"
	"strings"
	"time"
)

// OutcomeStatus describes how trustworthy an enrichment value is.
type OutcomeStatus string

const (
	StatusOK       OutcomeStatus = "ok"
	StatusPartial  OutcomeStatus = "partial"
	StatusFallback OutcomeStatus = "fallback"
	StatusDefault  OutcomeStatus = "default"
)

// NeutralPercentile is the SVI percentile reported when vulnerability is unknown.
const NeutralPercentile = 0.5

// Outcome is an enrichment value plus the status it was obtained with.
type Outcome[T any] struct {
	Value  T             `json:"value"`
	Status OutcomeStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
}

// Known wraps an authoritative value.
func Known[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v, Status: StatusOK}
}

// Defaulted wraps a documented default used because err prevented a real value.
func Defaulted[T any](v T, err error) Outcome[T] {
	o := Outcome[T]{Value: v, Status: StatusDefault}
	if err != nil {
		o.Reason = err.Error()
	}
	return o
}

// Degraded reports whether the value is anything other than authoritative.
func (o Outcome[T]) Degraded() bool {
	return o.Status != StatusOK
}

// AdminArea is an administrative unit overlapping an incident.
type AdminArea struct {
	Code string `json:"code"`
	Name string `json:"name,omitempty"`
}

// Label returns the display name, falling back to the code.
func (a AdminArea) Label() string {
	if a.Name == "" {
		return a.Code
	}
	return a.Name
}

// FacilityRecord is a critical facility near an incident.
type FacilityRecord struct {
	Name     string  `json:"name"`
	City     string  `json:"city,omitempty"`
	State    string  `json:"state,omitempty"`
	Category string  `json:"category,omitempty"`
	Beds     int     `json:"beds,omitempty"`
	Website  string  `json:"website,omitempty"`
	Lat      float64 `json:"lat,omitempty"`
	Lon      float64 `json:"lon,omitempty"`
}

// String renders the facility as a one-line label with its place and bed count.
func (f FacilityRecord) String() string {
	var b strings.Builder
	b.WriteString(f.Name)
	if place := joinNonEmpty(", ", f.City, f.State); place != "" {
		fmt.Fprintf(&b, " (%s)", place)
	}
	if f.Category != "" {
		fmt.Fprintf(&b, " — %s", f.Category)
	}
	if f.Beds > 0 {
		fmt.Fprintf(&b, ", beds: %d", f.Beds)
	}
	return b.String()
}

// VulnerabilityResult summarizes social vulnerability over an area.
type VulnerabilityResult struct {
	Percentile      float64 `json:"percentile"`
	TotalPopulation int64   `json:"total_population"`
	Samples         int     `json:"samples"`
}

// PopulationEstimate is a population total over the polygonal parts of a
// geometry. FailedParts counts parts for which no tier produced a value.
type PopulationEstimate struct {
	Total       float64 `json:"total"`
	Parts       int     `json:"parts"`
	FailedParts int     `json:"failed_parts,omitempty"`
}

// EvidenceLink points at the source material behind an incident.
type EvidenceLink struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

// IncidentCard is the enriched summary emitted for each hazard report.
type IncidentCard struct {
	IncidentID    string                       `json:"incident_id"`
	HazardType    HazardType                   `json:"type"`
	Severity      Severity                     `json:"severity"`
	Timestamp     time.Time                    `json:"timestamp"`
	Title         string                       `json:"title,omitempty"`
	GeometryRef   string                       `json:"geometry_ref"`
	AdminAreas    Outcome[[]AdminArea]         `json:"admin_areas"`
	Population    Outcome[float64]             `json:"population_exposed"`
	Vulnerability Outcome[VulnerabilityResult] `json:"vulnerability"`
	Facilities    Outcome[[]FacilityRecord]    `json:"nearby_facilities"`
	Sources       []EvidenceLink               `json:"sources"`
	BuiltAt       time.Time                    `json:"built_at"`
}

// NewIncidentCard starts a card for report with every enrichment field at its
// default. geometryRef is the registry key of the geometry used for enrichment.
func NewIncidentCard(report HazardReport, geometryRef string) IncidentCard {
	card := IncidentCard{
		IncidentID:    report.ID,
		HazardType:    report.HazardType,
		Severity:      report.Severity,
		Timestamp:     report.Timestamp,
		Title:         report.Title,
		GeometryRef:   geometryRef,
		AdminAreas:    Defaulted([]AdminArea{}, nil),
		Population:    Defaulted(0.0, nil),
		Vulnerability: Defaulted(VulnerabilityResult{Percentile: NeutralPercentile}, nil),
		Facilities:    Defaulted([]FacilityRecord{}, nil),
		Sources:       []EvidenceLink{},
		BuiltAt:       now(),
	}
	if card.HazardType == "" {
		card.HazardType = HazardUnknown
	}
	if card.Severity == "" {
		card.Severity = SeverityUnknown
	}
	if report.EvidenceURL != "" {
		card.Sources = append(card.Sources, EvidenceLink{
			Label: fmt.Sprintf("%s:%s", card.HazardType, report.ID),
			URL:   report.EvidenceURL,
		})
	}
	return card
}

// DegradedFields lists the JSON names of enrichment fields that are not
// authoritative.
func (c IncidentCard) DegradedFields() []string {
	var out []string
	if c.AdminAreas.Degraded() {
		out = append(out, "admin_areas")
	}
	if c.Population.Degraded() {
		out = append(out, "population_exposed")
	}
	if c.Vulnerability.Degraded() {
		out = append(out, "vulnerability")
	}
	if c.Facilities.Degraded() {
		out = append(out, "nearby_facilities")
	}
	return out
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
