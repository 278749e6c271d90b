package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Markdown renders the card as a human-readable summary.
func (c IncidentCard) Markdown() string {
	var b strings.Builder

	fmt.Fprintf(&b, "### %s — %s\n\n", strings.ToUpper(string(c.HazardType)), strings.ToUpper(string(c.Severity)))
	if c.Title != "" {
		fmt.Fprintf(&b, "**%s**\n\n", c.Title)
	}
	fmt.Fprintf(&b, "- **Incident:** %s\n", c.IncidentID)
	fmt.Fprintf(&b, "- **When:** %s\n", c.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Admin areas:** %s%s\n", adminList(c.AdminAreas.Value), statusSuffix(c.AdminAreas.Status))
	fmt.Fprintf(&b, "- **Population exposed:** %s%s\n", formatCount(c.Population.Value), statusSuffix(c.Population.Status))
	fmt.Fprintf(&b, "- **SVI percentile:** %.2f%s\n", c.Vulnerability.Value.Percentile, statusSuffix(c.Vulnerability.Status))
	fmt.Fprintf(&b, "- **Geometry:** `%s`\n", c.GeometryRef)

	b.WriteString("- **Nearby facilities:**")
	if len(c.Facilities.Value) == 0 {
		b.WriteString(" None")
	}
	b.WriteString(statusSuffix(c.Facilities.Status))
	b.WriteString("\n")
	for _, f := range c.Facilities.Value {
		fmt.Fprintf(&b, "  - %s\n", f)
	}

	b.WriteString("- **Sources:**")
	if len(c.Sources) == 0 {
		b.WriteString(" None")
	}
	b.WriteString("\n")
	for _, s := range c.Sources {
		fmt.Fprintf(&b, "  - [%s](%s)\n", s.Label, s.URL)
	}

	return b.String()
}

func adminList(areas []AdminArea) string {
	if len(areas) == 0 {
		return "None"
	}
	labels := make([]string, len(areas))
	for i, a := range areas {
		labels[i] = a.Label()
	}
	return strings.Join(labels, ", ")
}

func statusSuffix(s OutcomeStatus) string {
	if s == StatusOK || s == "" {
		return ""
	}
	return fmt.Sprintf(" _(%s)_", s)
}

// formatCount rounds v and inserts thousands separators: 1234567.4 -> "1,234,567".
func formatCount(v float64) string {
	digits := strconv.FormatInt(int64(math.Round(math.Abs(v))), 10)
	var b strings.Builder
	if v <= -0.5 {
		b.WriteByte('-')
	}
	lead := len(digits) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(digits[:lead])
	for i := lead; i < len(digits); i += 3 {
		b.WriteByte(',')
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
