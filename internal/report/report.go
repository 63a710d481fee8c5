// Package report renders interview findings as PDF artifacts and archives
// them under the patient's record.
package report

import (
	"fmt"
	"strings"
	"time"
)

// Report holds the structured findings of one completed interview.
type Report struct {
	SessionID       string
	PatientID       string
	ChiefComplaint  string
	History         string
	Assessment      string
	Summary         string
	Recommendations string
	Turns           int
	GeneratedAt     time.Time
}

// Section headings recognized in writer output. Lines are matched after
// stripping list markers, numbering and trailing colons.
var sectionHeadings = map[string]func(*Report) *string{
	"CHIEF COMPLAINT":                        func(r *Report) *string { return &r.ChiefComplaint },
	"HISTORY OF PRESENT ILLNESS":             func(r *Report) *string { return &r.History },
	"PRELIMINARY DIAGNOSTIC ASSESSMENT":      func(r *Report) *string { return &r.Assessment },
	"CLINICAL SUMMARY":                       func(r *Report) *string { return &r.Summary },
	"RECOMMENDATIONS FOR FURTHER EVALUATION": func(r *Report) *string { return &r.Recommendations },
}

// ParseBody splits free-form writer output into the report's sections.
// Text before the first recognized heading is discarded; if no heading is
// recognized at all the whole body becomes the clinical summary.
func (r *Report) ParseBody(body string) {
	var current *string
	matched := false

	for _, line := range strings.Split(body, "\n") {
		if target, ok := matchHeading(line); ok {
			current = target(r)
			matched = true
			continue
		}
		if current == nil {
			continue
		}
		if *current == "" {
			*current = strings.TrimSpace(line)
		} else {
			*current += "\n" + strings.TrimSpace(line)
		}
	}

	if !matched {
		r.Summary = strings.TrimSpace(body)
		return
	}

	for _, target := range sectionHeadings {
		s := target(r)
		*s = strings.TrimSpace(*s)
	}
}

func matchHeading(line string) (func(*Report) *string, bool) {
	normalized := strings.ToUpper(normalizeHeading(line))
	target, ok := sectionHeadings[normalized]
	return target, ok
}

// normalizeHeading strips markdown emphasis, list numbering and trailing
// punctuation so "## 2. Chief Complaint:" matches "CHIEF COMPLAINT".
func normalizeHeading(line string) string {
	s := strings.TrimSpace(line)
	s = strings.TrimLeft(s, "#*-– ")
	s = strings.TrimLeft(s, "0123456789.) ")
	s = strings.TrimRight(s, ":* ")
	return strings.TrimSpace(s)
}

// Filename returns the artifact name for this report, derived from the
// generation time and a shortened chief complaint.
func (r *Report) Filename() string {
	return fmt.Sprintf("medical_report_%s_%s.pdf",
		r.GeneratedAt.Format("20060102_150405"), slugify(r.ChiefComplaint))
}

func slugify(chiefComplaint string) string {
	s := strings.TrimSpace(chiefComplaint)
	if s == "" {
		return "symptom_report"
	}
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	if len(s) > 30 {
		s = s[:30]
	}
	return s
}
